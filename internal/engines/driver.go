// Package engines defines the capability-typed driver contract every LLM
// backend implements (C3), plus the shared request/response shapes and the
// model-name capability taxonomy used to infer per-model features. The
// interface shape and its context-first, channel-based streaming method
// follow the Provider contract in pkg/providers/provider.go: a small set of
// methods any concrete backend adapter must implement, with streaming
// delivered over a channel rather than a callback.
package engines

import (
	"context"
	"net"
	"strings"

	"github.com/Unjuno/FLM-sub001/internal/ports"
)

// DialFunc matches http.Transport.DialContext, letting a driver's upstream
// HTTP client be redirected through a different dial path at runtime.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// DialConfigurable is implemented by drivers whose upstream HTTP client
// can be redirected onto a different egress path (direct, Tor, or a
// custom SOCKS5 endpoint) after construction, per spec §4.5's egress
// dispatch. The Engine Service applies the active proxy handle's egress
// dialer to every driver that implements this at start/reload time; a
// driver that never needs rerouting (none currently) can simply omit it.
type DialConfigurable interface {
	SetDialContext(dial DialFunc)
}

// Attachment is a single inline binary payload on a chat message (image or
// audio), always carried as raw bytes plus a MIME type; wire-format
// encoding (base64, field name) is the driver's responsibility.
type Attachment struct {
	Kind     AttachmentKind
	MimeType string
	Data     []byte
}

type AttachmentKind string

const (
	AttachmentImage AttachmentKind = "image"
	AttachmentAudio AttachmentKind = "audio"
)

// Message is the neutral chat message shape every driver translates to its
// backend's wire format.
type Message struct {
	Role        string
	Content     string
	Attachments []Attachment
}

// ChatRequest is the neutral request shape passed to chat/chat_stream.
type ChatRequest struct {
	EngineID    string
	ModelID     string // flm://{engine_id}/{model_name}
	Messages    []Message
	Temperature *float64
	MaxTokens   *int
}

// ChatResponse is the neutral unary chat result.
type ChatResponse struct {
	Content      string
	FinishReason string
	PromptTokens int
	OutputTokens int
}

// StreamChunk is one increment of a streaming chat response. ParseError is
// set when a single chunk failed to parse; per spec §4.2 this is surfaced
// as a stream item rather than aborting the stream.
type StreamChunk struct {
	Delta        string
	IsDone       bool
	PromptTokens int
	OutputTokens int
	ParseError   error
}

// EmbeddingsRequest/-Response carry a single input; multi-input handling is
// a driver-specific restriction (Ollama rejects more than one).
type EmbeddingsRequest struct {
	EngineID string
	ModelID  string
	Inputs   []string
}

type EmbeddingsResponse struct {
	Vectors [][]float64
}

// TranscriptionRequest/-Response cover audio transcription, gated by a
// driver on the model name containing "whisper" for Ollama.
type TranscriptionRequest struct {
	EngineID string
	ModelID  string
	Audio    Attachment
}

type TranscriptionResponse struct {
	Text string
}

// HealthResult is returned by health_check().
type HealthResult struct {
	Status    ports.EngineStatus
	LatencyMs int64
	Reason    string
}

// Driver is the contract every backend adapter (Ollama, vLLM, LM Studio,
// llama.cpp) implements identically, per spec §4.2. Implementations must be
// safe for concurrent use: a single driver instance serves every in-flight
// request for its engine.
type Driver interface {
	ID() string
	Kind() ports.EngineKind
	Capabilities() ports.Capabilities

	HealthCheck(ctx context.Context) (HealthResult, error)
	ListModels(ctx context.Context) ([]ports.ModelInfo, error)

	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error)
	Embeddings(ctx context.Context, req EmbeddingsRequest) (EmbeddingsResponse, error)
	TranscribeAudio(ctx context.Context, req TranscriptionRequest) (TranscriptionResponse, error)
}

// ParseModelName strips the "flm://{engineID}/" prefix from modelID and
// verifies it addresses the given engine, per spec §4.2's mandatory check
// before dispatching chat/chat_stream.
func ParseModelName(modelID, engineID string) (string, error) {
	prefix := "flm://" + engineID + "/"
	if !strings.HasPrefix(modelID, prefix) {
		return "", ErrWrongEngine
	}
	name := strings.TrimPrefix(modelID, prefix)
	if name == "" {
		return "", ErrWrongEngine
	}
	return name, nil
}

// FormatModelID builds the canonical "flm://{engineID}/{name}" model id.
func FormatModelID(engineID, name string) string {
	return "flm://" + engineID + "/" + name
}
