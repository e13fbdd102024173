package openaicompat

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/Unjuno/FLM-sub001/internal/engines"
	"github.com/Unjuno/FLM-sub001/internal/flmerr"
	"github.com/Unjuno/FLM-sub001/internal/ports"
)

// Driver implements engines.Driver for any OpenAI-wire-compatible backend
// (vLLM, LM Studio, llama.cpp). Each concrete package only supplies an
// EngineKind and, for LM Studio, a vision-only restriction; everything
// else is this shared implementation (spec §4.2: "treated as
// OpenAI-compatible").
type Driver struct {
	id           string
	kind         ports.EngineKind
	client       *Client
	degradedAtMs int64
	visionOnly   bool // LM Studio-specific: image attachments require a vision-capable model
}

// New constructs a shared OpenAI-compatible driver.
func New(id string, kind ports.EngineKind, baseURL string, visionOnly bool) *Driver {
	return &Driver{
		id:           id,
		kind:         kind,
		client:       NewClient(id, baseURL, 60*time.Second),
		degradedAtMs: 1500,
		visionOnly:   visionOnly,
	}
}

func (d *Driver) ID() string             { return d.id }
func (d *Driver) Kind() ports.EngineKind { return d.kind }

// SetDialContext implements engines.DialConfigurable, forwarding to the
// embedded transport so the shared driver carries egress support for
// vLLM, LM Studio, and llama.cpp alike.
func (d *Driver) SetDialContext(dial engines.DialFunc) {
	d.client.SetDialContext(dial)
}

func (d *Driver) Capabilities() ports.Capabilities {
	return ports.Capabilities{
		Chat: true, ChatStream: true, Embeddings: true, Tools: true,
		VisionInputs: true, AudioInputs: true,
	}
}

func (d *Driver) HealthCheck(ctx context.Context) (engines.HealthResult, error) {
	latency, err := d.client.HealthCheck(ctx)
	if err != nil {
		return engines.HealthResult{Status: ports.EngineErrorNetwork, Reason: err.Error()}, err
	}
	if latency >= d.degradedAtMs {
		return engines.HealthResult{Status: ports.EngineRunningDegraded, LatencyMs: latency, Reason: "latency above threshold"}, nil
	}
	return engines.HealthResult{Status: ports.EngineRunningHealthy, LatencyMs: latency}, nil
}

func (d *Driver) ListModels(ctx context.Context) ([]ports.ModelInfo, error) {
	resp, err := d.client.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ports.ModelInfo, 0, len(resp.Data))
	for _, m := range resp.Data {
		out = append(out, ports.ModelInfo{
			ModelID:      engines.FormatModelID(d.id, m.ID),
			Name:         m.ID,
			Capabilities: engines.InferCapabilitiesFromName(m.ID),
		})
	}
	return out, nil
}

func (d *Driver) translateMessages(req engines.ChatRequest) ([]ChatMessage, error) {
	out := make([]ChatMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		wm := ChatMessage{Role: m.Role, Text: m.Content}
		for _, a := range m.Attachments {
			switch a.Kind {
			case engines.AttachmentImage:
				if d.visionOnly {
					return nil, flmerr.New(flmerr.KindEngine, "selected model does not advertise vision input support")
				}
				wm.Parts = append(wm.Parts, ContentPart{
					Type:     "image_url",
					ImageURL: &ImageURLPart{URL: "data:" + a.MimeType + ";base64," + base64.StdEncoding.EncodeToString(a.Data)},
				})
			case engines.AttachmentAudio:
				wm.Parts = append(wm.Parts, ContentPart{
					Type:       "input_audio",
					InputAudio: &InputAudioPart{Data: base64.StdEncoding.EncodeToString(a.Data), Format: a.MimeType},
				})
			}
		}
		out = append(out, wm)
	}
	return out, nil
}

func (d *Driver) Chat(ctx context.Context, req engines.ChatRequest) (engines.ChatResponse, error) {
	model, err := engines.ParseModelName(req.ModelID, d.id)
	if err != nil {
		return engines.ChatResponse{}, err
	}
	msgs, err := d.translateMessages(req)
	if err != nil {
		return engines.ChatResponse{}, err
	}
	resp, err := d.client.ChatCompletion(ctx, ChatCompletionRequest{
		Model: model, Messages: msgs, Temperature: req.Temperature, MaxTokens: req.MaxTokens,
	})
	if err != nil {
		return engines.ChatResponse{}, err
	}
	if len(resp.Choices) == 0 {
		return engines.ChatResponse{}, flmerr.Engine(d.id, flmerr.EngineInvalidResponse, nil)
	}
	return engines.ChatResponse{
		Content:      resp.Choices[0].Message.Content,
		FinishReason: resp.Choices[0].FinishReason,
		PromptTokens: resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}

func (d *Driver) ChatStream(ctx context.Context, req engines.ChatRequest) (<-chan engines.StreamChunk, error) {
	model, err := engines.ParseModelName(req.ModelID, d.id)
	if err != nil {
		return nil, err
	}
	msgs, err := d.translateMessages(req)
	if err != nil {
		return nil, err
	}
	body, err := d.client.ChatCompletionStream(ctx, ChatCompletionRequest{
		Model: model, Messages: msgs, Temperature: req.Temperature, MaxTokens: req.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	out := make(chan engines.StreamChunk)
	scanner := NewStreamScanner(body)
	go func() {
		defer close(out)
		defer scanner.Close()
		for {
			chunk, ok := scanner.Next()
			if !ok {
				return
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
			if chunk.IsDone {
				return
			}
		}
	}()
	return out, nil
}

func (d *Driver) Embeddings(ctx context.Context, req engines.EmbeddingsRequest) (engines.EmbeddingsResponse, error) {
	model, err := engines.ParseModelName(req.ModelID, d.id)
	if err != nil {
		return engines.EmbeddingsResponse{}, err
	}
	resp, err := d.client.Embeddings(ctx, EmbeddingsRequest{Model: model, Input: req.Inputs})
	if err != nil {
		return engines.EmbeddingsResponse{}, err
	}
	vecs := make([][]float64, len(resp.Data))
	for i, e := range resp.Data {
		vecs[i] = e.Embedding
	}
	return engines.EmbeddingsResponse{Vectors: vecs}, nil
}

func (d *Driver) TranscribeAudio(ctx context.Context, req engines.TranscriptionRequest) (engines.TranscriptionResponse, error) {
	return engines.TranscriptionResponse{}, flmerr.Engine(d.id, flmerr.EngineUnsupportedOp, nil)
}
