package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Unjuno/FLM-sub001/internal/engines"
	"github.com/Unjuno/FLM-sub001/internal/flmerr"
	"github.com/Unjuno/FLM-sub001/internal/ports"
)

const engineID = "ollama"

// Driver implements engines.Driver against a local Ollama server. The HTTP
// transport configuration mirrors the pooled-client pattern used by
// openaicompat.Client; the wire format and streaming framing differ
// entirely, so this driver does not embed that client.
type Driver struct {
	id      string
	baseURL string
	http    *http.Client
}

// New constructs an Ollama driver. id is usually "ollama" but is kept
// configurable in case multiple Ollama instances are registered.
func New(id, baseURL string) engines.Driver {
	if id == "" {
		id = engineID
	}
	return &Driver{
		id:      id,
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// SetDialContext implements engines.DialConfigurable, redirecting this
// driver's upstream connections onto dial (direct, Tor, or a custom
// SOCKS5 endpoint), per spec §4.5's egress dispatch.
func (d *Driver) SetDialContext(dial engines.DialFunc) {
	if t, ok := d.http.Transport.(*http.Transport); ok {
		t.DialContext = dial
	}
}

func (d *Driver) ID() string             { return d.id }
func (d *Driver) Kind() ports.EngineKind { return ports.EngineOllama }

func (d *Driver) Capabilities() ports.Capabilities {
	return ports.Capabilities{
		Chat: true, ChatStream: true, Embeddings: true, VisionInputs: true, AudioInputs: true,
	}
}

func (d *Driver) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, flmerr.Engine(d.id, flmerr.EngineInvalidResponse, err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, d.baseURL+path, reader)
	if err != nil {
		return nil, flmerr.Engine(d.id, flmerr.EngineNetwork, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := d.http.Do(req)
	if err != nil {
		return nil, flmerr.Engine(d.id, flmerr.EngineNetwork, err)
	}
	if resp.StatusCode > 299 {
		defer resp.Body.Close()
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, flmerr.Engine(d.id, flmerr.EngineAPI, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, payload))
	}
	return resp, nil
}

func (d *Driver) HealthCheck(ctx context.Context) (engines.HealthResult, error) {
	start := time.Now()
	resp, err := d.do(ctx, http.MethodGet, "/api/tags", nil)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return engines.HealthResult{Status: ports.EngineErrorNetwork, Reason: err.Error()}, err
	}
	resp.Body.Close()
	if latency >= 1500 {
		return engines.HealthResult{Status: ports.EngineRunningDegraded, LatencyMs: latency, Reason: "latency above threshold"}, nil
	}
	return engines.HealthResult{Status: ports.EngineRunningHealthy, LatencyMs: latency}, nil
}

func (d *Driver) ListModels(ctx context.Context) ([]ports.ModelInfo, error) {
	resp, err := d.do(ctx, http.MethodGet, "/api/tags", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, flmerr.Engine(d.id, flmerr.EngineInvalidResponse, err)
	}
	out := make([]ports.ModelInfo, 0, len(tags.Models))
	for _, m := range tags.Models {
		caps := engines.InferCapabilitiesFromName(m.Name)
		out = append(out, ports.ModelInfo{
			ModelID:      engines.FormatModelID(d.id, m.Name),
			Name:         m.Name,
			Capabilities: caps,
		})
	}
	return out, nil
}

func (d *Driver) translateMessages(req engines.ChatRequest) ([]chatMessage, error) {
	out := make([]chatMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		wm := chatMessage{Role: m.Role, Content: m.Content}
		for _, a := range m.Attachments {
			if a.Kind != engines.AttachmentImage {
				continue
			}
			wm.Images = append(wm.Images, base64.StdEncoding.EncodeToString(a.Data))
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
	resp, err := d.do(ctx, http.MethodPost, "/api/chat", chatRequest{
		Model: model, Messages: msgs, Stream: false,
		Options: &chatOptions{Temperature: req.Temperature, NumPredict: req.MaxTokens},
	})
	if err != nil {
		return engines.ChatResponse{}, err
	}
	defer resp.Body.Close()
	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return engines.ChatResponse{}, flmerr.Engine(d.id, flmerr.EngineInvalidResponse, err)
	}
	return engines.ChatResponse{
		Content:      cr.Message.Content,
		FinishReason: cr.DoneReason,
		PromptTokens: cr.PromptEvalCount,
		OutputTokens: cr.EvalCount,
	}, nil
}

// ChatStream reads newline-delimited JSON objects, one chat response chunk
// per line, as Ollama's streaming API emits them (no SSE "data:" framing,
// unlike the OpenAI-shaped backends).
func (d *Driver) ChatStream(ctx context.Context, req engines.ChatRequest) (<-chan engines.StreamChunk, error) {
	model, err := engines.ParseModelName(req.ModelID, d.id)
	if err != nil {
		return nil, err
	}
	msgs, err := d.translateMessages(req)
	if err != nil {
		return nil, err
	}
	resp, err := d.do(ctx, http.MethodPost, "/api/chat", chatRequest{
		Model: model, Messages: msgs, Stream: true,
		Options: &chatOptions{Temperature: req.Temperature, NumPredict: req.MaxTokens},
	})
	if err != nil {
		return nil, err
	}

	out := make(chan engines.StreamChunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			var cr chatResponse
			var chunk engines.StreamChunk
			if err := json.Unmarshal(line, &cr); err != nil {
				chunk = engines.StreamChunk{ParseError: err}
			} else {
				chunk = engines.StreamChunk{
					Delta:        cr.Message.Content,
					IsDone:       cr.Done,
					PromptTokens: cr.PromptEvalCount,
					OutputTokens: cr.EvalCount,
				}
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
	if len(req.Inputs) != 1 {
		return engines.EmbeddingsResponse{}, engines.ErrMultipleEmbeddingInputs
	}
	model, err := engines.ParseModelName(req.ModelID, d.id)
	if err != nil {
		return engines.EmbeddingsResponse{}, err
	}
	resp, err := d.do(ctx, http.MethodPost, "/api/embeddings", embeddingsRequest{Model: model, Input: req.Inputs[0]})
	if err != nil {
		return engines.EmbeddingsResponse{}, err
	}
	defer resp.Body.Close()
	var er embeddingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return engines.EmbeddingsResponse{}, flmerr.Engine(d.id, flmerr.EngineInvalidResponse, err)
	}
	return engines.EmbeddingsResponse{Vectors: [][]float64{er.Embedding}}, nil
}

// TranscribeAudio is only supported when the selected model name contains
// "whisper", per spec §4.2's Ollama-specific gating rule.
func (d *Driver) TranscribeAudio(ctx context.Context, req engines.TranscriptionRequest) (engines.TranscriptionResponse, error) {
	model, err := engines.ParseModelName(req.ModelID, d.id)
	if err != nil {
		return engines.TranscriptionResponse{}, err
	}
	if !strings.Contains(strings.ToLower(model), "whisper") {
		return engines.TranscriptionResponse{}, flmerr.Engine(d.id, flmerr.EngineUnsupportedOp,
			fmt.Errorf("model %q is not a whisper model", model))
	}
	return engines.TranscriptionResponse{}, flmerr.Engine(d.id, flmerr.EngineUnsupportedOp,
		fmt.Errorf("transcription endpoint not yet wired for model %q", model))
}
