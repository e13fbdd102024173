package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Unjuno/FLM-sub001/internal/engines"
	"github.com/Unjuno/FLM-sub001/internal/flmerr"
)

// Client is the shared OpenAI-compatible transport embedded by the vLLM,
// LM Studio, and llama.cpp drivers. Connection pooling and timeout
// configuration follow HTTPProvider in pkg/providers/http_provider.go.
type Client struct {
	EngineID string
	BaseURL  string
	HTTP     *http.Client
}

// NewClient builds a Client with a pooled transport tuned the way
// HTTPProvider configures theirs (bounded idle connections, HTTP/2
// attempted, an overall request timeout).
func NewClient(engineID, baseURL string, timeout time.Duration) *Client {
	transport := &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		EngineID: engineID,
		BaseURL:  baseURL,
		HTTP:     &http.Client{Transport: transport, Timeout: timeout},
	}
}

// SetDialContext redirects this client's upstream connections onto dial,
// implementing engines.DialConfigurable so the Engine Service can apply a
// proxy handle's configured egress path (direct/Tor/custom SOCKS5) to
// every OpenAI-compatible driver sharing this transport.
func (c *Client) SetDialContext(dial engines.DialFunc) {
	if t, ok := c.HTTP.Transport.(*http.Transport); ok {
		t.DialContext = dial
	}
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, flmerr.Engine(c.EngineID, flmerr.EngineInvalidResponse, err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return nil, flmerr.Engine(c.EngineID, flmerr.EngineNetwork, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, flmerr.Engine(c.EngineID, flmerr.EngineNetwork, err)
	}
	if resp.StatusCode > 299 {
		defer resp.Body.Close()
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, flmerr.Engine(c.EngineID, flmerr.EngineAPI,
			fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, payload))
	}
	return resp, nil
}

// ListModels calls GET /v1/models.
func (c *Client) ListModels(ctx context.Context) (ModelsResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/v1/models", nil)
	if err != nil {
		return ModelsResponse{}, err
	}
	defer resp.Body.Close()
	var out ModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return ModelsResponse{}, flmerr.Engine(c.EngineID, flmerr.EngineInvalidResponse, err)
	}
	return out, nil
}

// ChatCompletion calls POST /v1/chat/completions with stream=false.
func (c *Client) ChatCompletion(ctx context.Context, req ChatCompletionRequest) (ChatCompletionResponse, error) {
	req.Stream = false
	resp, err := c.doRequest(ctx, http.MethodPost, "/v1/chat/completions", marshalChatRequest(req))
	if err != nil {
		return ChatCompletionResponse{}, err
	}
	defer resp.Body.Close()
	var out ChatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return ChatCompletionResponse{}, flmerr.Engine(c.EngineID, flmerr.EngineInvalidResponse, err)
	}
	return out, nil
}

// ChatCompletionStream calls POST /v1/chat/completions with stream=true
// and returns the raw response body for the caller's SSE scanner.
func (c *Client) ChatCompletionStream(ctx context.Context, req ChatCompletionRequest) (io.ReadCloser, error) {
	req.Stream = true
	resp, err := c.doRequest(ctx, http.MethodPost, "/v1/chat/completions", marshalChatRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Embeddings calls POST /v1/embeddings.
func (c *Client) Embeddings(ctx context.Context, req EmbeddingsRequest) (EmbeddingsResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/v1/embeddings", req)
	if err != nil {
		return EmbeddingsResponse{}, err
	}
	defer resp.Body.Close()
	var out EmbeddingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return EmbeddingsResponse{}, flmerr.Engine(c.EngineID, flmerr.EngineInvalidResponse, err)
	}
	return out, nil
}

// HealthCheck performs a lightweight GET on /v1/models and reports latency.
func (c *Client) HealthCheck(ctx context.Context) (latencyMs int64, err error) {
	start := time.Now()
	resp, err := c.doRequest(ctx, http.MethodGet, "/v1/models", nil)
	latencyMs = time.Since(start).Milliseconds()
	if err != nil {
		return latencyMs, err
	}
	resp.Body.Close()
	return latencyMs, nil
}

type wireChatRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

func marshalChatRequest(req ChatCompletionRequest) wireChatRequest {
	msgs := make([]wireMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = m.toWire()
	}
	return wireChatRequest{
		Model:       req.Model,
		Messages:    msgs,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      req.Stream,
	}
}
