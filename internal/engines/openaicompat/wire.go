// Package openaicompat implements the shared client helper for backends
// that speak the OpenAI HTTP wire format (vLLM, LM Studio, llama.cpp, per
// spec §4.2). It is a helper embedded by each driver, not a superclass: the
// request/response wire types and the streaming SSE scanner here are
// grounded on pkg/providers/openai's transform.go and streaming.go, adapted
// from a single-provider adapter into a backend-agnostic helper three
// separate drivers compose.
package openaicompat

// ChatCompletionRequest is the wire shape POSTed to /v1/chat/completions.
type ChatCompletionRequest struct {
	Model       string          `json:"model"`
	Messages    []ChatMessage   `json:"messages"`
	Temperature *float64        `json:"temperature,omitempty"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
}

// ChatMessage models both plain-text and multimodal content. Content is
// either a bare string (marshaled via MarshalJSON below) or, when
// Parts is non-empty, an array of typed parts per spec §4.2's
// {type:"text"|"image_url"|"input_audio"} shape.
type ChatMessage struct {
	Role    string
	Text    string
	Parts   []ContentPart
}

type ContentPart struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ImageURL  *ImageURLPart   `json:"image_url,omitempty"`
	InputAudio *InputAudioPart `json:"input_audio,omitempty"`
}

type ImageURLPart struct {
	URL string `json:"url"`
}

type InputAudioPart struct {
	Data   string `json:"data"`
	Format string `json:"format"`
}

type wireMessage struct {
	Role    string        `json:"role"`
	Content any           `json:"content"`
}

// toWire renders Content as a bare string when there are no parts, or as an
// array of parts when attachments are present.
func (m ChatMessage) toWire() wireMessage {
	if len(m.Parts) == 0 {
		return wireMessage{Role: m.Role, Content: m.Text}
	}
	parts := make([]ContentPart, 0, len(m.Parts)+1)
	if m.Text != "" {
		parts = append(parts, ContentPart{Type: "text", Text: m.Text})
	}
	parts = append(parts, m.Parts...)
	return wireMessage{Role: m.Role, Content: parts}
}

// ChatCompletionResponse is the unary /v1/chat/completions response.
type ChatCompletionResponse struct {
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

type Choice struct {
	Message      RawMessage `json:"message"`
	FinishReason string     `json:"finish_reason"`
}

type RawMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// StreamResponse is one SSE chunk from /v1/chat/completions with stream=true.
type StreamResponse struct {
	Choices []StreamChoice `json:"choices"`
	Usage   *Usage         `json:"usage,omitempty"`
}

type StreamChoice struct {
	Delta        StreamDelta `json:"delta"`
	FinishReason string      `json:"finish_reason"`
}

type StreamDelta struct {
	Content string `json:"content"`
}

// ModelsResponse is the /v1/models listing.
type ModelsResponse struct {
	Data []ModelEntry `json:"data"`
}

type ModelEntry struct {
	ID string `json:"id"`
}

// EmbeddingsRequest/-Response for /v1/embeddings.
type EmbeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type EmbeddingsResponse struct {
	Data []EmbeddingEntry `json:"data"`
}

type EmbeddingEntry struct {
	Embedding []float64 `json:"embedding"`
}
