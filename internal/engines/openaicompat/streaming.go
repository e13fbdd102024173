package openaicompat

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"github.com/Unjuno/FLM-sub001/internal/engines"
)

// StreamScanner reads line-framed SSE "data:" events from an OpenAI-shaped
// streaming response body, following the scan loop in
// pkg/providers/openai/streaming.go: skip blank lines and non-data lines,
// stop at "[DONE]", and surface a malformed chunk as a single stream item
// with ParseError set rather than aborting the whole stream (spec §4.2).
type StreamScanner struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	done    bool
}

func NewStreamScanner(body io.ReadCloser) *StreamScanner {
	return &StreamScanner{body: body, scanner: bufio.NewScanner(body)}
}

// Next returns the next chunk, or ok=false once the stream has ended
// (either via "[DONE]" or EOF).
func (s *StreamScanner) Next() (engines.StreamChunk, bool) {
	if s.done {
		return engines.StreamChunk{}, false
	}
	for s.scanner.Scan() {
		line := s.scanner.Text()
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			s.done = true
			return engines.StreamChunk{IsDone: true}, true
		}

		var chunk StreamResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return engines.StreamChunk{ParseError: err}, true
		}

		out := engines.StreamChunk{}
		if len(chunk.Choices) > 0 {
			out.Delta = chunk.Choices[0].Delta.Content
			out.IsDone = chunk.Choices[0].FinishReason != ""
		}
		if chunk.Usage != nil {
			out.PromptTokens = chunk.Usage.PromptTokens
			out.OutputTokens = chunk.Usage.CompletionTokens
		}
		return out, true
	}
	s.done = true
	return engines.StreamChunk{}, false
}

func (s *StreamScanner) Close() error {
	return s.body.Close()
}
