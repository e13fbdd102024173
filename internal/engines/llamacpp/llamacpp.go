// Package llamacpp wires the shared OpenAI-compatible driver to a
// llama.cpp server binary's OpenAI-compatible HTTP surface.
package llamacpp

import (
	"github.com/Unjuno/FLM-sub001/internal/engines"
	"github.com/Unjuno/FLM-sub001/internal/engines/openaicompat"
	"github.com/Unjuno/FLM-sub001/internal/ports"
)

// New constructs a llama.cpp driver pointed at baseURL (typically
// http://127.0.0.1:8080).
func New(id, baseURL string) engines.Driver {
	return openaicompat.New(id, ports.EngineLlamaCpp, baseURL, false)
}
