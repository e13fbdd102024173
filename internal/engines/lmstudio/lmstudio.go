// Package lmstudio wires the shared OpenAI-compatible driver to an LM
// Studio server, enforcing the LM Studio-specific deviation from spec
// §4.2: image inputs are rejected unless the selected model is
// vision-capable.
package lmstudio

import (
	"github.com/Unjuno/FLM-sub001/internal/engines"
	"github.com/Unjuno/FLM-sub001/internal/engines/openaicompat"
	"github.com/Unjuno/FLM-sub001/internal/ports"
)

// New constructs an LM Studio driver pointed at baseURL (typically
// http://127.0.0.1:1234).
func New(id, baseURL string) engines.Driver {
	return openaicompat.New(id, ports.EngineLMStudio, baseURL, true)
}
