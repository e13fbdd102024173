// Package vllm wires the shared OpenAI-compatible driver to a vLLM server,
// per spec §4.2's "vLLM / LM Studio / llama.cpp: treated as
// OpenAI-compatible" deviation.
package vllm

import (
	"github.com/Unjuno/FLM-sub001/internal/engines"
	"github.com/Unjuno/FLM-sub001/internal/engines/openaicompat"
	"github.com/Unjuno/FLM-sub001/internal/ports"
)

// New constructs a vLLM driver pointed at baseURL (typically
// http://127.0.0.1:8000).
func New(id, baseURL string) engines.Driver {
	return openaicompat.New(id, ports.EngineVLLM, baseURL, false)
}
