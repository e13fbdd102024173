package engines

import (
	"strings"

	"github.com/Unjuno/FLM-sub001/internal/ports"
)

// Closed keyword taxonomy for per-model capability inference from a model
// name, per spec §4.2. Matching is case-insensitive substring containment;
// "qwen*-reasoning" and "llama.*vision" are glob-ish hints in the spec text
// that reduce to "contains reasoning"/"contains vision" once the vendor
// prefix is irrelevant to the match.
var (
	reasoningKeywords = []string{"reasoning", "o1", "deepseek-r1", "deepseek-r", "reason", "cot"}
	toolsKeywords     = []string{"tool", "function", "agent", "api", "claude", "gpt-4", "gpt-3.5-turbo", "mistral-large", "mistral-small"}
	visionKeywords    = []string{"vision", "llava", "clip", "blip", "multimodal"}
	audioKeywords     = []string{"whisper", "audio", "speech", "tts", "asr", "transcription"}
)

func containsAny(name string, keywords []string) bool {
	lower := strings.ToLower(name)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// InferCapabilitiesFromName derives per-model capability flags from a
// model's name using the closed taxonomy. Chat is always true (every
// listed model is assumed chat-capable); drivers override flags they know
// more specifically (e.g. embeddings-only models).
func InferCapabilitiesFromName(name string) ports.Capabilities {
	lower := strings.ToLower(name)
	return ports.Capabilities{
		Chat:         true,
		Reasoning:    containsAny(lower, reasoningKeywords) || (strings.Contains(lower, "qwen") && strings.Contains(lower, "reasoning")),
		Tools:        containsAny(lower, toolsKeywords),
		VisionInputs: containsAny(lower, visionKeywords) || (strings.Contains(lower, "llama") && strings.Contains(lower, "vision")),
		AudioInputs:  containsAny(lower, audioKeywords),
	}
}
