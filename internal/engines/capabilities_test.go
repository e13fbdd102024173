package engines

import "testing"

func TestInferCapabilitiesFromName(t *testing.T) {
	cases := []struct {
		name           string
		wantReasoning  bool
		wantTools      bool
		wantVision     bool
		wantAudio      bool
	}{
		{"deepseek-r1-distill", true, false, false, false},
		{"gpt-4-turbo", false, true, false, false},
		{"llava-13b", false, false, true, false},
		{"whisper-large-v3", false, false, false, true},
		{"mistral-small-instruct", false, true, false, false},
		{"plain-base-model", false, false, false, false},
	}
	for _, c := range cases {
		got := InferCapabilitiesFromName(c.name)
		if got.Reasoning != c.wantReasoning {
			t.Errorf("%s: reasoning = %v, want %v", c.name, got.Reasoning, c.wantReasoning)
		}
		if got.Tools != c.wantTools {
			t.Errorf("%s: tools = %v, want %v", c.name, got.Tools, c.wantTools)
		}
		if got.VisionInputs != c.wantVision {
			t.Errorf("%s: vision = %v, want %v", c.name, got.VisionInputs, c.wantVision)
		}
		if got.AudioInputs != c.wantAudio {
			t.Errorf("%s: audio = %v, want %v", c.name, got.AudioInputs, c.wantAudio)
		}
	}
}

func TestParseModelName(t *testing.T) {
	name, err := ParseModelName("flm://ollama/llama3", "ollama")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "llama3" {
		t.Fatalf("expected llama3, got %s", name)
	}

	if _, err := ParseModelName("flm://vllm/llama3", "ollama"); err == nil {
		t.Fatal("expected error for mismatched engine prefix")
	}
}

func TestFormatModelID(t *testing.T) {
	if got := FormatModelID("ollama", "llama3"); got != "flm://ollama/llama3" {
		t.Fatalf("unexpected model id: %s", got)
	}
}
