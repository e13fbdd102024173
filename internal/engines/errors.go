package engines

import "errors"

var (
	// ErrWrongEngine is returned when a model id's engine prefix does not
	// match the receiving driver.
	ErrWrongEngine = errors.New("model id does not address this engine")
	// ErrUnsupportedAttachment is returned when a requested attachment kind
	// is not advertised by the selected model's capabilities.
	ErrUnsupportedAttachment = errors.New("model does not support this attachment kind")
	// ErrMultipleEmbeddingInputs is returned by drivers (Ollama) whose
	// embeddings endpoint accepts only a single input.
	ErrMultipleEmbeddingInputs = errors.New("this backend accepts only a single embeddings input")
)
