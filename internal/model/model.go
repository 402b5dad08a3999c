// Package model implements llama-family decoders over GGUF weights.
package model

// Model represents a generative language model capable of autoregressive inference.
type Model interface {
	// ForwardToken advances the model by one token and returns the logits for the next token.
	// The slice is owned by the model and overwritten on the next call.
	ForwardToken(id int) ([]float32, error)
	// Reset clears the model's internal state (KV cache, etc.)
	Reset()
	// Pos is the number of tokens consumed since the last Reset.
	Pos() int
	// VocabSize is the length of the logits vector.
	VocabSize() int
}
