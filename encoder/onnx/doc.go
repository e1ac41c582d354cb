// Package onnx runs a token-level transformer through ONNX Runtime and
// exposes it as an encoder.Encoder. It needs CGO and the onnxruntime shared
// library; without CGO the constructor returns a build-configuration error.
//
// The model is expected to take BERT-style inputs (input_ids,
// attention_mask, token_type_ids) and emit one hidden vector per token
// position. Masked positions are dropped and the surviving vectors are
// unit-normalized, which is exactly what the quantizer and the MaxSim
// scorer assume.
package onnx

// Tokenizer produces padded BERT-style token ids. Documents and queries may
// be prefixed with different marker tokens, hence the two methods. All three
// returned slices must have length maxTokens.
type Tokenizer interface {
	TokenizeDoc(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
	TokenizeQuery(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
}

type config struct {
	libraryPath string
	inputNames  [3]string
	outputName  string
}

func defaultConfig() config {
	return config{
		inputNames: [3]string{"input_ids", "attention_mask", "token_type_ids"},
		outputName: "last_hidden_state",
	}
}

// Option configures the encoder.
type Option func(*config)

// WithLibraryPath points ONNX Runtime at a shared library outside the
// default search path.
func WithLibraryPath(path string) Option {
	return func(c *config) { c.libraryPath = path }
}

// WithInputNames overrides the model's input tensor names.
func WithInputNames(ids, mask, types string) Option {
	return func(c *config) { c.inputNames = [3]string{ids, mask, types} }
}

// WithOutputName overrides the model's output tensor name.
func WithOutputName(name string) Option {
	return func(c *config) { c.outputName = name }
}
