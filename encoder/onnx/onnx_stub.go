//go:build !cgo

package onnx

import "errors"

// Encoder stub when built without CGO; see onnx.go for the real
// implementation.
type Encoder struct{}

// New returns an error when built without CGO.
func New(_ string, _, _ int, _ Tokenizer, _ ...Option) (*Encoder, error) {
	return nil, errors.New("onnx: encoder requires CGO; build with CGO_ENABLED=1 and the onnxruntime library")
}
