//go:build cgo

package onnx

import (
	"context"
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/hupe1980/maxsim/encoder"
	"github.com/hupe1980/maxsim/internal/math32"
)

var _ encoder.Encoder = (*Encoder)(nil)

// Encoder runs a token-level ONNX model. Tensors are allocated once and
// reused, so Run is serialized by a mutex; concurrent callers queue here
// rather than allocating per call.
type Encoder struct {
	session   *ort.AdvancedSession
	tokenizer Tokenizer
	dim       int
	maxTokens int

	inputIDsTensor      *ort.Tensor[int64]
	attentionMaskTensor *ort.Tensor[int64]
	tokenTypeIDsTensor  *ort.Tensor[int64]
	outputTensor        *ort.Tensor[float32]

	mu sync.Mutex
}

// New loads the model at modelPath. dim is the per-token embedding width,
// maxTokens the fixed sequence length the model was exported with.
func New(modelPath string, dim, maxTokens int, tok Tokenizer, opts ...Option) (*Encoder, error) {
	if modelPath == "" {
		return nil, errors.New("onnx: model path is empty")
	}

	if dim <= 0 || maxTokens <= 0 {
		return nil, fmt.Errorf("onnx: invalid shape: dim %d, max tokens %d", dim, maxTokens)
	}

	if tok == nil {
		return nil, errors.New("onnx: tokenizer is nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.libraryPath != "" {
		ort.SetSharedLibraryPath(cfg.libraryPath)
	}

	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("onnx: initialize runtime: %w", err)
		}
	}

	seqShape := ort.NewShape(1, int64(maxTokens))

	inputIDsTensor, err := ort.NewTensor(seqShape, make([]int64, maxTokens))
	if err != nil {
		return nil, fmt.Errorf("onnx: create input_ids tensor: %w", err)
	}

	attentionMaskTensor, err := ort.NewTensor(seqShape, make([]int64, maxTokens))
	if err != nil {
		inputIDsTensor.Destroy()
		return nil, fmt.Errorf("onnx: create attention_mask tensor: %w", err)
	}

	tokenTypeIDsTensor, err := ort.NewTensor(seqShape, make([]int64, maxTokens))
	if err != nil {
		inputIDsTensor.Destroy()
		attentionMaskTensor.Destroy()
		return nil, fmt.Errorf("onnx: create token_type_ids tensor: %w", err)
	}

	outputTensor, err := ort.NewTensor(ort.NewShape(1, int64(maxTokens), int64(dim)), make([]float32, maxTokens*dim))
	if err != nil {
		inputIDsTensor.Destroy()
		attentionMaskTensor.Destroy()
		tokenTypeIDsTensor.Destroy()
		return nil, fmt.Errorf("onnx: create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		cfg.inputNames[:],
		[]string{cfg.outputName},
		[]ort.ArbitraryTensor{inputIDsTensor, attentionMaskTensor, tokenTypeIDsTensor},
		[]ort.ArbitraryTensor{outputTensor},
		nil,
	)
	if err != nil {
		inputIDsTensor.Destroy()
		attentionMaskTensor.Destroy()
		tokenTypeIDsTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("onnx: create session: %w", err)
	}

	return &Encoder{
		session:             session,
		tokenizer:           tok,
		dim:                 dim,
		maxTokens:           maxTokens,
		inputIDsTensor:      inputIDsTensor,
		attentionMaskTensor: attentionMaskTensor,
		tokenTypeIDsTensor:  tokenTypeIDsTensor,
		outputTensor:        outputTensor,
	}, nil
}

// EncodeDoc returns one unit vector per unmasked document token.
func (e *Encoder) EncodeDoc(ctx context.Context, text string) ([][]float32, error) {
	ids, mask, types := e.tokenizer.TokenizeDoc(text, e.maxTokens)

	return e.run(ctx, ids, mask, types)
}

// EncodeQuery returns one unit vector per unmasked query token.
func (e *Encoder) EncodeQuery(ctx context.Context, text string) ([][]float32, error) {
	ids, mask, types := e.tokenizer.TokenizeQuery(text, e.maxTokens)

	return e.run(ctx, ids, mask, types)
}

// Dim returns the per-token embedding dimension.
func (e *Encoder) Dim() int {
	return e.dim
}

func (e *Encoder) run(ctx context.Context, ids, mask, types []int64) ([][]float32, error) {
	if len(ids) != e.maxTokens || len(mask) != e.maxTokens || len(types) != e.maxTokens {
		return nil, fmt.Errorf("onnx: tokenizer returned %d/%d/%d ids, want %d", len(ids), len(mask), len(types), e.maxTokens)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	copy(e.inputIDsTensor.GetData(), ids)
	copy(e.attentionMaskTensor.GetData(), mask)
	copy(e.tokenTypeIDsTensor.GetData(), types)

	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("onnx: inference: %w", err)
	}

	hidden := e.outputTensor.GetData()

	out := make([][]float32, 0, e.maxTokens)

	for pos := 0; pos < e.maxTokens; pos++ {
		if mask[pos] == 0 {
			continue
		}

		vec := make([]float32, e.dim)
		copy(vec, hidden[pos*e.dim:(pos+1)*e.dim])
		math32.NormalizeInPlace(vec)

		out = append(out, vec)
	}

	return out, nil
}

// Close destroys the session and its tensors.
func (e *Encoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error

	if e.session != nil {
		errs = append(errs, e.session.Destroy())
		e.session = nil
	}

	for _, t := range []*ort.Tensor[int64]{e.inputIDsTensor, e.attentionMaskTensor, e.tokenTypeIDsTensor} {
		if t != nil {
			errs = append(errs, t.Destroy())
		}
	}

	e.inputIDsTensor, e.attentionMaskTensor, e.tokenTypeIDsTensor = nil, nil, nil

	if e.outputTensor != nil {
		errs = append(errs, e.outputTensor.Destroy())
		e.outputTensor = nil
	}

	return errors.Join(errs...)
}
