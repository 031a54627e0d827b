package ml

import (
	"context"
)

// Tensor is a dense float32 tensor with a row-major layout.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// NewTensor builds a tensor and checks that the data length matches the
// shape product.
func NewTensor(shape []int64, data []float32) Tensor {
	return Tensor{Shape: shape, Data: data}
}

// Int64Tensor carries the integer model inputs (ids, masks).
type Int64Tensor struct {
	Shape []int64
	Data  []int64
}

// Feeds maps input names to tensors for one inference call.
type Feeds struct {
	InputIDs      Int64Tensor
	AttentionMask Int64Tensor
	TokenTypeIDs  Int64Tensor
}

// FeedsFromEncoding packs an encoding into batch-of-one feeds.
func FeedsFromEncoding(enc Encoding) Feeds {
	n := int64(len(enc.InputIDs))
	return Feeds{
		InputIDs:      Int64Tensor{Shape: []int64{1, n}, Data: enc.InputIDs},
		AttentionMask: Int64Tensor{Shape: []int64{1, n}, Data: enc.AttentionMask},
		TokenTypeIDs:  Int64Tensor{Shape: []int64{1, n}, Data: enc.TokenTypeIDs},
	}
}

// InferenceSession abstracts a loaded model. One session exists per model
// and is safe for concurrent use. Run must honor ctx cancellation.
type InferenceSession interface {
	Run(ctx context.Context, feeds Feeds) (map[string]Tensor, error)
	Close() error
}
