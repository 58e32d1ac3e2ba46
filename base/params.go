package base

import (
	"github.com/sugarme/gotch/nn"
)

// CountParameters returns the number of trainable scalars in vs: the element count
// of every variable that currently requires gradient. Batch norm running statistics
// and frozen weights are not counted.
func CountParameters(vs *nn.VarStore) int64 {
	var n int64
	// Variables returns one shallow clone per named variable.
	for _, x := range vs.Variables() {
		if x.MustRequiresGrad() {
			n += Numel(x.MustSize())
		}
		x.MustDrop()
	}

	return n
}

// Numel is the number of elements of a tensor with the given shape.
func Numel(shape []int64) int64 {
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	return n
}
