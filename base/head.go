package base

import (
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"
)

// Output names a model head.
type Output int

const (
	Segmentation Output = iota
	Contour
	Marker
)

func (o Output) String() string {
	switch o {
	case Segmentation:
		return "segmentation"
	case Contour:
		return "contour"
	case Marker:
		return "marker"
	default:
		return "unknown"
	}
}

// NewSegmentationHead creates a 1x1 convolution followed by a sigmoid, mapping cIn
// feature channels to cOut probability maps.
func NewSegmentationHead(p *nn.Path, cIn, cOut int64) *nn.SequentialT {
	seq := nn.SeqT()
	seq.Add(Conv2d(p, cIn, cOut, 1, 0, 1))
	seq.AddFn(nn.NewFunc(func(xs *ts.Tensor) *ts.Tensor {
		return xs.MustSigmoid(false)
	}))

	return seq
}
