package base

import (
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"
)

// Identity is a nn.Module placeholder.
// It forwards the input tensor as such.
type Identity struct{}

// Forward implement nn.Module for Identity struct
func (i *Identity) Forward(x *ts.Tensor) *ts.Tensor {
	return x.MustShallowClone()
}

// ForwardT implement nn.ModuleT for Identity struct.
// The returned tensor shares storage and autograd history with x.
func (i *Identity) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	return x.MustShallowClone()
}

// NewIdentity creates a new Identity struct.
func NewIdentity() *Identity {
	return &Identity{}
}

// Dropout2D zeroes whole channels with probability P during training.
// It is the identity at inference.
type Dropout2D struct {
	P float64
}

// ForwardT implements ts.ModuleT for Dropout2D struct.
func (d *Dropout2D) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	return ts.MustFeatureDropout(x, d.P, train)
}

// NewDropout2D returns a channel dropout module for rate > 0, otherwise Identity.
func NewDropout2D(rate float64) ts.ModuleT {
	if rate <= 0 {
		return NewIdentity()
	}
	return &Dropout2D{P: rate}
}

// Activation is an elementwise non-linearity. It must return a new tensor and
// leave x alive.
type Activation func(x *ts.Tensor) *ts.Tensor

// ReLU is the default Activation.
func ReLU(x *ts.Tensor) *ts.Tensor {
	return x.MustRelu(false)
}

// Conv2d creates Conv2D module.
func Conv2d(p *nn.Path, cIn, cOut, ksize, padding, stride int64) *nn.Conv2D {
	config := nn.DefaultConv2DConfig()
	config.Stride = []int64{stride, stride}
	config.Padding = []int64{padding, padding}

	return nn.NewConv2D(p, cIn, cOut, ksize, config)
}

// DilatedConv2d creates a stride 1 Conv2D with the given dilation.
// Padding equals dilation, so a 3x3 kernel keeps height and width.
func DilatedConv2d(p *nn.Path, cIn, cOut, ksize, dilation int64) *nn.Conv2D {
	config := nn.DefaultConv2DConfig()
	config.Padding = []int64{dilation, dilation}
	config.Dilation = []int64{dilation, dilation}

	return nn.NewConv2D(p, cIn, cOut, ksize, config)
}

// UpConv2D is a transposed convolution whose kernel size equals its stride, so
// height and width grow by exactly Factor. Ws is laid out [in out k k] as libtorch
// conv_transpose2d expects.
type UpConv2D struct {
	Ws     *ts.Tensor
	Bs     *ts.Tensor
	Factor int64
}

// ConvTranspose2d creates an UpConv2D with kernel size and stride both set to
// factor. Output height and width are input height and width times factor.
func ConvTranspose2d(p *nn.Path, cIn, cOut, factor int64) *UpConv2D {
	return &UpConv2D{
		Ws:     p.NewVar("weight", []int64{cIn, cOut, factor, factor}, nn.NewKaimingUniformInit()),
		Bs:     p.NewVar("bias", []int64{cOut}, nn.NewConstInit(0)),
		Factor: factor,
	}
}

// Forward implements ts.Module for UpConv2D struct.
func (c *UpConv2D) Forward(x *ts.Tensor) *ts.Tensor {
	k := []int64{c.Factor, c.Factor}
	return ts.MustConvTranspose2d(x, c.Ws, c.Bs, k, []int64{0, 0}, []int64{0, 0}, 1, []int64{1, 1})
}

// Conv2dReluBN creates a SequentialT of 3x3 Conv2D (padding 1), ReLU, BatchNorm and
// channel dropout, in that order.
func Conv2dReluBN(p *nn.Path, cIn, cOut int64, dropout float64) *nn.SequentialT {
	seq := nn.SeqT()
	seq.Add(Conv2d(p.Sub("conv"), cIn, cOut, 3, 1, 1))
	seq.AddFn(nn.NewFunc(func(xs *ts.Tensor) *ts.Tensor {
		return xs.MustRelu(false)
	}))
	seq.Add(nn.BatchNorm2D(p.Sub("bn"), cOut, nn.DefaultBatchNormConfig()))
	seq.Add(NewDropout2D(dropout))

	return seq
}

// MaxPool2x2 halves height and width.
func MaxPool2x2(x *ts.Tensor) *ts.Tensor {
	return x.MustMaxPool2d([]int64{2, 2}, []int64{2, 2}, []int64{0, 0}, []int64{1, 1}, false, false)
}
