package base

import (
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"
)

// BlockConfig holds the tunables of a DilatedConvBlock.
type BlockConfig struct {
	KernelSize int64
	Dropout    float64
	Dilation   int64
	Activation Activation
}

// BlockOption modifies a BlockConfig.
type BlockOption func(*BlockConfig)

// WithKernelSize sets the convolution kernel size.
func WithKernelSize(k int64) BlockOption {
	return func(c *BlockConfig) { c.KernelSize = k }
}

// WithDropout sets the channel dropout rate. A rate <= 0 disables dropout.
func WithDropout(rate float64) BlockOption {
	return func(c *BlockConfig) { c.Dropout = rate }
}

// WithDilation sets the convolution dilation.
func WithDilation(d int64) BlockOption {
	return func(c *BlockConfig) { c.Dilation = d }
}

// WithActivation replaces the default ReLU.
func WithActivation(fn Activation) BlockOption {
	return func(c *BlockConfig) { c.Activation = fn }
}

func newBlockConfig(dropout float64, opts []BlockOption) *BlockConfig {
	c := &BlockConfig{
		KernelSize: 3,
		Dropout:    dropout,
		Dilation:   1,
		Activation: ReLU,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// DilatedConvBlock is conv -> activation -> batch norm -> dropout.
// Height and width are preserved for a 3x3 kernel at any dilation.
type DilatedConvBlock struct {
	Conv       *nn.Conv2D
	Norm       *nn.BatchNorm
	Drop       ts.ModuleT
	activation Activation
}

// NewDilatedConvBlock creates a DilatedConvBlock. Default dropout rate is 0.1.
func NewDilatedConvBlock(p *nn.Path, cIn, cOut int64, opts ...BlockOption) *DilatedConvBlock {
	c := newBlockConfig(0.1, opts)

	return &DilatedConvBlock{
		Conv:       DilatedConv2d(p.Sub("conv"), cIn, cOut, c.KernelSize, c.Dilation),
		Norm:       nn.BatchNorm2D(p.Sub("norm"), cOut, nn.DefaultBatchNormConfig()),
		Drop:       NewDropout2D(c.Dropout),
		activation: c.Activation,
	}
}

// ForwardT implements ts.ModuleT for DilatedConvBlock struct.
func (b *DilatedConvBlock) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	conv := b.Conv.Forward(x)
	act := b.activation(conv)
	conv.MustDrop()
	norm := b.Norm.ForwardT(act, train)
	act.MustDrop()
	out := b.Drop.ForwardT(norm, train)
	norm.MustDrop()

	return out
}

// ConvBlock is two DilatedConvBlocks followed by 2x2 max pooling.
type ConvBlock struct {
	Block1 *DilatedConvBlock
	Block2 *DilatedConvBlock
}

// NewConvBlock creates a ConvBlock. The first inner block never drops out; opts
// apply to the second one, whose default dropout rate is 0.2.
func NewConvBlock(p *nn.Path, cIn, cOut int64, opts ...BlockOption) *ConvBlock {
	c := newBlockConfig(0.2, opts)

	return &ConvBlock{
		Block1: NewDilatedConvBlock(p.Sub("block1"), cIn, cOut, WithDropout(0), WithActivation(c.Activation)),
		Block2: NewDilatedConvBlock(p.Sub("block2"), cOut, cOut,
			WithKernelSize(c.KernelSize), WithDropout(c.Dropout), WithDilation(c.Dilation), WithActivation(c.Activation)),
	}
}

// Forward returns the pooled tensor and the pre-pooling tensor used as skip
// connection. Both have cOut channels.
func (b *ConvBlock) Forward(x *ts.Tensor, train bool) (pooled, skip *ts.Tensor) {
	x1 := b.Block1.ForwardT(x, train)
	skip = b.Block2.ForwardT(x1, train)
	x1.MustDrop()
	pooled = MaxPool2x2(skip)

	return pooled, skip
}

// ConvUpBlock upsamples with a learned 2x2 transpose convolution, concatenates the
// skip tensor and applies two DilatedConvBlocks.
type ConvUpBlock struct {
	Up     *UpConv2D
	Block1 *DilatedConvBlock
	Block2 *DilatedConvBlock
}

// NewConvUpBlock creates a ConvUpBlock. cIn must equal cOut plus the skip channels.
func NewConvUpBlock(p *nn.Path, cIn, cOut int64, opts ...BlockOption) *ConvUpBlock {
	c := newBlockConfig(0.2, opts)

	return &ConvUpBlock{
		Up:     ConvTranspose2d(p.Sub("up"), cIn, cOut, 2),
		Block1: NewDilatedConvBlock(p.Sub("block1"), cIn, cOut, WithDropout(0), WithActivation(c.Activation)),
		Block2: NewDilatedConvBlock(p.Sub("block2"), cOut, cOut,
			WithKernelSize(c.KernelSize), WithDropout(c.Dropout), WithDilation(c.Dilation), WithActivation(c.Activation)),
	}
}

// Forward upsamples x to the skip resolution and merges the two.
// x: [N cIn H W], skip: [N cIn-cOut 2H 2W] => [N cOut 2H 2W]
func (b *ConvUpBlock) Forward(x, skip *ts.Tensor, train bool) *ts.Tensor {
	up := b.Up.Forward(x)
	cat := ts.MustCat([]ts.Tensor{*up, *skip}, 1)
	up.MustDrop()
	x1 := b.Block1.ForwardT(cat, train)
	cat.MustDrop()
	out := b.Block2.ForwardT(x1, train)
	x1.MustDrop()

	return out
}
