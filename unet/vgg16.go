package unet

import (
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/cellseg/base"
	"github.com/sugarme/cellseg/encoder"
)

// DeConvBlock halves the channels of x with a 2x2 transpose convolution, aligns the
// skip tensor to it and applies two conv -> relu -> bn -> dropout stages.
type DeConvBlock struct {
	Up    *base.UpConv2D
	Convs *nn.SequentialT
}

// NewDeConvBlock creates a DeConvBlock. x has cIn channels, skip has cOut.
func NewDeConvBlock(p *nn.Path, cIn, cOut int64) *DeConvBlock {
	convs := nn.SeqT()
	convs.Add(base.Conv2dReluBN(p.Sub("conv1"), cIn/2+cOut, cOut, 0.2))
	convs.Add(base.Conv2dReluBN(p.Sub("conv2"), cOut, cOut, 0.2))

	return &DeConvBlock{
		Up:    base.ConvTranspose2d(p.Sub("up"), cIn, cIn/2, 2),
		Convs: convs,
	}
}

// Forward upsamples x and merges it with skip.
func (b *DeConvBlock) Forward(x, skip *ts.Tensor, train bool) *ts.Tensor {
	up := b.Up.Forward(x)
	aligned := padTo(skip, up)
	cat := ts.MustCat([]ts.Tensor{*up, *aligned}, 1)
	up.MustDrop()
	aligned.MustDrop()
	out := b.Convs.ForwardT(cat, train)
	cat.MustDrop()

	return out
}

// padTo zero-pads x symmetrically on height and width to the spatial size of ref.
// A negative difference crops. Odd differences put the extra row/column last.
// Ref. https://pytorch.org/docs/stable/nn.functional.html#pad
func padTo(x, ref *ts.Tensor) *ts.Tensor {
	xSize := x.MustSize()
	refSize := ref.MustSize()
	diffY := refSize[2] - xSize[2]
	diffX := refSize[3] - xSize[3]
	if diffX == 0 && diffY == 0 {
		return x.MustShallowClone()
	}

	// last dim first: left, right, top, bottom
	pad := []int64{diffX / 2, diffX - diffX/2, diffY / 2, diffY - diffY/2}
	return x.MustConstantPadNd(pad, false)
}

// UNetVgg16 is a U-Net whose encoder is the convolutional part of a (pretrained)
// VGG16 with batch norm.
type UNetVgg16 struct {
	Encoder *encoder.VGG16BN
	deconvs []*DeConvBlock
	outc    *nn.SequentialT
	frozen  bool
}

// NewUNetVgg16 creates UNetVgg16. When frozen is true the encoder parameters do not
// receive gradient updates.
func NewUNetVgg16(p *nn.Path, cIn, classes int64, frozen bool) (*UNetVgg16, error) {
	enc, err := encoder.NewVGG16BN(p, cIn)
	if err != nil {
		return nil, err
	}
	if frozen {
		enc.Freeze()
	}

	deconvs := []*DeConvBlock{
		NewDeConvBlock(p.Sub("deconv1"), 512, 512),
		NewDeConvBlock(p.Sub("deconv2"), 512, 256),
		NewDeConvBlock(p.Sub("deconv3"), 256, 128),
		NewDeConvBlock(p.Sub("deconv4"), 128, 64),
	}

	return &UNetVgg16{
		Encoder: enc,
		deconvs: deconvs,
		outc:    base.NewSegmentationHead(p.Sub("outc"), 64, classes),
		frozen:  frozen,
	}, nil
}

// Name returns the registered name of the model.
func (n *UNetVgg16) Name() string { return "unet_vgg16" }

// Frozen reports whether the encoder is excluded from training.
func (n *UNetVgg16) Frozen() bool { return n.frozen }

// Outputs returns the head kinds in ForwardAll order.
func (n *UNetVgg16) Outputs() []base.Output { return []base.Output{base.Segmentation} }

// Factor is the number height and width of the input must be divisible by.
func (n *UNetVgg16) Factor() int64 { return 32 }

// ForwardT implements ts.ModuleT for UNetVgg16 struct.
func (n *UNetVgg16) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	// x1: [N 64 H W] ... x5: [N 512 H/16 W/16]
	feats := n.Encoder.ForwardAll(x, train)

	z := feats[4]
	for i, d := range n.deconvs {
		next := d.Forward(z, feats[3-i], train)
		z.MustDrop()
		z = next
	}
	out := n.outc.ForwardT(z, train)
	z.MustDrop()
	for _, f := range feats[:4] {
		f.MustDrop()
	}

	return out
}

// ForwardAll returns the single segmentation map in a slice.
func (n *UNetVgg16) ForwardAll(x *ts.Tensor, train bool) []*ts.Tensor {
	return []*ts.Tensor{n.ForwardT(x, train)}
}
