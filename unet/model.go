package unet

import (
	"fmt"

	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/cellseg/base"
)

var (
	encoderChannels = []int64{16, 32, 64, 128}
	decoderChannels = []int64{256, 128, 64, 32, 16}
	bottomDilations = []int64{1, 2, 4, 8}
)

// Config selects a member of the U-Net family.
type Config struct {
	InChannels int64
	// Dilated uses dilation 2 in the encoder and replaces the bottom ConvBlock with
	// four DilatedConvBlocks of dilation 1, 2, 4 and 8.
	Dilated bool
	// Outputs lists one decoder branch per entry, in output order.
	Outputs []base.Output
}

// UNet is an encoder-decoder segmentation model with one or more independent
// decoder branches sharing a single encoder.
// Ref: https://arxiv.org/abs/1505.04597
type UNet struct {
	name     string
	down     []*base.ConvBlock
	bottom   ts.ModuleT
	outputs  []base.Output
	branches []*DecoderBranch
}

// New creates a UNet from config. A config without outputs gets a single
// segmentation branch.
func New(p *nn.Path, name string, cfg Config) *UNet {
	if len(cfg.Outputs) == 0 {
		cfg.Outputs = []base.Output{base.Segmentation}
	}

	var opts []base.BlockOption
	if cfg.Dilated {
		opts = append(opts, base.WithDilation(2))
	}

	var down []*base.ConvBlock
	in := cfg.InChannels
	for i, c := range encoderChannels {
		// c1, c2, c3, c4
		down = append(down, base.NewConvBlock(p.Sub(fmt.Sprintf("c%d", i+1)), in, c, opts...))
		in = c
	}

	var bottom ts.ModuleT
	if cfg.Dilated {
		bottom = newDilatedBottom(p, in, decoderChannels[0])
	} else {
		bottom = &convBottom{base.NewConvBlock(p.Sub("cu"), in, decoderChannels[0])}
	}

	var branches []*DecoderBranch
	for _, o := range cfg.Outputs {
		branches = append(branches, NewDecoderBranch(p.Sub(o.String()), decoderChannels, 1))
	}

	return &UNet{
		name:     name,
		down:     down,
		bottom:   bottom,
		outputs:  cfg.Outputs,
		branches: branches,
	}
}

// convBottom is a ConvBlock whose pooled output is discarded.
type convBottom struct {
	block *base.ConvBlock
}

func (b *convBottom) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	pooled, out := b.block.Forward(x, train)
	pooled.MustDrop()

	return out
}

// newDilatedBottom creates four DilatedConvBlocks with growing dilation. Only the
// first changes the channel count.
func newDilatedBottom(p *nn.Path, cIn, cOut int64) *nn.SequentialT {
	seq := nn.SeqT()
	in := cIn
	for i, d := range bottomDilations {
		// d1, d2, d3, d4
		seq.Add(base.NewDilatedConvBlock(p.Sub(fmt.Sprintf("d%d", i+1)), in, cOut, base.WithDilation(d)))
		in = cOut
	}

	return seq
}

// Name returns the registered name of the variant.
func (n *UNet) Name() string { return n.name }

// Outputs returns the head kinds in ForwardAll order.
func (n *UNet) Outputs() []base.Output { return n.outputs }

// Factor is the number height and width of the input must be divisible by.
func (n *UNet) Factor() int64 { return 1 << len(n.down) }

// ForwardAll runs the shared encoder once and every decoder branch on its output.
// Each returned tensor is [N 1 H W] in [0, 1].
func (n *UNet) ForwardAll(x *ts.Tensor, train bool) []*ts.Tensor {
	var skips []*ts.Tensor
	in := x
	for i, c := range n.down {
		pooled, skip := c.Forward(in, train)
		if i > 0 {
			in.MustDrop()
		}
		skips = append(skips, skip)
		in = pooled
	}

	z := n.bottom.ForwardT(in, train)
	in.MustDrop()

	var outs []*ts.Tensor
	for _, b := range n.branches {
		outs = append(outs, b.ForwardSkips(z, skips, train))
	}

	z.MustDrop()
	for _, s := range skips {
		s.MustDrop()
	}

	return outs
}

// ForwardT implements ts.ModuleT for UNet struct. It returns the segmentation map.
func (n *UNet) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	outs := n.ForwardAll(x, train)
	for _, o := range outs[1:] {
		o.MustDrop()
	}

	return outs[0]
}

// NewUNet creates the plain U-Net with a single segmentation output.
func NewUNet(p *nn.Path) *UNet {
	return New(p, "unet", Config{InChannels: 3, Outputs: []base.Output{base.Segmentation}})
}

// NewDUNet creates the dilated U-Net with a single segmentation output.
func NewDUNet(p *nn.Path) *UNet {
	return New(p, "dunet", Config{InChannels: 3, Dilated: true, Outputs: []base.Output{base.Segmentation}})
}

// NewCAUNet creates the contour aware U-Net: segmentation and contour outputs.
func NewCAUNet(p *nn.Path) *UNet {
	return New(p, "caunet", Config{InChannels: 3, Outputs: []base.Output{base.Segmentation, base.Contour}})
}

// NewCADUNet creates the contour aware dilated U-Net.
func NewCADUNet(p *nn.Path) *UNet {
	return New(p, "cadunet", Config{InChannels: 3, Dilated: true, Outputs: []base.Output{base.Segmentation, base.Contour}})
}

// NewCAMUNet creates the contour and marker aware U-Net: segmentation, contour and
// marker outputs.
func NewCAMUNet(p *nn.Path) *UNet {
	return New(p, "camunet", Config{InChannels: 3, Outputs: []base.Output{base.Segmentation, base.Contour, base.Marker}})
}

// NewCAMDUNet creates the contour and marker aware dilated U-Net.
func NewCAMDUNet(p *nn.Path) *UNet {
	return New(p, "camdunet", Config{InChannels: 3, Dilated: true, Outputs: []base.Output{base.Segmentation, base.Contour, base.Marker}})
}
