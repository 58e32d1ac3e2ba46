package dcan

import (
	"fmt"

	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/cellseg/base"
)

const dropout = 0.2

var stageChannels = []int64{64, 128, 256, 512, 512, 1024}

// DeConv upsamples a feature map straight to input resolution with a transpose
// convolution of kernel and stride factor, then applies a conv stage.
type DeConv struct {
	Up   *base.UpConv2D
	Conv *nn.SequentialT
}

// NewDeConv creates a DeConv head.
func NewDeConv(p *nn.Path, cIn, cOut, factor int64) *DeConv {
	return &DeConv{
		Up:   base.ConvTranspose2d(p.Sub("up"), cIn, cOut, factor),
		Conv: base.Conv2dReluBN(p.Sub("conv"), cOut, cOut, dropout),
	}
}

// ForwardT implements ts.ModuleT for DeConv struct.
func (d *DeConv) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	up := d.Up.Forward(x)
	out := d.Conv.ForwardT(up, train)
	up.MustDrop()

	return out
}

// DCAN is the Deep Contour Aware Network. Six conv stages separated by max-pools feed
// segmentation and contour heads after stages 4, 5 and 6. The heads of each kind are
// summed at full resolution before a single sigmoid.
// Ref: https://arxiv.org/abs/1604.02677
type DCAN struct {
	convs    []*nn.SequentialT
	segHeads []*DeConv
	conHeads []*DeConv
}

// NewDCAN creates a DCAN with cIn input channels and classes channels per output.
func NewDCAN(p *nn.Path, cIn, classes int64) *DCAN {
	var convs []*nn.SequentialT
	in := cIn
	for i, c := range stageChannels {
		convs = append(convs, base.Conv2dReluBN(p.Sub(fmt.Sprintf("conv%d", i+1)), in, c, dropout))
		in = c
	}

	// Heads hang off stages 4, 5, 6, i.e. after 3, 4, 5 poolings.
	var segHeads, conHeads []*DeConv
	for i, stage := range []int{3, 4, 5} {
		factor := int64(1) << (i + 3)
		c := stageChannels[stage]
		segHeads = append(segHeads, NewDeConv(p.Sub(fmt.Sprintf("deconv%ds", 3-i)), c, classes, factor))
		conHeads = append(conHeads, NewDeConv(p.Sub(fmt.Sprintf("deconv%dc", 3-i)), c, classes, factor))
	}

	return &DCAN{
		convs:    convs,
		segHeads: segHeads,
		conHeads: conHeads,
	}
}

// Name returns the registered name of the model.
func (m *DCAN) Name() string { return "dcan" }

// Outputs returns the head kinds in ForwardAll order.
func (m *DCAN) Outputs() []base.Output { return []base.Output{base.Segmentation, base.Contour} }

// Factor is the number height and width of the input must be divisible by.
func (m *DCAN) Factor() int64 { return 32 }

// ForwardHeads returns the full-resolution pre-sigmoid predictions of every head,
// ordered by depth: upsampling factor 8, 16, 32.
func (m *DCAN) ForwardHeads(x *ts.Tensor, train bool) (seg, contour []*ts.Tensor) {
	c := m.convs[0].ForwardT(x, train)
	for i := 1; i < len(m.convs); i++ {
		pooled := base.MaxPool2x2(c)
		next := m.convs[i].ForwardT(pooled, train)
		pooled.MustDrop()
		c.MustDrop()
		c = next

		// stages 4, 5, 6
		if h := i - 3; h >= 0 {
			seg = append(seg, m.segHeads[h].ForwardT(c, train))
			contour = append(contour, m.conHeads[h].ForwardT(c, train))
		}
	}
	c.MustDrop()

	return seg, contour
}

// ForwardLogits returns the elementwise sums of the segmentation heads and of the
// contour heads, before the sigmoid.
func (m *DCAN) ForwardLogits(x *ts.Tensor, train bool) (seg, contour *ts.Tensor) {
	segs, cons := m.ForwardHeads(x, train)

	return sum(segs), sum(cons)
}

func sum(xs []*ts.Tensor) *ts.Tensor {
	out := xs[0]
	for _, x := range xs[1:] {
		out = out.MustAdd(x, true)
		x.MustDrop()
	}

	return out
}

// ForwardAll returns the segmentation and contour probability maps.
func (m *DCAN) ForwardAll(x *ts.Tensor, train bool) []*ts.Tensor {
	seg, contour := m.ForwardLogits(x, train)

	return []*ts.Tensor{seg.MustSigmoid(true), contour.MustSigmoid(true)}
}

// ForwardT implements ts.ModuleT for DCAN struct. It returns the segmentation map.
func (m *DCAN) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	outs := m.ForwardAll(x, train)
	outs[1].MustDrop()

	return outs[0]
}
