package unet

import (
	"fmt"
	"log"

	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/cellseg/base"
)

// DecoderBranch is one output branch of the U-Net family: four ConvUpBlocks that
// mirror the encoder, then a 1x1 conv and sigmoid.
type DecoderBranch struct {
	ups  []*base.ConvUpBlock
	head *nn.SequentialT
}

// NewDecoderBranch creates a DecoderBranch. channels runs from the bottom of the
// network up, e.g. [256 128 64 32 16]; ups[i] maps channels[i] to channels[i+1].
func NewDecoderBranch(p *nn.Path, channels []int64, classes int64) *DecoderBranch {
	if len(channels) < 2 {
		log.Fatalf("Expected at least 2 decoder channels. Got %v\n", len(channels))
	}

	var ups []*base.ConvUpBlock
	for i := 0; i < len(channels)-1; i++ {
		// u5, u6, u7, u8
		name := fmt.Sprintf("u%d", i+5)
		ups = append(ups, base.NewConvUpBlock(p.Sub(name), channels[i], channels[i+1]))
	}
	head := base.NewSegmentationHead(p.Sub("ce"), channels[len(channels)-1], classes)

	return &DecoderBranch{ups: ups, head: head}
}

// ForwardSkips decodes x using skips ordered shallowest first, as the encoder
// produced them. The deepest skip is consumed first.
func (d *DecoderBranch) ForwardSkips(x *ts.Tensor, skips []*ts.Tensor, train bool) *ts.Tensor {
	if len(skips) != len(d.ups) {
		log.Fatalf("Expected %v skip tensors. Got %v\n", len(d.ups), len(skips))
	}

	out := x
	for i, up := range d.ups {
		next := up.Forward(out, skips[len(skips)-1-i], train)
		if i > 0 {
			out.MustDrop()
		}
		out = next
	}
	probs := d.head.ForwardT(out, train)
	out.MustDrop()

	return probs
}
