package encoder

import (
	"fmt"

	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/cellseg/base"
)

// vgg16BNConfig is the torchvision `vgg16_bn` feature configuration. 0 marks a
// max-pool. Every conv is followed by BatchNorm2d and ReLU inside `features`.
var vgg16BNConfig = []int64{64, 64, 0, 128, 128, 0, 256, 256, 256, 0, 512, 512, 512, 0, 512, 512, 512, 0}

// vgg16BNStages lists, per stage, the `features` index of each conv layer. The
// matching batch norm sits at index+1.
var vgg16BNStages = [][]int{
	{0, 3},
	{7, 10},
	{14, 17, 20},
	{24, 27, 30},
	{34, 37, 40},
}

// VGGLayer is one conv -> batch norm -> relu unit of the backbone.
type VGGLayer struct {
	Index int
	Conv  *nn.Conv2D
	Norm  *nn.BatchNorm
}

// ForwardT implements ts.ModuleT for VGGLayer struct.
func (l *VGGLayer) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	conv := l.Conv.Forward(x)
	bn := l.Norm.ForwardT(conv, train)
	conv.MustDrop()

	return bn.MustRelu(true)
}

// VGGStage is a run of VGGLayers between two max-pools.
type VGGStage struct {
	Layers []*VGGLayer
}

// ForwardT implements ts.ModuleT for VGGStage struct.
func (s *VGGStage) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	out := s.Layers[0].ForwardT(x, train)
	for _, l := range s.Layers[1:] {
		next := l.ForwardT(out, train)
		out.MustDrop()
		out = next
	}

	return out
}

// VGG16BN is the convolutional part of VGG16 with batch norm, split into five named
// stages. Variables are created under `features.<index>` so that a checkpoint
// converted from torchvision's vgg16_bn loads by name.
type VGG16BN struct {
	Stage1 *VGGStage
	Stage2 *VGGStage
	Stage3 *VGGStage
	Stage4 *VGGStage
	Stage5 *VGGStage
}

// NewVGG16BN creates a VGG16BN encoder. It fails when the named stage table does not
// agree with the layer layout derived from the feature configuration.
func NewVGG16BN(p *nn.Path, cIn int64) (*VGG16BN, error) {
	layout, err := vggLayout(vgg16BNConfig)
	if err != nil {
		return nil, err
	}
	if err := checkStages(layout, vgg16BNStages); err != nil {
		return nil, err
	}

	features := p.Sub("features")
	var stages []*VGGStage
	in := cIn
	for _, idxs := range vgg16BNStages {
		stage := &VGGStage{}
		for _, idx := range idxs {
			out := layout[idx]
			stage.Layers = append(stage.Layers, &VGGLayer{
				Index: idx,
				Conv:  base.Conv2d(features.Sub(fmt.Sprint(idx)), in, out, 3, 1, 1),
				Norm:  nn.BatchNorm2D(features.Sub(fmt.Sprint(idx+1)), out, nn.DefaultBatchNormConfig()),
			})
			in = out
		}
		stages = append(stages, stage)
	}

	return &VGG16BN{
		Stage1: stages[0],
		Stage2: stages[1],
		Stage3: stages[2],
		Stage4: stages[3],
		Stage5: stages[4],
	}, nil
}

// vggLayout maps the `features` index of every conv layer to its output channels.
func vggLayout(cfg []int64) (map[int]int64, error) {
	layout := make(map[int]int64)
	idx := 0
	for _, v := range cfg {
		switch {
		case v == 0:
			idx++
		case v > 0:
			layout[idx] = v
			idx += 3 // conv, bn, relu
		default:
			return nil, fmt.Errorf("invalid vgg config value %d", v)
		}
	}

	return layout, nil
}

func checkStages(layout map[int]int64, stages [][]int) error {
	n := 0
	for i, idxs := range stages {
		if len(idxs) == 0 {
			return fmt.Errorf("vgg stage %d: no layers", i+1)
		}
		for _, idx := range idxs {
			if _, ok := layout[idx]; !ok {
				return fmt.Errorf("vgg stage %d: features.%d is not a conv layer", i+1, idx)
			}
			n++
		}
	}
	if n != len(layout) {
		return fmt.Errorf("vgg stages cover %d conv layers, layout has %d", n, len(layout))
	}

	return nil
}

var _ Encoder = (*VGG16BN)(nil)

// Stages returns the five stages, shallowest first.
func (m *VGG16BN) Stages() []*VGGStage {
	return []*VGGStage{m.Stage1, m.Stage2, m.Stage3, m.Stage4, m.Stage5}
}

// Channels implements Encoder interface for VGG16BN.
func (m *VGG16BN) Channels() []int64 {
	return []int64{64, 128, 256, 512, 512}
}

// ForwardAll implements Encoder interface for VGG16BN.
// It returns the activation of every stage before pooling:
// [N 64 H W], [N 128 H/2 W/2], [N 256 H/4 W/4], [N 512 H/8 W/8], [N 512 H/16 W/16]
func (m *VGG16BN) ForwardAll(x *ts.Tensor, train bool) []*ts.Tensor {
	var feats []*ts.Tensor
	in := x
	for i, s := range m.Stages() {
		out := s.ForwardT(in, train)
		if i > 0 {
			in.MustDrop()
		}
		feats = append(feats, out)
		if i < 4 {
			in = base.MaxPool2x2(out)
		}
	}

	return feats
}

func (m *VGG16BN) parameters() []*ts.Tensor {
	var params []*ts.Tensor
	for _, s := range m.Stages() {
		for _, l := range s.Layers {
			params = append(params, l.Conv.Ws, l.Norm.Ws, l.Norm.Bs)
			if l.Conv.Bs != nil {
				params = append(params, l.Conv.Bs)
			}
		}
	}
	return params
}

// Freeze disables gradient updates on every backbone weight and bias.
func (m *VGG16BN) Freeze() {
	for _, x := range m.parameters() {
		x.MustSetRequiresGrad(false, false).MustDrop()
	}
}

// NumParameters returns the number of learnable scalars in the backbone, frozen or not.
func (m *VGG16BN) NumParameters() int64 {
	var n int64
	for _, x := range m.parameters() {
		n += base.Numel(x.MustSize())
	}
	return n
}
