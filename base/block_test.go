package base_test

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/cellseg/base"
)

func TestDilatedConvBlockKeepsSize(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	x := ts.MustRand([]int64{2, 3, 32, 32}, gotch.Float, gotch.CPU)
	defer x.MustDrop()

	for _, d := range []int64{1, 2, 4, 8} {
		b := base.NewDilatedConvBlock(vs.Root().Sub(fmt.Sprintf("d%d", d)), 3, 8, base.WithDilation(d))
		ts.NoGrad(func() {
			out := b.ForwardT(x, false)
			if diff := cmp.Diff([]int64{2, 8, 32, 32}, out.MustSize()); diff != "" {
				t.Errorf("dilation %d: shape mismatch (-want +got):\n%s", d, diff)
			}
			out.MustDrop()
		})
	}
}

func TestDropoutSelection(t *testing.T) {
	assert.IsType(t, &base.Identity{}, base.NewDropout2D(0))
	assert.IsType(t, &base.Identity{}, base.NewDropout2D(-1))
	assert.IsType(t, &base.Dropout2D{}, base.NewDropout2D(0.2))

	vs := nn.NewVarStore(gotch.CPU)
	b := base.NewDilatedConvBlock(vs.Root(), 3, 4, base.WithDropout(0))
	assert.IsType(t, &base.Identity{}, b.Drop)
	b = base.NewDilatedConvBlock(vs.Root().Sub("default"), 3, 4)
	assert.Equal(t, &base.Dropout2D{P: 0.1}, b.Drop)
}

func TestDropoutEvalIsIdentity(t *testing.T) {
	x := ts.MustRand([]int64{1, 4, 8, 8}, gotch.Float, gotch.CPU)
	defer x.MustDrop()

	d := base.NewDropout2D(0.5)
	out := d.ForwardT(x, false)
	defer out.MustDrop()

	assert.Equal(t, x.Float64Values(), out.Float64Values())
}

func TestConvTranspose2dScalesBy(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	up := base.ConvTranspose2d(vs.Root(), 4, 2, 4)
	assert.Equal(t, []int64{4, 2, 4, 4}, up.Ws.MustSize())
	assert.Equal(t, []int64{2}, up.Bs.MustSize())

	x := ts.MustRand([]int64{1, 4, 5, 6}, gotch.Float, gotch.CPU)
	defer x.MustDrop()

	out := up.Forward(x)
	defer out.MustDrop()

	assert.Equal(t, []int64{1, 2, 20, 24}, out.MustSize())
}

func TestConvBlock(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	b := base.NewConvBlock(vs.Root(), 3, 16)
	assert.IsType(t, &base.Identity{}, b.Block1.Drop)
	assert.Equal(t, &base.Dropout2D{P: 0.2}, b.Block2.Drop)

	x := ts.MustRand([]int64{1, 3, 64, 48}, gotch.Float, gotch.CPU)
	defer x.MustDrop()

	ts.NoGrad(func() {
		pooled, skip := b.Forward(x, false)
		defer pooled.MustDrop()
		defer skip.MustDrop()

		assert.Equal(t, []int64{1, 16, 32, 24}, pooled.MustSize())
		assert.Equal(t, []int64{1, 16, 64, 48}, skip.MustSize())
	})
}

func TestConvUpBlockRestoresSize(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	c1 := base.NewConvBlock(vs.Root().Sub("c1"), 3, 16)
	c2 := base.NewConvBlock(vs.Root().Sub("c2"), 16, 32)
	u := base.NewConvUpBlock(vs.Root().Sub("u"), 32, 16)

	x := ts.MustRand([]int64{2, 3, 32, 32}, gotch.Float, gotch.CPU)
	defer x.MustDrop()

	ts.NoGrad(func() {
		p1, s1 := c1.Forward(x, false)
		p2, s2 := c2.Forward(p1, false)
		out := u.Forward(s2, s1, false)

		assert.Equal(t, []int64{2, 32, 16, 16}, s2.MustSize())
		assert.Equal(t, []int64{2, 16, 32, 32}, out.MustSize())

		for _, x := range []*ts.Tensor{p1, s1, p2, s2, out} {
			x.MustDrop()
		}
	})
}

func TestCountParameters(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	base.NewDilatedConvBlock(vs.Root(), 3, 16)

	// conv 3*16*3*3 + 16, batch norm weight and bias 2*16; running stats excluded.
	require.Equal(t, int64(480), base.CountParameters(vs))
	// Each variable is counted once, however often the store is queried.
	require.Equal(t, int64(480), base.CountParameters(vs))

	base.NewConvUpBlock(vs.Root().Sub("up"), 32, 16)
	// transpose conv 32*16*2*2 + 16, block1 32*16*9 + 48, block2 16*16*9 + 48
	require.Equal(t, int64(480+2064+4656+2352), base.CountParameters(vs))
}

func TestCountParametersSkipsFrozen(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	bn := nn.BatchNorm2D(vs.Root().Sub("bn"), 16, nn.DefaultBatchNormConfig())
	assert.Equal(t, int64(32), base.CountParameters(vs))

	conv := base.Conv2d(vs.Root().Sub("conv"), 16, 8, 1, 0, 1)
	assert.Equal(t, int64(32+16*8+8), base.CountParameters(vs))

	conv.Ws.MustSetRequiresGrad(false, false).MustDrop()
	conv.Bs.MustSetRequiresGrad(false, false).MustDrop()
	assert.Equal(t, int64(32), base.CountParameters(vs))

	bn.Ws.MustSetRequiresGrad(false, false).MustDrop()
	assert.Equal(t, int64(16), base.CountParameters(vs))
}

func TestRunningStatsChangeOnlyInTraining(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	b := base.NewDilatedConvBlock(vs.Root(), 3, 8, base.WithDropout(0))

	x := ts.MustRand([]int64{4, 3, 16, 16}, gotch.Float, gotch.CPU)
	defer x.MustDrop()

	mean := b.Norm.RunningMean.Float64Values()
	variance := b.Norm.RunningVar.Float64Values()

	var out *ts.Tensor
	ts.NoGrad(func() {
		out = b.ForwardT(x, false)
	})
	out.MustDrop()

	assert.Equal(t, mean, b.Norm.RunningMean.Float64Values())
	assert.Equal(t, variance, b.Norm.RunningVar.Float64Values())

	out = b.ForwardT(x, true)
	out.MustDrop()

	assert.NotEqual(t, mean, b.Norm.RunningMean.Float64Values())
	assert.NotEqual(t, variance, b.Norm.RunningVar.Float64Values())
}

func TestOutputString(t *testing.T) {
	assert.Equal(t, "segmentation", base.Segmentation.String())
	assert.Equal(t, "contour", base.Contour.String())
	assert.Equal(t, "marker", base.Marker.String())
	assert.Equal(t, "unknown", base.Output(9).String())
}

func TestSegmentationHeadRange(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	head := base.NewSegmentationHead(vs.Root(), 8, 1)

	data := make([]float32, 8*16*16)
	for i := range data {
		data[i] = float32((i%7)-3) * 1000
	}
	x := ts.MustOfSlice(data).MustView([]int64{1, 8, 16, 16}, true)
	defer x.MustDrop()

	out := head.ForwardT(x, false)
	defer out.MustDrop()

	assert.Equal(t, []int64{1, 1, 16, 16}, out.MustSize())
	for _, v := range out.Float64Values() {
		require.True(t, v >= 0 && v <= 1, "value %v out of [0, 1]", v)
	}
}
