// Package model selects and builds the segmentation networks by name.
package model

import (
	"strings"

	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/cellseg/base"
	"github.com/sugarme/cellseg/dcan"
	"github.com/sugarme/cellseg/unet"
)

// Net is a segmentation network with one or more probability map outputs.
type Net interface {
	// ForwardT returns the segmentation map.
	ForwardT(x *ts.Tensor, train bool) *ts.Tensor
	// ForwardAll returns one [N C H W] map per Outputs entry.
	ForwardAll(x *ts.Tensor, train bool) []*ts.Tensor
	Outputs() []base.Output
	Factor() int64
	Name() string
}

// DefaultName is built for names that are not registered.
const DefaultName = "unet"

// Entry is a registered model.
type Entry struct {
	Name        string
	Description string
	Outputs     []base.Output
	Factor      int64
	build       func(p *nn.Path) Net
}

var (
	seg       = []base.Output{base.Segmentation}
	segCon    = []base.Output{base.Segmentation, base.Contour}
	segConMrk = []base.Output{base.Segmentation, base.Contour, base.Marker}
)

var registry = []Entry{
	{"unet", "U-Net", seg, 16, func(p *nn.Path) Net { return unet.NewUNet(p) }},
	{"dunet", "dilated U-Net", seg, 16, func(p *nn.Path) Net { return unet.NewDUNet(p) }},
	{"caunet", "contour aware U-Net", segCon, 16, func(p *nn.Path) Net { return unet.NewCAUNet(p) }},
	{"cadunet", "contour aware dilated U-Net", segCon, 16, func(p *nn.Path) Net { return unet.NewCADUNet(p) }},
	{"camunet", "contour and marker aware U-Net", segConMrk, 16, func(p *nn.Path) Net { return unet.NewCAMUNet(p) }},
	{"camdunet", "contour and marker aware dilated U-Net", segConMrk, 16, func(p *nn.Path) Net { return unet.NewCAMDUNet(p) }},
	{"unet_vgg16", "U-Net with frozen VGG16-BN encoder", seg, 32, buildUNetVgg16},
	{"dcan", "deep contour aware network", segCon, 32, func(p *nn.Path) Net { return dcan.NewDCAN(p, 3, 1) }},
}

func buildUNetVgg16(p *nn.Path) Net {
	net, err := unet.NewUNetVgg16(p, 3, 1, true)
	if err != nil {
		// The layout tables are package constants.
		panic(err)
	}
	return net
}

// Lookup returns the entry registered under name.
func Lookup(name string) (Entry, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, e := range registry {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

// Names returns all registered names in registration order.
func Names() []string {
	names := make([]string, len(registry))
	for i, e := range registry {
		names[i] = e.Name
	}
	return names
}

// Build creates the model registered under name with its parameters under p.
// Unknown names build the default U-Net.
func Build(p *nn.Path, name string) Net {
	e, ok := Lookup(name)
	if !ok {
		e, _ = Lookup(DefaultName)
	}
	return e.build(p)
}
