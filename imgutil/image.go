package imgutil

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	"github.com/chai2010/tiff"
	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
	ts "github.com/sugarme/gotch/tensor"
	"golang.org/x/image/draw"
)

var (
	imageNetMean = []float32{0.485, 0.456, 0.406} // image RGB mean
	imageNetSD   = []float32{0.229, 0.224, 0.225} // image RGB standard error
)

// ReadImage reads image from file. Supports tiff, png, jpeg and the other formats
// known to imaging.
func ReadImage(filename string) (image.Image, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".tiff", ".tif":
		return tiff.Decode(f)
	default:
		return imaging.Decode(f)
	}
}

// SaveImage writes img to filename. `.tif` and `.tiff` files are written by the
// tiff encoder, every other extension by imaging.
func SaveImage(img image.Image, filename string) error {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".tiff", ".tif":
		f, err := os.Create(filename)
		if err != nil {
			return err
		}
		if err := tiff.Encode(f, img, nil); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	default:
		return imaging.Save(img, filename)
	}
}

// FitSize rounds width and height down to the closest multiple of factor, with
// factor as the minimum.
func FitSize(width, height int, factor int64) (int, int) {
	f := int(factor)
	fit := func(v int) int {
		if v < f {
			return f
		}
		return v - v%f
	}
	return fit(width), fit(height)
}

// FitToFactor resizes img so both sides are multiples of factor.
func FitToFactor(img image.Image, factor int64) image.Image {
	b := img.Bounds()
	w, h := FitSize(b.Dx(), b.Dy(), factor)
	if w == b.Dx() && h == b.Dy() {
		return img
	}

	return resize.Resize(uint(w), uint(h), img, resize.Lanczos3)
}

// ToTensor converts img to a [1 3 H W] float tensor with values in [0, 1]. With
// normalize, channels are standardised with the ImageNet mean and deviation.
func ToTensor(img image.Image, normalize bool) *ts.Tensor {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	plane := w * h
	data := make([]float32, 3*plane)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			i := y*w + x
			data[i] = float32(r) / 0xffff
			data[plane+i] = float32(g) / 0xffff
			data[2*plane+i] = float32(bl) / 0xffff
		}
	}
	if normalize {
		for c := 0; c < 3; c++ {
			for i := 0; i < plane; i++ {
				data[c*plane+i] = (data[c*plane+i] - imageNetMean[c]) / imageNetSD[c]
			}
		}
	}

	return ts.MustOfSlice(data).MustView([]int64{1, 3, int64(h), int64(w)}, true)
}

// ProbabilityMap converts a single-channel map ([H W], [1 H W] or [1 1 H W]) with
// values in [0, 1] into a 16-bit gray image of the given size.
func ProbabilityMap(x *ts.Tensor, width, height int) (image.Image, error) {
	size := x.MustSize()
	if len(size) < 2 {
		return nil, fmt.Errorf("probability map: expected at least 2 dims, got %v", size)
	}
	for _, d := range size[:len(size)-2] {
		if d != 1 {
			return nil, fmt.Errorf("probability map: expected a single map, got shape %v", size)
		}
	}

	h, w := int(size[len(size)-2]), int(size[len(size)-1])
	vals := x.Float64Values()
	gray := image.NewGray16(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			gray.SetGray16(x, y, color.Gray16{Y: toGray16(vals[y*w+x])})
		}
	}

	return Scale(gray, width, height), nil
}

// Scale resizes a gray image with bilinear interpolation.
func Scale(img *image.Gray16, width, height int) image.Image {
	b := img.Bounds()
	if b.Dx() == width && b.Dy() == height {
		return img
	}

	dst := image.NewGray16(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)

	return dst
}

func toGray16(v float64) uint16 {
	switch {
	case v <= 0:
		return 0
	case v >= 1:
		return 0xffff
	default:
		return uint16(v*0xffff + 0.5)
	}
}
