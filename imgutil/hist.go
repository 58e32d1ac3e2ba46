package imgutil

import (
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// SaveHistogram plots the distribution of probability values into filename. The
// format follows the file extension (png, svg, pdf...).
func SaveHistogram(values []float64, title, filename string, bins int) error {
	p, err := plot.New()
	if err != nil {
		return err
	}

	v := make(plotter.Values, len(values))
	copy(v, values)

	h, err := plotter.NewHist(v, bins)
	if err != nil {
		return err
	}
	p.Title.Text = title
	p.X.Label.Text = "probability"
	p.Y.Label.Text = "pixels"
	p.Add(h)

	return p.Save(4*vg.Inch, 4*vg.Inch, filename)
}
