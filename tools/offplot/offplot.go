// Package offplot plots the offsets recorded in time-sync files.
package offplot

import (
	"errors"
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"example.com/sensor-timesync/core/sync"
	"example.com/sensor-timesync/core/tsyncfile"
)

const (
	DefaultWidth  = 8 * vg.Inch
	DefaultHeight = 4 * vg.Inch
)

// New returns a plot of the offset (master time minus device time, in ms)
// over device time (in s) of f, together with its Theil-Sen drift fit.
func New(f *tsyncfile.File) (*plot.Plot, error) {
	offsets := f.Offsets()
	if len(offsets) == 0 {
		return nil, errors.New("time-sync file contains no records")
	}
	pts := make(plotter.XYs, len(offsets))
	for i, o := range offsets {
		pts[i].X = float64(o.A) / 1e6
		pts[i].Y = float64(o.B) / 1e3
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s: %s vs. %s", f.ModuleName, f.TimeNames[0], f.TimeNames[1])
	p.X.Label.Text = "device time [s]"
	p.Y.Label.Text = "offset [ms]"
	p.Add(plotter.NewGrid())

	s, err := plotter.NewScatter(pts)
	if err != nil {
		return nil, err
	}
	s.GlyphStyle.Radius = vg.Points(1.5)
	p.Add(s)
	p.Legend.Add("offset", s)

	est, err := sync.EstimateDrift(f.Times())
	if err == nil {
		x0, x1 := pts[0].X, pts[len(pts)-1].X
		fit := plotter.XYs{
			{X: x0, Y: (est.OffsetUsec + est.DriftPPM*x0) / 1e3},
			{X: x1, Y: (est.OffsetUsec + est.DriftPPM*x1) / 1e3},
		}
		l, err := plotter.NewLine(fit)
		if err != nil {
			return nil, err
		}
		l.LineStyle.Color = color.RGBA{R: 200, A: 255}
		l.LineStyle.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		p.Add(l)
		p.Legend.Add(fmt.Sprintf("drift %.2f ppm", est.DriftPPM), l)
	}
	return p, nil
}

// Save plots f into fname. The image format is taken from the file
// extension (png, svg, pdf, ...).
func Save(f *tsyncfile.File, fname string, w, h vg.Length) error {
	p, err := New(f)
	if err != nil {
		return err
	}
	return p.Save(w, h, fname)
}
