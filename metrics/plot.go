package metrics

import (
	"image/color"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/YuminosukeSato/examscore/pkg/errors"
)

// PlotPredictions は実測値と予測値の散布図を描画し、path に保存する
// 形式は拡張子（.png, .svg, .pdf）で決まる。対角線 y = x を重ねて描く
func PlotPredictions(yTrue, yPred mat.Vector, title, path string) error {
	n, err := checkPair("PlotPredictions", yTrue, yPred)
	if err != nil {
		return err
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "actual"
	p.Y.Label.Text = "predicted"
	p.Add(plotter.NewGrid())

	pts := make(plotter.XYs, n)
	all := make([]float64, 0, 2*n)
	for i := 0; i < n; i++ {
		pts[i].X = yTrue.AtVec(i)
		pts[i].Y = yPred.AtVec(i)
		all = append(all, pts[i].X, pts[i].Y)
	}

	s, err := plotter.NewScatter(pts)
	if err != nil {
		return errors.Wrap(err, "failed to build scatter")
	}
	s.GlyphStyle.Radius = vg.Points(2)
	s.GlyphStyle.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	p.Add(s)

	lo, hi := floats.Min(all), floats.Max(all)
	diag, err := plotter.NewLine(plotter.XYs{{X: lo, Y: lo}, {X: hi, Y: hi}})
	if err != nil {
		return errors.Wrap(err, "failed to build diagonal")
	}
	diag.LineStyle.Width = vg.Points(1)
	diag.LineStyle.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}
	diag.LineStyle.Color = color.Gray{Y: 128}
	p.Add(diag)

	if err := p.Save(5*vg.Inch, 5*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "failed to save plot to %s", path)
	}
	return nil
}
