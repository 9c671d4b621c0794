package report

import (
	"fmt"
	"image/color"
	"io"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/wheelcast/internal/db"
)

// RenderHTML writes an interactive page with the wheel values and the
// schedule lateness of each packet.
func RenderHTML(w io.Writer, run db.Run, ticks []db.Tick) error {
	if len(ticks) == 0 {
		return fmt.Errorf("run %s has no recorded ticks", run.ID)
	}

	x := make([]string, len(ticks))
	left := make([]opts.LineData, len(ticks))
	right := make([]opts.LineData, len(ticks))
	late := make([]opts.LineData, len(ticks))
	for i, t := range ticks {
		x[i] = fmt.Sprintf("%.3f", t.SentAt.Sub(run.StartedAt).Seconds())
		left[i] = opts.LineData{Value: t.Left}
		right[i] = opts.LineData{Value: t.Right}
		late[i] = opts.LineData{Value: float64(t.Lateness()) / float64(time.Millisecond)}
	}

	subtitle := fmt.Sprintf("%s at %g Hz, started %s", run.Target, run.RateHz, run.StartedAt.Format(time.RFC3339))

	wheels := charts.NewLine()
	wheels.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "wheelcast run " + run.ID, Width: "100%", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{Title: "Wheel values", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "t (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "value", Min: -1, Max: 1}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)
	wheels.SetXAxis(x).
		AddSeries("left", left).
		AddSeries("right", right)

	lateness := charts.NewLine()
	lateness.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "320px"}),
		charts.WithTitleOpts(opts.Title{Title: "Schedule lateness", Subtitle: "sent minus scheduled, ms"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "t (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "ms"}),
	)
	lateness.SetXAxis(x).AddSeries("lateness", late)

	page := components.NewPage()
	page.PageTitle = "wheelcast run " + run.ID
	page.AddCharts(wheels, lateness)
	if err := page.Render(w); err != nil {
		return fmt.Errorf("failed to render chart: %w", err)
	}
	return nil
}

// RenderPNG writes a static plot of the wheel values.
func RenderPNG(w io.Writer, run db.Run, ticks []db.Tick, width, height vg.Length) error {
	if len(ticks) == 0 {
		return fmt.Errorf("run %s has no recorded ticks", run.ID)
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("run %s (%s)", run.ID, run.Target)
	p.X.Label.Text = "t (s)"
	p.Y.Label.Text = "value"
	p.Y.Min = -1.05
	p.Y.Max = 1.05
	p.Add(plotter.NewGrid())

	leftPts := make(plotter.XYs, len(ticks))
	rightPts := make(plotter.XYs, len(ticks))
	for i, t := range ticks {
		sec := t.SentAt.Sub(run.StartedAt).Seconds()
		leftPts[i] = plotter.XY{X: sec, Y: t.Left}
		rightPts[i] = plotter.XY{X: sec, Y: t.Right}
	}

	series := []struct {
		name  string
		pts   plotter.XYs
		color color.Color
	}{
		{"left", leftPts, color.RGBA{R: 31, G: 119, B: 180, A: 255}},
		{"right", rightPts, color.RGBA{R: 255, G: 127, B: 14, A: 255}},
	}
	for _, s := range series {
		line, err := plotter.NewLine(s.pts)
		if err != nil {
			return err
		}
		line.Color = s.color
		line.Width = vg.Points(1)
		line.StepStyle = plotter.PostStep
		p.Add(line)
		p.Legend.Add(s.name, line)
	}
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	wt, err := p.WriterTo(width, height, "png")
	if err != nil {
		return fmt.Errorf("failed to create png writer: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write png: %w", err)
	}
	return nil
}
