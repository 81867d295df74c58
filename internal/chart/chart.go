// Package chart turns per-day point sums into cumulative growth curves and
// renders them as PNG images. It has no knowledge of the store.
package chart

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"points-bot/internal/model"
)

// ErrNoData is returned when there is nothing to draw.
var ErrNoData = errors.New("no data for chart")

// Point is a user's running total at the end of a day.
type Point struct {
	Date  time.Time
	Total int64
}

// Series is one user's cumulative curve.
type Series struct {
	TelegramID int64
	Name       string
	Points     []Point
}

// Cumulative groups rows by user and converts daily sums into running totals.
// Series keep the order in which users first appear in rows.
func Cumulative(rows []model.DailyPoints) []Series {
	type acc struct {
		name  string
		byDay map[time.Time]int64
	}

	var order []int64
	users := make(map[int64]*acc)
	for _, row := range rows {
		a, ok := users[row.TelegramID]
		if !ok {
			a = &acc{name: row.DisplayName(), byDay: make(map[time.Time]int64)}
			users[row.TelegramID] = a
			order = append(order, row.TelegramID)
		}
		day := time.Date(row.Date.Year(), row.Date.Month(), row.Date.Day(), 0, 0, 0, 0, time.UTC)
		a.byDay[day] += row.Points
	}

	series := make([]Series, 0, len(order))
	for _, id := range order {
		a := users[id]
		days := make([]time.Time, 0, len(a.byDay))
		for day := range a.byDay {
			days = append(days, day)
		}
		sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

		var total int64
		points := make([]Point, 0, len(days))
		for _, day := range days {
			total += a.byDay[day]
			points = append(points, Point{Date: day, Total: total})
		}
		series = append(series, Series{TelegramID: id, Name: a.name, Points: points})
	}
	return series
}

// Options controls labels and the image size.
type Options struct {
	Title  string
	XLabel string
	YLabel string
	Width  vg.Length
	Height vg.Length
}

func (o Options) withDefaults() Options {
	if o.Width <= 0 {
		o.Width = 14 * vg.Inch
	}
	if o.Height <= 0 {
		o.Height = 10 * vg.Inch
	}
	return o
}

// Render draws one line per series and encodes the plot as PNG.
func Render(series []Series, opts Options) ([]byte, error) {
	if len(series) == 0 {
		return nil, ErrNoData
	}
	opts = opts.withDefaults()

	p := plot.New()
	p.Title.Text = opts.Title
	p.Title.TextStyle.Font.Size = vg.Points(16)
	p.X.Label.Text = opts.XLabel
	p.Y.Label.Text = opts.YLabel
	p.X.Tick.Marker = plot.TimeTicks{Format: "2006-01-02"}
	p.Y.Min = 0
	p.Legend.Top = true
	p.Legend.Left = true
	p.Add(plotter.NewGrid())

	for i, s := range series {
		if len(s.Points) == 0 {
			continue
		}
		xys := make(plotter.XYs, len(s.Points))
		for j, pt := range s.Points {
			xys[j].X = float64(pt.Date.Unix())
			xys[j].Y = float64(pt.Total)
		}

		line, points, err := plotter.NewLinePoints(xys)
		if err != nil {
			return nil, fmt.Errorf("series %q: %w", s.Name, err)
		}
		color := plotutil.Color(i)
		line.Color = color
		line.Width = vg.Points(2)
		points.Color = color
		points.Shape = draw.CircleGlyph{}
		points.Radius = vg.Points(3)

		p.Add(line, points)
		p.Legend.Add(s.Name, line, points)
	}

	if p.X.Min == p.X.Max {
		day := (24 * time.Hour).Seconds()
		p.X.Min -= day
		p.X.Max += day
	}

	w, err := p.WriterTo(opts.Width, opts.Height, "png")
	if err != nil {
		return nil, fmt.Errorf("render chart: %w", err)
	}
	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("encode chart: %w", err)
	}
	return buf.Bytes(), nil
}
