// Churnguard - Churn Prediction and Incentive Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/churnguard

package explain

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/tomtom215/churnguard/internal/model"
)

var (
	positiveColor = color.RGBA{R: 0xff, G: 0x00, B: 0x51, A: 0xff}
	negativeColor = color.RGBA{R: 0x00, G: 0x8b, B: 0xfb, A: 0xff}
	summaryColor  = color.RGBA{R: 0x1e, G: 0x88, B: 0xe5, A: 0xff}
)

var (
	plotWidth  = 8 * vg.Inch
	plotHeight = 5 * vg.Inch
	barWidth   = vg.Points(12)
)

// RenderSummary plots the mean absolute attribution per feature over sample
// as a PNG.
func (e *Explainer) RenderSummary(ctx context.Context, m ProbaModel, bg *model.Background, sample [][]float64, names []string) ([]byte, error) {
	attrs, err := e.Summary(ctx, m, bg, sample, names)
	if err != nil {
		return nil, err
	}
	return renderBars("Mean |attribution| (churn probability)", "mean |value|", attrs, func(float64) color.Color {
		return summaryColor
	})
}

// RenderLocalExplanation fits a surrogate around x and plots its
// coefficients as a PNG, coloured by sign.
func (e *Explainer) RenderLocalExplanation(ctx context.Context, m ProbaModel, bg *model.Background, x []float64, names []string) ([]byte, error) {
	fit, err := e.Surrogate(ctx, m, bg, x, names)
	if err != nil {
		return nil, err
	}
	return renderBars("Local explanation for class Churn", "weight", fit.Attributions, func(v float64) color.Color {
		if v >= 0 {
			return positiveColor
		}
		return negativeColor
	})
}

// RenderAttributions plots precomputed attributions as a PNG.
func RenderAttributions(title string, attrs []Attribution) ([]byte, error) {
	return renderBars(title, "attribution", attrs, func(v float64) color.Color {
		if v >= 0 {
			return positiveColor
		}
		return negativeColor
	})
}

// EncodePNG returns the standard base64 form embedded in API responses.
func EncodePNG(png []byte) string {
	return base64.StdEncoding.EncodeToString(png)
}

// renderBars draws one horizontal bar per attribution. Bars of each colour
// are a separate chart sharing the same nominal axis.
func renderBars(title, xlabel string, attrs []Attribution, colorOf func(float64) color.Color) ([]byte, error) {
	if len(attrs) == 0 {
		return nil, fmt.Errorf("%w: nothing to plot", ErrUnavailable)
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = xlabel
	p.Add(plotter.NewGrid())

	names := make([]string, len(attrs))
	groups := map[color.Color]plotter.Values{}
	var order []color.Color
	for i, a := range attrs {
		names[i] = a.Feature
		c := colorOf(a.Value)
		vals, ok := groups[c]
		if !ok {
			vals = make(plotter.Values, len(attrs))
			order = append(order, c)
		}
		vals[i] = a.Value
		groups[c] = vals
	}

	for _, c := range order {
		bars, err := plotter.NewBarChart(groups[c], barWidth)
		if err != nil {
			return nil, fmt.Errorf("%w: bar chart: %v", ErrUnavailable, err)
		}
		bars.Horizontal = true
		bars.Color = c
		bars.LineStyle.Width = 0
		p.Add(bars)
	}
	p.NominalY(names...)

	wt, err := p.WriterTo(plotWidth, plotHeight, "png")
	if err != nil {
		return nil, fmt.Errorf("%w: render: %v", ErrUnavailable, err)
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("%w: encode: %v", ErrUnavailable, err)
	}
	return buf.Bytes(), nil
}
