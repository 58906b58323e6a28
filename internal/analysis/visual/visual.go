package visual

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"

	"lpwatch/internal/analysis/trend"
	lptypes "lpwatch/internal/types"
)

type ImageResult struct {
	Bytes       []byte `json:"-"`
	Base64      string `json:"base64"`
	Filename    string `json:"filename"`
	Description string `json:"description"`
}

func (r *ImageResult) DataURI() string {
	if r == nil {
		return ""
	}
	if r.Base64 == "" && len(r.Bytes) > 0 {
		r.Base64 = base64.StdEncoding.EncodeToString(r.Bytes)
	}
	if r.Base64 == "" {
		return ""
	}
	return "data:image/png;base64," + r.Base64
}

// ChartInput 描述一个池子（或仓位）在窗口内的快照序列。
type ChartInput struct {
	Title     string
	Snapshots []lptypes.Snapshot
	Report    *trend.Report
}

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorBull          = "#34d399"
	colorBear          = "#f87171"
	colorPrice         = "#3b82f6"
	colorBin           = "#fbbf24"
	colorVolatility    = "#f472b6"

	chartWidthPx   = 1200
	priceHeightPx  = 420
	volumeHeightPx = 220
)

// RenderHTML 生成价格/活跃 bin 折线与成交量柱状图页面。
func RenderHTML(input ChartInput) ([]byte, string, error) {
	if len(input.Snapshots) == 0 {
		return nil, "", fmt.Errorf("no snapshots to chart for %s", input.Title)
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = input.Snapshots[0].Key
	}
	rep := input.Report
	if rep == nil {
		r := trend.Analyze(input.Snapshots)
		rep = &r
	}

	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)

	xAxis := buildXAxis(input.Snapshots)
	price := buildPriceChart(title, rep.Summary, xAxis, input.Snapshots)
	volume := buildVolumeChart(xAxis, input.Snapshots)
	page.AddCharts(price, volume)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, "", err
	}
	desc := fmt.Sprintf("%s | %s", title, rep.Summary)
	return buf.Bytes(), desc, nil
}

// RenderPNG 通过无头浏览器把图表截成 PNG；环境中没有 Chrome 时返回错误。
func RenderPNG(ctx context.Context, input ChartInput) (ImageResult, error) {
	if err := EnsureHeadlessAvailable(ctx); err != nil {
		return ImageResult{}, err
	}
	html, desc, err := RenderHTML(input)
	if err != nil {
		return ImageResult{}, err
	}
	png, err := renderHTMLToPNG(ctx, html, chartWidthPx, priceHeightPx+volumeHeightPx+40)
	if err != nil {
		return ImageResult{}, err
	}
	name := strings.ToLower(strings.TrimSpace(input.Title))
	if name == "" {
		name = "snapshots"
	}
	return ImageResult{
		Bytes:       png,
		Base64:      base64.StdEncoding.EncodeToString(png),
		Filename:    fmt.Sprintf("%s_snapshots.png", name),
		Description: desc,
	}, nil
}

var (
	headlessOnce sync.Once
	headlessErr  error
)

func EnsureHeadlessAvailable(ctx context.Context) error {
	headlessOnce.Do(func() {
		targetCtx := ctx
		if targetCtx == nil {
			targetCtx = context.Background()
		}
		parent, cancel := chromedp.NewContext(targetCtx)
		if cancel != nil {
			defer cancel()
		}
		headlessErr = chromedp.Run(parent)
	})
	return headlessErr
}

func buildPriceChart(title, subtitle string, xAxis []string, snaps []lptypes.Snapshot) *charts.Line {
	minPrice, maxPrice := priceBounds(snaps)
	padding := (maxPrice - minPrice) * 0.05
	if padding <= 0 {
		padding = math.Max(0.0001, math.Abs(maxPrice)*0.01)
	}
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", priceHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithTitleOpts(opts.Title{
			Title:         title,
			Subtitle:      subtitle,
			Left:          "left",
			Top:           "10",
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(false)},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			Min:       round(minPrice-padding, 6),
			Max:       round(maxPrice+padding, 6),
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
		}),
	)
	prices := make([]opts.LineData, len(snaps))
	bins := make([]opts.LineData, len(snaps))
	vols := make([]opts.LineData, len(snaps))
	for i, s := range snaps {
		prices[i] = opts.LineData{Value: round(s.Price, 6)}
		bins[i] = opts.LineData{Value: s.ActiveBin}
		vols[i] = opts.LineData{Value: round(s.Volatility*100, 4)}
	}
	line.SetXAxis(xAxis)
	line.AddSeries("Price", prices, charts.WithLineStyleOpts(opts.LineStyle{Color: colorPrice, Width: 2}))
	line.SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))

	aux := charts.NewLine()
	aux.SetXAxis(xAxis)
	aux.AddSeries("Active bin", bins, charts.WithLineStyleOpts(opts.LineStyle{Color: colorBin, Width: 1}))
	aux.AddSeries("Volatility %", vols, charts.WithLineStyleOpts(opts.LineStyle{Color: colorVolatility, Width: 1}))
	line.Overlap(aux)
	return line
}

func buildVolumeChart(xAxis []string, snaps []lptypes.Snapshot) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", volumeHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{Title: "Volume 24h", Left: "left", TitleStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{
			SplitNumber: 6,
			AxisLabel:   &opts.AxisLabel{Show: opts.Bool(false)},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			AxisLabel: &opts.AxisLabel{Show: opts.Bool(true), Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.15)}},
		}),
	)
	data := make([]opts.BarData, len(snaps))
	for i, s := range snaps {
		// 量比 >= 1 视为放量
		color := colorBear
		if s.VolumeRatio >= 1 {
			color = colorBull
		}
		data[i] = opts.BarData{
			Value: round(s.Volume24h, 2),
			ItemStyle: &opts.ItemStyle{
				Color:   color,
				Opacity: opts.Float(0.6),
			},
		}
	}
	bar.SetXAxis(xAxis)
	bar.AddSeries("Volume", data)
	return bar
}

func buildXAxis(snaps []lptypes.Snapshot) []string {
	x := make([]string, len(snaps))
	for i, s := range snaps {
		x[i] = s.Timestamp.UTC().Format("01-02 15:04")
	}
	return x
}

func round(val float64, decimals int) float64 {
	if decimals <= 0 {
		return math.Round(val)
	}
	scale := math.Pow10(decimals)
	return math.Round(val*scale) / scale
}

func priceBounds(snaps []lptypes.Snapshot) (minVal, maxVal float64) {
	if len(snaps) == 0 {
		return 0, 0
	}
	minVal = snaps[0].Price
	maxVal = snaps[0].Price
	for _, s := range snaps {
		if s.Price < minVal {
			minVal = s.Price
		}
		if s.Price > maxVal {
			maxVal = s.Price
		}
	}
	return minVal, maxVal
}

func renderHTMLToPNG(ctx context.Context, html []byte, width, height int) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	parent, cancel := chromedp.NewContext(ctx)
	defer cancel()

	timeoutCtx, cancelTimeout := context.WithTimeout(parent, 20*time.Second)
	defer cancelTimeout()

	dataURI := "data:text/html;base64," + base64.StdEncoding.EncodeToString(html)
	var screenshot []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(width), int64(height)),
		chromedp.Navigate(dataURI),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(1500 * time.Millisecond),
		chromedp.FullScreenshot(&screenshot, 0),
	}
	if err := chromedp.Run(timeoutCtx, tasks...); err != nil {
		return nil, err
	}
	return screenshot, nil
}
