package charts

import (
	"errors"
	"fmt"
	"image/color"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	logging "cryptobotics/internal/infra/log"

	"github.com/fogleman/gg"
	"go.uber.org/zap"
)

const (
	chartWidth  = 1200
	chartHeight = 600

	chartAreaLeft   = 120.0
	chartAreaRight  = 1140.0
	chartAreaTop    = 110.0
	chartAreaBottom = 520.0

	gridLinesCount = 4

	titleFontSize = 32.0
	axisFontSize  = 18.0

	titleX = 40.0
	titleY = 60.0
)

var ErrNoSamples = errors.New("no numeric samples to chart")

// Point is one numeric observation.
type Point struct {
	At    time.Time
	Value float64
}

var fontPaths = []string{
	"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
	"/System/Library/Fonts/Supplemental/Arial.ttf",
	"~/Library/Fonts/Arial.ttf",
}

func loadFont(dc *gg.Context, size float64) bool {
	for _, p := range fontPaths {
		if len(p) > 1 && p[:2] == "~/" {
			home, err := os.UserHomeDir()
			if err != nil {
				continue
			}
			p = filepath.Join(home, p[2:])
		}
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := dc.LoadFontFace(p, size); err == nil {
			return true
		}
	}
	return false
}

// RenderValueChart draws points as a line chart and writes a PNG to w.
// Without a system font the built-in bitmap face is used.
func RenderValueChart(w io.Writer, title string, points []Point) error {
	if len(points) == 0 {
		return ErrNoSamples
	}

	dc := gg.NewContext(chartWidth, chartHeight)
	dc.SetColor(color.Black)
	dc.Clear()

	minV, maxV := points[0].Value, points[0].Value
	for _, p := range points[1:] {
		minV = math.Min(minV, p.Value)
		maxV = math.Max(maxV, p.Value)
	}
	if maxV == minV {
		pad := math.Max(math.Abs(maxV)*0.05, 1)
		minV -= pad
		maxV += pad
	}

	hasFont := loadFont(dc, titleFontSize)
	dc.SetColor(color.White)
	dc.DrawString(title, titleX, titleY)

	last := points[len(points)-1]
	dc.SetColor(color.RGBA{0, 255, 0, 255})
	lastLabel := fmt.Sprintf("%g", last.Value)
	lw, _ := dc.MeasureString(lastLabel)
	dc.DrawString(lastLabel, chartAreaRight-lw, titleY)

	if hasFont {
		loadFont(dc, axisFontSize)
	}

	// grid + y labels
	dc.SetLineWidth(1)
	for i := 0; i <= gridLinesCount; i++ {
		frac := float64(i) / gridLinesCount
		y := chartAreaBottom - frac*(chartAreaBottom-chartAreaTop)
		dc.SetColor(color.RGBA{60, 60, 60, 255})
		dc.DrawLine(chartAreaLeft, y, chartAreaRight, y)
		dc.Stroke()

		dc.SetColor(color.RGBA{160, 160, 160, 255})
		label := fmt.Sprintf("%.4g", minV+frac*(maxV-minV))
		tw, th := dc.MeasureString(label)
		dc.DrawString(label, chartAreaLeft-tw-10, y+th/2)
	}

	x := func(i int) float64 {
		if len(points) == 1 {
			return (chartAreaLeft + chartAreaRight) / 2
		}
		return chartAreaLeft + float64(i)/float64(len(points)-1)*(chartAreaRight-chartAreaLeft)
	}
	y := func(v float64) float64 {
		return chartAreaBottom - (v-minV)/(maxV-minV)*(chartAreaBottom-chartAreaTop)
	}

	dc.SetColor(color.RGBA{0, 200, 255, 255})
	dc.SetLineWidth(3)
	for i, p := range points {
		if i == 0 {
			dc.MoveTo(x(i), y(p.Value))
			continue
		}
		dc.LineTo(x(i), y(p.Value))
	}
	dc.Stroke()
	for i, p := range points {
		dc.DrawCircle(x(i), y(p.Value), 4)
		dc.Fill()
	}

	// time range under the axis
	dc.SetColor(color.RGBA{160, 160, 160, 255})
	dc.DrawString(points[0].At.UTC().Format("Jan 02 15:04:05"), chartAreaLeft, chartAreaBottom+40)
	endLabel := last.At.UTC().Format("Jan 02 15:04:05")
	ew, _ := dc.MeasureString(endLabel)
	dc.DrawString(endLabel, chartAreaRight-ew, chartAreaBottom+40)

	if err := dc.EncodePNG(w); err != nil {
		logging.LogError("Failed to encode chart", zap.Error(err))
		return fmt.Errorf("failed to encode chart: %w", err)
	}
	return nil
}
