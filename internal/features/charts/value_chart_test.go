package charts

import (
	"bytes"
	"errors"
	"image/png"
	"testing"
	"time"
)

func TestRenderValueChart(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	points := []Point{
		{At: start, Value: 1000},
		{At: start.Add(time.Minute), Value: 1010.5},
		{At: start.Add(2 * time.Minute), Value: 990},
	}

	var buf bytes.Buffer
	if err := RenderValueChart(&buf, "Supply", points); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	img, err := png.Decode(&buf)
	if err != nil {
		t.Fatalf("output is not a PNG: %v", err)
	}
	if b := img.Bounds(); b.Dx() != chartWidth || b.Dy() != chartHeight {
		t.Fatalf("unexpected size: %v", b)
	}
}

func TestRenderValueChartFlatAndSingle(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := RenderValueChart(&buf, "One", []Point{{At: time.Now(), Value: 5}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatal("empty output")
	}
}

func TestRenderValueChartNoSamples(t *testing.T) {
	t.Parallel()

	if err := RenderValueChart(&bytes.Buffer{}, "x", nil); !errors.Is(err, ErrNoSamples) {
		t.Fatalf("unexpected error: %v", err)
	}
}
