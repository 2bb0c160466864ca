package main

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"cryptobotics/internal/features/charts"
)

// go run etc/tools/test_chart.go
// in etc/charts/value_chart.png
func main() {
	fmt.Println("Generating test chart...")

	start := time.Now().Add(-2 * time.Hour)
	points := make([]charts.Point, 0, 120)
	for i := 0; i < 120; i++ {
		points = append(points, charts.Point{
			At:    start.Add(time.Duration(i) * time.Minute),
			Value: 1500 + 40*math.Sin(float64(i)/12) + float64(i%7),
		})
	}

	chartPath := filepath.Join("etc", "charts", "value_chart.png")
	if err := os.MkdirAll(filepath.Dir(chartPath), 0755); err != nil {
		fmt.Printf("Error creating chart dir: %v\n", err)
		os.Exit(1)
	}
	f, err := os.Create(chartPath)
	if err != nil {
		fmt.Printf("Error creating chart file: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	if err := charts.RenderValueChart(f, "ETH/USDC (sample)", points); err != nil {
		fmt.Printf("Error generating chart: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Chart generated successfully: %s\n", chartPath)
	fmt.Println("Open the file to see the result!")
}
