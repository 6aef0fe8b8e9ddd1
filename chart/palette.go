package chart

import (
	"math"

	"github.com/lucasb-eyer/go-colorful"
)

var categoricalPalette = []string{
	"#4CAF50", // green
	"#FF9800", // orange
	"#F44336", // red
	"#2196F3", // blue
	"#9C27B0", // purple
	"#00BCD4", // cyan
	"#FFC107", // amber
	"#795548", // brown
}

var seriesPalette = []string{
	"#2196F3",
	"#4CAF50",
	"#FF9800",
	"#F44336",
	"#9C27B0",
	"#00BCD4",
}

// goldenAngle spreads generated hues so neighbouring slices stay distinct.
const goldenAngle = 137.508

// CategoricalColors returns n slice colors: the fixed palette first, then
// generated hues for anything beyond it. The result depends only on n.
func CategoricalColors(n int) []string {
	if n <= 0 {
		return nil
	}
	colors := make([]string, n)
	for i := range n {
		if i < len(categoricalPalette) {
			colors[i] = categoricalPalette[i]
			continue
		}
		hue := math.Mod(float64(i)*goldenAngle, 360)
		colors[i] = colorful.Hsl(hue, 0.65, 0.55).Hex()
	}
	return colors
}

// SeriesColor cycles through the series palette by index.
func SeriesColor(i int) string {
	if i < 0 {
		i = -i
	}
	return seriesPalette[i%len(seriesPalette)]
}
