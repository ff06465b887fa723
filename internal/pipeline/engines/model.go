package engines

import (
	"image"
	"image/color"
	"math"
)

// ThresholdModel is a minimal reference segmenter for scenes with a roughly
// uniform backdrop: a pixel is foreground when its colour is further than
// Threshold from the average colour of the frame border.
type ThresholdModel struct {
	Threshold float64
}

// DefaultThreshold is the colour distance used when none is configured
const DefaultThreshold = 48

// Mask computes the foreground mask of img
func (m ThresholdModel) Mask(img image.Image) *image.Gray {
	b := img.Bounds()
	mask := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	if b.Empty() {
		return mask
	}

	threshold := m.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	bg := borderAverage(img)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			dr := float64(c.R) - bg[0]
			dg := float64(c.G) - bg[1]
			db := float64(c.B) - bg[2]
			if math.Sqrt(dr*dr+dg*dg+db*db) > threshold {
				mask.SetGray(x-b.Min.X, y-b.Min.Y, color.Gray{Y: 0xff})
			}
		}
	}
	return mask
}

func borderAverage(img image.Image) [3]float64 {
	b := img.Bounds()
	var sum [3]float64
	n := 0
	add := func(x, y int) {
		c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
		sum[0] += float64(c.R)
		sum[1] += float64(c.G)
		sum[2] += float64(c.B)
		n++
	}
	for x := b.Min.X; x < b.Max.X; x++ {
		add(x, b.Min.Y)
		add(x, b.Max.Y-1)
	}
	for y := b.Min.Y + 1; y < b.Max.Y-1; y++ {
		add(b.Min.X, y)
		add(b.Max.X-1, y)
	}
	for i := range sum {
		sum[i] /= float64(n)
	}
	return sum
}
