package camera

import (
	"image"
	"image/color"
	"image/draw"
	"time"
)

// TestPattern renders a moving subject over a striped backdrop. Frames are
// generated on read, so it needs no capture goroutine.
type TestPattern struct {
	width, height int
	start         time.Time
	now           func() time.Time
}

// NewTestPattern creates a synthetic source of the given size
func NewTestPattern(width, height int) *TestPattern {
	return &TestPattern{width: width, height: height, start: time.Now(), now: time.Now}
}

func (p *TestPattern) ReadFrame() (image.Image, bool) {
	img := image.NewRGBA(image.Rect(0, 0, p.width, p.height))

	stripe := p.width / 16
	if stripe == 0 {
		stripe = 1
	}
	for x := 0; x < p.width; x += stripe {
		c := color.RGBA{30, 110, 40, 255}
		if (x/stripe)%2 == 1 {
			c = color.RGBA{220, 220, 200, 255}
		}
		draw.Draw(img, image.Rect(x, 0, x+stripe, p.height), image.NewUniform(c), image.Point{}, draw.Src)
	}

	// subject sways horizontally over a four second period
	elapsed := p.now().Sub(p.start) % (4 * time.Second)
	phase := float64(elapsed) / float64(4*time.Second)
	if phase > 0.5 {
		phase = 1 - phase
	}
	w, h := p.width/3, p.height*2/3
	x := int(phase * 2 * float64(p.width-w))
	subject := image.Rect(x, p.height-h, x+w, p.height)
	draw.Draw(img, subject, image.NewUniform(color.RGBA{200, 60, 50, 255}), image.Point{}, draw.Src)

	return img, true
}
