package pipeline

import (
	"image"
	"image/draw"
	"sync"
	"sync/atomic"

	"github.com/disintegration/imaging"
	xdraw "golang.org/x/image/draw"
)

// Compositor owns the off-screen drawing surface. Each accepted segmentation
// result is painted as sharp foreground over blurred background.
type Compositor struct {
	surface   *image.RGBA
	frameBuf  *image.RGBA
	maskBuf   *image.Alpha
	blurSigma float64

	mu      sync.RWMutex
	open    bool
	cutoff  uint64
	painted atomic.Uint64
	dropped atomic.Uint64
}

// NewCompositor allocates a surface with the given fixed dimensions
func NewCompositor(cfg SurfaceConfig, blurSigma float64) *Compositor {
	rect := cfg.Rect()
	return &Compositor{
		surface:   image.NewRGBA(rect),
		frameBuf:  image.NewRGBA(rect),
		maskBuf:   image.NewAlpha(rect),
		blurSigma: blurSigma,
	}
}

// Bounds returns the surface bounds
func (c *Compositor) Bounds() image.Rectangle {
	return c.surface.Bounds()
}

// Open starts accepting results
func (c *Compositor) Open() {
	c.mu.Lock()
	c.open = true
	c.mu.Unlock()
}

// Close stops accepting results. Any later result, and any result whose
// sequence number is at or below cutoff, is discarded.
func (c *Compositor) Close(cutoff uint64) {
	c.mu.Lock()
	c.open = false
	if cutoff > c.cutoff {
		c.cutoff = cutoff
	}
	c.mu.Unlock()
}

// Paint composites one result onto the surface. Results are painted in
// arrival order; the last one received wins. It returns false if the result
// was discarded as stale.
func (c *Compositor) Paint(result SegmentationResult) bool {
	if result.Image == nil || result.Mask == nil {
		c.dropped.Add(1)
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open || result.Seq <= c.cutoff {
		c.dropped.Add(1)
		return false
	}

	rect := c.surface.Bounds()

	// scale inputs to the fixed surface size
	xdraw.ApproxBiLinear.Scale(c.frameBuf, rect, result.Image, result.Image.Bounds(), xdraw.Src, nil)
	mask := asAlpha(result.Mask)
	xdraw.ApproxBiLinear.Scale(c.maskBuf, rect, mask, mask.Bounds(), xdraw.Src, nil)

	// clear, then lay down the mask
	draw.Draw(c.surface, rect, image.Transparent, image.Point{}, draw.Src)
	draw.Draw(c.surface, rect, c.maskBuf, rect.Min, draw.Src)

	blurred := imaging.Blur(c.frameBuf, c.blurSigma)
	sourceOut(c.surface, blurred)
	destinationAtop(c.surface, c.frameBuf)

	c.painted.Add(1)
	return true
}

// Snapshot returns a copy of the surface
func (c *Compositor) Snapshot() *image.RGBA {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := image.NewRGBA(c.surface.Bounds())
	copy(out.Pix, c.surface.Pix)
	return out
}

// Painted returns the number of composited frames
func (c *Compositor) Painted() uint64 {
	return c.painted.Load()
}

// Dropped returns the number of discarded results
func (c *Compositor) Dropped() uint64 {
	return c.dropped.Load()
}

// asAlpha interprets a mask as coverage. Grayscale masks carry coverage in
// their luminance; everything else in its alpha channel.
func asAlpha(mask image.Image) image.Image {
	switch m := mask.(type) {
	case *image.Alpha:
		return m
	case *image.Gray:
		return &image.Alpha{Pix: m.Pix, Stride: m.Stride, Rect: m.Rect}
	default:
		return mask
	}
}

// sourceOut keeps src only where dst is transparent: out = src·(1−αd)
func sourceOut(dst *image.RGBA, src *image.NRGBA) {
	for y := 0; y < dst.Rect.Dy(); y++ {
		di := y * dst.Stride
		si := y * src.Stride
		for x := 0; x < dst.Rect.Dx(); x++ {
			inv := 255 - uint32(dst.Pix[di+3])
			sa := uint32(src.Pix[si+3])
			for k := 0; k < 3; k++ {
				// src is non-premultiplied
				pre := mul8(uint32(src.Pix[si+k]), sa)
				dst.Pix[di+k] = uint8(mul8(pre, inv))
			}
			dst.Pix[di+3] = uint8(mul8(sa, inv))
			di += 4
			si += 4
		}
	}
}

// destinationAtop keeps dst where it exists and fills the rest from src:
// out = dst·αs + src·(1−αd)
func destinationAtop(dst *image.RGBA, src *image.RGBA) {
	for y := 0; y < dst.Rect.Dy(); y++ {
		di := y * dst.Stride
		si := y * src.Stride
		for x := 0; x < dst.Rect.Dx(); x++ {
			da := uint32(dst.Pix[di+3])
			sa := uint32(src.Pix[si+3])
			for k := 0; k < 3; k++ {
				v := mul8(uint32(dst.Pix[di+k]), sa) + mul8(uint32(src.Pix[si+k]), 255-da)
				if v > 255 {
					v = 255
				}
				dst.Pix[di+k] = uint8(v)
			}
			dst.Pix[di+3] = uint8(sa)
			di += 4
			si += 4
		}
	}
}

// mul8 multiplies two 8-bit fractions with rounding
func mul8(a, b uint32) uint32 {
	t := a*b + 128
	return (t + t>>8) >> 8
}
