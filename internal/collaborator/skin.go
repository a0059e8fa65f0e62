package collaborator

import (
	"context"
)

// SkinToneFilter flags images where skin-toned pixels exceed Ratio of the
// frame, a cheap proxy for photos of models rather than flat product shots.
type SkinToneFilter struct {
	Ratio float64
}

// NewSkinToneFilter returns a filter with the given threshold.
func NewSkinToneFilter(ratio float64) *SkinToneFilter {
	if ratio <= 0 {
		ratio = 0.05
	}
	return &SkinToneFilter{Ratio: ratio}
}

// Detect implements crawler.ContentFilter.
func (f *SkinToneFilter) Detect(ctx context.Context, path string) (bool, error) {
	img, err := loadRGBA(path, analysisEdge)
	if err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	b := img.Bounds()
	total := b.Dx() * b.Dy()
	if total == 0 {
		return false, nil
	}
	skin := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := img.RGBAAt(x, y)
			if isSkinTone(c.R, c.G, c.B) {
				skin++
			}
		}
	}
	return float64(skin)/float64(total) > f.Ratio, nil
}

// isSkinTone tests hue in [0,40) degrees with saturation >= 20/255 and value >= 70/255.
func isSkinTone(r, g, b uint8) bool {
	hue, sat, val := hsv(r, g, b)
	return hue < 40 && sat >= 20 && val >= 70
}

// hsv returns hue in degrees [0,360) and saturation/value scaled to [0,255].
func hsv(r, g, b uint8) (float64, float64, float64) {
	maxC := max(r, g, b)
	minC := min(r, g, b)
	val := float64(maxC)
	if maxC == 0 {
		return 0, 0, 0
	}
	delta := float64(maxC - minC)
	sat := delta * 255 / val
	if delta == 0 {
		return 0, sat, val
	}
	var hue float64
	switch maxC {
	case r:
		hue = 60 * (float64(g) - float64(b)) / delta
	case g:
		hue = 60*(float64(b)-float64(r))/delta + 120
	default:
		hue = 60*(float64(r)-float64(g))/delta + 240
	}
	if hue < 0 {
		hue += 360
	}
	return hue, sat, val
}
