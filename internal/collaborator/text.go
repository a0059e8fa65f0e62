package collaborator

import (
	"context"
	"image"
)

const (
	// edgeThreshold is the minimum morphological gradient counted as an edge.
	edgeThreshold = 64
	// defaultTextRegions is how many glyph-sized edge blobs mark an image as text-bearing.
	defaultTextRegions = 10
)

// TextFilter flags images with many small, glyph-shaped edge regions, the
// signature of overlaid captions, size charts and banners.
type TextFilter struct {
	MinRegions int
}

// NewTextFilter returns a filter that trips at minRegions text-like regions.
func NewTextFilter(minRegions int) *TextFilter {
	if minRegions <= 0 {
		minRegions = defaultTextRegions
	}
	return &TextFilter{MinRegions: minRegions}
}

// Detect implements crawler.ContentFilter.
func (f *TextFilter) Detect(ctx context.Context, path string) (bool, error) {
	img, err := loadRGBA(path, 2*analysisEdge)
	if err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	mask := edgeMask(img)
	return countGlyphRegions(mask, img.Bounds().Dx(), img.Bounds().Dy()) > f.MinRegions, nil
}

// edgeMask marks pixels whose 3x3 max-min luminance spread exceeds edgeThreshold.
func edgeMask(img *image.RGBA) []bool {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	gray := make([]uint8, w*h)
	for y := range h {
		for x := range w {
			c := img.RGBAAt(b.Min.X+x, b.Min.Y+y)
			gray[y*w+x] = uint8((299*int(c.R) + 587*int(c.G) + 114*int(c.B)) / 1000)
		}
	}
	mask := make([]bool, w*h)
	for y := range h {
		for x := range w {
			lo, hi := uint8(255), uint8(0)
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := x+dx, y+dy
					if nx < 0 || ny < 0 || nx >= w || ny >= h {
						continue
					}
					v := gray[ny*w+nx]
					lo, hi = min(lo, v), max(hi, v)
				}
			}
			mask[y*w+x] = hi-lo >= edgeThreshold
		}
	}
	return mask
}

// countGlyphRegions counts 4-connected edge components whose bounding box is
// glyph-sized: both sides over 5px, aspect within (0.1, 10) and area under a
// tenth of the frame.
func countGlyphRegions(mask []bool, w, h int) int {
	visited := make([]bool, len(mask))
	maxArea := w * h / 10
	regions := 0
	stack := make([]int, 0, 64)
	for start := range mask {
		if !mask[start] || visited[start] {
			continue
		}
		minX, minY, maxX, maxY := w, h, -1, -1
		stack = append(stack[:0], start)
		visited[start] = true
		for len(stack) > 0 {
			p := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := p%w, p/w
			minX, maxX = min(minX, x), max(maxX, x)
			minY, maxY = min(minY, y), max(maxY, y)
			for _, n := range [4][2]int{{x - 1, y}, {x + 1, y}, {x, y - 1}, {x, y + 1}} {
				nx, ny := n[0], n[1]
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				q := ny*w + nx
				if mask[q] && !visited[q] {
					visited[q] = true
					stack = append(stack, q)
				}
			}
		}
		bw, bh := maxX-minX+1, maxY-minY+1
		aspect := float64(bw) / float64(bh)
		if bw > 5 && bh > 5 && aspect > 0.1 && aspect < 10 && bw*bh > 10 && bw*bh < maxArea {
			regions++
		}
	}
	return regions
}
