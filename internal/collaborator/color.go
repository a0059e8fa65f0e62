package collaborator

import (
	"context"
	"image"
	"sort"
)

// UnknownColor is reported when nothing can be named.
const UnknownColor = "unknown"

type namedColor struct {
	name    string
	r, g, b int
}

var palette = []namedColor{
	{"black", 0, 0, 0},
	{"white", 255, 255, 255},
	{"red", 255, 0, 0},
	{"blue", 0, 0, 255},
	{"green", 0, 255, 0},
	{"yellow", 255, 255, 0},
	{"orange", 255, 165, 0},
	{"purple", 128, 0, 128},
	{"pink", 255, 192, 203},
	{"brown", 165, 42, 42},
	{"gray", 128, 128, 128},
	{"beige", 245, 245, 220},
	{"navy", 0, 0, 128},
	{"maroon", 128, 0, 0},
	{"olive", 128, 128, 0},
	{"teal", 0, 128, 128},
	{"cyan", 0, 255, 255},
	{"magenta", 255, 0, 255},
}

// PaletteExtractor names colors by nearest match in a fixed palette. The
// primary color is the average of the 5x5 center patch, where product shots
// put the garment; the rest come from a whole-image histogram.
type PaletteExtractor struct {
	Count int
}

// NewPaletteExtractor returns an extractor reporting at most count colors.
func NewPaletteExtractor(count int) *PaletteExtractor {
	if count <= 0 {
		count = 3
	}
	return &PaletteExtractor{Count: count}
}

// Extract implements crawler.ColorExtractor.
func (p *PaletteExtractor) Extract(ctx context.Context, path string) ([]string, error) {
	img, err := loadRGBA(path, analysisEdge)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	primary := nearestColor(centerAverage(img))
	names := []string{primary}
	for _, name := range histogram(img) {
		if len(names) >= p.Count {
			break
		}
		if name != primary {
			names = append(names, name)
		}
	}
	return names, nil
}

func centerAverage(img *image.RGBA) (int, int, int) {
	b := img.Bounds()
	cx, cy := b.Min.X+b.Dx()/2, b.Min.Y+b.Dy()/2
	var r, g, bl, n int
	for y := max(b.Min.Y, cy-2); y < min(b.Max.Y, cy+3); y++ {
		for x := max(b.Min.X, cx-2); x < min(b.Max.X, cx+3); x++ {
			c := img.RGBAAt(x, y)
			r += int(c.R)
			g += int(c.G)
			bl += int(c.B)
			n++
		}
	}
	if n == 0 {
		return 0, 0, 0
	}
	return r / n, g / n, bl / n
}

// histogram returns palette names ordered by pixel share, most common first.
func histogram(img *image.RGBA) []string {
	counts := make(map[string]int)
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := img.RGBAAt(x, y)
			counts[nearestColor(int(c.R), int(c.G), int(c.B))]++
		}
	}
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})
	return names
}

func nearestColor(r, g, b int) string {
	best, bestDist := UnknownColor, -1
	for _, c := range palette {
		dr, dg, db := r-c.r, g-c.g, b-c.b
		dist := dr*dr + dg*dg + db*db
		if bestDist < 0 || dist < bestDist {
			best, bestDist = c.name, dist
		}
	}
	return best
}
