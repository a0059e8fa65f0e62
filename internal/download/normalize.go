package download

import (
	"bufio"
	"fmt"
	"image"
	"image/color"
	_ "image/gif" // register decoder
	"image/jpeg"
	_ "image/png" // register decoder
	"io"
	"os"

	_ "golang.org/x/image/bmp"  // register decoder
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff" // register decoder
	_ "golang.org/x/image/webp" // register decoder

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// maxPixels caps decoded area so a tiny file cannot expand into gigabytes of RAM.
const maxPixels = 64 << 20

// normalize decodes the spooled file, enforces dimension bounds, downscales
// oversized images and writes a flattened RGB JPEG next to it.
func (d *Downloader) normalize(partPath, hash string) (crawler.DownloadedArtifact, error) {
	f, err := os.Open(partPath)
	if err != nil {
		return crawler.DownloadedArtifact{}, fmt.Errorf("open part file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	cfg, _, err := image.DecodeConfig(bufio.NewReader(f))
	if err != nil {
		return crawler.DownloadedArtifact{}, crawler.Permanent(fmt.Errorf("%w: %v", ErrCorrupt, err))
	}
	if cfg.Width < d.cfg.MinDimension || cfg.Height < d.cfg.MinDimension {
		return crawler.DownloadedArtifact{}, crawler.Permanent(
			fmt.Errorf("%w: %dx%d < %d", ErrTooSmall, cfg.Width, cfg.Height, d.cfg.MinDimension))
	}
	if cfg.Width*cfg.Height > maxPixels {
		return crawler.DownloadedArtifact{}, crawler.Permanent(
			fmt.Errorf("%w: %dx%d pixels", ErrTooLarge, cfg.Width, cfg.Height))
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return crawler.DownloadedArtifact{}, fmt.Errorf("rewind part file: %w", err)
	}
	src, _, err := image.Decode(bufio.NewReader(f))
	if err != nil {
		return crawler.DownloadedArtifact{}, crawler.Permanent(fmt.Errorf("%w: %v", ErrCorrupt, err))
	}

	mode := colorMode(src)
	out := fitWithin(flatten(src), d.cfg.MaxDimension)

	path, size, err := d.writeJPEG(out, hash)
	if err != nil {
		return crawler.DownloadedArtifact{}, err
	}
	bounds := out.Bounds()
	return crawler.DownloadedArtifact{
		Path:      path,
		Bytes:     size,
		Width:     bounds.Dx(),
		Height:    bounds.Dy(),
		ColorMode: mode,
	}, nil
}

func (d *Downloader) writeJPEG(img image.Image, hash string) (string, int64, error) {
	f, err := os.CreateTemp(d.cfg.TempDir, tempPrefix(hash)+"*"+imageSuffix)
	if err != nil {
		return "", 0, fmt.Errorf("create image file: %w", err)
	}
	w := bufio.NewWriter(f)
	encodeErr := jpeg.Encode(w, img, &jpeg.Options{Quality: d.cfg.JPEGQuality})
	if encodeErr == nil {
		encodeErr = w.Flush()
	}
	closeErr := f.Close()
	if encodeErr != nil || closeErr != nil {
		removeQuietly(f.Name())
		if encodeErr != nil {
			return "", 0, fmt.Errorf("encode jpeg: %w", encodeErr)
		}
		return "", 0, fmt.Errorf("close image file: %w", closeErr)
	}
	info, err := os.Stat(f.Name())
	if err != nil {
		removeQuietly(f.Name())
		return "", 0, fmt.Errorf("stat image file: %w", err)
	}
	return f.Name(), info.Size(), nil
}

// flatten composites src over white so alpha and palette images become opaque RGB.
func flatten(src image.Image) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
	return dst
}

// fitWithin scales img so its longest edge is at most maxEdge, preserving aspect ratio.
func fitWithin(img *image.RGBA, maxEdge int) *image.RGBA {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	longest := max(w, h)
	if longest <= maxEdge {
		return img
	}
	nw := max(1, (w*maxEdge+longest/2)/longest)
	nh := max(1, (h*maxEdge+longest/2)/longest)
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// colorMode names the decoded color model before normalization.
func colorMode(img image.Image) string {
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		return "gray"
	case *image.Paletted:
		return "palette"
	case *image.CMYK:
		return "cmyk"
	case *image.YCbCr:
		return "ycbcr"
	case *image.NRGBA, *image.NRGBA64, *image.RGBA, *image.RGBA64:
		return "rgba"
	default:
		return "rgb"
	}
}
