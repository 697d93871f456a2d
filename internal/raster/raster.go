package raster

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"image"
	"image/png"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

// ErrDegenerate is returned when a source or target size has a zero dimension.
var ErrDegenerate = errors.New("degenerate image size")

// Options controls how vector sources are parsed.
type Options struct {
	// Strict turns unsupported SVG elements and attributes into parse errors
	// instead of silently skipping them.
	Strict bool
}

// Icon is a parsed vector image with its native pixel size.
type Icon struct {
	svg    *oksvg.SvgIcon
	Width  int
	Height int
}

// ParseIcon parses an SVG document. The native size comes from the root
// width/height attributes when both are absolute lengths, otherwise from
// the viewBox.
func ParseIcon(data []byte, opts Options) (*Icon, error) {
	mode := oksvg.IgnoreErrorMode
	if opts.Strict {
		mode = oksvg.StrictErrorMode
	}
	svg, err := oksvg.ReadIconStream(bytes.NewReader(data), mode)
	if err != nil {
		return nil, fmt.Errorf("failed to parse svg: %w", err)
	}
	w, h := svg.ViewBox.W, svg.ViewBox.H
	if aw, ah, ok := rootSize(data); ok {
		w, h = aw, ah
	}
	return &Icon{svg: svg, Width: int(w), Height: int(h)}, nil
}

// Fit scales (w0, h0) to fit inside maxW x maxH keeping the aspect ratio.
// The scale is not clamped, so small sources are enlarged.
func Fit(w0, h0, maxW, maxH int) (int, int, error) {
	if w0 <= 0 || h0 <= 0 {
		return 0, 0, fmt.Errorf("%w: native size %dx%d", ErrDegenerate, w0, h0)
	}
	scale := math.Min(float64(maxW)/float64(w0), float64(maxH)/float64(h0))
	w := int(math.Floor(float64(w0) * scale))
	h := int(math.Floor(float64(h0) * scale))
	if w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("%w: %dx%d scales to %dx%d", ErrDegenerate, w0, h0, w, h)
	}
	return w, h, nil
}

// Render rasterizes the icon directly at w x h.
func (ic *Icon) Render(w, h int) *image.RGBA {
	ic.svg.SetTarget(0, 0, float64(w), float64(h))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	scanner := rasterx.NewScannerGV(w, h, img, img.Bounds())
	raster := rasterx.NewDasher(w, h, scanner)
	ic.svg.Draw(raster, 1.0)
	return img
}

// ConvertFile renders the SVG at src into a PNG at dst bounded by
// maxW x maxH and returns the size written.
func ConvertFile(src, dst string, maxW, maxH int, opts Options) (image.Point, error) {
	data, err := os.ReadFile(src)
	if err != nil {
		return image.Point{}, err
	}
	icon, err := ParseIcon(data, opts)
	if err != nil {
		return image.Point{}, err
	}
	w, h, err := Fit(icon.Width, icon.Height, maxW, maxH)
	if err != nil {
		return image.Point{}, err
	}
	img := icon.Render(w, h)

	out, err := os.Create(dst)
	if err != nil {
		return image.Point{}, err
	}
	if err := png.Encode(out, img); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return image.Point{}, fmt.Errorf("failed to encode png: %w", err)
	}
	if err := out.Close(); err != nil {
		return image.Point{}, err
	}
	return image.Pt(w, h), nil
}

// rootSize reads width and height from the root <svg> element. Relative
// units (%, em) are not resolvable here and report ok=false.
func rootSize(data []byte) (w, h float64, ok bool) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false
	for {
		tok, err := dec.Token()
		if err != nil {
			return 0, 0, false
		}
		se, isStart := tok.(xml.StartElement)
		if !isStart {
			continue
		}
		if se.Name.Local != "svg" {
			return 0, 0, false
		}
		var haveW, haveH bool
		for _, attr := range se.Attr {
			switch attr.Name.Local {
			case "width":
				w, haveW = parseLength(attr.Value)
			case "height":
				h, haveH = parseLength(attr.Value)
			}
		}
		return w, h, haveW && haveH
	}
}

func parseLength(s string) (float64, bool) {
	s = strings.TrimSuffix(strings.TrimSpace(s), "px")
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}
