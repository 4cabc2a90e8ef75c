package overlay

import (
	"bytes"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"
)

const (
	lineWidth   = 3
	labelSize   = 14
	labelPad    = 3
	jpegQuality = 85
)

var font *truetype.Font

func init() {
	var err error
	font, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

var palette = []color.RGBA{
	{R: 0xff, G: 0x3b, B: 0x30, A: 0xff},
	{R: 0x34, G: 0xc7, B: 0x59, A: 0xff},
	{R: 0x00, G: 0x7a, B: 0xff, A: 0xff},
	{R: 0xff, G: 0x95, B: 0x00, A: 0xff},
	{R: 0xaf, G: 0x52, B: 0xde, A: 0xff},
	{R: 0xff, G: 0xcc, B: 0x00, A: 0xff},
}

// ClassColor returns a stable color for a class name.
func ClassColor(class string) color.RGBA {
	h := fnv.New32a()
	h.Write([]byte(class))
	return palette[h.Sum32()%uint32(len(palette))]
}

// Annotate draws placements onto a JPEG frame at its own size and returns
// the re-encoded JPEG.
func Annotate(frame []byte, placements []Placement) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("overlay: decode frame: %w", err)
	}

	dc := gg.NewContextForImage(img)
	size := img.Bounds().Size()
	face := truetype.NewFace(font, &truetype.Options{Size: labelSize})
	defer face.Close()
	dc.SetFontFace(face)

	for _, p := range placements {
		r := toPixels(p.Box, size)
		c := ClassColor(p.Class)
		drawRectangleEmpty(dc, r, c, lineWidth)
		drawLabel(dc, p.Label, r.Min, c)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, dc.Image(), imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, fmt.Errorf("overlay: encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

func toPixels(b Box, size image.Point) image.Rectangle {
	w, h := float64(size.X), float64(size.Y)
	return image.Rect(
		int(b.Left*w), int(b.Top*h),
		int((b.Left+b.Width)*w), int((b.Top+b.Height)*h),
	)
}

func drawRectangleEmpty(dc *gg.Context, r image.Rectangle, c color.Color, width float64) {
	dc.SetColor(c)
	dc.SetLineWidth(width)
	dc.DrawRectangle(float64(r.Min.X), float64(r.Min.Y), float64(r.Dx()), float64(r.Dy()))
	dc.Stroke()
}

// drawLabel puts the text on a filled tab above the box, or inside it when
// the box touches the top edge.
func drawLabel(dc *gg.Context, text string, at image.Point, c color.Color) {
	if text == "" {
		return
	}
	tw, th := dc.MeasureString(text)
	x := float64(at.X)
	y := float64(at.Y) - th - 2*labelPad
	if y < 0 {
		y = float64(at.Y)
	}

	dc.SetColor(c)
	dc.DrawRectangle(x, y, tw+2*labelPad, th+2*labelPad)
	dc.Fill()

	dc.SetColor(color.White)
	dc.DrawStringAnchored(text, x+labelPad, y+labelPad, 0, 1)
}
