// Package overlay maps detection boxes onto the displayed frame.
//
// Boxes arrive in the detector's reference resolution. Placement converts
// them to fractions of the frame so they can be drawn at any display size.
package overlay

import (
	"fmt"
	"math"

	"github.com/samber/lo"
	"github.com/teslashibe/go-espcam/pkg/detection"
)

// Default reference resolution. The detection service resizes every upload
// to 600x800 before inference, so boxes come back in that space.
const (
	DefaultRefWidth  = 600
	DefaultRefHeight = 800
)

// Reference is the resolution detection boxes are expressed in.
type Reference struct {
	Width  int
	Height int
}

// DefaultReference returns the 600x800 reference.
func DefaultReference() Reference {
	return Reference{Width: DefaultRefWidth, Height: DefaultRefHeight}
}

// Valid reports whether both dimensions are positive.
func (r Reference) Valid() bool {
	return r.Width > 0 && r.Height > 0
}

// Box is a placement as fractions of the displayed frame, each in [0,1].
// Left+Width and Top+Height never exceed 1.
type Box struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Placement is a positioned, labeled box ready to draw.
type Placement struct {
	Box        Box     `json:"box"`
	Label      string  `json:"label"`
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
}

// Place converts a detection box to display fractions. An invalid
// reference falls back to the default.
func Place(det detection.Detection, ref Reference) Box {
	if !ref.Valid() {
		ref = DefaultReference()
	}
	w, h := float64(ref.Width), float64(ref.Height)

	left := clamp(det.BBox[0]/w, 0, 1)
	top := clamp(det.BBox[1]/h, 0, 1)

	return Box{
		Left:   left,
		Top:    top,
		Width:  clamp(det.Width()/w, 0, 1-left),
		Height: clamp(det.Height()/h, 0, 1-top),
	}
}

// Label formats a detection as "<class> <percent>%" with one decimal.
func Label(det detection.Detection) string {
	return fmt.Sprintf("%s %.1f%%", det.Class, det.Confidence*100)
}

// Render places every detection. The result is never nil.
func Render(dets []detection.Detection, ref Reference) []Placement {
	return lo.Map(dets, func(d detection.Detection, _ int) Placement {
		return Placement{
			Box:        Place(d, ref),
			Label:      Label(d),
			Class:      d.Class,
			Confidence: d.Confidence,
		}
	})
}

func clamp(v, lower, upper float64) float64 {
	if math.IsNaN(v) {
		return lower
	}
	return math.Max(lower, math.Min(upper, v))
}
