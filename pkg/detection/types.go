// Package detection is a client for the remote object-detection service.
package detection

import (
	"image"
	"math"
)

// Detection is a labeled bounding box for a single submitted frame.
// BBox is [x1, y1, x2, y2] in the service's reference resolution.
type Detection struct {
	Class      string     `json:"class"`
	Confidence float64    `json:"confidence"`
	BBox       [4]float64 `json:"bbox"`
}

// Width returns the box width in reference pixels.
func (d Detection) Width() float64 {
	return d.BBox[2] - d.BBox[0]
}

// Height returns the box height in reference pixels.
func (d Detection) Height() float64 {
	return d.BBox[3] - d.BBox[1]
}

// Rect returns the box rounded to integer pixels.
func (d Detection) Rect() image.Rectangle {
	return image.Rect(
		int(math.Round(d.BBox[0])), int(math.Round(d.BBox[1])),
		int(math.Round(d.BBox[2])), int(math.Round(d.BBox[3])),
	)
}

// SaveResult is the /save_image response.
type SaveResult struct {
	Success  bool   `json:"success"`
	Filename string `json:"filename,omitempty"`
	Message  string `json:"message,omitempty"`
}

// detectResponse is the /detect response envelope.
type detectResponse struct {
	Status     string      `json:"status"`
	Message    string      `json:"message"`
	Detections []Detection `json:"detections"`
}
