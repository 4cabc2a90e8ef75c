// Package camera drives an ESP32-CAM style device over its HTTP control API.
package camera

import "fmt"

// Param names an imaging parameter the device accepts.
type Param string

// Parameters understood by the device control endpoint.
const (
	Flash      Param = "flash"
	Quality    Param = "quality"
	Brightness Param = "brightness"
	Contrast   Param = "contrast"
)

// Params lists every parameter in display order.
var Params = []Param{Flash, Quality, Brightness, Contrast}

// Range is an inclusive integer range.
type Range struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Contains reports whether v lies in the range.
func (r Range) Contains(v int) bool {
	return v >= r.Min && v <= r.Max
}

var ranges = map[Param]Range{
	Flash:      {Min: 0, Max: 255}, // LED duty
	Quality:    {Min: 10, Max: 63}, // JPEG quantizer, lower is better
	Brightness: {Min: -2, Max: 2},
	Contrast:   {Min: -2, Max: 2},
}

// ParseParam converts a name to a Param.
func ParseParam(name string) (Param, error) {
	p := Param(name)
	if _, ok := ranges[p]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownParam, name)
	}
	return p, nil
}

// Range returns the valid range of p.
func (p Param) Range() Range {
	return ranges[p]
}

// Validate checks v against the range of p.
func (p Param) Validate(v int) error {
	r, ok := ranges[p]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownParam, string(p))
	}
	if !r.Contains(v) {
		return &RangeError{Param: p, Value: v, Range: r}
	}
	return nil
}

// Settings holds the last-known-good value of every parameter.
type Settings struct {
	Flash      int `json:"flash"`
	Quality    int `json:"quality"`
	Brightness int `json:"brightness"`
	Contrast   int `json:"contrast"`
}

// DefaultSettings mirrors what the firmware boots with.
func DefaultSettings() Settings {
	return Settings{
		Flash:      0,
		Quality:    12,
		Brightness: 0,
		Contrast:   0,
	}
}

// Get returns the value stored for p.
func (s Settings) Get(p Param) int {
	switch p {
	case Flash:
		return s.Flash
	case Quality:
		return s.Quality
	case Brightness:
		return s.Brightness
	case Contrast:
		return s.Contrast
	}
	return 0
}

// With returns a copy of s with p set to v.
func (s Settings) With(p Param, v int) Settings {
	switch p {
	case Flash:
		s.Flash = v
	case Quality:
		s.Quality = v
	case Brightness:
		s.Brightness = v
	case Contrast:
		s.Contrast = v
	}
	return s
}

// Validate checks if the settings are within valid ranges.
// Returns a list of validation errors, or nil if valid.
func (s Settings) Validate() []string {
	var errors []string
	for _, p := range Params {
		if err := p.Validate(s.Get(p)); err != nil {
			errors = append(errors, err.Error())
		}
	}
	return errors
}

// Capabilities describes the parameter ranges for the UI.
func Capabilities() map[Param]Range {
	out := make(map[Param]Range, len(ranges))
	for p, r := range ranges {
		out[p] = r
	}
	return out
}
