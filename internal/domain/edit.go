package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

var ErrInvalidEdit = errors.New("invalid edit")

// Crop is a rectangle in pixels, positioned relative to the top-left corner of
// the rotated image's bounding box. At 0 degrees that is the source itself.
type Crop struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (c Crop) Validate() error {
	if c.X < 0 || c.Y < 0 {
		return fmt.Errorf("%w: crop origin must be non-negative, got (%d,%d)", ErrInvalidEdit, c.X, c.Y)
	}
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("%w: crop size must be positive, got %dx%d", ErrInvalidEdit, c.Width, c.Height)
	}
	return nil
}

// Filters holds the five color adjustments as percentages. Brightness,
// contrast and saturation are identity at 100; grayscale and sepia at 0.
type Filters struct {
	Brightness float64 `json:"brightness"`
	Contrast   float64 `json:"contrast"`
	Saturation float64 `json:"saturation"`
	Grayscale  float64 `json:"grayscale"`
	Sepia      float64 `json:"sepia"`
}

func IdentityFilters() Filters {
	return Filters{
		Brightness: 100,
		Contrast:   100,
		Saturation: 100,
	}
}

// UnmarshalJSON fills omitted filters with their identity values.
func (f *Filters) UnmarshalJSON(data []byte) error {
	type plain Filters
	p := plain(IdentityFilters())
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*f = Filters(p)
	return nil
}

func (f Filters) Validate() error {
	checks := []struct {
		name  string
		value float64
		max   float64
	}{
		{"brightness", f.Brightness, 200},
		{"contrast", f.Contrast, 200},
		{"saturation", f.Saturation, 200},
		{"grayscale", f.Grayscale, 100},
		{"sepia", f.Sepia, 100},
	}
	for _, c := range checks {
		if math.IsNaN(c.value) || c.value < 0 || c.value > c.max {
			return fmt.Errorf("%w: %s must be within [0, %g], got %g", ErrInvalidEdit, c.name, c.max, c.value)
		}
	}
	return nil
}

// Edit is one crop/rotate/filter request against a single source image.
type Edit struct {
	Crop     Crop    `json:"crop"`
	Rotation float64 `json:"rotation"`
	Filters  Filters `json:"filters"`
	Format   string  `json:"format,omitempty"`
}

func NewEdit(crop Crop) Edit {
	return Edit{Crop: crop, Filters: IdentityFilters()}
}

func (e *Edit) UnmarshalJSON(data []byte) error {
	type plain Edit
	p := plain{Filters: IdentityFilters()}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*e = Edit(p)
	return nil
}

func (e Edit) Validate() error {
	if math.IsNaN(e.Rotation) || math.IsInf(e.Rotation, 0) {
		return fmt.Errorf("%w: rotation must be a finite number", ErrInvalidEdit)
	}
	if err := e.Crop.Validate(); err != nil {
		return err
	}
	return e.Filters.Validate()
}
