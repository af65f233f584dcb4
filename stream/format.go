package stream

import "github.com/pkg/errors"

// Format is a complex sample format
type Format string

const (
	// CS16 is 16-bit I and 16-bit Q
	CS16 Format = "CS16"

	// CS12 is 12-bit I and Q packed into three bytes
	CS12 Format = "CS12"

	// CS8 is 8-bit I and 8-bit Q
	CS8 Format = "CS8"
)

// Formats lists the formats in order of preference
func Formats() []Format {
	return []Format{CS16, CS12, CS8}
}

// BytesPerElement is the size of one complex sample
func (f Format) BytesPerElement() (int, error) {
	switch f {
	case CS16:
		return 4, nil
	case CS12:
		return 3, nil
	case CS8:
		return 2, nil
	}
	return 0, errors.Wrapf(ErrFormat, "unknown format %q", string(f))
}

// FullScale is the magnitude that maps to 1.0
func (f Format) FullScale() float64 {
	switch f {
	case CS12:
		return 2048
	case CS8:
		return 128
	}
	return 32768
}
