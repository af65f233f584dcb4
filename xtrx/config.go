package xtrx

import (
	"encoding/json"
	"strconv"
)

// Optional is a value that may not have been set yet
type Optional struct {
	Value float64
	Valid bool
}

// Some returns a set Optional
func Some(v float64) Optional {
	return Optional{Value: v, Valid: true}
}

// Get returns the value and whether it is set
func (o Optional) Get() (float64, bool) {
	return o.Value, o.Valid
}

func (o Optional) String() string {
	if !o.Valid {
		return "unset"
	}
	return strconv.FormatFloat(o.Value, 'g', -1, 64)
}

// MarshalJSON renders an unset value as null
func (o Optional) MarshalJSON() ([]byte, error) {
	if !o.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

// ChannelConfig is the RF configuration of one channel in one direction
type ChannelConfig struct {
	Frequency   Optional `json:"frequency"`
	Bandwidth   Optional `json:"bandwidth"`
	RFBandwidth Optional `json:"rfBandwidth"`

	// CalBW is the bandwidth calibration runs at; seeded from the profile
	CalBW Optional `json:"calBandwidth"`

	GFIRBandwidth Optional `json:"gfirBandwidth"`
	DCTest        Optional `json:"dcTest"`

	Gain      float64    `json:"gain"`
	Antenna   string     `json:"antenna"`
	DCOffset  complex128 `json:"-"`
	IQBalance complex128 `json:"-"`
}

// Target is the memory a stream's DMA buffers live in
type Target int

const (
	// CPU is host memory
	CPU Target = iota

	// GPU is device memory of a GPU
	GPU
)

func (t Target) String() string {
	if t == GPU {
		return "gpu"
	}
	return "cpu"
}
