package lms7002m

import (
	"math"

	"github.com/fairwaves/xtrx/mathx"
	"github.com/pkg/errors"
)

// GainRange is the span of one gain stage in dB
type GainRange struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Step float64 `json:"step"`
}

// gain stages, in the order SetGain fills them
var (
	rxStages = []string{"LNA", "TIA", "PGA"}
	txStages = []string{"PAD"}

	stageRanges = map[string]GainRange{
		"LNA": {0, 30, 1},
		"TIA": {0, 12, 3},
		"PGA": {-12, 19, 1},
		"PAD": {0, 52, 1},
	}
)

// Stages lists the gain stages of a direction
func Stages(dir Direction) []string {
	if dir == TX {
		return append([]string(nil), txStages...)
	}
	return append([]string(nil), rxStages...)
}

// StageRange returns the range of a named stage
func StageRange(stage string) (GainRange, bool) {
	r, ok := stageRanges[stage]
	return r, ok
}

// TotalRange returns the overall gain range of a direction
func TotalRange(dir Direction) GainRange {
	var out GainRange
	out.Step = 1
	for _, s := range Stages(dir) {
		r := stageRanges[s]
		out.Min += r.Min
		out.Max += r.Max
	}
	return out
}

// SetStageGain programs one gain stage of the channel selected by MAC and returns the gain set
func (c *Chip) SetStageGain(dir Direction, stage string, db float64) (float64, error) {
	r, ok := stageRanges[stage]
	if !ok {
		return 0, errors.Wrapf(ErrOutOfRange, "no gain stage %q", stage)
	}
	db = mathx.Clamp(db, r.Min, r.Max)
	c.mu.Lock()
	defer c.mu.Unlock()
	switch stage {
	case "LNA":
		// codes 1..15, the top 9 in 1 dB steps and the rest in 3 dB steps
		loss := r.Max - db
		var code float64
		if loss <= 8 {
			code = 15 - math.Round(loss)
		} else {
			code = 7 - math.Round((loss-8)/3)
		}
		code = mathx.Clamp(code, 1, 15)
		err := c.modify(G_LNA_RFE, uint16(code))
		return lnaGain(uint16(code)), err
	case "TIA":
		code := uint16(1)
		actual := 0.
		switch {
		case db >= 12:
			code, actual = 3, 12
		case db >= 9:
			code, actual = 2, 9
		}
		return actual, c.modify(G_TIA_RFE, code)
	case "PGA":
		code := uint16(mathx.Round(db-r.Min, 1))
		return float64(code) + r.Min, c.modify(G_PGA_RBB, code)
	default:
		// PAD: attenuation in 1 dB steps up to 10 dB, then 2 dB steps
		loss := r.Max - db
		var code uint16
		if loss <= 10 {
			code = uint16(mathx.Round(loss, 1))
		} else {
			code = uint16(mathx.Clamp(10+mathx.Round((loss-10)/2, 1), 0, 31))
		}
		if err := c.modify(LOSS_MAIN_TXPAD_TRF, code); err != nil {
			return 0, err
		}
		return padGain(code), c.modify(LOSS_LIN_TXPAD_TRF, code)
	}
}

// StageGain reads one gain stage back
func (c *Chip) StageGain(dir Direction, stage string) (float64, error) {
	r, ok := stageRanges[stage]
	if !ok {
		return 0, errors.Wrapf(ErrOutOfRange, "no gain stage %q", stage)
	}
	switch stage {
	case "LNA":
		code, err := c.Read(G_LNA_RFE)
		return lnaGain(code), err
	case "TIA":
		code, err := c.Read(G_TIA_RFE)
		return map[uint16]float64{1: 0, 2: 9, 3: 12}[code], err
	case "PGA":
		code, err := c.Read(G_PGA_RBB)
		return float64(code) + r.Min, err
	default:
		code, err := c.Read(LOSS_MAIN_TXPAD_TRF)
		return padGain(code), err
	}
}

func lnaGain(code uint16) float64 {
	if code >= 7 {
		return 30 - float64(15-code)
	}
	return 30 - 8 - 3*float64(7-code)
}

func padGain(code uint16) float64 {
	if code <= 10 {
		return 52 - float64(code)
	}
	return 52 - 10 - 2*float64(code-10)
}

// SetGain spreads an overall gain over the stages of dir, filling the stages
// nearest the antenna first, and returns the total actually set
func (c *Chip) SetGain(dir Direction, db float64) (float64, error) {
	tr := TotalRange(dir)
	db = mathx.Clamp(db, tr.Min, tr.Max)
	remaining := db - tr.Min
	total := 0.
	for _, s := range Stages(dir) {
		r := stageRanges[s]
		want := r.Min + math.Min(remaining, r.Max-r.Min)
		got, err := c.SetStageGain(dir, s, want)
		if err != nil {
			return total, err
		}
		remaining -= got - r.Min
		total += got
	}
	return total, nil
}

// Path is an RF port
type Path uint16

// RX ports take SEL_PATH_RFE values; TX ports are bands 1 and 2
const (
	PathNone  Path = 0
	PathLNAH  Path = 1
	PathLNAL  Path = 2
	PathLNAW  Path = 3
	PathBand1 Path = 1
	PathBand2 Path = 2
)

// SetPath selects the RF port of the channel selected by MAC
func (c *Chip) SetPath(dir Direction, p Path) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if dir == RX {
		return c.modify(SEL_PATH_RFE, uint16(p))
	}
	b1, b2 := uint16(0), uint16(0)
	switch p {
	case PathBand1:
		b1 = 1
	case PathBand2:
		b2 = 1
	case PathNone:
	default:
		return errors.Wrapf(ErrOutOfRange, "tx band %d", p)
	}
	if err := c.modify(SEL_BAND1_TRF, b1); err != nil {
		return err
	}
	return c.modify(SEL_BAND2_TRF, b2)
}

// GetPath reads the selected RF port
func (c *Chip) GetPath(dir Direction) (Path, error) {
	if dir == RX {
		v, err := c.Read(SEL_PATH_RFE)
		return Path(v), err
	}
	b1, err := c.Read(SEL_BAND1_TRF)
	if err != nil {
		return PathNone, err
	}
	b2, err := c.Read(SEL_BAND2_TRF)
	switch {
	case b1 == 1:
		return PathBand1, err
	case b2 == 1:
		return PathBand2, err
	}
	return PathNone, err
}

// low pass filter limits, Hz
const (
	rxLPFMax = 130e6
	txLPFMax = 160e6
	lpfMin   = 1.4e6
)

// SetLPF programs the baseband filter of the channel selected by MAC to the
// nearest code at or above hz, and returns the resulting bandwidth.
// This is the coarse setting only; tuning the filter corner precisely is the calibrator's job.
func (c *Chip) SetLPF(dir Direction, hz float64) (float64, error) {
	top, p, pd := rxLPFMax, R_CTL_LPF_RBB, PD_LPFL_RBB
	if dir == TX {
		top, p, pd = txLPFMax, RCAL_LPFH_TBB, PD_LPFH_TBB
	}
	if hz < lpfMin || hz > top {
		return 0, errors.Wrapf(ErrOutOfRange, "%s bandwidth %.0f Hz", dir, hz)
	}
	steps := float64(p.Max())
	code := uint16(math.Ceil(hz / top * steps))
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.modify(pd, 0); err != nil {
		return 0, err
	}
	if err := c.modify(p, code); err != nil {
		return 0, err
	}
	return float64(code) / steps * top, nil
}
