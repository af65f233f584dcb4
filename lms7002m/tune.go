package lms7002m

import (
	"math"

	"github.com/fairwaves/xtrx/mathx"
	"github.com/pkg/errors"
)

// synthesizer VCO limits, Hz
const (
	vcoMin = 3800e6
	vcoMax = 7714e6

	// the prescaler halves the VCO above this frequency
	div2Threshold = 5.5e9

	fracBits = 20

	// MinFrequency is the lowest LO frequency the synthesizers reach
	MinFrequency = 30e6

	// MaxFrequency is the highest LO frequency the synthesizers reach
	MaxFrequency = 3800e6
)

// vcoRanges are the three VCO cores, low to high
var vcoRanges = [][2]float64{
	{3800e6, 5222e6},
	{4961e6, 6754e6},
	{6306e6, 7714e6},
}

// SXConfig is a synthesizer setting
type SXConfig struct {
	DivLOCH uint16
	Div2    bool
	IntSDM  uint16
	FracSDM uint32
	VCO     uint16
}

// Actual returns the LO frequency produced by s with reference clock ref
func (s SXConfig) Actual(ref float64) float64 {
	pre := 1.
	if s.Div2 {
		pre = 2
	}
	n := float64(s.IntSDM) + 4 + float64(s.FracSDM)/(1<<fracBits)
	fvco := ref * pre * n
	return fvco / float64(uint(2)<<s.DivLOCH)
}

// PlanSX computes the synthesizer setting for an LO frequency
func PlanSX(hz, ref float64) (SXConfig, error) {
	if hz < MinFrequency || hz > MaxFrequency {
		return SXConfig{}, errors.Wrapf(ErrOutOfRange, "lo frequency %.0f Hz", hz)
	}
	var s SXConfig
	var fvco float64
	for div := uint16(0); div <= DIV_LOCH.Max(); div++ {
		fvco = hz * float64(uint(2)<<div)
		if fvco >= vcoMin && fvco <= vcoMax {
			s.DivLOCH = div
			break
		}
	}
	if fvco < vcoMin || fvco > vcoMax {
		return SXConfig{}, errors.Wrapf(ErrOutOfRange, "no vco divider for %.0f Hz", hz)
	}
	for i, r := range vcoRanges {
		if fvco >= r[0] && fvco <= r[1] {
			s.VCO = uint16(i)
			break
		}
	}
	s.Div2 = fvco > div2Threshold
	pre := 1.
	if s.Div2 {
		pre = 2
	}
	n := fvco / (ref * pre)
	whole := math.Floor(n)
	frac := mathx.Round((n-whole)*(1<<fracBits), 1)
	if frac >= 1<<fracBits {
		whole++
		frac = 0
	}
	s.IntSDM = uint16(whole) - 4
	s.FracSDM = uint32(frac)
	return s, nil
}

func sxMAC(dir Direction) Channel {
	if dir == TX {
		return ChannelB
	}
	return ChannelA
}

// SetFrequency tunes the receive (SXR) or transmit (SXT) synthesizer and returns
// the frequency actually programmed.  The MAC selection is restored afterwards.
func (c *Chip) SetFrequency(dir Direction, hz float64) (float64, error) {
	s, err := PlanSX(hz, c.RefClock)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	err = c.withMAC(sxMAC(dir), func() error {
		div2 := uint16(0)
		if s.Div2 {
			div2 = 1
		}
		steps := []struct {
			p Param
			v uint16
		}{
			{EN_DIV2_DIVPROG, div2},
			{INT_SDM, s.IntSDM},
			{FRAC_SDM_MSB, uint16(s.FracSDM >> 16)},
			{FRAC_SDM_LSB, uint16(s.FracSDM)},
			{DIV_LOCH, s.DivLOCH},
			{SEL_VCO, s.VCO},
		}
		for _, st := range steps {
			if err := c.modify(st.p, st.v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	actual := s.Actual(c.RefClock)
	c.log.Debugw("tuned synthesizer", "dir", dir, "requested", hz, "actual", actual)
	return actual, nil
}

// GetFrequency reads the synthesizer setting back and returns its LO frequency
func (c *Chip) GetFrequency(dir Direction) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var s SXConfig
	err := c.withMAC(sxMAC(dir), func() error {
		vals := make([]uint16, 5)
		for i, p := range []Param{EN_DIV2_DIVPROG, INT_SDM, FRAC_SDM_MSB, FRAC_SDM_LSB, DIV_LOCH} {
			v, err := c.read(p)
			if err != nil {
				return err
			}
			vals[i] = v
		}
		s = SXConfig{Div2: vals[0] == 1, IntSDM: vals[1], FracSDM: uint32(vals[2])<<16 | uint32(vals[3]), DivLOCH: vals[4]}
		return nil
	})
	return s.Actual(c.RefClock), err
}

// Locked reports whether the synthesizer of dir reports lock
func (c *Chip) Locked(dir Direction) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var hi, lo uint16
	err := c.withMAC(sxMAC(dir), func() error {
		var err error
		if hi, err = c.read(VCO_CMPHO); err != nil {
			return err
		}
		lo, err = c.read(VCO_CMPLO)
		return err
	})
	// the tuning voltage sits between the comparator thresholds when locked
	return hi == 1 && lo == 0, err
}

// withMAC runs fn with ch selected, then puts the old selection back; c.mu must be held
func (c *Chip) withMAC(ch Channel, fn func() error) error {
	prev, err := c.read(MAC)
	if err != nil {
		return err
	}
	if err := c.modify(MAC, uint16(ch)); err != nil {
		return err
	}
	ferr := fn()
	if err := c.modify(MAC, prev); err != nil && ferr == nil {
		ferr = err
	}
	return ferr
}

// CGEN VCO limits, Hz
const (
	cgenMin = 1930e6
	cgenMax = 2940e6
)

// SetSampleRate programs the clock generator so the converters run at
// rate*oversample*4 and the TSP decimation and interpolation stages bring the
// interface back to rate.  oversample must be a power of two between 1 and 32.
// It returns the interface rate actually produced.
func (c *Chip) SetSampleRate(rate float64, oversample int) (float64, error) {
	if rate <= 0 || oversample < 1 || oversample > 32 || oversample&(oversample-1) != 0 {
		return 0, errors.Wrapf(ErrOutOfRange, "rate %.0f with oversample %d", rate, oversample)
	}
	cgen := rate * float64(oversample) * 4
	var div uint16
	var fvco float64
	found := false
	for d := 0; d <= int(DIV_OUTCH_CGEN.Max()); d++ {
		fvco = cgen * float64(2*(d+1))
		if fvco >= cgenMin && fvco <= cgenMax {
			div = uint16(d)
			found = true
			break
		}
	}
	if !found {
		return 0, errors.Wrapf(ErrOutOfRange, "no clock generator divider for %.0f Hz", cgen)
	}
	n := fvco / c.RefClock
	whole := math.Floor(n)
	frac := uint32(mathx.Round((n-whole)*(1<<fracBits), 1))
	hb := uint16(math.Log2(float64(oversample)))
	// a value of 7 bypasses the half-band chain
	hbVal := uint16(7)
	if hb > 0 {
		hbVal = hb - 1
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	steps := []struct {
		p Param
		v uint16
	}{
		{INT_SDM_CGEN, uint16(whole) - 1},
		{FRAC_SDM_CGEN_MSB, uint16(frac >> 16)},
		{FRAC_SDM_CGEN_LSB, uint16(frac)},
		{DIV_OUTCH_CGEN, div},
		{EN_ADCCLKH_CLKGN, 0},
	}
	for _, st := range steps {
		if err := c.modify(st.p, st.v); err != nil {
			return 0, err
		}
	}
	for _, ch := range []Channel{ChannelA, ChannelB} {
		err := c.withMAC(ch, func() error {
			if err := c.modify(HBD_OVR_RXTSP, hbVal); err != nil {
				return err
			}
			return c.modify(HBI_OVR_TXTSP, hbVal)
		})
		if err != nil {
			return 0, err
		}
	}
	actualVCO := c.RefClock * (whole + float64(frac)/(1<<fracBits))
	actual := actualVCO / float64(2*(div+1)) / 4 / float64(oversample)
	c.log.Debugw("set sample rate", "requested", rate, "actual", actual, "oversample", oversample)
	return actual, nil
}
