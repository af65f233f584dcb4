package xtrx

import (
	"github.com/fairwaves/xtrx/litepcie"
	"github.com/fairwaves/xtrx/lms7002m"
	"github.com/fairwaves/xtrx/stream"
	"github.com/pkg/errors"
)

// antenna names per direction, indexed by lms7002m.Path
var antennas = [2][]string{
	RX: {"NONE", "LNAH", "LNAL", "LNAW"},
	TX: {"NONE", "BAND1", "BAND2"},
}

func defaultAntenna(dir Direction) string {
	if dir == TX {
		return "BAND1"
	}
	return "LNAW"
}

// sample rates known to have a clock plan
var sampleRates = []float64{1e6, 2e6, 4e6, 5e6, 8e6, 10e6, 15.36e6, 20e6, 30.72e6, 40e6, 61.44e6}

func (d *Device) config(dir Direction, ch int) (ChannelConfig, error) {
	if _, err := checkTarget(dir, ch); err != nil {
		return ChannelConfig{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg[dir][ch], nil
}

// Config returns the stored configuration of a channel
func (d *Device) Config(dir Direction, ch int) (ChannelConfig, error) {
	return d.config(dir, ch)
}

// SetFrequency tunes the LO of dir.  The synthesizer is shared by both
// channels, so ch only selects which configuration is reported back.
func (d *Device) SetFrequency(dir Direction, ch int, hz float64) (float64, error) {
	var actual float64
	err := d.onChannel(dir, ch, func() error {
		var err error
		actual, err = d.chip.SetFrequency(lmsDir(dir), hz)
		if err != nil {
			return err
		}
		for i := range d.cfg[dir] {
			d.cfg[dir][i].Frequency = Some(actual)
		}
		return nil
	})
	if err == nil {
		d.updateSettings(dir)
	}
	return actual, err
}

// GetFrequency returns the LO frequency of dir as programmed in the chip
func (d *Device) GetFrequency(dir Direction, ch int) (float64, error) {
	var hz float64
	err := d.onChannel(dir, ch, func() error {
		var err error
		hz, err = d.chip.GetFrequency(lmsDir(dir))
		return err
	})
	return hz, err
}

// FrequencyRange is the tuning range of the synthesizers
func (d *Device) FrequencyRange(dir Direction, ch int) (lo, hi float64) {
	return lms7002m.MinFrequency, lms7002m.MaxFrequency
}

// SetGain spreads db over the gain stages of a channel
func (d *Device) SetGain(dir Direction, ch int, db float64) (float64, error) {
	var actual float64
	err := d.onChannel(dir, ch, func() error {
		var err error
		actual, err = d.chip.SetGain(lmsDir(dir), db)
		if err != nil {
			return err
		}
		d.cfg[dir][ch].Gain = actual
		return nil
	})
	if err == nil {
		d.updateSettings(dir)
	}
	return actual, err
}

// SetGainElement sets one named gain stage
func (d *Device) SetGainElement(dir Direction, ch int, name string, db float64) (float64, error) {
	var actual float64
	err := d.onChannel(dir, ch, func() error {
		var err error
		actual, err = d.chip.SetStageGain(lmsDir(dir), name, db)
		return err
	})
	return actual, err
}

// GetGain returns the total gain of a channel, read from the chip
func (d *Device) GetGain(dir Direction, ch int) (float64, error) {
	var total float64
	err := d.onChannel(dir, ch, func() error {
		for _, s := range lms7002m.Stages(lmsDir(dir)) {
			g, err := d.chip.StageGain(lmsDir(dir), s)
			if err != nil {
				return err
			}
			total += g
		}
		return nil
	})
	return total, err
}

// ListGains names the gain stages of dir
func (d *Device) ListGains(dir Direction, ch int) []string {
	return lms7002m.Stages(lmsDir(dir))
}

// GainRange is the range of a named stage, or of the whole chain when name is empty
func (d *Device) GainRange(dir Direction, ch int, name string) (lms7002m.GainRange, error) {
	if name == "" {
		return lms7002m.TotalRange(lmsDir(dir)), nil
	}
	r, ok := lms7002m.StageRange(name)
	if !ok {
		return r, errors.Wrapf(litepcie.ErrInvalidArgument, "no gain stage %q", name)
	}
	return r, nil
}

// SetBandwidth sets the baseband filter of a channel.  The bandwidth also
// becomes the channel's calibration bandwidth.
func (d *Device) SetBandwidth(dir Direction, ch int, hz float64) (float64, error) {
	var actual float64
	err := d.onChannel(dir, ch, func() error {
		var err error
		actual, err = d.chip.SetLPF(lmsDir(dir), hz)
		if err != nil {
			return err
		}
		c := &d.cfg[dir][ch]
		c.Bandwidth = Some(actual)
		c.RFBandwidth = Some(hz)
		c.CalBW = Some(hz)
		return nil
	})
	if err == nil {
		d.updateSettings(dir)
	}
	return actual, err
}

// GetBandwidth returns the configured baseband bandwidth
func (d *Device) GetBandwidth(dir Direction, ch int) (Optional, error) {
	c, err := d.config(dir, ch)
	return c.Bandwidth, err
}

// SetSampleRate programs the clock generator for rate with DefaultOversample.
// The rate is common to both directions and channels.
func (d *Device) SetSampleRate(dir Direction, ch int, rate float64) (float64, error) {
	var actual float64
	err := d.onChannel(dir, ch, func() error {
		var err error
		actual, err = d.chip.SetSampleRate(rate, DefaultOversample)
		if err != nil {
			return err
		}
		d.sampleRate = Some(actual)
		return nil
	})
	if err == nil {
		d.streams.SetSampleRate(actual)
	}
	return actual, err
}

// GetSampleRate returns the programmed sample rate, zero before one is set
func (d *Device) GetSampleRate(dir Direction, ch int) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sampleRate.Value
}

// GetNumChannels is the number of channels of dir
func (d *Device) GetNumChannels(dir Direction) int {
	return NumChannels
}

// ListSampleRates returns rates with a known clock plan
func (d *Device) ListSampleRates(dir Direction, ch int) []float64 {
	return append([]float64(nil), sampleRates...)
}

// SetAntenna selects the RF port of a channel
func (d *Device) SetAntenna(dir Direction, ch int, name string) error {
	if _, err := checkTarget(dir, ch); err != nil {
		return err
	}
	path := -1
	for i, a := range antennas[dir] {
		if a == name {
			path = i
		}
	}
	if path < 0 {
		return errors.Wrapf(litepcie.ErrInvalidArgument, "%s antenna %q", dir, name)
	}
	return d.onChannel(dir, ch, func() error {
		if err := d.chip.SetPath(lmsDir(dir), lms7002m.Path(path)); err != nil {
			return err
		}
		d.cfg[dir][ch].Antenna = name
		return nil
	})
}

// GetAntenna returns the RF port of a channel, read from the chip
func (d *Device) GetAntenna(dir Direction, ch int) (string, error) {
	var name string
	err := d.onChannel(dir, ch, func() error {
		p, err := d.chip.GetPath(lmsDir(dir))
		if err != nil {
			return err
		}
		if int(p) >= len(antennas[dir]) {
			return errors.Wrapf(lms7002m.ErrOutOfRange, "path %d", p)
		}
		name = antennas[dir][p]
		return nil
	})
	return name, err
}

// ListAntennas names the RF ports of dir
func (d *Device) ListAntennas(dir Direction, ch int) []string {
	if dir != RX && dir != TX {
		return nil
	}
	return append([]string(nil), antennas[dir]...)
}

// SetDCOffset stores a DC correction for a channel
func (d *Device) SetDCOffset(dir Direction, ch int, v complex128) error {
	if _, err := checkTarget(dir, ch); err != nil {
		return err
	}
	d.mu.Lock()
	d.cfg[dir][ch].DCOffset = v
	d.mu.Unlock()
	return nil
}

// SetIQBalance stores an IQ imbalance correction for a channel
func (d *Device) SetIQBalance(dir Direction, ch int, v complex128) error {
	if _, err := checkTarget(dir, ch); err != nil {
		return err
	}
	d.mu.Lock()
	d.cfg[dir][ch].IQBalance = v
	d.mu.Unlock()
	return nil
}

// SensorLocked reports whether both synthesizers are locked
const SensorLocked = "lms_locked"

// ListSensors names the readable sensors
func (d *Device) ListSensors() []string {
	return []string{SensorLocked}
}

// ReadSensor reads a sensor as a string
func (d *Device) ReadSensor(name string) (string, error) {
	if name != SensorLocked {
		return "", errors.Wrapf(litepcie.ErrInvalidArgument, "no sensor %q", name)
	}
	if err := d.check(); err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, dir := range []lms7002m.Direction{lms7002m.RX, lms7002m.TX} {
		ok, err := d.chip.Locked(dir)
		if err != nil {
			return "", err
		}
		if !ok {
			return "false", nil
		}
	}
	return "true", nil
}

// GetHardwareTime returns the time of the newest received slot in ns
func (d *Device) GetHardwareTime() (int64, error) {
	if err := d.check(); err != nil {
		return 0, err
	}
	return d.streams.HardwareTime()
}

// updateSettings copies channel 0's configuration of dir onto its open stream
func (d *Device) updateSettings(dir Direction) {
	s := d.streams.Stream(dir)
	if s == nil {
		return
	}
	d.mu.Lock()
	c := d.cfg[dir][0]
	d.mu.Unlock()
	s.SetSettings(stream.Settings{Frequency: c.Frequency.Value, Gain: c.Gain, Bandwidth: c.Bandwidth.Value})
}
