/*Package bringup takes an LMS7002M from reset to a streaming-ready state.

The sequence is strictly ordered and stops at the first failure; nothing that
already ran is undone.  Each failure is reported as a *StepError naming the
step, which matches one of the package sentinels under errors.Is.
*/
package bringup

import (
	"context"
	"fmt"
	"time"

	"github.com/fairwaves/xtrx/lms7002m"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	// ErrChipResetFailed is generated when the chip could not be reset
	ErrChipResetFailed = errors.New("bringup: chip reset failed")

	// ErrConfigFailed is generated when a register configuration step fails
	ErrConfigFailed = errors.New("bringup: register configuration failed")

	// ErrCalibrationFailed is generated when a channel fails calibration
	ErrCalibrationFailed = errors.New("bringup: calibration failed")

	// ErrFrequencyFailed is generated when the LO frequencies cannot be restored
	ErrFrequencyFailed = errors.New("bringup: frequency configuration failed")

	// ErrRateConfigFailed is generated when the master clock cannot be set
	ErrRateConfigFailed = errors.New("bringup: sample rate configuration failed")
)

// DefaultMasterRate is the sample rate programmed at the end of bring-up
const DefaultMasterRate = 10e6

// DefaultRateFactor is the oversampling factor used with the master rate
const DefaultRateFactor = 2

// Radio is what the sequencer drives.  Channel-scoped calls act on the channel
// selected by the last SetMAC.
type Radio interface {
	ResetChip(ctx context.Context) error
	SetMAC(ch lms7002m.Channel) error

	// ApplyBaseline writes the profile register table, or only its
	// channel-specific part
	ApplyBaseline(channelOnly bool) error
	XBufConfig() error
	EnableLDO(on bool) error
	CalibrateTxGain(ctx context.Context, ch lms7002m.Channel) error
	EnableChannel(dir lms7002m.Direction, on bool) error

	// RefreshFrequency programs the stored LO frequency of dir again
	RefreshFrequency(dir lms7002m.Direction) error
	SetMasterRate(rate float64, factor int) error
}

// Step identifies one stage of bring-up
type Step int

const (
	// StepReset resets the chip
	StepReset Step = iota

	// StepBaseline selects channel A and writes the register table
	StepBaseline

	// StepLDO powers the LDOs
	StepLDO

	// StepCalibrateA calibrates channel A
	StepCalibrateA

	// StepEnableA enables RX and TX of channel A
	StepEnableA

	// StepBaselineB selects channel B and writes its part of the table
	StepBaselineB

	// StepCalibrateB calibrates channel B
	StepCalibrateB

	// StepEnableB enables RX and TX of channel B
	StepEnableB

	// StepSelectA selects channel A again
	StepSelectA

	// StepFrequency restores the RX and TX LO frequencies
	StepFrequency

	// StepRate programs the master sample rate
	StepRate
)

var stepNames = [...]string{
	"reset",
	"baseline",
	"ldo",
	"calibrate-a",
	"enable-a",
	"baseline-b",
	"calibrate-b",
	"enable-b",
	"select-a",
	"frequency",
	"rate",
}

func (s Step) String() string {
	if s < 0 || int(s) >= len(stepNames) {
		return fmt.Sprintf("step(%d)", int(s))
	}
	return stepNames[s]
}

// Sentinel returns the package error a failure in s matches
func (s Step) Sentinel() error {
	switch s {
	case StepReset:
		return ErrChipResetFailed
	case StepCalibrateA, StepCalibrateB:
		return ErrCalibrationFailed
	case StepFrequency:
		return ErrFrequencyFailed
	case StepRate:
		return ErrRateConfigFailed
	default:
		return ErrConfigFailed
	}
}

// StepError is a bring-up failure
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: step %s: %v", e.Step.Sentinel(), e.Step, e.Err)
}

// Unwrap returns the underlying cause
func (e *StepError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the failed step
func (e *StepError) Is(target error) bool {
	return target == e.Step.Sentinel()
}

// Sequencer runs bring-up against a Radio
type Sequencer struct {
	Radio Radio

	// Rate and Factor are passed to SetMasterRate; zero values take the defaults
	Rate   float64
	Factor int

	Log *zap.SugaredLogger
}

// New returns a Sequencer with the default master rate
func New(r Radio, log *zap.SugaredLogger) *Sequencer {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Sequencer{Radio: r, Rate: DefaultMasterRate, Factor: DefaultRateFactor, Log: log}
}

type stage struct {
	step Step
	fn   func(ctx context.Context) error
}

func (s *Sequencer) stages() []stage {
	r := s.Radio
	enable := func(context.Context) error {
		if err := r.EnableChannel(lms7002m.RX, true); err != nil {
			return err
		}
		return r.EnableChannel(lms7002m.TX, true)
	}
	return []stage{
		{StepReset, r.ResetChip},
		{StepBaseline, func(context.Context) error {
			if err := r.SetMAC(lms7002m.ChannelA); err != nil {
				return err
			}
			if err := r.ApplyBaseline(false); err != nil {
				return err
			}
			return r.XBufConfig()
		}},
		{StepLDO, func(context.Context) error { return r.EnableLDO(true) }},
		{StepCalibrateA, func(ctx context.Context) error { return r.CalibrateTxGain(ctx, lms7002m.ChannelA) }},
		{StepEnableA, enable},
		{StepBaselineB, func(context.Context) error {
			if err := r.SetMAC(lms7002m.ChannelB); err != nil {
				return err
			}
			return r.ApplyBaseline(true)
		}},
		{StepCalibrateB, func(ctx context.Context) error { return r.CalibrateTxGain(ctx, lms7002m.ChannelB) }},
		{StepEnableB, enable},
		{StepSelectA, func(context.Context) error { return r.SetMAC(lms7002m.ChannelA) }},
		{StepFrequency, func(context.Context) error {
			if err := r.RefreshFrequency(lms7002m.RX); err != nil {
				return err
			}
			return r.RefreshFrequency(lms7002m.TX)
		}},
		{StepRate, func(context.Context) error {
			rate, factor := s.Rate, s.Factor
			if rate == 0 {
				rate = DefaultMasterRate
			}
			if factor == 0 {
				factor = DefaultRateFactor
			}
			return r.SetMasterRate(rate, factor)
		}},
	}
}

// Run executes every step in order and returns the first failure as a *StepError
func (s *Sequencer) Run(ctx context.Context) error {
	log := s.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	start := time.Now()
	for _, st := range s.stages() {
		err := ctx.Err()
		if err == nil {
			err = st.fn(ctx)
		}
		if err != nil {
			log.Errorw("bring-up failed", "step", st.step.String(), "error", err)
			return &StepError{Step: st.step, Err: err}
		}
		log.Debugw("bring-up step done", "step", st.step.String())
	}
	log.Infow("bring-up complete", "elapsed", time.Since(start))
	return nil
}
