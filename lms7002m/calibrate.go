package lms7002m

import (
	"context"

	"github.com/pkg/errors"
)

// Calibrator runs the chip calibration routines.  Implementations receive the
// chip with the channel to calibrate already selected by MAC.
type Calibrator interface {
	// CalibrateTxGain trims the transmit baseband gain for a bandwidth in Hz
	CalibrateTxGain(ctx context.Context, c *Chip, bandwidth float64) error
}

// NominalIAMP is the CG_IAMP_TBB code for unity gain through the TBB
const NominalIAMP = 12

// NominalCalibrator programs the nominal transmit gain instead of measuring it,
// and checks that the chip took the setting
type NominalCalibrator struct{}

// CalibrateTxGain implements Calibrator
func (NominalCalibrator) CalibrateTxGain(ctx context.Context, c *Chip, bandwidth float64) error {
	if bandwidth <= 0 {
		return ErrBandwidthUnset
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := c.SetLPF(TX, bandwidth); err != nil {
		return errors.Wrap(err, "configuring tx filter")
	}
	if err := c.Modify(CG_IAMP_TBB, NominalIAMP); err != nil {
		return err
	}
	return c.Verify(CG_IAMP_TBB, NominalIAMP)
}
