package lms7002m

import "github.com/pkg/errors"

// defaults is the power-on state of the registers the driver relies on
var defaults = []RegVal{
	{0x0020, 0xFFFD}, {0x0021, 0x0E9F}, {0x0022, 0x07DF}, {0x0023, 0x5559},
	{0x0024, 0xE4E4}, {0x0025, 0x0101}, {0x0026, 0x0101}, {0x0027, 0xE4E4},
	{0x0028, 0x0101}, {0x0029, 0x0101}, {0x002A, 0x0086}, {0x002B, 0x0010},
	{0x002C, 0xFFFF}, {0x002E, 0x0000}, {0x0081, 0x0000}, {0x0082, 0x800B},
	{0x0084, 0x0400}, {0x0085, 0x0001}, {0x0086, 0x4901}, {0x0087, 0x0400},
	{0x0088, 0x0780}, {0x0089, 0x0020}, {0x008A, 0x0514}, {0x008B, 0x1900},
	{0x008C, 0x067B}, {0x0091, 0x0000}, {0x0092, 0x0001}, {0x0093, 0x0000},
	{0x0100, 0x3408}, {0x0101, 0x7800}, {0x0103, 0x0612}, {0x0105, 0x0006},
	{0x0108, 0x218C}, {0x0109, 0x6100}, {0x010C, 0x88FC}, {0x010D, 0x009E},
	{0x0113, 0x03C3}, {0x0115, 0x0008}, {0x0116, 0x8180}, {0x0119, 0x18CB},
	{0x011C, 0xAD43}, {0x011D, 0x0400}, {0x011E, 0x0780}, {0x011F, 0x3640},
	{0x0121, 0x3404}, {0x0123, 0x033F}, {0x0124, 0x0000}, {0x0200, 0x0080},
	{0x0203, 0x0000}, {0x0400, 0x0080}, {0x0403, 0x0000},
}

// Defaults returns a copy of the power-on register table
func Defaults() []RegVal {
	return append([]RegVal(nil), defaults...)
}

// Reset brings the chip to a known state.
//
// ResetFull pulses the hardware reset line when the board provides one and then
// writes the defaults table for both channels.  ResetSoft touches three registers:
// the logic reset bits in 0x0020 are cleared and restored, and the MIMO and
// interface configuration in 0x002E and 0x0023 go back to their defaults.
func (c *Chip) Reset(mode ResetMode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log.Debugw("resetting chip", "mode", mode)
	switch mode {
	case ResetFull:
		if c.HardwareReset != nil {
			if err := c.HardwareReset(); err != nil {
				return errors.Wrap(err, "pulsing reset line")
			}
		}
		// 0x0020 holds MAC, so it is written last
		for _, mac := range []Channel{ChannelB, ChannelA} {
			if err := c.writeRegs([]RegVal{{MAC.Addr, MAC.insert(0xFFFD, uint16(mac))}}); err != nil {
				return err
			}
			if err := c.writeRegs(defaults[1:]); err != nil {
				return err
			}
		}
		return nil
	case ResetSoft:
		return c.writeRegs([]RegVal{
			{0x0020, 0x0000},
			{0x0020, 0xFFFD},
			{0x002E, 0x0000},
			{0x0023, 0x5559},
		})
	default:
		return errors.Errorf("lms7002m: unknown reset mode %q", mode)
	}
}
