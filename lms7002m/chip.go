/*Package lms7002m controls the LMS7002M RF transceiver over SPI.

The chip is a bank of 16-bit registers.  Each SPI word carries a write flag in
bit 31, the register address in bits 30:16 and the data in bits 15:0.  Most
registers above 0x0100 exist once per channel; the MAC field selects which
channel (A=1, B=2) subsequent accesses reach, and also whether the shared
synthesizer registers address the receive (MAC=1) or transmit (MAC=2) PLL.

Calibration algorithms are not part of this package; a Calibrator is plugged in.
*/
package lms7002m

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/spi"
)

var (
	// ErrReadback is generated when a register does not hold what was written to it
	ErrReadback = errors.New("lms7002m: readback mismatch")

	// ErrOutOfRange is generated when a requested setting cannot be represented
	ErrOutOfRange = errors.New("lms7002m: value out of range")

	// ErrBandwidthUnset is generated when calibration is attempted before a bandwidth is known
	ErrBandwidthUnset = errors.New("lms7002m: bandwidth must be set before calibration")
)

// DefaultRefClock is the XTRX reference oscillator frequency
const DefaultRefClock = 26e6

// Direction selects the receive or transmit half of a channel
type Direction int

const (
	// RX is the receive path
	RX Direction = iota

	// TX is the transmit path
	TX
)

func (d Direction) String() string {
	if d == TX {
		return "tx"
	}
	return "rx"
}

// Channel is a MAC value
type Channel uint16

const (
	// ChannelA is the first channel
	ChannelA Channel = 1

	// ChannelB is the second channel
	ChannelB Channel = 2

	// ChannelAB addresses both channels at once
	ChannelAB Channel = 3
)

// RegVal is a register address and the value to put there
type RegVal struct {
	Addr uint16 `yaml:"Addr"`
	Val  uint16 `yaml:"Val"`
}

func (r RegVal) String() string {
	return fmt.Sprintf("0x%04x=0x%04x", r.Addr, r.Val)
}

// Chip is an LMS7002M reached through an SPI connection.
// All methods are safe for concurrent use; each holds the chip lock for its duration.
type Chip struct {
	// RefClock is the synthesizer reference frequency in Hz
	RefClock float64

	// HardwareReset pulses the chip's reset line, if the board has one
	HardwareReset func() error

	conn spi.Conn
	log  *zap.SugaredLogger
	mu   sync.Mutex
}

// New returns a Chip on conn with the XTRX reference clock
func New(conn spi.Conn, log *zap.SugaredLogger) *Chip {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Chip{RefClock: DefaultRefClock, conn: conn, log: log}
}

func writeWord(addr, val uint16) uint32 {
	return 1<<31 | uint32(addr&0x7fff)<<16 | uint32(val)
}

func readWord(addr uint16) uint32 {
	return uint32(addr&0x7fff) << 16
}

func (c *Chip) tx(words []uint32, readback bool) ([]uint32, error) {
	w := make([]byte, 4*len(words))
	for i, v := range words {
		binary.BigEndian.PutUint32(w[4*i:], v)
	}
	var r []byte
	if readback {
		r = make([]byte, len(w))
	}
	if err := c.conn.Tx(w, r); err != nil {
		return nil, err
	}
	if !readback {
		return nil, nil
	}
	out := make([]uint32, len(words))
	for i := range out {
		out[i] = binary.BigEndian.Uint32(r[4*i:]) & 0xffff
	}
	return out, nil
}

func (c *Chip) writeRegs(regs []RegVal) error {
	words := make([]uint32, len(regs))
	for i, r := range regs {
		words[i] = writeWord(r.Addr, r.Val)
	}
	_, err := c.tx(words, false)
	return err
}

func (c *Chip) readReg(addr uint16) (uint16, error) {
	out, err := c.tx([]uint32{readWord(addr)}, true)
	if err != nil {
		return 0, err
	}
	return uint16(out[0]), nil
}

func (c *Chip) modify(p Param, v uint16) error {
	if v > p.Max() {
		return errors.Wrapf(ErrOutOfRange, "%s=%d exceeds %d", p.Name, v, p.Max())
	}
	reg, err := c.readReg(p.Addr)
	if err != nil {
		return errors.Wrapf(err, "reading %s", p.Name)
	}
	err = c.writeRegs([]RegVal{{p.Addr, p.insert(reg, v)}})
	return errors.Wrapf(err, "writing %s", p.Name)
}

func (c *Chip) read(p Param) (uint16, error) {
	reg, err := c.readReg(p.Addr)
	return p.extract(reg), err
}

// WriteRegister writes a whole register
func (c *Chip) WriteRegister(addr, val uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeRegs([]RegVal{{addr, val}})
}

// ReadRegister reads a whole register
func (c *Chip) ReadRegister(addr uint16) (uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readReg(addr)
}

// WriteRegisters writes a table in one SPI transaction
func (c *Chip) WriteRegisters(regs []RegVal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeRegs(regs)
}

// Modify sets one field, leaving the rest of its register alone
func (c *Chip) Modify(p Param, v uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.modify(p, v)
}

// Read returns the value of one field
func (c *Chip) Read(p Param) (uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.read(p)
}

// Verify reads p back and fails with ErrReadback unless it holds want
func (c *Chip) Verify(p Param, want uint16) error {
	got, err := c.Read(p)
	if err != nil {
		return err
	}
	if got != want {
		return errors.Wrapf(ErrReadback, "%s holds %d, wrote %d", p.Name, got, want)
	}
	return nil
}

// SetMAC selects the channel later accesses reach
func (c *Chip) SetMAC(ch Channel) error {
	return c.Modify(MAC, uint16(ch))
}

// GetMAC returns the selected channel
func (c *Chip) GetMAC() (Channel, error) {
	v, err := c.Read(MAC)
	return Channel(v), err
}

// EnableLDO switches every LDO of the channel-independent blocks.
// Each bit is written with an absolute value, so repeating the call is harmless.
func (c *Chip) EnableLDO(on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	val := uint16(0)
	if on {
		val = 1
	}
	for _, p := range ldoEnables {
		if err := c.modify(p, val); err != nil {
			return err
		}
	}
	if err := c.modify(EN_LOADIMP_LDO_TLOB, 1); err != nil {
		return err
	}
	for _, p := range []Param{PD_LDO_DIGIp1, PD_LDO_DIGIp2, PD_LDO_SPIBUF} {
		if err := c.modify(p, val); err != nil {
			return err
		}
	}
	return nil
}

// EnableChannel powers the receive or transmit path of the channel selected by MAC
func (c *Chip) EnableChannel(dir Direction, on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	val := uint16(0)
	if on {
		val = 1
	}
	params := []Param{EN_G_RFE, EN_G_RBB, EN_RXTSP}
	if dir == TX {
		params = []Param{EN_G_TRF, EN_G_TBB, EN_TXTSP}
	}
	for _, p := range params {
		if err := c.modify(p, val); err != nil {
			return err
		}
	}
	dirs, err := c.read(EN_DIR_SXRSXT)
	if err != nil {
		return err
	}
	// EN_DIR bits: SXX, RBB, RFE, TBB, TRF from MSB to LSB
	mask := uint16(0x0c)
	if dir == TX {
		mask = 0x03
	}
	if on {
		dirs |= mask | 0x10
	} else {
		dirs &^= mask
	}
	return c.modify(EN_DIR_SXRSXT, dirs)
}

// XBufConfig routes the XTRX reference clock buffers
func (c *Chip) XBufConfig() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.modify(EN_OUT2_XBUF_TX, 1); err != nil {
		return err
	}
	return c.modify(EN_TBUFIN_XBUF_RX, 1)
}
