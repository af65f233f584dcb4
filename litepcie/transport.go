package litepcie

import (
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// CSR is raw access to single 32-bit control/status registers
type CSR interface {
	ReadCSR(addr uint32) (uint32, error)
	WriteCSR(addr, val uint32) error
}

// Transport serializes register and SPI access to the gateware.
//
// Batches are validated against the CSR window before any register is touched,
// so a rejected call has no effect.  Elements of an accepted batch are applied
// in order and are not rolled back if a later element fails.
type Transport struct {
	// Map holds the register layout
	Map CSRMap

	// SPITimeout bounds the wait for the SPI done bit of a single word.
	// Zero or less means DefaultSPITimeout.
	SPITimeout time.Duration

	mu  sync.Mutex
	csr CSR
}

// NewTransport returns a Transport over csr with the given layout
func NewTransport(csr CSR, m CSRMap) *Transport {
	return &Transport{Map: m, SPITimeout: DefaultSPITimeout, csr: csr}
}

// Detach disconnects the transport from its backend; every later call fails with ErrNotConnected.
// The backend itself is not closed.
func (t *Transport) Detach() {
	t.mu.Lock()
	t.csr = nil
	t.mu.Unlock()
}

func (t *Transport) check(addrs []uint32, n int) error {
	if t.csr == nil {
		return ErrNotConnected
	}
	if len(addrs) != n {
		return errors.Wrapf(ErrInvalidArgument, "%d addresses for %d values", len(addrs), n)
	}
	for _, a := range addrs {
		if !t.Map.Contains(a) {
			return errors.Wrapf(ErrInvalidRegister, "attempt to access invalid register 0x%x", a)
		}
	}
	return nil
}

// WriteRegisters writes vals[i] to addrs[i] for every i
func (t *Transport) WriteRegisters(addrs, vals []uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.check(addrs, len(vals)); err != nil {
		return err
	}
	for i, a := range addrs {
		if err := t.csr.WriteCSR(a, vals[i]); err != nil {
			return errors.Wrapf(err, "writing register 0x%x", a)
		}
	}
	return nil
}

// ReadRegisters reads addrs[i] into vals[i] for every i
func (t *Transport) ReadRegisters(addrs, vals []uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.check(addrs, len(vals)); err != nil {
		return err
	}
	for i, a := range addrs {
		v, err := t.csr.ReadCSR(a)
		if err != nil {
			return errors.Wrapf(err, "reading register 0x%x", a)
		}
		vals[i] = v
	}
	return nil
}

// WriteRegister writes a single register
func (t *Transport) WriteRegister(addr, val uint32) error {
	return t.WriteRegisters([]uint32{addr}, []uint32{val})
}

// ReadRegister reads a single register
func (t *Transport) ReadRegister(addr uint32) (uint32, error) {
	v := []uint32{0}
	err := t.ReadRegisters([]uint32{addr}, v)
	return v[0], err
}

// DeviceReset pulses the LMS7002M reset bit.  There is no acknowledgement to wait for.
func (t *Transport) DeviceReset() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.csr == nil {
		return ErrNotConnected
	}
	if err := t.csr.WriteCSR(t.Map.LMSControl, 1<<t.Map.LMSResetBit); err != nil {
		return err
	}
	return t.csr.WriteCSR(t.Map.LMSControl, 0)
}

// Identifier reads the gateware identifier string, one character per word
func (t *Transport) Identifier() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.csr == nil {
		return "", ErrNotConnected
	}
	var b strings.Builder
	for i := uint32(0); i < IdentifierWords; i++ {
		v, err := t.csr.ReadCSR(t.Map.IdentifierMem + 4*i)
		if err != nil {
			return b.String(), err
		}
		c := byte(v)
		if c == 0 {
			break
		}
		b.WriteByte(c)
	}
	return b.String(), nil
}
