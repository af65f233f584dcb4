package litepcie

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/spi"
)

// SPIAddrLMS7002M is the logical SPI address of the RF chip, the only peripheral on the bus
const SPIAddrLMS7002M = 0x10

// DefaultSPITimeout is the default bound on a single SPI word transaction
const DefaultSPITimeout = 10 * time.Millisecond

const (
	spiStart  = 1 << 0
	spiDone   = 1 << 0
	spiLength = 1 << 8
	spiBits   = 32
)

var errSPIBusy = errors.New("spi busy")

// TransactSPI runs one SPI transaction per word of write against the peripheral at addr.
//
// When read is nil the words are written and nothing is read back.  When read is
// not nil it must be as long as write, and read[i] receives the low 16 bits the
// chip shifted out during write[i].  That is the result of the word just issued,
// not of an earlier one; independent reads need their own transaction.
func (t *Transport) TransactSPI(addr int, write, read []uint32) error {
	if addr != SPIAddrLMS7002M {
		return errors.Wrapf(ErrUnsupported, "unknown spi address 0x%x", addr)
	}
	if read != nil && len(read) != len(write) {
		return errors.Wrapf(ErrInvalidArgument, "spi read buffer holds %d words, need %d", len(read), len(write))
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.csr == nil {
		return ErrNotConnected
	}
	for i, w := range write {
		miso, err := t.spiWord(w, read != nil)
		if err != nil {
			return errors.Wrapf(err, "spi word %d of %d", i+1, len(write))
		}
		if read != nil {
			read[i] = miso
		}
	}
	return nil
}

func (t *Transport) spiWord(mosi uint32, readback bool) (uint32, error) {
	m := t.Map
	if err := t.csr.WriteCSR(m.SPIMOSI, mosi); err != nil {
		return 0, err
	}
	if err := t.csr.WriteCSR(m.SPIControl, spiBits*spiLength|spiStart); err != nil {
		return 0, err
	}
	if err := t.waitSPIDone(); err != nil {
		return 0, err
	}
	if !readback {
		return 0, nil
	}
	v, err := t.csr.ReadCSR(m.SPIMISO)
	return v & 0xffff, err
}

func (t *Transport) waitSPIDone() error {
	// a zero MaxElapsedTime would never give up
	limit := t.SPITimeout
	if limit <= 0 {
		limit = DefaultSPITimeout
	}
	op := func() error {
		st, err := t.csr.ReadCSR(t.Map.SPIStatus)
		if err != nil {
			return backoff.Permanent(err)
		}
		if st&spiDone == 0 {
			return errSPIBusy
		}
		return nil
	}
	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     2 * time.Microsecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         time.Millisecond,
		MaxElapsedTime:      limit,
		Clock:               backoff.SystemClock})
	if err == errSPIBusy {
		return errors.Wrapf(ErrTimeout, "spi done bit not set after %v", limit)
	}
	return err
}

// SPIConn adapts the SPI bridge to periph's spi.Conn.
// Byte streams are sequences of big-endian 32-bit words.
type SPIConn struct {
	T    *Transport
	Addr int
}

// String implements conn.Resource
func (c *SPIConn) String() string {
	return fmt.Sprintf("litepcie-spi(0x%x)", c.Addr)
}

// Duplex implements conn.Conn
func (c *SPIConn) Duplex() conn.Duplex {
	return conn.Full
}

// Tx writes w and, if r is not nil, fills r with the words shifted out by the chip
func (c *SPIConn) Tx(w, r []byte) error {
	if len(w)%4 != 0 {
		return errors.Wrapf(ErrInvalidArgument, "spi write of %d bytes is not a whole number of words", len(w))
	}
	if len(r) != 0 && len(r) != len(w) {
		return errors.Wrapf(ErrInvalidArgument, "spi read of %d bytes for %d written", len(r), len(w))
	}
	words := make([]uint32, len(w)/4)
	for i := range words {
		words[i] = binary.BigEndian.Uint32(w[4*i:])
	}
	if len(r) == 0 {
		return c.T.TransactSPI(c.Addr, words, nil)
	}
	out := make([]uint32, len(words))
	if err := c.T.TransactSPI(c.Addr, words, out); err != nil {
		return err
	}
	for i, v := range out {
		binary.BigEndian.PutUint32(r[4*i:], v)
	}
	return nil
}

// TxPackets runs each packet as its own transaction
func (c *SPIConn) TxPackets(p []spi.Packet) error {
	for i := range p {
		if err := c.Tx(p[i].W, p[i].R); err != nil {
			return err
		}
	}
	return nil
}

var _ spi.Conn = (*SPIConn)(nil)
