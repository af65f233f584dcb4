/*Package litepcie talks to LiteX PCIe gateware through the litepcie kernel driver.

The gateware exposes a window of 32-bit control/status registers (CSRs), an SPI
master wired to the LMS7002M RF chip, and a pair of DMA engines that stream
samples between host memory and the FPGA through a ring of fixed-size slots.

Register and SPI access go through a Transport, which serializes every call and
rejects addresses outside the CSR window.  The DMA rings are handed to callers
as memory-mapped slices; see package stream for the acquire/release protocol
built on top of them.
*/
package litepcie

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNotConnected is generated when the device is closed or could not be opened
	ErrNotConnected = errors.New("litepcie: device not connected")

	// ErrInvalidRegister is generated when a register address falls outside the CSR window
	ErrInvalidRegister = errors.New("litepcie: invalid register")

	// ErrInvalidArgument is generated for malformed calls, such as mismatched slice lengths
	ErrInvalidArgument = errors.New("litepcie: invalid argument")

	// ErrUnsupported is generated for SPI endpoints or operations the gateware does not provide
	ErrUnsupported = errors.New("litepcie: not supported")

	// ErrTimeout is generated when the hardware does not become ready in time
	ErrTimeout = errors.New("litepcie: timeout")
)

// Direction is the direction of a DMA engine, from the host's point of view
type Direction int

const (
	// RX is the FPGA to host direction (the DMA writer)
	RX Direction = iota

	// TX is the host to FPGA direction (the DMA reader)
	TX
)

func (d Direction) String() string {
	switch d {
	case RX:
		return "rx"
	case TX:
		return "tx"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// DMAInfo describes the layout of the memory-mapped DMA rings
type DMAInfo struct {
	TXOffset uint64
	TXSize   uint64
	TXCount  uint64
	RXOffset uint64
	RXSize   uint64
	RXCount  uint64
}

// Slots returns the slot count and per-slot size in bytes for a direction
func (i DMAInfo) Slots(dir Direction) (count, size int) {
	if dir == TX {
		return int(i.TXCount), int(i.TXSize)
	}
	return int(i.RXCount), int(i.RXSize)
}

// SlotMeta is out-of-band information attached to one ring slot
type SlotMeta struct {
	// EndBurst marks the last slot of a transmission
	EndBurst bool

	// HasTime is true when TimeNs holds a hardware timestamp
	HasTime bool

	// TimeNs is the hardware time of the first sample in the slot
	TimeNs int64

	// Partial is set when only the first Elems elements of the slot are valid,
	// which can be none.  Otherwise the whole slot is.
	Partial bool
	Elems   int
}
