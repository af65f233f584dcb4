/*Package stream moves samples through the LitePCIe DMA rings.

Each direction has a ring of N fixed-size slots shared with the FPGA.  Three
counters track a stream: hw counts slots the hardware has made available
(written for RX, free for TX), sw counts slots handed to the caller, and user
counts slots the caller has given back.  user <= sw <= hw always holds; a slot
counter maps to ring slot counter % N.

Slots are handed out and must be returned in FIFO order.  The Manager exposes
that slot-level protocol directly (zero copy), and ReadStream/WriteStream
layer a sample-level interface with a partial-slot remainder on top of it.
*/
package stream

import (
	"context"
	"sync"
	"time"

	"github.com/fairwaves/xtrx/litepcie"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

var (
	// ErrTimeout is generated when no slot became ready before the timeout
	ErrTimeout = litepcie.ErrTimeout

	// ErrOverflow is generated when the FPGA overwrote slots the host had not consumed
	ErrOverflow = errors.New("stream: overflow")

	// ErrUnderflow is generated when the FPGA ran out of samples in the middle of a burst
	ErrUnderflow = errors.New("stream: underflow")

	// ErrOutOfOrder is generated when a slot other than the oldest outstanding one is released
	ErrOutOfOrder = errors.New("stream: slot released out of order")

	// ErrFormat is generated when a requested format does not match the wire format
	ErrFormat = errors.New("stream: format mismatch")

	// ErrNotActive is generated for I/O on a stream that is closed or deactivated
	ErrNotActive = errors.New("stream: not active")

	// ErrBusy is generated when a direction already has a stream
	ErrBusy = errors.New("stream: direction already in use")

	// ErrInvalidArgument is generated for malformed calls
	ErrInvalidArgument = litepcie.ErrInvalidArgument
)

// Direction selects the receive or transmit ring
type Direction = litepcie.Direction

const (
	// RX is the receive direction
	RX = litepcie.RX

	// TX is the transmit direction
	TX = litepcie.TX
)

// Flags qualify a slot or a stream call
type Flags int

const (
	// FlagEndBurst marks the last samples of a burst
	FlagEndBurst Flags = 1 << iota

	// FlagHasTime says the accompanying time is valid
	FlagHasTime

	// FlagOneShot asks for a single burst of the activation's element count
	FlagOneShot

	// FlagOverflow reports that samples were lost before this read
	FlagOverflow

	// FlagUnderflow reports that the transmitter ran dry
	FlagUnderflow
)

// Settings mirror the RF configuration a stream was set up with
type Settings struct {
	Frequency float64
	Gain      float64
	Bandwidth float64
}

// remainder is a partly consumed (RX) or partly filled (TX) slot
type remainder struct {
	handle int
	buf    []byte
	off    int
	elems  int
	flags  Flags
	timeNs int64
}

// Stream is the state of one direction.  RX and TX share the layout; the
// fields under the rx and tx markers only have meaning for one of them.
type Stream struct {
	Dir      Direction
	Format   Format
	Channels []int

	mu     sync.Mutex
	opened bool
	active bool
	ctx    context.Context
	cancel context.CancelFunc

	ring         []byte
	slots        int
	slotSize     int
	bpe          int
	elemsPerSlot int

	hw, sw, user int64
	// counter value at activation, for timestamps
	base     int64
	timeBase int64

	outstanding []int64
	rem         remainder

	stats    Stats
	settings Settings
	limiter  *rate.Limiter

	// rx
	overflow bool

	// tx
	// Bias is the bias tee setting requested for the transmit port
	Bias       bool
	underflow  bool
	inBurst    bool
	burstSamps int
	// a limited burst has been written in full
	burstDone bool
}

// Stats are the running totals of a stream
type Stats struct {
	Direction  string `json:"direction"`
	Active     bool   `json:"active"`
	Format     Format `json:"format"`
	Channels   int    `json:"channels"`
	HW         int64  `json:"hw"`
	SW         int64  `json:"sw"`
	User       int64  `json:"user"`
	Slots      uint64 `json:"slots"`
	Overflows  uint64 `json:"overflows"`
	Underflows uint64 `json:"underflows"`
	Timeouts   uint64 `json:"timeouts"`
}

func newStream(dir Direction, f Format, channels []int, ring []byte, slots, size, bpe int) *Stream {
	return &Stream{
		Dir:          dir,
		Format:       f,
		Channels:     append([]int(nil), channels...),
		opened:       true,
		ring:         ring,
		slots:        slots,
		slotSize:     size,
		bpe:          bpe,
		elemsPerSlot: size / (bpe * len(channels)),
		limiter:      rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// frame is the size of one element across all channels
func (s *Stream) frame() int {
	return s.bpe * len(s.Channels)
}

// slot returns the ring memory of a slot
func (s *Stream) slot(handle int) []byte {
	off := handle * s.slotSize
	return s.ring[off : off+s.slotSize : off+s.slotSize]
}

// ElementsPerSlot is the number of elements one slot holds
func (s *Stream) ElementsPerSlot() int {
	return s.elemsPerSlot
}

// Active reports whether the stream is activated
func (s *Stream) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Settings returns the RF configuration recorded for the stream
func (s *Stream) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// SetSettings records the RF configuration of the stream
func (s *Stream) SetSettings(st Settings) {
	s.mu.Lock()
	s.settings = st
	s.mu.Unlock()
}

// Overflowed reports and clears the overflow latch
func (s *Stream) Overflowed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.overflow
	s.overflow = false
	return o
}

// Underflowed reports and clears the underflow latch
func (s *Stream) Underflowed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.underflow
	s.underflow = false
	return u
}

// Stats returns a snapshot of the counters
func (s *Stream) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Direction = s.Dir.String()
	st.Active = s.active
	st.Format = s.Format
	st.Channels = len(s.Channels)
	st.HW, st.SW, st.User = s.hw, s.sw, s.user
	return st
}

// dropOutstanding forgets every handed-out slot and any remainder; s.mu must be held
func (s *Stream) dropOutstanding() {
	s.outstanding = s.outstanding[:0]
	s.rem = remainder{}
}
