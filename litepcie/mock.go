package litepcie

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

var errMockWrite = errors.New("mock: register write failed")

// MockCSR is an in-memory register file.  Writes that start an SPI transfer are
// applied to an emulated LMS7002M register file, so a Transport over a MockCSR
// behaves like one talking to a board.  Chip registers from 0x0100 up are
// banked per channel according to the MAC field of 0x0020.
type MockCSR struct {
	// Identifier is served from the identifier memory
	Identifier string

	// StuckSPI holds the SPI done bit low
	StuckSPI bool

	// Ignore lists chip registers that silently drop writes
	Ignore map[uint16]bool

	// FailAfter, when positive, makes every register write fail once that
	// many writes have been seen
	FailAfter int

	mu     sync.Mutex
	m      CSRMap
	regs   map[uint32]uint32
	lms    map[lmsKey]uint16
	writes int
	resets int
}

// NewMockCSR returns an empty register file laid out according to m
func NewMockCSR(m CSRMap) *MockCSR {
	return &MockCSR{
		Identifier: "LiteX SoC on Fairwaves XTRX (mock)",
		Ignore:     map[uint16]bool{},
		m:          m,
		regs:       map[uint32]uint32{},
		lms:        map[lmsKey]uint16{}}
}

type lmsKey struct {
	bank uint16
	reg  uint16
}

// banks returns the register banks an access to reg reaches; c.mu must be held
func (c *MockCSR) banks(reg uint16) []uint16 {
	if reg < 0x0100 {
		return []uint16{0}
	}
	switch c.lms[lmsKey{0, 0x0020}] & 3 {
	case 2:
		return []uint16{2}
	case 3:
		return []uint16{1, 2}
	}
	return []uint16{1}
}

// ReadCSR implements CSR
func (c *MockCSR) ReadCSR(addr uint32) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if addr >= c.m.IdentifierMem && addr < c.m.IdentifierMem+4*IdentifierWords {
		i := int(addr-c.m.IdentifierMem) / 4
		if i < len(c.Identifier) {
			return uint32(c.Identifier[i]), nil
		}
		return 0, nil
	}
	if addr == c.m.SPIStatus {
		if c.StuckSPI {
			return 0, nil
		}
		return spiDone, nil
	}
	return c.regs[addr], nil
}

// WriteCSR implements CSR
func (c *MockCSR) WriteCSR(addr, val uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailAfter > 0 && c.writes >= c.FailAfter {
		return errMockWrite
	}
	c.writes++
	c.regs[addr] = val
	switch {
	case addr == c.m.SPIControl && val&spiStart != 0:
		mosi := c.regs[c.m.SPIMOSI]
		reg := uint16(mosi>>16) & 0x7fff
		banks := c.banks(reg)
		if mosi&(1<<31) != 0 && !c.Ignore[reg] {
			for _, b := range banks {
				c.lms[lmsKey{b, reg}] = uint16(mosi)
			}
		}
		c.regs[c.m.SPIMISO] = uint32(c.lms[lmsKey{banks[0], reg}])
	case addr == c.m.LMSControl && val&(1<<c.m.LMSResetBit) != 0:
		c.resets++
		c.lms = map[lmsKey]uint16{}
	}
	return nil
}

// Writes returns the number of register writes seen so far
func (c *MockCSR) Writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}

// Resets returns the number of chip resets seen so far
func (c *MockCSR) Resets() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resets
}

// LMS returns the emulated value of a chip register as the current MAC sees it
func (c *MockCSR) LMS(reg uint16) uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lms[lmsKey{c.banks(reg)[0], reg}]
}

// LMSChannel returns a channel register of channel 1 (A) or 2 (B)
func (c *MockCSR) LMSChannel(reg uint16, ch int) uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if reg < 0x0100 {
		ch = 0
	}
	return c.lms[lmsKey{uint16(ch), reg}]
}

// Loopback is an in-memory pair of DMA rings.  Slots submitted on TX are moved
// into the RX ring along with their tags, as with the FPGA loopback mode.
// While held the TX reader stalls, which fills the TX ring.
type Loopback struct {
	mu      sync.Mutex
	info    DMAInfo
	rings   [2][]byte
	meta    [2][]SlotMeta
	enabled [2]bool
	hw, sw  [2]int64
	hold    bool
	closed  bool
	notify  chan struct{}
}

// NewLoopback returns rings of count slots of size bytes in each direction
func NewLoopback(count, size int) *Loopback {
	l := &Loopback{
		info: DMAInfo{
			TXSize: uint64(size), TXCount: uint64(count),
			RXSize: uint64(size), RXCount: uint64(count)},
		notify: make(chan struct{}),
	}
	for _, d := range []Direction{RX, TX} {
		l.rings[d] = make([]byte, count*size)
		l.meta[d] = make([]SlotMeta, count)
	}
	return l
}

// broadcast wakes every waiter; l.mu must be held
func (l *Loopback) broadcast() {
	close(l.notify)
	l.notify = make(chan struct{})
}

// pump moves submitted TX slots into the RX ring; l.mu must be held
func (l *Loopback) pump() {
	n := int64(l.info.TXCount)
	size := int64(l.info.TXSize)
	moved := false
	for !l.hold && l.enabled[TX] && l.hw[TX] < l.sw[TX] {
		src := (l.hw[TX] % n) * size
		if l.enabled[RX] {
			dst := (l.hw[RX] % n) * size
			copy(l.rings[RX][dst:dst+size], l.rings[TX][src:src+size])
			l.meta[RX][l.hw[RX]%n] = l.meta[TX][l.hw[TX]%n]
			l.hw[RX]++
		}
		l.hw[TX]++
		moved = true
	}
	if moved {
		l.broadcast()
	}
}

// DMAInfo implements the stream backend
func (l *Loopback) DMAInfo() DMAInfo {
	return l.info
}

// Ring returns the ring of a direction
func (l *Loopback) Ring(dir Direction) []byte {
	return l.rings[dir]
}

// Counters returns the hardware and software counts of a direction
func (l *Loopback) Counters(dir Direction) (hw, sw int64, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, 0, ErrNotConnected
	}
	return l.hw[dir], l.sw[dir], nil
}

// Update sets the software count of a direction
func (l *Loopback) Update(dir Direction, sw int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrNotConnected
	}
	l.sw[dir] = sw
	if dir == TX {
		l.pump()
	}
	return nil
}

// EnableDMA starts or stops a direction
func (l *Loopback) EnableDMA(dir Direction, on bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrNotConnected
	}
	l.enabled[dir] = on
	l.pump()
	return nil
}

// SetLoopback is a no-op; the rings are always looped back
func (l *Loopback) SetLoopback(on bool) error {
	return nil
}

// Hold stalls or resumes the TX reader
func (l *Loopback) Hold(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hold = on
	l.pump()
}

// Starve advances the TX reader by n slots nobody submitted, as the FPGA does
// when the host falls behind
func (l *Loopback) Starve(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hw[TX] += int64(n)
	l.broadcast()
}

// Inject writes one slot into the RX ring as if the FPGA had produced it
func (l *Loopback) Inject(data []byte, m SlotMeta) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := int64(l.info.RXCount)
	size := int64(l.info.RXSize)
	off := (l.hw[RX] % n) * size
	slot := l.rings[RX][off : off+size]
	for i := range slot {
		slot[i] = 0
	}
	copy(slot, data)
	l.meta[RX][l.hw[RX]%n] = m
	l.hw[RX]++
	l.broadcast()
}

// Wait blocks until the counters change, timeout elapses or ctx is done
func (l *Loopback) Wait(ctx context.Context, dir Direction, timeout time.Duration) (bool, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false, ErrNotConnected
	}
	ch := l.notify
	l.mu.Unlock()
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ch:
		return true, nil
	case <-t.C:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Tag records out-of-band information for a slot
func (l *Loopback) Tag(dir Direction, slot int, m SlotMeta) {
	l.mu.Lock()
	l.meta[dir][slot] = m
	l.mu.Unlock()
}

// SlotTag returns the information recorded for a slot
func (l *Loopback) SlotTag(dir Direction, slot int) SlotMeta {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.meta[dir][slot]
}

// Close releases the rings
func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrNotConnected
	}
	l.closed = true
	l.broadcast()
	return nil
}
