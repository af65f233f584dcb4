package stream

import (
	"context"
	"sync"
	"time"
	"unsafe"

	"github.com/fairwaves/xtrx/litepcie"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// pollSlice bounds a single wait on the backend, so counters are rechecked
// even when a wakeup is missed
const pollSlice = 50 * time.Millisecond

// Backend is a pair of DMA rings.  litepcie.Device drives the hardware and
// litepcie.Loopback emulates it in memory.
type Backend interface {
	DMAInfo() litepcie.DMAInfo
	Ring(dir litepcie.Direction) []byte
	Counters(dir litepcie.Direction) (hw, sw int64, err error)
	Update(dir litepcie.Direction, sw int64) error
	EnableDMA(dir litepcie.Direction, on bool) error
	Wait(ctx context.Context, dir litepcie.Direction, timeout time.Duration) (bool, error)
	Tag(dir litepcie.Direction, slot int, m litepcie.SlotMeta)
	SlotTag(dir litepcie.Direction, slot int) litepcie.SlotMeta
}

// Manager hands out ring slots of a Backend
type Manager struct {
	// WireFormat is the format the gateware moves; streams must use it
	WireFormat Format

	Metrics *Metrics

	backend Backend
	log     *zap.SugaredLogger

	mu      sync.Mutex
	rate    float64
	streams [2]*Stream
}

// NewManager returns a manager of b's rings moving CS16
func NewManager(b Backend, log *zap.SugaredLogger) *Manager {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Manager{WireFormat: CS16, backend: b, log: log}
}

// SetSampleRate sets the rate used to derive timestamps from counters
func (m *Manager) SetSampleRate(rate float64) {
	m.mu.Lock()
	m.rate = rate
	m.mu.Unlock()
}

// SampleRate returns the rate used for timestamps
func (m *Manager) SampleRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rate
}

// Stream returns the open stream of a direction, or nil
func (m *Manager) Stream(dir Direction) *Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streams[dir]
}

// Setup opens a stream on dir for the given channels
func (m *Manager) Setup(dir Direction, f Format, channels []int) (*Stream, error) {
	if dir != RX && dir != TX {
		return nil, errors.Wrapf(ErrInvalidArgument, "direction %d", int(dir))
	}
	if len(channels) == 0 || len(channels) > 2 {
		return nil, errors.Wrapf(ErrInvalidArgument, "%d channels", len(channels))
	}
	bpe, err := f.BytesPerElement()
	if err != nil {
		return nil, err
	}
	if f != m.WireFormat {
		return nil, errors.Wrapf(ErrFormat, "requested %s, hardware moves %s", f, m.WireFormat)
	}
	count, size := m.backend.DMAInfo().Slots(dir)
	ring := m.backend.Ring(dir)
	if count == 0 || size < bpe*len(channels) || len(ring) < count*size {
		return nil, errors.Wrapf(litepcie.ErrNotConnected, "%s ring not mapped", dir)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.streams[dir] != nil {
		return nil, errors.Wrapf(ErrBusy, "%s", dir)
	}
	s := newStream(dir, f, channels, ring, count, size, bpe)
	m.streams[dir] = s
	m.log.Debugw("stream set up", "dir", dir.String(), "format", f, "channels", channels,
		"slots", count, "slotSize", size, "elemsPerSlot", s.elemsPerSlot)
	return s, nil
}

// NumDirectAccessBuffers is the ring slot count of s
func (m *Manager) NumDirectAccessBuffers(s *Stream) int {
	return s.slots
}

// DirectAccessBufferAddrs returns the memory of a slot and its address
func (m *Manager) DirectAccessBufferAddrs(s *Stream, handle int) ([]byte, unsafe.Pointer, error) {
	if handle < 0 || handle >= s.slots {
		return nil, nil, errors.Wrapf(ErrInvalidArgument, "handle %d", handle)
	}
	b := s.slot(handle)
	return b, unsafe.Pointer(&b[0]), nil
}

// Activate starts the DMA engine of s.  With FlagHasTime, timeNs is the time of
// the first slot; a non-zero numElems limits a TX stream to one burst of that
// many elements, which FlagOneShot requires.
func (m *Manager) Activate(s *Stream, flags Flags, timeNs int64, numElems int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return errors.Wrap(ErrNotActive, "stream closed")
	}
	if s.active {
		return nil
	}
	if flags&FlagOneShot != 0 && numElems <= 0 {
		return errors.Wrap(ErrInvalidArgument, "one shot activation without an element count")
	}
	if err := m.backend.EnableDMA(s.Dir, true); err != nil {
		return errors.Wrapf(err, "enabling %s dma", s.Dir)
	}
	hw, _, err := m.backend.Counters(s.Dir)
	if err != nil {
		m.backend.EnableDMA(s.Dir, false)
		return err
	}
	// TX has a whole ring of free slots to begin with
	s.sw, s.user, s.base = hw, hw, hw
	s.hw = hw
	if s.Dir == TX {
		s.hw += int64(s.slots)
	}
	if err := m.backend.Update(s.Dir, hw); err != nil {
		m.backend.EnableDMA(s.Dir, false)
		return err
	}
	s.timeBase = 0
	if flags&FlagHasTime != 0 {
		s.timeBase = timeNs
	}
	s.burstSamps, s.burstDone = 0, false
	if numElems > 0 {
		s.burstSamps = numElems
	}
	s.inBurst = false
	s.dropOutstanding()
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.active = true
	m.log.Debugw("stream activated", "dir", s.Dir.String(), "count", hw)
	return nil
}

// Deactivate stops the DMA engine of s and wakes every blocked acquirer
func (m *Manager) Deactivate(s *Stream) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return nil
	}
	s.cancel()
	s.active = false
	s.dropOutstanding()
	m.log.Debugw("stream deactivated", "dir", s.Dir.String())
	return m.backend.EnableDMA(s.Dir, false)
}

// CloseStream deactivates s and frees its direction
func (m *Manager) CloseStream(s *Stream) error {
	err := m.Deactivate(s)
	s.mu.Lock()
	s.opened = false
	s.mu.Unlock()
	m.mu.Lock()
	if m.streams[s.Dir] == s {
		m.streams[s.Dir] = nil
	}
	m.mu.Unlock()
	return err
}

// Close closes every open stream
func (m *Manager) Close() error {
	var err error
	for _, dir := range []Direction{RX, TX} {
		if s := m.Stream(dir); s != nil {
			err = multierr.Append(err, m.CloseStream(s))
		}
	}
	return err
}

// HardwareTime is the time of the newest RX slot, from the RX counter and sample rate
func (m *Manager) HardwareTime() (int64, error) {
	hw, _, err := m.backend.Counters(RX)
	if err != nil {
		return 0, err
	}
	s := m.Stream(RX)
	if s == nil {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return m.counterTime(s, hw), nil
}

// counterTime converts a slot counter to ns; s.mu must be held
func (m *Manager) counterTime(s *Stream, counter int64) int64 {
	rate := m.SampleRate()
	if rate <= 0 {
		return s.timeBase
	}
	elems := float64(counter-s.base) * float64(s.elemsPerSlot)
	return s.timeBase + int64(elems*1e9/rate)
}

// wait blocks for a backend event on s's direction until deadline.  It is
// entered and left with s.mu held.
func (m *Manager) wait(ctx context.Context, s *Stream, deadline time.Time) error {
	left := time.Until(deadline)
	if left <= 0 {
		s.stats.Timeouts++
		return ErrTimeout
	}
	if left > pollSlice {
		left = pollSlice
	}
	sctx := s.ctx
	wctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(sctx, cancel)
	s.mu.Unlock()
	_, err := m.backend.Wait(wctx, s.Dir, left)
	stop()
	cancel()
	s.mu.Lock()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, context.Canceled) {
			return sctx.Err()
		}
		return err
	}
	if !s.active {
		return context.Canceled
	}
	return nil
}

// ready checks s is active for an acquire; s.mu must be held
func (s *Stream) ready(dir Direction) error {
	if s.Dir != dir {
		return errors.Wrapf(ErrInvalidArgument, "%s stream used for %s", s.Dir, dir)
	}
	if !s.active {
		return ErrNotActive
	}
	return nil
}

// AcquireReadBuffer hands out the oldest unread RX slot.  buf holds the valid
// part of the slot.  A timeout of 0 never blocks.
func (m *Manager) AcquireReadBuffer(ctx context.Context, s *Stream, timeout time.Duration) (handle int, buf []byte, flags Flags, timeNs int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(RX); err != nil {
		return 0, nil, 0, 0, err
	}
	deadline := time.Now().Add(timeout)
	n := int64(s.slots)
	for {
		hw, _, err := m.backend.Counters(RX)
		if err != nil {
			return 0, nil, 0, 0, err
		}
		s.hw = hw
		if hw-s.user > n {
			lost := hw - s.user - n
			// jump to the newest data; anything older has been overwritten
			s.sw, s.user = hw, hw
			s.dropOutstanding()
			s.overflow = true
			s.stats.Overflows++
			m.Metrics.overflow(s.Dir)
			if s.limiter.Allow() {
				m.log.Warnw("rx overflow", "lostSlots", lost, "hw", hw)
			}
			if err := m.backend.Update(RX, hw); err != nil {
				return 0, nil, FlagOverflow, 0, err
			}
			return 0, nil, FlagOverflow, 0, ErrOverflow
		}
		if s.sw < hw {
			handle = int(s.sw % n)
			meta := m.backend.SlotTag(RX, handle)
			counter := s.sw
			s.sw++
			s.outstanding = append(s.outstanding, counter)
			buf = s.slot(handle)
			if meta.Partial && meta.Elems < s.elemsPerSlot {
				buf = buf[:meta.Elems*s.frame()]
			} else {
				buf = buf[:s.elemsPerSlot*s.frame()]
			}
			if meta.EndBurst {
				flags |= FlagEndBurst
			}
			switch {
			case meta.HasTime:
				flags |= FlagHasTime
				timeNs = meta.TimeNs
			case m.SampleRate() > 0:
				flags |= FlagHasTime
				timeNs = m.counterTime(s, counter)
			}
			s.stats.Slots++
			m.Metrics.slot(s.Dir)
			return handle, buf, flags, timeNs, nil
		}
		if timeout == 0 {
			s.stats.Timeouts++
			return 0, nil, 0, 0, ErrTimeout
		}
		if err := m.wait(ctx, s, deadline); err != nil {
			return 0, nil, 0, 0, err
		}
		if err := s.ready(RX); err != nil {
			return 0, nil, 0, 0, err
		}
	}
}

// release checks handle is the oldest outstanding slot and pops it; s.mu must be held
func (s *Stream) release(handle int) error {
	if len(s.outstanding) == 0 {
		return errors.Wrapf(ErrOutOfOrder, "slot %d was not acquired", handle)
	}
	head := int(s.outstanding[0] % int64(s.slots))
	if head != handle {
		return errors.Wrapf(ErrOutOfOrder, "released slot %d, oldest is %d", handle, head)
	}
	s.outstanding = s.outstanding[1:]
	return nil
}

// ReleaseReadBuffer gives an RX slot back to the hardware
func (m *Manager) ReleaseReadBuffer(s *Stream, handle int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Dir != RX {
		return errors.Wrap(ErrInvalidArgument, "tx stream used for rx")
	}
	if err := s.release(handle); err != nil {
		return err
	}
	s.user++
	return m.backend.Update(RX, s.user)
}

// AcquireWriteBuffer hands out the next free TX slot.  A timeout of 0 never blocks.
func (m *Manager) AcquireWriteBuffer(ctx context.Context, s *Stream, timeout time.Duration) (handle int, buf []byte, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(TX); err != nil {
		return 0, nil, err
	}
	deadline := time.Now().Add(timeout)
	n := int64(s.slots)
	for {
		read, _, err := m.backend.Counters(TX)
		if err != nil {
			return 0, nil, err
		}
		if read > s.user {
			// the reader went past everything submitted
			s.sw, s.user = read, read
			s.dropOutstanding()
			if err := m.backend.Update(TX, read); err != nil {
				return 0, nil, err
			}
			if s.inBurst {
				s.inBurst = false
				s.underflow = true
				s.stats.Underflows++
				m.Metrics.underflow(s.Dir)
				if s.limiter.Allow() {
					m.log.Warnw("tx underflow", "read", read)
				}
				s.hw = read + n
				return 0, nil, ErrUnderflow
			}
		}
		s.hw = read + n
		if s.sw < s.hw {
			handle = int(s.sw % n)
			s.outstanding = append(s.outstanding, s.sw)
			s.sw++
			return handle, s.slot(handle), nil
		}
		if timeout == 0 {
			s.stats.Timeouts++
			return 0, nil, ErrTimeout
		}
		if err := m.wait(ctx, s, deadline); err != nil {
			return 0, nil, err
		}
		if err := s.ready(TX); err != nil {
			return 0, nil, err
		}
	}
}

// ReleaseWriteBuffer submits a TX slot holding numElems elements.  A count of
// zero submits an empty slot, which the receiver sees as such.
func (m *Manager) ReleaseWriteBuffer(s *Stream, handle, numElems int, flags Flags, timeNs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Dir != TX {
		return errors.Wrap(ErrInvalidArgument, "rx stream used for tx")
	}
	if numElems < 0 || numElems > s.elemsPerSlot {
		return errors.Wrapf(ErrInvalidArgument, "%d elements in a %d element slot", numElems, s.elemsPerSlot)
	}
	if err := s.release(handle); err != nil {
		return err
	}
	m.backend.Tag(TX, handle, litepcie.SlotMeta{
		EndBurst: flags&FlagEndBurst != 0,
		HasTime:  flags&FlagHasTime != 0,
		TimeNs:   timeNs,
		Partial:  numElems < s.elemsPerSlot,
		Elems:    numElems,
	})
	s.user++
	s.inBurst = flags&FlagEndBurst == 0
	s.stats.Slots++
	m.Metrics.slot(s.Dir)
	return m.backend.Update(TX, s.user)
}
