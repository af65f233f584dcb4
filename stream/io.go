package stream

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// checkBuffs validates per-channel buffers for numElems elements
func (s *Stream) checkBuffs(buffs [][]byte, numElems int) error {
	if numElems < 0 {
		return errors.Wrapf(ErrInvalidArgument, "%d elements", numElems)
	}
	if numElems == 0 {
		return nil
	}
	if len(buffs) != len(s.Channels) {
		return errors.Wrapf(ErrInvalidArgument, "%d buffers for %d channels", len(buffs), len(s.Channels))
	}
	for i, b := range buffs {
		if len(b) < numElems*s.bpe {
			return errors.Wrapf(ErrInvalidArgument, "buffer %d holds %d bytes, need %d", i, len(b), numElems*s.bpe)
		}
	}
	return nil
}

// offsetTime advances a slot time by off elements
func (m *Manager) offsetTime(t int64, off int) int64 {
	rate := m.SampleRate()
	if rate <= 0 {
		return t
	}
	return t + int64(float64(off)*1e9/rate)
}

// ReadStream copies up to numElems elements per channel into buffs.  Samples
// left in a slot by an earlier call are returned first; once data has been
// delivered a call never crosses into the next slot, so n may be short.
// timeNs is the time of buffs' first element when flags has FlagHasTime.
func (m *Manager) ReadStream(ctx context.Context, s *Stream, buffs [][]byte, numElems int, timeout time.Duration) (n int, flags Flags, timeNs int64, err error) {
	if err := s.checkBuffs(buffs, numElems); err != nil {
		return 0, 0, 0, err
	}
	if numElems == 0 {
		return 0, 0, 0, nil
	}
	s.mu.Lock()
	empty := s.rem.buf == nil
	s.mu.Unlock()
	if empty {
		h, buf, fl, t, err := m.AcquireReadBuffer(ctx, s, timeout)
		if err != nil {
			return 0, fl, 0, err
		}
		s.mu.Lock()
		s.rem = remainder{handle: h, buf: buf, elems: len(buf) / s.frame(), flags: fl, timeNs: t}
		s.mu.Unlock()
	}

	s.mu.Lock()
	r := &s.rem
	if r.buf == nil {
		// deactivated while acquiring
		s.mu.Unlock()
		return 0, 0, 0, ErrNotActive
	}
	n = r.elems - r.off
	if numElems < n {
		n = numElems
	}
	frame := s.frame()
	for i := 0; i < n; i++ {
		src := r.buf[(r.off+i)*frame:]
		for c := range buffs {
			copy(buffs[c][i*s.bpe:(i+1)*s.bpe], src[c*s.bpe:(c+1)*s.bpe])
		}
	}
	flags = r.flags
	if flags&FlagHasTime != 0 {
		timeNs = m.offsetTime(r.timeNs, r.off)
	}
	r.off += n
	if r.off < r.elems {
		flags &^= FlagEndBurst
		s.mu.Unlock()
		return n, flags, timeNs, nil
	}
	h := r.handle
	s.rem = remainder{}
	s.mu.Unlock()
	return n, flags, timeNs, m.ReleaseReadBuffer(s, h)
}

// WriteStream copies up to numElems elements per channel from buffs into the
// TX ring.  A slot is submitted once full, or early and zero padded when flags
// has FlagEndBurst and every element of the call fit.  n may be short when a
// slot boundary is reached.  FlagHasTime with timeNs stamps a fresh slot.
//
// Once a burst limited at activation has been written, calls fail with
// ErrNotActive until the stream is deactivated and activated again.
func (m *Manager) WriteStream(ctx context.Context, s *Stream, buffs [][]byte, numElems int, flags Flags, timeNs int64, timeout time.Duration) (n int, err error) {
	if err := s.checkBuffs(buffs, numElems); err != nil {
		return 0, err
	}
	s.mu.Lock()
	empty, done := s.rem.buf == nil, s.burstDone
	s.mu.Unlock()
	if done {
		return 0, errors.Wrap(ErrNotActive, "burst already written")
	}
	if empty {
		if numElems == 0 && flags&FlagEndBurst == 0 {
			return 0, nil
		}
		h, buf, err := m.AcquireWriteBuffer(ctx, s, timeout)
		if err != nil {
			return 0, err
		}
		s.mu.Lock()
		s.rem = remainder{handle: h, buf: buf, elems: s.elemsPerSlot, flags: flags & FlagHasTime, timeNs: timeNs}
		s.mu.Unlock()
	}

	s.mu.Lock()
	r := &s.rem
	if r.buf == nil {
		s.mu.Unlock()
		return 0, ErrNotActive
	}
	n = r.elems - r.off
	if numElems < n {
		n = numElems
	}
	if s.burstSamps > 0 && s.burstSamps < n {
		n = s.burstSamps
	}
	frame := s.frame()
	for i := 0; i < n; i++ {
		dst := r.buf[(r.off+i)*frame:]
		for c := range buffs {
			copy(dst[c*s.bpe:(c+1)*s.bpe], buffs[c][i*s.bpe:(i+1)*s.bpe])
		}
	}
	r.off += n
	end := flags&FlagEndBurst != 0 && n == numElems
	if s.burstSamps > 0 {
		s.burstSamps -= n
		if s.burstSamps == 0 {
			end = true
			s.burstDone = true
		}
	}
	if r.off < r.elems && !end {
		s.mu.Unlock()
		return n, nil
	}
	pad := r.buf[r.off*frame:]
	for i := range pad {
		pad[i] = 0
	}
	out := *r
	s.rem = remainder{}
	s.mu.Unlock()
	if end {
		out.flags |= FlagEndBurst
	}
	return n, m.ReleaseWriteBuffer(s, out.handle, out.off, out.flags, out.timeNs)
}

// Flush submits a partly filled TX slot as the end of a burst
func (m *Manager) Flush(s *Stream) error {
	s.mu.Lock()
	if s.rem.buf == nil {
		s.mu.Unlock()
		return nil
	}
	r := s.rem
	s.rem = remainder{}
	pad := r.buf[r.off*s.frame():]
	for i := range pad {
		pad[i] = 0
	}
	s.mu.Unlock()
	return m.ReleaseWriteBuffer(s, r.handle, r.off, r.flags|FlagEndBurst, r.timeNs)
}
