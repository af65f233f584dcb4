package stream_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/fairwaves/xtrx/litepcie"
	"github.com/fairwaves/xtrx/stream"
	"github.com/google/go-cmp/cmp"
)

// ramp returns n CS16 elements, element i holding i
func ramp(start, n int) []byte {
	b := make([]byte, 4*n)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint32(b[4*i:], uint32(start+i))
	}
	return b
}

func writeAll(t *testing.T, m *stream.Manager, tx *stream.Stream, src []byte, chunks []int) {
	t.Helper()
	total := len(src) / 4
	for done, i := 0, 0; done < total; i++ {
		c := chunks[i%len(chunks)]
		if c > total-done {
			c = total - done
		}
		n, err := m.WriteStream(context.Background(), tx, [][]byte{src[4*done:]}, c, 0, 0, time.Second)
		if err != nil {
			t.Fatal(err)
		}
		done += n
	}
}

func readAll(t *testing.T, m *stream.Manager, rx *stream.Stream, n int, chunks []int) []byte {
	t.Helper()
	out := make([]byte, 4*n)
	for done, i := 0, 0; done < n; i++ {
		c := chunks[i%len(chunks)]
		if c > n-done {
			c = n - done
		}
		got, _, _, err := m.ReadStream(context.Background(), rx, [][]byte{out[4*done:]}, c, time.Second)
		if err != nil {
			t.Fatal(err)
		}
		if got == 0 || got > c {
			t.Fatalf("read %d elements asking for %d", got, c)
		}
		done += got
	}
	return out
}

func TestRoundTripArbitraryChunks(t *testing.T) {
	m, _, rx, tx := newLoop(t)
	ring := testSlots * testElems
	const k = 3
	src := ramp(0, k*ring)
	var dst []byte
	for r := 0; r < k; r++ {
		part := src[4*r*ring : 4*(r+1)*ring]
		writeAll(t, m, tx, part, []int{5, 11, 16, 3, 7})
		dst = append(dst, readAll(t, m, rx, ring, []int{7, 1, 13, 16, 2})...)
	}
	if !bytes.Equal(src, dst) {
		t.Error("samples came back altered or out of order")
	}
}

func TestReadDoesNotCrossSlots(t *testing.T) {
	m, _, rx, tx := newLoop(t)
	writeAll(t, m, tx, ramp(0, 2*testElems), []int{testElems})
	buf := make([]byte, 4*2*testElems)
	n, _, _, err := m.ReadStream(context.Background(), rx, [][]byte{buf}, 5, time.Second)
	if err != nil || n != 5 {
		t.Fatalf("first read: %d, %v", n, err)
	}
	n, _, _, err = m.ReadStream(context.Background(), rx, [][]byte{buf}, 2*testElems, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if n != testElems-5 {
		t.Errorf("expected the rest of the slot (%d), got %d", testElems-5, n)
	}
}

func TestRemainderSplitMatchesWholeRead(t *testing.T) {
	const s = 5
	data := ramp(100, testElems)

	m1, _, rx1, tx1 := newLoop(t)
	writeAll(t, m1, tx1, data, []int{testElems})
	whole := readAll(t, m1, rx1, testElems, []int{testElems})

	m2, _, rx2, tx2 := newLoop(t)
	writeAll(t, m2, tx2, data, []int{testElems})
	first := readAll(t, m2, rx2, s, []int{s})
	rest := readAll(t, m2, rx2, testElems-s, []int{testElems - s})

	if diff := cmp.Diff(whole, append(first, rest...)); diff != "" {
		t.Errorf("split read differs (-whole +split):\n%s", diff)
	}
}

func TestEndBurstPadsAndTags(t *testing.T) {
	m, _, rx, tx := newLoop(t)
	n, err := m.WriteStream(context.Background(), tx, [][]byte{ramp(0, 5)}, 5, stream.FlagEndBurst, 0, time.Second)
	if err != nil || n != 5 {
		t.Fatalf("write: %d, %v", n, err)
	}
	buf := make([]byte, 4*testElems)
	got, flags, _, err := m.ReadStream(context.Background(), rx, [][]byte{buf}, testElems, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if got != 5 {
		t.Errorf("expected the 5 burst elements, got %d", got)
	}
	if flags&stream.FlagEndBurst == 0 {
		t.Error("end of burst not reported")
	}
}

func TestFlushSubmitsPartialSlot(t *testing.T) {
	m, _, rx, tx := newLoop(t)
	if _, err := m.WriteStream(context.Background(), tx, [][]byte{ramp(0, 3)}, 3, 0, 0, time.Second); err != nil {
		t.Fatal(err)
	}
	if _, _, _, _, err := m.AcquireReadBuffer(context.Background(), rx, 0); !errors.Is(err, stream.ErrTimeout) {
		t.Fatalf("a partial slot should stay on the host, got %v", err)
	}
	if err := m.Flush(tx); err != nil {
		t.Fatal(err)
	}
	_, buf, flags, _, err := m.AcquireReadBuffer(context.Background(), rx, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if len(buf) != 3*4 || flags&stream.FlagEndBurst == 0 {
		t.Errorf("flushed slot: %d bytes, flags %b", len(buf), flags)
	}
}

func TestActivatedBurstLength(t *testing.T) {
	lb := litepcie.NewLoopback(testSlots, testSize)
	m := stream.NewManager(lb, nil)
	rx, _ := m.Setup(stream.RX, stream.CS16, []int{0})
	tx, _ := m.Setup(stream.TX, stream.CS16, []int{0})
	m.Activate(rx, 0, 0, 0)
	if err := m.Activate(tx, 0, 0, 20); err != nil {
		t.Fatal(err)
	}
	total := 0
	for total < 20 {
		n, err := m.WriteStream(context.Background(), tx, [][]byte{ramp(total, 30)}, 30, 0, 0, time.Second)
		if err != nil {
			t.Fatal(err)
		}
		total += n
	}
	if total != 20 {
		t.Fatalf("burst of 20 accepted %d elements", total)
	}
	buf := make([]byte, 4*testElems)
	var flags stream.Flags
	read := 0
	for flags&stream.FlagEndBurst == 0 {
		n, f, _, err := m.ReadStream(context.Background(), rx, [][]byte{buf}, testElems, time.Second)
		if err != nil {
			t.Fatal(err)
		}
		read += n
		flags = f
	}
	if read != 20 {
		t.Errorf("burst read back as %d elements", read)
	}
}

func TestTwoChannelInterleave(t *testing.T) {
	lb := litepcie.NewLoopback(testSlots, testSize)
	m := stream.NewManager(lb, nil)
	rx, _ := m.Setup(stream.RX, stream.CS16, []int{0, 1})
	tx, _ := m.Setup(stream.TX, stream.CS16, []int{0, 1})
	m.Activate(rx, 0, 0, 0)
	m.Activate(tx, 0, 0, 0)
	per := rx.ElementsPerSlot()
	a, b := ramp(0, per), ramp(1000, per)
	if n, err := m.WriteStream(context.Background(), tx, [][]byte{a, b}, per, 0, 0, time.Second); err != nil || n != per {
		t.Fatalf("write: %d, %v", n, err)
	}
	ga, gb := make([]byte, len(a)), make([]byte, len(b))
	if n, _, _, err := m.ReadStream(context.Background(), rx, [][]byte{ga, gb}, per, time.Second); err != nil || n != per {
		t.Fatalf("read: %d, %v", n, err)
	}
	if !bytes.Equal(a, ga) || !bytes.Equal(b, gb) {
		t.Error("channels mixed up")
	}
	if _, _, _, err := m.ReadStream(context.Background(), rx, [][]byte{ga}, 1, 0); !errors.Is(err, stream.ErrInvalidArgument) {
		t.Errorf("one buffer for two channels should be rejected, got %v", err)
	}
}

func TestReadStreamReportsOverflow(t *testing.T) {
	m, _, rx, tx := newLoop(t)
	writeAll(t, m, tx, ramp(0, (testSlots+1)*testElems), []int{testElems})
	buf := make([]byte, 4*testElems)
	_, flags, _, err := m.ReadStream(context.Background(), rx, [][]byte{buf}, testElems, 0)
	if !errors.Is(err, stream.ErrOverflow) || flags&stream.FlagOverflow == 0 {
		t.Errorf("expected an overflow, got flags %b err %v", flags, err)
	}
}

func TestEmptySlotStaysEmpty(t *testing.T) {
	m, _, rx, tx := newLoop(t)
	h, buf, err := m.AcquireWriteBuffer(context.Background(), tx, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	for i := range buf {
		buf[i] = 0xaa
	}
	if err := m.ReleaseWriteBuffer(tx, h, 0, stream.FlagEndBurst, 0); err != nil {
		t.Fatal(err)
	}
	h, got, flags, _, err := m.AcquireReadBuffer(context.Background(), rx, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("empty slot arrived holding %d bytes", len(got))
	}
	if flags&stream.FlagEndBurst == 0 {
		t.Error("end of burst not reported")
	}
	if err := m.ReleaseReadBuffer(rx, h); err != nil {
		t.Fatal(err)
	}
}

func TestEmptyEndOfBurst(t *testing.T) {
	m, _, rx, tx := newLoop(t)
	n, err := m.WriteStream(context.Background(), tx, nil, 0, stream.FlagEndBurst, 0, time.Second)
	if err != nil || n != 0 {
		t.Fatalf("write: %d, %v", n, err)
	}
	buf := make([]byte, 4*testElems)
	got, flags, _, err := m.ReadStream(context.Background(), rx, [][]byte{buf}, testElems, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if got != 0 || flags&stream.FlagEndBurst == 0 {
		t.Errorf("expected an empty end of burst, got %d elements with flags %b", got, flags)
	}

	// with samples pending the flag goes on them
	if _, err := m.WriteStream(context.Background(), tx, [][]byte{ramp(0, 3)}, 3, 0, 0, time.Second); err != nil {
		t.Fatal(err)
	}
	if _, err := m.WriteStream(context.Background(), tx, nil, 0, stream.FlagEndBurst, 0, time.Second); err != nil {
		t.Fatal(err)
	}
	got, flags, _, err = m.ReadStream(context.Background(), rx, [][]byte{buf}, testElems, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if got != 3 || flags&stream.FlagEndBurst == 0 {
		t.Errorf("expected 3 elements ending the burst, got %d with flags %b", got, flags)
	}
}

func TestOneShotBurstEnds(t *testing.T) {
	lb := litepcie.NewLoopback(testSlots, testSize)
	m := stream.NewManager(lb, nil)
	tx, err := m.Setup(stream.TX, stream.CS16, []int{0})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Activate(tx, stream.FlagOneShot, 0, 5); err != nil {
		t.Fatal(err)
	}
	n, err := m.WriteStream(context.Background(), tx, [][]byte{ramp(0, 8)}, 8, 0, 0, time.Second)
	if err != nil || n != 5 {
		t.Fatalf("burst write: %d, %v", n, err)
	}
	if _, err := m.WriteStream(context.Background(), tx, [][]byte{ramp(5, 3)}, 3, 0, 0, time.Second); !errors.Is(err, stream.ErrNotActive) {
		t.Errorf("write past the burst: expected ErrNotActive, got %v", err)
	}
	if err := m.Deactivate(tx); err != nil {
		t.Fatal(err)
	}
	if err := m.Activate(tx, 0, 0, 0); err != nil {
		t.Fatal(err)
	}
	if n, err := m.WriteStream(context.Background(), tx, [][]byte{ramp(5, 3)}, 3, 0, 0, time.Second); err != nil || n != 3 {
		t.Errorf("write after reactivation: %d, %v", n, err)
	}
}
