package litepcie_test

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/fairwaves/xtrx/litepcie"
	"periph.io/x/conn/v3/spi"
)

func lmsWrite(reg, val uint16) uint32 {
	return 1<<31 | uint32(reg)<<16 | uint32(val)
}

func lmsRead(reg uint16) uint32 {
	return uint32(reg) << 16
}

func TestTransactSPIUnknownEndpoint(t *testing.T) {
	tr, csr := newTransport()
	err := tr.TransactSPI(0x11, []uint32{lmsWrite(0x20, 1)}, nil)
	if !errors.Is(err, litepcie.ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}
	if csr.Writes() != 0 {
		t.Errorf("unsupported endpoint should not touch registers, saw %d writes", csr.Writes())
	}
}

func TestTransactSPIWriteThenRead(t *testing.T) {
	tr, csr := newTransport()
	if err := tr.TransactSPI(litepcie.SPIAddrLMS7002M, []uint32{lmsWrite(0x0092, 0xffff), lmsWrite(0x0093, 0x03ff)}, nil); err != nil {
		t.Fatal(err)
	}
	if csr.LMS(0x0092) != 0xffff {
		t.Errorf("chip register 0x0092 = 0x%x", csr.LMS(0x0092))
	}
	out := make([]uint32, 2)
	if err := tr.TransactSPI(litepcie.SPIAddrLMS7002M, []uint32{lmsRead(0x0092), lmsRead(0x0093)}, out); err != nil {
		t.Fatal(err)
	}
	if out[0] != 0xffff || out[1] != 0x03ff {
		t.Errorf("expected [ffff 3ff] got %x", out)
	}
}

func TestTransactSPIReadBufferLength(t *testing.T) {
	tr, _ := newTransport()
	err := tr.TransactSPI(litepcie.SPIAddrLMS7002M, []uint32{0, 0}, make([]uint32, 1))
	if !errors.Is(err, litepcie.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestTransactSPITimesOut(t *testing.T) {
	tr, csr := newTransport()
	csr.StuckSPI = true
	tr.SPITimeout = 5 * time.Millisecond
	start := time.Now()
	err := tr.TransactSPI(litepcie.SPIAddrLMS7002M, []uint32{lmsWrite(0x20, 1)}, nil)
	if !errors.Is(err, litepcie.ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
	if el := time.Since(start); el > time.Second {
		t.Errorf("stuck spi took %v to give up", el)
	}
}

func TestTransactSPIZeroTimeoutStillBounded(t *testing.T) {
	tr, csr := newTransport()
	csr.StuckSPI = true
	tr.SPITimeout = 0
	done := make(chan error, 1)
	go func() {
		done <- tr.TransactSPI(litepcie.SPIAddrLMS7002M, []uint32{lmsWrite(0x20, 1)}, nil)
	}()
	select {
	case err := <-done:
		if !errors.Is(err, litepcie.ErrTimeout) {
			t.Errorf("expected ErrTimeout, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stuck spi with a zero timeout never gave up")
	}
}

func TestSPIConnTx(t *testing.T) {
	tr, csr := newTransport()
	var c spi.Conn = &litepcie.SPIConn{T: tr, Addr: litepcie.SPIAddrLMS7002M}
	w := make([]byte, 4)
	binary.BigEndian.PutUint32(w, lmsWrite(0x0124, 0x001f))
	if err := c.Tx(w, nil); err != nil {
		t.Fatal(err)
	}
	if csr.LMS(0x0124) != 0x001f {
		t.Errorf("chip register 0x0124 = 0x%x", csr.LMS(0x0124))
	}
	binary.BigEndian.PutUint32(w, lmsRead(0x0124))
	r := make([]byte, 4)
	if err := c.Tx(w, r); err != nil {
		t.Fatal(err)
	}
	if got := binary.BigEndian.Uint32(r); got != 0x001f {
		t.Errorf("expected 0x1f got 0x%x", got)
	}
	if err := c.Tx([]byte{1, 2, 3}, nil); !errors.Is(err, litepcie.ErrInvalidArgument) {
		t.Errorf("partial word: expected ErrInvalidArgument, got %v", err)
	}
}
