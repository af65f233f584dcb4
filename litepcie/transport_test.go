package litepcie_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/fairwaves/xtrx/litepcie"
)

func newTransport() (*litepcie.Transport, *litepcie.MockCSR) {
	m := litepcie.DefaultCSRMap()
	csr := litepcie.NewMockCSR(m)
	return litepcie.NewTransport(csr, m), csr
}

func TestWriteRegistersRejectsOutOfWindowWithoutWriting(t *testing.T) {
	tr, csr := newTransport()
	bad := [][]uint32{
		{0x10000},
		{0x0004, 0x10000},
		{0x0004, 0x0008, 0xffffffff},
	}
	for _, addrs := range bad {
		vals := make([]uint32, len(addrs))
		err := tr.WriteRegisters(addrs, vals)
		if !errors.Is(err, litepcie.ErrInvalidRegister) {
			t.Errorf("addrs %x: expected ErrInvalidRegister, got %v", addrs, err)
		}
	}
	if n := csr.Writes(); n != 0 {
		t.Errorf("expected no writes after rejected batches, got %d", n)
	}
}

func TestReadRegistersRejectsOutOfWindow(t *testing.T) {
	m := litepcie.DefaultCSRMap()
	m.Base = 0x8000
	tr := litepcie.NewTransport(litepcie.NewMockCSR(m), m)
	vals := make([]uint32, 2)
	for _, a := range []uint32{0x7ffc, 0x18000} {
		err := tr.ReadRegisters([]uint32{0x8000, a}, vals)
		if !errors.Is(err, litepcie.ErrInvalidRegister) {
			t.Errorf("addr 0x%x: expected ErrInvalidRegister, got %v", a, err)
		}
	}
	if err := tr.ReadRegisters([]uint32{0x8000, 0x17ffc}, vals); err != nil {
		t.Errorf("window edges should be readable, got %v", err)
	}
}

func TestRegisterRoundTrip(t *testing.T) {
	tr, _ := newTransport()
	addrs := []uint32{0x0010, 0x0014, 0xfffc}
	vals := []uint32{0xdeadbeef, 0, 42}
	if err := tr.WriteRegisters(addrs, vals); err != nil {
		t.Fatal(err)
	}
	got := make([]uint32, len(addrs))
	if err := tr.ReadRegisters(addrs, got); err != nil {
		t.Fatal(err)
	}
	for i := range vals {
		if got[i] != vals[i] {
			t.Errorf("register 0x%x: wrote 0x%x, read 0x%x", addrs[i], vals[i], got[i])
		}
	}
}

func TestMismatchedLengthsAreInvalid(t *testing.T) {
	tr, _ := newTransport()
	err := tr.WriteRegisters([]uint32{0, 4}, []uint32{1})
	if !errors.Is(err, litepcie.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestDeviceResetPulses(t *testing.T) {
	tr, csr := newTransport()
	if err := tr.DeviceReset(); err != nil {
		t.Fatal(err)
	}
	if csr.Resets() != 1 {
		t.Errorf("expected one reset, got %d", csr.Resets())
	}
	v, err := tr.ReadRegister(tr.Map.LMSControl)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0 {
		t.Errorf("reset bit should be deasserted, control reads 0x%x", v)
	}
}

func TestIdentifier(t *testing.T) {
	tr, csr := newTransport()
	csr.Identifier = "LiteX XTRX 2021-03-01"
	id, err := tr.Identifier()
	if err != nil {
		t.Fatal(err)
	}
	if id != csr.Identifier {
		t.Errorf("expected %q got %q", csr.Identifier, id)
	}
}

func TestDetachedTransportIsNotConnected(t *testing.T) {
	tr, _ := newTransport()
	tr.Detach()
	if _, err := tr.ReadRegister(0); !errors.Is(err, litepcie.ErrNotConnected) {
		t.Errorf("read: expected ErrNotConnected, got %v", err)
	}
	if err := tr.TransactSPI(litepcie.SPIAddrLMS7002M, []uint32{0}, nil); !errors.Is(err, litepcie.ErrNotConnected) {
		t.Errorf("spi: expected ErrNotConnected, got %v", err)
	}
	if err := tr.DeviceReset(); !errors.Is(err, litepcie.ErrNotConnected) {
		t.Errorf("reset: expected ErrNotConnected, got %v", err)
	}
}

func TestOpenMissingDevice(t *testing.T) {
	d, err := litepcie.Open(99)
	if !errors.Is(err, litepcie.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	if d != nil {
		t.Errorf("expected no device on failure, got %+v", d)
	}
}

func ExampleDevicePath() {
	fmt.Println(litepcie.DevicePath(0))
	// Output: /dev/litepcie0
}
