//go:build !linux
// +build !linux

package litepcie

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// Device is an open /dev/litepcieN character device.  The litepcie driver
// only exists on Linux; elsewhere Open always fails.
type Device struct {
	Path string
}

// DevicePath returns the character device path for a board index
func DevicePath(index int) string {
	return fmt.Sprintf("/dev/litepcie%d", index)
}

// Open always fails with ErrNotConnected on this platform
func Open(index int) (*Device, error) {
	return nil, errors.Wrapf(ErrNotConnected, "failed to open %s: litepcie requires linux", DevicePath(index))
}

func (d *Device) ReadCSR(addr uint32) (uint32, error) { return 0, ErrUnsupported }
func (d *Device) WriteCSR(addr, val uint32) error { return ErrUnsupported }
func (d *Device) DMAInfo() DMAInfo { return DMAInfo{} }
func (d *Device) Ring(dir Direction) []byte { return nil }
func (d *Device) SetLoopback(on bool) error { return ErrUnsupported }
func (d *Device) Update(dir Direction, sw int64) error { return ErrUnsupported }
func (d *Device) EnableDMA(dir Direction, on bool) error { return ErrUnsupported }
func (d *Device) Tag(dir Direction, slot int, m SlotMeta) {}
func (d *Device) SlotTag(dir Direction, slot int) SlotMeta {
	return SlotMeta{}
}
func (d *Device) Close() error { return ErrNotConnected }

func (d *Device) Counters(dir Direction) (hw, sw int64, err error) {
	return 0, 0, ErrUnsupported
}

func (d *Device) Wait(ctx context.Context, dir Direction, timeout time.Duration) (bool, error) {
	return false, ErrUnsupported
}
