package litepcie

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unsafe"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

// Device is an open /dev/litepcieN character device with its DMA rings mapped
type Device struct {
	Path string

	mu      sync.Mutex
	fd      int
	info    DMAInfo
	rings   [2][]byte
	enabled [2]bool
	locked  [2]bool
	meta    [2][]SlotMeta
}

// DevicePath returns the character device path for a board index
func DevicePath(index int) string {
	return fmt.Sprintf("/dev/litepcie%d", index)
}

// Open opens the board at index and maps its DMA rings.
// A node that does not exist or cannot be opened yields ErrNotConnected.
func Open(index int) (*Device, error) {
	path := DevicePath(index)
	var fd int
	op := func() error {
		var err error
		fd, err = unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
		if err == unix.EBUSY || err == unix.EAGAIN {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}
	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         250 * time.Millisecond,
		MaxElapsedTime:      time.Second,
		Clock:               backoff.SystemClock})
	if err != nil {
		return nil, errors.Wrapf(ErrNotConnected, "failed to open %s: %v", path, err)
	}
	d := &Device{Path: path, fd: fd}
	if err := d.mapRings(); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return d, nil
}

func (d *Device) mapRings() error {
	var raw ioctlMmapDMAInfo
	if err := ioctl(d.fd, reqMmapDMAInfo, unsafe.Pointer(&raw)); err != nil {
		return errors.Wrap(err, "litepcie: querying dma info")
	}
	d.info = DMAInfo(raw)
	tx, err := unix.Mmap(d.fd, int64(raw.TXOffset), int(raw.TXSize*raw.TXCount), unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return errors.Wrap(err, "litepcie: mapping tx ring")
	}
	rx, err := unix.Mmap(d.fd, int64(raw.RXOffset), int(raw.RXSize*raw.RXCount), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		unix.Munmap(tx)
		return errors.Wrap(err, "litepcie: mapping rx ring")
	}
	d.rings[TX], d.rings[RX] = tx, rx
	d.meta[TX] = make([]SlotMeta, raw.TXCount)
	d.meta[RX] = make([]SlotMeta, raw.RXCount)
	return nil
}

// ReadCSR reads a register through the driver
func (d *Device) ReadCSR(addr uint32) (uint32, error) {
	r := ioctlReg{Addr: addr}
	if err := d.ioctl(reqReg, unsafe.Pointer(&r)); err != nil {
		return 0, err
	}
	return r.Val, nil
}

// WriteCSR writes a register through the driver
func (d *Device) WriteCSR(addr, val uint32) error {
	r := ioctlReg{Addr: addr, Val: val, IsWrite: 1}
	return d.ioctl(reqReg, unsafe.Pointer(&r))
}

func (d *Device) ioctl(req uintptr, arg unsafe.Pointer) error {
	d.mu.Lock()
	fd := d.fd
	d.mu.Unlock()
	if fd < 0 {
		return ErrNotConnected
	}
	return ioctl(fd, req, arg)
}

// DMAInfo returns the ring layout reported by the driver
func (d *Device) DMAInfo() DMAInfo {
	return d.info
}

// Ring returns the mapped ring of a direction
func (d *Device) Ring(dir Direction) []byte {
	return d.rings[dir]
}

// SetLoopback routes the TX DMA straight into the RX DMA inside the FPGA
func (d *Device) SetLoopback(on bool) error {
	arg := ioctlDMA{}
	if on {
		arg.LoopbackEnable = 1
	}
	return d.ioctl(reqDMA, unsafe.Pointer(&arg))
}

func (d *Device) engine(dir Direction) (ioctlDMAEngine, error) {
	d.mu.Lock()
	en := d.enabled[dir]
	d.mu.Unlock()
	arg := ioctlDMAEngine{}
	if en {
		arg.Enable = 1
	}
	req := reqDMAWriter
	if dir == TX {
		req = reqDMAReader
	}
	err := d.ioctl(req, unsafe.Pointer(&arg))
	return arg, err
}

// Counters returns the hardware and software slot counts of a DMA engine.
// For RX hw counts slots written by the FPGA; for TX it counts slots read by it.
func (d *Device) Counters(dir Direction) (hw, sw int64, err error) {
	e, err := d.engine(dir)
	return e.HWCount, e.SWCount, err
}

// Update tells the driver how many slots software has consumed (RX) or filled (TX)
func (d *Device) Update(dir Direction, sw int64) error {
	arg := ioctlMmapDMAUpdate{SWCount: sw}
	req := reqMmapWriterUpdate
	if dir == TX {
		req = reqMmapReaderUpdate
	}
	return d.ioctl(req, unsafe.Pointer(&arg))
}

// EnableDMA starts or stops a DMA engine, taking the driver's per-engine lock first
func (d *Device) EnableDMA(dir Direction, on bool) error {
	if on {
		if err := d.lock(dir, true); err != nil {
			return err
		}
	}
	d.mu.Lock()
	d.enabled[dir] = on
	d.mu.Unlock()
	if _, err := d.engine(dir); err != nil {
		return err
	}
	if !on {
		return d.lock(dir, false)
	}
	return nil
}

func (d *Device) lock(dir Direction, acquire bool) error {
	d.mu.Lock()
	held := d.locked[dir]
	d.mu.Unlock()
	if held == acquire {
		return nil
	}
	arg := ioctlLock{}
	switch {
	case dir == TX && acquire:
		arg.ReaderRequest = 1
	case dir == TX:
		arg.ReaderRelease = 1
	case acquire:
		arg.WriterRequest = 1
	default:
		arg.WriterRelease = 1
	}
	if err := d.ioctl(reqLock, unsafe.Pointer(&arg)); err != nil {
		return err
	}
	if acquire {
		st := arg.WriterStatus
		if dir == TX {
			st = arg.ReaderStatus
		}
		if st == 0 {
			return errors.Wrapf(ErrNotConnected, "%s dma engine is in use by another process", dir)
		}
	}
	d.mu.Lock()
	d.locked[dir] = acquire
	d.mu.Unlock()
	return nil
}

// Wait polls the device until a slot is ready in dir or timeout elapses.
// It returns false on timeout.
func (d *Device) Wait(ctx context.Context, dir Direction, timeout time.Duration) (bool, error) {
	ev := int16(unix.POLLIN)
	if dir == TX {
		ev = unix.POLLOUT
	}
	d.mu.Lock()
	fd := d.fd
	d.mu.Unlock()
	if fd < 0 {
		return false, ErrNotConnected
	}
	fds := []unix.PollFd{{Fd: int32(fd), Events: ev}}
	ms := int(timeout / time.Millisecond)
	if ms == 0 && timeout > 0 {
		ms = 1
	}
	n, err := unix.Poll(fds, ms)
	if err == unix.EINTR {
		return false, ctx.Err()
	}
	if err != nil {
		return false, err
	}
	return n > 0 && fds[0].Revents&ev != 0, ctx.Err()
}

// Tag records out-of-band information for a slot.  The stock gateware has no
// timestamp header, so tags are kept on the host.
func (d *Device) Tag(dir Direction, slot int, m SlotMeta) {
	d.mu.Lock()
	d.meta[dir][slot] = m
	d.mu.Unlock()
}

// SlotTag returns the information recorded for a slot
func (d *Device) SlotTag(dir Direction, slot int) SlotMeta {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.meta[dir][slot]
}

// Close stops both engines, unmaps the rings and closes the device
func (d *Device) Close() error {
	var err error
	for _, dir := range []Direction{RX, TX} {
		d.mu.Lock()
		on := d.enabled[dir] || d.locked[dir]
		d.mu.Unlock()
		if on {
			err = multierr.Append(err, d.EnableDMA(dir, false))
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fd < 0 {
		return ErrNotConnected
	}
	for i := range d.rings {
		if d.rings[i] != nil {
			err = multierr.Append(err, unix.Munmap(d.rings[i]))
			d.rings[i] = nil
		}
	}
	err = multierr.Append(err, unix.Close(d.fd))
	d.fd = -1
	return err
}
