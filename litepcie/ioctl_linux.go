package litepcie

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// request encoding from asm-generic/ioctl.h
const (
	iocWrite = 1
	iocRead  = 2

	iocNRShift   = 0
	iocTypeShift = 8
	iocSizeShift = 16
	iocDirShift  = 30

	ioctlMagic = 'S'
)

func ioc(dir, nr, size uintptr) uintptr {
	return dir<<iocDirShift | ioctlMagic<<iocTypeShift | nr<<iocNRShift | size<<iocSizeShift
}

type ioctlReg struct {
	Addr    uint32
	Val     uint32
	IsWrite uint8
	_       [3]byte
}

type ioctlDMA struct {
	LoopbackEnable uint8
}

type ioctlDMAEngine struct {
	Enable  uint8
	_       [7]byte
	HWCount int64
	SWCount int64
}

type ioctlMmapDMAInfo struct {
	TXOffset uint64
	TXSize   uint64
	TXCount  uint64
	RXOffset uint64
	RXSize   uint64
	RXCount  uint64
}

type ioctlMmapDMAUpdate struct {
	SWCount int64
}

type ioctlLock struct {
	ReaderRequest uint8
	WriterRequest uint8
	ReaderRelease uint8
	WriterRelease uint8
	ReaderStatus  uint8
	WriterStatus  uint8
}

var (
	reqReg              = ioc(iocRead|iocWrite, 0, unsafe.Sizeof(ioctlReg{}))
	reqDMA              = ioc(iocWrite, 20, unsafe.Sizeof(ioctlDMA{}))
	reqDMAWriter        = ioc(iocRead|iocWrite, 21, unsafe.Sizeof(ioctlDMAEngine{}))
	reqDMAReader        = ioc(iocRead|iocWrite, 22, unsafe.Sizeof(ioctlDMAEngine{}))
	reqMmapDMAInfo      = ioc(iocRead, 24, unsafe.Sizeof(ioctlMmapDMAInfo{}))
	reqMmapWriterUpdate = ioc(iocWrite, 25, unsafe.Sizeof(ioctlMmapDMAUpdate{}))
	reqMmapReaderUpdate = ioc(iocWrite, 26, unsafe.Sizeof(ioctlMmapDMAUpdate{}))
	reqLock             = ioc(iocRead|iocWrite, 27, unsafe.Sizeof(ioctlLock{}))
)

func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}
