package xtrx

import "github.com/fairwaves/xtrx/stream"

// Info describes the board
type Info struct {
	DeviceName          string `json:"deviceName"`
	Expansion           string `json:"expansionName"`
	FirmwareVersion     string `json:"firmwareVersion"`
	HardwareVersion     string `json:"hardwareVersion"`
	ProtocolVersion     string `json:"protocolVersion"`
	GatewareVersion     string `json:"gatewareVersion"`
	GatewareTargetBoard string `json:"gatewareTargetBoard"`
	BoardSerialNumber   uint64 `json:"boardSerialNumber"`
	Identifier          string `json:"identifier"`
}

// DeviceInfo returns the board description.  The identifier is read from the
// gateware's identifier memory.
func (d *Device) DeviceInfo() (Info, error) {
	if err := d.check(); err != nil {
		return Info{}, err
	}
	id, err := d.tr.Identifier()
	if err != nil {
		return Info{}, err
	}
	return Info{
		DeviceName:      "Fairwaves-XTRX",
		Expansion:       "EXP_BOARD_UNKNOWN",
		FirmwareVersion: "0",
		ProtocolVersion: "0",
		Identifier:      id,
	}, nil
}

// ReadCSR reads a gateware register
func (d *Device) ReadCSR(addr uint32) (uint32, error) {
	return d.tr.ReadRegister(addr)
}

// WriteCSR writes a gateware register
func (d *Device) WriteCSR(addr, val uint32) error {
	return d.tr.WriteRegister(addr, val)
}

// ReadLMS reads a chip register
func (d *Device) ReadLMS(addr uint16) (uint16, error) {
	if err := d.check(); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.chip.ReadRegister(addr)
}

// WriteLMS writes a chip register
func (d *Device) WriteLMS(addr, val uint16) error {
	if err := d.check(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.chip.WriteRegister(addr, val)
}

// SetupStream opens a stream on the given channels and records their RF
// configuration on it
func (d *Device) SetupStream(dir Direction, f stream.Format, channels []int) (*stream.Stream, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	for _, ch := range channels {
		if _, err := macFor(ch); err != nil {
			return nil, err
		}
	}
	s, err := d.streams.Setup(dir, f, channels)
	if err != nil {
		return nil, err
	}
	d.updateSettings(dir)
	return s, nil
}
