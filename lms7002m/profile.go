package lms7002m

import (
	"encoding/binary"
	"io"
	"sort"

	"github.com/pkg/errors"
	"github.com/snksoft/crc"
	yml "gopkg.in/yaml.v2"
)

var crcTable = crc.NewTable(crc.XMODEM)

// ResetMode selects how the chip is brought to a known state
type ResetMode string

const (
	// ResetFull pulses the reset line, then writes the whole defaults table
	ResetFull ResetMode = "full"

	// ResetSoft clears and restores the logic reset bits without touching the rest of the map
	ResetSoft ResetMode = "soft"
)

// Profile is the bring-up recipe for one board revision
type Profile struct {
	Name string `yaml:"Name"`

	Reset ResetMode `yaml:"Reset"`

	// Baseline is applied to channel A after reset.  Entries whose address is
	// inside ChannelRange are applied again with channel B selected.
	Baseline []RegVal `yaml:"Baseline"`

	ChannelRange [2]uint16 `yaml:"ChannelRange"`

	// CalBandwidth is the transmit calibration bandwidth in Hz given to each
	// channel at open.  Zero leaves it unset.
	CalBandwidth float64 `yaml:"CalBandwidth"`
}

// ChannelSpecific returns the part of the baseline inside ChannelRange
func (p Profile) ChannelSpecific() []RegVal {
	out := []RegVal{}
	for _, r := range p.Baseline {
		if r.Addr >= p.ChannelRange[0] && r.Addr <= p.ChannelRange[1] {
			out = append(out, r)
		}
	}
	return out
}

// Checksum is the CRC-16/XMODEM of the baseline, each entry as big endian
// address then value.  Two profiles with the same checksum program the chip
// the same way after reset.
func (p Profile) Checksum() uint16 {
	buf := make([]byte, 4)
	c := crcTable.InitCrc()
	for _, r := range p.Baseline {
		binary.BigEndian.PutUint16(buf, r.Addr)
		binary.BigEndian.PutUint16(buf[2:], r.Val)
		c = crcTable.UpdateCrc(c, buf)
	}
	return crcTable.CRC16(c)
}

// Validate checks the profile can be executed
func (p Profile) Validate() error {
	switch p.Reset {
	case ResetFull, ResetSoft:
	default:
		return errors.Errorf("profile %q: unknown reset mode %q", p.Name, p.Reset)
	}
	if p.ChannelRange[0] > p.ChannelRange[1] {
		return errors.Errorf("profile %q: channel range 0x%04x..0x%04x is empty", p.Name, p.ChannelRange[0], p.ChannelRange[1])
	}
	return nil
}

// LoadProfile reads a YAML profile
func LoadProfile(r io.Reader) (Profile, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return Profile{}, err
	}
	var p Profile
	if err := yml.UnmarshalStrict(b, &p); err != nil {
		return p, errors.Wrap(err, "lms7002m: decoding profile")
	}
	return p, p.Validate()
}

var profiles = map[string]Profile{
	"xtrx-rev5": {
		Name:  "xtrx-rev5",
		Reset: ResetFull,
		Baseline: []RegVal{
			{0x0022, 0x0FFF},
			{0x0023, 0x5550},
			{0x002B, 0x0038},
			{0x002C, 0x0000},
			{0x002D, 0x0641},
			{0x0086, 0x4101},
			{0x0087, 0x5555},
			{0x0088, 0x0525},
			{0x0089, 0x1078},
			{0x008B, 0x218C},
			{0x008C, 0x267B},
			{0x00A6, 0x000F},
			{0x0100, 0x3409},
			{0x0101, 0x7800},
			{0x0102, 0x3180},
			{0x0103, 0x0A12},
			{0x0105, 0x0007},
			{0x0107, 0x318C},
			{0x0108, 0x318C},
			{0x010C, 0x8865},
			{0x010D, 0x011A},
			{0x010E, 0x0000},
			{0x0113, 0x03C3},
			{0x0114, 0x008D},
			{0x0115, 0x0009},
			{0x0118, 0x018C},
			{0x0119, 0x5292},
			{0x011C, 0xAD41},
			{0x0120, 0xE6C0},
			{0x0121, 0x3638},
			{0x0123, 0x000F},
			{0x0200, 0x00E1},
			{0x0208, 0x0170},
			{0x020B, 0x4000},
			{0x0400, 0x0081},
			{0x040A, 0x1000},
			{0x040C, 0x00F8},
		},
		ChannelRange: [2]uint16{0x0100, 0x07FF},
		CalBandwidth: 10e6,
	},
	"xtrx-rev4": {
		Name:  "xtrx-rev4",
		Reset: ResetSoft,
		Baseline: []RegVal{
			{0x0022, 0x0FFF},
			{0x0023, 0x5550},
			{0x0086, 0x4101},
			{0x0088, 0x0525},
			{0x0089, 0x1078},
			{0x0100, 0x3409},
			{0x0103, 0x0A12},
			{0x010C, 0x88FD},
			{0x010D, 0x009E},
			{0x0113, 0x03C3},
			{0x0115, 0x0009},
			{0x0119, 0x18CB},
			{0x0200, 0x0081},
			{0x0400, 0x0081},
		},
		ChannelRange: [2]uint16{0x0100, 0x07FF},
		CalBandwidth: 5e6,
	},
}

// DefaultProfile is used when nothing else is asked for
const DefaultProfile = "xtrx-rev5"

// LookupProfile returns a built-in profile by name
func LookupProfile(name string) (Profile, bool) {
	p, ok := profiles[name]
	return p, ok
}

// ProfileNames lists the built-in profiles
func ProfileNames() []string {
	names := make([]string, 0, len(profiles))
	for k := range profiles {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
