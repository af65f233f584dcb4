package litepcie

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// WindowSize is the extent of the CSR window above CSRMap.Base
const WindowSize = 0x10000

// IdentifierWords is the number of 32-bit words in the identifier memory
const IdentifierWords = 256

// CSRMap holds the absolute addresses of the registers the driver uses.
// LiteX assigns these at gateware build time; the defaults match the
// XTRX gateware and a csr.csv from the build can override them.
type CSRMap struct {
	Base          uint32 `yaml:"Base" koanf:"Base"`
	IdentifierMem uint32 `yaml:"IdentifierMem" koanf:"IdentifierMem"`
	LMSControl    uint32 `yaml:"LMSControl" koanf:"LMSControl"`
	LMSResetBit   uint   `yaml:"LMSResetBit" koanf:"LMSResetBit"`
	SPIControl    uint32 `yaml:"SPIControl" koanf:"SPIControl"`
	SPIStatus     uint32 `yaml:"SPIStatus" koanf:"SPIStatus"`
	SPIMOSI       uint32 `yaml:"SPIMOSI" koanf:"SPIMOSI"`
	SPIMISO       uint32 `yaml:"SPIMISO" koanf:"SPIMISO"`
}

// DefaultCSRMap returns the register layout of the stock XTRX gateware
func DefaultCSRMap() CSRMap {
	return CSRMap{
		Base:          0x0000,
		IdentifierMem: 0x1000,
		LMSControl:    0x3000,
		LMSResetBit:   0,
		SPIControl:    0x3800,
		SPIStatus:     0x3804,
		SPIMOSI:       0x3808,
		SPIMISO:       0x380c,
	}
}

// Contains reports whether addr lies in [Base, Base+WindowSize)
func (m CSRMap) Contains(addr uint32) bool {
	return addr >= m.Base && uint64(addr)-uint64(m.Base) < WindowSize
}

// csvNames maps LiteX csr.csv register names onto CSRMap fields
var csvNames = map[string]func(*CSRMap, uint32){
	"identifier_mem":       func(m *CSRMap, a uint32) { m.IdentifierMem = a },
	"lms7002m_control":     func(m *CSRMap, a uint32) { m.LMSControl = a },
	"lms7002m_spi_control": func(m *CSRMap, a uint32) { m.SPIControl = a },
	"lms7002m_spi_status":  func(m *CSRMap, a uint32) { m.SPIStatus = a },
	"lms7002m_spi_mosi":    func(m *CSRMap, a uint32) { m.SPIMOSI = a },
	"lms7002m_spi_miso":    func(m *CSRMap, a uint32) { m.SPIMISO = a },
}

// LoadCSRMap parses a LiteX csr.csv and returns the default map with every
// register found in the file replaced.  Rows the driver does not use are ignored.
func LoadCSRMap(r io.Reader) (CSRMap, error) {
	m := DefaultCSRMap()
	rd := csv.NewReader(r)
	rd.Comment = '#'
	rd.FieldsPerRecord = -1
	rd.TrimLeadingSpace = true
	for {
		rec, err := rd.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return m, errors.Wrap(err, "litepcie: reading csr.csv")
		}
		if len(rec) < 3 {
			continue
		}
		kind, name := strings.TrimSpace(rec[0]), strings.TrimSpace(rec[1])
		switch kind {
		case "csr_base", "csr_register", "memory_region":
		default:
			continue
		}
		addr, err := strconv.ParseUint(strings.TrimSpace(rec[2]), 0, 32)
		if err != nil {
			return m, errors.Wrapf(err, "litepcie: bad address for %s", name)
		}
		if kind == "memory_region" {
			if name == "csr" {
				m.Base = uint32(addr)
			}
			continue
		}
		if set := csvNames[name]; set != nil {
			set(&m, uint32(addr))
		}
	}
	return m, nil
}
