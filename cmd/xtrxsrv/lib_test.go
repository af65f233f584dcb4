package main

import (
	"context"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fairwaves/xtrx/lms7002m"
	"github.com/google/go-cmp/cmp"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
)

func TestConfigOverlay(t *testing.T) {
	dir := t.TempDir()
	fn := filepath.Join(dir, "xtrxsrv.yml")
	body := `Addr: ":9000"
Devices:
  - Index: 1
    Endpoint: radio
    Mock: true
    Profile: xtrx-rev4
`
	if err := os.WriteFile(fn, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	kk := koanf.New(".")
	kk.Load(structs.Provider(DefaultConfig(), "koanf"), nil)
	if err := kk.Load(file.Provider(fn), yaml.Parser()); err != nil {
		t.Fatal(err)
	}
	var c Config
	if err := kk.Unmarshal("", &c); err != nil {
		t.Fatal(err)
	}
	if c.Addr != ":9000" || c.LogLevel != "info" {
		t.Errorf("addr %q level %q", c.Addr, c.LogLevel)
	}
	want := []DeviceSetup{{Index: 1, Endpoint: "radio", Mock: true, Profile: "xtrx-rev4"}}
	if diff := cmp.Diff(want, c.Devices); diff != "" {
		t.Errorf("devices (-want +got):\n%s", diff)
	}
}

func TestSetupFor(t *testing.T) {
	c := Config{Devices: []DeviceSetup{{Index: 3, Endpoint: "x"}}}
	if s := setupFor(c, 3); s.Endpoint != "x" {
		t.Errorf("configured setup not found: %+v", s)
	}
	if s := setupFor(c, 7); s.Index != 7 || s.Profile != lms7002m.DefaultProfile {
		t.Errorf("default setup %+v", s)
	}
}

func TestLoadProfileFromFile(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "p.yml")
	body := "Name: bench\nReset: soft\nBaseline:\n  - {Addr: 0x0082, Val: 0x800b}\nChannelRange: [0x0100, 0x07ff]\n"
	if err := os.WriteFile(fn, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := loadProfile(fn)
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "bench" || len(p.Baseline) != 1 {
		t.Errorf("loaded %+v", p)
	}
	if _, err := loadProfile(filepath.Join(t.TempDir(), "missing.yml")); err == nil || !strings.Contains(err.Error(), "neither built in") {
		t.Errorf("missing profile: %v", err)
	}
}

func TestRxStats(t *testing.T) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint16(buf[0:], uint16(int16(16384)))
	binary.LittleEndian.PutUint16(buf[4:], uint16(0xc000)) // -16384
	var s rxStats
	s.add(buf, 2, 32768)
	if s.n != 2 || s.sumI != 0 {
		t.Errorf("n=%d dc=%v", s.n, s.sumI)
	}
	if got := dB(s.power / 2); math.Abs(got-(-6.0206)) > 1e-3 {
		t.Errorf("mean power %v dBFS", got)
	}
}

func TestMockDeviceServes(t *testing.T) {
	s := DeviceSetup{Index: 0, Mock: true, Profile: lms7002m.DefaultProfile, MasterRate: 5e6}
	log, err := newLogger("error", nil)
	if err != nil {
		t.Fatal(err)
	}
	d, err := openDevice(s, log, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	if err := initDevice(context.Background(), d, log); err != nil {
		t.Fatal(err)
	}
	if r := d.GetSampleRate(0, 0); math.Abs(r-5e6) > 1 {
		t.Errorf("master rate %v", r)
	}
}
