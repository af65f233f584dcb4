package xtrx_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/fairwaves/xtrx/bringup"
	"github.com/fairwaves/xtrx/litepcie"
	"github.com/fairwaves/xtrx/lms7002m"
	"github.com/fairwaves/xtrx/stream"
	"github.com/fairwaves/xtrx/xtrx"
)

func openMock(t *testing.T, opts ...xtrx.Option) (*xtrx.Device, *litepcie.MockCSR, *litepcie.Loopback) {
	t.Helper()
	csr := litepcie.NewMockCSR(litepcie.DefaultCSRMap())
	lb := litepcie.NewLoopback(8, 256)
	d, err := xtrx.Open(0, append([]xtrx.Option{xtrx.WithBackend(csr, lb)}, opts...)...)
	if err != nil {
		t.Fatal(err)
	}
	return d, csr, lb
}

// failingCalibrator fails the nth call
type failingCalibrator struct {
	n, calls int
}

func (f *failingCalibrator) CalibrateTxGain(ctx context.Context, c *lms7002m.Chip, bw float64) error {
	f.calls++
	if f.calls == f.n {
		return errors.New("tbb gain did not converge")
	}
	return nil
}

func TestOpenMissingDevice(t *testing.T) {
	d, err := xtrx.Open(99)
	if !errors.Is(err, litepcie.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	if d != nil {
		t.Error("a device was returned from a failed open")
	}
}

func TestInit(t *testing.T) {
	d, csr, _ := openMock(t)
	defer d.Close()
	if err := d.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	if csr.Resets() != 1 {
		t.Errorf("expected one hardware reset, saw %d", csr.Resets())
	}
	if got := csr.LMS(0x0092); got != 0xffff {
		t.Errorf("LDOs not enabled, 0x0092 = 0x%04x", got)
	}
	if rate := d.GetSampleRate(xtrx.RX, 0); math.Abs(rate-10e6) > 1 {
		t.Errorf("expected a 10 MHz master rate, got %v", rate)
	}
	if mac, _ := d.Chip().GetMAC(); mac != lms7002m.ChannelA {
		t.Errorf("bring-up should end on channel A, MAC=%d", mac)
	}
	for ch := 1; ch <= 2; ch++ {
		if got := csr.LMSChannel(lms7002m.CG_IAMP_TBB.Addr, ch) >> 10; got != lms7002m.NominalIAMP {
			t.Errorf("channel %d not calibrated, CG_IAMP_TBB=%d", ch, got)
		}
	}
	cfg, err := d.Config(xtrx.RX, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Frequency.Valid {
		t.Error("rx frequency not recorded after bring-up")
	}
}

func TestInitSoftResetProfile(t *testing.T) {
	p, _ := lms7002m.LookupProfile("xtrx-rev4")
	d, csr, _ := openMock(t, xtrx.WithProfile(p))
	defer d.Close()
	if err := d.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	if csr.Resets() != 0 {
		t.Errorf("a soft reset profile pulsed the reset line %d times", csr.Resets())
	}
}

func TestInitWithoutCalibrationBandwidth(t *testing.T) {
	p, _ := lms7002m.LookupProfile(lms7002m.DefaultProfile)
	p.CalBandwidth = 0
	d, _, _ := openMock(t, xtrx.WithProfile(p))
	defer d.Close()
	err := d.Init(context.Background())
	if !errors.Is(err, bringup.ErrCalibrationFailed) {
		t.Errorf("expected ErrCalibrationFailed, got %v", err)
	}
	if !errors.Is(err, lms7002m.ErrBandwidthUnset) {
		t.Errorf("expected the cause to be ErrBandwidthUnset, got %v", err)
	}
}

func TestInitChannelBCalibrationFails(t *testing.T) {
	cal := &failingCalibrator{n: 2}
	d, _, _ := openMock(t, xtrx.WithCalibrator(cal))
	defer d.Close()
	err := d.Init(context.Background())
	var se *bringup.StepError
	if !errors.As(err, &se) || se.Step != bringup.StepCalibrateB {
		t.Fatalf("expected a channel B calibration failure, got %v", err)
	}
	if !errors.Is(err, bringup.ErrCalibrationFailed) {
		t.Errorf("expected ErrCalibrationFailed, got %v", err)
	}
	if d.GetSampleRate(xtrx.RX, 0) != 0 {
		t.Error("the sample rate was set after a failed calibration")
	}
	cfg, _ := d.Config(xtrx.TX, 0)
	if cfg.Frequency.Valid {
		t.Error("frequencies were refreshed after a failed calibration")
	}
}

func TestFrequency(t *testing.T) {
	d, _, _ := openMock(t)
	defer d.Close()
	actual, err := d.SetFrequency(xtrx.RX, 0, 433.92e6)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(actual-433.92e6) > 30 {
		t.Errorf("tuned to %v", actual)
	}
	got, err := d.GetFrequency(xtrx.RX, 1)
	if err != nil {
		t.Fatal(err)
	}
	if got != actual {
		t.Errorf("channel 1 reads %v, the shared synthesizer was set to %v", got, actual)
	}
	if _, err := d.SetFrequency(xtrx.TX, 0, 10e9); !errors.Is(err, lms7002m.ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange, got %v", err)
	}
	if _, err := d.SetFrequency(xtrx.TX, 2, 1e9); !errors.Is(err, litepcie.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for channel 2, got %v", err)
	}
}

func TestGainAndAntenna(t *testing.T) {
	d, _, _ := openMock(t)
	defer d.Close()
	if _, err := d.SetGain(xtrx.RX, 1, 20); err != nil {
		t.Fatal(err)
	}
	g, err := d.GetGain(xtrx.RX, 1)
	if err != nil {
		t.Fatal(err)
	}
	if g != 20 {
		t.Errorf("expected 20 dB back, got %v", g)
	}
	if r, _ := d.GainRange(xtrx.TX, 0, ""); r.Max != 52 {
		t.Errorf("tx gain range %+v", r)
	}
	if err := d.SetAntenna(xtrx.RX, 0, "LNAL"); err != nil {
		t.Fatal(err)
	}
	if a, _ := d.GetAntenna(xtrx.RX, 0); a != "LNAL" {
		t.Errorf("antenna %q", a)
	}
	if err := d.SetAntenna(xtrx.TX, 0, "LNAL"); !errors.Is(err, litepcie.ErrInvalidArgument) {
		t.Errorf("an rx port on tx should be rejected, got %v", err)
	}
}

func TestFailedGainKeepsConfig(t *testing.T) {
	d, csr, _ := openMock(t)
	defer d.Close()
	if _, err := d.SetGain(xtrx.RX, 0, 20); err != nil {
		t.Fatal(err)
	}
	// channel select goes through, the gain stages do not
	csr.FailAfter = csr.Writes() + 8
	if _, err := d.SetGain(xtrx.RX, 0, 0); err == nil {
		t.Fatal("expected the gain write to fail")
	}
	cfg, err := d.Config(xtrx.RX, 0)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Gain != 20 {
		t.Errorf("a failed set changed the stored gain to %v", cfg.Gain)
	}
}

func TestInvalidDirection(t *testing.T) {
	d, _, _ := openMock(t)
	defer d.Close()
	bad := xtrx.Direction(2)
	if _, err := d.Config(bad, 0); !errors.Is(err, litepcie.ErrInvalidArgument) {
		t.Errorf("Config: expected ErrInvalidArgument, got %v", err)
	}
	if _, err := d.SetGain(bad, 0, 10); !errors.Is(err, litepcie.ErrInvalidArgument) {
		t.Errorf("SetGain: expected ErrInvalidArgument, got %v", err)
	}
	if err := d.SetAntenna(bad, 0, "LNAH"); !errors.Is(err, litepcie.ErrInvalidArgument) {
		t.Errorf("SetAntenna: expected ErrInvalidArgument, got %v", err)
	}
	if _, err := d.GetAntenna(bad, 0); !errors.Is(err, litepcie.ErrInvalidArgument) {
		t.Errorf("GetAntenna: expected ErrInvalidArgument, got %v", err)
	}
	if err := d.SetDCOffset(bad, 0, 0); !errors.Is(err, litepcie.ErrInvalidArgument) {
		t.Errorf("SetDCOffset: expected ErrInvalidArgument, got %v", err)
	}
	if a := d.ListAntennas(bad, 0); a != nil {
		t.Errorf("antennas of an unknown direction: %v", a)
	}
}

func TestBandwidthSetsCalibrationBandwidth(t *testing.T) {
	p, _ := lms7002m.LookupProfile(lms7002m.DefaultProfile)
	p.CalBandwidth = 0
	d, _, _ := openMock(t, xtrx.WithProfile(p))
	defer d.Close()
	if bw, _ := d.GetBandwidth(xtrx.TX, 0); bw.Valid {
		t.Error("bandwidth should start unset")
	}
	for ch := 0; ch < xtrx.NumChannels; ch++ {
		if _, err := d.SetBandwidth(xtrx.TX, ch, 20e6); err != nil {
			t.Fatal(err)
		}
	}
	cfg, _ := d.Config(xtrx.TX, 0)
	if v, ok := cfg.CalBW.Get(); !ok || v != 20e6 {
		t.Errorf("calibration bandwidth %v", cfg.CalBW)
	}
	if err := d.Init(context.Background()); err != nil {
		t.Errorf("init with bandwidths set: %v", err)
	}
}

func TestDeviceInfo(t *testing.T) {
	d, csr, _ := openMock(t)
	defer d.Close()
	csr.Identifier = "LiteX SoC on XTRX 2024-01-01"
	info, err := d.DeviceInfo()
	if err != nil {
		t.Fatal(err)
	}
	if info.DeviceName != "Fairwaves-XTRX" || info.Expansion != "EXP_BOARD_UNKNOWN" {
		t.Errorf("unexpected info %+v", info)
	}
	if info.Identifier != csr.Identifier {
		t.Errorf("identifier %q", info.Identifier)
	}
}

func TestRegisterAccess(t *testing.T) {
	d, _, _ := openMock(t)
	defer d.Close()
	if err := d.WriteCSR(0x2000, 0xdeadbeef); err != nil {
		t.Fatal(err)
	}
	if v, _ := d.ReadCSR(0x2000); v != 0xdeadbeef {
		t.Errorf("csr read 0x%x", v)
	}
	if err := d.WriteCSR(0x20000, 1); !errors.Is(err, litepcie.ErrInvalidRegister) {
		t.Errorf("expected ErrInvalidRegister, got %v", err)
	}
	if err := d.WriteLMS(0x0119, 0x18cb); err != nil {
		t.Fatal(err)
	}
	if v, _ := d.ReadLMS(0x0119); v != 0x18cb {
		t.Errorf("lms read 0x%x", v)
	}
}

func TestStreamThroughDevice(t *testing.T) {
	d, _, _ := openMock(t)
	defer d.Close()
	if _, err := d.SetFrequency(xtrx.RX, 0, 100e6); err != nil {
		t.Fatal(err)
	}
	rx, err := d.SetupStream(xtrx.RX, stream.CS16, []int{0})
	if err != nil {
		t.Fatal(err)
	}
	if f := rx.Settings().Frequency; math.Abs(f-100e6) > 30 {
		t.Errorf("stream settings carry %v", f)
	}
	tx, err := d.SetupStream(xtrx.TX, stream.CS16, []int{0})
	if err != nil {
		t.Fatal(err)
	}
	m := d.Streams()
	for _, s := range []*stream.Stream{rx, tx} {
		if err := m.Activate(s, 0, 0, 0); err != nil {
			t.Fatal(err)
		}
	}
	out := make([]byte, 4*rx.ElementsPerSlot())
	for i := range out {
		out[i] = byte(i)
	}
	if _, err := m.WriteStream(context.Background(), tx, [][]byte{out}, rx.ElementsPerSlot(), 0, 0, time.Second); err != nil {
		t.Fatal(err)
	}
	in := make([]byte, len(out))
	n, _, _, err := m.ReadStream(context.Background(), rx, [][]byte{in}, rx.ElementsPerSlot(), time.Second)
	if err != nil || n != rx.ElementsPerSlot() {
		t.Fatalf("read %d: %v", n, err)
	}
	if string(in) != string(out) {
		t.Error("loopback data differs")
	}
	if _, err := d.SetupStream(xtrx.RX, stream.CS16, []int{3}); !errors.Is(err, litepcie.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for channel 3, got %v", err)
	}
}

func TestClose(t *testing.T) {
	d, _, _ := openMock(t)
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	if err := d.Close(); !errors.Is(err, litepcie.ErrNotConnected) {
		t.Errorf("second close: %v", err)
	}
	if _, err := d.ReadCSR(0); !errors.Is(err, litepcie.ErrNotConnected) {
		t.Errorf("csr access after close: %v", err)
	}
	if err := d.Init(context.Background()); !errors.Is(err, litepcie.ErrNotConnected) {
		t.Errorf("init after close: %v", err)
	}
}
