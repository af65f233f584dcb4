package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/fairwaves/xtrx/stream"
	"github.com/fairwaves/xtrx/xtrx"

	"github.com/pkg/errors"
	"github.com/theckman/yacspin"
	"go.uber.org/zap"
)

// setupFor returns the configured setup of board index, or a default one
func setupFor(c Config, index int) DeviceSetup {
	for _, s := range c.Devices {
		if s.Index == index {
			return s
		}
	}
	s := DefaultConfig().Devices[0]
	s.Index = index
	return s
}

func probe(ctx context.Context, c Config, index int) error {
	log, err := newLogger(c.LogLevel, nil)
	if err != nil {
		return err
	}
	d, err := openDevice(setupFor(c, index), log, nil)
	if err != nil {
		return err
	}
	defer d.Close()
	info, err := d.DeviceInfo()
	if err != nil {
		return err
	}
	p := d.Profile()
	fmt.Printf("device:      %s\n", info.DeviceName)
	fmt.Printf("identifier:  %s\n", info.Identifier)
	fmt.Printf("expansion:   %s\n", info.Expansion)
	fmt.Printf("firmware:    %s\n", info.FirmwareVersion)
	fmt.Printf("protocol:    %s\n", info.ProtocolVersion)
	fmt.Printf("profile:     %s (baseline crc %04x)\n", p.Name, p.Checksum())
	for _, dir := range []xtrx.Direction{xtrx.RX, xtrx.TX} {
		fmt.Printf("%s antennas: %v\n", dir, d.ListAntennas(dir, 0))
	}
	return nil
}

// rxStats accumulates the received samples of one channel
type rxStats struct {
	n          int
	sumI, sumQ float64
	power      float64
	peak       float64
	overflows  int
}

func (s *rxStats) add(buf []byte, n int, fullScale float64) {
	for k := 0; k < n; k++ {
		i := float64(int16(binary.LittleEndian.Uint16(buf[4*k:]))) / fullScale
		q := float64(int16(binary.LittleEndian.Uint16(buf[4*k+2:]))) / fullScale
		s.sumI += i
		s.sumQ += q
		p := i*i + q*q
		s.power += p
		s.peak = math.Max(s.peak, p)
	}
	s.n += n
}

func dB(p float64) float64 {
	return 10 * math.Log10(p)
}

func (s *rxStats) String() string {
	if s.n == 0 {
		return "no samples"
	}
	n := float64(s.n)
	return fmt.Sprintf("%d samples, mean power %.1f dBFS, peak %.1f dBFS, dc (%.4f, %.4f), %d overflows",
		s.n, dB(s.power/n), dB(s.peak), s.sumI/n, s.sumQ/n, s.overflows)
}

// feedTone transmits a quarter rate tone until ctx is done, so a mock board
// has something to receive
func feedTone(ctx context.Context, m *stream.Manager, tx *stream.Stream, log *zap.SugaredLogger) {
	per := tx.ElementsPerSlot()
	buf := make([]byte, 4*per)
	amp := 0.5 * tx.Format.FullScale()
	for k := 0; k < per; k++ {
		phase := float64(k) * math.Pi / 2
		binary.LittleEndian.PutUint16(buf[4*k:], uint16(int16(amp*math.Cos(phase))))
		binary.LittleEndian.PutUint16(buf[4*k+2:], uint16(int16(amp*math.Sin(phase))))
	}
	for ctx.Err() == nil {
		if _, err := m.WriteStream(ctx, tx, [][]byte{buf}, per, 0, 0, 100*time.Millisecond); err != nil && ctx.Err() == nil {
			log.Debugw("tone feed", "error", err)
		}
	}
}

func rxtest(ctx context.Context, c Config, index, samples int) error {
	log, err := newLogger(c.LogLevel, nil)
	if err != nil {
		return err
	}
	setup := setupFor(c, index)
	d, err := openDevice(setup, log, nil)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.Init(ctx); err != nil {
		return err
	}
	m := d.Streams()
	rx, err := d.SetupStream(xtrx.RX, stream.CS16, []int{0})
	if err != nil {
		return err
	}
	if err := m.Activate(rx, 0, 0, 0); err != nil {
		return err
	}
	if setup.Mock {
		tx, err := d.SetupStream(xtrx.TX, stream.CS16, []int{0})
		if err != nil {
			return err
		}
		if err := m.Activate(tx, 0, 0, 0); err != nil {
			return err
		}
		fctx, cancel := context.WithCancel(ctx)
		defer cancel()
		go feedTone(fctx, m, tx, log)
	}

	spinner, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[11],
		Suffix:            " receiving",
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	})
	if err != nil {
		return err
	}
	spinner.Start()

	var st rxStats
	buf := make([]byte, 4*rx.ElementsPerSlot())
	start := time.Now()
	for st.n < samples {
		want := rx.ElementsPerSlot()
		if samples-st.n < want {
			want = samples - st.n
		}
		n, flags, _, err := m.ReadStream(ctx, rx, [][]byte{buf}, want, time.Second)
		if errors.Is(err, stream.ErrOverflow) || flags&stream.FlagOverflow != 0 {
			st.overflows++
			continue
		}
		if err != nil {
			spinner.StopFailMessage(err.Error())
			spinner.StopFail()
			return err
		}
		st.add(buf, n, rx.Format.FullScale())
		spinner.Message(fmt.Sprintf("%d/%d", st.n, samples))
	}
	elapsed := time.Since(start)
	spinner.StopMessage(fmt.Sprintf("%.2f Msps", float64(st.n)/elapsed.Seconds()/1e6))
	spinner.Stop()
	fmt.Println(st.String())
	return nil
}
