/*Package xtrx is the driver for Fairwaves XTRX boards: an LMS7002M transceiver
behind LiteX PCIe gateware.

A Device owns the litepcie file descriptor, its DMA mapping, the register
transport and the chip.  Open it, run Init once to bring the chip up, then tune
it and move samples through the stream manager.

	d, err := xtrx.Open(0)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.Init(ctx); err != nil {
		return err
	}
*/
package xtrx

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/fairwaves/xtrx/bringup"
	"github.com/fairwaves/xtrx/litepcie"
	"github.com/fairwaves/xtrx/lms7002m"
	"github.com/fairwaves/xtrx/stream"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Direction is RX or TX
type Direction = stream.Direction

const (
	// RX is the receive direction
	RX = stream.RX

	// TX is the transmit direction
	TX = stream.TX
)

// NumChannels is the number of RF channels on the board
const NumChannels = 2

// DefaultOversample is the oversampling factor used by SetSampleRate
const DefaultOversample = 2

type options struct {
	log        *zap.SugaredLogger
	profile    lms7002m.Profile
	cal        lms7002m.Calibrator
	target     [2]Target
	refClock   float64
	csrMap     litepcie.CSRMap
	masterRate float64
	metrics    *stream.Metrics
	csr        litepcie.CSR
	dma        stream.Backend
}

// Option configures Open
type Option func(*options)

// WithLogger logs through l
func WithLogger(l *zap.SugaredLogger) Option {
	return func(o *options) { o.log = l }
}

// WithProfile brings the chip up with p instead of the default profile
func WithProfile(p lms7002m.Profile) Option {
	return func(o *options) { o.profile = p }
}

// WithCalibrator uses c for calibration
func WithCalibrator(c lms7002m.Calibrator) Option {
	return func(o *options) { o.cal = c }
}

// WithTarget places the DMA buffers of dir on t
func WithTarget(dir Direction, t Target) Option {
	return func(o *options) { o.target[dir] = t }
}

// WithRefClock sets the reference oscillator frequency in Hz
func WithRefClock(hz float64) Option {
	return func(o *options) { o.refClock = hz }
}

// WithCSRMap uses a gateware register layout other than the default
func WithCSRMap(m litepcie.CSRMap) Option {
	return func(o *options) { o.csrMap = m }
}

// WithMasterRate sets the sample rate programmed at the end of Init
func WithMasterRate(hz float64) Option {
	return func(o *options) { o.masterRate = hz }
}

// WithMetrics counts stream traffic in m
func WithMetrics(m *stream.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithBackend talks to csr and dma instead of opening /dev/litepcieN.
// dma is closed along with the device if it implements io.Closer.
func WithBackend(csr litepcie.CSR, dma stream.Backend) Option {
	return func(o *options) {
		o.csr = csr
		o.dma = dma
	}
}

// Device is an open XTRX
type Device struct {
	Index int

	log     *zap.SugaredLogger
	profile lms7002m.Profile
	cal     lms7002m.Calibrator
	target  [2]Target
	rate    float64

	tr      *litepcie.Transport
	chip    *lms7002m.Chip
	streams *stream.Manager
	closer  io.Closer

	// mu is the control mutex; it keeps MAC selection and the calls that rely on it together
	mu         sync.Mutex
	closed     bool
	cfg        [2][NumChannels]ChannelConfig
	sampleRate Optional
}

// Open opens board index.  Nothing is left open when it fails.
func Open(index int, opts ...Option) (*Device, error) {
	p, _ := lms7002m.LookupProfile(lms7002m.DefaultProfile)
	o := options{
		profile:    p,
		cal:        lms7002m.NominalCalibrator{},
		refClock:   lms7002m.DefaultRefClock,
		csrMap:     litepcie.DefaultCSRMap(),
		masterRate: bringup.DefaultMasterRate,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = zap.NewNop().Sugar()
	}
	if err := o.profile.Validate(); err != nil {
		return nil, err
	}

	d := &Device{
		Index:   index,
		log:     o.log.With("device", index),
		profile: o.profile,
		cal:     o.cal,
		target:  o.target,
		rate:    o.masterRate,
	}
	csr, dma := o.csr, o.dma
	if csr == nil || dma == nil {
		dev, err := litepcie.Open(index)
		if err != nil {
			return nil, err
		}
		csr, dma, d.closer = dev, dev, dev
	} else if c, ok := dma.(io.Closer); ok {
		d.closer = c
	}

	d.tr = litepcie.NewTransport(csr, o.csrMap)
	d.chip = lms7002m.New(&litepcie.SPIConn{T: d.tr, Addr: litepcie.SPIAddrLMS7002M}, d.log.Named("lms7002m"))
	d.chip.RefClock = o.refClock
	d.chip.HardwareReset = d.tr.DeviceReset
	d.streams = stream.NewManager(dma, d.log.Named("stream"))
	d.streams.Metrics = o.metrics

	for dir := range d.cfg {
		for ch := range d.cfg[dir] {
			d.cfg[dir][ch].Antenna = defaultAntenna(Direction(dir))
			if o.profile.CalBandwidth > 0 {
				d.cfg[dir][ch].CalBW = Some(o.profile.CalBandwidth)
			}
		}
	}
	d.log.Infow("opened device", "profile", o.profile.Name, "baseline_crc", fmt.Sprintf("%04x", o.profile.Checksum()))
	return d, nil
}

// Init brings the chip up with the device's profile
func (d *Device) Init(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return litepcie.ErrNotConnected
	}
	seq := bringup.New(radio{d}, d.log.Named("bringup"))
	seq.Rate = d.rate
	return seq.Run(ctx)
}

// Chip returns the RF chip
func (d *Device) Chip() *lms7002m.Chip {
	return d.chip
}

// Streams returns the stream manager
func (d *Device) Streams() *stream.Manager {
	return d.streams
}

// Target returns where the DMA buffers of dir live
func (d *Device) Target(dir Direction) Target {
	return d.target[dir]
}

// Profile returns the bring-up profile in use
func (d *Device) Profile() lms7002m.Profile {
	return d.profile
}

func (d *Device) check() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return litepcie.ErrNotConnected
	}
	return nil
}

// Close stops the streams and releases the mapping and the file descriptor
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return litepcie.ErrNotConnected
	}
	d.closed = true
	d.mu.Unlock()

	err := d.streams.Close()
	d.tr.Detach()
	if d.closer != nil {
		err = multierr.Append(err, d.closer.Close())
	}
	if err != nil {
		d.log.Warnw("errors closing device", "error", err)
	} else {
		d.log.Infow("closed device")
	}
	return err
}

// macFor maps a channel index to a MAC value
func macFor(ch int) (lms7002m.Channel, error) {
	switch ch {
	case 0:
		return lms7002m.ChannelA, nil
	case 1:
		return lms7002m.ChannelB, nil
	}
	return 0, errors.Wrapf(litepcie.ErrInvalidArgument, "channel %d", ch)
}

func lmsDir(dir Direction) lms7002m.Direction {
	if dir == TX {
		return lms7002m.TX
	}
	return lms7002m.RX
}

// checkTarget validates a direction and channel index pair
func checkTarget(dir Direction, ch int) (lms7002m.Channel, error) {
	if dir != RX && dir != TX {
		return 0, errors.Wrapf(litepcie.ErrInvalidArgument, "direction %d", int(dir))
	}
	return macFor(ch)
}

// onChannel selects ch and runs fn with the control mutex held
func (d *Device) onChannel(dir Direction, ch int, fn func() error) error {
	mac, err := checkTarget(dir, ch)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return litepcie.ErrNotConnected
	}
	if err := d.chip.SetMAC(mac); err != nil {
		return err
	}
	return fn()
}

// radio drives the chip for the bring-up sequencer.  Init holds the control
// mutex for the whole run.
type radio struct {
	d *Device
}

func (r radio) ResetChip(ctx context.Context) error {
	return r.d.chip.Reset(r.d.profile.Reset)
}

func (r radio) SetMAC(ch lms7002m.Channel) error {
	return r.d.chip.SetMAC(ch)
}

func (r radio) ApplyBaseline(channelOnly bool) error {
	regs := r.d.profile.Baseline
	if channelOnly {
		regs = r.d.profile.ChannelSpecific()
	}
	return r.d.chip.WriteRegisters(regs)
}

func (r radio) XBufConfig() error {
	return r.d.chip.XBufConfig()
}

func (r radio) EnableLDO(on bool) error {
	return r.d.chip.EnableLDO(on)
}

func (r radio) CalibrateTxGain(ctx context.Context, ch lms7002m.Channel) error {
	idx := 0
	if ch == lms7002m.ChannelB {
		idx = 1
	}
	bw := r.d.cfg[TX][idx].CalBW
	if !bw.Valid {
		return errors.Wrapf(lms7002m.ErrBandwidthUnset, "channel %d", idx)
	}
	return r.d.cal.CalibrateTxGain(ctx, r.d.chip, bw.Value)
}

func (r radio) EnableChannel(dir lms7002m.Direction, on bool) error {
	return r.d.chip.EnableChannel(dir, on)
}

func (r radio) RefreshFrequency(dir lms7002m.Direction) error {
	d := r.d
	sdir := RX
	if dir == lms7002m.TX {
		sdir = TX
	}
	f := d.cfg[sdir][0].Frequency
	hz := f.Value
	if !f.Valid {
		cur, err := d.chip.GetFrequency(dir)
		if err != nil {
			return err
		}
		hz = cur
	}
	actual, err := d.chip.SetFrequency(dir, hz)
	if err != nil {
		return err
	}
	for ch := range d.cfg[sdir] {
		d.cfg[sdir][ch].Frequency = Some(actual)
	}
	return nil
}

func (r radio) SetMasterRate(rate float64, factor int) error {
	actual, err := r.d.chip.SetSampleRate(rate, factor)
	if err != nil {
		return err
	}
	r.d.sampleRate = Some(actual)
	r.d.streams.SetSampleRate(actual)
	return nil
}
