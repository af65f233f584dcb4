package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fairwaves/xtrx/generichttp/sdr"
	"github.com/fairwaves/xtrx/litepcie"
	"github.com/fairwaves/xtrx/lms7002m"
	"github.com/fairwaves/xtrx/minilog"
	"github.com/fairwaves/xtrx/multiserver"
	"github.com/fairwaves/xtrx/stream"
	"github.com/fairwaves/xtrx/xtrx"

	"github.com/cenkalti/backoff"
	"github.com/grandcat/zeroconf"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

// DeviceSetup describes one board to serve
type DeviceSetup struct {
	// Index selects /dev/litepcie<Index>
	Index int `yaml:"Index" koanf:"Index"`

	// Endpoint is where the device's routes go, e.g. "sdr/0"
	Endpoint string `yaml:"Endpoint" koanf:"Endpoint"`

	// Mock serves an in-memory board instead of the hardware
	Mock bool `yaml:"Mock" koanf:"Mock"`

	// Profile is a built-in profile name or the path of a YAML profile
	Profile string `yaml:"Profile" koanf:"Profile"`

	// CSRMap is the path of a LiteX csr.csv; empty uses the stock layout
	CSRMap string `yaml:"CSRMap" koanf:"CSRMap"`

	// MasterRate is the sample rate programmed by bring-up, Hz
	MasterRate float64 `yaml:"MasterRate" koanf:"MasterRate"`

	// Init runs bring-up when the server starts
	Init bool `yaml:"Init" koanf:"Init"`
}

// Config is a struct that holds the initialization parameters for the server
type Config struct {
	// Addr is the address to listen at
	Addr string `yaml:"Addr" koanf:"Addr"`

	// LogLevel is one of debug, info, warn, error
	LogLevel string `yaml:"LogLevel" koanf:"LogLevel"`

	// LogLines is how many log lines each device keeps for GET log
	LogLines int `yaml:"LogLines" koanf:"LogLines"`

	// Advertise announces the server as _xtrx._tcp over mDNS
	Advertise bool `yaml:"Advertise" koanf:"Advertise"`

	Devices []DeviceSetup `yaml:"Devices" koanf:"Devices"`
}

// DefaultConfig serves one board at /sdr/0
func DefaultConfig() Config {
	return Config{
		Addr:     ":8000",
		LogLevel: "info",
		LogLines: minilog.DefaultCapacity,
		Devices: []DeviceSetup{{
			Index:      0,
			Endpoint:   "sdr/0",
			Profile:    lms7002m.DefaultProfile,
			MasterRate: 10e6,
			Init:       true,
		}},
	}
}

// newLogger logs to stderr and, when ring is not nil, into ring as well
func newLogger(level string, ring *minilog.Log) (*zap.SugaredLogger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}
	enc := zap.NewDevelopmentEncoderConfig()
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	cores := []zapcore.Core{zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.Lock(os.Stderr), lvl)}
	if ring != nil {
		cores = append(cores, ring.Core(lvl))
	}
	return zap.New(zapcore.NewTee(cores...)).Sugar(), nil
}

func loadProfile(name string) (lms7002m.Profile, error) {
	if p, ok := lms7002m.LookupProfile(name); ok {
		return p, nil
	}
	f, err := os.Open(name)
	if err != nil {
		return lms7002m.Profile{}, errors.Wrapf(err, "profile %q is neither built in nor a readable file", name)
	}
	defer f.Close()
	return lms7002m.LoadProfile(f)
}

// openDevice opens the board of s with the options its setup asks for
func openDevice(s DeviceSetup, log *zap.SugaredLogger, metrics *stream.Metrics) (*xtrx.Device, error) {
	opts := []xtrx.Option{xtrx.WithLogger(log), xtrx.WithMetrics(metrics)}
	if s.Profile != "" {
		p, err := loadProfile(s.Profile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, xtrx.WithProfile(p))
	}
	csrMap := litepcie.DefaultCSRMap()
	if s.CSRMap != "" {
		f, err := os.Open(s.CSRMap)
		if err != nil {
			return nil, err
		}
		csrMap, err = litepcie.LoadCSRMap(f)
		f.Close()
		if err != nil {
			return nil, err
		}
		opts = append(opts, xtrx.WithCSRMap(csrMap))
	}
	if s.MasterRate > 0 {
		opts = append(opts, xtrx.WithMasterRate(s.MasterRate))
	}
	if s.Mock {
		opts = append(opts, xtrx.WithBackend(litepcie.NewMockCSR(csrMap), litepcie.NewLoopback(32, 8192)))
	}
	return xtrx.Open(s.Index, opts...)
}

// advertise announces the server over mDNS until ctx is done
func advertise(ctx context.Context, addr string, endpoints []string, log *zap.SugaredLogger) error {
	port := 80
	if i := strings.LastIndexByte(addr, ':'); i >= 0 {
		p, err := strconv.Atoi(addr[i+1:])
		if err != nil {
			return errors.Wrapf(err, "port of %q", addr)
		}
		port = p
	}
	host, _ := os.Hostname()
	txt := append([]string{"version=" + Version}, endpoints...)
	srv, err := zeroconf.Register("xtrxsrv on "+host, "_xtrx._tcp", "local.", port, txt, nil)
	if err != nil {
		return err
	}
	log.Infow("advertising over mDNS", "service", "_xtrx._tcp", "port", port)
	<-ctx.Done()
	srv.Shutdown()
	return nil
}

// initDevice runs bring-up, retrying a few times since a board that was just
// released by another process can fail its first SPI transactions
func initDevice(ctx context.Context, d *xtrx.Device, log *zap.SugaredLogger) error {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     100 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         time.Second,
		MaxElapsedTime:      5 * time.Second,
		Clock:               backoff.SystemClock}
	b.Reset()
	op := func() error {
		err := d.Init(ctx)
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		if err != nil {
			log.Warnw("bring-up failed, retrying", "error", err)
		}
		return err
	}
	return backoff.Retry(op, b)
}

func run(ctx context.Context, c Config) error {
	if len(c.Devices) == 0 {
		return errors.New("no devices configured")
	}
	// the console logger for server-wide messages; devices get their own ring
	base, err := newLogger(c.LogLevel, nil)
	if err != nil {
		return err
	}
	defer base.Sync()

	metrics, err := stream.NewMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}

	var (
		nodes   []multiserver.Node
		devices []*xtrx.Device
	)
	defer func() {
		var errs error
		for _, d := range devices {
			errs = multierr.Append(errs, d.Close())
		}
		if errs != nil {
			base.Warnw("closing devices", "error", errs)
		}
	}()
	for _, s := range c.Devices {
		ring := minilog.New(c.LogLines, minilog.DefaultWindow)
		dlog, err := newLogger(c.LogLevel, ring)
		if err != nil {
			return err
		}
		d, err := openDevice(s, dlog, metrics)
		if err != nil {
			return errors.Wrapf(err, "device %d", s.Index)
		}
		devices = append(devices, d)
		reg := prometheus.WrapRegistererWith(prometheus.Labels{"device": strconv.Itoa(s.Index)}, prometheus.DefaultRegisterer)
		if err := d.Streams().RegisterFill(reg); err != nil {
			return err
		}
		if s.Init {
			if err := initDevice(ctx, d, dlog); err != nil {
				return errors.Wrapf(err, "device %d", s.Index)
			}
		}
		httper := sdr.NewHTTPSDR(d)
		minilog.Inject(httper, ring)
		nodes = append(nodes, multiserver.Node{Endpoint: s.Endpoint, HTTPer: httper})
	}

	mux := multiserver.BuildMux(nodes, base)
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: c.Addr, Handler: mux}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		base.Infow("now listening for requests", "addr", c.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	if c.Advertise {
		g.Go(func() error {
			eps := make([]string, len(nodes))
			for i, n := range nodes {
				eps[i] = fmt.Sprintf("endpoint=%s", n.Endpoint)
			}
			return advertise(gctx, c.Addr, eps, base)
		})
	}
	return g.Wait()
}
