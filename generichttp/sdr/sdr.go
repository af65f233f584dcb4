// Package sdr provides a generic HTTP interface to software defined radios.
//
// Per-channel routes take the channel as a query parameter, ?ch=1; it
// defaults to 0.
package sdr

import (
	"encoding/json"
	"fmt"
	"go/types"
	"net/http"
	"strconv"

	"github.com/fairwaves/xtrx/generichttp"
	"github.com/fairwaves/xtrx/litepcie"
	"github.com/fairwaves/xtrx/lms7002m"
	"github.com/fairwaves/xtrx/server"
	"github.com/fairwaves/xtrx/stream"
	"github.com/fairwaves/xtrx/xtrx"
	"github.com/pkg/errors"
)

// Radio is the property surface of a transceiver
type Radio interface {
	SetFrequency(stream.Direction, int, float64) (float64, error)
	GetFrequency(stream.Direction, int) (float64, error)
	SetGain(stream.Direction, int, float64) (float64, error)
	GetGain(stream.Direction, int) (float64, error)
	SetBandwidth(stream.Direction, int, float64) (float64, error)
	GetBandwidth(stream.Direction, int) (xtrx.Optional, error)
	SetAntenna(stream.Direction, int, string) error
	GetAntenna(stream.Direction, int) (string, error)
	ListAntennas(stream.Direction, int) []string
	SetSampleRate(stream.Direction, int, float64) (float64, error)
	GetSampleRate(stream.Direction, int) float64
	GetNumChannels(stream.Direction) int
}

// Device is a Radio with board level access
type Device interface {
	Radio
	DeviceInfo() (xtrx.Info, error)
	ReadCSR(uint32) (uint32, error)
	WriteCSR(uint32, uint32) error
	ReadLMS(uint16) (uint16, error)
	WriteLMS(uint16, uint16) error
	ReadSensor(string) (string, error)
	GetHardwareTime() (int64, error)
	Streams() *stream.Manager
}

// HTTPSDR wraps a Device in an HTTP interface
type HTTPSDR struct {
	Dev Device

	RouteTable generichttp.RouteTable2
}

// RT satisfies generichttp.HTTPer
func (h HTTPSDR) RT() generichttp.RouteTable2 {
	return h.RouteTable
}

// NewHTTPSDR builds the route table for d
func NewHTTPSDR(d Device) HTTPSDR {
	rt := generichttp.RouteTable2{}
	HTTPRadio(d, rt)
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/info"}] = generichttp.GetJSON(func() (interface{}, error) {
		return d.DeviceInfo()
	})
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/csr/read"}] = readRegister(func(a uint32) (uint32, error) { return d.ReadCSR(a) })
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/csr/write"}] = writeRegister(func(a, v uint32) error { return d.WriteCSR(a, v) })
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/lms/read"}] = readRegister(func(a uint32) (uint32, error) {
		if a > 0xffff {
			return 0, errAddress
		}
		v, err := d.ReadLMS(uint16(a))
		return uint32(v), err
	})
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/lms/write"}] = writeRegister(func(a, v uint32) error {
		if a > 0xffff || v > 0xffff {
			return errAddress
		}
		return d.WriteLMS(uint16(a), uint16(v))
	})
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/locked"}] = generichttp.GetBool(func() (bool, error) {
		s, err := d.ReadSensor(xtrx.SensorLocked)
		return s == "true", err
	})
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/hardware-time"}] = generichttp.GetInt(func() (int, error) {
		t, err := d.GetHardwareTime()
		return int(t), err
	})
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/stream/stats"}] = generichttp.GetJSON(func() (interface{}, error) {
		return streamStats(d.Streams()), nil
	})
	return HTTPSDR{Dev: d, RouteTable: rt}
}

// HTTPRadio adds the tuning routes of r to a table
func HTTPRadio(r Radio, table generichttp.RouteTable2) {
	for _, dir := range []stream.Direction{stream.RX, stream.TX} {
		dir := dir
		stem := "/" + dir.String()
		table[generichttp.MethodPath{Method: http.MethodGet, Path: stem + "/frequency"}] = getFloat(r, func(ch int) (float64, error) {
			return r.GetFrequency(dir, ch)
		})
		table[generichttp.MethodPath{Method: http.MethodPost, Path: stem + "/frequency"}] = setFloat(r, func(ch int, f float64) (float64, error) {
			return r.SetFrequency(dir, ch, f)
		})
		table[generichttp.MethodPath{Method: http.MethodGet, Path: stem + "/gain"}] = getFloat(r, func(ch int) (float64, error) {
			return r.GetGain(dir, ch)
		})
		table[generichttp.MethodPath{Method: http.MethodPost, Path: stem + "/gain"}] = setFloat(r, func(ch int, f float64) (float64, error) {
			return r.SetGain(dir, ch, f)
		})
		// an unset bandwidth reads as zero
		table[generichttp.MethodPath{Method: http.MethodGet, Path: stem + "/bandwidth"}] = getFloat(r, func(ch int) (float64, error) {
			bw, err := r.GetBandwidth(dir, ch)
			return bw.Value, err
		})
		table[generichttp.MethodPath{Method: http.MethodPost, Path: stem + "/bandwidth"}] = setFloat(r, func(ch int, f float64) (float64, error) {
			return r.SetBandwidth(dir, ch, f)
		})
		table[generichttp.MethodPath{Method: http.MethodGet, Path: stem + "/antenna"}] = withChannel(r, func(w http.ResponseWriter, req *http.Request, ch int) {
			generichttp.GetString(func() (string, error) { return r.GetAntenna(dir, ch) })(w, req)
		})
		table[generichttp.MethodPath{Method: http.MethodPost, Path: stem + "/antenna"}] = withChannel(r, func(w http.ResponseWriter, req *http.Request, ch int) {
			generichttp.SetString(func(s string) error { return r.SetAntenna(dir, ch, s) })(w, req)
		})
		table[generichttp.MethodPath{Method: http.MethodGet, Path: stem + "/antenna-options"}] = withChannel(r, func(w http.ResponseWriter, req *http.Request, ch int) {
			server.RespondJSON(w, r.ListAntennas(dir, ch))
		})
	}
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/sample-rate"}] = getFloat(r, func(ch int) (float64, error) {
		return r.GetSampleRate(stream.RX, ch), nil
	})
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/sample-rate"}] = setFloat(r, func(ch int, f float64) (float64, error) {
		return r.SetSampleRate(stream.RX, ch, f)
	})
}

// withChannel parses ?ch= and hands it to fn
func withChannel(radio Radio, fn func(http.ResponseWriter, *http.Request, int)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ch := 0
		if s := r.URL.Query().Get("ch"); s != "" {
			var err error
			ch, err = strconv.Atoi(s)
			if err != nil {
				http.Error(w, "channel must be an integer", http.StatusBadRequest)
				return
			}
		}
		// both directions have the same channels
		if n := radio.GetNumChannels(stream.RX); ch < 0 || ch >= n {
			http.Error(w, fmt.Sprintf("channel %d out of range [0, %d)", ch, n), http.StatusBadRequest)
			return
		}
		fn(w, r, ch)
	}
}

// status is the HTTP status of a failed call: 400 when the request asked for
// something the device cannot do, 500 otherwise
func status(err error) int {
	for _, e := range []error{litepcie.ErrInvalidArgument, litepcie.ErrInvalidRegister, lms7002m.ErrOutOfRange, errAddress} {
		if errors.Is(err, e) {
			return http.StatusBadRequest
		}
	}
	return http.StatusInternalServerError
}

func getFloat(radio Radio, fcn func(int) (float64, error)) http.HandlerFunc {
	return withChannel(radio, func(w http.ResponseWriter, r *http.Request, ch int) {
		generichttp.GetFloat(func() (float64, error) { return fcn(ch) })(w, r)
	})
}

// setFloat applies a {"f64": x} body and replies with the value actually set
func setFloat(radio Radio, fcn func(int, float64) (float64, error)) http.HandlerFunc {
	return withChannel(radio, func(w http.ResponseWriter, r *http.Request, ch int) {
		f := server.FloatT{}
		err := json.NewDecoder(r.Body).Decode(&f)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		actual, err := fcn(ch, f.F64)
		if err != nil {
			http.Error(w, err.Error(), status(err))
			return
		}
		hp := server.HumanPayload{T: types.Float64, Float: actual}
		hp.EncodeAndRespond(w, r)
	})
}
