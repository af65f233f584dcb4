package sdr_test

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fairwaves/xtrx/generichttp/sdr"
	"github.com/fairwaves/xtrx/litepcie"
	"github.com/fairwaves/xtrx/server"
	"github.com/fairwaves/xtrx/stream"
	"github.com/fairwaves/xtrx/xtrx"
	"github.com/go-chi/chi"
)

func newServer(t *testing.T) (http.Handler, *xtrx.Device) {
	t.Helper()
	csr := litepcie.NewMockCSR(litepcie.DefaultCSRMap())
	d, err := xtrx.Open(0, xtrx.WithBackend(csr, litepcie.NewLoopback(4, 64)))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { d.Close() })
	r := chi.NewRouter()
	sdr.NewHTTPSDR(d).RT().Bind(r)
	return r, d
}

func call(t *testing.T, h http.Handler, method, path, body string, out interface{}) int {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	if out != nil && rec.Code == http.StatusOK {
		if err := json.NewDecoder(rec.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: %v", method, path, err)
		}
	}
	return rec.Code
}

func TestFrequencyRoutes(t *testing.T) {
	h, d := newServer(t)
	var set server.FloatT
	if code := call(t, h, http.MethodPost, "/tx/frequency?ch=1", `{"f64": 2.45e9}`, &set); code != http.StatusOK {
		t.Fatalf("POST returned %d", code)
	}
	if math.Abs(set.F64-2.45e9) > 30 {
		t.Errorf("replied with %v", set.F64)
	}
	var got server.FloatT
	call(t, h, http.MethodGet, "/tx/frequency", "", &got)
	if got.F64 != set.F64 {
		t.Errorf("GET returned %v, want %v", got.F64, set.F64)
	}
	if f, _ := d.GetFrequency(xtrx.TX, 0); f != set.F64 {
		t.Errorf("device reports %v", f)
	}
	if code := call(t, h, http.MethodPost, "/rx/frequency", `{"f64": 1}`, nil); code != http.StatusBadRequest {
		t.Errorf("out of range frequency returned %d", code)
	}
	if code := call(t, h, http.MethodGet, "/rx/frequency?ch=x", "", nil); code != http.StatusBadRequest {
		t.Errorf("bad channel returned %d", code)
	}
}

func TestChannelOutOfRange(t *testing.T) {
	h, _ := newServer(t)
	for _, path := range []string{"/rx/frequency?ch=5", "/tx/gain?ch=-1", "/rx/antenna?ch=2", "/sample-rate?ch=9"} {
		if code := call(t, h, http.MethodGet, path, "", nil); code != http.StatusBadRequest {
			t.Errorf("GET %s returned %d", path, code)
		}
	}
	if code := call(t, h, http.MethodPost, "/rx/gain?ch=5", `{"f64": 10}`, nil); code != http.StatusBadRequest {
		t.Errorf("POST with channel 5 returned %d", code)
	}
}

func TestAntennaRoutes(t *testing.T) {
	h, _ := newServer(t)
	if code := call(t, h, http.MethodPost, "/rx/antenna", `{"str": "LNAH"}`, nil); code != http.StatusOK {
		t.Fatalf("POST returned %d", code)
	}
	var got server.StrT
	call(t, h, http.MethodGet, "/rx/antenna", "", &got)
	if got.Str != "LNAH" {
		t.Errorf("antenna %q", got.Str)
	}
	var opts []string
	call(t, h, http.MethodGet, "/tx/antenna-options", "", &opts)
	if len(opts) != 3 || opts[2] != "BAND2" {
		t.Errorf("tx antennas %v", opts)
	}
}

func TestRegisterRoutes(t *testing.T) {
	h, _ := newServer(t)
	if code := call(t, h, http.MethodPost, "/lms/write", `{"addr": 287, "value": 13888}`, nil); code != http.StatusOK {
		t.Fatalf("lms write returned %d", code)
	}
	var v server.IntT
	call(t, h, http.MethodPost, "/lms/read", `{"addr": 287}`, &v)
	if v.Int != 13888 {
		t.Errorf("lms read %d", v.Int)
	}
	if code := call(t, h, http.MethodPost, "/lms/write", `{"addr": 65536, "value": 1}`, nil); code != http.StatusBadRequest {
		t.Errorf("wide lms address returned %d", code)
	}
	if code := call(t, h, http.MethodPost, "/csr/write", `{"addr": 1048576, "value": 1}`, nil); code != http.StatusBadRequest {
		t.Errorf("out of window csr returned %d", code)
	}
}

func TestInfoAndStats(t *testing.T) {
	h, d := newServer(t)
	var info xtrx.Info
	call(t, h, http.MethodGet, "/info", "", &info)
	if info.DeviceName != "Fairwaves-XTRX" {
		t.Errorf("info %+v", info)
	}
	if _, err := d.SetupStream(xtrx.RX, stream.CS16, []int{0}); err != nil {
		t.Fatal(err)
	}
	var stats map[string]*stream.Stats
	call(t, h, http.MethodGet, "/stream/stats", "", &stats)
	if stats["rx"] == nil || stats["rx"].Format != stream.CS16 {
		t.Errorf("rx stats %+v", stats["rx"])
	}
	if stats["tx"] != nil {
		t.Errorf("tx has no stream but reported %+v", stats["tx"])
	}
}
