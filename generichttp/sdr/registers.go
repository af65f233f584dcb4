package sdr

import (
	"encoding/json"
	"go/types"
	"net/http"

	"github.com/fairwaves/xtrx/server"
	"github.com/fairwaves/xtrx/stream"
	"github.com/pkg/errors"
)

var errAddress = errors.New("sdr: address or value too wide for a 16-bit register")

type addrValue struct {
	Addr uint32 `json:"addr"`

	Value uint32 `json:"value"`
}

// readRegister decodes {"addr": a} and replies {"int": value}
func readRegister(fcn func(uint32) (uint32, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in addrValue
		err := json.NewDecoder(r.Body).Decode(&in)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		v, err := fcn(in.Addr)
		if err != nil {
			http.Error(w, err.Error(), status(err))
			return
		}
		hp := server.HumanPayload{T: types.Int, Int: int(v)}
		hp.EncodeAndRespond(w, r)
	}
}

// writeRegister decodes {"addr": a, "value": v}
func writeRegister(fcn func(uint32, uint32) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in addrValue
		err := json.NewDecoder(r.Body).Decode(&in)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := fcn(in.Addr, in.Value); err != nil {
			http.Error(w, err.Error(), status(err))
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// streamStats reports both directions; a direction without a stream is null
func streamStats(m *stream.Manager) map[string]*stream.Stats {
	out := map[string]*stream.Stats{}
	for _, dir := range []stream.Direction{stream.RX, stream.TX} {
		var st *stream.Stats
		if s := m.Stream(dir); s != nil {
			v := s.Stats()
			st = &v
		}
		out[dir.String()] = st
	}
	return out
}
