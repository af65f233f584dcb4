/*Package minilog keeps the most recent log lines in memory so they can be
served over HTTP.

A Log is a zapcore.Core; tee it with the console core and every entry lands in
a bounded ring.  Window returns the last few lines for a compact view, Lines
returns everything still held.
*/
package minilog

import (
	"net/http"
	"strings"
	"sync"

	"github.com/fairwaves/xtrx/generichttp"
	"github.com/fairwaves/xtrx/server"
	"go.uber.org/zap/zapcore"
)

const (
	// DefaultWindow is the number of lines Window returns
	DefaultWindow = 10

	// DefaultCapacity is the number of lines kept before the oldest are dropped
	DefaultCapacity = 2000
)

// Log is a ring of formatted log lines
type Log struct {
	mu     sync.Mutex
	lines  []string
	start  int
	n      int
	window int
}

// New returns a log holding capacity lines with a window of window lines.
// Values below 1 take the defaults.
func New(capacity, window int) *Log {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	if window < 1 {
		window = DefaultWindow
	}
	return &Log{lines: make([]string, capacity), window: window}
}

// Add appends a line, dropping the oldest when full
func (l *Log) Add(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c := len(l.lines)
	if l.n < c {
		l.lines[(l.start+l.n)%c] = line
		l.n++
		return
	}
	l.lines[l.start] = line
	l.start = (l.start + 1) % c
}

// last returns the newest k lines, oldest first; l.mu must be held
func (l *Log) last(k int) []string {
	if k > l.n {
		k = l.n
	}
	out := make([]string, k)
	c := len(l.lines)
	for i := range out {
		out[i] = l.lines[(l.start+l.n-k+i)%c]
	}
	return out
}

// Lines returns every line held, oldest first
func (l *Log) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last(l.n)
}

// Window returns the newest lines, at most the window size
func (l *Log) Window() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last(l.window)
}

// Clear drops every line
func (l *Log) Clear() {
	l.mu.Lock()
	l.start, l.n = 0, 0
	l.mu.Unlock()
}

// Core returns a zapcore.Core writing into the log at or above level
func (l *Log) Core(level zapcore.LevelEnabler) zapcore.Core {
	cfg := zapcore.EncoderConfig{
		TimeKey:        "T",
		LevelKey:       "L",
		NameKey:        "N",
		MessageKey:     "M",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	}
	return &core{LevelEnabler: level, enc: zapcore.NewConsoleEncoder(cfg), log: l}
}

type core struct {
	zapcore.LevelEnabler
	enc zapcore.Encoder
	log *Log
}

func (c *core) With(fields []zapcore.Field) zapcore.Core {
	enc := c.enc.Clone()
	for _, f := range fields {
		f.AddTo(enc)
	}
	return &core{LevelEnabler: c.LevelEnabler, enc: enc, log: c.log}
}

func (c *core) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *core) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	buf, err := c.enc.EncodeEntry(ent, fields)
	if err != nil {
		return err
	}
	c.log.Add(strings.TrimRight(buf.String(), "\n"))
	buf.Free()
	return nil
}

func (c *core) Sync() error {
	return nil
}

// HTTPGet sends the window as a JSON list, or every line with ?all=true
func (l *Log) HTTPGet(w http.ResponseWriter, r *http.Request) {
	lines := l.Window()
	if r.URL.Query().Get("all") == "true" {
		lines = l.Lines()
	}
	server.RespondJSON(w, lines)
}

// HTTPClear empties the log
func (l *Log) HTTPClear(w http.ResponseWriter, r *http.Request) {
	l.Clear()
	w.WriteHeader(http.StatusOK)
}

// Inject adds GET and DELETE /log routes to an HTTPer
func Inject(other generichttp.HTTPer, l *Log) {
	rt := other.RT()
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/log"}] = l.HTTPGet
	rt[generichttp.MethodPath{Method: http.MethodDelete, Path: "/log"}] = l.HTTPClear
}
