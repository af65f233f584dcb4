package stream

import "github.com/prometheus/client_golang/prometheus"

// Metrics are prometheus counters for stream traffic.  A nil *Metrics counts nothing.
type Metrics struct {
	Slots      *prometheus.CounterVec
	Overflows  *prometheus.CounterVec
	Underflows *prometheus.CounterVec
}

// NewMetrics creates the counters and registers them with reg, if reg is not nil
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Slots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Subsystem: "xtrx",
			Name:      "dma_slots_total",
			Help:      "Ring slots moved between host and FPGA.",
		}, []string{"dir"}),
		Overflows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Subsystem: "xtrx",
			Name:      "overflows_total",
			Help:      "Times the FPGA overwrote unread receive slots.",
		}, []string{"dir"}),
		Underflows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Subsystem: "xtrx",
			Name:      "underflows_total",
			Help:      "Times the transmitter ran dry inside a burst.",
		}, []string{"dir"}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.Slots, m.Overflows, m.Underflows} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RegisterFill exposes the number of slots waiting in each ring as a gauge
func (m *Manager) RegisterFill(reg prometheus.Registerer) error {
	for _, dir := range []Direction{RX, TX} {
		dir := dir
		err := reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Subsystem:   "xtrx",
			Name:        "ring_fill_slots",
			Help:        "Slots holding data not yet consumed, by the host for rx and by the FPGA for tx.",
			ConstLabels: prometheus.Labels{"dir": dir.String()},
		}, func() float64 {
			s := m.Stream(dir)
			if s == nil {
				return 0
			}
			hw, _, err := m.backend.Counters(dir)
			if err != nil {
				return 0
			}
			user := s.Stats().User
			if dir == RX {
				return float64(hw - user)
			}
			return float64(user - hw)
		}))
		if err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) slot(dir Direction) {
	if m != nil {
		m.Slots.WithLabelValues(dir.String()).Inc()
	}
}

func (m *Metrics) overflow(dir Direction) {
	if m != nil {
		m.Overflows.WithLabelValues(dir.String()).Inc()
	}
}

func (m *Metrics) underflow(dir Direction) {
	if m != nil {
		m.Underflows.WithLabelValues(dir.String()).Inc()
	}
}
