// Package metrics exposes the node's consensus progress as Prometheus
// collectors: counters for sync and ordering activity, gauges for the
// consensus frontier and the finalized checkpoint boundary.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/prisma-node/prisma/events"
)

// Metrics holds the node's Prometheus collectors.
type Metrics struct {
	SyncRounds       prometheus.Counter
	OrderedTxs       prometheus.Counter
	ConsensusRound   prometheus.Gauge
	StatesCreated    prometheus.Counter
	StatesFinalized  prometheus.Counter
	LastSignedState  prometheus.Gauge
	InsertedEvents   prometheus.Counter
}

// New constructs and registers the collectors on registerer.
func New(registerer prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		SyncRounds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prisma_sync_rounds_total",
			Help: "Number of completed get_events sync rounds",
		}),
		OrderedTxs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prisma_ordered_transactions_total",
			Help: "Number of money transfers assigned a final order",
		}),
		ConsensusRound: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "prisma_consensus_round",
			Help: "Highest round decided by virtual voting",
		}),
		StatesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prisma_states_created_total",
			Help: "Number of checkpoint states cut and signed locally",
		}),
		StatesFinalized: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prisma_states_finalized_total",
			Help: "Number of checkpoint states finalized by a supermajority",
		}),
		LastSignedState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "prisma_last_signed_state",
			Help: "Round of the newest finalized checkpoint",
		}),
		InsertedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prisma_inserted_events_total",
			Help: "Number of remote events accepted into the DAG",
		}),
	}
	m.LastSignedState.Set(-1)

	for _, c := range []prometheus.Collector{
		m.SyncRounds, m.OrderedTxs, m.ConsensusRound,
		m.StatesCreated, m.StatesFinalized, m.LastSignedState,
		m.InsertedEvents,
	} {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Observe subscribes the collectors to em so consensus progress updates
// them without the engines holding a metrics reference.
func (m *Metrics) Observe(em *events.Emitter) {
	em.Subscribe(events.EventSyncCompleted, func(ev events.Event) {
		m.SyncRounds.Inc()
		if n, ok := ev.Data["inserted"].(int); ok {
			m.InsertedEvents.Add(float64(n))
		}
	})
	em.Subscribe(events.EventConsensusRound, func(ev events.Event) {
		m.ConsensusRound.Set(float64(ev.Round))
	})
	em.Subscribe(events.EventTxOrdered, func(events.Event) {
		m.OrderedTxs.Inc()
	})
	em.Subscribe(events.EventStateCreated, func(events.Event) {
		m.StatesCreated.Inc()
	})
	em.Subscribe(events.EventStateFinalized, func(ev events.Event) {
		m.StatesFinalized.Inc()
		m.LastSignedState.Set(float64(ev.Round))
	})
}
