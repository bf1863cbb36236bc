package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "baskt_core"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type Prometheus struct {
	Metrics *Metrics

	registry *prometheus.Registry
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	positionsOpened := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "positions_opened_total",
		Help:      "Total number of positions opened.",
	})
	positionsClosed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "positions_closed_total",
		Help:      "Total number of positions closed normally.",
	})
	liquidations := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "liquidations_total",
		Help:      "Total number of liquidations settled.",
	})
	forceCloses := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "force_closes_total",
		Help:      "Total number of force-closes settled.",
	})
	badDebt := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "bad_debt_total",
		Help:      "Total number of settlements classified as bad debt.",
	})
	fundingUpdates := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "funding_updates_total",
		Help:      "Total number of funding/borrow index updates.",
	})
	rebalances := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "rebalances_total",
		Help:      "Total number of baskt rebalances.",
	})

	registry.MustRegister(positionsOpened, positionsClosed, liquidations, forceCloses, badDebt, fundingUpdates, rebalances)

	m := &Metrics{
		PositionsOpened: promCounter{positionsOpened},
		PositionsClosed: promCounter{positionsClosed},
		Liquidations:    promCounter{liquidations},
		ForceCloses:     promCounter{forceCloses},
		BadDebt:         promCounter{badDebt},
		FundingUpdates:  promCounter{fundingUpdates},
		Rebalances:      promCounter{rebalances},
	}

	return &Prometheus{
		Metrics:  m,
		registry: registry,
	}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
