package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SweepsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "sweeps_total", Help: "Fast-loop TP/SL sweeps executed"},
	)
	CyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "cycles_total", Help: "Slow trading cycles executed"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orders_total", Help: "Orders submitted"},
		[]string{"pair", "side"},
	)
	OrderRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "order_retries_total", Help: "Order submissions retried after transient failures"},
	)
	ExitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "exits_total", Help: "Forced position exits"},
		[]string{"reason"},
	)
	SignalErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "signal_errors_total", Help: "Technical signal fetches that failed"},
	)
)

func init() {
	prometheus.MustRegister(SweepsTotal, CyclesTotal, OrdersTotal, OrderRetriesTotal, ExitsTotal, SignalErrorsTotal)
}

func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
