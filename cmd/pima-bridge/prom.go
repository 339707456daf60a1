package main

import (
	"errors"
	"strconv"
	"time"

	pima "github.com/caarlos0/pima-bridge"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pima"

var partitionModeGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "alarm",
	Name:      "partition_mode",
	Help:      "Partition mode: 0 disarm, 1 full arm, 2 home1, 3 home2, 255 unknown",
}, []string{"partition"})

var zonesGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "alarm",
	Name:      "zones",
	Help:      "Number of zones in each condition",
}, []string{"condition"})

var failuresGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "alarm",
	Name:      "failures",
	Help:      "Number of active system failures",
})

var availableGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "alarm",
	Name:      "available",
	Help:      "Whether the panel is reachable",
})

var exchangeCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "client",
	Name:      "exchanges_total",
	Help:      "Panel exchanges by operation",
}, []string{"operation"})

var exchangeErrorCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "client",
	Name:      "exchange_errors_total",
	Help:      "Failed panel exchanges by operation and kind",
}, []string{"operation", "kind"})

var exchangeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: "client",
	Name:      "exchange_duration_seconds",
	Help:      "Panel exchange latency, including waiting for the command lock",
	Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
}, []string{"operation"})

type metrics struct{}

func (metrics) PublishStatus(state pima.AlarmState) {
	for p, mode := range state.Partitions {
		partitionModeGauge.WithLabelValues(strconv.Itoa(p)).Set(float64(mode))
	}
	zonesGauge.WithLabelValues("open").Set(float64(len(state.OpenZones)))
	zonesGauge.WithLabelValues("alarmed").Set(float64(len(state.AlarmedZones)))
	zonesGauge.WithLabelValues("bypassed").Set(float64(len(state.BypassedZones)))
	zonesGauge.WithLabelValues("failed").Set(float64(len(state.FailedZones)))
	failuresGauge.Set(float64(len(state.Failures)))
}

func (metrics) PublishAvailability(online bool) {
	availableGauge.Set(float64(boolToInt(online)))
}

func observeExchange(name string, took time.Duration, err error) {
	exchangeCounter.WithLabelValues(name).Inc()
	exchangeDuration.WithLabelValues(name).Observe(took.Seconds())
	if err != nil {
		exchangeErrorCounter.WithLabelValues(name, errorKind(err)).Inc()
	}
}

func errorKind(err error) string {
	for _, k := range []struct {
		err  error
		name string
	}{
		{pima.ErrAuthentication, "authentication"},
		{pima.ErrInvalidArgument, "invalid_argument"},
		{pima.ErrTimeout, "timeout"},
		{pima.ErrChecksum, "checksum"},
		{pima.ErrFraming, "framing"},
		{pima.ErrMalformedResponse, "malformed"},
		{pima.ErrProtocol, "protocol"},
		{pima.ErrTransport, "transport"},
		{pima.ErrConnection, "connection"},
	} {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "other"
}
