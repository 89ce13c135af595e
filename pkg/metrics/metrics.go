/*
 * Copyright 2019 THL A29 Limited, a Tencent company.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "node_balancer"

var (
	watchEvents    *prometheus.CounterVec
	watchRestarts  *prometheus.CounterVec
	reseeds        *prometheus.CounterVec
	connections    *prometheus.CounterVec
	activeConns    *prometheus.GaugeVec
	proxiedBytes   *prometheus.CounterVec
	storeSize      *prometheus.GaugeVec
	connectLatency *prometheus.HistogramVec
	connDuration   *prometheus.HistogramVec
)

const (
	labelKind       = "kind"
	labelEventType  = "type"
	labelResult     = "result"
	labelPort       = "port"
	labelDirection  = "direction"
	labelCollection = "collection"

	// connection results
	ResultProxied       = "proxied"
	ResultNoDestination = "no_destination"
	ResultDialFailed    = "dial_failed"

	// reseed results
	ResultSuccess = "success"
	ResultError   = "error"

	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"

	CollectionNodes = "nodes"
	CollectionPods  = "pods"
)

func init() {
	watchEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watch_events_total",
			Help:      "The total number of watch events handled",
		},
		[]string{labelKind, labelEventType})

	watchRestarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watch_restarts_total",
			Help:      "The total number of times a watch stream was reopened",
		},
		[]string{labelKind})

	reseeds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reseeds_total",
			Help:      "The total number of pod reseeds triggered by service changes",
		},
		[]string{labelResult})

	connections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "The total number of accepted connections by outcome",
		},
		[]string{labelPort, labelResult})

	activeConns = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "The number of connections being proxied",
		},
		[]string{labelPort})

	proxiedBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxied_bytes_total",
			Help:      "The total number of bytes copied between clients and backends",
		},
		[]string{labelPort, labelDirection})

	storeSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_size",
			Help:      "The number of entries held in each routing collection",
		},
		[]string{labelCollection})

	connectLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connect_latency_seconds",
			Help:      "Latencies in seconds of outbound connects to node ports",
			Buckets:   []float64{0.001, 0.002, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1.0, 2.0, 5.0},
		},
		[]string{labelPort})

	connDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connection_duration_seconds",
			Help:      "Lifetimes in seconds of proxied connections",
			Buckets:   []float64{0.01, 0.1, 0.5, 1.0, 5.0, 10.0, 30.0, 60.0, 300.0, 900.0, 3600.0},
		},
		[]string{labelPort})
}

func WatchEventsInc(kind, eventType string) {
	l := prometheus.Labels{
		labelKind:      kind,
		labelEventType: eventType,
	}
	watchEvents.With(l).Inc()
}

func WatchRestartsInc(kind string) {
	watchRestarts.With(prometheus.Labels{labelKind: kind}).Inc()
}

func ReseedsInc(result string) {
	reseeds.With(prometheus.Labels{labelResult: result}).Inc()
}

func ConnectionsInc(port int32, result string) {
	l := prometheus.Labels{
		labelPort:   portLabel(port),
		labelResult: result,
	}
	connections.With(l).Inc()
}

func ActiveConnectionsInc(port int32) {
	activeConns.With(prometheus.Labels{labelPort: portLabel(port)}).Inc()
}

func ActiveConnectionsDec(port int32) {
	activeConns.With(prometheus.Labels{labelPort: portLabel(port)}).Dec()
}

func ProxiedBytesAdd(port int32, direction string, n int64) {
	l := prometheus.Labels{
		labelPort:      portLabel(port),
		labelDirection: direction,
	}
	proxiedBytes.With(l).Add(float64(n))
}

func StoreSizeSet(collection string, value int) {
	storeSize.With(prometheus.Labels{labelCollection: collection}).Set(float64(value))
}

func ConnectLatencyObserve(port int32, elapsed time.Duration) {
	connectLatency.With(prometheus.Labels{labelPort: portLabel(port)}).Observe(elapsed.Seconds())
}

func ConnectionDurationObserve(port int32, elapsed time.Duration) {
	connDuration.With(prometheus.Labels{labelPort: portLabel(port)}).Observe(elapsed.Seconds())
}

func portLabel(port int32) string {
	return strconv.Itoa(int(port))
}
