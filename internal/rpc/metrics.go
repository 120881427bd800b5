package rpc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rpcRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duncan_scanner_rpc_retries_total",
			Help: "Total number of RPC call retries",
		},
		[]string{"operation"},
	)
)

func RPCRetryInc(operation string) {
	rpcRetries.WithLabelValues(operation).Inc()
}
