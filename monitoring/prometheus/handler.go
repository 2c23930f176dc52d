// Package prometheus exposes the protocol's accounting state as prometheus
// gauges over a /metrics HTTP endpoint.
package prometheus

import (
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lume-fi/lumefi-contracts/boardroom"
	"github.com/lume-fi/lumefi-contracts/token"
	"github.com/lume-fi/lumefi-contracts/treasury"
)

var logger = log.New("module", "prometheus")

// PrometheusListener serves prometheus connections.
func PrometheusListener(endpoint string, alloc *treasury.Allocator, board *boardroom.Boardroom, assets []token.Ledger) {
	reg := prometheus.NewRegistry()

	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "lumefi",
			Name:      "epoch",
			Help:      "Last sealed seigniorage epoch.",
		},
		func() float64 { return float64(alloc.CurrentEpoch()) },
	))
	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "lumefi",
			Name:      "next_epoch_time",
			Help:      "Unix time of the next epoch boundary.",
		},
		func() float64 { return float64(alloc.NextEpochTime().Unix()) },
	))
	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "lumefi",
			Subsystem: "boardroom",
			Name:      "total_staked",
			Help:      "Active stake held by the boardroom.",
		},
		func() float64 { return toFloat(board.TotalStaked()) },
	))

	supply := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "lumefi",
			Name:      "total_supply",
			Help:      "External total supply per asset.",
		},
		[]string{"asset"},
	)
	reg.MustRegister(supply)

	go func() {
		logger.Info("Metrics server starts", "endpoint", endpoint)
		defer logger.Info("Metrics server is stopped")

		mux := http.NewServeMux()
		mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
			for _, a := range assets {
				supply.WithLabelValues(a.Symbol()).Set(toFloat(a.TotalSupply()))
			}
			promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP(w, r)
		})
		err := http.ListenAndServe(endpoint, mux)
		if err != nil {
			logger.Info("metrics server", "err", err)
		}
	}()
}

func toFloat(v *big.Int) float64 {
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
