package server

import (
	"fmt"
	"github.com/ValentinKolb/kvlog/lib/store"
	"github.com/VictoriaMetrics/metrics"
	"net/http"
	"time"
)

var (
	roundsOK       = metrics.NewCounter(`kvlog_rounds_total{result="ok"}`)
	roundsFailed   = metrics.NewCounter(`kvlog_rounds_total{result="failed"}`)
	roundDuration  = metrics.NewHistogram(`kvlog_round_duration_seconds`)
	slotsLost      = metrics.NewCounter(`kvlog_slots_lost_total`)
	syncsLocal     = metrics.NewCounter(`kvlog_syncs_total{path="local"}`)
	syncsRound     = metrics.NewCounter(`kvlog_syncs_total{path="round"}`)
	syncsRepair    = metrics.NewCounter(`kvlog_syncs_total{path="repair"}`)
	appendedBodies = metrics.NewCounter(`kvlog_appended_bodies_total`)
)

// observeRequest counts a handled request by operation and return code
func observeRequest(op string, err error, start time.Time) {
	code := store.CodeOf(err)
	metrics.GetOrCreateCounter(fmt.Sprintf(`kvlog_requests_total{op=%q,code=%q}`, op, code)).Inc()
	metrics.GetOrCreateHistogram(fmt.Sprintf(`kvlog_request_duration_seconds{op=%q}`, op)).UpdateDuration(start)
}

// observeRound records the outcome of one paxos round
func observeRound(err error, start time.Time) {
	if err != nil {
		roundsFailed.Inc()
	} else {
		roundsOK.Inc()
	}
	roundDuration.UpdateDuration(start)
}

// handleMetrics exposes all metrics in prometheus text format
func handleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	metrics.WritePrometheus(w, true)
}
