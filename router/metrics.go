package router

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ActionTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sealbridge_actions_total",
		Help: "Total actions handled, by action name and retcode.",
	}, []string{"action", "retcode"})

	EventTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sealbridge_events_total",
		Help: "Total events emitted to the sink, by event type.",
	}, []string{"type"})

	OnlineAccounts = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sealbridge_online_accounts",
		Help: "Registered accounts.",
	})
)

var registerOnce sync.Once

// Register 注册指标到默认注册表，可重复调用
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(ActionTotal, EventTotal, OnlineAccounts)
	})
}
