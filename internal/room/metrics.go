package room

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Advance triggers, used as metric label values.
const (
	triggerTimer       = "timer"
	triggerAllAnswered = "all_answered"
	triggerManual      = "manual"
)

type metrics struct {
	answers    *prometheus.CounterVec
	rounds     *prometheus.CounterVec
	gamesEnded prometheus.Counter
}

// newMetrics registers the room collectors on reg. A nil reg keeps them unregistered.
func newMetrics(reg prometheus.Registerer, registry *Registry) *metrics {
	f := promauto.With(reg)

	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "etrivia",
		Subsystem: "room",
		Name:      "rooms",
		Help:      "Number of rooms held in memory.",
	}, func() float64 { return float64(registry.Len()) })

	return &metrics{
		answers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "etrivia",
			Subsystem: "room",
			Name:      "answers_total",
			Help:      "Answers judged, by result.",
		}, []string{"result"}),
		rounds: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "etrivia",
			Subsystem: "room",
			Name:      "round_advances_total",
			Help:      "Round advances, by the trigger that caused them.",
		}, []string{"trigger"}),
		gamesEnded: f.NewCounter(prometheus.CounterOpts{
			Namespace: "etrivia",
			Subsystem: "room",
			Name:      "games_ended_total",
			Help:      "Games that reached the ended phase.",
		}),
	}
}

func answerResult(correct bool) string {
	if correct {
		return "correct"
	}
	return "incorrect"
}
