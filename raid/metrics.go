package raid

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var incidentCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "chatwarden_raid_incidents_total",
	Help: "Number of raid detections logged",
}, []string{"type"})

var responseCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "chatwarden_raid_responses_total",
	Help: "Number of automatic responses to raid detections",
}, []string{"action"})
