package metrics

// ProbeRecorder observes echo probes as the scheduler sends and matches them.
type ProbeRecorder interface {
	IncProbesSent(pair string)
	IncProbesArrived(pair string)
	ObserveRTT(pair string, rttNs int64)
}

type NoopProbeRecorder struct{}

func (NoopProbeRecorder) IncProbesSent(pair string)           {}
func (NoopProbeRecorder) IncProbesArrived(pair string)        {}
func (NoopProbeRecorder) ObserveRTT(pair string, rttNs int64) {}

// LinkRecorder observes output queue changes of tracked links.
type LinkRecorder interface {
	ObserveQueueDepth(link string, packets, bytes int64)
	IncQueueDrops(link string)
}

type NoopLinkRecorder struct{}

func (NoopLinkRecorder) ObserveQueueDepth(link string, packets, bytes int64) {}
func (NoopLinkRecorder) IncQueueDrops(link string)                           {}

// RunRecorder observes whole simulation runs.
type RunRecorder interface {
	ObserveRun(status string, simulatedNs int64, wallSeconds float64)
	ObserveSpoolBytes(bytes int64)
}

type NoopRunRecorder struct{}

func (NoopRunRecorder) ObserveRun(status string, simulatedNs int64, wallSeconds float64) {}
func (NoopRunRecorder) ObserveSpoolBytes(bytes int64)                                    {}

// ReadinessCategory is one categorized reason a readiness check failed.
type ReadinessCategory struct {
	Name     string
	Severity string
}

// ReadinessRecorder observes readiness evaluations.
type ReadinessRecorder interface {
	ObserveReadiness(ready bool, categories []ReadinessCategory)
}

type NoopReadinessRecorder struct{}

func (NoopReadinessRecorder) ObserveReadiness(ready bool, categories []ReadinessCategory) {}
