package session

// ComponentStatus is the lifecycle state of one required subsystem.
type ComponentStatus string

const (
	StatusPending ComponentStatus = "pending"
	StatusLoading ComponentStatus = "loading"
	StatusReady   ComponentStatus = "ready"
	StatusError   ComponentStatus = "error"
)

// SystemLoadingState is a read-only snapshot of subsystem readiness. A
// copy is embedded in every queued placeholder message and refreshed on
// each readiness change.
type SystemLoadingState struct {
	ModelStatus       ComponentStatus `json:"modelStatus"`
	SandboxStatus     ComponentStatus `json:"sandboxStatus"`
	HasPendingUploads bool            `json:"hasPendingUploads"`
	ModelProgress     float64         `json:"modelProgress,omitempty"`
	TablesLoaded      int             `json:"tablesLoaded,omitempty"`
}

// Ready reports whether every required subsystem is available.
func (s SystemLoadingState) Ready() bool {
	return s.ModelStatus == StatusReady &&
		s.SandboxStatus == StatusReady &&
		!s.HasPendingUploads
}
