package model

// StepResult is returned by every pipeline step. Interacted reports whether
// the step performed a state-changing action; the runner ORs it across steps
// to decide inter-account pacing.
type StepResult struct {
	Interacted bool `json:"interacted"`
}

func (r StepResult) Or(other StepResult) StepResult {
	return StepResult{Interacted: r.Interacted || other.Interacted}
}

type RunnerStatus string

const (
	RunnerPending RunnerStatus = "pending"
	RunnerRunning RunnerStatus = "running"
	RunnerDone    RunnerStatus = "done"
	RunnerAborted RunnerStatus = "aborted"
	RunnerFailed  RunnerStatus = "failed"
)

type AccountState struct {
	AccountID  string       `json:"accountId"`
	Name       string       `json:"name,omitempty"`
	Status     RunnerStatus `json:"status"`
	Attempt    int          `json:"attempt,omitempty"`
	Interacted bool         `json:"interacted"`
	LastError  string       `json:"lastError,omitempty"`
	UpdatedMs  int64        `json:"updatedMs,omitempty"`
}

type CampaignState struct {
	Running  bool           `json:"running"`
	Groups   []string       `json:"groups,omitempty"`
	Accounts []AccountState `json:"accounts"`
}
