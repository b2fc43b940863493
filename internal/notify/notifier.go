package notify

import "context"

// AccountFinishedEvent describes one account reaching a terminal status.
type AccountFinishedEvent struct {
	At        int64  `json:"atMs"`
	AccountID string `json:"accountId"`
	Name      string `json:"name,omitempty"`
	Group     string `json:"group,omitempty"`
	Status    string `json:"status"`
	Attempts  int    `json:"attempts,omitempty"`
	Error     string `json:"error,omitempty"`
}

// RunSummary aggregates a whole campaign run.
type RunSummary struct {
	At      int64    `json:"atMs"`
	Groups  []string `json:"groups,omitempty"`
	Done    int      `json:"done"`
	Aborted int      `json:"aborted"`
	Failed  int      `json:"failed"`
}

type Notifier interface {
	NotifyAccountFinished(ctx context.Context, evt AccountFinishedEvent)
	NotifyRunFinished(ctx context.Context, sum RunSummary)
	NotifyFatal(ctx context.Context, reason string)
}
