package campaign

import (
	"context"
	"errors"
	"net"
	"net/url"
	"time"

	"mintforest/internal/forest"
	"mintforest/internal/model"
	"mintforest/internal/platform"
)

// retryable reports errors worth re-running the whole pipeline for: HTTP 5xx
// and transport-level failures. Everything the steps already committed stays
// persisted, so a retry resumes from saved state.
func retryable(err error) bool {
	if platform.IsServerError(err) {
		return true
	}
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr)
}

// runAccount drives one account to a terminal status. Retries cover the full
// pipeline, bounded by maxRetries attempts with a fixed delay between them.
func (c *Campaign) runAccount(ctx context.Context, acc model.Account, flags *forest.Flags) model.AccountState {
	st := model.AccountState{
		AccountID: acc.ID,
		Name:      acc.Name,
		Status:    model.RunnerRunning,
	}
	c.publishState(st)

	for attempt := 1; ; attempt++ {
		st.Attempt = attempt

		sess, err := forest.NewSession(c.sessions, acc)
		if err != nil {
			st.Status = model.RunnerAborted
			st.LastError = err.Error()
			c.log("warn", "account skipped: bad key material", map[string]any{
				"accountId": acc.ID, "error": err.Error(),
			})
			return st
		}

		res, err := sess.Run(ctx, flags)
		st.Interacted = st.Interacted || res.Interacted
		if err == nil {
			st.Status = model.RunnerDone
			st.LastError = ""
			return st
		}
		st.LastError = err.Error()

		switch {
		case ctx.Err() != nil:
			st.Status = model.RunnerFailed
			return st

		case forest.IsAccountError(err):
			st.Status = model.RunnerAborted
			c.log("warn", "account aborted", map[string]any{
				"accountId": acc.ID, "error": err.Error(),
			})
			return st

		case platform.IsMaintenance(err):
			st.Status = model.RunnerFailed
			c.setFatal(err)
			return st

		case retryable(err):
			if attempt >= c.cfg.MaxRetries {
				st.Status = model.RunnerFailed
				c.log("error", "account failed: retries exhausted", map[string]any{
					"accountId": acc.ID, "attempts": attempt, "error": err.Error(),
				})
				return st
			}
			c.log("warn", "retrying account", map[string]any{
				"accountId": acc.ID, "attempt": attempt, "error": err.Error(),
			})
			if serr := c.sleep(ctx, c.cfg.RetryDelay()); serr != nil {
				st.Status = model.RunnerFailed
				return st
			}
			// Carry the session's refreshed token and snapshot into the
			// next attempt so committed progress is not redone.
			acc = *sess.Account()
			continue

		default:
			if _, ok := platform.AsError(err); ok {
				st.Status = model.RunnerAborted
				c.log("error", "account aborted: platform rejected request", map[string]any{
					"accountId": acc.ID, "error": err.Error(),
				})
				return st
			}
			st.Status = model.RunnerFailed
			c.setFatal(err)
			return st
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
