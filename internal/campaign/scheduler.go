package campaign

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"mintforest/internal/config"
	"mintforest/internal/forest"
	"mintforest/internal/logbus"
	"mintforest/internal/model"
	"mintforest/internal/notify"
	"mintforest/internal/store/sqlite"
)

type Options struct {
	Store    *sqlite.Store
	Bus      *logbus.Bus
	Sessions forest.Options
	Config   config.CampaignConfig
	Notifier notify.Notifier

	// Sleep overrides the delay primitive, for tests. Nil means a
	// context-aware time.Sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Campaign runs the step pipeline over every account of the selected groups,
// with at most MaxWorkers accounts in flight.
type Campaign struct {
	store    *sqlite.Store
	bus      *logbus.Bus
	sessions forest.Options
	cfg      config.CampaignConfig
	notifier notify.Notifier
	sleep    func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	running bool
	groups  []string
	states  map[string]*model.AccountState
	fatal   error
	cancel  context.CancelFunc
}

func New(opts Options) *Campaign {
	cfg := opts.Config
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 1
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	return &Campaign{
		store:    opts.Store,
		bus:      opts.Bus,
		sessions: opts.Sessions,
		cfg:      cfg,
		notifier: opts.Notifier,
		sleep:    sleep,
		states:   make(map[string]*model.AccountState),
	}
}

// Run processes every account in the given groups (all groups when empty) and
// blocks until the run drains. It returns the first process-fatal error, or
// nil when the run completed even if individual accounts aborted or failed.
func (c *Campaign) Run(ctx context.Context, groups []string) error {
	accounts, err := c.store.ListAccountsByGroups(ctx, groups)
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		return errors.New("no accounts in selected groups")
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return errors.New("campaign already running")
	}
	c.running = true
	c.groups = groups
	c.states = make(map[string]*model.AccountState)
	c.fatal = nil
	c.cancel = cancel
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.running = false
		c.cancel = nil
		c.mu.Unlock()
	}()

	c.log("info", "campaign started", map[string]any{
		"accounts": len(accounts),
		"workers":  c.cfg.MaxWorkers,
	})

	var runnable []model.Account
	for _, acc := range accounts {
		if acc.VerificationFailed {
			c.log("warn", "account skipped: wallet verification previously rejected", map[string]any{
				"accountId": acc.ID, "account": acc.Name,
			})
			c.publishState(model.AccountState{
				AccountID: acc.ID,
				Name:      acc.Name,
				Status:    model.RunnerAborted,
				LastError: "wallet verification previously rejected",
			})
			continue
		}
		c.publishState(model.AccountState{AccountID: acc.ID, Name: acc.Name, Status: model.RunnerPending})
		runnable = append(runnable, acc)
	}

	flags := &forest.Flags{}
	jobs := make(chan model.Account)
	var wg sync.WaitGroup
	for i := 0; i < c.cfg.MaxWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.worker(runCtx, jobs, flags)
		}()
	}

feed:
	for _, acc := range runnable {
		select {
		case jobs <- acc:
		case <-runCtx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	c.mu.Lock()
	fatal := c.fatal
	c.mu.Unlock()

	if c.notifier != nil {
		c.notifier.NotifyRunFinished(ctx, c.summary())
	}
	if fatal != nil {
		return fmt.Errorf("campaign stopped: %w", fatal)
	}
	c.log("info", "campaign finished", map[string]any{"accounts": len(accounts)})
	return nil
}

func (c *Campaign) worker(ctx context.Context, jobs <-chan model.Account, flags *forest.Flags) {
	for acc := range jobs {
		if ctx.Err() != nil {
			return
		}
		st := c.runAccount(ctx, acc, flags)
		st.UpdatedMs = time.Now().UnixMilli()
		c.publishState(st)
		if c.notifier != nil {
			c.notifier.NotifyAccountFinished(ctx, notify.AccountFinishedEvent{
				At:        st.UpdatedMs,
				AccountID: st.AccountID,
				Name:      st.Name,
				Group:     acc.Group,
				Status:    string(st.Status),
				Attempts:  st.Attempt,
				Error:     st.LastError,
			})
		}
		if st.Interacted {
			if err := c.sleep(ctx, c.pacingDelay()); err != nil {
				return
			}
		}
	}
}

// pacingDelay draws the inter-account delay from the configured range. Zero
// when the range is unset.
func (c *Campaign) pacingDelay() time.Duration {
	min, max := c.cfg.AccountDelaySec[0], c.cfg.AccountDelaySec[1]
	if max < min {
		max = min
	}
	if max <= 0 {
		return 0
	}
	return time.Duration(min+rand.Intn(max-min+1)) * time.Second
}

// setFatal records the first process-fatal error and cancels the run.
func (c *Campaign) setFatal(err error) {
	c.mu.Lock()
	first := c.fatal == nil
	if first {
		c.fatal = err
	}
	cancel := c.cancel
	c.mu.Unlock()

	if !first {
		return
	}
	c.log("error", "fatal error, stopping campaign", map[string]any{"error": err.Error()})
	if c.notifier != nil {
		c.notifier.NotifyFatal(context.Background(), err.Error())
	}
	if cancel != nil {
		cancel()
	}
}

func (c *Campaign) publishState(st model.AccountState) {
	if st.UpdatedMs == 0 {
		st.UpdatedMs = time.Now().UnixMilli()
	}
	c.mu.Lock()
	c.states[st.AccountID] = &st
	c.mu.Unlock()
	if c.bus != nil {
		c.bus.Publish("account_state", st)
	}
}

// State snapshots the current run for the monitor surface.
func (c *Campaign) State() model.CampaignState {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := model.CampaignState{Running: c.running, Groups: c.groups}
	for _, st := range c.states {
		out.Accounts = append(out.Accounts, *st)
	}
	sort.Slice(out.Accounts, func(i, j int) bool {
		return out.Accounts[i].AccountID < out.Accounts[j].AccountID
	})
	return out
}

func (c *Campaign) summary() notify.RunSummary {
	state := c.State()
	sum := notify.RunSummary{At: time.Now().UnixMilli(), Groups: state.Groups}
	for _, st := range state.Accounts {
		switch st.Status {
		case model.RunnerDone:
			sum.Done++
		case model.RunnerAborted:
			sum.Aborted++
		case model.RunnerFailed:
			sum.Failed++
		}
	}
	return sum
}

func (c *Campaign) log(level, msg string, fields map[string]any) {
	if c.bus != nil {
		c.bus.Log(level, msg, fields)
	}
}
