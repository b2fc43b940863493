package campaign

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mintforest/internal/config"
	"mintforest/internal/forest"
	"mintforest/internal/model"
	"mintforest/internal/notify"
	"mintforest/internal/platform"
	"mintforest/internal/social/twitter"
	"mintforest/internal/store/sqlite"
)

// Hardhat's published test mnemonic accounts.
var testKeys = []struct{ key, addr string }{
	{"ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80", "0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266"},
	{"59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d", "0x70997970c51812dc3a010c7d01b50e0d17dc79c8"},
	{"5de4111afa1a4b94908f83103eb1f1706367c2e68ca870fc3fb9a804cdab365a", "0x3c44cdddb6a900fa2b585dd299e03d12fa4293bc"},
	{"7c852118294e51e653712a81e05800f419141751be58f605c371e15141b007a6", "0x90f79bf6eb2c4f870365e785982e1f101e93b906"},
	{"47e179ec197488593b187f80a00eb0da91f1b9d0b13f8733639f19c30a34926a", "0x15d34aaf54267db7d7c367839aaf71a00a2c6a65"},
}

func writeEnvelope(w http.ResponseWriter, code int, msg string, result any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"code": code, "msg": msg, "result": result})
}

func benignHandler(w http.ResponseWriter, r *http.Request) {
	verified := map[string]any{"id": 1, "status": "verified", "energy": 0}
	switch r.URL.Path {
	case "/api/tree/login":
		writeEnvelope(w, 10000, "success", map[string]any{
			"access_token": "issued",
			"user":         verified,
		})
	case "/api/tree/user-info":
		writeEnvelope(w, 10000, "success", verified)
	case "/api/tree/task-list", "/api/tree/energy-list", "/api/tree/asset":
		writeEnvelope(w, 10000, "success", []any{})
	default:
		writeEnvelope(w, 10000, "success", nil)
	}
}

// scriptedPlatform routes requests by session token so individual accounts
// can be scripted to misbehave while the rest proceed normally.
type scriptedPlatform struct {
	mu        sync.Mutex
	hits      map[string]int
	overrides map[string]http.HandlerFunc
}

func newScriptedPlatform() *scriptedPlatform {
	return &scriptedPlatform{
		hits:      make(map[string]int),
		overrides: make(map[string]http.HandlerFunc),
	}
}

func (p *scriptedPlatform) override(token string, h http.HandlerFunc) {
	p.mu.Lock()
	p.overrides[token] = h
	p.mu.Unlock()
}

func (p *scriptedPlatform) count(token string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hits[token]
}

func (p *scriptedPlatform) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer"))
	p.mu.Lock()
	p.hits[token]++
	h := p.overrides[token]
	p.mu.Unlock()
	if h != nil {
		h(w, r)
		return
	}
	benignHandler(w, r)
}

type recordingNotifier struct {
	mu       sync.Mutex
	accounts []notify.AccountFinishedEvent
	runs     []notify.RunSummary
	fatals   []string
}

func (n *recordingNotifier) NotifyAccountFinished(_ context.Context, ev notify.AccountFinishedEvent) {
	n.mu.Lock()
	n.accounts = append(n.accounts, ev)
	n.mu.Unlock()
}

func (n *recordingNotifier) NotifyRunFinished(_ context.Context, sum notify.RunSummary) {
	n.mu.Lock()
	n.runs = append(n.runs, sum)
	n.mu.Unlock()
}

func (n *recordingNotifier) NotifyFatal(_ context.Context, reason string) {
	n.mu.Lock()
	n.fatals = append(n.fatals, reason)
	n.mu.Unlock()
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func openTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// seedAccount persists an account fixture. A non-empty token is stored as a
// cached session, and verified accounts get a snapshot that makes the whole
// pipeline idempotent against the benign handler.
func seedAccount(t *testing.T, store *sqlite.Store, i int, name, token string, verified bool) model.Account {
	t.Helper()
	ctx := context.Background()
	acc, err := store.UpsertAccount(ctx, model.Account{
		Name:       name,
		Group:      "main",
		PrivateKey: testKeys[i].key,
		Address:    testKeys[i].addr,
	})
	if err != nil {
		t.Fatalf("upsert %s: %v", name, err)
	}
	user := model.RemoteUser{ID: int64(i + 1)}
	if verified {
		user.Status = "verified"
	}
	if token != "" {
		if err := store.SaveSession(ctx, acc.ID, token, user); err != nil {
			t.Fatalf("save session %s: %v", name, err)
		}
	}
	// Upserts within the same millisecond would make the run order
	// ambiguous.
	time.Sleep(2 * time.Millisecond)
	return acc
}

func newTestCampaign(t *testing.T, store *sqlite.Store, srvURL string, cfg config.CampaignConfig, n notify.Notifier, sleep func(context.Context, time.Duration) error) *Campaign {
	t.Helper()
	return New(Options{
		Store: store,
		Sessions: forest.Options{
			Store: store,
			Platform: func(model.Account) *platform.Client {
				return platform.New(platform.Options{BaseURL: srvURL})
			},
			MinFollowers: 10,
			GuildID:      111,
		},
		Config:   cfg,
		Notifier: n,
		Sleep:    sleep,
	})
}

func stateByID(t *testing.T, c *Campaign, id string) model.AccountState {
	t.Helper()
	for _, st := range c.State().Accounts {
		if st.AccountID == id {
			return st
		}
	}
	t.Fatalf("no state for account %s", id)
	return model.AccountState{}
}

func TestRunRetriesExhausted(t *testing.T) {
	remote := newScriptedPlatform()
	remote.override("tok-1", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		writeEnvelope(w, 0, "bad gateway", nil)
	})
	srv := httptest.NewServer(remote)
	defer srv.Close()

	store := openTestStore(t)
	acc := seedAccount(t, store, 0, "alpha", "tok-1", true)

	rec := &sleepRecorder{}
	camp := newTestCampaign(t, store, srv.URL, config.CampaignConfig{
		MaxRetries:    3,
		RetryDelaySec: 1,
	}, nil, rec.sleep)

	if err := camp.Run(context.Background(), nil); err != nil {
		t.Fatalf("run: %v", err)
	}

	st := stateByID(t, camp, acc.ID)
	if st.Status != model.RunnerFailed {
		t.Fatalf("status = %s, want failed", st.Status)
	}
	if st.Attempt != 3 {
		t.Fatalf("attempt = %d, want 3", st.Attempt)
	}
	if st.LastError == "" {
		t.Fatal("last error not recorded")
	}

	delays := rec.recorded()
	if len(delays) != 2 {
		t.Fatalf("retry sleeps = %v, want 2 of them", delays)
	}
	for _, d := range delays {
		if d != time.Second {
			t.Fatalf("retry delay = %v, want 1s", d)
		}
	}
}

func TestRunMaintenanceStopsRun(t *testing.T) {
	remote := newScriptedPlatform()
	remote.override("tok-2", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, 10004, platform.MsgMaintenance, nil)
	})
	srv := httptest.NewServer(remote)
	defer srv.Close()

	store := openTestStore(t)
	var accounts []model.Account
	for i := 0; i < 5; i++ {
		name := string(rune('a' + i))
		accounts = append(accounts, seedAccount(t, store, i, name, "tok-"+string(rune('1'+i)), true))
	}

	n := &recordingNotifier{}
	camp := newTestCampaign(t, store, srv.URL, config.CampaignConfig{
		MaxWorkers: 1,
		MaxRetries: 3,
	}, n, (&sleepRecorder{}).sleep)

	err := camp.Run(context.Background(), []string{"main"})
	if err == nil || !strings.Contains(err.Error(), "campaign stopped") {
		t.Fatalf("run error = %v, want campaign stopped", err)
	}

	if st := stateByID(t, camp, accounts[0].ID); st.Status != model.RunnerDone {
		t.Fatalf("first account = %s, want done", st.Status)
	}
	if st := stateByID(t, camp, accounts[1].ID); st.Status != model.RunnerFailed {
		t.Fatalf("maintenance account = %s, want failed", st.Status)
	}
	for i := 2; i < 5; i++ {
		if st := stateByID(t, camp, accounts[i].ID); st.Status != model.RunnerPending {
			t.Fatalf("account %d = %s, want pending", i, st.Status)
		}
		if got := remote.count("tok-" + string(rune('1'+i))); got != 0 {
			t.Fatalf("account %d reached the platform %d times", i, got)
		}
	}

	if len(n.fatals) != 1 || !strings.Contains(n.fatals[0], platform.MsgMaintenance) {
		t.Fatalf("fatal notifications = %v", n.fatals)
	}
}

func TestRunAccountAbortKeepsGoing(t *testing.T) {
	remote := newScriptedPlatform()
	remote.override("tok-1", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/wallet/verify" {
			writeEnvelope(w, 10005, platform.MsgVerificationFailed, nil)
			return
		}
		benignHandler(w, r)
	})
	srv := httptest.NewServer(remote)
	defer srv.Close()

	store := openTestStore(t)
	rejected := seedAccount(t, store, 0, "rejected", "tok-1", false)
	good := seedAccount(t, store, 1, "good", "", false)

	n := &recordingNotifier{}
	camp := newTestCampaign(t, store, srv.URL, config.CampaignConfig{
		MaxWorkers: 1,
		MaxRetries: 3,
	}, n, (&sleepRecorder{}).sleep)

	if err := camp.Run(context.Background(), nil); err != nil {
		t.Fatalf("run: %v", err)
	}

	if st := stateByID(t, camp, rejected.ID); st.Status != model.RunnerAborted {
		t.Fatalf("rejected account = %s, want aborted", st.Status)
	}
	if st := stateByID(t, camp, good.ID); st.Status != model.RunnerDone {
		t.Fatalf("good account = %s, want done", st.Status)
	}

	// The permanent rejection must be persisted for future runs.
	stored, err := store.GetAccount(context.Background(), rejected.ID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if !stored.VerificationFailed {
		t.Fatal("verification failure not persisted")
	}

	if len(n.runs) != 1 {
		t.Fatalf("run summaries = %d, want 1", len(n.runs))
	}
	if sum := n.runs[0]; sum.Done != 1 || sum.Aborted != 1 || sum.Failed != 0 {
		t.Fatalf("summary = %+v", sum)
	}
	if len(n.accounts) != 2 {
		t.Fatalf("account notifications = %d, want 2", len(n.accounts))
	}
}

func TestRunSkipsPreviouslyRejected(t *testing.T) {
	remote := newScriptedPlatform()
	srv := httptest.NewServer(remote)
	defer srv.Close()

	store := openTestStore(t)
	acc := seedAccount(t, store, 0, "flagged", "tok-1", true)
	if err := store.SetVerificationFailed(context.Background(), acc.ID, true); err != nil {
		t.Fatalf("flag account: %v", err)
	}

	camp := newTestCampaign(t, store, srv.URL, config.CampaignConfig{}, nil, nil)
	if err := camp.Run(context.Background(), nil); err != nil {
		t.Fatalf("run: %v", err)
	}

	st := stateByID(t, camp, acc.ID)
	if st.Status != model.RunnerAborted {
		t.Fatalf("status = %s, want aborted", st.Status)
	}
	if remote.count("tok-1") != 0 {
		t.Fatal("flagged account reached the platform")
	}
}

func TestRunPacesOnlyAfterInteraction(t *testing.T) {
	remote := newScriptedPlatform()
	srv := httptest.NewServer(remote)
	defer srv.Close()

	store := openTestStore(t)
	// No cached session: this one logs in, which counts as interaction.
	fresh := seedAccount(t, store, 0, "fresh", "", false)
	// Cached session and verified snapshot: a pure no-op run.
	idle := seedAccount(t, store, 1, "idle", "tok-2", true)

	rec := &sleepRecorder{}
	camp := newTestCampaign(t, store, srv.URL, config.CampaignConfig{
		MaxWorkers:      1,
		MaxRetries:      3,
		AccountDelaySec: [2]int{2, 4},
	}, nil, rec.sleep)

	if err := camp.Run(context.Background(), nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	if st := stateByID(t, camp, fresh.ID); st.Status != model.RunnerDone || !st.Interacted {
		t.Fatalf("fresh account state = %+v", st)
	}
	if st := stateByID(t, camp, idle.ID); st.Status != model.RunnerDone || st.Interacted {
		t.Fatalf("idle account state = %+v", st)
	}

	delays := rec.recorded()
	if len(delays) != 1 {
		t.Fatalf("pacing sleeps = %v, want exactly one", delays)
	}
	if delays[0] < 2*time.Second || delays[0] > 4*time.Second {
		t.Fatalf("pacing delay %v outside [2s, 4s]", delays[0])
	}
}

func TestRunWorkerBound(t *testing.T) {
	var cur, peak atomic.Int32
	remote := newScriptedPlatform()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if n := cur.Add(1); n > peak.Load() {
			peak.Store(n)
		}
		time.Sleep(30 * time.Millisecond)
		cur.Add(-1)
		remote.ServeHTTP(w, r)
	}))
	defer srv.Close()

	store := openTestStore(t)
	var accounts []model.Account
	for i := 0; i < 4; i++ {
		accounts = append(accounts, seedAccount(t, store, i, string(rune('a'+i)), "tok-"+string(rune('1'+i)), true))
	}

	camp := newTestCampaign(t, store, srv.URL, config.CampaignConfig{
		MaxWorkers: 2,
		MaxRetries: 3,
	}, nil, nil)

	if err := camp.Run(context.Background(), nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, acc := range accounts {
		if st := stateByID(t, camp, acc.ID); st.Status != model.RunnerDone {
			t.Fatalf("account %s = %s, want done", acc.Name, st.Status)
		}
	}
	if got := peak.Load(); got > 2 {
		t.Fatalf("peak in-flight requests = %d, want <= 2", got)
	}
}

func TestRunGuards(t *testing.T) {
	store := openTestStore(t)
	camp := newTestCampaign(t, store, "http://127.0.0.1:0", config.CampaignConfig{}, nil, nil)

	err := camp.Run(context.Background(), []string{"nothing-here"})
	if err == nil || !strings.Contains(err.Error(), "no accounts") {
		t.Fatalf("empty group error = %v", err)
	}
}

func TestRunPlatformRejectionAbortsAccount(t *testing.T) {
	remote := newScriptedPlatform()
	remote.override("tok-1", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, 10002, "operation not allowed", nil)
	})
	srv := httptest.NewServer(remote)
	defer srv.Close()

	store := openTestStore(t)
	rejected := seedAccount(t, store, 0, "rejected", "tok-1", true)
	good := seedAccount(t, store, 1, "good", "tok-2", true)

	n := &recordingNotifier{}
	camp := newTestCampaign(t, store, srv.URL, config.CampaignConfig{
		MaxWorkers: 1,
		MaxRetries: 3,
	}, n, (&sleepRecorder{}).sleep)

	// A non-maintenance rejection is terminal for the account only.
	if err := camp.Run(context.Background(), nil); err != nil {
		t.Fatalf("run: %v", err)
	}

	st := stateByID(t, camp, rejected.ID)
	if st.Status != model.RunnerAborted {
		t.Fatalf("rejected account = %s, want aborted", st.Status)
	}
	if st.Attempt != 1 {
		t.Fatalf("attempt = %d, want 1 (no retries for rejections)", st.Attempt)
	}
	if !strings.Contains(st.LastError, "operation not allowed") {
		t.Fatalf("last error = %q", st.LastError)
	}
	if st := stateByID(t, camp, good.ID); st.Status != model.RunnerDone {
		t.Fatalf("good account = %s, want done", st.Status)
	}
	if len(n.fatals) != 0 {
		t.Fatalf("fatal notifications = %v, want none", n.fatals)
	}
}

// erroringTwitter fails every call with a bare error, the kind the pipeline
// has no classification for.
type erroringTwitter struct{ err error }

func (e *erroringTwitter) RequestUser(context.Context, *model.TwitterAccount, string) (model.TwitterUser, error) {
	return model.TwitterUser{}, e.err
}

func (e *erroringTwitter) OAuth2(context.Context, *model.TwitterAccount, string, twitter.OAuth2Params) (string, error) {
	return "", e.err
}

func TestRunUnclassifiedErrorIsFatal(t *testing.T) {
	remote := newScriptedPlatform()
	srv := httptest.NewServer(remote)
	defer srv.Close()

	store := openTestStore(t)
	clean := seedAccount(t, store, 0, "clean", "tok-1", true)
	broken := seedAccount(t, store, 1, "broken", "tok-2", true)
	if _, err := store.UpsertTwitterAccount(context.Background(), model.TwitterAccount{
		AccountID: broken.ID,
		AuthToken: "ttok",
	}); err != nil {
		t.Fatalf("upsert twitter: %v", err)
	}
	pending := seedAccount(t, store, 2, "pending", "tok-3", true)

	n := &recordingNotifier{}
	camp := New(Options{
		Store: store,
		Sessions: forest.Options{
			Store: store,
			Platform: func(model.Account) *platform.Client {
				return platform.New(platform.Options{BaseURL: srv.URL})
			},
			Twitter:      &erroringTwitter{err: errors.New("keychain unavailable")},
			MinFollowers: 10,
			GuildID:      111,
		},
		Config:   config.CampaignConfig{MaxWorkers: 1, MaxRetries: 3},
		Notifier: n,
		Sleep:    (&sleepRecorder{}).sleep,
	})

	err := camp.Run(context.Background(), nil)
	if err == nil || !strings.Contains(err.Error(), "campaign stopped") {
		t.Fatalf("run error = %v, want campaign stopped", err)
	}

	if st := stateByID(t, camp, clean.ID); st.Status != model.RunnerDone {
		t.Fatalf("clean account = %s, want done", st.Status)
	}
	st := stateByID(t, camp, broken.ID)
	if st.Status != model.RunnerFailed {
		t.Fatalf("broken account = %s, want failed", st.Status)
	}
	if st.Attempt != 1 {
		t.Fatalf("attempt = %d, want 1 (unclassified errors never retry)", st.Attempt)
	}
	if st := stateByID(t, camp, pending.ID); st.Status != model.RunnerPending {
		t.Fatalf("pending account = %s, want pending", st.Status)
	}
	if got := remote.count("tok-3"); got != 0 {
		t.Fatalf("pending account reached the platform %d times", got)
	}
	if len(n.fatals) != 1 || !strings.Contains(n.fatals[0], "keychain unavailable") {
		t.Fatalf("fatal notifications = %v", n.fatals)
	}
}
