package forest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"mintforest/internal/model"
	"mintforest/internal/platform"
	"mintforest/internal/social/twitter"
	"mintforest/internal/store/sqlite"
)

const testPrivateKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

type fakeTwitter struct {
	user     model.TwitterUser
	userErr  error
	code     string
	codeErr  error
	requests int
	oauths   int
	proxies  []string
}

func (f *fakeTwitter) RequestUser(_ context.Context, _ *model.TwitterAccount, proxy string) (model.TwitterUser, error) {
	f.requests++
	f.proxies = append(f.proxies, proxy)
	return f.user, f.userErr
}

func (f *fakeTwitter) OAuth2(_ context.Context, _ *model.TwitterAccount, _ string, _ twitter.OAuth2Params) (string, error) {
	f.oauths++
	return f.code, f.codeErr
}

type fakeDiscord struct {
	outcome DiscordOutcome
	userID  int64
	err     error
	calls   int
}

func (f *fakeDiscord) JoinGuildAndAuthorize(_ context.Context, acct *model.DiscordAccount, _ string) (DiscordOutcome, error) {
	f.calls++
	if f.err == nil && f.userID != 0 {
		// The real provider fills the profile in during the join.
		acct.UserID = f.userID
	}
	return f.outcome, f.err
}

// platformMux is a scripted platform API with per-path call counters.
type platformMux struct {
	mu       sync.Mutex
	calls    map[string]int
	handlers map[string]http.HandlerFunc
}

func newPlatformMux() *platformMux {
	return &platformMux{
		calls:    make(map[string]int),
		handlers: make(map[string]http.HandlerFunc),
	}
}

func (m *platformMux) handle(path string, h http.HandlerFunc) { m.handlers[path] = h }

func (m *platformMux) count(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[path]
}

func (m *platformMux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.calls[r.URL.Path]++
	m.mu.Unlock()
	if h, ok := m.handlers[r.URL.Path]; ok {
		h(w, r)
		return
	}
	writeEnvelope(w, 10000, "success", nil)
}

func writeEnvelope(w http.ResponseWriter, code int, msg string, result any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"code": code, "msg": msg, "result": result})
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

// newTestSession persists the account fixture and builds a session against
// the scripted platform.
func newTestSession(t *testing.T, store *sqlite.Store, mux *platformMux, acc model.Account, tw TwitterProvider, dc DiscordProvider) *Session {
	t.Helper()
	ctx := context.Background()

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	if acc.PrivateKey == "" {
		acc.PrivateKey = testPrivateKey
	}
	if acc.Address == "" {
		acc.Address = "0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266"
	}
	saved, err := store.UpsertAccount(ctx, acc)
	if err != nil {
		t.Fatalf("upsert account: %v", err)
	}
	saved.AuthToken = acc.AuthToken
	saved.User = acc.User
	saved.Twitter = acc.Twitter
	saved.Discord = acc.Discord
	saved.InviteCode = acc.InviteCode
	if saved.Twitter != nil {
		saved.Twitter.AccountID = saved.ID
		stored, err := store.UpsertTwitterAccount(ctx, *saved.Twitter)
		if err != nil {
			t.Fatalf("upsert twitter: %v", err)
		}
		stored.User = saved.Twitter.User
		saved.Twitter = &stored
	}
	if saved.Discord != nil {
		saved.Discord.AccountID = saved.ID
		stored, err := store.UpsertDiscordAccount(ctx, *saved.Discord)
		if err != nil {
			t.Fatalf("upsert discord: %v", err)
		}
		stored.UserID = saved.Discord.UserID
		saved.Discord = &stored
	}

	sess, err := NewSession(Options{
		Store: store,
		Platform: func(model.Account) *platform.Client {
			return platform.New(platform.Options{BaseURL: srv.URL})
		},
		Twitter:        tw,
		Discord:        dc,
		MinFollowers:   10,
		GuildID:        111,
		IgnoredTaskIDs: map[int64]bool{6: true},
	}, saved)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	return sess
}

func TestLoginSkipsWithCachedToken(t *testing.T) {
	mux := newPlatformMux()
	store := openTestStore(t)
	sess := newTestSession(t, store, mux, model.Account{AuthToken: "cached"}, nil, nil)

	res, err := sess.Login(context.Background())
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.Interacted {
		t.Fatal("cached token must not count as interaction")
	}
	if mux.count("/api/tree/login") != 0 {
		t.Fatal("login endpoint called despite cached token")
	}
}

func TestReloginPersistsSession(t *testing.T) {
	mux := newPlatformMux()
	mux.handle("/api/tree/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["signature"] == "" || body["message"] == "" {
			t.Errorf("incomplete login payload: %v", body)
		}
		writeEnvelope(w, 10000, "success", map[string]any{
			"access_token": "fresh-token",
			"user":         map[string]any{"id": 9, "energy": 250},
		})
	})

	store := openTestStore(t)
	sess := newTestSession(t, store, mux, model.Account{AuthToken: "stale"}, nil, nil)

	res, err := sess.Relogin(context.Background())
	if err != nil {
		t.Fatalf("relogin: %v", err)
	}
	if !res.Interacted {
		t.Fatal("relogin must count as interaction")
	}

	got, err := store.GetAccount(context.Background(), sess.Account().ID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if got.AuthToken != "fresh-token" {
		t.Fatalf("persisted token = %q", got.AuthToken)
	}
	if got.User == nil || got.User.Energy != 250 {
		t.Fatalf("persisted snapshot = %+v", got.User)
	}
	if sess.Account().AuthToken != "fresh-token" {
		t.Fatal("working copy not updated")
	}
}

func TestWithReloginRetriesExactlyOnce(t *testing.T) {
	mux := newPlatformMux()
	mux.handle("/api/tree/user-info", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, 10003, platform.MsgAuthExpired, nil)
	})
	mux.handle("/api/tree/login", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, 10000, "success", map[string]any{
			"access_token": "fresh",
			"user":         map[string]any{"id": 1},
		})
	})

	store := openTestStore(t)
	sess := newTestSession(t, store, mux, model.Account{AuthToken: "expired"}, nil, nil)

	steps := 0
	_, err := sess.withRelogin(context.Background(), func(ctx context.Context) (model.StepResult, error) {
		steps++
		_, err := sess.api.UserInfo(ctx)
		return model.StepResult{}, err
	})
	if err == nil || !platform.IsAuthExpired(err) {
		t.Fatalf("expected auth-expired error, got %v", err)
	}
	if steps != 2 {
		t.Fatalf("step ran %d times, want 2", steps)
	}
	if mux.count("/api/tree/login") != 1 {
		t.Fatalf("login called %d times, want 1", mux.count("/api/tree/login"))
	}
}

func TestWithReloginRecoversAndSucceeds(t *testing.T) {
	mux := newPlatformMux()
	var infoCalls atomic.Int32
	mux.handle("/api/tree/user-info", func(w http.ResponseWriter, r *http.Request) {
		if infoCalls.Add(1) == 1 {
			writeEnvelope(w, 10003, platform.MsgAuthExpired, nil)
			return
		}
		writeEnvelope(w, 10000, "success", map[string]any{"id": 1, "energy": 5})
	})
	mux.handle("/api/tree/login", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, 10000, "success", map[string]any{
			"access_token": "fresh",
			"user":         map[string]any{"id": 1},
		})
	})

	store := openTestStore(t)
	sess := newTestSession(t, store, mux, model.Account{AuthToken: "expired"}, nil, nil)

	_, err := sess.withRelogin(context.Background(), func(ctx context.Context) (model.StepResult, error) {
		return model.StepResult{}, sess.RefreshUser(ctx)
	})
	if err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
	if sess.Account().User == nil || sess.Account().User.Energy != 5 {
		t.Fatalf("snapshot = %+v", sess.Account().User)
	}
}
