package main

import (
	"encoding/json"
	"flag"
	"log"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
)

// In-memory stand-in for the mint platform API, for wiring the campaign
// end to end without touching the real service.

type mockUser struct {
	ID       int64  `json:"id"`
	TreeID   int64  `json:"treeId"`
	Address  string `json:"address"`
	Energy   int64  `json:"energy"`
	Tree     int64  `json:"tree"`
	InviteID int64  `json:"inviteId"`
	Code     string `json:"code"`
	Type     string `json:"type"`
	SignIn   int64  `json:"signin"`
	Twitter  int64  `json:"twitter"`
	Discord  int64  `json:"discord"`
	Status   string `json:"status"`
}

type mockTask struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Amount  int64  `json:"amount"`
	Spec    string `json:"spec"`
	Claimed bool   `json:"claimed"`
}

type mockState struct {
	mu      sync.Mutex
	nextID  int64
	byToken map[string]*mockUser
	byAddr  map[string]*mockUser
	tasks   map[int64][]mockTask
	energy  map[int64]bool // claimed initial batch
}

func newMockState() *mockState {
	return &mockState{
		nextID:  1000,
		byToken: make(map[string]*mockUser),
		byAddr:  make(map[string]*mockUser),
		tasks:   make(map[int64][]mockTask),
		energy:  make(map[int64]bool),
	}
}

func main() {
	addr := flag.String("addr", ":9090", "listen address")
	flag.Parse()

	st := newMockState()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/tree/login", st.handleLogin)
	mux.HandleFunc("/api/tree/user-info", st.authed(st.handleUserInfo))
	mux.HandleFunc("/api/wallet/verify", st.authed(st.handleVerify))
	mux.HandleFunc("/api/twitter/verify", st.authed(st.handleBindTwitter))
	mux.HandleFunc("/api/discord/verify", st.authed(st.handleBindDiscord))
	mux.HandleFunc("/api/tree/invitation", st.authed(st.handleInvitation))
	mux.HandleFunc("/api/tree/energy-list", st.authed(st.handleEnergyList))
	mux.HandleFunc("/api/tree/claim", st.authed(st.handleClaim))
	mux.HandleFunc("/api/tree/asset", st.authed(st.handleAssets))
	mux.HandleFunc("/api/tree/open-box", st.authed(st.handleOpenBox))
	mux.HandleFunc("/api/tree/task-list", st.authed(st.handleTaskList))
	mux.HandleFunc("/api/tree/task-submit", st.authed(st.handleTaskSubmit))
	mux.HandleFunc("/api/tree/discord-task", st.authed(st.handleDiscordTask))
	mux.HandleFunc("/api/tree/inject", st.authed(st.handleInject))

	log.Printf("mock platform listening on %s", *addr)
	log.Fatal(http.ListenAndServe(*addr, mux))
}

func writeEnvelope(w http.ResponseWriter, code int, msg string, result any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"code":   code,
		"msg":    msg,
		"result": result,
	})
}

func ok(w http.ResponseWriter, result any) { writeEnvelope(w, 10000, "success", result) }

func (st *mockState) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Address   string `json:"address"`
		Signature string `json:"signature"`
		Message   string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Address == "" || body.Signature == "" {
		writeEnvelope(w, 10002, "invalid login payload", nil)
		return
	}
	address := strings.ToLower(body.Address)

	st.mu.Lock()
	u := st.byAddr[address]
	if u == nil {
		st.nextID++
		u = &mockUser{
			ID:      st.nextID,
			TreeID:  st.nextID,
			Address: address,
			Code:    "mock" + strconv.FormatInt(st.nextID, 10),
			Type:    "normal",
		}
		st.byAddr[address] = u
		st.tasks[u.ID] = []mockTask{
			{ID: 1, Name: "Follow on Twitter", Amount: 300, Spec: "twitter_follow"},
			{ID: 2, Name: "Join Discord", Amount: 300, Spec: "discord"},
			{ID: 6, Name: "On-chain interactions", Amount: 500, Spec: "chain"},
		}
	}
	token := "mock_" + strconv.FormatInt(rand.Int63(), 36)
	st.byToken[token] = u
	st.mu.Unlock()

	ok(w, map[string]any{"access_token": token, "user": u})
}

func (st *mockState) authed(next func(http.ResponseWriter, *http.Request, *mockUser)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer"))
		if token == "" {
			token = r.URL.Query().Get("jwtToken")
		}
		st.mu.Lock()
		u := st.byToken[token]
		st.mu.Unlock()
		if u == nil {
			writeEnvelope(w, 10003, "Authentication failed", nil)
			return
		}
		next(w, r, u)
	}
}

func (st *mockState) handleUserInfo(w http.ResponseWriter, _ *http.Request, u *mockUser) {
	st.mu.Lock()
	out := *u
	st.mu.Unlock()
	ok(w, out)
}

func (st *mockState) handleVerify(w http.ResponseWriter, _ *http.Request, u *mockUser) {
	st.mu.Lock()
	u.Status = "verified"
	st.mu.Unlock()
	ok(w, nil)
}

func (st *mockState) handleBindTwitter(w http.ResponseWriter, r *http.Request, u *mockUser) {
	if r.URL.Query().Get("code") == "" {
		writeEnvelope(w, 10002, "missing authorization code", nil)
		return
	}
	st.mu.Lock()
	if u.Twitter == 0 {
		u.Twitter = rand.Int63n(9_000_000_000) + 1_000_000_000
	}
	id := u.Twitter
	st.mu.Unlock()
	ok(w, id)
}

func (st *mockState) handleBindDiscord(w http.ResponseWriter, r *http.Request, u *mockUser) {
	if r.URL.Query().Get("code") == "" {
		writeEnvelope(w, 10002, "missing authorization code", nil)
		return
	}
	st.mu.Lock()
	if u.Discord == 0 {
		u.Discord = rand.Int63n(9_000_000_000) + 1_000_000_000
	}
	id := u.Discord
	st.mu.Unlock()
	ok(w, id)
}

func (st *mockState) handleInvitation(w http.ResponseWriter, r *http.Request, u *mockUser) {
	code := r.URL.Query().Get("code")
	st.mu.Lock()
	if u.InviteID == 0 && code != "" {
		u.InviteID = rand.Int63n(9000) + 1000
	}
	id := u.InviteID
	st.mu.Unlock()
	ok(w, map[string]any{"inviteId": id})
}

func (st *mockState) handleEnergyList(w http.ResponseWriter, _ *http.Request, u *mockUser) {
	st.mu.Lock()
	claimed := st.energy[u.ID]
	st.mu.Unlock()
	if claimed {
		ok(w, []any{})
		return
	}
	ok(w, []map[string]any{{
		"uid":      []string{"daily"},
		"amount":   500,
		"includes": []int64{},
		"type":     "daily",
		"freeze":   false,
	}})
}

func (st *mockState) handleClaim(w http.ResponseWriter, r *http.Request, u *mockUser) {
	var body struct {
		Amount int64 `json:"amount"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	st.mu.Lock()
	st.energy[u.ID] = true
	u.Energy += body.Amount
	st.mu.Unlock()
	ok(w, body.Amount)
}

func (st *mockState) handleAssets(w http.ResponseWriter, _ *http.Request, _ *mockUser) {
	ok(w, []any{})
}

func (st *mockState) handleOpenBox(w http.ResponseWriter, _ *http.Request, u *mockUser) {
	amount := rand.Int63n(400) + 100
	st.mu.Lock()
	u.Energy += amount
	st.mu.Unlock()
	ok(w, amount)
}

func (st *mockState) handleTaskList(w http.ResponseWriter, _ *http.Request, u *mockUser) {
	st.mu.Lock()
	out := append([]mockTask(nil), st.tasks[u.ID]...)
	st.mu.Unlock()
	ok(w, out)
}

func (st *mockState) handleTaskSubmit(w http.ResponseWriter, r *http.Request, u *mockUser) {
	var body struct {
		ID int64 `json:"id"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	st.mu.Lock()
	defer st.mu.Unlock()
	for idx, task := range st.tasks[u.ID] {
		if task.ID != body.ID {
			continue
		}
		if task.Claimed {
			writeEnvelope(w, 10004, "task already claimed", nil)
			return
		}
		st.tasks[u.ID][idx].Claimed = true
		u.Energy += task.Amount
		ok(w, map[string]any{"amount": task.Amount})
		return
	}
	writeEnvelope(w, 10004, "unknown task", nil)
}

func (st *mockState) handleDiscordTask(w http.ResponseWriter, r *http.Request, u *mockUser) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if u.Discord == 0 {
		writeEnvelope(w, 10004, "discord not bound", nil)
		return
	}
	for idx, task := range st.tasks[u.ID] {
		if task.ID != 2 || task.Claimed {
			continue
		}
		st.tasks[u.ID][idx].Claimed = true
		u.Energy += task.Amount
		ok(w, map[string]any{"amount": task.Amount})
		return
	}
	writeEnvelope(w, 10004, "task already claimed", nil)
}

func (st *mockState) handleInject(w http.ResponseWriter, r *http.Request, u *mockUser) {
	var body struct {
		Energy int64 `json:"energy"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	st.mu.Lock()
	if body.Energy > 0 && body.Energy <= u.Energy {
		u.Energy -= body.Energy
		u.Tree += body.Energy
	}
	st.mu.Unlock()
	ok(w, nil)
}
