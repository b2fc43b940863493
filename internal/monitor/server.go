package monitor

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"mintforest/internal/campaign"
	"mintforest/internal/config"
	"mintforest/internal/logbus"
	"mintforest/internal/store/sqlite"
)

// Server is the read-only monitoring surface: campaign state, stored groups
// and a websocket log stream.
type Server struct {
	cfg      config.MonitorConfig
	bus      *logbus.Bus
	store    *sqlite.Store
	campaign *campaign.Campaign
	ws       *wsHandler
}

type Options struct {
	Cfg      config.MonitorConfig
	Bus      *logbus.Bus
	Store    *sqlite.Store
	Campaign *campaign.Campaign
}

func New(opts Options) *Server {
	return &Server{
		cfg:      opts.Cfg,
		bus:      opts.Bus,
		store:    opts.Store,
		campaign: opts.Campaign,
		ws:       newWSHandler(opts.Bus, opts.Cfg.AllowOrigins),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/ws", s.ws)

	api := http.NewServeMux()
	api.HandleFunc("/api/v1/campaign/state", s.handleCampaignState)
	api.HandleFunc("/api/v1/groups", s.handleGroups)

	mux.Handle("/api/", s.corsMiddleware(api))
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleCampaignState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": s.campaign.State()})
}

func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	groups, err := s.store.ListGroups(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": groups})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	allowHeaders := []string{"Content-Type", "Authorization"}
	allowMethods := []string{"GET", "OPTIONS"}
	maxAge := 600

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowedOrigin := ""
		for _, o := range s.cfg.AllowOrigins {
			if o == "*" {
				allowedOrigin = "*"
				break
			}
			if strings.EqualFold(o, origin) {
				allowedOrigin = origin
				break
			}
		}

		if allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Headers", strings.Join(allowHeaders, ", "))
			w.Header().Set("Access-Control-Allow-Methods", strings.Join(allowMethods, ", "))
			w.Header().Set("Access-Control-Max-Age", strconv.Itoa(maxAge))
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
