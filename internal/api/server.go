package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/csai/cyborg-arviz-agent/internal/config"
	"github.com/csai/cyborg-arviz-agent/internal/gameapi"
	"github.com/csai/cyborg-arviz-agent/internal/graph"
	"github.com/csai/cyborg-arviz-agent/internal/metrics"
	"github.com/csai/cyborg-arviz-agent/internal/session"
)

const maxRequestBody = 1 << 20

type Session interface {
	Start(ctx context.Context, redAgent, blueAgent string, maxSteps int) (session.State, error)
	Next(ctx context.Context) (session.State, error)
	Previous(ctx context.Context) (session.State, error)
	End(ctx context.Context) (session.State, string, error)
	Status() session.Status
	View() *graph.View
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	cfg       config.Config
	session   Session
	store     Pinger
	metrics   *metrics.Registry
	logger    *slog.Logger
	startedAt time.Time
}

func New(cfg config.Config, sess Session, store Pinger, reg *metrics.Registry, logger *slog.Logger) *Server {
	return &Server{cfg: cfg, session: sess, store: store, metrics: reg, logger: logger, startedAt: time.Now().UTC()}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	mux.HandleFunc(s.cfg.Observability.MetricsPath, s.handleMetrics)

	mux.HandleFunc("/v1/session", s.handleSession)
	mux.HandleFunc("/v1/session/", s.handleSessionAction)
	return mux
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, SessionResponse{OK: true, Session: s.session.Status()})
	case http.MethodDelete:
		_, message, err := s.session.End(r.Context())
		if err != nil {
			s.writeSessionErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, EndSessionResponse{OK: true, Message: message, Session: s.session.Status()})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed.", nil)
	}
}

func (s *Server) handleSessionAction(w http.ResponseWriter, r *http.Request) {
	action := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/session/"), "/")
	switch action {
	case "start":
		s.handleStart(w, r)
	case "next":
		s.handleStep(w, r, s.session.Next)
	case "previous", "prev":
		s.handleStep(w, r, s.session.Previous)
	case "graph":
		s.handleGraph(w, r)
	default:
		writeError(w, http.StatusNotFound, "not_found", "Endpoint not found.", nil)
	}
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed.", nil)
		return
	}
	var req StartSessionRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "bad_request", "Body must be a JSON object.", nil)
		return
	}
	if req.RedAgent == "" {
		req.RedAgent = s.cfg.Game.RedAgent
	}
	if req.BlueAgent == "" {
		req.BlueAgent = s.cfg.Game.BlueAgent
	}
	if req.MaxSteps == 0 {
		req.MaxSteps = s.cfg.Game.MaxSteps
	}
	if _, err := s.session.Start(r.Context(), req.RedAgent, req.BlueAgent, req.MaxSteps); err != nil {
		s.writeSessionErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{OK: true, Session: s.session.Status()})
}

func (s *Server) handleStep(w http.ResponseWriter, r *http.Request, step func(context.Context) (session.State, error)) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed.", nil)
		return
	}
	if _, err := step(r.Context()); err != nil {
		s.writeSessionErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{OK: true, Session: s.session.Status()})
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed.", nil)
		return
	}
	snap := s.session.View().Current()
	if snap == nil {
		writeError(w, http.StatusNotFound, "no_graph", "No graph is loaded.", nil)
		return
	}
	raw := json.RawMessage(snap.Raw)
	if !json.Valid(raw) {
		b, err := json.Marshal(snap)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", "Unable to encode graph.", nil)
			return
		}
		raw = b
	}
	writeJSON(w, http.StatusOK, GraphResponse{
		OK:         true,
		Step:       s.session.Status().State.CurrentStep,
		RedAction:  snap.Red.ActionSummary(),
		BlueAction: snap.Blue.ActionSummary(),
		Graph:      raw,
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed.", nil)
		return
	}
	st := s.session.Status()
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:     "ok",
		Version:    s.cfg.Server.Version,
		Uptime:     int64(time.Since(s.startedAt).Seconds()),
		GameActive: st.State.Active(),
		Loading:    st.Loading,
	})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed.", nil)
		return
	}
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.Warn("store_ping_failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, ReadyResponse{Status: "not_ready", Ready: false})
		return
	}
	writeJSON(w, http.StatusOK, ReadyResponse{Status: "ready", Ready: true})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed.", nil)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_, _ = w.Write([]byte(s.metrics.RenderPrometheus()))
}

func (s *Server) writeSessionErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrBusy):
		writeError(w, http.StatusConflict, "operation_in_flight", "Another session operation is in progress.", nil)
	case errors.Is(err, session.ErrGameActive):
		writeError(w, http.StatusConflict, "game_active", "A game is already running; end it first.", nil)
	case errors.Is(err, session.ErrNoGame), errors.Is(err, gameapi.ErrNoGame):
		writeError(w, http.StatusConflict, "no_game", "Start a game first.", nil)
	case errors.Is(err, session.ErrFinalStep), errors.Is(err, session.ErrFirstStep):
		writeError(w, http.StatusConflict, "step_out_of_range", "No step in that direction.", map[string]any{"reason": err.Error()})
	case errors.Is(err, session.ErrInvalidMaxSteps), errors.Is(err, session.ErrMissingAgent):
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid start parameters.", map[string]any{"reason": err.Error()})
	case errors.Is(err, gameapi.ErrTransport):
		writeError(w, http.StatusGatewayTimeout, "upstream_unreachable", "Simulation server did not answer.", map[string]any{"error": err.Error()})
	case errors.Is(err, gameapi.ErrProtocol), errors.Is(err, gameapi.ErrDecode):
		writeError(w, http.StatusBadGateway, "upstream_failed", "Simulation server returned an unusable response.", map[string]any{"error": err.Error(), "kind": string(gameapi.KindOf(err))})
	default:
		s.logger.Error("session_error", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal_error", "Operation failed.", map[string]any{"error": err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, errCode, message string, details any) {
	writeJSON(w, code, ErrorEnvelope{Error: ErrorBody{Code: errCode, Message: message, Details: details}})
}
