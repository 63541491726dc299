package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/crowdguard/veritas/internal/consensus"
	"github.com/crowdguard/veritas/internal/engine"
	"github.com/crowdguard/veritas/internal/geo"
	"github.com/crowdguard/veritas/internal/ledger"
	"github.com/crowdguard/veritas/internal/trust"
)

type Server struct {
	router *chi.Mux
	engine *engine.Engine
	trust  *trust.Store
	port   int
}

func NewServer(port int, adminToken string, eng *engine.Engine, trustStore *trust.Store) *Server {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router: router,
		engine: eng,
		trust:  trustStore,
		port:   port,
	}

	router.Get("/health", s.health)
	router.Handle("/metrics", promhttp.Handler())

	router.Route("/api/v1", func(r chi.Router) {
		r.With(bearerAuth(adminToken)).Post("/events", s.registerEvent)
		r.Post("/events/{eventID}/votes", s.castVote)
		r.Get("/events/{eventID}/consensus", s.getConsensus)
		r.Get("/users/{userID}/trust", s.getTrust)
		r.With(bearerAuth(adminToken)).Post("/events/{eventID}/overturn", s.overturn)
	})

	return s
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	slog.Info("API server starting", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

// VoteRequest is the cast-vote payload. Location is optional; a missing or
// malformed one weights the vote as if cast at the event.
type VoteRequest struct {
	VoterID  string     `json:"voter_id"`
	VoteType string     `json:"vote_type"`
	Location *geo.Point `json:"location,omitempty"`
}

// VoteAck confirms a recorded vote together with the recomputed consensus.
type VoteAck struct {
	Vote      *ledger.Vote     `json:"vote"`
	Consensus consensus.Result `json:"consensus"`
}

// OverturnRequest carries the administratively corrected verdict.
type OverturnRequest struct {
	Verdict string `json:"verdict"`
}

// EventRequest registers an event from the reporting flow.
type EventRequest struct {
	ID         string    `json:"id"`
	Severity   int       `json:"severity"`
	Location   geo.Point `json:"location"`
	ReporterID string    `json:"reporter_id"`
}

func (s *Server) registerEvent(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	evt := ledger.Event{
		ID:         req.ID,
		Severity:   req.Severity,
		Location:   req.Location,
		ReporterID: req.ReporterID,
	}
	if err := s.engine.RegisterEvent(r.Context(), evt); err != nil {
		if errors.Is(err, ledger.ErrStoreUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "store unavailable, retry with backoff")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": req.ID, "status": "pending"})
}

func (s *Server) castVote(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	var req VoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.VoterID == "" {
		writeError(w, http.StatusBadRequest, "voter_id is required")
		return
	}

	vote, result, err := s.engine.CastVote(r.Context(), eventID, req.VoterID, ledger.VoteType(req.VoteType), req.Location)
	if err != nil {
		writeVoteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, VoteAck{Vote: vote, Consensus: result})
}

func (s *Server) getConsensus(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	result, err := s.engine.Consensus(r.Context(), eventID)
	if err != nil {
		writeVoteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) getTrust(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	score, err := s.trust.Get(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "trust store unavailable, retry later")
		return
	}
	writeJSON(w, http.StatusOK, score)
}

func (s *Server) overturn(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	var req OverturnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	result, err := s.engine.Overturn(r.Context(), eventID, consensus.Verdict(req.Verdict))
	if err != nil {
		if errors.Is(err, ledger.ErrUnknownEvent) {
			writeError(w, http.StatusNotFound, "event not found")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeVoteError maps the ledger's error taxonomy onto specific,
// user-actionable responses.
func writeVoteError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrInsufficientTrust):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, ledger.ErrUnknownEvent):
		writeError(w, http.StatusNotFound, "event not found")
	case errors.Is(err, ledger.ErrInvalidVoteType):
		writeError(w, http.StatusBadRequest, "vote_type must be confirm, dispute, or withdrawn")
	case errors.Is(err, ledger.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "store unavailable, retry with backoff")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" || r.Header.Get("Authorization") != "Bearer "+token {
				writeError(w, http.StatusUnauthorized, "missing or invalid bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
