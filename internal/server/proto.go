package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"

	"github.com/emberworks/ember/internal/llm/agent"
	"github.com/emberworks/ember/internal/proto"
	"github.com/emberworks/ember/internal/version"
)

type controllerV1 struct {
	*Server
}

func (c *controllerV1) handleGetHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (c *controllerV1) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	jsonEncode(w, proto.VersionInfo{
		Version:   version.Version,
		Commit:    version.Commit,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	})
}

func (c *controllerV1) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	jsonEncode(w, c.cfg)
}

func (c *controllerV1) handlePostControl(w http.ResponseWriter, r *http.Request) {
	var req proto.ServerControl
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		c.logError(r, "failed to decode request", "error", err)
		jsonError(w, http.StatusBadRequest, "failed to decode request")
		return
	}

	switch req.Command {
	case "shutdown":
		go func() {
			slog.Info("shutting down server...")
			if err := c.Shutdown(context.Background()); err != nil {
				c.logError(r, "failed to shutdown server", "error", err)
			}
		}()
	default:
		c.logError(r, "unknown command", "command", req.Command)
		jsonError(w, http.StatusBadRequest, "unknown command")
		return
	}
}

// handlePostTurns runs one turn and streams its events back as SSE. The
// stream stays open for the lifetime of the turn; closing the request
// context aborts it.
func (c *controllerV1) handlePostTurns(w http.ResponseWriter, r *http.Request) {
	var req proto.TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		c.logError(r, "failed to decode request", "error", err)
		jsonError(w, http.StatusBadRequest, "failed to decode request")
		return
	}
	if req.UserID == "" {
		jsonError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if req.Content == "" && req.ContinuationToken == "" {
		jsonError(w, http.StatusBadRequest, "content or continuation_token is required")
		return
	}

	events, err := c.agent.Run(r.Context(), req)
	if err != nil {
		c.logError(r, "failed to start turn", "error", err, "user_id", req.UserID)
		switch {
		case errors.Is(err, agent.ErrNoCredits):
			jsonError(w, http.StatusPaymentRequired, err.Error())
		default:
			jsonError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	flusher := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	for {
		select {
		case <-r.Context().Done():
			c.logDebug(r, "client closed turn stream")
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				c.logError(r, "failed to marshal event", "error", err)
				continue
			}

			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func (c *controllerV1) handleGetUserLedger(w http.ResponseWriter, r *http.Request) {
	if c.q == nil {
		jsonError(w, http.StatusNotFound, "ledger store not available")
		return
	}

	id := r.PathValue("id")
	entries, err := c.q.ListLedgerEntriesByUser(r.Context(), id)
	if err != nil {
		c.logError(r, "failed to list ledger entries", "error", err, "user_id", id)
		jsonError(w, http.StatusInternalServerError, "failed to list ledger entries")
		return
	}
	wire := make([]proto.LedgerEntry, len(entries))
	for i, e := range entries {
		wire[i] = proto.LedgerEntry{
			ID:             e.ID,
			UserID:         e.UserID,
			ModelID:        e.ModelID,
			InputTokens:    e.InputTokens,
			OutputTokens:   e.OutputTokens,
			Steps:          e.Steps,
			ResponseTimeMs: e.ResponseTimeMs,
			Outcome:        e.Outcome,
			CreditsUsed:    e.CreditsUsed,
			BalanceAfter:   e.BalanceAfter,
			CreatedAt:      e.CreatedAt,
		}
	}
	jsonEncode(w, wire)
}

func (c *controllerV1) handleGetProjectFiles(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	jsonEncode(w, c.files.Snapshot(id))
}

// handleGetProjectEvents streams file change events for one project as SSE.
func (c *controllerV1) handleGetProjectEvents(w http.ResponseWriter, r *http.Request) {
	flusher := http.NewResponseController(w)
	id := r.PathValue("id")

	events := c.files.Subscribe(r.Context())

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			c.logDebug(r, "stopping project event stream")
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Payload.ProjectID != id {
				continue
			}
			data, err := json.Marshal(ev)
			if err != nil {
				c.logError(r, "failed to marshal event", "error", err)
				continue
			}

			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func jsonEncode(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(proto.Error{Message: message})
}
