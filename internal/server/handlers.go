package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/divyekant/subdash/internal/pipeline"
	"github.com/divyekant/subdash/internal/store"
)

// syncRun is the RunManager key for API-triggered syncs.
const syncRun = "sync"

// writeJSON marshals v as JSON and writes it to the response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"syncing": s.runs.Get(syncRun) != nil,
	})
}

// handleData returns the stored document verbatim. A missing store is an
// empty object; a corrupt one is reported rather than masked.
func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	res := s.backend.Document()
	w.Header().Set("X-Store-Status", res.Status.String())
	if res.Status == store.StatusCorrupt {
		writeError(w, http.StatusInternalServerError, res.Err.Error())
		return
	}
	data, err := store.Encode(res.Doc)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.backend.Status())
}

func parseMode(v string) (pipeline.Mode, error) {
	switch v {
	case "", "incremental":
		return pipeline.Incremental, nil
	case "all":
		return pipeline.All, nil
	case "force":
		return pipeline.Force, nil
	default:
		return 0, errors.New("mode must be incremental, all or force")
	}
}

// handleStartSync starts a background sync. Only one runs at a time.
func (s *Server) handleStartSync(w http.ResponseWriter, r *http.Request) {
	mode, err := parseMode(r.URL.Query().Get("mode"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	run := s.runs.Start(syncRun)
	if run == nil {
		writeError(w, http.StatusConflict, "a sync is already running")
		return
	}

	go s.runSync(run, mode)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started", "mode": mode.String()})
}

func (s *Server) runSync(run *SyncRun, mode pipeline.Mode) {
	defer s.runs.Finish(syncRun)

	start := time.Now()
	res, err := s.backend.Sync(s.baseCtx, mode, run.SendProgress)
	if err != nil {
		s.logger.Error("server: sync failed", "mode", mode.String(), "error", err)
		run.SendError(err.Error())
		return
	}
	run.SendResult(summarize(res, time.Since(start)))
}

// handleSyncEvents streams progress of the running sync.
func (s *Server) handleSyncEvents(w http.ResponseWriter, r *http.Request) {
	run := s.runs.Get(syncRun)
	if run == nil {
		writeError(w, http.StatusNotFound, "no sync running")
		return
	}
	run.WriteSSE(w, r)
}
