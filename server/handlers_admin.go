package server

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/onnwee/task-overlay/channels"
	"github.com/onnwee/task-overlay/config"
	"github.com/onnwee/task-overlay/db"
	"github.com/onnwee/task-overlay/provision"
	"github.com/onnwee/task-overlay/tasks"
)

// defaultChannelAlias names the env-configured channel in admin paths.
const defaultChannelAlias = "default"

func (h *Handlers) adminChannel(r *http.Request) (*channels.Channel, error) {
	id := strings.TrimSpace(mux.Vars(r)["channel"])
	if id == defaultChannelAlias {
		id = config.DefaultChannel
	}
	return h.reg.Resolve(r.Context(), id)
}

// HandleAdminSync reconciles both databases of a channel and migrates their
// records. The report is returned even when a step failed.
func (h *Handlers) HandleAdminSync(w http.ResponseWriter, r *http.Request) {
	ch, err := h.adminChannel(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rep, err := provision.Sync(r.Context(), ch.Store, ch.Collections, nil)
	if err != nil {
		status, code, _ := errorStatus(err)
		writeJSON(w, status, map[string]any{"report": rep, "error": err.Error(), "code": code})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"report": rep})
}

func (h *Handlers) sweep(w http.ResponseWriter, r *http.Request, run func(*tasks.Service) (tasks.BulkResult, error)) {
	ch, err := h.adminChannel(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := run(h.reg.Tasks(ch))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleAdminRejectProhibited archives every viewer task failing the filter.
func (h *Handlers) HandleAdminRejectProhibited(w http.ResponseWriter, r *http.Request) {
	h.sweep(w, r, func(s *tasks.Service) (tasks.BulkResult, error) { return s.RejectProhibited(r.Context()) })
}

// HandleAdminApprovePending runs every Pending task through approval.
func (h *Handlers) HandleAdminApprovePending(w http.ResponseWriter, r *http.Request) {
	h.sweep(w, r, func(s *tasks.Service) (tasks.BulkResult, error) { return s.ApprovePending(r.Context()) })
}

// HandleAdminMonitor summarizes background job state: the last schema sync,
// the migration version, synced channels and open Notion breakers.
func (h *Handlers) HandleAdminMonitor(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats := map[string]any{}
	if h.db != nil {
		if v, _ := db.GetKV(ctx, h.db, "job_schema_sync_last"); v != "" {
			stats["job_schema_sync_last"] = v
		}
		if version, dirty, err := db.SchemaVersion(ctx, h.db); err == nil {
			stats["migration_version"] = version
			stats["migration_dirty"] = dirty
		}
	}
	if targets, err := h.reg.Targets(ctx); err == nil {
		ids := make([]string, 0, len(targets))
		for _, t := range targets {
			ids = append(ids, t.ChannelID)
		}
		stats["channels"] = ids
	}
	if h.breakers != nil {
		stats["notion_open_breakers"] = h.breakers.OpenBreakers()
	}
	writeJSON(w, http.StatusOK, stats)
}
