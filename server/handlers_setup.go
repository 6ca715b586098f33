package server

import (
	"log/slog"
	"net/http"

	"github.com/onnwee/task-overlay/auth"
	"github.com/onnwee/task-overlay/db"
	"github.com/onnwee/task-overlay/provision"
	"github.com/onnwee/task-overlay/tasks"
	"github.com/onnwee/task-overlay/telemetry"
)

// setupRequest carries the broadcaster's integration key and parent page. The
// key may be omitted once one is stored.
type setupRequest struct {
	NotionKey string `json:"notionKey"`
	PageURL   string `json:"pageUrl" validate:"required"`
}

type setupStatus struct {
	NotionConnected  bool `json:"notionConnected"`
	DatabasesCreated bool `json:"databasesCreated"`
	SetupComplete    bool `json:"setupComplete"`
}

// setupInput validates a setup payload and returns the effective key, the
// parent page id and the channel's current configuration.
func (h *Handlers) setupInput(w http.ResponseWriter, r *http.Request) (tasks.Principal, setupRequest, string, db.ChannelConfig, error) {
	var req setupRequest
	p, _ := auth.PrincipalFrom(r.Context())
	if err := h.decodeBody(w, r, &req); err != nil {
		return p, req, "", db.ChannelConfig{}, err
	}
	if p.Role != tasks.RoleBroadcaster {
		return p, req, "", db.ChannelConfig{}, &tasks.ForbiddenError{Op: "setup", Role: p.Role}
	}
	pageID, err := provision.ExtractPageID(req.PageURL)
	if err != nil {
		return p, req, "", db.ChannelConfig{}, &tasks.ValidationError{Field: "pageUrl", Message: err.Error()}
	}
	cur, _, err := h.reg.Config(r.Context(), p.ChannelID)
	if err != nil {
		return p, req, "", db.ChannelConfig{}, err
	}
	if req.NotionKey != "" {
		cur.NotionKey = req.NotionKey
	}
	if cur.NotionKey == "" {
		return p, req, "", db.ChannelConfig{}, &tasks.ValidationError{Field: "notionKey", Message: "a Notion integration key is required"}
	}
	return p, req, pageID, cur, nil
}

// HandleSetup locates or creates both task databases under the given page and
// saves the channel's configuration. Broadcaster only.
func (h *Handlers) HandleSetup(w http.ResponseWriter, r *http.Request) {
	p, req, pageID, cur, err := h.setupInput(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ctx := r.Context()
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "setup"), slog.String("channel", p.ChannelID))

	prov := provision.NewProvisioner(h.reg.Open(cur.NotionKey), nil)
	res, err := prov.Run(ctx, pageID, provision.Preferred{Streamer: cur.StreamerDatabaseID, Viewer: cur.ViewerDatabaseID})
	if err != nil {
		writeError(w, r, err)
		return
	}
	cols := res.Collections()
	err = h.reg.Save(ctx, db.ChannelConfig{
		ChannelID:          p.ChannelID,
		NotionKey:          req.NotionKey,
		ParentPageID:       pageID,
		StreamerDatabaseID: cols.Streamer,
		ViewerDatabaseID:   cols.Viewer,
		SetupComplete:      true,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	log.Info("channel setup complete", slog.String("streamer", cols.Streamer), slog.String("viewer", cols.Viewer))
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": res})
}

// HandleSetupStatus reports how far the caller's channel got through setup.
func (h *Handlers) HandleSetupStatus(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	c, _, err := h.reg.Config(r.Context(), p.ChannelID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, setupStatus{
		NotionConnected:  c.NotionKey != "",
		DatabasesCreated: c.StreamerDatabaseID != "" && c.ViewerDatabaseID != "",
		SetupComplete:    c.SetupComplete,
	})
}

// HandleSetupTest checks that the key can read the parent page. Notion
// failures are reported as a 400 with success=false.
func (h *Handlers) HandleSetupTest(w http.ResponseWriter, r *http.Request) {
	_, _, pageID, cur, err := h.setupInput(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	prov := provision.NewProvisioner(h.reg.Open(cur.NotionKey), nil)
	if err := prov.TestConnection(r.Context(), pageID); err != nil {
		telemetry.LoggerWithCorr(r.Context()).Info("setup connection test failed", slog.Any("err", err), slog.String("component", "setup"))
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   "Failed to connect to Notion. Please check your API key and page URL.",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
