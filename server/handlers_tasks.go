package server

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/onnwee/task-overlay/auth"
	"github.com/onnwee/task-overlay/channels"
	"github.com/onnwee/task-overlay/overlay"
	"github.com/onnwee/task-overlay/tasks"
)

type submitRequest struct {
	TaskDescription string `json:"taskDescription" validate:"required"`
}

type completionRequest struct {
	Completed *bool `json:"completed" validate:"required"`
}

type taskResponse struct {
	Message string      `json:"message"`
	Task    *tasks.Task `json:"task,omitempty"`
}

// caller returns the authenticated principal and its resolved channel.
func (h *Handlers) caller(r *http.Request) (tasks.Principal, *channels.Channel, error) {
	p, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		return p, nil, errors.New("no principal on request context")
	}
	ch, err := h.reg.Resolve(r.Context(), p.ChannelID)
	return p, ch, err
}

func (h *Handlers) service(r *http.Request) (tasks.Principal, *tasks.Service, error) {
	p, ch, err := h.caller(r)
	if err != nil {
		return p, nil, err
	}
	return p, h.reg.Tasks(ch), nil
}

// HandleOverlayTasks returns the overlay view. An unconfigured channel gets
// empty lists.
func (h *Handlers) HandleOverlayTasks(w http.ResponseWriter, r *http.Request) {
	_, ch, err := h.caller(r)
	if errors.Is(err, channels.ErrNotConfigured) {
		writeJSON(w, http.StatusOK, overlay.View{StreamerTasks: []tasks.Task{}, ViewerTasks: []tasks.Task{}})
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	view, err := h.reg.Overlay(ch).Build(r.Context(), ch.Collections)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// HandleSubmitTask creates a Pending viewer task.
func (h *Handlers) HandleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := h.decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p, svc, err := h.service(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	t, err := svc.Submit(r.Context(), p, req.TaskDescription)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, taskResponse{Message: "Task submitted for approval!", Task: t})
}

// HandleMyTask returns the caller's in-flight task.
func (h *Handlers) HandleMyTask(w http.ResponseWriter, r *http.Request) {
	p, svc, err := h.service(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	t, err := svc.MyTask(r.Context(), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// HandleMyCompletion toggles the caller's approved task.
func (h *Handlers) HandleMyCompletion(w http.ResponseWriter, r *http.Request) {
	var req completionRequest
	if err := h.decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p, svc, err := h.service(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	t, err := svc.SetMyCompletion(r.Context(), p, *req.Completed)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, taskResponse{Message: completionMessage(*req.Completed), Task: t})
}

// HandlePendingTasks returns the moderation queue.
func (h *Handlers) HandlePendingTasks(w http.ResponseWriter, r *http.Request) {
	p, svc, err := h.service(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	pending, err := svc.ListPending(r.Context(), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": pending})
}

// HandleApproveTask approves a task by id. Prohibited titles are rejected
// instead and answered with 422.
func (h *Handlers) HandleApproveTask(w http.ResponseWriter, r *http.Request) {
	p, svc, err := h.service(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	t, err := svc.Approve(r.Context(), p, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, taskResponse{Message: "Task approved!", Task: t})
}

// HandleRejectTask rejects by task id or by submitter.
func (h *Handlers) HandleRejectTask(w http.ResponseWriter, r *http.Request) {
	p, svc, err := h.service(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	t, err := svc.Reject(r.Context(), p, mux.Vars(r)["target"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, taskResponse{Message: "Task rejected.", Task: t})
}

// HandleTaskCompletion toggles any task; moderators only.
func (h *Handlers) HandleTaskCompletion(w http.ResponseWriter, r *http.Request) {
	var req completionRequest
	if err := h.decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p, svc, err := h.service(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	t, err := svc.SetTaskCompletion(r.Context(), p, mux.Vars(r)["id"], *req.Completed)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, taskResponse{Message: completionMessage(*req.Completed), Task: t})
}

func completionMessage(done bool) string {
	if done {
		return "Task marked as complete!"
	}
	return "Task marked as incomplete."
}
