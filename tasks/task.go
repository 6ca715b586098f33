package tasks

import (
	"strings"

	"github.com/onnwee/task-overlay/notion"
	"github.com/onnwee/task-overlay/schema"
)

// Approval is the moderation state of a viewer task.
type Approval string

const (
	Pending  Approval = "Pending"
	Approved Approval = "Approved"
	Rejected Approval = "Rejected"
)

// ApprovalOf reads a viewer record's moderation state. The modern Approval
// Status field wins; when it is empty the legacy Status field is mapped, and
// any other or missing legacy value reads as Pending. This is the only place
// approval state is read.
func ApprovalOf(p notion.Page) Approval {
	if v := p.SelectName(schema.FieldApproval); v != "" {
		return Approval(v)
	}
	return LegacyApproval(p.StatusName(schema.FieldStatus))
}

// LegacyApproval maps a unified legacy status value onto an Approval.
func LegacyApproval(status string) Approval {
	switch Approval(status) {
	case Pending, Approved, Rejected:
		return Approval(status)
	}
	return Pending
}

// Task kinds reported in Task.Type.
const (
	TypeStreamer = "streamer"
	TypeViewer   = "viewer"
)

// UntitledTask is shown for records with an empty title.
const UntitledTask = "Untitled Task"

// Task is the display shape of a record.
type Task struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Title     string `json:"title"`
	Submitter string `json:"submitter,omitempty"`
	Role      string `json:"role,omitempty"`
	Status    string `json:"status,omitempty"`
	Completed bool   `json:"completed"`
}

func titleOf(p notion.Page) string {
	if t := strings.TrimSpace(p.Title(schema.FieldTask)); t != "" {
		return t
	}
	return UntitledTask
}

// StreamerTask maps a streamer record.
func StreamerTask(p notion.Page) Task {
	return Task{
		ID:        p.ID,
		Type:      TypeStreamer,
		Title:     titleOf(p),
		Completed: p.Checkbox(schema.FieldCompleted),
	}
}

// ViewerTask maps a viewer record.
func ViewerTask(p notion.Page) Task {
	return Task{
		ID:        p.ID,
		Type:      TypeViewer,
		Title:     titleOf(p),
		Submitter: p.Text(schema.FieldSuggestedBy),
		Role:      p.SelectName(schema.FieldRole),
		Status:    string(ApprovalOf(p)),
		Completed: p.Checkbox(schema.FieldCompleted),
	}
}

// LooksLikeID reports whether s has the shape of a Notion object id: 32 hex
// digits, optionally in dashed UUID form.
func LooksLikeID(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) != 32 && len(s) != 36 {
		return false
	}
	n := 0
	for i, r := range s {
		switch {
		case r == '-':
			if len(s) != 36 || (i != 8 && i != 13 && i != 18 && i != 23) {
				return false
			}
		case (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F'):
			n++
		default:
			return false
		}
	}
	return n == 32
}

// sameID compares ids ignoring dashes and case.
func sameID(a, b string) bool {
	norm := func(s string) string { return strings.ToLower(strings.ReplaceAll(s, "-", "")) }
	return norm(a) == norm(b)
}
