package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/onnwee/task-overlay/tasks"
	"github.com/onnwee/task-overlay/telemetry"
)

// Message is one chat line as the dispatcher sees it.
type Message struct {
	ID     string
	Login  string
	Badges map[string]int
	Text   string
}

// Command is a parsed bot command.
type Command struct {
	Name string
	Arg  string
}

// Parse extracts a command from text. Only the known commands match.
func Parse(text string) (Command, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "!") {
		return Command{}, false
	}
	name, arg, _ := strings.Cut(text[1:], " ")
	name = strings.ToLower(name)
	switch name {
	case "task", "approve", "reject", "done", "undo":
		return Command{Name: name, Arg: strings.TrimSpace(arg)}, true
	}
	return Command{}, false
}

// RoleFromBadges maps chat badges onto a role. The subscriber badge version
// encodes the tier (2000s tier 2, 3000s tier 3).
func RoleFromBadges(badges map[string]int) tasks.Role {
	switch {
	case badges["broadcaster"] > 0:
		return tasks.RoleBroadcaster
	case badges["moderator"] > 0:
		return tasks.RoleModerator
	case badges["vip"] > 0:
		return tasks.RoleVIP
	}
	if v, ok := badges["subscriber"]; ok {
		switch {
		case v >= 3000:
			return tasks.RoleSubscriberT3
		case v >= 2000:
			return tasks.RoleSubscriberT2
		default:
			return tasks.RoleSubscriberT1
		}
	}
	return tasks.RoleViewer
}

// ServiceFunc returns the task service for the bot's channel.
type ServiceFunc func(ctx context.Context) (*tasks.Service, error)

// Dispatcher runs commands against the task service and produces replies.
type Dispatcher struct {
	ChannelID string
	Service   ServiceFunc
}

// Handle runs msg and returns the chat reply, or "" for lines that are not
// commands.
func (d *Dispatcher) Handle(ctx context.Context, msg Message) string {
	cmd, ok := Parse(msg.Text)
	if !ok {
		return ""
	}
	login := strings.ToLower(msg.Login)
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "chat"), slog.String("command", cmd.Name), slog.String("user", login))
	svc, err := d.Service(ctx)
	if err != nil {
		log.Error("resolve channel", slog.Any("err", err))
		telemetry.CountChatCommand(cmd.Name, "error")
		return fmt.Sprintf("@%s, the task board isn't set up yet.", login)
	}
	p := tasks.Principal{ChannelID: d.ChannelID, OpaqueID: login, Role: RoleFromBadges(msg.Badges)}

	reply, err := d.run(ctx, svc, p, cmd)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		reply = d.errorReply(login, cmd, err)
		var (
			fe *tasks.ForbiddenError
			ne *tasks.NotFoundError
			pe *tasks.ProhibitedContentError
			ve *tasks.ValidationError
		)
		switch {
		case errors.As(err, &fe):
			outcome = "forbidden"
		case errors.As(err, &ne):
			outcome = "not_found"
		case errors.As(err, &pe), errors.As(err, &ve):
			outcome = "rejected"
		default:
			log.Error("chat command failed", slog.Any("err", err))
		}
	}
	telemetry.CountChatCommand(cmd.Name, outcome)
	return reply
}

func (d *Dispatcher) run(ctx context.Context, svc *tasks.Service, p tasks.Principal, cmd Command) (string, error) {
	target := strings.ToLower(strings.TrimPrefix(cmd.Arg, "@"))
	switch cmd.Name {
	case "task":
		if _, err := svc.Submit(ctx, p, cmd.Arg); err != nil {
			return "", err
		}
		return fmt.Sprintf("@%s, your task has been submitted for approval!", p.OpaqueID), nil
	case "approve":
		if !p.CanModerate() {
			return "", &tasks.ForbiddenError{Op: "approve", Role: p.Role}
		}
		if target == "" {
			return "Usage: !approve @user", nil
		}
		if _, err := svc.ApproveSubmitter(ctx, p, target); err != nil {
			return "", err
		}
		return fmt.Sprintf("Task for @%s has been approved!", target), nil
	case "reject":
		if !p.CanModerate() {
			return "", &tasks.ForbiddenError{Op: "reject", Role: p.Role}
		}
		if target == "" {
			return "Usage: !reject @user", nil
		}
		if _, err := svc.RejectSubmitter(ctx, p, target); err != nil {
			return "", err
		}
		return fmt.Sprintf("Task for @%s has been rejected.", target), nil
	case "done", "undo":
		done := cmd.Name == "done"
		if _, err := svc.SetMyCompletion(ctx, p, done); err != nil {
			return "", err
		}
		state := "complete"
		if !done {
			state = "incomplete"
		}
		return fmt.Sprintf("@%s's task has been marked as %s!", p.OpaqueID, state), nil
	}
	return "", nil
}

func (d *Dispatcher) errorReply(login string, cmd Command, err error) string {
	target := strings.ToLower(strings.TrimPrefix(cmd.Arg, "@"))
	var (
		fe *tasks.ForbiddenError
		ne *tasks.NotFoundError
		pe *tasks.ProhibitedContentError
		ve *tasks.ValidationError
	)
	switch {
	case errors.As(err, &fe):
		return fmt.Sprintf("@%s, only moderators can do that.", login)
	case errors.As(err, &pe):
		if pe.AutoRejected {
			return fmt.Sprintf("Task for @%s contains prohibited content and was rejected.", target)
		}
		return fmt.Sprintf("@%s, that task contains prohibited content.", login)
	case errors.As(err, &ve):
		return fmt.Sprintf("@%s, usage: !task <description>", login)
	case errors.As(err, &ne):
		switch cmd.Name {
		case "approve":
			return fmt.Sprintf("No pending task found for @%s.", target)
		case "reject":
			return fmt.Sprintf("No pending task found for @%s to reject.", target)
		}
		return fmt.Sprintf("@%s, no active task found for you to update.", login)
	}
	return fmt.Sprintf("@%s, something went wrong. Try again later.", login)
}
