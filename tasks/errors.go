package tasks

import "fmt"

// ValidationError reports bad input. Nothing was sent to the store.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// ProhibitedContentError reports text refused by the content filter. When
// AutoRejected is set the task existed and has been archived as Rejected.
type ProhibitedContentError struct {
	TaskID       string
	AutoRejected bool
}

func (e *ProhibitedContentError) Error() string {
	if e.AutoRejected {
		return "task contains prohibited content and was rejected"
	}
	return "task contains prohibited content"
}

// NotFoundError reports that no task matched. Callers treat it as "nothing
// to do", not as a failure.
type NotFoundError struct {
	What string
}

func (e *NotFoundError) Error() string {
	if e.What == "" {
		return "no matching task"
	}
	return "no matching task: " + e.What
}

// ForbiddenError reports an operation the principal's role may not perform.
type ForbiddenError struct {
	Op   string
	Role Role
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("%s requires a moderator or the broadcaster (role %q)", e.Op, e.Role)
}
