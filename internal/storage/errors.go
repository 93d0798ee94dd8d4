package storage

import "fmt"

// Error is a storage write failure. Message is safe to show to the user.
type Error struct {
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("storage: %s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("storage: %s: %s: %v", e.Op, e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

const (
	msgSaveThread     = "Failed to save thread. Storage quota may be exceeded."
	msgSaveThreadList = "Failed to save thread list. Storage quota may be exceeded."
	msgDeleteThread   = "Failed to delete thread."
	msgUpdateThread   = "Failed to update thread."
)
