package errors

import "fmt"

var (
	ErrMissingCredential    = fmt.Errorf("missing credential")
	ErrInvalidCredential    = fmt.Errorf("invalid credential")
	ErrInvalidInput         = fmt.Errorf("invalid input")
	ErrStoreWrite           = fmt.Errorf("store write failure")
	ErrStoreRead            = fmt.Errorf("store read failure")
	ErrConversationConflict = fmt.Errorf("conversation creation conflict")
	ErrSessionState         = fmt.Errorf("invalid session state transition")
	ErrWorkerPanic          = fmt.Errorf("worker panic")
)
