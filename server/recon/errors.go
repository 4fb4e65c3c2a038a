package recon

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Tom6814/JM-Aura/server/jmapi"
)

// Sentinel errors for reconciliation outcomes. Use errors.Is to classify.
var (
	ErrInvalidInput      = errors.New("recon: invalid input")
	ErrNotApplied        = errors.New("recon: change not confirmed on remote")
	ErrTooLargeToMigrate = errors.New("recon: folder too large to migrate")
	ErrAmbiguous         = errors.New("recon: remote left in ambiguous state")
	ErrNotAuthenticated  = errors.New("recon: not authenticated on remote")
)

// NotAppliedError carries the raw upstream response of a mutation whose
// effect never became visible in subsequent listings.
type NotAppliedError struct {
	Op      string
	Raw     json.RawMessage
	Folders []jmapi.Folder
	Cause   string
}

func (e *NotAppliedError) Error() string {
	if e.Cause != "" {
		return fmt.Sprintf("%v not applied: %v", e.Op, e.Cause)
	}
	return fmt.Sprintf("%v not applied", e.Op)
}

func (e *NotAppliedError) Unwrap() error {
	return ErrNotApplied
}

// TooLargeError aborts a rename emulation before any item is moved.
type TooLargeError struct {
	FolderID string
	Total    int
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("folder %v holds %v items, too large to migrate automatically", e.FolderID, e.Total)
}

func (e *TooLargeError) Unwrap() error {
	return ErrTooLargeToMigrate
}

// AmbiguousError reports a rename emulation that stopped partway: enough
// detail for the caller to retry or reconcile by hand.
type AmbiguousError struct {
	OldFolderID string
	NewFolderID string
	Moved       int
	Cause       string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("rename of folder %v to %v incomplete after %v moves: %v", e.OldFolderID, e.NewFolderID, e.Moved, e.Cause)
}

func (e *AmbiguousError) Unwrap() error {
	return ErrAmbiguous
}
