package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/releaseintel/internal/domain/model"
)

// ErrDiagnosticNotFound indicates the diagnostic to acknowledge does not exist.
var ErrDiagnosticNotFound = errors.New("diagnostic not found")

// DiagnosticStore defines the driven port for diagnostic persistence.
type DiagnosticStore interface {
	// ExistsUnacknowledged reports whether an unacknowledged diagnostic with the
	// same repository, type and title is stored. A nil repoID matches NULL.
	ExistsUnacknowledged(ctx context.Context, repoID *int64, typ model.DiagnosticType, title string) (bool, error)
	Insert(ctx context.Context, d model.Diagnostic) (int64, error)
	// ListUnacknowledged returns open diagnostics, newest first. A zero repoID
	// spans all repositories.
	ListUnacknowledged(ctx context.Context, limit int, repoID int64) ([]model.Diagnostic, error)
	CountUnacknowledged(ctx context.Context) (int, error)
	Acknowledge(ctx context.Context, id int64) error
}
