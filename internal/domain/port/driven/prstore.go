package driven

import (
	"context"
	"time"

	"github.com/ericfisherdev/releaseintel/internal/domain/model"
)

// PRStore defines the driven port for merged pull request persistence.
type PRStore interface {
	// Insert stores pr unless (RepositoryID, Number) already exists and reports
	// whether a row was written.
	Insert(ctx context.Context, pr model.PullRequest) (bool, error)
	// ListMergedSince returns PRs merged at or after since. A zero repoID spans
	// all repositories.
	ListMergedSince(ctx context.Context, since time.Time, repoID int64) ([]model.PullRequest, error)
}
