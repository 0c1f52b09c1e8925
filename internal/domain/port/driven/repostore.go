package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/releaseintel/internal/domain/model"
)

// ErrRepoNotFound indicates the requested repository does not exist.
var ErrRepoNotFound = errors.New("repository not found")

// RepoStore defines the driven port for repository persistence. Repositories
// are never deleted; Upsert refreshes the display name of an existing slug.
type RepoStore interface {
	Upsert(ctx context.Context, repo model.Repository) (int64, error)
	GetBySlug(ctx context.Context, slug string) (*model.Repository, error)
	GetByID(ctx context.Context, id int64) (*model.Repository, error)
	ListAll(ctx context.Context) ([]model.Repository, error)
}
