package driven

import (
	"context"
	"time"

	"github.com/ericfisherdev/releaseintel/internal/domain/model"
)

// DeploymentStore defines the driven port for deployment persistence.
type DeploymentStore interface {
	// Insert stores d unless its natural key already exists and reports whether
	// a row was written.
	Insert(ctx context.Context, d model.Deployment) (bool, error)
	CountByRepository(ctx context.Context, since time.Time, repoID int64) ([]model.DeploymentCount, error)
	CountByEnvironment(ctx context.Context, since time.Time, repoID int64) ([]model.DeploymentCount, error)
	LatestPerEnvironment(ctx context.Context, repoID int64) ([]model.Deployment, error)
}
