package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/releaseintel/internal/domain/model"
)

// ErrSuggestionUnavailable indicates the enrichment service returned nothing usable.
var ErrSuggestionUnavailable = errors.New("suggestion unavailable")

// Suggester produces a short advisory suggestion for a diagnostic. Results are
// never required for correctness.
type Suggester interface {
	Suggest(ctx context.Context, d model.Diagnostic) (string, error)
}
