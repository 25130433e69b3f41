package grant

import (
	"context"
	"time"

	"github.com/Abaso007/builderai-sub001/internal/types"
)

// Repository defines the interface for grant storage operations.
// Create is conflict safe on the grant identity tuple (project, subject,
// feature plan version, type, effective range): a conflicting insert
// returns an already-exists error and writes nothing.
type Repository interface {
	Create(ctx context.Context, g *Grant) (*Grant, error)
	Get(ctx context.Context, id string) (*Grant, error)
	Update(ctx context.Context, g *Grant) (*Grant, error)
	Delete(ctx context.Context, id string) error

	// ListBySubjects returns non-deleted grants of any of the subjects
	// whose validity intersects [start, end), ordered by priority
	// descending then id ascending
	ListBySubjects(ctx context.Context, projectID string, subjects []types.GrantSubject, start time.Time, end *time.Time) ([]*Grant, error)

	// ListOverlapping returns non-deleted grants of one subject on a
	// feature slug whose validity intersects [start, end)
	ListOverlapping(ctx context.Context, projectID string, subject types.GrantSubject, featureSlug string, start time.Time, end *time.Time) ([]*Grant, error)

	// ListOverlappingByFeature is the cross-subject variant used by
	// overlap validation on grant creation
	ListOverlappingByFeature(ctx context.Context, projectID, featureSlug string, start time.Time, end *time.Time) ([]*Grant, error)

	// FindCovering returns a grant for (feature plan version, customer)
	// whose validity covers [start, end], or a not-found error
	FindCovering(ctx context.Context, projectID, customerID, featurePlanVersionID string, start time.Time, end *time.Time) (*Grant, error)

	// ListExpiring returns auto-renewable grants expiring inside the window
	ListExpiring(ctx context.Context, projectID string, before time.Time) ([]*Grant, error)
}
