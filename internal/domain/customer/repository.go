package customer

import (
	"context"
)

// Repository defines the read surface over customers
type Repository interface {
	Get(ctx context.Context, projectID, customerID string) (*Customer, error)
}
