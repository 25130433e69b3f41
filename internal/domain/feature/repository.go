package feature

import (
	"context"
)

// Repository defines the interface for feature storage operations
type Repository interface {
	CreateFeature(ctx context.Context, feature *Feature) (*Feature, error)
	GetFeatureBySlug(ctx context.Context, projectID, slug string) (*Feature, error)

	CreatePlanVersion(ctx context.Context, version *FeaturePlanVersion) (*FeaturePlanVersion, error)
	GetPlanVersion(ctx context.Context, id string) (*FeaturePlanVersion, error)
	ListPlanVersionsByIDs(ctx context.Context, ids []string) ([]*FeaturePlanVersion, error)
	ListPlanVersionsByPlanVersion(ctx context.Context, projectID, planVersionID string) ([]*FeaturePlanVersion, error)
}
