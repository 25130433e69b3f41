package testutil

import (
	"context"
	"sort"
	"sync"

	"github.com/Abaso007/builderai-sub001/internal/domain/feature"
	ierr "github.com/Abaso007/builderai-sub001/internal/errors"
)

// InMemoryFeatureStore implements feature.Repository
type InMemoryFeatureStore struct {
	mu       sync.RWMutex
	features map[string]*feature.Feature
	versions map[string]*feature.FeaturePlanVersion
}

func NewInMemoryFeatureStore() *InMemoryFeatureStore {
	return &InMemoryFeatureStore{
		features: make(map[string]*feature.Feature),
		versions: make(map[string]*feature.FeaturePlanVersion),
	}
}

func (s *InMemoryFeatureStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.features = make(map[string]*feature.Feature)
	s.versions = make(map[string]*feature.FeaturePlanVersion)
}

func copyFeature(f *feature.Feature) *feature.Feature {
	clone := *f
	return &clone
}

func copyPlanVersion(v *feature.FeaturePlanVersion) *feature.FeaturePlanVersion {
	clone := *v
	return &clone
}

func (s *InMemoryFeatureStore) CreateFeature(ctx context.Context, f *feature.Feature) (*feature.Feature, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.features {
		if existing.ProjectID == f.ProjectID && existing.Slug == f.Slug {
			return nil, ierr.NewError("feature already exists").
				WithReportableDetails(map[string]any{"slug": f.Slug}).
				Mark(ierr.ErrAlreadyExists)
		}
	}
	s.features[f.ID] = copyFeature(f)
	return copyFeature(f), nil
}

func (s *InMemoryFeatureStore) GetFeatureBySlug(ctx context.Context, projectID, slug string) (*feature.Feature, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, f := range s.features {
		if f.ProjectID == projectID && f.Slug == slug {
			return copyFeature(f), nil
		}
	}
	return nil, ierr.NewErrorf("feature %s not found", slug).
		Mark(ierr.ErrNotFound)
}

func (s *InMemoryFeatureStore) CreatePlanVersion(ctx context.Context, version *feature.FeaturePlanVersion) (*feature.FeaturePlanVersion, error) {
	if err := version.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.versions[version.ID]; exists {
		return nil, ierr.NewError("feature plan version already exists").
			WithReportableDetails(map[string]any{"feature_plan_version_id": version.ID}).
			Mark(ierr.ErrAlreadyExists)
	}
	s.versions[version.ID] = copyPlanVersion(version)
	return copyPlanVersion(version), nil
}

func (s *InMemoryFeatureStore) GetPlanVersion(ctx context.Context, id string) (*feature.FeaturePlanVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.versions[id]
	if !ok {
		return nil, ierr.NewErrorf("feature plan version %s not found", id).
			Mark(ierr.ErrNotFound)
	}
	return copyPlanVersion(v), nil
}

func (s *InMemoryFeatureStore) ListPlanVersionsByIDs(ctx context.Context, ids []string) ([]*feature.FeaturePlanVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*feature.FeaturePlanVersion
	for _, id := range ids {
		if v, ok := s.versions[id]; ok {
			out = append(out, copyPlanVersion(v))
		}
	}
	return out, nil
}

func (s *InMemoryFeatureStore) ListPlanVersionsByPlanVersion(ctx context.Context, projectID, planVersionID string) ([]*feature.FeaturePlanVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*feature.FeaturePlanVersion
	for _, v := range s.versions {
		if v.ProjectID == projectID && v.PlanVersionID == planVersionID {
			out = append(out, copyPlanVersion(v))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].FeatureSlug < out[j].FeatureSlug
	})
	return out, nil
}
