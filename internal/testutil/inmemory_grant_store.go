package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Abaso007/builderai-sub001/internal/domain/grant"
	ierr "github.com/Abaso007/builderai-sub001/internal/errors"
	"github.com/Abaso007/builderai-sub001/internal/types"
)

// InMemoryGrantStore implements grant.Repository with the same conflict
// semantics as the SQL store, including the identity tuple uniqueness
type InMemoryGrantStore struct {
	mu     sync.RWMutex
	grants map[string]*grant.Grant
}

func NewInMemoryGrantStore() *InMemoryGrantStore {
	return &InMemoryGrantStore{
		grants: make(map[string]*grant.Grant),
	}
}

func (s *InMemoryGrantStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants = make(map[string]*grant.Grant)
}

func copyGrant(g *grant.Grant) *grant.Grant {
	clone := *g
	return &clone
}

func (s *InMemoryGrantStore) Create(ctx context.Context, g *grant.Grant) (*grant.Grant, error) {
	if g == nil {
		return nil, ierr.NewError("grant cannot be nil").
			Mark(ierr.ErrValidation)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.grants[g.ID]; exists {
		return nil, ierr.NewError("grant already exists").
			WithReportableDetails(map[string]any{"grant_id": g.ID}).
			Mark(ierr.ErrAlreadyExists)
	}
	for _, existing := range s.grants {
		if sameGrantIdentity(existing, g) {
			return nil, ierr.NewError("grant already exists").
				WithHint("A grant with the same identity already exists").
				WithReportableDetails(map[string]any{
					"subject_id":   g.SubjectID,
					"feature_slug": g.FeatureSlug,
				}).
				Mark(ierr.ErrAlreadyExists)
		}
	}

	s.grants[g.ID] = copyGrant(g)
	return copyGrant(g), nil
}

// sameGrantIdentity mirrors the grants_identity_key constraint
func sameGrantIdentity(a, b *grant.Grant) bool {
	if a.ProjectID != b.ProjectID ||
		a.SubjectType != b.SubjectType ||
		a.SubjectID != b.SubjectID ||
		a.FeaturePlanVersionID != b.FeaturePlanVersionID ||
		a.Type != b.Type {
		return false
	}
	if !a.EffectiveAt.Equal(b.EffectiveAt) {
		return false
	}
	if (a.ExpiresAt == nil) != (b.ExpiresAt == nil) {
		return false
	}
	return a.ExpiresAt == nil || a.ExpiresAt.Equal(*b.ExpiresAt)
}

func (s *InMemoryGrantStore) Get(ctx context.Context, id string) (*grant.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.grants[id]
	if !ok {
		return nil, ierr.NewErrorf("grant %s not found", id).
			Mark(ierr.ErrNotFound)
	}
	return copyGrant(g), nil
}

func (s *InMemoryGrantStore) Update(ctx context.Context, g *grant.Grant) (*grant.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.grants[g.ID]
	if !ok || existing.ProjectID != g.ProjectID {
		return nil, ierr.NewErrorf("grant %s not found", g.ID).
			Mark(ierr.ErrNotFound)
	}

	clone := copyGrant(g)
	clone.UpdatedAt = time.Now().UTC()
	s.grants[g.ID] = clone
	return copyGrant(clone), nil
}

func (s *InMemoryGrantStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.grants[id]
	if !ok {
		return ierr.NewErrorf("grant %s not found", id).
			Mark(ierr.ErrNotFound)
	}
	g.Deleted = true
	g.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemoryGrantStore) ListBySubjects(ctx context.Context, projectID string, subjects []types.GrantSubject, start time.Time, end *time.Time) ([]*grant.Grant, error) {
	if len(subjects) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*grant.Grant
	for _, g := range s.grants {
		if g.ProjectID != projectID || !g.Overlaps(start, end) {
			continue
		}
		for _, subject := range subjects {
			if g.SubjectType == subject.Type && g.SubjectID == subject.ID {
				out = append(out, copyGrant(g))
				break
			}
		}
	}
	sortGrantsByPriority(out)
	return out, nil
}

func (s *InMemoryGrantStore) ListOverlapping(ctx context.Context, projectID string, subject types.GrantSubject, featureSlug string, start time.Time, end *time.Time) ([]*grant.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*grant.Grant
	for _, g := range s.grants {
		if g.ProjectID != projectID ||
			g.SubjectType != subject.Type ||
			g.SubjectID != subject.ID ||
			g.FeatureSlug != featureSlug {
			continue
		}
		if g.Overlaps(start, end) {
			out = append(out, copyGrant(g))
		}
	}
	sortGrantsByPriority(out)
	return out, nil
}

func (s *InMemoryGrantStore) ListOverlappingByFeature(ctx context.Context, projectID, featureSlug string, start time.Time, end *time.Time) ([]*grant.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*grant.Grant
	for _, g := range s.grants {
		if g.ProjectID != projectID || g.FeatureSlug != featureSlug {
			continue
		}
		if g.Overlaps(start, end) {
			out = append(out, copyGrant(g))
		}
	}
	sortGrantsByPriority(out)
	return out, nil
}

func (s *InMemoryGrantStore) FindCovering(ctx context.Context, projectID, customerID, featurePlanVersionID string, start time.Time, end *time.Time) (*grant.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var candidates []*grant.Grant
	for _, g := range s.grants {
		if g.ProjectID != projectID ||
			g.SubjectType != types.GrantSubjectCustomer ||
			g.SubjectID != customerID ||
			g.FeaturePlanVersionID != featurePlanVersionID ||
			g.Deleted {
			continue
		}
		if g.EffectiveAt.After(start) {
			continue
		}
		if end != nil {
			if g.ExpiresAt != nil && g.ExpiresAt.Before(*end) {
				continue
			}
		} else if g.ExpiresAt != nil {
			continue
		}
		candidates = append(candidates, copyGrant(g))
	}
	if len(candidates) == 0 {
		return nil, ierr.NewError("no covering grant found").
			WithReportableDetails(map[string]any{
				"customer_id":             customerID,
				"feature_plan_version_id": featurePlanVersionID,
			}).
			Mark(ierr.ErrNotFound)
	}
	sortGrantsByPriority(candidates)
	return candidates[0], nil
}

func (s *InMemoryGrantStore) ListExpiring(ctx context.Context, projectID string, before time.Time) ([]*grant.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*grant.Grant
	for _, g := range s.grants {
		if g.ProjectID != projectID || g.Deleted || !g.AutoRenew {
			continue
		}
		if g.ExpiresAt == nil || g.ExpiresAt.After(before) {
			continue
		}
		out = append(out, copyGrant(g))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ExpiresAt.Equal(*out[j].ExpiresAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ExpiresAt.Before(*out[j].ExpiresAt)
	})
	return out, nil
}

func sortGrantsByPriority(grants []*grant.Grant) {
	sort.Slice(grants, func(i, j int) bool {
		if grants[i].Priority != grants[j].Priority {
			return grants[i].Priority > grants[j].Priority
		}
		return grants[i].ID < grants[j].ID
	})
}
