package aggregator

import (
	"context"
	"sync"

	"github.com/peytonrunyan/commwatch/internal/model"
)

// fakePendingStore is an in-memory PendingStore with the same
// conditional-write semantics as the real store.
type fakePendingStore struct {
	mu      sync.Mutex
	records map[string]*model.PendingNotification

	getErr     error
	upsertErr  error
	upserts    int
	conflictsN int // force ErrConflict on the first N upserts
}

func newFakePendingStore() *fakePendingStore {
	return &fakePendingStore{records: make(map[string]*model.PendingNotification)}
}

func (f *fakePendingStore) Get(_ context.Context, ruleID string) (*model.PendingNotification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	p, ok := f.records[ruleID]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakePendingStore) ConditionalUpsert(_ context.Context, p *model.PendingNotification, expectedVersion int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.upserts++
	if f.upsertErr != nil {
		return f.upsertErr
	}
	if f.conflictsN > 0 {
		f.conflictsN--
		// A competing writer landed first: bump the stored version so the
		// retry has something new to merge against.
		if existing, ok := f.records[p.RuleID]; ok {
			existing.Version++
		} else {
			f.records[p.RuleID] = &model.PendingNotification{
				RuleID:            p.RuleID,
				TenantID:          p.TenantID,
				OwnerID:           p.OwnerID,
				CommunicationType: p.CommunicationType,
				FirstSeenAt:       p.FirstSeenAt,
				CommunicationIDs:  []string{"c-racer"},
				Reasons:           []string{"raced"},
				LatestState:       map[string]any{},
				Version:           1,
			}
		}
		return model.ErrConflict
	}

	existing, ok := f.records[p.RuleID]
	if expectedVersion == 0 {
		if ok {
			return model.ErrConflict
		}
	} else {
		if !ok || existing.Version != expectedVersion {
			return model.ErrConflict
		}
	}

	cp := *p
	cp.Version = expectedVersion + 1
	f.records[p.RuleID] = &cp
	p.Version = cp.Version
	return nil
}
