package metastore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/danthegoodman1/avrosplit/restriction"
)

type (
	claimKey struct {
		file string
		rng  restriction.ByteRange
	}

	// MemoryClaimStore is a ClaimStore for a single process.
	MemoryClaimStore struct {
		mu     sync.Mutex
		claims map[claimKey]Claim
		now    func() time.Time
	}
)

func NewMemoryClaimStore() *MemoryClaimStore {
	return &MemoryClaimStore{
		claims: make(map[claimKey]Claim),
		now:    time.Now,
	}
}

func (m *MemoryClaimStore) Claim(_ context.Context, file string, r restriction.ByteRange, owner string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.claims {
		if k.file == file && k.rng.Overlaps(r) {
			return false, nil
		}
	}
	m.claims[claimKey{file: file, rng: r}] = Claim{File: file, Range: r, Owner: owner, State: ClaimStateClaimed, UpdatedAt: m.now()}
	return true, nil
}

func (m *MemoryClaimStore) Complete(_ context.Context, file string, r restriction.ByteRange, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := claimKey{file: file, rng: r}
	c, exists := m.claims[k]
	if !exists || c.Owner != owner || c.State != ClaimStateClaimed {
		return ErrNotOwner
	}
	c.State = ClaimStateCompleted
	c.UpdatedAt = m.now()
	m.claims[k] = c
	return nil
}

func (m *MemoryClaimStore) Release(_ context.Context, file string, r restriction.ByteRange, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := claimKey{file: file, rng: r}
	c, exists := m.claims[k]
	if !exists {
		return nil
	}
	if c.Owner != owner || c.State != ClaimStateClaimed {
		return ErrNotOwner
	}
	delete(m.claims, k)
	return nil
}

// ListClaims returns the claims of a file ordered by range start.
func (m *MemoryClaimStore) ListClaims(_ context.Context, file string) ([]Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	claims := make([]Claim, 0)
	for k, c := range m.claims {
		if k.file == file {
			claims = append(claims, c)
		}
	}
	sortClaims(claims)
	return claims, nil
}

func (m *MemoryClaimStore) Shutdown(context.Context) error {
	return nil
}

func sortClaims(claims []Claim) {
	sort.Slice(claims, func(i, j int) bool {
		if claims[i].Range.From != claims[j].Range.From {
			return claims[i].Range.From < claims[j].Range.From
		}
		return claims[i].Range.To < claims[j].Range.To
	})
}
