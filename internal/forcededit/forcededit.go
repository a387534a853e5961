// Package forcededit tracks provisional write access granted to a
// requester while a reservation is still waiting for the authority.
package forcededit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/catalogue-reservation/internal/model"
)

// ErrNothingToForce is returned when a grant is requested without a level.
var ErrNothingToForce = errors.New("forcededit: level is NONE")

// Manager grants and revokes forced editing.  Grant and Revoke are
// idempotent.
type Manager interface {
	Grant(ctx context.Context, ref model.CatalogueRef, requester string, level model.Level) error
	Revoke(ctx context.Context, ref model.CatalogueRef, requester string) error
	Lookup(ctx context.Context, ref model.CatalogueRef, requester string) (*model.ForcedGrant, error)
}

// IsGranted reports whether requester currently holds forced editing on ref.
func IsGranted(ctx context.Context, m Manager, ref model.CatalogueRef, requester string) (bool, error) {
	g, err := m.Lookup(ctx, ref, requester)
	return g != nil, err
}

// RedisManager keeps grants in Redis so every replica sees the same
// editing rights.  Grants never expire on their own: the action that
// issued one always revokes it.
type RedisManager struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisManager(rdb *redis.Client) *RedisManager {
	return &RedisManager{rdb: rdb, prefix: "forced"}
}

func (m *RedisManager) key(ref model.CatalogueRef, requester string) string {
	return fmt.Sprintf("%s:%s:%s:%s", m.prefix, ref.Code, ref.Version, requester)
}

func (m *RedisManager) Grant(ctx context.Context, ref model.CatalogueRef, requester string, level model.Level) error {
	if level == model.LevelNone {
		return ErrNothingToForce
	}
	b, err := json.Marshal(model.ForcedGrant{Catalogue: ref, Requester: requester, Level: level, GrantedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	// SETNX keeps the original grant time when a recovered action re-grants.
	return m.rdb.SetNX(ctx, m.key(ref, requester), b, 0).Err()
}

func (m *RedisManager) Revoke(ctx context.Context, ref model.CatalogueRef, requester string) error {
	return m.rdb.Del(ctx, m.key(ref, requester)).Err()
}

func (m *RedisManager) Lookup(ctx context.Context, ref model.CatalogueRef, requester string) (*model.ForcedGrant, error) {
	b, err := m.rdb.Get(ctx, m.key(ref, requester)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var g model.ForcedGrant
	if err := json.Unmarshal(b, &g); err != nil {
		return nil, fmt.Errorf("forcededit: decode grant: %w", err)
	}
	return &g, nil
}

// MemManager is the single-process Manager used when Redis is unavailable.
type MemManager struct {
	lk     sync.Mutex
	grants map[string]model.ForcedGrant
}

func NewMemManager() *MemManager {
	return &MemManager{grants: make(map[string]model.ForcedGrant)}
}

func memKey(ref model.CatalogueRef, requester string) string {
	return ref.String() + "/" + requester
}

func (m *MemManager) Grant(ctx context.Context, ref model.CatalogueRef, requester string, level model.Level) error {
	if level == model.LevelNone {
		return ErrNothingToForce
	}
	m.lk.Lock()
	defer m.lk.Unlock()
	k := memKey(ref, requester)
	if _, ok := m.grants[k]; !ok {
		m.grants[k] = model.ForcedGrant{Catalogue: ref, Requester: requester, Level: level, GrantedAt: time.Now().UTC()}
	}
	return nil
}

func (m *MemManager) Revoke(ctx context.Context, ref model.CatalogueRef, requester string) error {
	m.lk.Lock()
	defer m.lk.Unlock()
	delete(m.grants, memKey(ref, requester))
	return nil
}

func (m *MemManager) Lookup(ctx context.Context, ref model.CatalogueRef, requester string) (*model.ForcedGrant, error) {
	m.lk.Lock()
	defer m.lk.Unlock()
	g, ok := m.grants[memKey(ref, requester)]
	if !ok {
		return nil, nil
	}
	return &g, nil
}
