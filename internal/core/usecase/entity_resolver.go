package usecase

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kirillkom/docflow/internal/core/domain"
	"github.com/kirillkom/docflow/internal/core/ports"
)

const (
	DefaultLabelTTL = 30 * time.Second
	DefaultFieldTTL = 10 * time.Minute
)

type entityCache struct {
	ttl         time.Duration
	refreshedAt time.Time
	byName      map[string]domain.Entity
	byID        map[int64]domain.Entity
}

func (c *entityCache) fresh(now time.Time) bool {
	return c.byName != nil && now.Sub(c.refreshedAt) < c.ttl
}

func (c *entityCache) put(e domain.Entity) {
	if c.byName == nil {
		c.byName = make(map[string]domain.Entity)
		c.byID = make(map[int64]domain.Entity)
	}
	c.byName[normalizeName(e.Name)] = e
	c.byID[e.ID] = e
}

// EntityResolver maps entity names to store ids with a per-kind TTL cache.
type EntityResolver struct {
	store  ports.EntityStore
	logger *zap.SugaredLogger
	now    func() time.Time

	mu     sync.Mutex
	caches map[domain.EntityKind]*entityCache
	group  singleflight.Group
}

func NewEntityResolver(store ports.EntityStore, labelTTL, fieldTTL time.Duration, logger *zap.SugaredLogger) *EntityResolver {
	if labelTTL <= 0 {
		labelTTL = DefaultLabelTTL
	}
	if fieldTTL <= 0 {
		fieldTTL = DefaultFieldTTL
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &EntityResolver{
		store:  store,
		logger: logger.Named("resolver"),
		now:    time.Now,
		caches: map[domain.EntityKind]*entityCache{
			domain.EntityTag:           {ttl: labelTTL},
			domain.EntityCorrespondent: {ttl: labelTTL},
			domain.EntityCustomField:   {ttl: fieldTTL},
		},
	}
}

// Resolve looks a name up in the cache, then directly in the store. found is false
// when neither knows the name.
func (r *EntityResolver) Resolve(ctx context.Context, kind domain.EntityKind, name string) (int64, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, false, domain.WrapError(domain.ErrInvalidInput, "resolve entity", errors.New("empty name"))
	}
	if err := r.ensureFresh(ctx, kind, false); err != nil {
		if domain.IsKind(err, domain.ErrInvalidInput) {
			return 0, false, err
		}
		r.logger.Warnw("refresh entity cache failed, querying store directly", "kind", kind, "error", err)
	} else if e, ok := r.cached(kind, name); ok {
		return e.ID, true, nil
	}

	found, err := r.store.FindEntity(ctx, kind, name)
	if err != nil {
		return 0, false, errors.Wrapf(err, "find %s %q", kind, name)
	}
	if found == nil {
		return 0, false, nil
	}
	r.remember(kind, *found)
	return found.ID, true, nil
}

// Ensure returns the id for name, creating the entity if needed. A create that loses
// a race against another writer refreshes the cache and resolves the winner's id.
func (r *EntityResolver) Ensure(ctx context.Context, kind domain.EntityKind, name string, attrs map[string]any) (int64, error) {
	name = strings.TrimSpace(name)
	key := string(kind) + "\x00" + normalizeName(name)
	v, err, _ := r.group.Do(key, func() (any, error) {
		return r.ensure(ctx, kind, name, attrs)
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

func (r *EntityResolver) ensure(ctx context.Context, kind domain.EntityKind, name string, attrs map[string]any) (int64, error) {
	id, found, err := r.Resolve(ctx, kind, name)
	if err != nil {
		return 0, err
	}
	if found {
		return id, nil
	}

	created, err := r.store.CreateEntity(ctx, kind, name, attrs)
	if err == nil {
		r.remember(kind, *created)
		r.logger.Infow("entity created", "kind", kind, "name", name, "id", created.ID)
		return created.ID, nil
	}
	if !domain.IsKind(err, domain.ErrConflict) {
		return 0, errors.Wrapf(err, "create %s %q", kind, name)
	}

	r.logger.Debugw("entity create conflict, refreshing", "kind", kind, "name", name)
	if refreshErr := r.ensureFresh(ctx, kind, true); refreshErr != nil {
		return 0, refreshErr
	}
	if e, ok := r.cached(kind, name); ok {
		return e.ID, nil
	}
	found2, findErr := r.store.FindEntity(ctx, kind, name)
	if findErr != nil {
		return 0, errors.Wrapf(findErr, "find %s %q after conflict", kind, name)
	}
	if found2 != nil {
		r.remember(kind, *found2)
		return found2.ID, nil
	}
	return 0, errors.Wrapf(err, "create %s %q", kind, name)
}

// Names maps ids to names in input order. An unknown id forces one refresh; ids the
// store does not know are dropped.
func (r *EntityResolver) Names(ctx context.Context, kind domain.EntityKind, ids []int64) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if err := r.ensureFresh(ctx, kind, false); err != nil {
		return nil, err
	}
	if !r.knowsAll(kind, ids) {
		if err := r.ensureFresh(ctx, kind, true); err != nil {
			return nil, err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	cache := r.caches[kind]
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		if e, ok := cache.byID[id]; ok {
			names = append(names, e.Name)
		}
	}
	return names, nil
}

// Invalidate drops the cached entries for a kind.
func (r *EntityResolver) Invalidate(kind domain.EntityKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cache, ok := r.caches[kind]; ok {
		cache.byName = nil
		cache.byID = nil
	}
}

func (r *EntityResolver) ensureFresh(ctx context.Context, kind domain.EntityKind, force bool) error {
	r.mu.Lock()
	cache, ok := r.caches[kind]
	if !ok {
		r.mu.Unlock()
		return domain.WrapError(domain.ErrInvalidInput, "resolve entity", errors.Newf("unknown entity kind %q", kind))
	}
	if !force && cache.fresh(r.now()) {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	entities, err := r.store.ListEntities(ctx, kind)
	if err != nil {
		return errors.Wrapf(err, "list %s entities", kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	cache.byName = make(map[string]domain.Entity, len(entities))
	cache.byID = make(map[int64]domain.Entity, len(entities))
	for _, e := range entities {
		cache.put(e)
	}
	cache.refreshedAt = r.now()
	return nil
}

func (r *EntityResolver) cached(kind domain.EntityKind, name string) (domain.Entity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.caches[kind].byName[normalizeName(name)]
	return e, ok
}

func (r *EntityResolver) remember(kind domain.EntityKind, e domain.Entity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.caches[kind].put(e)
}

func (r *EntityResolver) knowsAll(kind domain.EntityKind, ids []int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cache := r.caches[kind]
	for _, id := range ids {
		if _, ok := cache.byID[id]; !ok {
			return false
		}
	}
	return true
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
