// Package engine is the dynamic record engine. It runs the write pipeline
// (reconcile, compile, hash, canonical write, dump sync, cache
// invalidation) and the read pipeline (compile, cache, dump fetch, hashed
// resolution) for every record space operation.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/shelf/internal/dump"
	"github.com/mesh-intelligence/shelf/internal/hashed"
	"github.com/mesh-intelligence/shelf/internal/metrics"
	"github.com/mesh-intelligence/shelf/internal/qcache"
	"github.com/mesh-intelligence/shelf/internal/structure"
	"github.com/mesh-intelligence/shelf/pkg/types"
)

// reconcileAttempts bounds retries after losing a structure race.
const reconcileAttempts = 5

// Engine is safe for concurrent use. It holds no per-request state.
type Engine struct {
	spaces    *structure.Reconciler
	records   types.Collection
	dumps     types.Collection
	projector *dump.Projector
	resolver  *hashed.Resolver
	cache     *qcache.Cache
	logger    *zap.Logger

	autoCreate bool
	timeout    time.Duration

	now   func() time.Time
	newID func() string
}

// New wires an Engine over store and cacheDriver.
func New(store types.Store, cacheDriver types.CacheDriver, cfg types.Config, logger *zap.Logger) *Engine {
	return &Engine{
		spaces:     structure.NewReconciler(store.Collection(types.SpacesCollection)),
		records:    store.Collection(types.RecordsCollection),
		dumps:      store.Collection(types.DumpsCollection),
		projector:  dump.NewProjector(store.Collection(types.DumpsCollection), logger),
		resolver:   hashed.NewResolver(hashed.Bcrypt{Cost: cfg.HashCost}, cfg.HashedCandidateLimit),
		cache:      qcache.New(cacheDriver, cfg.CacheTTL, logger),
		logger:     logger,
		autoCreate: cfg.AutoCreateSpaces,
		timeout:    cfg.StorageTimeout,
		now:        func() time.Time { return time.Now().UTC().Truncate(time.Second) },
		newID:      newRecordID,
	}
}

func newRecordID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// withTimeout bounds ctx by the storage timeout unless the caller already
// set a deadline.
func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || e.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.timeout)
}

// invalidate drops the cached reads of space. A failure is logged by the
// cache; entries still expire after the TTL.
func (e *Engine) invalidate(ctx context.Context, tr *Trace, space *types.RecordSpace) {
	defer tr.Step("invalidate")()
	_ = e.cache.Invalidate(ctx, space.SpaceID)
}

// Error kinds counted by metrics.
var errorKinds = []struct {
	err  error
	kind string
}{
	{types.ErrUniqueViolation, "unique"},
	{types.ErrUnknownField, "unknown_field"},
	{types.ErrTypeMismatch, "type_mismatch"},
	{types.ErrRequiredOmitted, "required_omitted"},
	{types.ErrFieldNotAllowed, "not_allowed"},
	{types.ErrDuplicateSlug, "duplicate_slug"},
	{types.ErrNotSelective, "not_selective"},
	{types.ErrInvalidQuery, "invalid_query"},
}

func countCompileError(err error) {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			metrics.CompileError(k.kind)
			return
		}
	}
	metrics.CompileError("other")
}

func (e *Engine) debug(tr *Trace, msg string, fields ...zap.Field) {
	if ce := e.logger.Check(zap.DebugLevel, msg); ce != nil {
		ce.Write(append(tr.Fields(), fields...)...)
	}
}
