package broker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/querydeck/backend/internal/config"
	"github.com/querydeck/backend/internal/models"
	"github.com/querydeck/backend/pkg/logger"
	"github.com/querydeck/backend/pkg/response"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

// Builder opens a validated handle for one registered database.
type Builder func(d *models.ProjectDatabase, cfg *config.BrokerConfig) (Handle, error)

func defaultBuilders() map[models.DatabaseType]Builder {
	return map[models.DatabaseType]Builder{
		models.DBTypePostgreSQL: func(d *models.ProjectDatabase, cfg *config.BrokerConfig) (Handle, error) {
			return openSQLHandle(postgresDialector(d, cfg), models.DBTypePostgreSQL, cfg)
		},
		models.DBTypeMySQL: func(d *models.ProjectDatabase, cfg *config.BrokerConfig) (Handle, error) {
			return openSQLHandle(mysqlDialector(d, cfg), models.DBTypeMySQL, cfg)
		},
		models.DBTypeMSSQL: func(d *models.ProjectDatabase, cfg *config.BrokerConfig) (Handle, error) {
			return openSQLHandle(sqlserverDialector(d, cfg), models.DBTypeMSSQL, cfg)
		},
		models.DBTypeSQLite: func(d *models.ProjectDatabase, cfg *config.BrokerConfig) (Handle, error) {
			return openSQLHandle(sqliteDialector(d), models.DBTypeSQLite, cfg)
		},
		models.DBTypeMongoDB: openMongoHandle,
	}
}

// Key identifies a cached handle.
type Key struct {
	ProjectID  uint
	DatabaseID uint
}

// Broker caches live handles to tenant-registered databases, keyed by
// (project, database). It is constructed once and passed to consumers
// explicitly; there is no package-level instance.
type Broker struct {
	db       *gorm.DB
	cfg      *config.BrokerConfig
	builders map[models.DatabaseType]Builder

	mu      sync.RWMutex
	handles map[Key]Handle
	group   singleflight.Group
}

func New(db *gorm.DB, cfg *config.BrokerConfig) *Broker {
	return &Broker{
		db:       db,
		cfg:      cfg,
		builders: defaultBuilders(),
		handles:  make(map[Key]Handle),
	}
}

// RegisterBuilder installs or replaces the builder for an engine type.
// Adding an engine never touches call sites.
func (b *Broker) RegisterBuilder(t models.DatabaseType, builder Builder) {
	b.builders[t] = builder
}

// Errors

var ErrDatabaseNotFound = response.NewKind(http.StatusNotFound, response.KindDatabaseNotFound, "database not registered for this project")

func errUnsupportedType(t models.DatabaseType) *response.AppError {
	return response.NewKind(http.StatusBadRequest, response.KindUnsupportedDBType,
		fmt.Sprintf("unsupported database type %q", t))
}

func errConnectionFailed(cause error) *response.AppError {
	return response.NewRetryable(http.StatusBadGateway, response.KindConnectionFailed,
		"failed to connect to the target database").WithCause(cause)
}

func errTimeout(cause error) *response.AppError {
	return response.NewRetryable(http.StatusGatewayTimeout, response.KindTimeout,
		"target database did not respond in time").WithCause(cause)
}

// Get returns a live handle for the given (project, database) pair,
// reusing a cached one when present. Concurrent first-access for the same
// key shares a single build via singleflight. A freshly built handle is
// validated with a ping round trip before it is cached; broken handles
// are discarded, never cached.
func (b *Broker) Get(ctx context.Context, projectID, databaseID uint) (Handle, error) {
	key := Key{ProjectID: projectID, DatabaseID: databaseID}

	b.mu.RLock()
	if h, ok := b.handles[key]; ok {
		b.mu.RUnlock()
		return h, nil
	}
	b.mu.RUnlock()

	flightKey := fmt.Sprintf("%d:%d", projectID, databaseID)
	v, err, _ := b.group.Do(flightKey, func() (interface{}, error) {
		// Re-check under the flight: a concurrent caller may have built it.
		b.mu.RLock()
		if h, ok := b.handles[key]; ok {
			b.mu.RUnlock()
			return h, nil
		}
		b.mu.RUnlock()

		// The build is broker-owned: detach it from the first caller's
		// cancellation so an aborted request cannot fail the flight for
		// concurrent waiters. The connect timeout still bounds it.
		handle, err := b.build(context.WithoutCancel(ctx), key)
		if err != nil {
			return nil, err
		}

		b.mu.Lock()
		b.handles[key] = handle
		b.mu.Unlock()
		return handle, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Handle), nil
}

func (b *Broker) build(ctx context.Context, key Key) (Handle, error) {
	var record models.ProjectDatabase
	err := b.db.WithContext(ctx).
		Where("id = ? AND project_id = ? AND is_active = ?", key.DatabaseID, key.ProjectID, true).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDatabaseNotFound
		}
		return nil, err
	}

	builder, ok := b.builders[record.Type]
	if !ok {
		// Rejected before any network attempt.
		return nil, errUnsupportedType(record.Type)
	}

	connectCtx, cancel := context.WithTimeout(ctx, time.Duration(b.cfg.ConnectTimeoutSeconds)*time.Second)
	defer cancel()

	handle, err := builder(&record, b.cfg)
	if err != nil {
		return nil, classifyConnError(err)
	}

	if err := handle.Ping(connectCtx); err != nil {
		// Validation failed: discard, never cache.
		if closeErr := handle.Close(); closeErr != nil {
			logger.Warn().Err(closeErr).
				Uint("project_id", key.ProjectID).
				Uint("database_id", key.DatabaseID).
				Msg("failed to close broken handle")
		}
		return nil, classifyConnError(err)
	}

	logger.Info().
		Uint("project_id", key.ProjectID).
		Uint("database_id", key.DatabaseID).
		Str("type", string(record.Type)).
		Msg("database handle opened")

	return handle, nil
}

func classifyConnError(err error) error {
	// The mongo driver wraps deadline expiry in topology and server
	// selection errors that don't unwrap to context.DeadlineExceeded.
	if errors.Is(err, context.DeadlineExceeded) || mongo.IsTimeout(err) {
		return errTimeout(err)
	}
	return errConnectionFailed(err)
}

// Test builds and validates a throwaway handle for a database record
// without touching the cache. Used by the "test connection" endpoint and
// at registration time.
func (b *Broker) Test(ctx context.Context, record *models.ProjectDatabase) error {
	if !record.Type.Valid() {
		return errUnsupportedType(record.Type)
	}
	builder, ok := b.builders[record.Type]
	if !ok {
		return errUnsupportedType(record.Type)
	}

	connectCtx, cancel := context.WithTimeout(ctx, time.Duration(b.cfg.ConnectTimeoutSeconds)*time.Second)
	defer cancel()

	handle, err := builder(record, b.cfg)
	if err != nil {
		return classifyConnError(err)
	}
	defer handle.Close()

	if err := handle.Ping(connectCtx); err != nil {
		return classifyConnError(err)
	}
	return nil
}

// Invalidate closes and evicts the handle for a key, if cached. Called
// when a registered database is updated or removed.
func (b *Broker) Invalidate(projectID, databaseID uint) {
	key := Key{ProjectID: projectID, DatabaseID: databaseID}

	b.mu.Lock()
	handle, ok := b.handles[key]
	if ok {
		delete(b.handles, key)
	}
	b.mu.Unlock()

	if ok {
		if err := handle.Close(); err != nil {
			logger.Warn().Err(err).
				Uint("project_id", projectID).
				Uint("database_id", databaseID).
				Msg("failed to close evicted handle")
		}
	}
}

// ShutdownAll closes every cached handle and clears the cache. Safe to
// call more than once; a failing close never aborts closing the rest.
func (b *Broker) ShutdownAll() {
	b.mu.Lock()
	handles := b.handles
	b.handles = make(map[Key]Handle)
	b.mu.Unlock()

	for key, handle := range handles {
		if err := handle.Close(); err != nil {
			logger.Warn().Err(err).
				Uint("project_id", key.ProjectID).
				Uint("database_id", key.DatabaseID).
				Msg("failed to close handle during shutdown")
			continue
		}
	}

	if len(handles) > 0 {
		logger.Info().Int("count", len(handles)).Msg("connection broker shut down")
	}
}

// Size returns the number of cached handles.
func (b *Broker) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handles)
}
