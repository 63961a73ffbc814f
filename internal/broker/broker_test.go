package broker

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/querydeck/backend/internal/config"
	"github.com/querydeck/backend/internal/models"
	"github.com/querydeck/backend/pkg/response"
	"go.mongodb.org/mongo-driver/mongo"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type fakeHandle struct {
	id      int
	pingErr error

	mu         sync.Mutex
	closeCount int
	closeErr   error
}

func (f *fakeHandle) Ping(ctx context.Context) error { return f.pingErr }

func (f *fakeHandle) Query(ctx context.Context, query string, params []interface{}) (*Rows, error) {
	return &Rows{Columns: []string{"ok"}, Data: []map[string]interface{}{{"ok": 1}}}, nil
}

func (f *fakeHandle) Exec(ctx context.Context, query string, params []interface{}) (int64, error) {
	return 1, nil
}

func (f *fakeHandle) Schema(ctx context.Context) ([]TableSchema, error) {
	return []TableSchema{{Name: "t", Columns: []ColumnSchema{{Name: "id", Type: "int"}}}}, nil
}

func (f *fakeHandle) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCount++
	return f.closeErr
}

func (f *fakeHandle) closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCount
}

func testStore(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	if err := db.AutoMigrate(&models.ProjectDatabase{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func testBroker(t *testing.T) (*Broker, *gorm.DB) {
	t.Helper()
	db := testStore(t)
	cfg := &config.BrokerConfig{
		MaxOpenConns:          5,
		MaxIdleConns:          2,
		ConnectTimeoutSeconds: 5,
		QueryTimeoutSeconds:   5,
	}
	return New(db, cfg), db
}

func registerDatabase(t *testing.T, db *gorm.DB, projectID uint, dbType models.DatabaseType) *models.ProjectDatabase {
	t.Helper()
	record := &models.ProjectDatabase{
		ProjectID:    projectID,
		Name:         "target",
		Type:         dbType,
		Host:         "db.internal",
		DatabaseName: "appdb",
		IsActive:     true,
	}
	if err := db.Create(record).Error; err != nil {
		t.Fatalf("failed to create database record: %v", err)
	}
	return record
}

func TestGet_CachesHandle(t *testing.T) {
	b, db := testBroker(t)
	record := registerDatabase(t, db, 1, models.DBTypePostgreSQL)

	var builds int32
	b.RegisterBuilder(models.DBTypePostgreSQL, func(d *models.ProjectDatabase, cfg *config.BrokerConfig) (Handle, error) {
		return &fakeHandle{id: int(atomic.AddInt32(&builds, 1))}, nil
	})

	h1, err := b.Get(context.Background(), 1, record.ID)
	if err != nil {
		t.Fatalf("first Get() error = %v", err)
	}
	h2, err := b.Get(context.Background(), 1, record.ID)
	if err != nil {
		t.Fatalf("second Get() error = %v", err)
	}

	if h1 != h2 {
		t.Error("second Get must return the identical cached handle")
	}
	if builds != 1 {
		t.Errorf("builder ran %d times, expected 1", builds)
	}
}

func TestGet_DatabaseNotFound(t *testing.T) {
	b, _ := testBroker(t)

	_, err := b.Get(context.Background(), 1, 999)
	if err == nil {
		t.Fatal("Get() should fail for unknown database")
	}

	var appErr *response.AppError
	if !errors.As(err, &appErr) || appErr.Kind != response.KindDatabaseNotFound {
		t.Errorf("expected database_not_found, got %v", err)
	}
	if b.Size() != 0 {
		t.Error("failed lookup must not add a cache entry")
	}
}

func TestGet_WrongProject(t *testing.T) {
	b, db := testBroker(t)
	record := registerDatabase(t, db, 1, models.DBTypePostgreSQL)

	// Database belongs to project 1; project 2 must not reach it.
	_, err := b.Get(context.Background(), 2, record.ID)
	var appErr *response.AppError
	if !errors.As(err, &appErr) || appErr.Kind != response.KindDatabaseNotFound {
		t.Errorf("expected database_not_found for cross-project access, got %v", err)
	}
}

func TestGet_PingFailureDiscardsHandle(t *testing.T) {
	b, db := testBroker(t)
	record := registerDatabase(t, db, 1, models.DBTypeMySQL)

	broken := &fakeHandle{pingErr: errors.New("connection refused")}
	b.RegisterBuilder(models.DBTypeMySQL, func(d *models.ProjectDatabase, cfg *config.BrokerConfig) (Handle, error) {
		return broken, nil
	})

	_, err := b.Get(context.Background(), 1, record.ID)
	if err == nil {
		t.Fatal("Get() should fail when validation ping fails")
	}

	var appErr *response.AppError
	if !errors.As(err, &appErr) || appErr.Kind != response.KindConnectionFailed {
		t.Errorf("expected connection_failed, got %v", err)
	}
	if !appErr.Retryable {
		t.Error("connection_failed must be retryable")
	}
	if broken.closes() != 1 {
		t.Errorf("broken handle closed %d times, expected 1", broken.closes())
	}
	if b.Size() != 0 {
		t.Error("broken handle must not be cached")
	}
}

func TestGet_TimeoutKind(t *testing.T) {
	b, db := testBroker(t)
	record := registerDatabase(t, db, 1, models.DBTypeMySQL)

	b.RegisterBuilder(models.DBTypeMySQL, func(d *models.ProjectDatabase, cfg *config.BrokerConfig) (Handle, error) {
		return &fakeHandle{pingErr: context.DeadlineExceeded}, nil
	})

	_, err := b.Get(context.Background(), 1, record.ID)
	var appErr *response.AppError
	if !errors.As(err, &appErr) || appErr.Kind != response.KindTimeout {
		t.Errorf("expected timeout kind, got %v", err)
	}
	if !appErr.Retryable {
		t.Error("timeout must be retryable")
	}
}

func TestGet_StalledTargetBoundedByConnectTimeout(t *testing.T) {
	// A target that accepts TCP but never speaks the server protocol: the
	// configured connect timeout must bound the whole build, not leave the
	// caller hanging in the driver handshake.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	db := testStore(t)
	b := New(db, &config.BrokerConfig{
		MaxOpenConns:          5,
		MaxIdleConns:          2,
		ConnectTimeoutSeconds: 1,
		QueryTimeoutSeconds:   5,
	})

	record := &models.ProjectDatabase{
		ProjectID:    1,
		Name:         "stalled",
		Type:         models.DBTypeMySQL,
		Host:         "127.0.0.1",
		Port:         ln.Addr().(*net.TCPAddr).Port,
		Username:     "root",
		DatabaseName: "appdb",
		IsActive:     true,
	}
	if err := db.Create(record).Error; err != nil {
		t.Fatalf("failed to create database record: %v", err)
	}

	start := time.Now()
	_, err = b.Get(context.Background(), 1, record.ID)
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("Get() should fail against a stalled target")
	}
	var appErr *response.AppError
	if !errors.As(err, &appErr) || appErr.Kind != response.KindTimeout {
		t.Errorf("expected timeout kind, got %v", err)
	}
	if elapsed > 4*time.Second {
		t.Errorf("Get took %v with a 1s connect timeout", elapsed)
	}
	if b.Size() != 0 {
		t.Error("timed-out build must not add a cache entry")
	}
}

func TestGet_CanceledCallerDoesNotFailBuild(t *testing.T) {
	b, db := testBroker(t)
	record := registerDatabase(t, db, 1, models.DBTypePostgreSQL)

	b.RegisterBuilder(models.DBTypePostgreSQL, func(d *models.ProjectDatabase, cfg *config.BrokerConfig) (Handle, error) {
		return &fakeHandle{}, nil
	})

	// The build runs detached from the caller's context: a caller that has
	// already given up must not poison the flight for waiters on the same key.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h, err := b.Get(ctx, 1, record.ID)
	if err != nil {
		t.Fatalf("Get() with canceled caller context error = %v", err)
	}
	if h == nil {
		t.Fatal("Get() returned no handle")
	}
	if b.Size() != 1 {
		t.Error("build should complete and cache despite caller cancellation")
	}
}

func TestClassifyConnError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		kind string
	}{
		{"context deadline", context.DeadlineExceeded, response.KindTimeout},
		{"mongo max time", mongo.CommandError{Name: "MaxTimeMSExpired"}, response.KindTimeout},
		{"net deadline", os.ErrDeadlineExceeded, response.KindTimeout},
		{"refused", errors.New("connection refused"), response.KindConnectionFailed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var appErr *response.AppError
			if !errors.As(classifyConnError(tc.err), &appErr) {
				t.Fatal("classifyConnError must return an AppError")
			}
			if appErr.Kind != tc.kind {
				t.Errorf("kind = %s, expected %s", appErr.Kind, tc.kind)
			}
			if !appErr.Retryable {
				t.Error("connection classification errors are retryable")
			}
		})
	}
}

func TestGet_UnsupportedType(t *testing.T) {
	b, db := testBroker(t)

	// Bypass validation on write to simulate a stale row.
	record := registerDatabase(t, db, 1, models.DBTypePostgreSQL)
	db.Model(record).Update("type", "oracle")

	_, err := b.Get(context.Background(), 1, record.ID)
	var appErr *response.AppError
	if !errors.As(err, &appErr) || appErr.Kind != response.KindUnsupportedDBType {
		t.Errorf("expected unsupported_database_type, got %v", err)
	}
}

func TestGet_SingleFlight(t *testing.T) {
	b, db := testBroker(t)
	record := registerDatabase(t, db, 1, models.DBTypePostgreSQL)

	var builds int32
	release := make(chan struct{})
	b.RegisterBuilder(models.DBTypePostgreSQL, func(d *models.ProjectDatabase, cfg *config.BrokerConfig) (Handle, error) {
		atomic.AddInt32(&builds, 1)
		<-release
		return &fakeHandle{}, nil
	})

	const callers = 8
	var wg sync.WaitGroup
	handles := make([]Handle, callers)
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			h, err := b.Get(context.Background(), 1, record.ID)
			if err != nil {
				t.Errorf("Get() error = %v", err)
				return
			}
			handles[i] = h
		}(i)
	}

	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&builds); got != 1 {
		t.Errorf("builder ran %d times under concurrency, expected 1", got)
	}
	for i := 1; i < callers; i++ {
		if handles[i] != handles[0] {
			t.Error("concurrent callers must share the same handle")
			break
		}
	}
}

func TestShutdownAll(t *testing.T) {
	b, db := testBroker(t)
	record := registerDatabase(t, db, 1, models.DBTypePostgreSQL)

	var builds int32
	var built []*fakeHandle
	b.RegisterBuilder(models.DBTypePostgreSQL, func(d *models.ProjectDatabase, cfg *config.BrokerConfig) (Handle, error) {
		atomic.AddInt32(&builds, 1)
		h := &fakeHandle{id: int(builds)}
		built = append(built, h)
		return h, nil
	})

	h1, err := b.Get(context.Background(), 1, record.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	b.ShutdownAll()
	if b.Size() != 0 {
		t.Error("cache should be empty after shutdown")
	}
	if built[0].closes() != 1 {
		t.Errorf("handle closed %d times, expected 1", built[0].closes())
	}

	// Idempotent
	b.ShutdownAll()
	if built[0].closes() != 1 {
		t.Error("second shutdown must not close handles again")
	}

	// Next Get builds a fresh handle
	h2, err := b.Get(context.Background(), 1, record.ID)
	if err != nil {
		t.Fatalf("Get() after shutdown error = %v", err)
	}
	if h1 == h2 {
		t.Error("Get after shutdown must build a fresh handle")
	}
	if builds != 2 {
		t.Errorf("builder ran %d times, expected 2", builds)
	}
}

func TestShutdownAll_CloseFailureContinues(t *testing.T) {
	b, db := testBroker(t)
	rec1 := registerDatabase(t, db, 1, models.DBTypePostgreSQL)
	rec2 := registerDatabase(t, db, 2, models.DBTypePostgreSQL)

	failing := &fakeHandle{closeErr: errors.New("close failed")}
	healthy := &fakeHandle{}
	handlesByProject := map[uint]*fakeHandle{1: failing, 2: healthy}
	b.RegisterBuilder(models.DBTypePostgreSQL, func(d *models.ProjectDatabase, cfg *config.BrokerConfig) (Handle, error) {
		return handlesByProject[d.ProjectID], nil
	})

	if _, err := b.Get(context.Background(), 1, rec1.ID); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if _, err := b.Get(context.Background(), 2, rec2.ID); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	b.ShutdownAll()

	if healthy.closes() != 1 {
		t.Error("a failing close must not prevent closing the remaining handles")
	}
	if b.Size() != 0 {
		t.Error("cache should be cleared even when a close fails")
	}
}

func TestInvalidate(t *testing.T) {
	b, db := testBroker(t)
	record := registerDatabase(t, db, 1, models.DBTypePostgreSQL)

	h := &fakeHandle{}
	b.RegisterBuilder(models.DBTypePostgreSQL, func(d *models.ProjectDatabase, cfg *config.BrokerConfig) (Handle, error) {
		return h, nil
	})

	if _, err := b.Get(context.Background(), 1, record.ID); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	b.Invalidate(1, record.ID)
	if h.closes() != 1 {
		t.Errorf("invalidated handle closed %d times, expected 1", h.closes())
	}
	if b.Size() != 0 {
		t.Error("invalidate should evict the cache entry")
	}

	// Unknown key is a no-op
	b.Invalidate(9, 9)
}

func TestTest_UnsupportedTypeBeforeNetwork(t *testing.T) {
	b, _ := testBroker(t)

	err := b.Test(context.Background(), &models.ProjectDatabase{Type: "oracle"})
	var appErr *response.AppError
	if !errors.As(err, &appErr) || appErr.Kind != response.KindUnsupportedDBType {
		t.Errorf("expected unsupported_database_type, got %v", err)
	}
}
