package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"leaflens/auth"
	"leaflens/models"
	"leaflens/storage"
)

var (
	farmer = &auth.Identity{UserID: 7, Username: "farmer"}
	other  = &auth.Identity{UserID: 8, Username: "neighbour"}
	admin  = &auth.Identity{UserID: 1, Username: "admin", IsAdmin: true}
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "test.db") + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&models.Disease{}, &models.Prediction{}, &models.Suggestion{}))
	return db
}

func createDisease(t *testing.T, db *gorm.DB, name string, doc models.KnowledgeDocument) *models.Disease {
	t.Helper()
	d := &models.Disease{Name: name, Document: models.NewDocument(doc)}
	require.NoError(t, db.Create(d).Error)
	return d
}

func reloadDisease(t *testing.T, db *gorm.DB, id uint) models.KnowledgeDocument {
	t.Helper()
	var d models.Disease
	require.NoError(t, db.First(&d, id).Error)
	return d.Document.Data()
}

// countingStore zählt Schreibzugriffe auf die darunterliegende Ablage.
type countingStore struct {
	storage.ImageStore
	mu    sync.Mutex
	saves int
	err   error
}

func (s *countingStore) Save(ctx context.Context, key string, data []byte) (string, error) {
	s.mu.Lock()
	s.saves++
	s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	return s.ImageStore.Save(ctx, key, data)
}

func newCountingStore(t *testing.T) *countingStore {
	t.Helper()
	return &countingStore{ImageStore: storage.NewLocalStore(t.TempDir(), "/media")}
}

type fakeGate struct {
	admit bool
	calls int
	seen  []byte
}

func (g *fakeGate) Admit(_ context.Context, image []byte) bool {
	g.calls++
	g.seen = image
	return g.admit
}

type fakeClassifier struct {
	label  string
	scores map[string]float64
	err    error
	calls  int
}

func (c *fakeClassifier) Classify(context.Context, []byte) (string, map[string]float64, error) {
	c.calls++
	return c.label, c.scores, c.err
}

func testLogger() *zap.Logger {
	return zap.NewNop()
}
