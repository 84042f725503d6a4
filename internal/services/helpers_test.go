package services

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qms-platform/signoff/internal/config"
	"github.com/qms-platform/signoff/internal/db"
	"github.com/qms-platform/signoff/internal/workflow"
	"github.com/qms-platform/signoff/pkg/metrics"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	database, err := db.Initialize(config.DatabaseConfig{
		Driver:   "sqlite",
		Path:     "file:" + uuid.NewString() + "?mode=memory&cache=shared",
		LogLevel: "silent",
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(database) })
	return database
}

func newTestDocumentService(t *testing.T, opts ...workflow.Option) (*DocumentService, *gorm.DB) {
	t.Helper()
	database := newTestDB(t)
	engine := workflow.NewEngine(opts...)
	svc := NewDocumentService(database, engine, zap.NewNop(), metrics.NewMetricsCollector(), ListLimits{Default: 2, Max: 3})
	return svc, database
}

var (
	creator = workflow.CallerIdentity{ID: "usr-qa", Username: "qa", FullName: "QA Lead", Role: "manager"}
	alice   = workflow.CallerIdentity{ID: "usr-alice", Username: "alice", FullName: "Alice"}
	bob     = workflow.CallerIdentity{ID: "usr-bob", Username: "bobby", Email: "bob@co.com"}
)

func qa001() workflow.CreateInput {
	return workflow.CreateInput{
		Title: "QA-001",
		Signers: []workflow.SignerInput{
			{Name: "Alice"},
			{Name: "Bob", Email: "bob@co.com"},
		},
	}
}

func fixedClock() workflow.Option {
	ts := time.Date(2024, 5, 2, 8, 0, 0, 0, time.UTC)
	return workflow.WithClock(func() time.Time { return ts })
}
