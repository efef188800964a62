package cron

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/library-catalog/pkg/db"
	"github.com/angelmondragon/library-catalog/pkg/db/models"
	"github.com/angelmondragon/library-catalog/pkg/enums"
	"github.com/angelmondragon/library-catalog/pkg/outbox"
)

func TestOutboxRetentionJobUsesRetentionWindow(t *testing.T) {
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	repo := &fakeOutboxRetentionRepo{}
	job := newOutboxRetentionJob(t, repo, outboxRetentionTxRunner{}, 7)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	expectedCutoff := now.Add(-7 * 24 * time.Hour)
	if !repo.lastCutoff.Equal(expectedCutoff) {
		t.Fatalf("expected cutoff %s, got %s", expectedCutoff, repo.lastCutoff)
	}
	if repo.called != 1 {
		t.Fatalf("expected repo called once, got %d", repo.called)
	}
}

func TestOutboxRetentionJobDefaultsRetention(t *testing.T) {
	job := newOutboxRetentionJob(t, &fakeOutboxRetentionRepo{}, outboxRetentionTxRunner{}, 0)
	if job.retention != outboxRetentionDays {
		t.Fatalf("expected default retention %d, got %d", outboxRetentionDays, job.retention)
	}
}

func TestOutboxRetentionJobPropagatesError(t *testing.T) {
	repo := &fakeOutboxRetentionRepo{err: errors.New("boom")}
	job := newOutboxRetentionJob(t, repo, outboxRetentionTxRunner{}, 0)

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestOutboxRetentionJobKeepsPendingAndFailedRows(t *testing.T) {
	conn := newCronTestDB(t)
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	old := now.Add(-60 * 24 * time.Hour)

	oldPublished := seedOutboxRow(t, conn, enums.OutboxStatusPublished, old, &old)
	recent := now.Add(-time.Hour)
	recentPublished := seedOutboxRow(t, conn, enums.OutboxStatusPublished, recent, &recent)
	oldPending := seedOutboxRow(t, conn, enums.OutboxStatusPending, old, nil)
	oldFailed := seedOutboxRow(t, conn, enums.OutboxStatusFailed, old, nil)

	job := newOutboxRetentionJob(t, outbox.NewRepository(conn), db.NewWithConn(conn), 30)
	job.now = func() time.Time { return now }
	require.NoError(t, job.Run(context.Background()))

	var remaining []uuid.UUID
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Order("created_at").Pluck("id", &remaining).Error)
	require.ElementsMatch(t, []uuid.UUID{recentPublished, oldPending, oldFailed}, remaining)
	require.NotContains(t, remaining, oldPublished)
}

func newOutboxRetentionJob(t *testing.T, repo outboxRetentionRepo, runner txRunner, retention int) *outboxRetentionJob {
	t.Helper()
	jobIface, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger:     testLogger(),
		DB:         runner,
		Repository: repo,
		Retention:  retention,
	})
	if err != nil {
		t.Fatalf("NewOutboxRetentionJob: %v", err)
	}
	job, ok := jobIface.(*outboxRetentionJob)
	if !ok {
		t.Fatalf("expected outboxRetentionJob, got %T", jobIface)
	}
	return job
}

func newCronTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(&models.OutboxEvent{}); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}
	sqlDB, _ := conn.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return conn
}

func seedOutboxRow(t *testing.T, conn *gorm.DB, status enums.OutboxStatus, createdAt time.Time, publishedAt *time.Time) uuid.UUID {
	t.Helper()
	row := models.OutboxEvent{
		ID:            uuid.New(),
		AggregateType: enums.AggregateGenre,
		AggregateID:   uuid.NewString(),
		EventType:     enums.EventGenreCreated,
		Payload:       []byte(`{"@type":"GenreCreated"}`),
		CreatedAt:     createdAt,
		PublishedAt:   publishedAt,
		Status:        status,
	}
	if err := conn.Create(&row).Error; err != nil {
		t.Fatalf("seed outbox row: %v", err)
	}
	return row.ID
}

type fakeOutboxRetentionRepo struct {
	lastCutoff time.Time
	called     int
	err        error
}

func (f *fakeOutboxRetentionRepo) DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
	f.called++
	f.lastCutoff = cutoff
	if f.err != nil {
		return 0, f.err
	}
	return 7, nil
}

type outboxRetentionTxRunner struct{}

func (outboxRetentionTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}
