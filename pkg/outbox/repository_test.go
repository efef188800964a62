package outbox

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/library-catalog/pkg/db/models"
	"github.com/angelmondragon/library-catalog/pkg/enums"
)

var baseTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(&models.OutboxEvent{}); err != nil {
		t.Fatalf("failed to migrate sqlite: %v", err)
	}
	sqlDB, _ := conn.DB()
	t.Cleanup(func() { _ = sqlDB.Close() })
	return conn
}

func seedRow(t *testing.T, db *gorm.DB, createdAt time.Time) models.OutboxEvent {
	t.Helper()
	row := models.OutboxEvent{
		ID:            uuid.New(),
		AggregateType: enums.AggregateGenre,
		AggregateID:   uuid.NewString(),
		EventType:     enums.EventGenreCreated,
		Payload:       []byte(`{"@type":"GenreCreated"}`),
		CreatedAt:     createdAt,
		Status:        enums.OutboxStatusPending,
	}
	if err := db.Create(&row).Error; err != nil {
		t.Fatalf("seed row: %v", err)
	}
	return row
}

func TestClaimPendingOrdersAndLeases(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	second := seedRow(t, db, baseTime.Add(2*time.Second))
	first := seedRow(t, db, baseTime.Add(time.Second))

	claimed, err := repo.ClaimPending(ctx, "pub-a", 10, baseTime.Add(time.Minute), 30*time.Second)
	if err != nil {
		t.Fatalf("ClaimPending() error: %v", err)
	}
	if len(claimed) != 2 {
		t.Fatalf("expected 2 claimed rows, got %d", len(claimed))
	}
	if claimed[0].ID != first.ID || claimed[1].ID != second.ID {
		t.Fatalf("rows not ordered by created_at")
	}
	if claimed[0].ClaimedBy == nil || *claimed[0].ClaimedBy != "pub-a" {
		t.Fatalf("claimed_by not set: %+v", claimed[0].ClaimedBy)
	}

	other, err := repo.ClaimPending(ctx, "pub-b", 10, baseTime.Add(time.Minute+time.Second), 30*time.Second)
	if err != nil {
		t.Fatalf("ClaimPending() error: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("leased rows must not be claimed twice, got %d", len(other))
	}
}

func TestClaimPendingRespectsLimit(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db)
	for i := 0; i < 3; i++ {
		seedRow(t, db, baseTime.Add(time.Duration(i)*time.Second))
	}
	claimed, err := repo.ClaimPending(context.Background(), "pub-a", 2, baseTime.Add(time.Minute), time.Minute)
	if err != nil {
		t.Fatalf("ClaimPending() error: %v", err)
	}
	if len(claimed) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(claimed))
	}
}

func TestExpiredLeaseIsReclaimed(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	row := seedRow(t, db, baseTime)

	now := baseTime.Add(time.Minute)
	if _, err := repo.ClaimPending(ctx, "crashed", 10, now, 30*time.Second); err != nil {
		t.Fatalf("claim: %v", err)
	}

	claimed, err := repo.ClaimPending(ctx, "survivor", 10, now.Add(31*time.Second), 30*time.Second)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != row.ID {
		t.Fatalf("expected expired lease to be reclaimed, got %d rows", len(claimed))
	}

	if err := repo.MarkPublished(ctx, row.ID, "crashed", now); !errors.Is(err, ErrClaimLost) {
		t.Fatalf("stale owner must lose the claim, got %v", err)
	}
	if err := repo.MarkPublished(ctx, row.ID, "survivor", now.Add(32*time.Second)); err != nil {
		t.Fatalf("MarkPublished() error: %v", err)
	}
}

func TestMarkTransitions(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	now := baseTime.Add(time.Minute)

	published := seedRow(t, db, baseTime)
	retried := seedRow(t, db, baseTime.Add(time.Second))
	failed := seedRow(t, db, baseTime.Add(2*time.Second))

	if _, err := repo.ClaimPending(ctx, "pub", 10, now, time.Minute); err != nil {
		t.Fatalf("claim: %v", err)
	}

	if err := repo.MarkPublished(ctx, published.ID, "pub", now); err != nil {
		t.Fatalf("MarkPublished: %v", err)
	}
	if err := repo.MarkRetry(ctx, retried.ID, "pub", 1, "broker unavailable"); err != nil {
		t.Fatalf("MarkRetry: %v", err)
	}
	if err := repo.MarkFailed(ctx, failed.ID, "pub", 10, "broker unavailable"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	got, _ := repo.FindByID(ctx, published.ID)
	if got.Status != enums.OutboxStatusPublished || got.PublishedAt == nil || got.ErrorMessage != nil {
		t.Fatalf("unexpected published row %+v", got)
	}

	got, _ = repo.FindByID(ctx, retried.ID)
	if got.Status != enums.OutboxStatusPending || got.RetryCount != 1 || got.ClaimedBy != nil {
		t.Fatalf("unexpected retried row %+v", got)
	}
	if got.ErrorMessage == nil || *got.ErrorMessage != "broker unavailable" {
		t.Fatalf("expected error message on retried row")
	}

	got, _ = repo.FindByID(ctx, failed.ID)
	if got.Status != enums.OutboxStatusFailed || got.RetryCount != 10 {
		t.Fatalf("unexpected failed row %+v", got)
	}

	if err := repo.MarkRetry(ctx, published.ID, "pub", 2, "late"); !errors.Is(err, ErrClaimLost) {
		t.Fatalf("published rows must be immutable, got %v", err)
	}

	claimed, err := repo.ClaimPending(ctx, "pub", 10, now.Add(time.Second), time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != retried.ID {
		t.Fatalf("only the retried row should be claimable again, got %d", len(claimed))
	}
}

func TestReplayFailedAndCounts(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	now := baseTime.Add(time.Minute)

	a := seedRow(t, db, baseTime)
	b := seedRow(t, db, baseTime.Add(time.Second))
	seedRow(t, db, baseTime.Add(2*time.Second))
	if _, err := repo.ClaimPending(ctx, "pub", 2, now, time.Minute); err != nil {
		t.Fatalf("claim: %v", err)
	}
	_ = repo.MarkFailed(ctx, a.ID, "pub", 10, "x")
	_ = repo.MarkFailed(ctx, b.ID, "pub", 10, "x")

	counts, err := repo.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if counts[enums.OutboxStatusFailed] != 2 || counts[enums.OutboxStatusPending] != 1 {
		t.Fatalf("unexpected counts %+v", counts)
	}

	n, err := repo.ReplayFailed(ctx, []uuid.UUID{a.ID}, 0)
	if err != nil || n != 1 {
		t.Fatalf("ReplayFailed(ids) = %d, %v", n, err)
	}
	got, _ := repo.FindByID(ctx, a.ID)
	if got.Status != enums.OutboxStatusPending || got.RetryCount != 0 || got.ErrorMessage != nil {
		t.Fatalf("unexpected replayed row %+v", got)
	}

	n, err = repo.ReplayFailed(ctx, nil, 10)
	if err != nil || n != 1 {
		t.Fatalf("ReplayFailed(all) = %d, %v", n, err)
	}
}

func TestDeletePublishedBefore(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	old := seedRow(t, db, baseTime)
	recent := seedRow(t, db, baseTime.Add(time.Second))
	if _, err := repo.ClaimPending(ctx, "pub", 10, baseTime, time.Minute); err != nil {
		t.Fatalf("claim: %v", err)
	}
	_ = repo.MarkPublished(ctx, old.ID, "pub", baseTime)
	_ = repo.MarkPublished(ctx, recent.ID, "pub", baseTime.Add(48*time.Hour))

	n, err := repo.DeletePublishedBefore(ctx, nil, baseTime.Add(24*time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("DeletePublishedBefore() = %d, %v", n, err)
	}
	if _, err := repo.FindByID(ctx, old.ID); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("old row should be gone, got %v", err)
	}
}

func TestInsertRequiresTx(t *testing.T) {
	repo := NewRepository(nil)
	if err := repo.Insert(nil, models.OutboxEvent{}); err == nil {
		t.Fatal("expected error without transaction")
	}
}
