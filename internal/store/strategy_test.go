package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-trade/kestrel/internal/domain"
	"github.com/kestrel-trade/kestrel/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_SaveGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	instance := &domain.StrategyInstance{
		ID: "strat-1", UserID: "user-1", Symbol: "VOO", AccountID: "acc-1",
		TimeFrame: domain.M1, EngineKind: domain.EngineScript, Source: []byte("function onCandle(c) { return null }"),
		Status: domain.Pending(), CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.Save(ctx, instance))

	got, err := s.Get(ctx, "user-1", "strat-1")
	require.NoError(t, err)
	assert.Equal(t, instance.Symbol, got.Symbol)
	assert.Equal(t, instance.TimeFrame, got.TimeFrame)
	assert.Equal(t, instance.EngineKind, got.EngineKind)
	assert.Equal(t, instance.Source, got.Source)
	assert.Equal(t, domain.StrategyPending, got.Status.State)
}

func TestSQLiteStore_GetMissing_ReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "user-1", "missing")
	var storeErr *domain.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, domain.StoreErrorNotFound, storeErr.Kind)
}

func TestSQLiteStore_UpdateStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	instance := &domain.StrategyInstance{
		ID: "strat-2", UserID: "user-1", Symbol: "VOO", AccountID: "acc-1",
		TimeFrame: domain.M1, EngineKind: domain.EngineBytecode, Source: []byte{0x00},
		Status: domain.Pending(), CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.Save(ctx, instance))
	require.NoError(t, s.UpdateStatus(ctx, "user-1", "strat-2", domain.Failed("boom")))

	got, err := s.Get(ctx, "user-1", "strat-2")
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyFailed, got.Status.State)
	assert.Equal(t, "boom", got.Status.Message)
}

func TestSQLiteStore_List_OrdersByCreatedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Save(ctx, &domain.StrategyInstance{
			ID: id, UserID: "user-1", Symbol: "VOO", AccountID: "acc-1",
			TimeFrame: domain.M1, EngineKind: domain.EngineScript, Source: []byte("x"),
			Status: domain.Pending(), CreatedAt: base.Add(time.Duration(i) * time.Second), UpdatedAt: base,
		}))
	}

	list, err := s.List(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, "c", list[2].ID)
}

func TestSQLiteStore_Append_AuditEntry(t *testing.T) {
	s := newTestStore(t)
	err := s.Append(context.Background(), domain.AuditEntry{
		AccountID: "acc-1", Op: "freeze", TimestampMs: time.Now().UnixMilli(),
	})
	require.NoError(t, err)
}
