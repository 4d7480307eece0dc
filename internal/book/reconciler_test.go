package book

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tickscraper/internal/domain"
	"github.com/alanyoungcy/tickscraper/internal/series"
	"github.com/alanyoungcy/tickscraper/internal/series/seriestest"
)

type recorder struct {
	events []string
}

func (r *recorder) Record(event string, _ map[string]any) { r.events = append(r.events, event) }

func setup(t *testing.T, mode series.ResetMode) (*Reconciler, *seriestest.MemStore, *recorder) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := seriestest.NewMemStore()
	w := series.NewWriter(store, series.Config{Retention: 24 * time.Hour}, nil, logger)
	rec := &recorder{}
	return NewReconciler(w, mode, rec, logger), store, rec
}

func size(v float64) *float64 { return &v }

func delta(side domain.Side, price float64, sz *float64, ts int64) domain.BookDelta {
	return domain.BookDelta{Exchange: "BITMEX", Symbol: "S", Side: side, Price: price, Size: sz, TimestampMs: ts}
}

func latest(t *testing.T, store *seriestest.MemStore, key string) float64 {
	t.Helper()
	p, err := store.Latest(context.Background(), key)
	require.NoError(t, err, key)
	return p.Value
}

func TestUpsertLastWriteWins(t *testing.T) {
	r, store, _ := setup(t, series.ResetZero)
	ctx := context.Background()

	for i, v := range []float64{3, 9, 1, 4} {
		err := r.Reconcile(ctx, domain.BookBatch{
			Exchange: "BITMEX", Symbol: "S", Action: domain.BookUpsert,
			Deltas: []domain.BookDelta{delta(domain.SideBuy, 100, size(v), int64(1000+i))},
		})
		require.NoError(t, err)
	}
	assert.Equal(t, 4.0, latest(t, store, "BITMEX:S:BOOK:BUY:100"))
}

func TestSnapshotSupersedesPriorLevels(t *testing.T) {
	r, store, rec := setup(t, series.ResetZero)
	ctx := context.Background()

	require.NoError(t, r.Reconcile(ctx, domain.BookBatch{
		Exchange: "BITMEX", Symbol: "S", Action: domain.BookUpsert,
		Deltas: []domain.BookDelta{
			delta(domain.SideBuy, 99, size(7), 100),
			delta(domain.SideSell, 105, size(2), 100),
			delta(domain.SideBuy, 100, size(1), 100),
		},
	}))

	require.NoError(t, r.Reconcile(ctx, domain.BookBatch{
		Exchange: "BITMEX", Symbol: "S", Action: domain.BookSnapshot,
		Deltas: []domain.BookDelta{
			delta(domain.SideBuy, 100, size(5), 200),
			delta(domain.SideSell, 101, size(3), 200),
		},
	}))

	assert.Equal(t, 5.0, latest(t, store, "BITMEX:S:BOOK:BUY:100"))
	assert.Equal(t, 3.0, latest(t, store, "BITMEX:S:BOOK:SELL:101"))
	assert.Equal(t, 0.0, latest(t, store, "BITMEX:S:BOOK:BUY:99"))
	assert.Equal(t, 0.0, latest(t, store, "BITMEX:S:BOOK:SELL:105"))
	assert.Equal(t, []string{"BITMEX:S:BOOK:*"}, store.Scans())
	assert.Equal(t, []string{domain.EventBookReset}, rec.events)
	assert.Equal(t, int64(1), r.Stats().Snapshots)
}

func TestSnapshotDeleteMode(t *testing.T) {
	r, store, _ := setup(t, series.ResetDelete)
	ctx := context.Background()
	store.Seed("BITMEX:S:BOOK:BUY:99", nil, domain.Point{TimestampMs: 1, Value: 7})

	require.NoError(t, r.Reconcile(ctx, domain.BookBatch{
		Exchange: "BITMEX", Symbol: "S", Action: domain.BookSnapshot,
		Deltas: []domain.BookDelta{delta(domain.SideBuy, 100, size(5), 200)},
	}))

	assert.False(t, store.Has("BITMEX:S:BOOK:BUY:99"))
	assert.Equal(t, 5.0, latest(t, store, "BITMEX:S:BOOK:BUY:100"))
}

func TestDeleteDrivesLevelToZero(t *testing.T) {
	r, store, _ := setup(t, series.ResetZero)
	ctx := context.Background()

	require.NoError(t, r.Reconcile(ctx, domain.BookBatch{
		Exchange: "BITMEX", Symbol: "S", Action: domain.BookUpsert,
		Deltas: []domain.BookDelta{delta(domain.SideSell, 101, size(3), 10)},
	}))
	require.NoError(t, r.Reconcile(ctx, domain.BookBatch{
		Exchange: "BITMEX", Symbol: "S", Action: domain.BookDelete,
		Deltas: []domain.BookDelta{delta(domain.SideSell, 101, nil, 11)},
	}))

	assert.True(t, store.Has("BITMEX:S:BOOK:SELL:101"))
	assert.Equal(t, 0.0, latest(t, store, "BITMEX:S:BOOK:SELL:101"))
	assert.Empty(t, store.Deleted())
}

func TestUpsertWithoutSizeWritesNothing(t *testing.T) {
	r, store, _ := setup(t, series.ResetZero)

	require.NoError(t, r.Reconcile(context.Background(), domain.BookBatch{
		Exchange: "BITMEX", Symbol: "S", Action: domain.BookUpsert,
		Deltas: []domain.BookDelta{delta(domain.SideBuy, 100, nil, 10)},
	}))

	assert.Empty(t, store.Adds())
	assert.Equal(t, int64(1), r.Stats().LevelsSkipped)
}

func TestNonPositiveTimestampNeverWritten(t *testing.T) {
	r, store, _ := setup(t, series.ResetZero)
	ctx := context.Background()

	require.NoError(t, r.Reconcile(ctx, domain.BookBatch{
		Exchange: "BITMEX", Symbol: "S", Action: domain.BookUpsert,
		Deltas: []domain.BookDelta{delta(domain.SideBuy, 100, size(1), 0)},
	}))
	require.NoError(t, r.Reconcile(ctx, domain.BookBatch{
		Exchange: "BITMEX", Symbol: "S", Action: domain.BookDelete,
		Deltas: []domain.BookDelta{delta(domain.SideBuy, 100, nil, -5)},
	}))

	assert.Empty(t, store.Adds())
	assert.Equal(t, int64(2), r.Stats().LevelsSkipped)
}

func TestUnknownAction(t *testing.T) {
	r, store, _ := setup(t, series.ResetZero)

	err := r.Reconcile(context.Background(), domain.BookBatch{Action: "MERGE"})
	assert.ErrorIs(t, err, domain.ErrUnknownAction)
	assert.Empty(t, store.Adds())
}

func TestResetTimestamp(t *testing.T) {
	b := domain.BookBatch{
		ReceivedMs: 999,
		Deltas: []domain.BookDelta{
			{TimestampMs: 50}, {TimestampMs: 0}, {TimestampMs: 20},
		},
	}
	assert.Equal(t, int64(50), resetTimestamp(b))
	assert.Equal(t, int64(999), resetTimestamp(domain.BookBatch{ReceivedMs: 999}))
}

func TestResyncSnapshotZeroesLevelsNewerThanItsRows(t *testing.T) {
	r, store, _ := setup(t, series.ResetZero)
	ctx := context.Background()

	require.NoError(t, r.Reconcile(ctx, domain.BookBatch{
		Exchange: "BITMEX", Symbol: "S", Action: domain.BookUpsert,
		Deltas: []domain.BookDelta{
			delta(domain.SideBuy, 99, size(7), 10_000),
			delta(domain.SideBuy, 100, size(8), 12_000),
		},
	}))

	// orderBookL2 partial rows carry each level's last-change time, which
	// can predate updates already applied to other levels.
	require.NoError(t, r.Reconcile(ctx, domain.BookBatch{
		Exchange: "BITMEX", Symbol: "S", Action: domain.BookSnapshot, ReceivedMs: 20_000,
		Deltas: []domain.BookDelta{
			delta(domain.SideBuy, 100, size(5), 5_000),
			delta(domain.SideSell, 101, size(3), 9_000),
		},
	}))

	assert.Equal(t, 0.0, latest(t, store, "BITMEX:S:BOOK:BUY:99"))
	assert.Equal(t, 5.0, latest(t, store, "BITMEX:S:BOOK:BUY:100"))
	assert.Equal(t, 3.0, latest(t, store, "BITMEX:S:BOOK:SELL:101"))
	assert.Equal(t, int64(4), r.Stats().LevelsApplied)
}

func TestSnapshotLevelWithoutSizeIsReset(t *testing.T) {
	r, store, _ := setup(t, series.ResetZero)
	ctx := context.Background()

	require.NoError(t, r.Reconcile(ctx, domain.BookBatch{
		Exchange: "BITMEX", Symbol: "S", Action: domain.BookUpsert,
		Deltas: []domain.BookDelta{delta(domain.SideBuy, 99, size(7), 100)},
	}))
	require.NoError(t, r.Reconcile(ctx, domain.BookBatch{
		Exchange: "BITMEX", Symbol: "S", Action: domain.BookSnapshot,
		Deltas: []domain.BookDelta{
			delta(domain.SideBuy, 99, nil, 200),
			delta(domain.SideBuy, 100, size(5), 200),
		},
	}))

	assert.Equal(t, 0.0, latest(t, store, "BITMEX:S:BOOK:BUY:99"))
	assert.Equal(t, 5.0, latest(t, store, "BITMEX:S:BOOK:BUY:100"))
	assert.Equal(t, int64(1), r.Stats().LevelsSkipped)
}
