package repository

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"points-bot/internal/model"
)

// fakeClock is a settable clock shared by the store under test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func newTestStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "data", "points.db"))
	require.NoError(t, err)
	clock := &fakeClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	store := NewStore(db, WithClock(clock.Now))
	t.Cleanup(func() { _ = store.Close() })
	return store, clock
}

func withSession(t *testing.T, store *Store, fn func(s *Session)) {
	t.Helper()
	require.NoError(t, store.WithSession(context.Background(), func(s *Session) error {
		fn(s)
		return nil
	}))
}

func TestNewDBIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "points.db")
	db, err := NewDB(path)
	require.NoError(t, err)

	store := NewStore(db)
	withSession(t, store, func(s *Session) {
		_, err := s.UpsertUser(context.Background(), model.Profile{TelegramID: 1, Username: "alice"})
		require.NoError(t, err)
		_, err = s.AddScore(context.Background(), 1, 1)
		require.NoError(t, err)
	})
	require.NoError(t, store.Close())

	db, err = NewDB(path)
	require.NoError(t, err)
	store = NewStore(db)
	defer store.Close()

	withSession(t, store, func(s *Session) {
		total, err := s.TotalScore(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
	})
}

func TestUpsertUserKeepsJoinedAt(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()

	withSession(t, store, func(s *Session) {
		first, err := s.UpsertUser(ctx, model.Profile{TelegramID: 42, Username: "alice", FirstName: "Alice"})
		require.NoError(t, err)
		assert.Equal(t, int64(42), first.TelegramID)
		assert.True(t, first.JoinedAt.Equal(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)))

		for i := 1; i <= 3; i++ {
			clock.Set(clock.Now().Add(24 * time.Hour))
			again, err := s.UpsertUser(ctx, model.Profile{TelegramID: 42, FirstName: "Alice"})
			require.NoError(t, err)
			assert.Equal(t, first.ID, again.ID)
			assert.True(t, first.JoinedAt.Equal(again.JoinedAt), "joined_at changed on sighting %d", i)
		}
	})
}

func TestUpsertUserDoesNotOverwriteWithEmpty(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	withSession(t, store, func(s *Session) {
		_, err := s.UpsertUser(ctx, model.Profile{TelegramID: 7, Username: "bob", FirstName: "Bob", LastName: "Builder"})
		require.NoError(t, err)

		updated, err := s.UpsertUser(ctx, model.Profile{TelegramID: 7, FirstName: "Robert"})
		require.NoError(t, err)
		assert.Equal(t, "bob", updated.Username)
		assert.Equal(t, "Robert", updated.FirstName)
		assert.Equal(t, "Builder", updated.LastName)

		found, err := s.FindUser(ctx, 7)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, *updated, *found)
	})
}

func TestUpsertUserWithoutNames(t *testing.T) {
	store, _ := newTestStore(t)

	withSession(t, store, func(s *Session) {
		user, err := s.UpsertUser(context.Background(), model.Profile{TelegramID: 99})
		require.NoError(t, err)
		assert.Empty(t, user.Username)
		assert.Empty(t, user.FirstName)
		assert.Equal(t, "User 99", user.DisplayName())
	})
}

func TestAddScoreUnknownUser(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	withSession(t, store, func(s *Session) {
		event, err := s.AddScore(ctx, 404, 1)
		require.NoError(t, err)
		assert.Nil(t, event)

		total, err := s.TotalScore(ctx, 404)
		require.NoError(t, err)
		assert.Zero(t, total)

		series, err := s.ScoreTimeSeries(ctx)
		require.NoError(t, err)
		assert.Empty(t, series)
	})
}

func TestAddScoreRejectsNonPositivePoints(t *testing.T) {
	store, _ := newTestStore(t)

	withSession(t, store, func(s *Session) {
		_, err := s.UpsertUser(context.Background(), model.Profile{TelegramID: 1})
		require.NoError(t, err)
		_, err = s.AddScore(context.Background(), 1, 0)
		assert.ErrorIs(t, err, ErrInvalidPoints)
	})
}

func TestTotalScoreSumsEvents(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()

	withSession(t, store, func(s *Session) {
		user, err := s.UpsertUser(ctx, model.Profile{TelegramID: 1, Username: "alice"})
		require.NoError(t, err)

		var want int64
		for _, p := range []int{1, 3, 1, 5} {
			clock.Set(clock.Now().Add(time.Hour))
			event, err := s.AddScore(ctx, 1, p)
			require.NoError(t, err)
			require.NotNil(t, event)
			assert.Equal(t, user.ID, event.UserID)
			assert.Equal(t, p, event.Points)
			assert.True(t, event.Timestamp.Equal(clock.Now()))
			want += int64(p)
		}

		total, err := s.TotalScore(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, want, total)

		none, err := s.TotalScore(ctx, 2)
		require.NoError(t, err)
		assert.Zero(t, none)
	})
}

func TestTopUsers(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	withSession(t, store, func(s *Session) {
		points := map[int64]int{1: 3, 2: 5, 3: 1, 4: 2}
		for id, n := range points {
			_, err := s.UpsertUser(ctx, model.Profile{TelegramID: id})
			require.NoError(t, err)
			for i := 0; i < n; i++ {
				_, err := s.AddScore(ctx, id, 1)
				require.NoError(t, err)
			}
		}
		_, err := s.UpsertUser(ctx, model.Profile{TelegramID: 5, Username: "lurker"})
		require.NoError(t, err)

		top, err := s.TopUsers(ctx, 3)
		require.NoError(t, err)
		require.Len(t, top, 3)
		assert.Equal(t, int64(2), top[0].TelegramID)
		assert.Equal(t, int64(5), top[0].Total)
		assert.Equal(t, int64(1), top[1].TelegramID)
		assert.Equal(t, int64(4), top[2].TelegramID)

		all, err := s.TopUsers(ctx, 10)
		require.NoError(t, err)
		assert.Len(t, all, 4)
		for i := 1; i < len(all); i++ {
			assert.GreaterOrEqual(t, all[i-1].Total, all[i].Total)
		}
		for _, e := range all {
			assert.NotEqual(t, int64(5), e.TelegramID, "user without events must not be listed")
		}

		empty, err := s.TopUsers(ctx, 0)
		require.NoError(t, err)
		assert.Empty(t, empty)
	})
}

func TestTopUsersTies(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	withSession(t, store, func(s *Session) {
		for _, id := range []int64{10, 20} {
			_, err := s.UpsertUser(ctx, model.Profile{TelegramID: id})
			require.NoError(t, err)
			_, err = s.AddScore(ctx, id, 2)
			require.NoError(t, err)
		}

		top, err := s.TopUsers(ctx, 5)
		require.NoError(t, err)
		require.Len(t, top, 2)
		ids := []int64{top[0].TelegramID, top[1].TelegramID}
		assert.ElementsMatch(t, []int64{10, 20}, ids)
	})
}

func TestClearAllScores(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	withSession(t, store, func(s *Session) {
		removed, err := s.ClearAllScores(ctx)
		require.NoError(t, err)
		assert.Zero(t, removed)

		for _, id := range []int64{1, 2} {
			_, err := s.UpsertUser(ctx, model.Profile{TelegramID: id})
			require.NoError(t, err)
			_, err = s.AddScore(ctx, id, 1)
			require.NoError(t, err)
		}

		removed, err = s.ClearAllScores(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), removed)

		for _, id := range []int64{1, 2} {
			total, err := s.TotalScore(ctx, id)
			require.NoError(t, err)
			assert.Zero(t, total)

			user, err := s.FindUser(ctx, id)
			require.NoError(t, err)
			assert.NotNil(t, user, "users survive a clear")
		}

		top, err := s.TopUsers(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, top)
	})
}

func TestScoreTimeSeriesGroupsByDay(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()
	day1 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)

	withSession(t, store, func(s *Session) {
		_, err := s.UpsertUser(ctx, model.Profile{TelegramID: 2, Username: "b"})
		require.NoError(t, err)
		_, err = s.UpsertUser(ctx, model.Profile{TelegramID: 1, FirstName: "A"})
		require.NoError(t, err)

		clock.Set(day1.Add(9 * time.Hour))
		_, err = s.AddScore(ctx, 1, 1)
		require.NoError(t, err)
		clock.Set(day1.Add(23 * time.Hour))
		_, err = s.AddScore(ctx, 1, 1)
		require.NoError(t, err)
		clock.Set(day2.Add(time.Hour))
		_, err = s.AddScore(ctx, 1, 1)
		require.NoError(t, err)
		_, err = s.AddScore(ctx, 2, 4)
		require.NoError(t, err)

		series, err := s.ScoreTimeSeries(ctx)
		require.NoError(t, err)
		require.Len(t, series, 3)

		assert.Equal(t, int64(1), series[0].TelegramID)
		assert.Equal(t, "A", series[0].FirstName)
		assert.True(t, series[0].Date.Equal(day1))
		assert.Equal(t, int64(2), series[0].Points)

		assert.Equal(t, int64(1), series[1].TelegramID)
		assert.True(t, series[1].Date.Equal(day2))
		assert.Equal(t, int64(1), series[1].Points)

		assert.Equal(t, int64(2), series[2].TelegramID)
		assert.Equal(t, "b", series[2].Username)
		assert.Equal(t, int64(4), series[2].Points)
	})
}

func TestConcurrentSessions(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	withSession(t, store, func(s *Session) {
		_, err := s.UpsertUser(ctx, model.Profile{TelegramID: 1})
		require.NoError(t, err)
	})

	const workers = 4
	const perWorker = 10
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- store.WithSession(ctx, func(s *Session) error {
				for i := 0; i < perWorker; i++ {
					if _, err := s.AddScore(ctx, 1, 1); err != nil {
						return err
					}
				}
				return nil
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	withSession(t, store, func(s *Session) {
		total, err := s.TotalScore(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(workers*perWorker), total)
	})
}

func TestInMemoryStoreConcurrentSessions(t *testing.T) {
	db, err := NewDB(":memory:")
	require.NoError(t, err)
	store := NewStore(db)
	defer store.Close()
	ctx := context.Background()

	const workers = 4
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			errs <- store.WithSession(ctx, func(s *Session) error {
				if _, err := s.UpsertUser(ctx, model.Profile{TelegramID: id}); err != nil {
					return err
				}
				_, err := s.AddScore(ctx, id, 1)
				return err
			})
		}(int64(w + 1))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	withSession(t, store, func(s *Session) {
		top, err := s.TopUsers(ctx, 10)
		require.NoError(t, err)
		assert.Len(t, top, workers)
	})
}

func TestWithSessionReportsUnavailableStore(t *testing.T) {
	store, _ := newTestStore(t)
	require.NoError(t, store.Close())

	called := false
	err := store.WithSession(context.Background(), func(*Session) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.False(t, called)
	assert.ErrorIs(t, store.Ping(context.Background()), ErrStoreUnavailable)
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, "points.db?_busy_timeout=5000&_txlock=immediate&_foreign_keys=on", sqliteDSN("points.db"))
	assert.Equal(t, "file:x.db?mode=rwc&_txlock=deferred&_busy_timeout=5000&_foreign_keys=on", sqliteDSN("file:x.db?mode=rwc&_txlock=deferred"))
	assert.True(t, isPostgresDSN("postgres://u:p@localhost/points"))
	assert.False(t, isPostgresDSN("points.db"))
}
