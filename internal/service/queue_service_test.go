package service

import (
	"fmt"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariaplayer/aria/internal/adapter/eventbus"
	"github.com/ariaplayer/aria/internal/domain"
	"github.com/ariaplayer/aria/internal/logger"
	"github.com/ariaplayer/aria/internal/ports"
)

// memoryRepo is an in-memory SessionRepository for queue tests.
type memoryRepo struct {
	session domain.Session
	saved   bool
}

func (r *memoryRepo) SaveSession(session domain.Session) error {
	r.session = session
	r.saved = true
	return nil
}

func (r *memoryRepo) LoadSession() (domain.Session, error) {
	if !r.saved {
		return domain.Session{CurrentIndex: -1, Volume: 1.0}, nil
	}
	return r.session, nil
}

func (r *memoryRepo) Close() error { return nil }

var _ ports.SessionRepository = (*memoryRepo)(nil)

func newTestQueue(t *testing.T) (*QueueService, ports.EventBus) {
	t.Helper()

	bus := eventbus.NewSyncBus(logger.NewTestLogger())
	queue := NewQueueService(logger.NewTestLogger(), bus, nil)
	t.Cleanup(func() {
		_ = queue.Shutdown()
		_ = bus.Close()
	})
	return queue, bus
}

func makeSongs(ids ...string) []domain.Song {
	songs := make([]domain.Song, len(ids))
	for i, id := range ids {
		songs[i] = domain.Song{
			ID:        id,
			ServerID:  "srv-1",
			Name:      "Song " + id,
			Duration:  3 * time.Minute,
			StreamURL: "https://music.example/rest/stream?id=" + id,
		}
	}
	return songs
}

func songIDs(entries []domain.QueueSong) []string {
	return lo.Map(entries, func(e domain.QueueSong, _ int) string {
		return e.ID
	})
}

func TestAddPlayLastAppends(t *testing.T) {
	queue, _ := newTestQueue(t)

	queue.Add(makeSongs("a", "b"), domain.PlayLast)
	queue.Add(makeSongs("c"), domain.PlayLast)

	assert.Equal(t, []string{"a", "b", "c"}, songIDs(queue.Entries()))
	// PlayLast on an empty queue does not select a current entry
	assert.Equal(t, -1, queue.CurrentIndex())
	assert.Nil(t, queue.Current())
}

func TestAddPlayNextOnEmptyQueueStartsAtFirst(t *testing.T) {
	queue, _ := newTestQueue(t)

	queue.Add(makeSongs("a", "b"), domain.PlayNext)

	assert.Equal(t, 0, queue.CurrentIndex())
	assert.Equal(t, "a", queue.Current().ID)
}

func TestAddPlayNextInsertsAfterCurrent(t *testing.T) {
	queue, _ := newTestQueue(t)

	queue.Add(makeSongs("a", "b", "c"), domain.PlayNow)
	queue.Add(makeSongs("x", "y"), domain.PlayNext)

	assert.Equal(t, []string{"a", "x", "y", "b", "c"}, songIDs(queue.Entries()))
	assert.Equal(t, "a", queue.Current().ID)
}

func TestAddPlayNextTwicePlaysLatestFirst(t *testing.T) {
	queue, _ := newTestQueue(t)

	queue.Add(makeSongs("c", "d", "e"), domain.PlayNow)
	queue.Add(makeSongs("x"), domain.PlayNext)
	queue.Add(makeSongs("y"), domain.PlayNext)

	// Each insertion lands right after the current entry, so the most
	// recently queued song plays first
	assert.Equal(t, []string{"c", "y", "x", "d", "e"}, songIDs(queue.Entries()))
	assert.Equal(t, "c", queue.Current().ID)
}

func TestAddPlayNowReplacesRemainder(t *testing.T) {
	queue, _ := newTestQueue(t)

	queue.Add(makeSongs("a", "b", "c"), domain.PlayNow)
	_, err := queue.Advance(domain.DirectionNext)
	require.NoError(t, err)
	require.Equal(t, "b", queue.Current().ID)

	queue.Add(makeSongs("x", "y"), domain.PlayNow)

	// Everything up to and including the playing entry stays; the unplayed
	// remainder is replaced and the first new song becomes current
	assert.Equal(t, []string{"a", "b", "x", "y"}, songIDs(queue.Entries()))
	assert.Equal(t, "x", queue.Current().ID)
	assert.Equal(t, 2, queue.CurrentIndex())

	// The entry that was playing is now in history
	history := queue.History()
	require.NotEmpty(t, history)
	assert.Equal(t, "b", history[len(history)-1].ID)
}

func TestDuplicateSongsGetDistinctUniqueIDs(t *testing.T) {
	queue, _ := newTestQueue(t)

	added := queue.Add(makeSongs("a", "a", "a"), domain.PlayNow)

	uids := lo.Map(added, func(e domain.QueueSong, _ int) string { return e.UniqueID })
	assert.Len(t, lo.Uniq(uids), 3)
}

func TestAdvanceNextAndEndOfQueue(t *testing.T) {
	queue, _ := newTestQueue(t)

	queue.Add(makeSongs("a", "b"), domain.PlayNow)

	entry, err := queue.Advance(domain.DirectionNext)
	require.NoError(t, err)
	assert.Equal(t, "b", entry.ID)

	_, err = queue.Advance(domain.DirectionNext)
	assert.ErrorIs(t, err, domain.ErrEndOfQueue)
	// The current entry is unchanged after a failed advance
	assert.Equal(t, "b", queue.Current().ID)
}

func TestAdvanceOnEmptyQueue(t *testing.T) {
	queue, _ := newTestQueue(t)

	_, err := queue.Advance(domain.DirectionNext)
	assert.ErrorIs(t, err, domain.ErrQueueEmpty)
}

func TestAdvanceRepeatOneStaysOnEntry(t *testing.T) {
	queue, _ := newTestQueue(t)

	queue.Add(makeSongs("a", "b"), domain.PlayNow)
	queue.SetRepeat(domain.RepeatOne)

	entry, err := queue.Advance(domain.DirectionNext)
	require.NoError(t, err)
	assert.Equal(t, "a", entry.ID)
	assert.Equal(t, 0, queue.CurrentIndex())
	assert.Empty(t, queue.History())
}

func TestAdvanceRepeatAllWraps(t *testing.T) {
	queue, _ := newTestQueue(t)

	queue.Add(makeSongs("a", "b"), domain.PlayNow)
	queue.SetRepeat(domain.RepeatAll)

	_, err := queue.Advance(domain.DirectionNext)
	require.NoError(t, err)

	entry, err := queue.Advance(domain.DirectionNext)
	require.NoError(t, err)
	assert.Equal(t, "a", entry.ID)
	assert.Equal(t, 0, queue.CurrentIndex())
}

func TestAdvancePreviousPopsHistory(t *testing.T) {
	queue, _ := newTestQueue(t)

	queue.Add(makeSongs("a", "b", "c"), domain.PlayNow)
	_, err := queue.Advance(domain.DirectionNext)
	require.NoError(t, err)
	_, err = queue.Advance(domain.DirectionNext)
	require.NoError(t, err)
	require.Equal(t, "c", queue.Current().ID)

	entry, err := queue.Advance(domain.DirectionPrevious)
	require.NoError(t, err)
	assert.Equal(t, "b", entry.ID)

	entry, err = queue.Advance(domain.DirectionPrevious)
	require.NoError(t, err)
	assert.Equal(t, "a", entry.ID)

	_, err = queue.Advance(domain.DirectionPrevious)
	assert.ErrorIs(t, err, domain.ErrEndOfQueue)
}

func TestHistoryCapped(t *testing.T) {
	queue, _ := newTestQueue(t)

	ids := make([]string, historyLimit+20)
	for i := range ids {
		ids[i] = fmt.Sprintf("s%03d", i)
	}
	queue.Add(makeSongs(ids...), domain.PlayNow)

	for {
		if _, err := queue.Advance(domain.DirectionNext); err != nil {
			break
		}
	}

	assert.Len(t, queue.History(), historyLimit)
}

func TestNextUpHonorsRepeatMode(t *testing.T) {
	queue, _ := newTestQueue(t)

	queue.Add(makeSongs("a", "b"), domain.PlayNow)

	assert.Equal(t, "b", queue.NextUp().ID)

	queue.SetRepeat(domain.RepeatOne)
	assert.Equal(t, "a", queue.NextUp().ID)

	queue.SetRepeat(domain.RepeatNone)
	_, err := queue.Advance(domain.DirectionNext)
	require.NoError(t, err)
	assert.Nil(t, queue.NextUp())

	queue.SetRepeat(domain.RepeatAll)
	assert.Equal(t, "a", queue.NextUp().ID)
}

func TestShuffleKeepsCurrentEntryFirst(t *testing.T) {
	queue, _ := newTestQueue(t)

	queue.Add(makeSongs("a", "b", "c", "d", "e"), domain.PlayNow)
	_, err := queue.Advance(domain.DirectionNext)
	require.NoError(t, err)
	current := queue.Current().UniqueID

	queue.SetShuffle(true)

	assert.True(t, queue.Shuffled())
	assert.Equal(t, 0, queue.CurrentIndex())
	assert.Equal(t, current, queue.Current().UniqueID)

	// Shuffle reorders but never changes membership
	assert.ElementsMatch(t, []string{"a", "b", "c", "d", "e"}, songIDs(queue.Entries()))
}

func TestDisablingShuffleRestoresInsertionOrder(t *testing.T) {
	queue, _ := newTestQueue(t)

	queue.Add(makeSongs("a", "b", "c", "d"), domain.PlayNow)
	queue.SetShuffle(true)

	_, err := queue.Advance(domain.DirectionNext)
	require.NoError(t, err)
	current := queue.Current().UniqueID

	queue.SetShuffle(false)

	assert.Equal(t, []string{"a", "b", "c", "d"}, songIDs(queue.Entries()))
	// The same entry stays current at its insertion-order position
	assert.Equal(t, current, queue.Current().UniqueID)
}

func TestPlayNextWhileShuffled(t *testing.T) {
	queue, _ := newTestQueue(t)

	queue.Add(makeSongs("a", "b", "c"), domain.PlayNow)
	queue.SetShuffle(true)

	queue.Add(makeSongs("x"), domain.PlayNext)

	entries := queue.Entries()
	assert.Equal(t, "x", entries[queue.CurrentIndex()+1].ID)
	assert.Len(t, entries, 4)
}

func TestRemoveCurrentEntryAdvancesFirst(t *testing.T) {
	queue, _ := newTestQueue(t)

	queue.Add(makeSongs("a", "b", "c"), domain.PlayNow)
	currentUID := queue.Current().UniqueID

	queue.RemoveByUniqueID([]string{currentUID})

	assert.Equal(t, []string{"b", "c"}, songIDs(queue.Entries()))
	assert.Equal(t, "b", queue.Current().ID)
	assert.Equal(t, 0, queue.CurrentIndex())
}

func TestRemoveLastRemainingEntry(t *testing.T) {
	queue, _ := newTestQueue(t)

	queue.Add(makeSongs("a"), domain.PlayNow)
	queue.RemoveByUniqueID([]string{queue.Current().UniqueID})

	assert.Equal(t, 0, queue.Len())
	assert.Nil(t, queue.Current())
	assert.Equal(t, -1, queue.CurrentIndex())
}

func TestRemoveOnEmptyQueueIsNoOp(t *testing.T) {
	queue, _ := newTestQueue(t)

	queue.RemoveByUniqueID([]string{"missing"})
	assert.Equal(t, 0, queue.Len())
}

func TestMoveToReordersAndTracksCurrent(t *testing.T) {
	queue, _ := newTestQueue(t)

	queue.Add(makeSongs("a", "b", "c", "d"), domain.PlayNow)
	_, err := queue.Advance(domain.DirectionNext)
	require.NoError(t, err)
	require.Equal(t, "b", queue.Current().ID)

	entries := queue.Entries()
	require.NoError(t, queue.MoveTo(entries[3].UniqueID, 0))

	assert.Equal(t, []string{"d", "a", "b", "c"}, songIDs(queue.Entries()))
	assert.Equal(t, "b", queue.Current().ID)
	assert.Equal(t, 2, queue.CurrentIndex())
}

func TestMoveToUnknownEntry(t *testing.T) {
	queue, _ := newTestQueue(t)

	queue.Add(makeSongs("a"), domain.PlayNow)
	assert.ErrorIs(t, queue.MoveTo("missing", 0), domain.ErrEntryNotFound)
	assert.ErrorIs(t, queue.MoveTo(queue.Current().UniqueID, 5), domain.ErrEntryNotFound)
}

func TestClearPreservesHistory(t *testing.T) {
	queue, _ := newTestQueue(t)

	queue.Add(makeSongs("a", "b"), domain.PlayNow)
	_, err := queue.Advance(domain.DirectionNext)
	require.NoError(t, err)

	queue.Clear()

	assert.Equal(t, 0, queue.Len())
	assert.Nil(t, queue.Current())
	assert.NotEmpty(t, queue.History())
}

func TestFavoriteEventUpdatesAllInstances(t *testing.T) {
	queue, bus := newTestQueue(t)

	// The same song twice plus an unrelated one
	queue.Add(makeSongs("a", "b", "a"), domain.PlayNow)

	bus.Publish(domain.NewFavoriteEvent([]string{"a"}, true))

	entries := queue.Entries()
	assert.True(t, entries[0].UserFavorite)
	assert.False(t, entries[1].UserFavorite)
	assert.True(t, entries[2].UserFavorite)
}

func TestRatingEventUpdatesEntries(t *testing.T) {
	queue, bus := newTestQueue(t)

	queue.Add(makeSongs("a", "b"), domain.PlayNow)
	bus.Publish(domain.NewRatingEvent([]string{"b"}, 4))

	entries := queue.Entries()
	assert.Equal(t, 0, entries[0].UserRating)
	assert.Equal(t, 4, entries[1].UserRating)
}

func TestPlayEventBumpsPlayCount(t *testing.T) {
	queue, bus := newTestQueue(t)

	queue.Add(makeSongs("a"), domain.PlayNow)
	playedAt := time.Now()
	bus.Publish(domain.NewPlayEvent([]string{"a"}, playedAt))

	entry := queue.Current()
	assert.Equal(t, 1, entry.PlayCount)
	require.NotNil(t, entry.LastPlayedAt)
	assert.WithinDuration(t, playedAt, *entry.LastPlayedAt, time.Second)
}

func TestQueueChangedEventPublished(t *testing.T) {
	queue, bus := newTestQueue(t)

	var events []domain.QueueChangedEvent
	bus.Subscribe(domain.EventQueueChanged, func(event domain.Event) {
		events = append(events, event.(domain.QueueChangedEvent))
	})

	queue.Add(makeSongs("a", "b"), domain.PlayNow)

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, []string{"a", "b"}, songIDs(last.Entries))
	assert.Equal(t, 0, last.CurrentIndex)
}

func TestSaveAndRestoreSession(t *testing.T) {
	repo := &memoryRepo{}
	bus := eventbus.NewSyncBus(logger.NewTestLogger())
	defer bus.Close()

	queue := NewQueueService(logger.NewTestLogger(), bus, repo)
	queue.Add(makeSongs("a", "b", "c"), domain.PlayNow)
	_, err := queue.Advance(domain.DirectionNext)
	require.NoError(t, err)
	queue.SetRepeat(domain.RepeatAll)

	require.NoError(t, queue.Save(0.7))
	require.NoError(t, queue.Shutdown())

	restored := NewQueueService(logger.NewTestLogger(), bus, repo)
	defer restored.Shutdown()

	volume, err := restored.Restore()
	require.NoError(t, err)

	assert.Equal(t, 0.7, volume)
	assert.Equal(t, []string{"a", "b", "c"}, songIDs(restored.Entries()))
	assert.Equal(t, "b", restored.Current().ID)
	assert.Equal(t, domain.RepeatAll, restored.Repeat())
}

func TestRestoreShuffledSessionKeepsCurrent(t *testing.T) {
	repo := &memoryRepo{}
	bus := eventbus.NewSyncBus(logger.NewTestLogger())
	defer bus.Close()

	queue := NewQueueService(logger.NewTestLogger(), bus, repo)
	queue.Add(makeSongs("a", "b", "c", "d"), domain.PlayNow)
	queue.SetShuffle(true)
	_, err := queue.Advance(domain.DirectionNext)
	require.NoError(t, err)
	currentID := queue.Current().ID

	require.NoError(t, queue.Save(1.0))
	require.NoError(t, queue.Shutdown())

	restored := NewQueueService(logger.NewTestLogger(), bus, repo)
	defer restored.Shutdown()

	_, err = restored.Restore()
	require.NoError(t, err)

	// A fresh shuffle order is computed with the saved current entry first
	assert.True(t, restored.Shuffled())
	assert.Equal(t, currentID, restored.Current().ID)
	assert.Equal(t, 0, restored.CurrentIndex())
}

func TestAddAfterRestoreContinuesQueueIndexSequence(t *testing.T) {
	repo := &memoryRepo{}
	bus := eventbus.NewSyncBus(logger.NewTestLogger())
	defer bus.Close()

	queue := NewQueueService(logger.NewTestLogger(), bus, repo)
	queue.Add(makeSongs("a", "b"), domain.PlayNow)
	require.NoError(t, queue.Save(1.0))
	require.NoError(t, queue.Shutdown())

	restored := NewQueueService(logger.NewTestLogger(), bus, repo)
	defer restored.Shutdown()
	_, err := restored.Restore()
	require.NoError(t, err)

	added := restored.Add(makeSongs("c"), domain.PlayLast)
	require.Len(t, added, 1)

	maxExisting := 0
	for _, e := range restored.Entries()[:2] {
		if e.QueueIndex > maxExisting {
			maxExisting = e.QueueIndex
		}
	}
	assert.Greater(t, added[0].QueueIndex, maxExisting)
}
