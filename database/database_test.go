package database

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/sealdice/sealbridge/storage"
	"github.com/sealdice/sealbridge/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("github.com/tidwall/buntdb.(*DB).backgroundManager"))
}

func msgEvent(id string) *types.Event {
	return &types.Event{
		ID:       "uuid-" + id,
		Impl:     types.ImplName,
		Platform: types.PlatformName,
		SelfID:   "10001",
		Time:     1,
		Content: &types.MessageContent{
			DetailType: types.DetailPrivate,
			MessageID:  id,
			Message:    types.Segments{types.TextSegment("hi " + id)},
			UserID:     "42",
		},
	}
}

func TestDBSaveAndGet(t *testing.T) {
	as := assert.New(t)
	backend, err := storage.OpenBunt(":memory:")
	require.NoError(t, err)
	kv := storage.NewStore(backend, 1)
	defer kv.Close()

	db, err := New(kv, 2)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		require.NoError(t, db.SaveEvent(msgEvent(fmt.Sprintf("42 %d %d 100", i, i))))
	}

	// 最早的条目已不在内存缓存中，需从存储读回
	ev, err := db.GetEvent("42 0 0 100")
	require.NoError(t, err)
	as.Equal("uuid-42 0 0 100", ev.ID)
	as.Equal("hi 42 0 0 100", ev.Message().Message[0].Str("text"))

	_, err = db.GetEvent("nope")
	as.ErrorIs(err, ErrNotFound)
}

func TestDBRejectsNonMessage(t *testing.T) {
	backend, err := storage.OpenBunt(":memory:")
	require.NoError(t, err)
	kv := storage.NewStore(backend, 1)
	defer kv.Close()
	db, err := New(kv, 0)
	require.NoError(t, err)

	err = db.SaveEvent(&types.Event{ID: "x", Content: &types.NoticeContent{DetailType: types.DetailFriendIncrease}})
	assert.Error(t, err)
}

func TestRecentEvictsOldest(t *testing.T) {
	as := assert.New(t)
	r := NewRecent(3)
	for i := 0; i < 5; i++ {
		r.Push(msgEvent(fmt.Sprint(i)))
	}
	as.Equal(3, r.Len())

	out := r.Take(2)
	require.Len(t, out, 2)
	as.Equal("2", out[0].Message().MessageID)
	as.Equal("3", out[1].Message().MessageID)

	out = r.Take(0)
	require.Len(t, out, 1)
	as.Equal("4", out[0].Message().MessageID)
	as.Empty(r.Take(0))
}

func TestRecentWaitTimeout(t *testing.T) {
	r := NewRecent(4)
	start := time.Now()
	out := r.Wait(context.Background(), 0, 50*time.Millisecond)
	assert.Empty(t, out)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestRecentWaitWakes(t *testing.T) {
	r := NewRecent(4)
	var wg sync.WaitGroup
	results := make([][]*types.Event, 3)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.Wait(context.Background(), 1, 2*time.Second)
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	for i := 0; i < 3; i++ {
		r.Push(msgEvent(fmt.Sprint(i)))
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, res := range results {
		for _, ev := range res {
			seen[ev.Message().MessageID] = true
		}
	}
	// 每个事件只会被一个等待者取走
	total := 0
	for _, res := range results {
		total += len(res)
	}
	assert.Equal(t, total, len(seen))
	assert.Equal(t, 3, total+r.Len())
}

func TestRecentWaitCancel(t *testing.T) {
	r := NewRecent(4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan []*types.Event)
	go func() { done <- r.Wait(ctx, 0, time.Minute) }()
	cancel()
	select {
	case out := <-done:
		assert.Empty(t, out)
	case <-time.After(time.Second):
		t.Fatal("wait did not return after cancel")
	}
}
