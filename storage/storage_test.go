package storage

import (
	"crypto/md5"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingBackend 记录批量提交次数
type countingBackend struct {
	mu      sync.Mutex
	data    map[string][]byte
	batches int
	closed  bool
}

func newCountingBackend() *countingBackend {
	return &countingBackend{data: map[string][]byte{}}
}

func (b *countingBackend) Get(key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func (b *countingBackend) PutBatch(items map[string][]byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.batches++
	for k, v := range items {
		b.data[k] = v
	}
	return nil
}

func (b *countingBackend) Close() error {
	b.closed = true
	return nil
}

func TestStoreFlushThreshold(t *testing.T) {
	as := assert.New(t)
	b := newCountingBackend()
	s := NewStore(b, 3)

	as.NoError(s.Put("a", []byte("1")))
	as.NoError(s.Put("b", []byte("2")))
	as.Equal(0, b.batches)
	as.Equal(2, s.Pending())

	// 未提交的数据可读
	v, err := s.Get("a")
	as.NoError(err)
	as.Equal("1", string(v))

	as.NoError(s.Put("c", []byte("3")))
	as.Equal(1, b.batches)
	as.Equal(0, s.Pending())

	as.NoError(s.Put("d", []byte("4")))
	as.NoError(s.Close())
	as.Equal(2, b.batches)
	as.True(b.closed)
	as.Equal("4", string(b.data["d"]))

	as.Error(s.Put("e", nil))
}

func TestStoreMissing(t *testing.T) {
	s := NewStore(newCountingBackend(), 0)
	_, err := s.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func testBackend(t *testing.T, kind string) {
	as := assert.New(t)
	dir := t.TempDir()
	s, err := Open(kind, dir, 2)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		as.NoError(s.Put(fmt.Sprintf("k%d", i), []byte(fmt.Sprintf("v%d", i))))
	}
	as.NoError(s.Put("k0", []byte("again")))
	require.NoError(t, s.Close())

	s, err = Open(kind, dir, 2)
	require.NoError(t, err)
	defer s.Close()

	v, err := s.Get("k0")
	as.NoError(err)
	as.Equal("again", string(v))
	v, err = s.Get("k4")
	as.NoError(err)
	as.Equal("v4", string(v))
	_, err = s.Get("missing")
	as.ErrorIs(err, ErrNotFound)
}

func TestBuntBackend(t *testing.T)   { testBackend(t, BackendBunt) }
func TestSqliteBackend(t *testing.T) { testBackend(t, BackendSqlite) }

func TestUnknownBackend(t *testing.T) {
	_, err := OpenBackend("leveldb", t.TempDir())
	assert.Error(t, err)
}

func TestMediaID(t *testing.T) {
	as := assert.New(t)
	data := []byte("hello image")
	id := MediaIDOf(data)
	as.Len(id, 40)
	as.Equal(id, MediaIDOf([]byte("hello image")))
	as.NotEqual(id, MediaIDOf([]byte("hello image!")))

	sum, size, err := ParseMediaID(id)
	as.NoError(err)
	as.Equal(md5.Sum(data), sum)
	as.EqualValues(len(data), size)

	_, _, err = ParseMediaID("zz")
	as.Error(err)
}

func TestMediaIdempotent(t *testing.T) {
	as := assert.New(t)
	dir := t.TempDir()
	kv := NewStore(newCountingBackend(), 8)
	m, err := NewMedia(kv, dir)
	require.NoError(t, err)

	data := []byte{1, 2, 3, 4}
	a, err := m.SaveData(KindImage, "a.png", data)
	require.NoError(t, err)
	b, err := m.SaveData(KindImage, "a.png", data)
	require.NoError(t, err)
	as.Equal(a, b)

	read, err := m.ReadData(a)
	as.NoError(err)
	as.Equal(data, read)
}

func TestMediaUpsertMergesFlavors(t *testing.T) {
	as := assert.New(t)
	m, err := NewMedia(NewStore(newCountingBackend(), 8), t.TempDir())
	require.NoError(t, err)

	id := MediaIDOf([]byte("pic"))
	_, err = m.Upsert(&MediaObject{ID: id, Kind: KindImage, URL: "http://x/pic"})
	require.NoError(t, err)
	_, err = m.Upsert(&MediaObject{ID: id, GroupRef: "g-ref"})
	require.NoError(t, err)
	obj, err := m.Upsert(&MediaObject{ID: id, FriendRef: "f-ref"})
	require.NoError(t, err)

	as.Equal(KindImage, obj.Kind)
	as.Equal("http://x/pic", obj.URL)
	as.Equal("g-ref", obj.GroupRef)
	as.Equal("f-ref", obj.FriendRef)
	as.EqualValues(3, obj.Size)

	got, err := m.Get(id)
	as.NoError(err)
	as.Equal(obj, got)

	_, err = m.Get(MediaIDOf([]byte("other")))
	as.ErrorIs(err, ErrNotFound)
	_, err = m.Upsert(&MediaObject{})
	as.Error(err)
}
