package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

var ErrNotFound = errors.New("storage: key not found")

// Backend 键值存储后端，实现需并发安全
type Backend interface {
	// Get 读取键，不存在时返回 ErrNotFound
	Get(key string) ([]byte, error)
	// PutBatch 在一次事务内写入全部键值
	PutBatch(items map[string][]byte) error
	Close() error
}

const (
	BackendBunt   = "bunt"
	BackendSqlite = "sqlite"

	DefaultFlushEvery = 8
)

// OpenBackend 按名称在 dir 下打开后端
func OpenBackend(kind, dir string) (Backend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	switch kind {
	case BackendBunt, "":
		return OpenBunt(filepath.Join(dir, "data.db"))
	case BackendSqlite:
		return OpenSqlite(filepath.Join(dir, "data.sqlite"))
	default:
		return nil, fmt.Errorf("unknown storage backend %q", kind)
	}
}

// Store 带写缓冲的键值存储
//
// 写入先进入内存，累计 flushEvery 次后批量提交；读取优先命中未提交的数据
type Store struct {
	backend    Backend
	flushEvery int

	mu      sync.Mutex
	pending map[string][]byte
	writes  int
	closed  bool
}

func NewStore(b Backend, flushEvery int) *Store {
	if flushEvery <= 0 {
		flushEvery = DefaultFlushEvery
	}
	return &Store{
		backend:    b,
		flushEvery: flushEvery,
		pending:    map[string][]byte{},
	}
}

// Open 打开指定后端并包装为 Store
func Open(kind, dir string, flushEvery int) (*Store, error) {
	b, err := OpenBackend(kind, dir)
	if err != nil {
		return nil, err
	}
	return NewStore(b, flushEvery), nil
}

func (s *Store) Get(key string) ([]byte, error) {
	s.mu.Lock()
	if v, ok := s.pending[key]; ok {
		s.mu.Unlock()
		return v, nil
	}
	s.mu.Unlock()
	return s.backend.Get(key)
}

func (s *Store) Put(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("storage: store closed")
	}
	s.pending[key] = value
	s.writes++
	if s.writes >= s.flushEvery {
		return s.flushLocked()
	}
	return nil
}

// Pending 尚未提交的键数量
func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *Store) flushLocked() error {
	s.writes = 0
	if len(s.pending) == 0 {
		return nil
	}
	if err := s.backend.PutBatch(s.pending); err != nil {
		zap.S().Named("storage").Errorf("批量写入失败(%d 项): %v", len(s.pending), err)
		return err
	}
	s.pending = map[string][]byte{}
	return nil
}

// Close 提交剩余写入并关闭后端
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	flushErr := s.flushLocked()
	return errors.Join(flushErr, s.backend.Close())
}
