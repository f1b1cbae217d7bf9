package database

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/sealdice/sealbridge/types"
)

const DefaultRecentSize = 256

// Recent 近期事件队列，超出容量时丢弃最旧的事件
type Recent struct {
	mu       sync.Mutex
	items    *list.List
	capacity int
	// 每次写入后关闭并替换，用于唤醒所有等待者
	notify chan struct{}
}

func NewRecent(capacity int) *Recent {
	if capacity <= 0 {
		capacity = DefaultRecentSize
	}
	return &Recent{
		items:    list.New(),
		capacity: capacity,
		notify:   make(chan struct{}),
	}
}

func (r *Recent) Push(ev *types.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items.PushBack(ev)
	for r.items.Len() > r.capacity {
		r.items.Remove(r.items.Front())
	}
	close(r.notify)
	r.notify = make(chan struct{})
}

func (r *Recent) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.items.Len()
}

// Take 按时间顺序取出至多 limit 个事件，limit <= 0 表示全部
func (r *Recent) Take(limit int) []*types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out, _ := r.takeLocked(limit)
	return out
}

func (r *Recent) takeLocked(limit int) ([]*types.Event, <-chan struct{}) {
	n := r.items.Len()
	if limit > 0 && limit < n {
		n = limit
	}
	if n == 0 {
		return nil, r.notify
	}
	out := make([]*types.Event, 0, n)
	for i := 0; i < n; i++ {
		front := r.items.Front()
		out = append(out, r.items.Remove(front).(*types.Event))
	}
	return out, nil
}

// Wait 与 Take 相同，但队列为空时最多等待 timeout，期间无新事件则返回空列表
func (r *Recent) Wait(ctx context.Context, limit int, timeout time.Duration) []*types.Event {
	r.mu.Lock()
	out, ch := r.takeLocked(limit)
	r.mu.Unlock()
	if out != nil || timeout <= 0 {
		return out
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-ch:
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return nil
		}
		r.mu.Lock()
		out, ch = r.takeLocked(limit)
		r.mu.Unlock()
		if out != nil {
			return out
		}
	}
}
