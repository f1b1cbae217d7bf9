package database

import (
	"encoding/json"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/sealdice/sealbridge/storage"
	"github.com/sealdice/sealbridge/types"
	"github.com/sealdice/sealbridge/utils"
)

var ErrNotFound = storage.ErrNotFound

const DefaultHotSize = 1024

// DB 消息事件持久化，按 message_id 存取，近期读写的事件保留在内存中
type DB struct {
	kv  *storage.Store
	hot *lru.Cache[string, *types.Event]
}

func New(kv *storage.Store, hotSize int) (*DB, error) {
	if hotSize <= 0 {
		hotSize = DefaultHotSize
	}
	hot, err := lru.New[string, *types.Event](hotSize)
	if err != nil {
		return nil, err
	}
	return &DB{kv: kv, hot: hot}, nil
}

func messageKey(id string) string {
	return "msg:" + id
}

// 不带时间的消息ID到完整ID的索引，回复元素只给出序号和随机数
func aliasKey(id string) string {
	return "msgref:" + id
}

// untimed 去掉时间字段后的消息ID，没有时间字段时返回空
func untimed(messageID string) string {
	id, err := utils.DecodeMessageID(messageID)
	if err != nil || id.Time == nil {
		return ""
	}
	return utils.EncodeMessageID(id.Target, id.Seqs, id.Rands, nil)
}

// SaveEvent 保存消息事件，非消息事件会被拒绝
func (d *DB) SaveEvent(ev *types.Event) error {
	msg := ev.Message()
	if msg == nil {
		return fmt.Errorf("event %s is not a message", ev.ID)
	}
	if msg.MessageID == "" {
		return errors.New("message event without message_id")
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := d.kv.Put(messageKey(msg.MessageID), raw); err != nil {
		return err
	}
	if alias := untimed(msg.MessageID); alias != "" {
		if err := d.kv.Put(aliasKey(alias), []byte(msg.MessageID)); err != nil {
			return err
		}
	}
	d.hot.Add(msg.MessageID, ev)
	return nil
}

// Resolve 将不带时间的消息ID补全为已保存消息的完整ID，没有记录时原样返回
func (d *DB) Resolve(messageID string) string {
	raw, err := d.kv.Get(aliasKey(messageID))
	if err != nil {
		return messageID
	}
	return string(raw)
}

// GetEvent 按 message_id 查找，找不到返回 ErrNotFound
func (d *DB) GetEvent(messageID string) (*types.Event, error) {
	if ev, ok := d.hot.Get(messageID); ok {
		return ev, nil
	}
	raw, err := d.kv.Get(messageKey(messageID))
	if err != nil {
		return nil, err
	}
	ev := &types.Event{}
	if err := json.Unmarshal(raw, ev); err != nil {
		return nil, fmt.Errorf("decode message %s: %w", messageID, err)
	}
	d.hot.Add(messageID, ev)
	return ev, nil
}
