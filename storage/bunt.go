package storage

import (
	"errors"

	"github.com/tidwall/buntdb"
)

type buntBackend struct {
	db *buntdb.DB
}

// OpenBunt 打开 buntdb 文件，path 为 ":memory:" 时仅在内存中
func OpenBunt(path string) (Backend, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, err
	}
	var cfg buntdb.Config
	if err := db.ReadConfig(&cfg); err != nil {
		_ = db.Close()
		return nil, err
	}
	cfg.SyncPolicy = buntdb.EverySecond
	if err := db.SetConfig(cfg); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &buntBackend{db: db}, nil
}

func (b *buntBackend) Get(key string) ([]byte, error) {
	var value string
	err := b.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(key)
		if err != nil {
			return err
		}
		value = v
		return nil
	})
	if errors.Is(err, buntdb.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(value), nil
}

func (b *buntBackend) PutBatch(items map[string][]byte) error {
	return b.db.Update(func(tx *buntdb.Tx) error {
		for k, v := range items {
			if _, _, err := tx.Set(k, string(v), nil); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *buntBackend) Close() error {
	return b.db.Close()
}
