// Package store 基于 Badger 的订单记录持久化。
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	badger "github.com/dgraph-io/badger/v4"

	"liquidity-maker-go/order"
)

const keyPrefix = "order:"

// Options 打开参数。InMemory 为 true 时忽略 Path，测试用。
type Options struct {
	Path          string
	InMemory      bool
	EncryptionKey []byte // 32 字节；为空则不加密
}

// Store 实现 order.Store，键为 order:<pair>:<id>，值为 JSON。
type Store struct {
	db *badger.DB
}

var _ order.Store = (*Store)(nil)

func Open(opts Options) (*Store, error) {
	var bopts badger.Options
	switch {
	case opts.InMemory:
		bopts = badger.DefaultOptions("").WithInMemory(true)
	case strings.TrimSpace(opts.Path) != "":
		bopts = badger.DefaultOptions(opts.Path)
	default:
		return nil, errors.New("store: path is required")
	}
	bopts = bopts.WithLogger(nil)
	if len(opts.EncryptionKey) > 0 {
		bopts = bopts.
			WithEncryptionKey(opts.EncryptionKey).
			WithIndexCacheSize(100 << 20)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func recordKey(pair, id string) []byte {
	return []byte(keyPrefix + pair + ":" + id)
}

func (s *Store) Create(_ context.Context, r *order.Record) error {
	val, err := json.Marshal(r)
	if err != nil {
		return err
	}
	key := recordKey(r.Pair, r.ID)
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return fmt.Errorf("create %s: %w", r.ID, order.ErrDuplicate)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, val)
	})
}

func (s *Store) Save(_ context.Context, r *order.Record) error {
	val, err := json.Marshal(r)
	if err != nil {
		return err
	}
	key := recordKey(r.Pair, r.ID)
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("save %s: %w", r.ID, order.ErrUnknownOrder)
			}
			return err
		}
		return txn.Set(key, val)
	})
}

// Find 指定 Pair 时只扫描该交易对的前缀。
func (s *Store) Find(ctx context.Context, f order.Filter) ([]*order.Record, error) {
	prefix := []byte(keyPrefix)
	if f.Pair != "" {
		prefix = []byte(keyPrefix + f.Pair + ":")
	}
	res := make([]*order.Record, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec order.Record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			if f.Match(&rec) {
				res = append(res, &rec)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	order.SortByCreated(res)
	return res, nil
}
