package order

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"liquidity-maker-go/market"
)

var (
	ErrUnknownOrder = errors.New("unknown order")
	ErrDuplicate    = errors.New("duplicate order")
)

// Filter 查询条件，零值字段不参与过滤。
type Filter struct {
	Pair       string
	Purpose    Purpose
	Side       market.Side
	ActiveOnly bool
	Since      time.Time // CreatedAt >= Since
}

// Match 判断记录是否满足条件。
func (f Filter) Match(r *Record) bool {
	if f.Pair != "" && r.Pair != f.Pair {
		return false
	}
	if f.Purpose != "" && r.Purpose != f.Purpose {
		return false
	}
	if f.Side != "" && r.Side != f.Side {
		return false
	}
	if f.ActiveOnly && !r.Active() {
		return false
	}
	if !f.Since.IsZero() && r.CreatedAt.Before(f.Since) {
		return false
	}
	return true
}

// Store 订单记录存储。单次调用内一致，并发写入后写者生效。
type Store interface {
	Find(ctx context.Context, f Filter) ([]*Record, error)
	Create(ctx context.Context, r *Record) error
	Save(ctx context.Context, r *Record) error
}

// MemoryStore 内存实现，读写都做拷贝。
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func (s *MemoryStore) Create(_ context.Context, r *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[r.ID]; ok {
		return fmt.Errorf("create %s: %w", r.ID, ErrDuplicate)
	}
	s.records[r.ID] = r.Clone()
	return nil
}

func (s *MemoryStore) Save(_ context.Context, r *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[r.ID]; !ok {
		return fmt.Errorf("save %s: %w", r.ID, ErrUnknownOrder)
	}
	s.records[r.ID] = r.Clone()
	return nil
}

// Find 按创建时间升序返回匹配记录的拷贝。
func (s *MemoryStore) Find(_ context.Context, f Filter) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]*Record, 0)
	for _, r := range s.records {
		if f.Match(r) {
			res = append(res, r.Clone())
		}
	}
	SortByCreated(res)
	return res, nil
}

// Get 按 ID 查询。
func (s *MemoryStore) Get(id string) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

// SortByCreated 按创建时间升序，时间相同按 ID。
func SortByCreated(records []*Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
}
