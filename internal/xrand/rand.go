// Package xrand 提供可注入的随机源。
// 价差内偏移、挂单寿命、下单数量等随机化是刻意的反预测手段，测试时用固定种子复现。
package xrand

import (
	"math/rand"
	"sync"
	"time"
)

// Source 随机源接口，Float64 返回 [0,1)。
type Source interface {
	Float64() float64
}

// Locked 并发安全的 math/rand 包装。
type Locked struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// New 返回以当前时间为种子的随机源。
func New() *Locked {
	return NewSeeded(time.Now().UnixNano())
}

// NewSeeded 返回固定种子的随机源。
func NewSeeded(seed int64) *Locked {
	return &Locked{rnd: rand.New(rand.NewSource(seed))}
}

func (l *Locked) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rnd.Float64()
}

// Fixed 始终返回同一个值，测试用。
type Fixed float64

func (f Fixed) Float64() float64 { return float64(f) }

// Sequence 依次返回给定的值，用完后循环。
type Sequence struct {
	mu     sync.Mutex
	values []float64
	pos    int
}

func NewSequence(values ...float64) *Sequence {
	return &Sequence{values: values}
}

func (s *Sequence) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.values) == 0 {
		return 0
	}
	v := s.values[s.pos%len(s.values)]
	s.pos++
	return v
}

// Between 返回 [lo, hi) 内的均匀随机数；lo>=hi 时返回 lo。
func Between(src Source, lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	return lo + src.Float64()*(hi-lo)
}

// IntBetween 返回 [lo, hi] 内的随机整数。
func IntBetween(src Source, lo, hi int) int {
	if hi <= lo {
		return lo
	}
	n := lo + int(src.Float64()*float64(hi-lo+1))
	if n > hi {
		n = hi
	}
	return n
}

// DurationBetween 返回 [lo, hi) 内的随机时长。
func DurationBetween(src Source, lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(src.Float64()*float64(hi-lo))
}

// Chance 以概率 p 返回 true。
func Chance(src Source, p float64) bool {
	return src.Float64() < p
}
