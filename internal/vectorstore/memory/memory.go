// Package memory 是进程内的暴力余弦检索存储。
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/John-Robertt/reelrag/internal/vectorstore"
)

// Store 按写入顺序保存文档与向量。
type Store struct {
	mu     sync.RWMutex
	dim    int
	items  []vectorstore.Candidate
	closed bool
}

func New() *Store { return &Store{} }

func (s *Store) Add(ctx context.Context, docs []vectorstore.Document, vectors [][]float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vectorstore.ErrClosed
	}
	dim, err := vectorstore.CheckBatch(docs, vectors, s.dim)
	if err != nil {
		return err
	}
	s.dim = dim
	for i := range docs {
		v := append([]float64(nil), vectors[i]...)
		s.items = append(s.items, vectorstore.Candidate{Doc: docs[i], Vector: v})
	}
	return nil
}

func (s *Store) Query(ctx context.Context, vector []float64, f vectorstore.Filter, k int) ([]vectorstore.Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, vectorstore.ErrClosed
	}
	if s.dim != 0 && len(vector) != s.dim {
		return nil, fmt.Errorf("%w：期望 %d，实际 %d", vectorstore.ErrDimension, s.dim, len(vector))
	}
	var cands []vectorstore.Candidate
	for _, it := range s.items {
		if f.Match(it.Doc.Meta) {
			cands = append(cands, it)
		}
	}
	return vectorstore.Rank(vector, cands, k), nil
}

func (s *Store) Documents(ctx context.Context, f vectorstore.Filter) ([]vectorstore.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, vectorstore.ErrClosed
	}
	var out []vectorstore.Document
	for _, it := range s.items {
		if f.Match(it.Doc.Meta) {
			out = append(out, it.Doc)
		}
	}
	return out, nil
}

func (s *Store) Titles(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, vectorstore.ErrClosed
	}
	seen := make(map[string]struct{})
	var out []string
	for _, it := range s.items {
		m := it.Doc.Meta
		if m.Type != vectorstore.TypeOverview {
			continue
		}
		key := strings.ToLower(m.Title)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, m.Title)
	}
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i]) < strings.ToLower(out[j]) })
	return out, nil
}

func (s *Store) DeleteTitle(ctx context.Context, title string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, vectorstore.ErrClosed
	}
	f := vectorstore.Filter{Title: title}
	kept := s.items[:0]
	n := 0
	for _, it := range s.items {
		if f.Match(it.Doc.Meta) {
			n++
			continue
		}
		kept = append(kept, it)
	}
	// 清掉尾部引用，避免已删除的向量无法回收。
	for i := len(kept); i < len(s.items); i++ {
		s.items[i] = vectorstore.Candidate{}
	}
	s.items = kept
	if len(s.items) == 0 {
		s.dim = 0
	}
	return n, nil
}

func (s *Store) Stats(ctx context.Context) (vectorstore.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := vectorstore.Stats{Sources: map[string]int{}}
	if s.closed {
		return st, vectorstore.ErrClosed
	}
	for _, it := range s.items {
		st.Count(it.Doc.Meta)
	}
	return st, nil
}

func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vectorstore.ErrClosed
	}
	s.items = nil
	s.dim = 0
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.items = nil
	return nil
}
