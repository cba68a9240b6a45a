// Package fake is an in-memory ports.StateStore used by orchestrator unit
// tests so business logic never depends on a running Redis.
package fake

import (
	"context"
	"sort"
	"sync"
	"time"

	"docmark/internal/core/domain"
	"docmark/internal/platform/statestore"
)

type resultEntry struct {
	result  *domain.Result
	expires time.Time
}

type Store struct {
	mu           sync.Mutex
	jobs         map[string]*domain.Job
	currentPages map[string]map[int]string // mainID -> pageNumber -> jobID
	counters     map[string]map[string]int // mainID -> field -> value
	mergeLatch   map[string]string
	results      map[string]resultEntry
	ownerIndex   map[string]map[string]struct{}
}

func New() *Store {
	return &Store{
		jobs:         make(map[string]*domain.Job),
		currentPages: make(map[string]map[int]string),
		counters:     make(map[string]map[string]int),
		mergeLatch:   make(map[string]string),
		results:      make(map[string]resultEntry),
		ownerIndex:   make(map[string]map[string]struct{}),
	}
}

func (s *Store) PutJob(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job.Clone()
	if job.Type == domain.JobTypeMain {
		if s.ownerIndex[job.OwnerID] == nil {
			s.ownerIndex[job.OwnerID] = make(map[string]struct{})
		}
		s.ownerIndex[job.OwnerID][job.ID] = struct{}{}
	}
	return nil
}

func (s *Store) GetJob(_ context.Context, id string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, statestore.ErrNotFound
	}
	clone := job.Clone()
	if clone.Type == domain.JobTypeMain && clone.TotalPages != nil {
		if c, ok := s.counters[id]; ok {
			clone.PagesCompleted = c["completed"]
			clone.PagesFailed = c["failed"]
		}
	}
	return clone, nil
}

func (s *Store) AddChild(_ context.Context, parentID string, kind domain.JobType, childID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	parent, ok := s.jobs[parentID]
	if !ok {
		return statestore.ErrNotFound
	}
	switch kind {
	case domain.JobTypeSplit:
		parent.ChildIDs.SplitID = childID
	case domain.JobTypeMerge:
		parent.ChildIDs.MergeID = childID
	case domain.JobTypePage:
		parent.ChildIDs.PageIDs = append(parent.ChildIDs.PageIDs, childID)
		if child, ok := s.jobs[childID]; ok {
			if s.currentPages[parentID] == nil {
				s.currentPages[parentID] = make(map[int]string)
			}
			s.currentPages[parentID][child.PageNumber] = childID
		}
	}
	return nil
}

func (s *Store) IncPageCounter(_ context.Context, mainID, field string, delta int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counters[mainID] == nil {
		s.counters[mainID] = make(map[string]int)
	}
	s.counters[mainID][field] += delta
	return s.counters[mainID][field], nil
}

func (s *Store) ListPages(_ context.Context, mainID string) ([]*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.currentPages[mainID]
	numbers := make([]int, 0, len(current))
	for n := range current {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)
	pages := make([]*domain.Job, 0, len(numbers))
	for _, n := range numbers {
		if job, ok := s.jobs[current[n]]; ok {
			pages = append(pages, job.Clone())
		}
	}
	return pages, nil
}

func (s *Store) SetCurrentPage(_ context.Context, mainID string, pageNumber int, pageJobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentPages[mainID] == nil {
		s.currentPages[mainID] = make(map[int]string)
	}
	s.currentPages[mainID][pageNumber] = pageJobID
	return nil
}

func (s *Store) GetCurrentPage(_ context.Context, mainID string, pageNumber int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.currentPages[mainID][pageNumber]
	if !ok {
		return "", statestore.ErrNotFound
	}
	return id, nil
}

func (s *Store) PutResult(_ context.Context, jobID string, result *domain.Result, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *result
	s.results[jobID] = resultEntry{result: &clone, expires: time.Now().Add(ttl)}
	return nil
}

func (s *Store) GetResult(_ context.Context, jobID string) (*domain.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.results[jobID]
	if !ok || time.Now().After(entry.expires) {
		return nil, statestore.ErrNotFound
	}
	clone := *entry.result
	return &clone, nil
}

func (s *Store) DeleteSubtree(_ context.Context, mainID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	main, ok := s.jobs[mainID]
	if !ok {
		return nil
	}
	ids := []string{mainID}
	if main.ChildIDs.SplitID != "" {
		ids = append(ids, main.ChildIDs.SplitID)
	}
	ids = append(ids, main.ChildIDs.PageIDs...)
	if main.ChildIDs.MergeID != "" {
		ids = append(ids, main.ChildIDs.MergeID)
	}
	for _, id := range ids {
		delete(s.jobs, id)
		delete(s.results, id)
	}
	delete(s.currentPages, mainID)
	delete(s.counters, mainID)
	delete(s.mergeLatch, mainID)
	if owned, ok := s.ownerIndex[main.OwnerID]; ok {
		delete(owned, mainID)
	}
	return nil
}

func (s *Store) ListJobsByOwner(_ context.Context, owner string, filter domain.JobFilter, page, size int) ([]*domain.Job, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []*domain.Job
	for id := range s.ownerIndex[owner] {
		job, ok := s.jobs[id]
		if !ok {
			continue
		}
		if filter.Matches(job) {
			matched = append(matched, job.Clone())
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	total := len(matched)
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}
	start := (page - 1) * size
	if start >= total {
		return []*domain.Job{}, total, nil
	}
	end := start + size
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (s *Store) TryLatchMerge(_ context.Context, mainID, mergeID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.mergeLatch[mainID]; exists {
		return false, nil
	}
	s.mergeLatch[mainID] = mergeID
	return true, nil
}

func (s *Store) GetMergeLatch(_ context.Context, mainID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mergeLatch[mainID], nil
}

func (s *Store) ResetMergeLatch(_ context.Context, mainID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.mergeLatch, mainID)
	return nil
}

func (s *Store) Ping(_ context.Context) error { return nil }
