// Package statestore is the Redis-backed StateStore: authoritative
// persistence of Jobs and Results, scoped by owner, grounded in the
// teacher's queue/redis.go read-modify-write style and pkg/cache/cache.go's
// direct use of *redis.Client for custom sequences, generalized to the
// job/page/result schema and its fan-in counters.
package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"docmark/internal/core/domain"
	"docmark/pkg/cache"
)

// ErrNotFound is returned by GetJob/GetResult when the record is absent or
// its TTL has expired.
var ErrNotFound = errors.New("statestore: not found")

// Store implements ports.StateStore against a single Redis instance. Job
// records live under job:{id}:status with a status TTL; results are kept
// separately in a pkg/cache.Cache instance with its own TTL.
type Store struct {
	client      *redis.Client
	statusTTL   time.Duration
	resultCache *cache.Cache
}

func New(client *redis.Client, statusTTL time.Duration, resultCache *cache.Cache) *Store {
	return &Store{client: client, statusTTL: statusTTL, resultCache: resultCache}
}

func jobKey(id string) string          { return fmt.Sprintf("job:%s:status", id) }
func resultKey(id string) string       { return fmt.Sprintf("job:%s:result", id) }
func pagesCurrentKey(main string) string { return fmt.Sprintf("job:%s:pages", main) }
func counterKey(main string) string    { return fmt.Sprintf("job:%s:counter", main) }
func mergeLatchKey(main string) string { return fmt.Sprintf("job:%s:merge_latch", main) }
func ownerIndexKey(owner string) string { return fmt.Sprintf("owner:%s:jobs", owner) }

func (s *Store) PutJob(ctx context.Context, job *domain.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := s.client.Set(ctx, jobKey(job.ID), data, s.statusTTL).Err(); err != nil {
		return fmt.Errorf("put job: %w", err)
	}
	if job.Type == domain.JobTypeMain {
		if err := s.client.SAdd(ctx, ownerIndexKey(job.OwnerID), job.ID).Err(); err != nil {
			return fmt.Errorf("index job: %w", err)
		}
		s.client.Expire(ctx, ownerIndexKey(job.OwnerID), s.statusTTL)
	}
	return nil
}

func (s *Store) getJobRaw(ctx context.Context, id string) (*domain.Job, error) {
	data, err := s.client.Get(ctx, jobKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	var job domain.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	return &job, nil
}

// GetJob loads the job record and, for a main job with a known page count,
// hydrates PagesCompleted/PagesFailed from the live Redis counters so every
// read reflects in-flight fan-in progress rather than a stale snapshot.
func (s *Store) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	job, err := s.getJobRaw(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Type == domain.JobTypeMain && job.TotalPages != nil {
		completed, failed, err := s.readCounters(ctx, id)
		if err == nil {
			job.PagesCompleted = completed
			job.PagesFailed = failed
		}
	}
	return job, nil
}

func (s *Store) readCounters(ctx context.Context, mainID string) (completed, failed int, err error) {
	vals, err := s.client.HMGet(ctx, counterKey(mainID), "completed", "failed").Result()
	if err != nil {
		return 0, 0, err
	}
	if v, ok := vals[0].(string); ok {
		completed, _ = strconv.Atoi(v)
	}
	if v, ok := vals[1].(string); ok {
		failed, _ = strconv.Atoi(v)
	}
	return completed, failed, nil
}

// AddChild atomically appends childID to parentID's child list using a
// Redis optimistic WATCH/MULTI loop, per the atomicity requirement in
// §4.1. For page children it also updates the page_number -> current job
// id index used by ListPages.
func (s *Store) AddChild(ctx context.Context, parentID string, kind domain.JobType, childID string) error {
	key := jobKey(parentID)
	const maxAttempts = 10
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err == redis.Nil {
				return ErrNotFound
			}
			if err != nil {
				return err
			}
			var parent domain.Job
			if err := json.Unmarshal(data, &parent); err != nil {
				return err
			}
			switch kind {
			case domain.JobTypeSplit:
				parent.ChildIDs.SplitID = childID
			case domain.JobTypeMerge:
				parent.ChildIDs.MergeID = childID
			case domain.JobTypePage:
				parent.ChildIDs.PageIDs = append(parent.ChildIDs.PageIDs, childID)
			}
			newData, err := json.Marshal(&parent)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, newData, s.statusTTL)
				return nil
			})
			return err
		}, key)
		if err == nil {
			break
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return fmt.Errorf("add child: %w", err)
	}

	if kind == domain.JobTypePage {
		child, err := s.getJobRaw(ctx, childID)
		if err == nil {
			return s.SetCurrentPage(ctx, parentID, child.PageNumber, childID)
		}
	}
	return nil
}

func (s *Store) IncPageCounter(ctx context.Context, mainID, field string, delta int) (int, error) {
	if field != "completed" && field != "failed" {
		return 0, fmt.Errorf("invalid counter field %q", field)
	}
	val, err := s.client.HIncrBy(ctx, counterKey(mainID), field, int64(delta)).Result()
	if err != nil {
		return 0, fmt.Errorf("inc counter: %w", err)
	}
	s.client.Expire(ctx, counterKey(mainID), s.statusTTL)
	return int(val), nil
}

func (s *Store) SetCurrentPage(ctx context.Context, mainID string, pageNumber int, pageJobID string) error {
	if err := s.client.HSet(ctx, pagesCurrentKey(mainID), strconv.Itoa(pageNumber), pageJobID).Err(); err != nil {
		return fmt.Errorf("set current page: %w", err)
	}
	s.client.Expire(ctx, pagesCurrentKey(mainID), s.statusTTL)
	return nil
}

func (s *Store) GetCurrentPage(ctx context.Context, mainID string, pageNumber int) (string, error) {
	id, err := s.client.HGet(ctx, pagesCurrentKey(mainID), strconv.Itoa(pageNumber)).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get current page: %w", err)
	}
	return id, nil
}

// ListPages returns the current page record for every page_number of
// mainID, ordered by page_number (stable order, per §4.1).
func (s *Store) ListPages(ctx context.Context, mainID string) ([]*domain.Job, error) {
	entries, err := s.client.HGetAll(ctx, pagesCurrentKey(mainID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	numbers := make([]int, 0, len(entries))
	byNumber := make(map[int]string, len(entries))
	for numStr, jobID := range entries {
		n, err := strconv.Atoi(numStr)
		if err != nil {
			continue
		}
		numbers = append(numbers, n)
		byNumber[n] = jobID
	}
	sort.Ints(numbers)

	pages := make([]*domain.Job, 0, len(numbers))
	for _, n := range numbers {
		job, err := s.getJobRaw(ctx, byNumber[n])
		if err != nil {
			continue
		}
		pages = append(pages, job)
	}
	return pages, nil
}

func (s *Store) PutResult(ctx context.Context, jobID string, result *domain.Result, ttl time.Duration) error {
	if err := s.resultCache.Set(ctx, resultKey(jobID), result, ttl); err != nil {
		return fmt.Errorf("put result: %w", err)
	}
	return nil
}

func (s *Store) GetResult(ctx context.Context, jobID string) (*domain.Result, error) {
	raw, err := s.resultCache.Get(ctx, resultKey(jobID))
	if err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get result: %w", err)
	}
	// raw came back through a JSON round trip as map[string]interface{};
	// re-marshal into the concrete Result type.
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("remarshal result: %w", err)
	}
	var result domain.Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &result, nil
}

// DeleteSubtree removes main, split, all pages, merge, and all results for
// mainID (invariant I6).
func (s *Store) DeleteSubtree(ctx context.Context, mainID string) error {
	main, err := s.getJobRaw(ctx, mainID)
	if errors.Is(err, ErrNotFound) {
		return nil // already gone; deletion is idempotent
	}
	if err != nil {
		return fmt.Errorf("delete subtree: %w", err)
	}

	ids := []string{mainID}
	if main.ChildIDs.SplitID != "" {
		ids = append(ids, main.ChildIDs.SplitID)
	}
	ids = append(ids, main.ChildIDs.PageIDs...)
	if main.ChildIDs.MergeID != "" {
		ids = append(ids, main.ChildIDs.MergeID)
	}

	pipe := s.client.Pipeline()
	for _, id := range ids {
		pipe.Del(ctx, jobKey(id))
	}
	pipe.Del(ctx, pagesCurrentKey(mainID))
	pipe.Del(ctx, counterKey(mainID))
	pipe.Del(ctx, mergeLatchKey(mainID))
	pipe.SRem(ctx, ownerIndexKey(main.OwnerID), mainID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete subtree: %w", err)
	}

	for _, id := range ids {
		_ = s.resultCache.Delete(ctx, resultKey(id))
	}
	return nil
}

func (s *Store) ListJobsByOwner(ctx context.Context, owner string, filter domain.JobFilter, page, size int) ([]*domain.Job, int, error) {
	ids, err := s.client.SMembers(ctx, ownerIndexKey(owner)).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}

	var matched []*domain.Job
	for _, id := range ids {
		job, err := s.GetJob(ctx, id)
		if err != nil {
			continue
		}
		if job.OwnerID != owner {
			continue
		}
		if filter.Matches(job) {
			matched = append(matched, job)
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

func (s *Store) TryLatchMerge(ctx context.Context, mainID, mergeID string) (bool, error) {
	won, err := s.client.SetNX(ctx, mergeLatchKey(mainID), mergeID, s.statusTTL).Result()
	if err != nil {
		return false, fmt.Errorf("merge latch: %w", err)
	}
	return won, nil
}

func (s *Store) GetMergeLatch(ctx context.Context, mainID string) (string, error) {
	id, err := s.client.Get(ctx, mergeLatchKey(mainID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get merge latch: %w", err)
	}
	return id, nil
}

// ResetMergeLatch clears the latch so a retried page can trigger a fresh
// merge once fan-in completes again (§4.3.9).
func (s *Store) ResetMergeLatch(ctx context.Context, mainID string) error {
	if err := s.client.Del(ctx, mergeLatchKey(mainID)).Err(); err != nil {
		return fmt.Errorf("reset merge latch: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
