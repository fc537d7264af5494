package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	recq "github.com/ricmsdev/eventcad-sub001"
	"github.com/ricmsdev/eventcad-sub001/id"
	"github.com/ricmsdev/eventcad-sub001/job"
	"github.com/ricmsdev/eventcad-sub001/scheduler"
)

// casScript swaps the stored record JSON conditional on the version the
// caller read, and keeps the dispatch index in step. Returns 1 on
// success, 0 when the record is missing, -1 on a version conflict.
//
// KEYS[1] = job key, KEYS[2] = dispatch key
// ARGV[1] = expected version, ARGV[2] = new JSON, ARGV[3] = "1" to index
// the job as claimable, ARGV[4] = dispatch score, ARGV[5] = job ID
var casScript = goredis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then
	return 0
end
local cur = cjson.decode(raw)
if tonumber(cur['version']) ~= tonumber(ARGV[1]) then
	return -1
end
redis.call('SET', KEYS[1], ARGV[2])
if ARGV[3] == '1' then
	redis.call('ZADD', KEYS[2], tonumber(ARGV[4]), ARGV[5])
else
	redis.call('ZREM', KEYS[2], ARGV[5])
end
return 1
`)

// candidateBatch is how many dispatch-index members are loaded per
// round while filtering for eligibility.
const candidateBatch = 128

// dispatchScore orders the claimable index: ascending priority first,
// then ascending schedule time. Unscheduled jobs use zero so they sort
// ahead of scheduled ones; creation-time ties are broken by the caller
// after loading.
func dispatchScore(r *job.Record) float64 {
	var sched int64
	if r.ScheduledFor != nil {
		sched = r.ScheduledFor.Unix()
	}
	return float64(r.Priority)*1e12 + float64(sched)
}

// claimable reports whether the record belongs in the dispatch index.
func claimable(r *job.Record) bool {
	return r.Status == job.StatusPending || r.Status == job.StatusQueued
}

// CreateJob persists a new record and indexes it for dispatch.
func (s *Store) CreateJob(ctx context.Context, r *job.Record) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("recq/redis: marshal job: %w", err)
	}

	jID := r.ID.String()
	ok, err := s.client.SetNX(ctx, jobKey(jID), raw, 0).Result()
	if err != nil {
		return fmt.Errorf("recq/redis: create job: %w", err)
	}
	if !ok {
		return recq.ErrJobAlreadyExists
	}

	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, jobIDsKey, jID)
	if claimable(r) {
		pipe.ZAdd(ctx, dispatchKey, goredis.Z{Score: dispatchScore(r), Member: jID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("recq/redis: create job index: %w", err)
	}
	return nil
}

// GetJob retrieves a record by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Record, error) {
	return s.getJobByKey(ctx, jobKey(jobID.String()))
}

// UpdateJob persists a mutated record through the Lua compare-and-swap.
// On success the record's Version and UpdatedAt are bumped in place.
func (s *Store) UpdateJob(ctx context.Context, r *job.Record) error {
	oldVersion := r.Version
	oldUpdatedAt := r.UpdatedAt
	r.Version = oldVersion + 1
	r.UpdatedAt = time.Now().UTC()

	if err := s.swap(ctx, r, oldVersion); err != nil {
		r.Version = oldVersion
		r.UpdatedAt = oldUpdatedAt
		return err
	}
	return nil
}

// ClaimJob atomically claims an eligible job. The Start transition runs
// on a local snapshot and the compare-and-swap publishes it; a claimant
// whose snapshot went stale loses the swap and reports the claim taken.
func (s *Store) ClaimJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID, sessionID id.SessionID, now time.Time) (*job.Record, error) {
	cur, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	started, err := job.Start(cur, workerID, sessionID, now)
	if err != nil {
		return nil, recq.ErrAlreadyClaimed
	}

	started.Version = cur.Version + 1
	started.UpdatedAt = now

	if err := s.swap(ctx, started, cur.Version); err != nil {
		if errors.Is(err, recq.ErrVersionConflict) {
			return nil, recq.ErrAlreadyClaimed
		}
		return nil, err
	}
	return started, nil
}

// NextCandidates walks the dispatch index in score order and returns up
// to limit records eligible at now. Retry gates are not encoded in the
// score, so each candidate is re-checked after loading.
func (s *Store) NextCandidates(ctx context.Context, now time.Time, limit int) ([]*job.Record, error) {
	var out []*job.Record
	for offset := int64(0); ; offset += candidateBatch {
		ids, err := s.client.ZRangeByScore(ctx, dispatchKey, &goredis.ZRangeBy{
			Min:    "-inf",
			Max:    "+inf",
			Offset: offset,
			Count:  candidateBatch,
		}).Result()
		if err != nil {
			return nil, fmt.Errorf("recq/redis: next candidates: %w", err)
		}
		if len(ids) == 0 {
			break
		}

		for _, jID := range ids {
			r, getErr := s.getJobByKey(ctx, jobKey(jID))
			if getErr != nil {
				continue // index member without a record; skip
			}
			if !scheduler.Eligible(r, now) {
				continue
			}
			out = append(out, r)
			if len(out) >= limit {
				scheduler.Order(out)
				return out, nil
			}
		}
	}
	scheduler.Order(out)
	return out, nil
}

// ListJobs returns records matching the filter, ordered by creation
// time ascending.
func (s *Store) ListJobs(ctx context.Context, f job.Filter, opts job.ListOpts) ([]*job.Record, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("recq/redis: list jobs: %w", err)
	}

	jobs := make([]*job.Record, 0, len(ids))
	for _, jID := range ids {
		r, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue // skip missing
		}
		if !matches(r, f) {
			continue
		}
		jobs = append(jobs, r)
	}

	sort.Slice(jobs, func(i, k int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[k].CreatedAt) {
			return jobs[i].CreatedAt.Before(jobs[k].CreatedAt)
		}
		return jobs[i].ID.String() < jobs[k].ID.String()
	})

	if opts.Offset >= len(jobs) {
		return nil, nil
	}
	if opts.Offset > 0 {
		jobs = jobs[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(jobs) {
		jobs = jobs[:opts.Limit]
	}
	return jobs, nil
}

// CountJobs returns the number of records matching the filter.
func (s *Store) CountJobs(ctx context.Context, f job.Filter) (int64, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("recq/redis: count jobs: %w", err)
	}

	var count int64
	for _, jID := range ids {
		r, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue
		}
		if matches(r, f) {
			count++
		}
	}
	return count, nil
}

// OverdueJobs returns processing jobs whose attempt has outlived its
// time budget.
func (s *Store) OverdueJobs(ctx context.Context, now time.Time, defaultBudget time.Duration) ([]*job.Record, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("recq/redis: overdue jobs: %w", err)
	}

	var overdue []*job.Record
	for _, jID := range ids {
		r, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue
		}
		if r.Status != job.StatusProcessing || r.StartedAt == nil {
			continue
		}
		budget := r.TimeoutBudget
		if budget == 0 {
			budget = defaultBudget
		}
		if budget == 0 {
			continue
		}
		if now.Sub(*r.StartedAt) > budget {
			overdue = append(overdue, r)
		}
	}
	return overdue, nil
}

// ── helpers ──

// swap runs the compare-and-swap script for the record, expecting
// oldVersion in storage. The record must already carry its new version.
func (s *Store) swap(ctx context.Context, r *job.Record, oldVersion int64) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("recq/redis: marshal job: %w", err)
	}

	jID := r.ID.String()
	index := "0"
	if claimable(r) {
		index = "1"
	}

	res, err := casScript.Run(ctx, s.client,
		[]string{jobKey(jID), dispatchKey},
		oldVersion, raw, index, dispatchScore(r), jID,
	).Int()
	if err != nil {
		return fmt.Errorf("recq/redis: swap job: %w", err)
	}
	switch res {
	case 0:
		return recq.ErrJobNotFound
	case -1:
		return recq.ErrVersionConflict
	}
	return nil
}

func (s *Store) getJobByKey(ctx context.Context, key string) (*job.Record, error) {
	raw, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, recq.ErrJobNotFound
		}
		return nil, fmt.Errorf("recq/redis: get job: %w", err)
	}

	var r job.Record
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, fmt.Errorf("recq/redis: unmarshal job: %w", err)
	}
	return &r, nil
}

func matches(r *job.Record, f job.Filter) bool {
	if f.TenantID != "" && r.TenantID != f.TenantID {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.ModelType != "" && r.ModelType != f.ModelType {
		return false
	}
	return true
}
