package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/herald"
	"github.com/xraph/herald/backoff"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/job"
)

// dequeueScript claims up to ARGV[2] waiting jobs across the waiting sets
// in KEYS whose score is at most ARGV[1], ordered by run_at then id.
var dequeueScript = goredis.NewScript(`
local limit = tonumber(ARGV[2])
local cands = {}
for _, key in ipairs(KEYS) do
  local res = redis.call('ZRANGEBYSCORE', key, '-inf', ARGV[1], 'WITHSCORES', 'LIMIT', '0', ARGV[2])
  for i = 1, #res, 2 do
    table.insert(cands, {id = res[i], score = tonumber(res[i + 1]), key = key})
  end
end
table.sort(cands, function(a, b)
  if a.score ~= b.score then return a.score < b.score end
  return a.id < b.id
end)
local claimed = {}
for i = 1, math.min(limit, #cands) do
  local c = cands[i]
  local jk = ARGV[5] .. c.id
  redis.call('ZREM', c.key, c.id)
  redis.call('HSET', jk, 'state', 'active', 'worker_id', ARGV[3],
    'started_at', ARGV[4], 'heartbeat_at', ARGV[4], 'updated_at', ARGV[4])
  redis.call('HINCRBY', jk, 'attempts_made', 1)
  redis.call('SADD', ARGV[6], c.id)
  table.insert(claimed, c.id)
end
return claimed
`)

// progressScript raises the progress field of an active job.
var progressScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
if redis.call('HGET', KEYS[1], 'state') ~= 'active' then return 0 end
local cur = tonumber(redis.call('HGET', KEYS[1], 'progress') or '0')
if tonumber(ARGV[1]) <= cur then return 0 end
redis.call('HSET', KEYS[1], 'progress', ARGV[1], 'updated_at', ARGV[2])
return 1
`)

// EnqueueJob stores the job as a Hash and adds it to its type's waiting set.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := jobKey(jID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("herald/redis: enqueue check exists: %w", err)
	}
	if exists > 0 {
		return herald.ErrJobAlreadyExists
	}

	fields, err := jobToMap(j)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.SAdd(ctx, jobIDsKey, jID)
	pipe.SAdd(ctx, jobTypesKey, j.Type)
	if j.State == job.StateWaiting {
		pipe.ZAdd(ctx, waitingKey(j.Type), goredis.Z{Score: runScore(j.RunAt), Member: jID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("herald/redis: enqueue job: %w", err)
	}
	return nil
}

// DequeueJobs atomically claims up to limit jobs of the given types. An
// empty types slice means every type seen so far.
func (s *Store) DequeueJobs(ctx context.Context, types []string, workerID id.WorkerID, limit int) ([]*job.Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	if len(types) == 0 {
		all, err := s.client.SMembers(ctx, jobTypesKey).Result()
		if err != nil {
			return nil, fmt.Errorf("herald/redis: dequeue list types: %w", err)
		}
		types = all
	}
	if len(types) == 0 {
		return nil, nil
	}

	keys := make([]string, len(types))
	for i, t := range types {
		keys[i] = waitingKey(t)
	}
	now := time.Now().UTC()

	ids, err := dequeueScript.Run(ctx, s.client, keys,
		now.UnixMilli(), limit, workerID.String(), now.Format(time.RFC3339Nano),
		jobKeyPrefix, activeKey,
	).StringSlice()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("herald/redis: dequeue: %w", err)
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			return nil, getErr
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.getJobByKey(ctx, jobKey(jobID.String()))
}

// UpdateJob persists changes to an existing job and moves it between the
// waiting, active and finished indexes to match its state.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := jobKey(jID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("herald/redis: update job exists: %w", err)
	}
	if exists == 0 {
		return herald.ErrJobNotFound
	}

	j.UpdatedAt = time.Now().UTC()
	fields, err := jobToMap(j)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	for _, f := range optionalJobFields(j) {
		pipe.HDel(ctx, key, f)
	}
	switch j.State {
	case job.StateWaiting:
		pipe.SRem(ctx, activeKey, jID)
		pipe.ZRem(ctx, finishedKey, jID)
		pipe.ZAdd(ctx, waitingKey(j.Type), goredis.Z{Score: runScore(j.RunAt), Member: jID})
	case job.StateActive:
		pipe.ZRem(ctx, waitingKey(j.Type), jID)
		pipe.SAdd(ctx, activeKey, jID)
	default:
		pipe.ZRem(ctx, waitingKey(j.Type), jID)
		pipe.SRem(ctx, activeKey, jID)
		finished := j.UpdatedAt
		if j.FinishedAt != nil {
			finished = *j.FinishedAt
		}
		pipe.ZAdd(ctx, finishedKey, goredis.Z{Score: runScore(finished), Member: jID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("herald/redis: update job: %w", err)
	}
	return nil
}

// UpdateProgress raises the stored progress of an active job.
func (s *Store) UpdateProgress(ctx context.Context, jobID id.JobID, pct int) error {
	n, err := progressScript.Run(ctx, s.client, []string{jobKey(jobID.String())},
		pct, time.Now().UTC().Format(time.RFC3339Nano),
	).Int()
	if err != nil {
		return fmt.Errorf("herald/redis: update progress: %w", err)
	}
	if n < 0 {
		return herald.ErrJobNotFound
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	jID := jobID.String()
	key := jobKey(jID)

	jobType, err := s.client.HGet(ctx, key, "type").Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return herald.ErrJobNotFound
		}
		return fmt.Errorf("herald/redis: delete job get type: %w", err)
	}

	pipe := s.client.TxPipeline()
	s.removeJob(ctx, pipe, jID, jobType)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("herald/redis: delete job: %w", err)
	}
	return nil
}

// ListJobsByState returns jobs matching the given state, oldest first.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	jobs, err := s.scanJobs(ctx, func(j *job.Job) bool {
		return j.State == state && (opts.Type == "" || j.Type == opts.Type)
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].CreatedAt.Before(jobs[k].CreatedAt)
	})
	return paginate(jobs, opts.Offset, opts.Limit), nil
}

// HeartbeatJob updates the heartbeat timestamp for an active job.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	key := jobKey(jobID.String())
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("herald/redis: heartbeat exists: %w", err)
	}
	if exists == 0 {
		return herald.ErrJobNotFound
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := s.client.HSet(ctx, key,
		"heartbeat_at", now,
		"worker_id", workerID.String(),
		"updated_at", now,
	).Err(); err != nil {
		return fmt.Errorf("herald/redis: heartbeat job: %w", err)
	}
	return nil
}

// ReapStaleJobs returns active jobs whose last heartbeat is older than the
// threshold.
func (s *Store) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	cutoff := time.Now().UTC().Add(-threshold)

	ids, err := s.client.SMembers(ctx, activeKey).Result()
	if err != nil {
		return nil, fmt.Errorf("herald/redis: reap smembers: %w", err)
	}

	var stale []*job.Job
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue
		}
		if j.State != job.StateActive {
			continue
		}
		if j.HeartbeatAt != nil && j.HeartbeatAt.Before(cutoff) {
			stale = append(stale, j)
		}
	}
	return stale, nil
}

// PurgeJobs deletes terminal jobs that finished before the cutoff.
func (s *Store) PurgeJobs(ctx context.Context, before time.Time) (int64, error) {
	ids, err := s.client.ZRangeByScore(ctx, finishedKey, &goredis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(before.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("herald/redis: purge jobs range: %w", err)
	}

	var purged int64
	for _, jID := range ids {
		jobType, getErr := s.client.HGet(ctx, jobKey(jID), "type").Result()
		if getErr != nil && !errors.Is(getErr, goredis.Nil) {
			return purged, fmt.Errorf("herald/redis: purge jobs get: %w", getErr)
		}
		pipe := s.client.TxPipeline()
		s.removeJob(ctx, pipe, jID, jobType)
		if _, pErr := pipe.Exec(ctx); pErr != nil {
			return purged, fmt.Errorf("herald/redis: purge jobs del: %w", pErr)
		}
		if getErr == nil {
			purged++
		}
	}
	return purged, nil
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	if opts.State == job.StateWaiting && opts.Type != "" {
		n, err := s.client.ZCard(ctx, waitingKey(opts.Type)).Result()
		if err != nil {
			return 0, fmt.Errorf("herald/redis: count waiting: %w", err)
		}
		return n, nil
	}
	jobs, err := s.scanJobs(ctx, func(j *job.Job) bool {
		return (opts.State == "" || j.State == opts.State) &&
			(opts.Type == "" || j.Type == opts.Type)
	})
	if err != nil {
		return 0, err
	}
	return int64(len(jobs)), nil
}

// ── helpers ──

func (s *Store) removeJob(ctx context.Context, pipe goredis.Pipeliner, jID, jobType string) {
	pipe.Del(ctx, jobKey(jID))
	pipe.SRem(ctx, jobIDsKey, jID)
	pipe.SRem(ctx, activeKey, jID)
	pipe.ZRem(ctx, finishedKey, jID)
	if jobType != "" {
		pipe.ZRem(ctx, waitingKey(jobType), jID)
	}
}

func (s *Store) scanJobs(ctx context.Context, keep func(*job.Job) bool) ([]*job.Job, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("herald/redis: list jobs smembers: %w", err)
	}
	jobs := make([]*job.Job, 0, len(ids))
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue // skip missing
		}
		if keep(j) {
			jobs = append(jobs, j)
		}
	}
	return jobs, nil
}

// runScore maps a time to a sorted-set score. Lower scores dequeue first.
func runScore(t time.Time) float64 {
	return float64(t.UnixMilli())
}

func jobToMap(j *job.Job) (map[string]any, error) {
	bo, err := json.Marshal(j.Backoff)
	if err != nil {
		return nil, fmt.Errorf("herald/redis: encode backoff: %w", err)
	}
	m := map[string]any{
		"id":            j.ID.String(),
		"type":          j.Type,
		"payload":       string(j.Payload),
		"state":         string(j.State),
		"user_id":       j.UserID,
		"max_attempts":  strconv.Itoa(j.MaxAttempts),
		"attempts_made": strconv.Itoa(j.AttemptsMade),
		"backoff":       string(bo),
		"progress":      strconv.Itoa(j.Progress),
		"result":        string(j.Result),
		"last_error":    j.LastError,
		"worker_id":     j.WorkerID.String(),
		"run_at":        j.RunAt.Format(time.RFC3339Nano),
		"timeout":       strconv.FormatInt(int64(j.Timeout), 10),
		"created_at":    j.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":    j.UpdatedAt.Format(time.RFC3339Nano),
	}
	if j.StartedAt != nil {
		m["started_at"] = j.StartedAt.Format(time.RFC3339Nano)
	}
	if j.FinishedAt != nil {
		m["finished_at"] = j.FinishedAt.Format(time.RFC3339Nano)
	}
	if j.HeartbeatAt != nil {
		m["heartbeat_at"] = j.HeartbeatAt.Format(time.RFC3339Nano)
	}
	return m, nil
}

// optionalJobFields lists the nullable timestamps that are unset on j and
// must be removed from the Hash.
func optionalJobFields(j *job.Job) []string {
	var out []string
	if j.StartedAt == nil {
		out = append(out, "started_at")
	}
	if j.FinishedAt == nil {
		out = append(out, "finished_at")
	}
	if j.HeartbeatAt == nil {
		out = append(out, "heartbeat_at")
	}
	return out
}

func (s *Store) getJobByKey(ctx context.Context, key string) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("herald/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, herald.ErrJobNotFound
	}
	return mapToJob(vals)
}

func mapToJob(m map[string]string) (*job.Job, error) {
	jID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("herald/redis: parse job id: %w", err)
	}

	maxAttempts, _ := strconv.Atoi(m["max_attempts"])    //nolint:errcheck // best-effort parse from trusted Redis data
	attemptsMade, _ := strconv.Atoi(m["attempts_made"])  //nolint:errcheck // best-effort parse from trusted Redis data
	progress, _ := strconv.Atoi(m["progress"])           //nolint:errcheck // best-effort parse from trusted Redis data
	timeout, _ := strconv.ParseInt(m["timeout"], 10, 64) //nolint:errcheck // best-effort parse from trusted Redis data

	runAt, _ := time.Parse(time.RFC3339Nano, m["run_at"])         //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	var bo backoff.Policy
	if v := m["backoff"]; v != "" {
		if err := json.Unmarshal([]byte(v), &bo); err != nil {
			return nil, fmt.Errorf("herald/redis: decode backoff: %w", err)
		}
	}

	j := &job.Job{
		Entity: herald.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:           jID,
		Type:         m["type"],
		Payload:      []byte(m["payload"]),
		State:        job.State(m["state"]),
		UserID:       m["user_id"],
		MaxAttempts:  maxAttempts,
		AttemptsMade: attemptsMade,
		Backoff:      bo,
		Progress:     progress,
		LastError:    m["last_error"],
		RunAt:        runAt,
		Timeout:      time.Duration(timeout),
	}
	if v := m["result"]; v != "" {
		j.Result = []byte(v)
	}
	if wid := m["worker_id"]; wid != "" {
		j.WorkerID, _ = id.ParseWorkerID(wid) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if v := m["started_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.StartedAt = &t
	}
	if v := m["finished_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.FinishedAt = &t
	}
	if v := m["heartbeat_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.HeartbeatAt = &t
	}
	return j, nil
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
