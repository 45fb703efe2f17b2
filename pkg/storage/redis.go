package storage

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/tasklab/fanin/pkg/core"
)

// Key layout under the store prefix:
//
//	job:{jobID}             job record (JSON)
//	trigger:{jobID}:{queue} audit record (JSON, TTL)
//	config-override         runtime config override record (JSON)
const (
	defaultKeyPrefix  = "fanin:"
	jobKeyPrefix      = "job:"
	triggerKeyPrefix  = "trigger:"
	configOverrideRef = "config-override"
)

// RedisStore implements core.Store on a redis key-value backend. There are
// no transactions: UpdateJob is read-modify-write and the set-union mutators
// keep concurrent writers convergent.
type RedisStore struct {
	cli    *redis.Client
	prefix string
}

// NewRedisStore creates a store on an existing redis client.
func NewRedisStore(cli *redis.Client) *RedisStore {
	return &RedisStore{cli: cli, prefix: defaultKeyPrefix}
}

func (s *RedisStore) jobKey(id string) string {
	return s.prefix + jobKeyPrefix + id
}

func (s *RedisStore) triggerKey(jobID, queue string) string {
	return s.prefix + triggerKeyPrefix + jobID + ":" + queue
}

func (s *RedisStore) CreateJob(ctx context.Context, job *core.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return core.NewStorageError("create", err)
	}
	ok, err := s.cli.SetNX(ctx, s.jobKey(job.ID), data, 0).Result()
	if err != nil {
		return core.NewStorageError("create", err)
	}
	if !ok {
		return core.ErrJobExists
	}
	return nil
}

func (s *RedisStore) GetJob(ctx context.Context, id string) (*core.Job, error) {
	data, err := s.cli.Get(ctx, s.jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, core.ErrJobNotFound
	}
	if err != nil {
		return nil, core.NewStorageError("get", err)
	}
	var job core.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, core.NewStorageError("decode job", err)
	}
	return &job, nil
}

func (s *RedisStore) UpdateJob(ctx context.Context, id string, mutate func(*core.Job) error) (*core.Job, error) {
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := mutate(job); err != nil {
		return nil, err
	}
	job.UpdatedAt = time.Now()
	data, err := json.Marshal(job)
	if err != nil {
		return nil, core.NewStorageError("update", err)
	}
	if err := s.cli.Set(ctx, s.jobKey(id), data, 0).Err(); err != nil {
		return nil, core.NewStorageError("update", err)
	}
	return job, nil
}

func (s *RedisStore) ListActiveJobs(ctx context.Context, limit int) ([]*core.Job, error) {
	iter := s.cli.Scan(ctx, 0, s.prefix+jobKeyPrefix+"*", 0).Iterator()

	jobs := make([]*core.Job, 0)
	for iter.Next(ctx) {
		data, err := s.cli.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, core.NewStorageError("list", err)
		}
		var job core.Job
		if err := json.Unmarshal(data, &job); err != nil {
			return nil, core.NewStorageError("decode job", err)
		}
		if job.Status.Terminal() {
			continue
		}
		jobs = append(jobs, &job)
	}
	if err := iter.Err(); err != nil {
		return nil, core.NewStorageError("list", err)
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (s *RedisStore) PutTriggerRecord(ctx context.Context, rec *core.TriggerRecord, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return core.NewStorageError("put trigger record", err)
	}
	key := s.triggerKey(rec.JobID, rec.Queue)
	if err := s.cli.Set(ctx, key, data, ttl).Err(); err != nil {
		return core.NewStorageError("put trigger record", err)
	}
	return nil
}

func (s *RedisStore) GetTriggerRecord(ctx context.Context, jobID, queue string) (*core.TriggerRecord, error) {
	data, err := s.cli.Get(ctx, s.triggerKey(jobID, queue)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, core.NewStorageError("get trigger record", err)
	}
	var rec core.TriggerRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, core.NewStorageError("decode trigger record", err)
	}
	return &rec, nil
}

func (s *RedisStore) GetConfigOverride(ctx context.Context) (map[string]any, error) {
	data, err := s.cli.Get(ctx, s.prefix+configOverrideRef).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, core.NewStorageError("get config override", err)
	}
	var values map[string]any
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, core.NewStorageError("get config override", err)
	}
	return values, nil
}

func (s *RedisStore) PutConfigOverride(ctx context.Context, values map[string]any) error {
	data, err := json.Marshal(values)
	if err != nil {
		return core.NewStorageError("put config override", err)
	}
	if err := s.cli.Set(ctx, s.prefix+configOverrideRef, data, 0).Err(); err != nil {
		return core.NewStorageError("put config override", err)
	}
	return nil
}
