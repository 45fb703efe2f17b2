// Package storage provides Store implementations for the fanin package.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tasklab/fanin/pkg/core"
)

// jobRecord is the relational shape of a core.Job. The subtask sets are
// stored as JSON columns: the record is read and written whole, matching
// the last-writer-wins contract of Store.UpdateJob.
type jobRecord struct {
	ID             string         `gorm:"primaryKey;size:255"`
	Status         core.JobStatus `gorm:"index;size:20;default:'active'"`
	SubtaskIDs     []byte         `gorm:"type:bytes"`
	Completed      []byte         `gorm:"type:bytes"`
	Failed         []byte         `gorm:"type:bytes"`
	Metadata       []byte         `gorm:"type:bytes"`
	CreatedAt      time.Time      `gorm:"index;autoCreateTime"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime"`
	ProcessedAt    *time.Time
	ProcessingNote string `gorm:"type:text"`
}

func (jobRecord) TableName() string { return "fanin_jobs" }

type triggerRecordRow struct {
	JobID     string `gorm:"primaryKey;size:255"`
	Queue     string `gorm:"primaryKey;size:255"`
	Message   []byte `gorm:"type:bytes"`
	SentAt    time.Time
	ExpiresAt time.Time `gorm:"index"`
}

func (triggerRecordRow) TableName() string { return "fanin_trigger_records" }

type configRecordRow struct {
	Key   string `gorm:"primaryKey;size:64"`
	Value []byte `gorm:"type:bytes"`
}

func (configRecordRow) TableName() string { return "fanin_config" }

// configOverrideKey is the well-known key of the runtime override record.
const configOverrideKey = "fanin-config-override"

// GormStore implements core.Store using GORM.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate creates the necessary tables.
func (s *GormStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&jobRecord{}, &triggerRecordRow{}, &configRecordRow{})
}

func (s *GormStore) CreateJob(ctx context.Context, job *core.Job) error {
	rec, err := toRecord(job)
	if err != nil {
		return core.NewStorageError("create", err)
	}
	// A single insert so a concurrent duplicate surfaces as a key collision
	// rather than racing a separate existence check.
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		if isDuplicateKey(err) {
			return core.ErrJobExists
		}
		return core.NewStorageError("create", err)
	}
	return nil
}

// isDuplicateKey reports whether err is a primary-key collision. GORM only
// translates driver errors when configured to, so the common dialect
// messages are matched as a fallback.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "Duplicate entry")
}

func (s *GormStore) GetJob(ctx context.Context, id string) (*core.Job, error) {
	var rec jobRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.ErrJobNotFound
	}
	if err != nil {
		return nil, core.NewStorageError("get", err)
	}
	return fromRecord(&rec)
}

func (s *GormStore) UpdateJob(ctx context.Context, id string, mutate func(*core.Job) error) (*core.Job, error) {
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := mutate(job); err != nil {
		return nil, err
	}
	job.UpdatedAt = time.Now()
	rec, err := toRecord(job)
	if err != nil {
		return nil, core.NewStorageError("update", err)
	}
	if err := s.db.WithContext(ctx).Save(rec).Error; err != nil {
		return nil, core.NewStorageError("update", err)
	}
	return job, nil
}

func (s *GormStore) ListActiveJobs(ctx context.Context, limit int) ([]*core.Job, error) {
	var recs []jobRecord
	q := s.db.WithContext(ctx).
		Where("status = ?", core.StatusActive).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, core.NewStorageError("list", err)
	}
	jobs := make([]*core.Job, 0, len(recs))
	for i := range recs {
		job, err := fromRecord(&recs[i])
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (s *GormStore) PutTriggerRecord(ctx context.Context, rec *core.TriggerRecord, ttl time.Duration) error {
	row := triggerRecordRow{
		JobID:     rec.JobID,
		Queue:     rec.Queue,
		Message:   rec.Message,
		SentAt:    rec.SentAt,
		ExpiresAt: time.Now().Add(ttl),
	}
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return core.NewStorageError("put trigger record", err)
	}
	return nil
}

func (s *GormStore) GetTriggerRecord(ctx context.Context, jobID, queue string) (*core.TriggerRecord, error) {
	var row triggerRecordRow
	err := s.db.WithContext(ctx).
		Where("job_id = ? AND queue = ? AND expires_at > ?", jobID, queue, time.Now()).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, core.NewStorageError("get trigger record", err)
	}
	return &core.TriggerRecord{
		JobID:   row.JobID,
		Queue:   row.Queue,
		Message: row.Message,
		SentAt:  row.SentAt,
	}, nil
}

func (s *GormStore) GetConfigOverride(ctx context.Context) (map[string]any, error) {
	var row configRecordRow
	err := s.db.WithContext(ctx).First(&row, "key = ?", configOverrideKey).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, core.NewStorageError("get config override", err)
	}
	var values map[string]any
	if err := json.Unmarshal(row.Value, &values); err != nil {
		return nil, core.NewStorageError("get config override", err)
	}
	return values, nil
}

func (s *GormStore) PutConfigOverride(ctx context.Context, values map[string]any) error {
	data, err := json.Marshal(values)
	if err != nil {
		return core.NewStorageError("put config override", err)
	}
	row := configRecordRow{Key: configOverrideKey, Value: data}
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return core.NewStorageError("put config override", err)
	}
	return nil
}

func toRecord(job *core.Job) (*jobRecord, error) {
	subtasks, err := json.Marshal(job.SubtaskIDs)
	if err != nil {
		return nil, fmt.Errorf("marshal subtask ids: %w", err)
	}
	completed, err := json.Marshal(job.Completed)
	if err != nil {
		return nil, fmt.Errorf("marshal completed: %w", err)
	}
	failed, err := json.Marshal(job.Failed)
	if err != nil {
		return nil, fmt.Errorf("marshal failed: %w", err)
	}
	metadata, err := json.Marshal(job.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return &jobRecord{
		ID:             job.ID,
		Status:         job.Status,
		SubtaskIDs:     subtasks,
		Completed:      completed,
		Failed:         failed,
		Metadata:       metadata,
		CreatedAt:      job.CreatedAt,
		UpdatedAt:      job.UpdatedAt,
		ProcessedAt:    job.ProcessedAt,
		ProcessingNote: job.ProcessingNote,
	}, nil
}

func fromRecord(rec *jobRecord) (*core.Job, error) {
	job := &core.Job{
		ID:             rec.ID,
		Status:         rec.Status,
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
		ProcessedAt:    rec.ProcessedAt,
		ProcessingNote: rec.ProcessingNote,
	}
	if len(rec.SubtaskIDs) > 0 {
		if err := json.Unmarshal(rec.SubtaskIDs, &job.SubtaskIDs); err != nil {
			return nil, core.NewStorageError("decode job", err)
		}
	}
	if len(rec.Completed) > 0 {
		if err := json.Unmarshal(rec.Completed, &job.Completed); err != nil {
			return nil, core.NewStorageError("decode job", err)
		}
	}
	if len(rec.Failed) > 0 {
		if err := json.Unmarshal(rec.Failed, &job.Failed); err != nil {
			return nil, core.NewStorageError("decode job", err)
		}
	}
	if len(rec.Metadata) > 0 {
		if err := json.Unmarshal(rec.Metadata, &job.Metadata); err != nil {
			return nil, core.NewStorageError("decode job", err)
		}
	}
	return job, nil
}
