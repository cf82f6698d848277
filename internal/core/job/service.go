package job

import (
	"context"
	"fmt"
	"time"

	"alttext/internal/core/report"
	rds "alttext/internal/platform/redis"
)

// Store is the persistence boundary for scan jobs and their reports. The
// scan controller depends on this interface so tests can run against an
// in-memory implementation.
type Store interface {
	Get(ctx context.Context, jobID string) (*ScanJob, error)
	Put(ctx context.Context, j *ScanJob) error
	GetReport(ctx context.Context, jobID string) (*report.ComplianceReport, error)
	PutReport(ctx context.Context, jobID string, rep *report.ComplianceReport) error
	Cancel(ctx context.Context, jobID string) error
	IsCancelled(ctx context.Context, jobID string) bool
}

type Service struct{ redis *rds.Service }

func NewService(redis *rds.Service) *Service { return &Service{redis: redis} }

func (s *Service) Get(ctx context.Context, jobID string) (*ScanJob, error) {
	var j ScanJob
	if err := s.redis.CacheGet(ctx, scanKey(jobID), &j); err != nil {
		return nil, fmt.Errorf("scan not found: %s", jobID)
	}
	return &j, nil
}

func (s *Service) Put(ctx context.Context, j *ScanJob) error {
	return s.redis.CacheSet(ctx, scanKey(j.JobID), j, ttl(j.Status))
}

func (s *Service) GetReport(ctx context.Context, jobID string) (*report.ComplianceReport, error) {
	var rep report.ComplianceReport
	if err := s.redis.CacheGet(ctx, reportKey(jobID), &rep); err != nil {
		return nil, fmt.Errorf("report not found: %s", jobID)
	}
	return &rep, nil
}

func (s *Service) PutReport(ctx context.Context, jobID string, rep *report.ComplianceReport) error {
	return s.redis.CacheSet(ctx, reportKey(jobID), rep, reportTTL)
}

// Cancel flags the job for cooperative cancellation. The running worker
// observes the flag at page boundaries; an already-terminal job is left
// untouched.
func (s *Service) Cancel(ctx context.Context, jobID string) error {
	j, err := s.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if j.Status.Terminal() {
		return fmt.Errorf("scan %s already %s", jobID, j.Status)
	}
	return s.redis.Client().Set(ctx, cancelKey(jobID), "1", time.Hour).Err()
}

func (s *Service) IsCancelled(ctx context.Context, jobID string) bool {
	v, err := s.redis.Client().Get(ctx, cancelKey(jobID)).Result()
	return err == nil && v == "1"
}

func scanKey(id string) string   { return "scan:" + id }
func reportKey(id string) string { return "report:" + id }
func cancelKey(id string) string { return "scan:" + id + ":cancel" }

const reportTTL = 7 * 24 * 3600

func ttl(s Status) int {
	if s.Terminal() {
		return 24 * 3600
	}
	return 3600
}
