package scan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"alttext/internal/config"
	"alttext/internal/core/classify"
	"alttext/internal/core/extract"
	"alttext/internal/core/fetch"
	"alttext/internal/core/frontier"
	"alttext/internal/core/generate"
	"alttext/internal/core/job"
	"alttext/internal/core/report"
	"alttext/internal/logger"
	"alttext/internal/platform/tasks"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// CreateRequest is the POST /v1/scans body. GenerateAltText is a pointer so
// an omitted field defaults to true.
type CreateRequest struct {
	URL             string `json:"url"`
	Depth           int    `json:"scan_depth"`
	GenerateAltText *bool  `json:"generate_alt"`
	Language        string `json:"language"`
	Tone            string `json:"tone"`
	WCAGLevel       string `json:"wcag_level"`
	Account         string `json:"account_id"`
}

func (r *CreateRequest) generateEnabled() bool {
	return r.GenerateAltText == nil || *r.GenerateAltText
}

type TaskPayload struct {
	JobID   string        `json:"job_id"`
	Request CreateRequest `json:"request"`
}

const (
	msgCancelled = "scan cancelled by user"
	msgBudget    = "scan exceeded time budget"
)

// ErrBadRequest marks request validation failures so the HTTP layer can
// tell them apart from infrastructure errors.
var ErrBadRequest = errors.New("invalid scan request")

type Service struct {
	jobs      job.Store
	tasks     *tasks.Client
	fetcher   *fetch.Fetcher
	generator *generate.Service
	log       *logger.Logger
	config    config.Config
}

func NewService(jobs job.Store, taskClient *tasks.Client, fetcher *fetch.Fetcher, generator *generate.Service, cfg config.Config) *Service {
	return &Service{
		jobs:      jobs,
		tasks:     taskClient,
		fetcher:   fetcher,
		generator: generator,
		log:       logger.New("ScanService"),
		config:    cfg,
	}
}

func (r *CreateRequest) applyDefaults() {
	if r.Depth == 0 {
		r.Depth = 2
	}
	if r.Language == "" {
		r.Language = "en"
	}
	if r.Tone == "" {
		r.Tone = "formal"
	}
	if r.WCAGLevel == "" {
		r.WCAGLevel = "AAA"
	}
	if r.Account == "" {
		r.Account = "anonymous"
	}
}

// Enqueue registers a pending job and hands the work to the queue. The
// returned id is immediately pollable even if the worker has not started.
func (s *Service) Enqueue(ctx context.Context, req CreateRequest) (string, error) {
	req.applyDefaults()
	normalized, _, err := frontier.ValidateSeed(req.URL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	req.URL = normalized

	id := uuid.New().String()
	j := &job.ScanJob{
		JobID:           id,
		TargetURL:       req.URL,
		Depth:           req.Depth,
		Status:          job.StatusPending,
		CreatedAt:       time.Now().UTC(),
		Account:         req.Account,
		Language:        req.Language,
		Tone:            req.Tone,
		WCAGLevel:       req.WCAGLevel,
		GenerateForAlts: req.generateEnabled(),
	}
	if err := s.jobs.Put(ctx, j); err != nil {
		return "", err
	}

	payload, _ := json.Marshal(TaskPayload{JobID: id, Request: req})
	if err := s.tasks.EnqueueScan(payload, s.config.TaskMaxRetries); err != nil {
		return "", err
	}
	s.log.LogInfof("enqueued scan %s for %s depth %d", id, req.URL, req.Depth)
	return id, nil
}

func (s *Service) HandleScanTask(ctx context.Context, task *asynq.Task) error {
	var p TaskPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return err
	}
	s.log.LogInfof("processing scan %s for %s", p.JobID, p.Request.URL)
	return s.Run(ctx, p.JobID, p.Request)
}

// Run executes one scan end to end: crawl, classify, optionally generate,
// reduce. It always leaves the job in a terminal state and returns nil so
// the queue does not retry jobs that failed for domain reasons.
func (s *Service) Run(ctx context.Context, jobID string, req CreateRequest) error {
	req.applyDefaults()
	j, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if j.Status.Terminal() {
		return nil
	}
	j.Status = job.StatusRunning
	_ = s.jobs.Put(ctx, j)

	budgetCtx, cancel := context.WithTimeout(ctx, s.config.JobBudget)
	defer cancel()

	// runCtx dies the moment the cancel flag is observed, so in-flight work
	// drains but nothing new is dispatched.
	runCtx, stop := context.WithCancel(budgetCtx)
	defer stop()
	go s.watchCancellation(ctx, jobID, runCtx, stop)

	pages, crawlErr := s.crawl(runCtx, j, req)

	switch {
	case crawlErr == errCancelled || s.jobs.IsCancelled(ctx, jobID):
		return s.fail(ctx, j, msgCancelled)
	case budgetCtx.Err() == context.DeadlineExceeded:
		return s.fail(ctx, j, msgBudget)
	case len(pages) == 0:
		msg := "target URL unreachable"
		if crawlErr != nil {
			msg = crawlErr.Error()
		}
		return s.fail(ctx, j, msg)
	}

	if req.generateEnabled() && s.generator != nil {
		s.generate(runCtx, j, req, pages)
		if s.jobs.IsCancelled(ctx, jobID) {
			return s.fail(ctx, j, msgCancelled)
		}
		if budgetCtx.Err() == context.DeadlineExceeded {
			return s.fail(ctx, j, msgBudget)
		}
	}

	rep := report.Reduce(j.TargetURL, req.WCAGLevel, pages)
	if err := s.jobs.PutReport(ctx, jobID, rep); err != nil {
		s.log.LogErrorf("scan %s: storing report: %v", jobID, err)
	}

	now := time.Now().UTC()
	j.Status = job.StatusCompleted
	j.CompletedAt = &now
	j.ImagesFound = rep.TotalImages
	j.ImagesMissing = rep.ImagesWithoutAlt + rep.ImagesWithPoorAlt
	j.Report = rep
	if err := s.jobs.Put(ctx, j); err != nil {
		return err
	}
	s.log.LogSuccessf("scan %s completed: %d pages, %d images, score %d", jobID, j.PagesScanned, rep.TotalImages, rep.ComplianceScore)
	return nil
}

var errCancelled = errors.New("scan cancelled")

const cancelPollInterval = 100 * time.Millisecond

// watchCancellation polls the job's cancel flag and tears down runCtx when
// it flips, so crawl and generation stop dispatching work mid-batch.
func (s *Service) watchCancellation(ctx context.Context, jobID string, runCtx context.Context, stop context.CancelFunc) {
	ticker := time.NewTicker(cancelPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-runCtx.Done():
			return
		case <-ticker.C:
			if s.jobs.IsCancelled(ctx, jobID) {
				stop()
				return
			}
		}
	}
}

// crawl walks same-origin pages breadth-first up to the depth and page
// limits, classifying every discovered image. Counters on j update live so
// polling clients see progress.
func (s *Service) crawl(ctx context.Context, j *job.ScanJob, req CreateRequest) ([]report.CrawledPage, error) {
	// The request's depth counts levels including the seed; the frontier
	// counts hops beyond it.
	fr, err := frontier.New(req.URL, req.Depth-1, s.config.PageLimit(req.Depth))
	if err != nil {
		return nil, err
	}
	defer fr.Stop()

	var (
		mu        sync.Mutex
		pages     []report.CrawledPage
		firstErr  error
		cancelled bool
	)

	var wg sync.WaitGroup
	for i := 0; i < s.config.FetchWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				page, ok := fr.Next(ctx)
				if !ok {
					return
				}
				if s.jobs.IsCancelled(ctx, j.JobID) {
					mu.Lock()
					cancelled = true
					mu.Unlock()
					fr.Done()
					fr.Stop()
					return
				}
				s.crawlPage(ctx, fr, j, page, &mu, &pages, &firstErr)
				fr.Done()
			}
		}()
	}
	wg.Wait()

	if cancelled {
		return pages, errCancelled
	}
	return pages, firstErr
}

func (s *Service) crawlPage(ctx context.Context, fr *frontier.Frontier, j *job.ScanJob, page frontier.Page, mu *sync.Mutex, pages *[]report.CrawledPage, firstErr *error) {
	res, err := s.fetcher.Fetch(ctx, page.URL)
	if err != nil {
		s.log.LogWarnf("scan %s: fetching %s: %v", j.JobID, page.URL, err)
		mu.Lock()
		if *firstErr == nil {
			*firstErr = err
		}
		mu.Unlock()
		return
	}

	content, err := extract.Parse(page.URL, res.Body)
	if err != nil {
		s.log.LogWarnf("scan %s: parsing %s: %v", j.JobID, page.URL, err)
		return
	}

	crawled := report.CrawledPage{URL: page.URL, Status: res.Status, Depth: page.Depth}
	missing := 0
	for _, img := range content.Images {
		cls := classify.Classify(img.Alt, img.SourceURL, img.Decorative)
		if cls == classify.Missing || cls == classify.Poor {
			missing++
		}
		crawled.Findings = append(crawled.Findings, report.Finding{
			PageURL:        img.PageURL,
			SourceURL:      img.SourceURL,
			CanonicalURL:   img.CanonicalURL,
			Alt:            img.Alt,
			Decorative:     img.Decorative,
			Classification: cls,
		})
	}
	crawled.Links = content.Links

	mu.Lock()
	*pages = append(*pages, crawled)
	j.PagesScanned++
	j.ImagesFound += len(crawled.Findings)
	j.ImagesMissing += missing
	_ = s.jobs.Put(ctx, j)
	mu.Unlock()

	fr.Offer(page.Depth, content.Links)
}

// generate runs the fallback chain over every image still lacking usable
// alt text and folds the outcomes back into the findings.
func (s *Service) generate(ctx context.Context, j *job.ScanJob, req CreateRequest, pages []report.CrawledPage) {
	var refs []generate.ImageRef
	seen := make(map[string]struct{})
	for _, page := range pages {
		for _, f := range page.Findings {
			if f.Classification != classify.Missing && f.Classification != classify.Poor {
				continue
			}
			if _, ok := seen[f.CanonicalURL]; ok {
				continue
			}
			seen[f.CanonicalURL] = struct{}{}
			refs = append(refs, generate.ImageRef{CanonicalURL: f.CanonicalURL, SourceURL: f.SourceURL})
		}
	}
	if len(refs) == 0 {
		return
	}

	results := s.generator.GenerateBatch(ctx, generate.BatchRequest{
		Account:   req.Account,
		Language:  req.Language,
		Tone:      req.Tone,
		WCAGLevel: req.WCAGLevel,
	}, refs)

	remediated := 0
	for pi := range pages {
		for fi := range pages[pi].Findings {
			f := &pages[pi].Findings[fi]
			res, ok := results[f.CanonicalURL]
			if !ok {
				continue
			}
			f.Outcome = res.Outcome
			if res.Outcome != generate.OutcomeGenerated {
				continue
			}
			text, model := res.Text, res.Model
			f.GeneratedAlt = &text
			f.ModelUsed = &model
			if s.config.CarbonTracking && res.CarbonMg > 0 {
				carbon := res.CarbonMg
				f.CarbonCostMg = &carbon
			}
			remediated++
		}
	}

	j.ImagesMissing = report.UnremediatedCount(pages)
	_ = s.jobs.Put(ctx, j)
	s.log.LogInfof("scan %s: generated alt text for %d findings", j.JobID, remediated)
}

func (s *Service) fail(ctx context.Context, j *job.ScanJob, msg string) error {
	now := time.Now().UTC()
	j.Status = job.StatusFailed
	j.ErrorMessage = &msg
	j.CompletedAt = &now
	if err := s.jobs.Put(ctx, j); err != nil {
		return err
	}
	s.log.LogWarnf("scan %s failed: %s", j.JobID, msg)
	return nil
}
