package generate

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"alttext/internal/logger"
	"alttext/internal/platform/eino"
	rds "alttext/internal/platform/redis"
	"alttext/prompts"
)

// Cached captions survive across jobs so repeat scans of the same site do
// not burn provider cost. Keyed by canonical image URL hash.
const captionCacheTTL = 7 * 24 * 3600

type Options struct {
	Workers        int
	AttemptTimeout time.Duration
}

// Service drives the tiered provider fallback chain with quota and cost
// control. Providers are ordered cheapest first.
type Service struct {
	providers      []Provider
	quota          Quota
	loader         ImageLoader
	redis          *rds.Service
	workers        int
	attemptTimeout time.Duration
	log            *logger.Logger
}

// NewService wires the chain. redis may be nil, which disables the
// cross-job caption cache (tests use that).
func NewService(providers []Provider, quota Quota, loader ImageLoader, redis *rds.Service, opts Options) *Service {
	if opts.Workers <= 0 {
		opts.Workers = 10
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = 25 * time.Second
	}
	return &Service{
		providers:      providers,
		quota:          quota,
		loader:         loader,
		redis:          redis,
		workers:        opts.Workers,
		attemptTimeout: opts.AttemptTimeout,
		log:            logger.New("GenerateService"),
	}
}

// GenerateBatch produces exactly one Result per distinct canonical image
// URL, fanning out across a bounded worker pool. Completion order is
// irrelevant to callers; the map is keyed by canonical URL. Images not
// processed before ctx cancellation are absent from the map.
func (s *Service) GenerateBatch(ctx context.Context, req BatchRequest, images []ImageRef) map[string]*Result {
	results := make(map[string]*Result, len(images))
	if len(images) == 0 {
		return results
	}

	var (
		mu             sync.Mutex
		wg             sync.WaitGroup
		quotaExhausted bool
	)

	work := make(chan ImageRef)

	workers := s.workers
	if workers > len(images) {
		workers = len(images)
	}

	seen := make(map[string]struct{}, len(images))

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for img := range work {
				res := s.generateOne(ctx, req, img, &mu, &quotaExhausted)
				if res == nil {
					continue
				}
				mu.Lock()
				results[img.CanonicalURL] = res
				mu.Unlock()
			}
		}()
	}

dispatch:
	for _, img := range images {
		if _, dup := seen[img.CanonicalURL]; dup {
			continue
		}
		seen[img.CanonicalURL] = struct{}{}
		select {
		case work <- img:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(work)
	wg.Wait()

	return results
}

// generateOne runs the cache -> quota -> fallback chain sequence for one
// image. Returns nil when cancelled before any decision was reached.
func (s *Service) generateOne(ctx context.Context, req BatchRequest, img ImageRef, mu *sync.Mutex, quotaExhausted *bool) *Result {
	if ctx.Err() != nil {
		return nil
	}

	// Cache hit costs neither quota nor provider calls.
	if cached := s.cacheGet(ctx, img.CanonicalURL); cached != nil {
		return cached
	}

	// Quota is a hard stop checked once before the first attempt. After the
	// first denial the rest of the job short-circuits without more quota
	// round-trips.
	mu.Lock()
	exhausted := *quotaExhausted
	mu.Unlock()
	if !exhausted {
		allowed, err := s.quota.CheckAndReserve(ctx, req.Account, 1)
		if err != nil {
			s.log.LogWarnf("quota check failed for %s: %v", req.Account, err)
			return &Result{Outcome: OutcomeFailed}
		}
		if !allowed {
			mu.Lock()
			*quotaExhausted = true
			mu.Unlock()
			exhausted = true
		}
	}
	if exhausted {
		return &Result{Outcome: OutcomeQuotaExceeded}
	}

	data, mime, err := s.loadImage(ctx, img.SourceURL)
	if err != nil {
		s.log.LogDebugf("image load failed %s: %v", img.SourceURL, err)
		return &Result{Outcome: OutcomeFailed}
	}

	capReq := eino.CaptionRequest{
		ImageData:    data,
		MIMEType:     mime,
		SystemPrompt: prompts.AltTextSystem(req.WCAGLevel),
		UserPrompt:   prompts.AltTextUser(req.Language, req.Tone, ""),
	}

	for _, p := range s.providers {
		attemptCtx, cancel := context.WithTimeout(ctx, s.attemptTimeout)
		caption, err := p.Caption(attemptCtx, capReq)
		cancel()
		if err != nil {
			s.log.LogDebugf("provider %s failed for %s: %v", p.Model(), img.CanonicalURL, err)
			continue
		}
		res := &Result{
			Outcome:  OutcomeGenerated,
			Text:     caption.Text,
			Model:    caption.Model,
			CarbonMg: caption.CarbonMg,
		}
		s.cacheSet(ctx, img.CanonicalURL, res)
		return res
	}

	return &Result{Outcome: OutcomeFailed}
}

func (s *Service) loadImage(ctx context.Context, sourceURL string) ([]byte, string, error) {
	if strings.HasPrefix(strings.ToLower(sourceURL), "data:") {
		return decodeDataURI(sourceURL)
	}
	return s.loader.FetchImage(ctx, sourceURL)
}

func decodeDataURI(uri string) ([]byte, string, error) {
	rest := uri[len("data:"):]
	comma := strings.Index(rest, ",")
	if comma < 0 {
		return nil, "", fmt.Errorf("malformed data uri")
	}
	meta, payload := rest[:comma], rest[comma+1:]
	mime := "image/jpeg"
	if i := strings.Index(meta, ";"); i > 0 {
		mime = meta[:i]
	} else if meta != "" {
		mime = meta
	}
	if !strings.Contains(meta, "base64") {
		return nil, "", fmt.Errorf("unsupported data uri encoding")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", err
	}
	return data, mime, nil
}

func (s *Service) cacheGet(ctx context.Context, canonical string) *Result {
	if s.redis == nil {
		return nil
	}
	var res Result
	if err := s.redis.CacheGet(ctx, captionKey(canonical), &res); err != nil {
		return nil
	}
	if res.Outcome != OutcomeGenerated {
		return nil
	}
	return &res
}

func (s *Service) cacheSet(ctx context.Context, canonical string, res *Result) {
	if s.redis == nil {
		return
	}
	if err := s.redis.CacheSet(ctx, captionKey(canonical), res, captionCacheTTL); err != nil {
		s.log.LogDebugf("caption cache write failed: %v", err)
	}
}

func captionKey(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return "caption:" + hex.EncodeToString(sum[:16])
}
