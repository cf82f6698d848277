package scan

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"alttext/internal/config"
	"alttext/internal/core/fetch"
	"alttext/internal/core/generate"
	"alttext/internal/core/job"
	"alttext/internal/core/report"
	"alttext/internal/platform/eino"
)

type memStore struct {
	mu        sync.Mutex
	jobs      map[string]*job.ScanJob
	reports   map[string]*report.ComplianceReport
	cancelled map[string]bool
	putErr    error
}

func newMemStore() *memStore {
	return &memStore{
		jobs:      make(map[string]*job.ScanJob),
		reports:   make(map[string]*report.ComplianceReport),
		cancelled: make(map[string]bool),
	}
}

func (m *memStore) Get(_ context.Context, id string) (*job.ScanJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("scan not found: %s", id)
	}
	cp := *j
	return &cp, nil
}

func (m *memStore) Put(_ context.Context, j *job.ScanJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	cp := *j
	m.jobs[j.JobID] = &cp
	return nil
}

func (m *memStore) GetReport(_ context.Context, id string) (*report.ComplianceReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[id]
	if !ok {
		return nil, fmt.Errorf("report not found: %s", id)
	}
	return r, nil
}

func (m *memStore) PutReport(_ context.Context, id string, r *report.ComplianceReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[id] = r
	return nil
}

func (m *memStore) Cancel(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled[id] = true
	return nil
}

func (m *memStore) IsCancelled(_ context.Context, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelled[id]
}

type okProvider struct{ model string }

func (p *okProvider) Model() string { return p.model }
func (p *okProvider) Caption(_ context.Context, _ eino.CaptionRequest) (*eino.CaptionResult, error) {
	return &eino.CaptionResult{Text: "A generated description", Model: p.model, CarbonMg: 2.0}, nil
}

// pickyProvider permanently fails any image whose payload contains
// failMatch and succeeds for the rest.
type pickyProvider struct {
	model     string
	failMatch string
}

func (p *pickyProvider) Model() string { return p.model }
func (p *pickyProvider) Caption(_ context.Context, req eino.CaptionRequest) (*eino.CaptionResult, error) {
	if strings.Contains(string(req.ImageData), p.failMatch) {
		return nil, fmt.Errorf("model refused image")
	}
	return &eino.CaptionResult{Text: "A generated description", Model: p.model, CarbonMg: 2.0}, nil
}

// cancellingProvider flips the job's cancel flag during its first call and
// stays in flight long enough for the flag to be observed.
type cancellingProvider struct {
	store *memStore
	jobID string
	calls int32
}

func (p *cancellingProvider) Model() string { return "gemini-2.0-flash" }
func (p *cancellingProvider) Caption(_ context.Context, _ eino.CaptionRequest) (*eino.CaptionResult, error) {
	if atomic.AddInt32(&p.calls, 1) == 1 {
		p.store.Cancel(context.Background(), p.jobID)
	}
	time.Sleep(500 * time.Millisecond)
	return &eino.CaptionResult{Text: "A late description", Model: "gemini-2.0-flash"}, nil
}

type openQuota struct{}

func (openQuota) CheckAndReserve(context.Context, string, int) (bool, error) { return true, nil }

func imgs(n int, withAlt bool, prefix string) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		if withAlt {
			fmt.Fprintf(&b, `<img src="/static/%s%d.jpg" alt="Photo number %d of the gallery">`, prefix, i, i)
		} else {
			fmt.Fprintf(&b, `<img src="/static/%s%d.jpg">`, prefix, i)
		}
	}
	return b.String()
}

func testSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintf(w, `<html><body>%s
			<a href="/a">A</a> <a href="/b">B</a> <a href="/broken">broken</a>
			</body></html>`, imgs(10, true, "root"))
	})
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><body>%s</body></html>`, imgs(5, false, "a"))
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><body>%s</body></html>`, imgs(5, true, "b"))
	})
	mux.HandleFunc("/static/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		// Serve the path as the body so fakes can tell images apart.
		w.Write([]byte(r.URL.Path))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig() config.Config {
	return config.Config{
		MaxPages:        100,
		PagesPerDepth:   25,
		FetchTimeout:    5 * time.Second,
		FetchWorkers:    3,
		FetchPerSec:     1000,
		GenerateWorkers: 4,
		GenerateTimeout: time.Second,
		JobBudget:       time.Minute,
		CarbonTracking:  true,
		TaskMaxRetries:  3,
	}
}

func newTestService(store *memStore, cfg config.Config, gen *generate.Service) *Service {
	fetcher := fetch.New(fetch.Options{
		Timeout:        cfg.FetchTimeout,
		RequestsPerSec: cfg.FetchPerSec,
	})
	return NewService(store, nil, fetcher, gen, cfg)
}

func seedJob(store *memStore, url string, depth int) *job.ScanJob {
	j := &job.ScanJob{
		JobID:     "job-1",
		TargetURL: url,
		Depth:     depth,
		Status:    job.StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	store.Put(context.Background(), j)
	return j
}

func TestRunCompletesCrawl(t *testing.T) {
	srv := testSite(t)
	store := newMemStore()
	svc := newTestService(store, testConfig(), nil)
	seedJob(store, srv.URL, 2)

	err := svc.Run(context.Background(), "job-1", CreateRequest{URL: srv.URL, Depth: 2})
	if err != nil {
		t.Fatal(err)
	}

	j, _ := store.Get(context.Background(), "job-1")
	if j.Status != job.StatusCompleted {
		t.Fatalf("status = %s, error = %v", j.Status, j.ErrorMessage)
	}
	if j.PagesScanned != 3 {
		t.Errorf("PagesScanned = %d, want 3 (broken page must not count)", j.PagesScanned)
	}
	if j.ImagesFound != 20 {
		t.Errorf("ImagesFound = %d, want 20", j.ImagesFound)
	}
	if j.ImagesMissing != 5 {
		t.Errorf("ImagesMissing = %d, want 5", j.ImagesMissing)
	}
	if j.ErrorMessage != nil {
		t.Errorf("ErrorMessage = %q, want nil", *j.ErrorMessage)
	}
	if j.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}

	rep, err := store.GetReport(context.Background(), "job-1")
	if err != nil {
		t.Fatal(err)
	}
	if rep.TotalImages != 20 || rep.ImagesWithAlt != 15 || rep.ImagesWithoutAlt != 5 {
		t.Errorf("report counts: %+v", rep)
	}
	if rep.ComplianceScore != 75 {
		t.Errorf("ComplianceScore = %d, want 75", rep.ComplianceScore)
	}
}

func TestRunDepthOneScansOnlySeed(t *testing.T) {
	srv := testSite(t)
	store := newMemStore()
	svc := newTestService(store, testConfig(), nil)
	seedJob(store, srv.URL, 1)

	if err := svc.Run(context.Background(), "job-1", CreateRequest{URL: srv.URL, Depth: 1}); err != nil {
		t.Fatal(err)
	}
	j, _ := store.Get(context.Background(), "job-1")
	if j.PagesScanned != 1 {
		t.Errorf("PagesScanned = %d, want 1", j.PagesScanned)
	}
	if j.ImagesFound != 10 {
		t.Errorf("ImagesFound = %d, want 10", j.ImagesFound)
	}
}

func TestRunWithGeneration(t *testing.T) {
	srv := testSite(t)
	store := newMemStore()
	cfg := testConfig()

	gen := generate.NewService(
		[]generate.Provider{&okProvider{model: "gemini-2.0-flash"}},
		openQuota{},
		fetch.New(fetch.Options{RequestsPerSec: 1000}),
		nil,
		generate.Options{Workers: cfg.GenerateWorkers, AttemptTimeout: cfg.GenerateTimeout},
	)

	svc := newTestService(store, cfg, gen)
	seedJob(store, srv.URL, 2)

	// generate_alt defaults on when the field is omitted.
	err := svc.Run(context.Background(), "job-1", CreateRequest{
		URL:   srv.URL,
		Depth: 2,
	})
	if err != nil {
		t.Fatal(err)
	}

	j, _ := store.Get(context.Background(), "job-1")
	if j.Status != job.StatusCompleted {
		t.Fatalf("status = %s, error = %v", j.Status, j.ErrorMessage)
	}
	if j.ImagesMissing != 0 {
		t.Errorf("ImagesMissing = %d, want 0 after full remediation", j.ImagesMissing)
	}

	rep, err := store.GetReport(context.Background(), "job-1")
	if err != nil {
		t.Fatal(err)
	}
	if rep.ComplianceScore != 100 {
		t.Errorf("ComplianceScore = %d, want 100", rep.ComplianceScore)
	}
	if rep.CarbonTotalMg == 0 {
		t.Error("carbon total missing despite tracked generations")
	}
	remediated := 0
	for _, f := range rep.Findings {
		if f.GeneratedAlt != nil {
			if f.ModelUsed == nil || *f.ModelUsed != "gemini-2.0-flash" {
				t.Errorf("finding missing model attribution: %+v", f)
			}
			remediated++
		}
	}
	if remediated != 5 {
		t.Errorf("remediated findings = %d, want 5", remediated)
	}
}

func TestRunWithGenerationPartialFailure(t *testing.T) {
	srv := testSite(t)
	store := newMemStore()
	cfg := testConfig()

	// One image in the batch never captions; the scan must still complete
	// with the failure folded into the counters.
	gen := generate.NewService(
		[]generate.Provider{&pickyProvider{model: "gemini-2.0-flash", failMatch: "a3.jpg"}},
		openQuota{},
		fetch.New(fetch.Options{RequestsPerSec: 1000}),
		nil,
		generate.Options{Workers: cfg.GenerateWorkers, AttemptTimeout: cfg.GenerateTimeout},
	)

	svc := newTestService(store, cfg, gen)
	seedJob(store, srv.URL, 2)

	if err := svc.Run(context.Background(), "job-1", CreateRequest{URL: srv.URL, Depth: 2}); err != nil {
		t.Fatal(err)
	}

	j, _ := store.Get(context.Background(), "job-1")
	if j.Status != job.StatusCompleted {
		t.Fatalf("status = %s, error = %v", j.Status, j.ErrorMessage)
	}
	if j.ErrorMessage != nil {
		t.Errorf("ErrorMessage = %q, want nil", *j.ErrorMessage)
	}
	if j.ImagesMissing != 1 {
		t.Errorf("ImagesMissing = %d, want 1", j.ImagesMissing)
	}

	rep, err := store.GetReport(context.Background(), "job-1")
	if err != nil {
		t.Fatal(err)
	}
	if rep.ImagesWithAlt != 19 || rep.ImagesWithoutAlt != 1 {
		t.Errorf("counts: withAlt = %d, withoutAlt = %d", rep.ImagesWithAlt, rep.ImagesWithoutAlt)
	}
	if rep.ComplianceScore != 95 {
		t.Errorf("ComplianceScore = %d, want 95", rep.ComplianceScore)
	}
	failed := 0
	for _, f := range rep.Findings {
		if f.Outcome == generate.OutcomeFailed {
			if f.GeneratedAlt != nil {
				t.Errorf("failed finding carries generated text: %+v", f)
			}
			failed++
		}
	}
	if failed != 1 {
		t.Errorf("failed findings = %d, want 1", failed)
	}
}

func TestRunCancelDuringGenerationStopsDispatch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintf(w, `<html><body>%s</body></html>`, imgs(8, false, "x"))
	})
	mux.HandleFunc("/static/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte(r.URL.Path))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := newMemStore()
	cfg := testConfig()
	cfg.GenerateWorkers = 1
	cfg.GenerateTimeout = 2 * time.Second

	provider := &cancellingProvider{store: store, jobID: "job-1"}
	gen := generate.NewService(
		[]generate.Provider{provider},
		openQuota{},
		fetch.New(fetch.Options{RequestsPerSec: 1000}),
		nil,
		generate.Options{Workers: cfg.GenerateWorkers, AttemptTimeout: cfg.GenerateTimeout},
	)

	svc := newTestService(store, cfg, gen)
	seedJob(store, srv.URL, 1)

	if err := svc.Run(context.Background(), "job-1", CreateRequest{URL: srv.URL, Depth: 1}); err != nil {
		t.Fatal(err)
	}

	// Cancelling mid-batch must stop new captioning work, not just flip the
	// status once all eight images have been tried.
	if calls := atomic.LoadInt32(&provider.calls); calls > 2 {
		t.Errorf("provider calls after cancellation = %d, want at most 2", calls)
	}
	j, _ := store.Get(context.Background(), "job-1")
	if j.Status != job.StatusFailed {
		t.Fatalf("status = %s", j.Status)
	}
	if j.ErrorMessage == nil || *j.ErrorMessage != "scan cancelled by user" {
		t.Errorf("ErrorMessage = %v", j.ErrorMessage)
	}
}

func TestRunCancelled(t *testing.T) {
	srv := testSite(t)
	store := newMemStore()
	svc := newTestService(store, testConfig(), nil)
	seedJob(store, srv.URL, 2)
	store.Cancel(context.Background(), "job-1")

	if err := svc.Run(context.Background(), "job-1", CreateRequest{URL: srv.URL, Depth: 2}); err != nil {
		t.Fatal(err)
	}
	j, _ := store.Get(context.Background(), "job-1")
	if j.Status != job.StatusFailed {
		t.Fatalf("status = %s", j.Status)
	}
	if j.ErrorMessage == nil || *j.ErrorMessage != "scan cancelled by user" {
		t.Errorf("ErrorMessage = %v", j.ErrorMessage)
	}
}

func TestRunUnreachableSeed(t *testing.T) {
	srv := testSite(t)
	store := newMemStore()
	svc := newTestService(store, testConfig(), nil)
	seedJob(store, srv.URL+"/broken", 1)

	if err := svc.Run(context.Background(), "job-1", CreateRequest{URL: srv.URL + "/broken", Depth: 1}); err != nil {
		t.Fatal(err)
	}
	j, _ := store.Get(context.Background(), "job-1")
	if j.Status != job.StatusFailed {
		t.Fatalf("status = %s", j.Status)
	}
	if j.ErrorMessage == nil {
		t.Fatal("expected an error message")
	}
}

func TestRunBudgetExceeded(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		fmt.Fprint(w, "<html><body></body></html>")
	}))
	defer slow.Close()

	store := newMemStore()
	cfg := testConfig()
	cfg.JobBudget = 50 * time.Millisecond
	svc := newTestService(store, cfg, nil)
	seedJob(store, slow.URL, 1)

	if err := svc.Run(context.Background(), "job-1", CreateRequest{URL: slow.URL, Depth: 1}); err != nil {
		t.Fatal(err)
	}
	j, _ := store.Get(context.Background(), "job-1")
	if j.Status != job.StatusFailed {
		t.Fatalf("status = %s", j.Status)
	}
	if j.ErrorMessage == nil || *j.ErrorMessage != "scan exceeded time budget" {
		t.Errorf("ErrorMessage = %v", j.ErrorMessage)
	}
}
