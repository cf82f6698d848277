package frontier

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"alttext/internal/logger"
)

// Page is one crawl unit yielded by the frontier.
type Page struct {
	URL   string
	Depth int
}

type offer struct {
	fromDepth int
	links     []string
}

// Frontier is the bounded breadth-first crawl queue. A single goroutine owns
// the visited set and queue; workers interact only through channels, so no
// lock is shared with them.
type Frontier struct {
	nextCh  chan Page
	offerCh chan offer
	doneCh  chan struct{}
	quit    chan struct{}

	seedHost   string
	seedScheme string
	maxDepth   int
	maxPages   int
	log        *logger.Logger
}

// ValidateSeed normalizes a crawl seed and rejects anything that is not an
// absolute http(s) URL with a host.
func ValidateSeed(seed string) (string, *url.URL, error) {
	norm, u, err := normalize(seed)
	if err != nil {
		return "", nil, fmt.Errorf("invalid seed url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", nil, fmt.Errorf("invalid seed url: unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return "", nil, fmt.Errorf("invalid seed url: missing host")
	}
	return norm, u, nil
}

// New validates and normalizes the seed, then starts the owner goroutine.
// The seed is visited at depth 0.
func New(seed string, maxDepth, maxPages int) (*Frontier, error) {
	norm, u, err := ValidateSeed(seed)
	if err != nil {
		return nil, err
	}
	if maxPages < 1 {
		maxPages = 1
	}

	f := &Frontier{
		nextCh:     make(chan Page),
		offerCh:    make(chan offer),
		doneCh:     make(chan struct{}),
		quit:       make(chan struct{}),
		seedHost:   strings.TrimPrefix(u.Hostname(), "www."),
		seedScheme: u.Scheme,
		maxDepth:   maxDepth,
		maxPages:   maxPages,
		log:        logger.New("Frontier"),
	}
	go f.loop(norm)
	return f, nil
}

// Next yields the next page in breadth-first order. ok is false once the
// crawl is exhausted or the page budget is spent.
func (f *Frontier) Next(ctx context.Context) (Page, bool) {
	select {
	case p, ok := <-f.nextCh:
		return p, ok
	case <-ctx.Done():
		return Page{}, false
	}
}

// Offer submits a page's outbound links discovered at fromDepth. Links are
// deduplicated and filtered to the seed origin by the owner goroutine;
// discovery order is preserved.
func (f *Frontier) Offer(fromDepth int, links []string) {
	select {
	case f.offerCh <- offer{fromDepth: fromDepth, links: links}:
	case <-f.quit:
	}
}

// Done marks one previously yielded page as fully processed. The frontier
// terminates only when the queue is empty and every yielded page is done.
func (f *Frontier) Done() {
	select {
	case f.doneCh <- struct{}{}:
	case <-f.quit:
	}
}

// Stop aborts the crawl; pending Next calls observe exhaustion.
func (f *Frontier) Stop() {
	select {
	case <-f.quit:
	default:
		close(f.quit)
	}
}

func (f *Frontier) loop(seed string) {
	visited := map[string]struct{}{seed: {}}
	queue := []Page{{URL: seed, Depth: 0}}
	dispatched := 0
	outstanding := 0

	for {
		var sendCh chan Page
		var head Page
		if len(queue) > 0 && dispatched < f.maxPages {
			sendCh = f.nextCh
			head = queue[0]
		} else if outstanding == 0 {
			// Either the site is exhausted or the page budget is spent.
			close(f.nextCh)
			return
		}

		select {
		case sendCh <- head:
			queue = queue[1:]
			dispatched++
			outstanding++
		case off := <-f.offerCh:
			if off.fromDepth+1 > f.maxDepth {
				continue
			}
			for _, link := range off.links {
				norm, u, err := normalize(link)
				if err != nil {
					continue
				}
				if !f.sameOrigin(u) {
					continue
				}
				if _, seen := visited[norm]; seen {
					continue
				}
				visited[norm] = struct{}{}
				queue = append(queue, Page{URL: norm, Depth: off.fromDepth + 1})
			}
		case <-f.doneCh:
			outstanding--
		case <-f.quit:
			close(f.nextCh)
			return
		}
	}
}

func (f *Frontier) sameOrigin(u *url.URL) bool {
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return strings.TrimPrefix(u.Hostname(), "www.") == f.seedHost
}

// normalize lowercases scheme and host, strips fragments and default ports,
// and gives empty paths a canonical "/". Path case is preserved: paths are
// case-sensitive and conflating them would skip real pages.
func normalize(raw string) (string, *url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", nil, err
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	if (u.Scheme == "http" && u.Port() == "80") || (u.Scheme == "https" && u.Port() == "443") {
		u.Host = u.Hostname()
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), u, nil
}

// Normalize exposes URL normalization for callers that need the same
// canonical form the visited set uses.
func Normalize(raw string) (string, error) {
	norm, _, err := normalize(raw)
	return norm, err
}
