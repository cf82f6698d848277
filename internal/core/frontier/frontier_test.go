package frontier

import (
	"context"
	"testing"
	"time"
)

func drain(t *testing.T, f *Frontier, visit func(Page) []string) []Page {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var pages []Page
	for {
		p, ok := f.Next(ctx)
		if !ok {
			return pages
		}
		pages = append(pages, p)
		if visit != nil {
			f.Offer(p.Depth, visit(p))
		}
		f.Done()
	}
}

func TestNewRejectsBadSeeds(t *testing.T) {
	for _, seed := range []string{"", "ftp://example.com/", "javascript:alert(1)", "https://", "://nope"} {
		if _, err := New(seed, 1, 10); err == nil {
			t.Errorf("New(%q) expected error", seed)
		}
	}
}

func TestBreadthFirstOrder(t *testing.T) {
	links := map[string][]string{
		"https://example.com/":  {"https://example.com/a", "https://example.com/b"},
		"https://example.com/a": {"https://example.com/a1"},
		"https://example.com/b": {"https://example.com/b1"},
	}

	f, err := New("https://example.com", 2, 100)
	if err != nil {
		t.Fatal(err)
	}
	pages := drain(t, f, func(p Page) []string { return links[p.URL] })

	want := []string{
		"https://example.com/",
		"https://example.com/a",
		"https://example.com/b",
		"https://example.com/a1",
		"https://example.com/b1",
	}
	if len(pages) != len(want) {
		t.Fatalf("got %d pages, want %d: %+v", len(pages), len(want), pages)
	}
	for i, p := range pages {
		if p.URL != want[i] {
			t.Errorf("page %d = %s, want %s", i, p.URL, want[i])
		}
	}
	if pages[0].Depth != 0 || pages[1].Depth != 1 || pages[3].Depth != 2 {
		t.Errorf("unexpected depths: %+v", pages)
	}
}

func TestDepthLimit(t *testing.T) {
	f, err := New("https://example.com", 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	pages := drain(t, f, func(p Page) []string { return []string{"https://example.com/deeper"} })
	if len(pages) != 1 {
		t.Fatalf("depth 0 crawl yielded %d pages, want 1", len(pages))
	}
}

func TestPageBudget(t *testing.T) {
	f, err := New("https://example.com", 10, 3)
	if err != nil {
		t.Fatal(err)
	}
	pages := drain(t, f, func(p Page) []string {
		// Every page links to two fresh pages, never exhausting naturally.
		return []string{
			"https://example.com/p" + p.URL + "x",
			"https://example.com/p" + p.URL + "y",
		}
	})
	if len(pages) != 3 {
		t.Fatalf("got %d pages, want 3", len(pages))
	}
}

func TestSameOriginAndDedup(t *testing.T) {
	f, err := New("https://www.example.com", 1, 100)
	if err != nil {
		t.Fatal(err)
	}
	pages := drain(t, f, func(p Page) []string {
		if p.Depth > 0 {
			return nil
		}
		return []string{
			"https://example.com/a",       // www-stripped host still same origin
			"https://www.example.com/a",   // duplicate after normalization
			"https://example.com/a#frag",  // fragment stripped, duplicate
			"https://other.com/x",         // cross-origin
			"mailto:someone@example.com",  // non-http
			"https://example.com:443/b",   // default port stripped
		}
	})
	want := 3 // seed, /a, /b
	if len(pages) != want {
		t.Fatalf("got %d pages, want %d: %+v", len(pages), want, pages)
	}
}

func TestStopUnblocksNext(t *testing.T) {
	f, err := New("https://example.com", 1, 100)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if _, ok := f.Next(ctx); !ok {
		t.Fatal("expected seed page")
	}
	f.Stop()
	if _, ok := f.Next(ctx); ok {
		t.Fatal("expected exhaustion after Stop")
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct{ in, want string }{
		{"HTTPS://Example.COM", "https://example.com/"},
		{"https://example.com:443/path", "https://example.com/path"},
		{"http://example.com:80/", "http://example.com/"},
		{"https://example.com/Path#section", "https://example.com/Path"},
	}
	for _, tt := range tests {
		got, err := Normalize(tt.in)
		if err != nil {
			t.Fatalf("Normalize(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
