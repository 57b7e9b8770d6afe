package crawler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// stubFetcher serves canned bodies and errors keyed by URL and counts calls.
type stubFetcher struct {
	mu     sync.Mutex
	bodies map[string]string
	errs   map[string]error
	calls  map[string]int
	// fallback is returned for URLs with neither a body nor an error.
	fallback error
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{
		bodies: map[string]string{},
		errs:   map[string]error{},
		calls:  map[string]int{},
	}
}

func (s *stubFetcher) with(url, body string) *stubFetcher {
	s.bodies[url] = body
	return s
}

func (s *stubFetcher) failing(url string, err error) *stubFetcher {
	s.errs[url] = err
	return s
}

func (s *stubFetcher) Fetch(ctx context.Context, url string, _ time.Duration) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[url]++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err, ok := s.errs[url]; ok {
		return nil, err
	}
	if body, ok := s.bodies[url]; ok {
		return []byte(body), nil
	}
	if s.fallback != nil {
		return nil, s.fallback
	}
	return nil, &HTTPStatusError{URL: url, Code: 404}
}

func (s *stubFetcher) callCount(url string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[url]
}

func (s *stubFetcher) totalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.calls {
		total += n
	}
	return total
}

func urlsetXML(locs ...string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">`)
	for _, loc := range locs {
		fmt.Fprintf(&b, "<url><loc>%s</loc></url>", loc)
	}
	b.WriteString("</urlset>")
	return b.String()
}

func indexXML(locs ...string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">`)
	for _, loc := range locs {
		fmt.Fprintf(&b, "<sitemap><loc>%s</loc></sitemap>", loc)
	}
	b.WriteString("</sitemapindex>")
	return b.String()
}

func pageURLs(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s/page-%d", prefix, i)
	}
	return out
}
