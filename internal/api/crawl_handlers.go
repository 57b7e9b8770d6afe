package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
)

type crawlRequest struct {
	Domains     []string `json:"domains"`
	Concurrency int      `json:"concurrency"`
	IncludeURLs bool     `json:"include_urls"`
}

// crawlResultDTO exposes a result's URL list when the caller asks for it.
type crawlResultDTO struct {
	crawler.CrawlResult
	URLs []string `json:"urls,omitempty"`
}

func toResultDTO(result crawler.CrawlResult, includeURLs bool) crawlResultDTO {
	dto := crawlResultDTO{CrawlResult: result}
	if includeURLs {
		dto.URLs = result.URLs
		if dto.URLs == nil {
			dto.URLs = []string{}
		}
	}
	return dto
}

// crawlBatch handles POST /v1/crawl. It blocks until every domain has a
// result and returns them in submission order.
func (s *Server) crawlBatch(w http.ResponseWriter, r *http.Request) {
	var req crawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid JSON")
		return
	}
	domains, err := s.validateDomains(req.Domains)
	if err != nil {
		writeError(s.logger, w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Concurrency < 0 {
		writeError(s.logger, w, http.StatusBadRequest, "invalid concurrency")
		return
	}
	ctx, cancel := s.crawlContext(r.Context())
	defer cancel()

	s.logger.Info("crawl batch received",
		zap.String("request_id", requestID(r.Context())),
		zap.Int("domains", len(domains)),
	)
	results := s.crawls.CrawlDomains(ctx, domains, s.capConcurrency(req.Concurrency))
	out := make([]crawlResultDTO, 0, len(results))
	for _, result := range results {
		out = append(out, toResultDTO(result, req.IncludeURLs))
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{"results": out})
}

// crawlStream handles GET /v1/crawl/stream?domains=a,b. Each finished crawl is
// sent as one Server-Sent Event; a final "done" event closes the stream.
func (s *Server) crawlStream(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	domains, err := s.validateDomains(strings.Split(q.Get("domains"), ","))
	if err != nil {
		writeError(s.logger, w, http.StatusBadRequest, err.Error())
		return
	}
	concurrency := 0
	if raw := q.Get("concurrency"); raw != "" {
		concurrency, err = strconv.Atoi(raw)
		if err != nil || concurrency < 0 {
			writeError(s.logger, w, http.StatusBadRequest, "invalid concurrency")
			return
		}
	}
	includeURLs, _ := strconv.ParseBool(q.Get("include_urls"))

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(s.logger, w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	ctx, cancel := s.crawlContext(r.Context())
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sent := 0
	for result := range s.crawls.Stream(ctx, domains, s.capConcurrency(concurrency)) {
		if err := writeEvent(w, "", toResultDTO(result, includeURLs)); err != nil {
			s.logger.Warn("stream write failed", zap.Error(err))
			cancel()
			continue
		}
		flusher.Flush()
		sent++
	}
	if err := writeEvent(w, "done", map[string]int{"completed": sent}); err != nil {
		s.logger.Debug("stream close failed", zap.Error(err))
		return
	}
	flusher.Flush()
}

func writeEvent(w http.ResponseWriter, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if event != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
			return fmt.Errorf("write event: %w", err)
		}
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

func (s *Server) validateDomains(raw []string) ([]string, error) {
	domains := make([]string, 0, len(raw))
	for _, d := range raw {
		if d = strings.TrimSpace(d); d != "" {
			domains = append(domains, d)
		}
	}
	if len(domains) == 0 {
		return nil, errors.New("at least one domain required")
	}
	if limit := s.cfg.Server.MaxDomainsPerRequest; limit > 0 && len(domains) > limit {
		return nil, fmt.Errorf("too many domains: %d (max %d)", len(domains), limit)
	}
	return domains, nil
}

// capConcurrency bounds a client-requested pool size by crawler.concurrency.
// Zero keeps the dispatcher default.
func (s *Server) capConcurrency(requested int) int {
	if limit := s.cfg.Crawler.Concurrency; limit > 0 && requested > limit {
		return limit
	}
	return requested
}

func (s *Server) crawlContext(parent context.Context) (context.Context, context.CancelFunc) {
	if secs := s.cfg.Server.RequestTimeoutSeconds; secs > 0 {
		return context.WithTimeout(parent, time.Duration(secs)*time.Second)
	}
	return context.WithCancel(parent)
}
