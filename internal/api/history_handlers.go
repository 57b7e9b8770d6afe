package api

import (
	"context"
	"encoding/csv"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-crawler/internal/config"
	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
	sessionid "github.com/JakeFAU/sitemap-crawler/internal/id/uuid"
)

const (
	defaultStatsDays = 30
	maxStatsDays     = 365
	maxCompareLimit  = 20
	historyTimeout   = 5 * time.Second
)

// HistoryHandler exposes read-only crawl history endpoints.
type HistoryHandler struct {
	store   crawler.SessionStore
	clock   crawler.Clock
	cfg     config.HistoryConfig
	timeout time.Duration
	logger  *zap.Logger
}

// NewHistoryHandler wires the session store and logger.
func NewHistoryHandler(store crawler.SessionStore, clock crawler.Clock, cfg config.HistoryConfig, logger *zap.Logger) *HistoryHandler {
	if clock == nil {
		clock = crawler.ClockFunc(time.Now)
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = crawler.DefaultHistoryLimit
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = crawler.MaxHistoryLimit
	}
	if cfg.CompareLimit <= 0 {
		cfg.CompareLimit = crawler.DefaultCompareLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryHandler{
		store:   store,
		clock:   clock,
		cfg:     cfg,
		timeout: historyTimeout,
		logger:  logger,
	}
}

// List handles GET /v1/history?domain=&status=&date_from=&date_to=&limit=&offset=.
// It returns one page of sessions, newest first, or 400 for invalid filters.
func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(h.logger, w, http.StatusServiceUnavailable, "history store unavailable")
		return
	}
	filter, err := h.parseFilter(r)
	if err != nil {
		writeError(h.logger, w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	page, err := h.store.ListSessions(ctx, filter)
	if err != nil {
		h.logger.Error("list sessions failed", zap.Error(err))
		writeError(h.logger, w, http.StatusInternalServerError, "failed to list history")
		return
	}
	writeJSON(h.logger, w, http.StatusOK, page)
}

// Get handles GET /v1/history/{id}. It returns 400 for malformed IDs and 404
// when the store reports crawler.ErrNotFound.
func (h *HistoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(h.logger, w, http.StatusServiceUnavailable, "history store unavailable")
		return
	}
	id := chi.URLParam(r, "id")
	if !sessionid.Valid(id) {
		writeError(h.logger, w, http.StatusBadRequest, "invalid session id")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	session, err := h.store.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, crawler.ErrNotFound) {
			writeError(h.logger, w, http.StatusNotFound, "session not found")
			return
		}
		h.logger.Error("get session failed", zap.String("session_id", id), zap.Error(err))
		writeError(h.logger, w, http.StatusInternalServerError, "failed to load session")
		return
	}
	writeJSON(h.logger, w, http.StatusOK, session)
}

type statisticsResponse struct {
	PeriodDays int `json:"period_days"`
	crawler.Statistics
}

// Statistics handles GET /v1/history/statistics?days=.
func (h *HistoryHandler) Statistics(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(h.logger, w, http.StatusServiceUnavailable, "history store unavailable")
		return
	}
	days, err := parseDays(r)
	if err != nil {
		writeError(h.logger, w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	stats, err := h.store.Statistics(ctx, h.clock.Now().AddDate(0, 0, -days))
	if err != nil {
		h.logger.Error("statistics failed", zap.Error(err))
		writeError(h.logger, w, http.StatusInternalServerError, "failed to build statistics")
		return
	}
	writeJSON(h.logger, w, http.StatusOK, statisticsResponse{PeriodDays: days, Statistics: stats})
}

// Compare handles GET /v1/history/compare/{domain}?limit=. It returns 404
// when the domain has fewer than two stored crawls.
func (h *HistoryHandler) Compare(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(h.logger, w, http.StatusServiceUnavailable, "history store unavailable")
		return
	}
	domain, err := crawler.NormalizeDomain(chi.URLParam(r, "domain"))
	if err != nil {
		writeError(h.logger, w, http.StatusBadRequest, err.Error())
		return
	}
	limit := h.cfg.CompareLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 2 {
			writeError(h.logger, w, http.StatusBadRequest, "invalid limit")
			return
		}
		if limit > maxCompareLimit {
			limit = maxCompareLimit
		}
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	sessions, err := h.store.RecentByDomain(ctx, domain, limit)
	if err != nil {
		h.logger.Error("recent sessions failed", zap.String("domain", domain), zap.Error(err))
		writeError(h.logger, w, http.StatusInternalServerError, "failed to compare crawls")
		return
	}
	cmp, err := crawler.CompareSessions(domain, sessions)
	if err != nil {
		writeError(h.logger, w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(h.logger, w, http.StatusOK, cmp)
}

var csvHistoryHeader = []string{
	"Domain", "Timestamp", "Status", "Total URLs", "Duration (s)", "Sitemaps Found", "Error Message",
}

// Export handles GET /v1/history/export?format=csv|json&days=. It exports
// sessions from the last days days, newest first.
func (h *HistoryHandler) Export(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(h.logger, w, http.StatusServiceUnavailable, "history store unavailable")
		return
	}
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = "csv"
	}
	if format != "csv" && format != "json" {
		writeError(h.logger, w, http.StatusBadRequest, "invalid format")
		return
	}
	days, err := parseDays(r)
	if err != nil {
		writeError(h.logger, w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	page, err := h.store.ListSessions(ctx, crawler.HistoryFilter{
		From:  h.clock.Now().AddDate(0, 0, -days),
		Limit: crawler.MaxHistoryLimit,
	})
	if err != nil {
		h.logger.Error("export sessions failed", zap.Error(err))
		writeError(h.logger, w, http.StatusInternalServerError, "failed to export history")
		return
	}
	if format == "json" {
		writeJSON(h.logger, w, http.StatusOK, page)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=crawl_history.csv")
	w.WriteHeader(http.StatusOK)
	cw := csv.NewWriter(w)
	rows := make([][]string, 0, len(page.Results)+1)
	rows = append(rows, csvHistoryHeader)
	for _, s := range page.Results {
		rows = append(rows, []string{
			s.Domain,
			s.Timestamp.Format(time.RFC3339),
			string(s.Status),
			strconv.Itoa(s.TotalURLs),
			strconv.FormatFloat(float64(s.DurationMs)/1000, 'f', 2, 64),
			strconv.Itoa(s.SitemapsFound),
			s.Error,
		})
	}
	if err := cw.WriteAll(rows); err != nil {
		h.logger.Warn("write history csv failed", zap.Error(err))
	}
}

func (h *HistoryHandler) parseFilter(r *http.Request) (crawler.HistoryFilter, error) {
	q := r.URL.Query()
	limit, offset, err := parseLimitOffset(r, h.cfg.DefaultLimit, h.cfg.MaxLimit)
	if err != nil {
		return crawler.HistoryFilter{}, err
	}
	filter := crawler.HistoryFilter{
		Domain: q.Get("domain"),
		Limit:  limit,
		Offset: offset,
	}
	switch status := crawler.CrawlStatus(strings.ToLower(q.Get("status"))); status {
	case "", crawler.CrawlStatusSuccess, crawler.CrawlStatusFailed:
		filter.Status = status
	default:
		return crawler.HistoryFilter{}, errors.New("invalid status")
	}
	if filter.From, err = parseDate(q.Get("date_from"), false); err != nil {
		return crawler.HistoryFilter{}, errors.New("invalid date_from")
	}
	if filter.To, err = parseDate(q.Get("date_to"), true); err != nil {
		return crawler.HistoryFilter{}, errors.New("invalid date_to")
	}
	return filter, nil
}

// parseDate accepts RFC 3339 timestamps or YYYY-MM-DD dates. A bare date used
// as an upper bound covers the whole day.
func parseDate(raw string, endOfDay bool) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, err //nolint:wrapcheck // callers replace the message
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseDays(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("days")
	if raw == "" {
		return defaultStatsDays, nil
	}
	days, err := strconv.Atoi(raw)
	if err != nil || days <= 0 {
		return 0, errors.New("invalid days")
	}
	if days > maxStatsDays {
		days = maxStatsDays
	}
	return days, nil
}
