package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mr1hm/go-raid-alerts/internal/dispatch"
	internalgrpc "github.com/mr1hm/go-raid-alerts/internal/grpc"
	"github.com/mr1hm/go-raid-alerts/internal/models"
	"github.com/mr1hm/go-raid-alerts/internal/repository"
	"github.com/mr1hm/go-raid-alerts/internal/resolver"
)

type AlertSource interface {
	FetchActiveAlerts(ctx context.Context) ([]models.AlertRecord, error)
}

type Directory interface {
	Get(id string) (models.LocationNode, bool)
	All() []models.LocationNode
	Subdivisions() []models.LocationNode
	Search(query string) (models.LocationNode, bool)
}

// CycleRunner triggers an ad-hoc dispatch cycle.
type CycleRunner interface {
	RunOnce(ctx context.Context) (dispatch.Report, error)
}

type Pinger interface {
	Ping() error
}

type Handler struct {
	source      AlertSource
	dir         Directory
	resolver    *resolver.Resolver
	history     repository.HistoryRepository
	broadcaster *internalgrpc.Broadcaster
	cycles      CycleRunner
	db          Pinger
	heartbeat   time.Duration
}

type Options struct {
	Source      AlertSource
	Dir         Directory
	Resolver    *resolver.Resolver
	History     repository.HistoryRepository
	Broadcaster *internalgrpc.Broadcaster
	Cycles      CycleRunner
	DB          Pinger
	// Heartbeat is the keep-alive period of event streams.
	Heartbeat time.Duration
}

func NewHandler(opts Options) *Handler {
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 15 * time.Second
	}
	return &Handler{
		source:      opts.Source,
		dir:         opts.Dir,
		resolver:    opts.Resolver,
		history:     opts.History,
		broadcaster: opts.Broadcaster,
		cycles:      opts.Cycles,
		db:          opts.DB,
		heartbeat:   opts.Heartbeat,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api")
	api.GET("/status", h.getStatus)
	api.GET("/status/:city", h.getCityStatus)
	api.GET("/locations", h.getLocations)
	api.GET("/locations/geojson", h.getLocationsGeoJSON)
	api.GET("/history", h.getHistory)
	api.GET("/events", h.streamEvents)
	api.POST("/debug/check", h.runCheck)

	r.GET("/health", h.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// alerts reads the current snapshot, answering 503 itself when there is none.
func (h *Handler) alerts(c *gin.Context) ([]models.AlertRecord, bool) {
	alerts, err := h.source.FetchActiveAlerts(c.Request.Context())
	if err != nil {
		slog.Warn("alert data unavailable", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "alert data unavailable"})
		return nil, false
	}
	return alerts, true
}

func (h *Handler) getStatus(c *gin.Context) {
	var (
		loc models.LocationNode
		ok  bool
	)
	if uid := c.Query("uid"); uid != "" {
		loc, ok = h.dir.Get(uid)
	} else {
		loc, ok = h.dir.Search(c.Query("location"))
	}
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Location not found"})
		return
	}

	alerts, ok := h.alerts(c)
	if !ok {
		return
	}
	details := h.resolver.DetailsFor(alerts, loc.ID)

	c.JSON(http.StatusOK, gin.H{
		"location":    loc.Name,
		"alert":       h.resolver.IsActive(alerts, loc.ID),
		"locationUid": loc.ID,
		"alertCount":  len(details),
		"alertTypes":  resolver.ThreatTypes(details),
		"timestamp":   time.Now().UTC(),
	})
}

func (h *Handler) getCityStatus(c *gin.Context) {
	city := c.Param("city")
	loc, ok := h.dir.Search(city)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Location not found", "query": city})
		return
	}

	alerts, ok := h.alerts(c)
	if !ok {
		return
	}
	details := h.resolver.DetailsFor(alerts, loc.ID)

	c.JSON(http.StatusOK, gin.H{
		"location":    loc.Name,
		"short":       loc.Short,
		"uid":         loc.ID,
		"alert":       h.resolver.IsActive(alerts, loc.ID),
		"alertTypes":  resolver.ThreatTypes(details),
		"summary":     h.resolver.SummarizeLocation(alerts, loc.ID),
		"countrywide": h.resolver.Summarize(alerts),
		"timestamp":   time.Now().UTC(),
	})
}

func (h *Handler) getLocations(c *gin.Context) {
	c.JSON(http.StatusOK, h.dir.All())
}

func (h *Handler) getLocationsGeoJSON(c *gin.Context) {
	alerts, ok := h.alerts(c)
	if !ok {
		return
	}

	c.Header("Content-Type", "application/geo+json")
	c.JSON(http.StatusOK, h.toGeoJSON(h.dir.Subdivisions(), alerts))
}

func (h *Handler) getHistory(c *gin.Context) {
	filter := repository.HistoryFilter{
		Page:       queryInt(c, "page", 1),
		Limit:      queryInt(c, "limit", repository.DefaultHistoryLimit),
		LocationID: c.Query("locationUid"),
		Search:     c.Query("search"),
	}
	if t := strings.ToUpper(c.Query("type")); t == string(models.EventAlert) || t == string(models.EventEnd) {
		filter.Event = models.EventType(t)
	}
	if d, _, ok := queryDate(c, "dateFrom"); ok {
		filter.DateFrom = &d
	}
	if d, day, ok := queryDate(c, "dateTo"); ok {
		if day {
			d = d.Add(24*time.Hour - time.Nanosecond)
		}
		filter.DateTo = &d
	}

	ctx := c.Request.Context()
	page, err := h.history.ListHistory(ctx, filter)
	if err != nil {
		slog.Error("history query failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch history"})
		return
	}
	stats, err := h.history.HistoryStats(ctx)
	if err != nil {
		slog.Error("history stats failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": page.Records,
		"pagination": gin.H{
			"page":       page.Page,
			"limit":      page.Limit,
			"total":      page.Total,
			"totalPages": page.TotalPages,
		},
		"stats": stats,
	})
}

func (h *Handler) runCheck(c *gin.Context) {
	if h.cycles == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "polling disabled"})
		return
	}

	report, err := h.cycles.RunOnce(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "cycleId": report.CycleID})
		return
	}

	results := make(map[string]int)
	for outcome, n := range report.Counts() {
		results[string(outcome)] = n
	}
	c.JSON(http.StatusOK, gin.H{
		"cycleId":     report.CycleID,
		"alerts":      report.Alerts,
		"subscribers": len(report.Results),
		"results":     results,
	})
}

func (h *Handler) health(c *gin.Context) {
	if h.db != nil {
		if err := h.db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": "database unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func queryInt(c *gin.Context, key string, fallback int) int {
	if v := c.Query(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// queryDate accepts YYYY-MM-DD or a full RFC 3339 timestamp. day reports
// the date-only form.
func queryDate(c *gin.Context, key string) (t time.Time, day, ok bool) {
	v := c.Query(key)
	if v == "" {
		return time.Time{}, false, false
	}
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return t, true, true
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), false, true
	}
	return time.Time{}, false, false
}
