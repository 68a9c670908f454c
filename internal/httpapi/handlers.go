package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"

	"openphone-relay/internal/auth"
	"openphone-relay/internal/ingest"
	"openphone-relay/internal/metrics"
	"openphone-relay/internal/reporting"
	"openphone-relay/internal/telephony"
	"openphone-relay/internal/tenants"
	"openphone-relay/pkg/logger"
)

const maxWebhookBody = 1 << 20

// WebhookProcessor runs one decoded webhook event.
type WebhookProcessor interface {
	Handle(ctx context.Context, ev telephony.Event) (ingest.Outcome, error)
}

// ReportService builds period reports.
type ReportService interface {
	Generate(ctx context.Context, req reporting.Request) (reporting.Report, error)
	Dashboard(ctx context.Context, tenantID string, date time.Time) ([]reporting.Report, error)
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, render.
type Handlers struct {
	Ingest  WebhookProcessor
	Reports ReportService
	Tenants *tenants.Directory

	// Location is the calendar used for report dates.
	Location *time.Location

	// Health reports storage reachability; nil means always healthy.
	Health func(ctx context.Context) error

	Now func() time.Time
}

// --- Webhook ---

// Webhook answers 200 with a short status for every business outcome and
// 500 only on infrastructure failure, so the provider retries just those.
func (h Handlers) Webhook(c *gin.Context) {
	log := logger.FromGin(c)
	if h.Ingest == nil {
		c.String(http.StatusInternalServerError, "webhook processing not configured")
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
	if err != nil {
		log.Warn("webhook body read failed", "err", err)
		c.String(http.StatusInternalServerError, "error processing webhook")
		return
	}

	var ev telephony.Event
	if len(body) > maxWebhookBody {
		log.Warn("webhook body exceeds limit", "limit_bytes", maxWebhookBody, "content_length", c.Request.ContentLength)
		ev = telephony.Ignored{Reason: telephony.ReasonMalformed}
	} else {
		ev = telephony.Decode(body)
	}

	kind := telephony.Kind(ev)
	outcome, err := h.Ingest.Handle(c.Request.Context(), ev)
	if err != nil {
		metrics.RecordWebhook(kind, "error")
		log.Error("webhook processing failed", "event_type", ev.EventType(), "err", err)
		c.String(http.StatusInternalServerError, "error processing webhook")
		return
	}

	metrics.RecordWebhook(kind, string(outcome))
	c.String(http.StatusOK, string(outcome))
}

// --- Reports ---

// GlobalReport serves /reports as JSON (default) or HTML with format=html.
func (h Handlers) GlobalReport(c *gin.Context) {
	asHTML := c.Query("format") == "html"
	fail := h.jsonError
	if asHTML {
		fail = h.htmlError
	}

	req, err := h.parseReportRequest(c)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	req.ByNumber = c.Query("groupBy") == "number"

	report, err := h.Reports.Generate(c.Request.Context(), req)
	if err != nil {
		h.reportError(c, err, fail)
		return
	}

	if asHTML {
		c.HTML(http.StatusOK, "report.tmpl", gin.H{
			"Title":  fmt.Sprintf("%s report for %s", periodTitle(report.Period), report.Date),
			"Report": report,
		})
		return
	}
	c.JSON(http.StatusOK, report.Groups)
}

// TenantReport serves /:accountId/reports as HTML for a single period.
func (h Handlers) TenantReport(c *gin.Context) {
	tenant, ok := h.tenant(c)
	if !ok {
		return
	}

	req, err := h.parseReportRequest(c)
	if err != nil {
		h.htmlError(c, http.StatusBadRequest, err.Error())
		return
	}
	req.TenantID = tenant.ID
	req.ByNumber = c.Query("groupBy") == "number"

	report, err := h.Reports.Generate(c.Request.Context(), req)
	if err != nil {
		h.reportError(c, err, h.htmlError)
		return
	}

	c.HTML(http.StatusOK, "report.tmpl", gin.H{
		"Title":    fmt.Sprintf("%s %s report for %s", tenant.Name, report.Period, report.Date),
		"Report":   report,
		"BackLink": dashboardPath(tenant.ID, tokenQuery(c)),
	})
}

// TenantDashboard serves /:accountId/dashboard. date defaults to today in
// the report location.
func (h Handlers) TenantDashboard(c *gin.Context) {
	tenant, ok := h.tenant(c)
	if !ok {
		return
	}

	raw := c.Query("date")
	if raw == "" {
		raw = h.now().In(h.location()).Format("2006-01-02")
	}
	date, err := reporting.ParseDate(raw, h.location())
	if err != nil {
		h.htmlError(c, http.StatusBadRequest, err.Error())
		return
	}

	reports, err := h.Reports.Dashboard(c.Request.Context(), tenant.ID, date)
	if err != nil {
		h.reportError(c, err, h.htmlError)
		return
	}

	c.HTML(http.StatusOK, "dashboard.tmpl", gin.H{
		"Tenant":  tenant,
		"Date":    date.Format("2006-01-02"),
		"Reports": reports,
	})
}

// TenantRedirect sends /:accountId to the tenant dashboard.
func (h Handlers) TenantRedirect(c *gin.Context) {
	tenant, ok := h.tenant(c)
	if !ok {
		return
	}
	target := dashboardPath(tenant.ID, "")
	if q := c.Request.URL.RawQuery; q != "" {
		target += "?" + q
	}
	c.Redirect(http.StatusFound, target)
}

// Index lists tenant dashboards.
func (h Handlers) Index(c *gin.Context) {
	var list []tenants.Tenant
	if h.Tenants != nil {
		list = h.Tenants.All()
	}
	c.HTML(http.StatusOK, "index.tmpl", gin.H{
		"Tenants": list,
		"Query":   tokenQuery(c),
	})
}

// --- Health ---

func (h Handlers) Healthz(c *gin.Context) {
	if h.Health != nil {
		if err := h.Health(c.Request.Context()); err != nil {
			logger.FromGin(c).Warn("health check failed", "err", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	tenantCount := 0
	if h.Tenants != nil {
		tenantCount = h.Tenants.Len()
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "tenants": tenantCount})
}

// --- helpers ---

func (h Handlers) parseReportRequest(c *gin.Context) (reporting.Request, error) {
	period, err := reporting.ParsePeriod(c.Query("period"))
	if err != nil {
		return reporting.Request{}, err
	}
	date, err := reporting.ParseDate(c.Query("date"), h.location())
	if err != nil {
		return reporting.Request{}, err
	}
	return reporting.Request{Period: period, Date: date}, nil
}

func (h Handlers) tenant(c *gin.Context) (tenants.Tenant, bool) {
	id := c.Param("accountId")
	if h.Tenants != nil {
		if t, ok := h.Tenants.ByID(id); ok {
			return t, true
		}
	}
	h.htmlError(c, http.StatusNotFound, "unknown account")
	return tenants.Tenant{}, false
}

func (h Handlers) reportError(c *gin.Context, err error, fail func(*gin.Context, int, string)) {
	switch {
	case errors.Is(err, reporting.ErrInvalidRequest):
		fail(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, reporting.ErrUnknownTenant):
		fail(c, http.StatusNotFound, "unknown account")
	default:
		logger.FromGin(c).Error("report generation failed", "err", err)
		fail(c, http.StatusInternalServerError, "report generation failed")
	}
}

func (h Handlers) jsonError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

func (h Handlers) htmlError(c *gin.Context, status int, msg string) {
	c.HTML(status, "error.tmpl", gin.H{"Status": status, "Message": msg})
	c.Abort()
}

func (h Handlers) location() *time.Location {
	if h.Location == nil {
		return time.UTC
	}
	return h.Location
}

func (h Handlers) now() time.Time {
	if h.Now == nil {
		return time.Now()
	}
	return h.Now()
}

func dashboardPath(tenantID, query string) string {
	return "/" + url.PathEscape(tenantID) + "/dashboard" + query
}

// tokenQuery carries a ?token= credential into generated links.
func tokenQuery(c *gin.Context) string {
	tok := c.Query(auth.TokenQueryParam)
	if tok == "" {
		return ""
	}
	return "?" + url.Values{auth.TokenQueryParam: {tok}}.Encode()
}
