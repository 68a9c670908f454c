package reporting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"openphone-relay/internal/calls"
	"openphone-relay/internal/metrics"
	"openphone-relay/internal/tenants"
	"openphone-relay/pkg/logger"
)

var (
	ErrInvalidRequest = errors.New("reporting: invalid request")
	ErrUnknownTenant  = errors.New("reporting: unknown tenant")
)

const (
	DefaultConcurrency      = 4
	DefaultMeetingTagPrefix = "meeting-scheduled-"

	unknownNumber = "unknown"
)

// CallSource reads stored calls for one bucket, oldest first.
type CallSource interface {
	QueryByPeriod(ctx context.Context, date time.Time, g calls.Granularity) ([]calls.Call, error)
}

// TagChecker answers whether a CRM contact carries a tag.
type TagChecker interface {
	ContactHasTag(ctx context.Context, credential, contactID, tag string) (bool, error)
}

type Options struct {
	// Concurrency bounds in-flight tag checks per report.
	Concurrency      int
	MeetingTagPrefix string
}

type Service struct {
	source CallSource
	tags   TagChecker
	dir    *tenants.Directory

	concurrency int
	tagPrefix   string
}

func NewService(source CallSource, tags TagChecker, dir *tenants.Directory, opts Options) *Service {
	if dir == nil {
		dir = tenants.New(nil)
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.MeetingTagPrefix == "" {
		opts.MeetingTagPrefix = DefaultMeetingTagPrefix
	}
	return &Service{
		source:      source,
		tags:        tags,
		dir:         dir,
		concurrency: opts.Concurrency,
		tagPrefix:   opts.MeetingTagPrefix,
	}
}

// Generate builds one period report with its own tag memo.
func (s *Service) Generate(ctx context.Context, req Request) (Report, error) {
	return s.generate(ctx, req, NewTagMemo())
}

// Dashboard builds the daily, weekly and monthly reports for one tenant.
// The three reports share a tag memo, so a contact is checked once per tag.
func (s *Service) Dashboard(ctx context.Context, tenantID string, date time.Time) ([]Report, error) {
	memo := NewTagMemo()
	out := make([]Report, 0, len(DashboardPeriods))
	for _, p := range DashboardPeriods {
		r, err := s.generate(ctx, Request{Period: p, Date: date, TenantID: tenantID}, memo)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

type contactKey struct {
	tenantID  string
	contactID string
}

type representative struct {
	tenant tenants.Tenant
	call   calls.Call
}

func (s *Service) generate(ctx context.Context, req Request, memo *TagMemo) (Report, error) {
	started := time.Now()

	period, err := ParsePeriod(string(req.Period))
	if err != nil {
		return Report{}, err
	}
	req.Period = period
	if req.Date.IsZero() {
		return Report{}, fmt.Errorf("%w: date is required", ErrInvalidRequest)
	}
	if s.source == nil || s.tags == nil {
		return Report{}, errors.New("reporting: service not configured")
	}

	var scope tenants.Tenant
	if req.TenantID != "" {
		t, ok := s.dir.ByID(req.TenantID)
		if !ok {
			return Report{}, fmt.Errorf("%w: %s", ErrUnknownTenant, req.TenantID)
		}
		scope = t
	}

	g := req.Period.Granularity()
	start, end, err := calls.Bucket(req.Date, g)
	if err != nil {
		return Report{}, err
	}
	rows, err := s.source.QueryByPeriod(ctx, req.Date, g)
	if err != nil {
		return Report{}, fmt.Errorf("reporting: query calls: %w", err)
	}

	report := Report{
		Period: req.Period,
		Date:   req.Date.Format(dateLayout),
		Start:  start,
		End:    end,
		Groups: map[string]*Stats{},
	}
	group := func(name string) *Stats {
		st, ok := report.Groups[name]
		if !ok {
			st = &Stats{}
			report.Groups[name] = st
		}
		return st
	}
	if scope.ID != "" {
		group(scope.Name)
	}

	reps := map[contactKey]representative{}
	order := make([]contactKey, 0)
	dropped := 0

	for _, row := range rows {
		t, ok := s.resolveTenant(row)
		if !ok {
			dropped++
			continue
		}
		if scope.ID != "" && t.ID != scope.ID {
			continue
		}

		st := group(t.Name)
		st.TotalCalls++
		if row.WasAnswered {
			st.AnsweredCalls++
		}
		if req.ByNumber {
			n := st.number(numberKey(row))
			n.TotalCalls++
			if row.WasAnswered {
				n.AnsweredCalls++
			}
		}

		if row.ContactID == "" {
			continue
		}
		k := contactKey{tenantID: t.ID, contactID: row.ContactID}
		prev, seen := reps[k]
		if !seen {
			order = append(order, k)
		}
		if !seen || row.CallTime.Before(prev.call.CallTime) {
			reps[k] = representative{tenant: t, call: row}
		}
	}

	log := logger.From(ctx)
	if dropped > 0 {
		log.Debug("report rows without a configured tenant dropped", "count", dropped, "period", req.Period)
	}

	checks := make([]tagKey, len(order))
	for i, k := range order {
		rep := reps[k]
		checks[i] = tagKey{
			credential: rep.tenant.Credential,
			contactID:  k.contactID,
			tag:        s.tagPrefix + rep.call.CallTime.In(req.Date.Location()).Format(dateLayout),
		}
	}
	tagged, err := s.checkTags(ctx, checks, memo)
	if err != nil {
		return Report{}, err
	}

	// one increment per distinct contact
	for i, k := range order {
		if !tagged[i] {
			continue
		}
		rep := reps[k]
		st := group(rep.tenant.Name)
		st.ScheduledMeetings++
		if req.ByNumber {
			st.number(numberKey(rep.call)).ScheduledMeetings++
		}
	}

	metrics.ObserveReport(string(req.Period), time.Since(started))
	log.Debug("report generated",
		"period", req.Period,
		"date", report.Date,
		"tenant_id", req.TenantID,
		"rows", len(rows),
		"contacts", len(order),
	)
	return report, nil
}

// checkTags resolves every check, fanning out to the CRM for those not yet
// in memo. Results are index-aligned with checks.
func (s *Service) checkTags(ctx context.Context, checks []tagKey, memo *TagMemo) ([]bool, error) {
	out := make([]bool, len(checks))

	pending := map[tagKey][]int{}
	keys := make([]tagKey, 0)
	for i, k := range checks {
		if v, ok := memo.get(k); ok {
			out[i] = v
			continue
		}
		if _, ok := pending[k]; !ok {
			keys = append(keys, k)
		}
		pending[k] = append(pending[k], i)
	}
	if len(keys) == 0 {
		return out, nil
	}

	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(s.concurrency)
	for _, k := range keys {
		idx := pending[k]
		eg.Go(func() error {
			ok, err := s.tags.ContactHasTag(egctx, k.credential, k.contactID, k.tag)
			if err != nil {
				return fmt.Errorf("reporting: tag check for contact %s: %w", k.contactID, err)
			}
			memo.put(k, ok)
			for _, i := range idx {
				out[i] = ok
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	metrics.AddTagChecks(len(keys))
	return out, nil
}

// resolveTenant joins a row to a configured tenant by stored tenant id, then
// by stored credential for rows written before tenant ids were recorded.
func (s *Service) resolveTenant(row calls.Call) (tenants.Tenant, bool) {
	if row.TenantID != "" {
		if t, ok := s.dir.ByID(row.TenantID); ok {
			return t, true
		}
	}
	if row.Credential == "" {
		return tenants.Tenant{}, false
	}
	return s.dir.ByCredential(row.Credential)
}

func numberKey(c calls.Call) string {
	if c.OriginatingNumber == "" {
		return unknownNumber
	}
	return c.OriginatingNumber
}
