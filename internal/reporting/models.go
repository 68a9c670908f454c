package reporting

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"openphone-relay/internal/calls"
)

// Period is the report window name used on the HTTP surface.
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

// DashboardPeriods is the block order on a tenant dashboard.
var DashboardPeriods = []Period{PeriodDaily, PeriodWeekly, PeriodMonthly}

const dateLayout = "2006-01-02"

func ParsePeriod(s string) (Period, error) {
	switch p := Period(strings.ToLower(strings.TrimSpace(s))); p {
	case PeriodDaily, PeriodWeekly, PeriodMonthly:
		return p, nil
	case "":
		return "", fmt.Errorf("%w: period is required", ErrInvalidRequest)
	default:
		return "", fmt.Errorf("%w: unknown period %q", ErrInvalidRequest, s)
	}
}

func (p Period) Granularity() calls.Granularity {
	switch p {
	case PeriodDaily:
		return calls.GranularityDay
	case PeriodWeekly:
		return calls.GranularityWeek
	case PeriodMonthly:
		return calls.GranularityMonth
	default:
		return calls.Granularity(p)
	}
}

// ParseDate reads YYYY-MM-DD as a calendar day in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: date is required", ErrInvalidRequest)
	}
	if loc == nil {
		loc = time.UTC
	}
	d, err := time.ParseInLocation(dateLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalidRequest)
	}
	return d, nil
}

// Request asks for one period report. TenantID empty means all tenants.
type Request struct {
	Period   Period
	Date     time.Time
	TenantID string

	// ByNumber adds a per originating number breakdown to each group.
	ByNumber bool
}

// Stats is one group of a report.
type Stats struct {
	TotalCalls        int `json:"totalCalls"`
	AnsweredCalls     int `json:"answeredCalls"`
	ScheduledMeetings int `json:"scheduledMeetings"`

	Numbers map[string]*Stats `json:"numbers,omitempty"`
}

func (s *Stats) number(n string) *Stats {
	if s.Numbers == nil {
		s.Numbers = map[string]*Stats{}
	}
	st, ok := s.Numbers[n]
	if !ok {
		st = &Stats{}
		s.Numbers[n] = st
	}
	return st
}

// SortedNumbers lists the breakdown keys in order.
func (s *Stats) SortedNumbers() []string {
	out := make([]string, 0, len(s.Numbers))
	for n := range s.Numbers {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Report is the aggregate for one bucket. Groups is keyed by tenant name.
type Report struct {
	Period Period    `json:"period"`
	Date   string    `json:"date"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`

	Groups map[string]*Stats `json:"groups"`
}

// GroupNames lists group keys in order.
func (r Report) GroupNames() []string {
	out := make([]string, 0, len(r.Groups))
	for n := range r.Groups {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
