package reporting

import (
	"context"
	"sort"
	"sync"
	"time"

	"openphone-relay/internal/calls"
)

// MemoryRepo is an in-memory CallSource for tests and local development.
// It applies the same bucket rules as the SQL store.
type MemoryRepo struct {
	mu sync.Mutex

	Calls []calls.Call

	// Queries counts QueryByPeriod invocations.
	Queries int
}

func NewMemoryRepo(rows ...calls.Call) *MemoryRepo {
	return &MemoryRepo{Calls: rows}
}

func (r *MemoryRepo) QueryByPeriod(ctx context.Context, date time.Time, g calls.Granularity) ([]calls.Call, error) {
	start, end, err := calls.Bucket(date, g)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Queries++

	out := make([]calls.Call, 0)
	for _, c := range r.Calls {
		if c.CallTime.Before(start) || !c.CallTime.Before(end) {
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CallTime.Before(out[j].CallTime) })
	return out, nil
}
