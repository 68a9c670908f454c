package ingest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openphone-relay/internal/calls"
	"openphone-relay/internal/telephony"
	"openphone-relay/internal/tenants"
)

type fakeCRM struct {
	mu       sync.Mutex
	contacts map[string]string // phone -> contact id
	lookups  int
	notes    []string
	lookErr  error
	noteErr  error
}

func (f *fakeCRM) FindContactByPhone(_ context.Context, _ string, phone string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if f.lookErr != nil {
		return "", false, f.lookErr
	}
	id, ok := f.contacts[phone]
	return id, ok, nil
}

func (f *fakeCRM) CreateNote(_ context.Context, _ string, _ string, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.noteErr != nil {
		return f.noteErr
	}
	f.notes = append(f.notes, body)
	return nil
}

func (f *fakeCRM) requests() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lookups + len(f.notes)
}

type fakeStore struct {
	mu      sync.Mutex
	rows    map[string]calls.Call
	writes  int
	failErr error
}

func newFakeStore() *fakeStore { return &fakeStore{rows: map[string]calls.Call{}} }

func (f *fakeStore) UpsertCallStart(_ context.Context, c calls.Call) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	if f.failErr != nil {
		return false, f.failErr
	}
	if _, ok := f.rows[c.CallID]; ok {
		return false, nil
	}
	f.rows[c.CallID] = c
	return true, nil
}

func (f *fakeStore) ApplyRecording(_ context.Context, callID string, d int, url string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	if f.failErr != nil {
		return false, f.failErr
	}
	c, ok := f.rows[callID]
	if !ok {
		return false, nil
	}
	c.DurationSeconds, c.RecordingURL, c.WasAnswered = d, url, true
	f.rows[callID] = c
	return true, nil
}

const (
	acmeNumber  = "+15551230000"
	contactNum  = "+15559876543"
	strangerNum = "+15550000000"
)

func testDirectory() *tenants.Directory {
	return tenants.New([]tenants.Tenant{
		{ID: "acme", Name: "Acme", OpenPhoneNumber: acmeNumber, Credential: "acme-key"},
		{ID: "globex", Name: "Globex", OpenPhoneNumber: "+15554440000", Credential: "globex-key"},
	})
}

func newTestService(crm *fakeCRM, store *fakeStore, dedup Deduper) *Service {
	s := NewService(testDirectory(), crm, store, dedup)
	s.Now = func() time.Time { return time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC) }
	return s
}

func progress(id, from, to string) telephony.CallProgress {
	return telephony.CallProgress{
		Type: telephony.EventCallCompleted,
		Call: telephony.CallInfo{ID: id, From: from, To: to, CreatedAt: time.Date(2024, 3, 5, 14, 0, 0, 0, time.UTC), Answered: true},
	}
}

func recording(id, from, to string, dur float64, url string) telephony.RecordingReady {
	return telephony.RecordingReady{
		Type:            telephony.EventCallRecordingCompleted,
		Call:            telephony.CallInfo{ID: id, From: from, To: to},
		DurationSeconds: dur,
		RecordingURL:    url,
	}
}

func TestHandle_MalformedIsIgnoredWithoutSideEffects(t *testing.T) {
	crm := &fakeCRM{contacts: map[string]string{contactNum: "ct1"}}
	store := newFakeStore()
	s := newTestService(crm, store, nil)

	for _, body := range []string{`{}`, `{"type":"call.completed","data":{"object":{"from":"+15551230000"}}}`, `nope`} {
		out, err := s.Handle(context.Background(), telephony.Decode([]byte(body)))
		require.NoError(t, err)
		assert.Equal(t, OutcomeIgnored, out)
	}
	assert.Zero(t, crm.requests())
	assert.Zero(t, store.writes)
}

func TestHandle_OtherEventTypeIgnored(t *testing.T) {
	crm := &fakeCRM{}
	store := newFakeStore()
	s := newTestService(crm, store, nil)

	out, err := s.Handle(context.Background(), telephony.Ignored{Type: "message.received", Reason: telephony.ReasonUnsupported})
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, out)
	assert.Zero(t, crm.requests())
}

func TestHandle_Unrouted(t *testing.T) {
	crm := &fakeCRM{contacts: map[string]string{contactNum: "ct1"}}
	store := newFakeStore()
	s := newTestService(crm, store, nil)

	out, err := s.Handle(context.Background(), progress("c1", strangerNum, contactNum))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnrouted, out)
	assert.Zero(t, crm.requests())
	assert.Zero(t, store.writes)
}

func TestHandle_RoutesFromEitherEndpoint(t *testing.T) {
	crm := &fakeCRM{contacts: map[string]string{contactNum: "ct1"}}
	store := newFakeStore()
	s := newTestService(crm, store, nil)
	ctx := context.Background()

	out, err := s.Handle(ctx, progress("out", acmeNumber, "+1 (555) 987-6543"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCallRecorded, out)

	out, err = s.Handle(ctx, progress("in", contactNum, "1-555-123-0000"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCallRecorded, out)

	for _, id := range []string{"out", "in"} {
		row := store.rows[id]
		assert.Equal(t, "acme", row.TenantID, id)
		assert.Equal(t, "acme-key", row.Credential, id)
		assert.Equal(t, acmeNumber, row.OriginatingNumber, id)
		assert.Equal(t, "ct1", row.ContactID, id)
	}
}

func TestHandle_ContactNotFound(t *testing.T) {
	crm := &fakeCRM{contacts: map[string]string{}}
	store := newFakeStore()
	s := newTestService(crm, store, nil)

	out, err := s.Handle(context.Background(), recording("c1", acmeNumber, contactNum, 10, "u"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeContactNotFound, out)
	assert.Empty(t, crm.notes)
	assert.Zero(t, store.writes)
}

func TestHandle_LookupFailureIsError(t *testing.T) {
	crm := &fakeCRM{lookErr: errors.New("connection reset")}
	store := newFakeStore()
	s := newTestService(crm, store, nil)

	_, err := s.Handle(context.Background(), progress("c1", acmeNumber, contactNum))
	require.Error(t, err)
	assert.Zero(t, store.writes)
}

func TestHandle_DuplicateProgressKeepsOneRow(t *testing.T) {
	crm := &fakeCRM{contacts: map[string]string{contactNum: "ct1"}}
	store := newFakeStore()
	s := newTestService(crm, store, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		out, err := s.Handle(ctx, progress("c1", acmeNumber, contactNum))
		require.NoError(t, err)
		assert.Equal(t, OutcomeCallRecorded, out)
	}
	assert.Len(t, store.rows, 1)
}

func TestHandle_ProgressWithoutTimestampUsesNow(t *testing.T) {
	crm := &fakeCRM{contacts: map[string]string{contactNum: "ct1"}}
	store := newFakeStore()
	s := newTestService(crm, store, nil)

	ev := progress("c1", acmeNumber, contactNum)
	ev.Call.CreatedAt = time.Time{}
	_, err := s.Handle(context.Background(), ev)
	require.NoError(t, err)
	assert.True(t, store.rows["c1"].CallTime.Equal(s.Now()))
}

func TestHandle_RecordingUpdatesExistingRow(t *testing.T) {
	crm := &fakeCRM{contacts: map[string]string{contactNum: "ct1"}}
	store := newFakeStore()
	s := newTestService(crm, store, nil)
	ctx := context.Background()

	_, err := s.Handle(ctx, progress("c1", acmeNumber, contactNum))
	require.NoError(t, err)

	out, err := s.Handle(ctx, recording("c1", contactNum, acmeNumber, 61.6, "https://rec/c1.mp3"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoteCreated, out)

	require.Len(t, crm.notes, 1)
	assert.Equal(t, "OpenPhone call completed.\n\nDuration: 62 seconds.\nRecording: https://rec/c1.mp3", crm.notes[0])

	row := store.rows["c1"]
	assert.Equal(t, 62, row.DurationSeconds)
	assert.Equal(t, "https://rec/c1.mp3", row.RecordingURL)
	assert.True(t, row.WasAnswered)
}

func TestHandle_RecordingDurationIsClamped(t *testing.T) {
	cases := []struct {
		in   float64
		want int
	}{
		{-12.4, 0},
		{1e300, math.MaxInt32},
		{math.Inf(1), math.MaxInt32},
		{math.NaN(), 0},
		{0.4, 0},
		{2.5, 3},
	}
	for _, tc := range cases {
		crm := &fakeCRM{contacts: map[string]string{contactNum: "ct1"}}
		store := newFakeStore()
		s := newTestService(crm, store, nil)
		ctx := context.Background()

		_, err := s.Handle(ctx, progress("c1", acmeNumber, contactNum))
		require.NoError(t, err)
		_, err = s.Handle(ctx, recording("c1", contactNum, acmeNumber, tc.in, ""))
		require.NoError(t, err)

		assert.Equal(t, tc.want, store.rows["c1"].DurationSeconds, "duration %v", tc.in)
		require.Len(t, crm.notes, 1)
		assert.Contains(t, crm.notes[0], fmt.Sprintf("Duration: %d seconds.", tc.want))
	}
}

func TestHandle_RecordingWithoutPriorRowOnlyWritesNote(t *testing.T) {
	crm := &fakeCRM{contacts: map[string]string{contactNum: "ct1"}}
	store := newFakeStore()
	s := newTestService(crm, store, nil)

	out, err := s.Handle(context.Background(), recording("orphan", acmeNumber, contactNum, 0, ""))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoteCreated, out)
	require.Len(t, crm.notes, 1)
	assert.Contains(t, crm.notes[0], "Recording: N/A")
	assert.Empty(t, store.rows)
}

func TestHandle_NoteFailureSkipsStoreUpdate(t *testing.T) {
	crm := &fakeCRM{contacts: map[string]string{contactNum: "ct1"}, noteErr: errors.New("status 500")}
	store := newFakeStore()
	store.rows["c1"] = calls.Call{CallID: "c1"}
	s := newTestService(crm, store, nil)

	_, err := s.Handle(context.Background(), recording("c1", acmeNumber, contactNum, 30, "u"))
	require.Error(t, err)
	assert.Zero(t, store.writes)
	assert.Empty(t, store.rows["c1"].RecordingURL)
}

func TestHandle_RecordingDeduplicatedWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	crm := &fakeCRM{contacts: map[string]string{contactNum: "ct1"}}
	store := newFakeStore()
	s := newTestService(crm, store, NewRedisDeduper(rdb, time.Hour))
	ctx := context.Background()

	out, err := s.Handle(ctx, recording("c1", acmeNumber, contactNum, 5, "u"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoteCreated, out)

	out, err = s.Handle(ctx, recording("c1", acmeNumber, contactNum, 5, "u"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, out)
	assert.Len(t, crm.notes, 1)
}

func TestHandle_FailedRecordingReleasesDedupClaim(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	crm := &fakeCRM{contacts: map[string]string{contactNum: "ct1"}, noteErr: errors.New("boom")}
	s := newTestService(crm, newFakeStore(), NewRedisDeduper(rdb, time.Hour))
	ctx := context.Background()

	_, err := s.Handle(ctx, recording("c1", acmeNumber, contactNum, 5, "u"))
	require.Error(t, err)
	assert.False(t, mr.Exists(RecordingKey("c1")))

	crm.noteErr = nil
	out, err := s.Handle(ctx, recording("c1", acmeNumber, contactNum, 5, "u"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoteCreated, out)
}

func TestHandle_DedupOutageFallsThrough(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	crm := &fakeCRM{contacts: map[string]string{contactNum: "ct1"}}
	s := newTestService(crm, newFakeStore(), NewRedisDeduper(rdb, time.Hour))

	out, err := s.Handle(context.Background(), recording("c1", acmeNumber, contactNum, 5, "u"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoteCreated, out)
}

func TestNoteText(t *testing.T) {
	assert.Equal(t, "OpenPhone call completed.\n\nDuration: 0 seconds.\nRecording: N/A", NoteText(0, ""))
}
