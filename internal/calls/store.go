package calls

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"openphone-relay/pkg/utils"
)

var ErrMissingCallID = errors.New("calls: call id is required")

// Store persists call rows in a single table keyed by call id.
// Queries are written with '?' placeholders and rebound for Postgres.
type Store struct {
	db     *sql.DB
	driver string
}

func NewStore(db *sql.DB, driver string) *Store {
	return &Store{db: db, driver: driver}
}

func (s *Store) Driver() string { return s.driver }

// UpsertCallStart inserts the row for c.CallID. A row that already exists is
// left untouched and inserted is false.
func (s *Store) UpsertCallStart(ctx context.Context, c Call) (bool, error) {
	if strings.TrimSpace(c.CallID) == "" {
		return false, ErrMissingCallID
	}
	const q = `
INSERT INTO calls (
  call_id, tenant_id, contact_id, credential, originating_number, call_time, duration, was_answered, recording_url
) VALUES (
  ?,?,?,?,?,?,?,?,?
)
ON CONFLICT (call_id) DO NOTHING
`
	res, err := s.db.ExecContext(ctx, s.rebind(q),
		c.CallID,
		nullString(c.TenantID),
		c.ContactID,
		c.Credential,
		nullString(c.OriginatingNumber),
		c.CallTime.UTC(),
		c.DurationSeconds,
		c.WasAnswered,
		nullString(c.RecordingURL),
	)
	if err != nil {
		return false, fmt.Errorf("upsert call %s: %w", c.CallID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("upsert call %s: %w", c.CallID, err)
	}
	return n == 1, nil
}

// ApplyRecording sets duration and recording url on an existing row and marks
// it answered. No row is created when callID is unknown; updated is false.
func (s *Store) ApplyRecording(ctx context.Context, callID string, durationSeconds int, recordingURL string) (bool, error) {
	if strings.TrimSpace(callID) == "" {
		return false, ErrMissingCallID
	}
	const q = `
UPDATE calls
SET duration = ?, recording_url = ?, was_answered = ?
WHERE call_id = ?
`
	res, err := s.db.ExecContext(ctx, s.rebind(q), durationSeconds, nullString(recordingURL), true, callID)
	if err != nil {
		return false, fmt.Errorf("apply recording %s: %w", callID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("apply recording %s: %w", callID, err)
	}
	return n > 0, nil
}

// QueryByPeriod returns rows whose call_time falls in the bucket containing
// date, oldest first.
func (s *Store) QueryByPeriod(ctx context.Context, date time.Time, g Granularity) ([]Call, error) {
	start, end, err := Bucket(date, g)
	if err != nil {
		return nil, err
	}
	const q = `
SELECT call_id, tenant_id, contact_id, credential, originating_number, call_time, duration, was_answered, recording_url
FROM calls
WHERE call_time >= ? AND call_time < ?
ORDER BY call_time ASC, call_id ASC
`
	rows, err := s.db.QueryContext(ctx, s.rebind(q), start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("query calls: %w", err)
	}
	defer rows.Close()

	out := make([]Call, 0)
	for rows.Next() {
		var c Call
		var tenantID, origNumber, recURL sql.NullString
		if err := rows.Scan(
			&c.CallID,
			&tenantID,
			&c.ContactID,
			&c.Credential,
			&origNumber,
			&c.CallTime,
			&c.DurationSeconds,
			&c.WasAnswered,
			&recURL,
		); err != nil {
			return nil, fmt.Errorf("scan call: %w", err)
		}
		c.TenantID = tenantID.String
		c.OriginatingNumber = origNumber.String
		c.RecordingURL = recURL.String
		c.CallTime = c.CallTime.In(date.Location())
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query calls: %w", err)
	}
	return out, nil
}

// Ping is used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return utils.HealthCheck(ctx, s.db, 2*time.Second)
}

func (s *Store) rebind(q string) string {
	return rebind(s.driver, q)
}

// rebind rewrites '?' placeholders as $1..$N for Postgres.
func rebind(driver, q string) string {
	if driver != utils.DriverPostgres {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
