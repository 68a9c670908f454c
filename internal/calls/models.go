package calls

import "time"

// Call is one persisted row per OpenPhone call id.
//
// Rows are created by the first lifecycle event for a call id and only ever
// updated afterwards (duration, recording, answered flag). They are never
// deleted by this service.
type Call struct {
	CallID string `json:"call_id" db:"call_id"`

	// TenantID is the report join key. Credential is kept as the audit field
	// and as the fallback join for rows written before tenant_id existed.
	TenantID   string `json:"tenant_id,omitempty" db:"tenant_id"`
	Credential string `json:"-" db:"credential"`

	ContactID         string `json:"contact_id" db:"contact_id"`
	OriginatingNumber string `json:"originating_number" db:"originating_number"`

	CallTime time.Time `json:"call_time" db:"call_time"`

	// DurationSeconds stays 0 until a recording event supplies it.
	DurationSeconds int  `json:"duration" db:"duration"`
	WasAnswered     bool `json:"was_answered" db:"was_answered"`

	// RecordingURL is empty (NULL in storage) until a recording is available.
	RecordingURL string `json:"recording_url,omitempty" db:"recording_url"`
}
