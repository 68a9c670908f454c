package ingest

import (
	"context"
	"fmt"
	"math"
	"time"

	"openphone-relay/internal/calls"
	"openphone-relay/internal/telephony"
	"openphone-relay/internal/tenants"
	"openphone-relay/pkg/logger"
)

// Outcome is the short status returned to the webhook sender.
type Outcome string

const (
	OutcomeIgnored         Outcome = "ignored"
	OutcomeUnrouted        Outcome = "unrouted"
	OutcomeContactNotFound Outcome = "contact not found"
	OutcomeCallRecorded    Outcome = "call recorded"
	OutcomeNoteCreated     Outcome = "note created"
	OutcomeDuplicate       Outcome = "duplicate delivery"
)

// CRM is the subset of the CRM client the webhook path needs.
type CRM interface {
	FindContactByPhone(ctx context.Context, credential, phone string) (string, bool, error)
	CreateNote(ctx context.Context, credential, contactID, body string) error
}

// CallWriter is the write side of the call store.
type CallWriter interface {
	UpsertCallStart(ctx context.Context, c calls.Call) (bool, error)
	ApplyRecording(ctx context.Context, callID string, durationSeconds int, recordingURL string) (bool, error)
}

// Deduper suppresses repeated deliveries of the same recording event.
type Deduper interface {
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

type Service struct {
	dir   *tenants.Directory
	crm   CRM
	store CallWriter
	dedup Deduper

	Now func() time.Time
}

// NewService wires the ingest path. dedup may be nil.
func NewService(dir *tenants.Directory, crm CRM, store CallWriter, dedup Deduper) *Service {
	if dir == nil {
		dir = tenants.New(nil)
	}
	return &Service{dir: dir, crm: crm, store: store, dedup: dedup, Now: time.Now}
}

// Handle runs one webhook event to completion. A non-nil error means an
// infrastructure failure; every business-level miss is an Outcome.
func (s *Service) Handle(ctx context.Context, ev telephony.Event) (Outcome, error) {
	log := logger.From(ctx)

	var call telephony.CallInfo
	switch e := ev.(type) {
	case telephony.Ignored:
		log.Info("webhook ignored", "event_type", e.Type, "reason", e.Reason)
		return OutcomeIgnored, nil
	case telephony.CallProgress:
		call = e.Call
	case telephony.RecordingReady:
		call = e.Call
	default:
		return "", fmt.Errorf("ingest: unhandled event kind %T", ev)
	}

	route, ok := s.dir.Route(call.From, call.To)
	if !ok {
		log.Warn("webhook unrouted", "call_id", call.ID, "from", call.From, "to", call.To)
		return OutcomeUnrouted, nil
	}
	log = log.With("call_id", call.ID, "tenant_id", route.Tenant.ID)
	ctx = logger.With(ctx, log)

	if route.Counterparty == "" {
		log.Info("counterparty number missing")
		return OutcomeContactNotFound, nil
	}

	contactID, found, err := s.crm.FindContactByPhone(ctx, route.Tenant.Credential, route.Counterparty)
	if err != nil {
		return "", fmt.Errorf("ingest: contact lookup: %w", err)
	}
	if !found {
		log.Info("crm contact not found", "phone", route.Counterparty)
		return OutcomeContactNotFound, nil
	}

	switch e := ev.(type) {
	case telephony.CallProgress:
		return s.handleProgress(ctx, route, contactID, e)
	case telephony.RecordingReady:
		return s.handleRecording(ctx, route, contactID, e)
	default:
		return "", fmt.Errorf("ingest: unhandled event kind %T", ev)
	}
}

func (s *Service) handleProgress(ctx context.Context, route tenants.Route, contactID string, e telephony.CallProgress) (Outcome, error) {
	callTime := e.Call.CreatedAt
	if callTime.IsZero() {
		callTime = s.Now()
	}
	inserted, err := s.store.UpsertCallStart(ctx, calls.Call{
		CallID:            e.Call.ID,
		TenantID:          route.Tenant.ID,
		ContactID:         contactID,
		Credential:        route.Tenant.Credential,
		OriginatingNumber: route.OwnNumber,
		CallTime:          callTime,
		WasAnswered:       e.Call.Answered,
	})
	if err != nil {
		return "", fmt.Errorf("ingest: record call: %w", err)
	}
	logger.From(ctx).Info("call recorded", "contact_id", contactID, "inserted", inserted, "answered", e.Call.Answered)
	return OutcomeCallRecorded, nil
}

func (s *Service) handleRecording(ctx context.Context, route tenants.Route, contactID string, e telephony.RecordingReady) (out Outcome, err error) {
	log := logger.From(ctx)

	if s.dedup != nil {
		key := RecordingKey(e.Call.ID)
		claimed, cerr := s.dedup.Claim(ctx, key)
		if cerr != nil {
			// dedup is best effort; the note may be written twice
			log.Warn("recording dedup unavailable", "err", cerr)
		} else if !claimed {
			log.Info("duplicate recording delivery")
			return OutcomeDuplicate, nil
		} else {
			defer func() {
				if err == nil {
					return
				}
				if rerr := s.dedup.Release(context.WithoutCancel(ctx), key); rerr != nil {
					log.Warn("recording dedup release failed", "err", rerr)
				}
			}()
		}
	}

	duration := wholeSeconds(e.DurationSeconds)
	if err := s.crm.CreateNote(ctx, route.Tenant.Credential, contactID, NoteText(duration, e.RecordingURL)); err != nil {
		return "", fmt.Errorf("ingest: create note: %w", err)
	}

	updated, err := s.store.ApplyRecording(ctx, e.Call.ID, duration, e.RecordingURL)
	if err != nil {
		return "", fmt.Errorf("ingest: apply recording: %w", err)
	}
	if !updated {
		log.Warn("recording for unknown call; store unchanged", "contact_id", contactID)
	}
	log.Info("recording note created", "contact_id", contactID, "duration", duration)
	return OutcomeNoteCreated, nil
}

// wholeSeconds rounds a provider duration and clamps it to [0, MaxInt32].
func wholeSeconds(d float64) int {
	switch {
	case math.IsNaN(d) || d <= 0:
		return 0
	case d >= math.MaxInt32:
		return math.MaxInt32
	}
	return int(math.Round(d))
}

// NoteText is the body of the CRM note written for a finished recording.
func NoteText(durationSeconds int, recordingURL string) string {
	if recordingURL == "" {
		recordingURL = "N/A"
	}
	return fmt.Sprintf("OpenPhone call completed.\n\nDuration: %d seconds.\nRecording: %s", durationSeconds, recordingURL)
}
