package models

import (
	"encoding/json"
	"time"
)

// Kind discriminates pending operations. New kinds need no schema change.
type Kind string

const (
	KindBooking  Kind = "booking"
	KindFeedback Kind = "feedback"
)

// PendingOperation is a mutation created offline and kept until delivered.
type PendingOperation struct {
	ID             string          `json:"id"`
	SchemaVersion  int             `json:"schema_version"`
	Kind           Kind            `json:"kind"`
	Payload        json.RawMessage `json:"payload"`
	Status         string          `json:"status"`
	CreatedOffline bool            `json:"created_offline"`
	CreatedAt      time.Time       `json:"created_at"`
}

// DecodePayload unmarshals the stored payload into out.
func (o *PendingOperation) DecodePayload(out any) error {
	return json.Unmarshal(o.Payload, out)
}

// SyncReport summarizes one drain cycle.
type SyncReport struct {
	Attempted  int       `json:"attempted"`
	Succeeded  []string  `json:"succeeded"`
	Failed     []string  `json:"failed"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Empty reports whether nothing was attempted.
func (r SyncReport) Empty() bool {
	return r.Attempted == 0
}
