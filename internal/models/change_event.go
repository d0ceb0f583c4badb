package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrUnknownChangeKind is returned when a change kind cannot be parsed.
	ErrUnknownChangeKind = errors.New("unknown change kind")
	// ErrEmptyBatch is returned when a decoded batch carries no events.
	ErrEmptyBatch = errors.New("change batch has no events")
)

// ChangeKind is the type of mutation applied to a document.
type ChangeKind int

const (
	ChangeUnknown ChangeKind = iota
	ChangeAdded
	ChangeModified
	ChangeRemoved
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeAdded:
		return "added"
	case ChangeModified:
		return "modified"
	case ChangeRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// ParseChangeKind accepts the kind names used by the change feeds.
func ParseChangeKind(raw string) (ChangeKind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "added", "create", "insert":
		return ChangeAdded, nil
	case "modified", "update":
		return ChangeModified, nil
	case "removed", "delete":
		return ChangeRemoved, nil
	default:
		return ChangeUnknown, fmt.Errorf("%w: %q", ErrUnknownChangeKind, raw)
	}
}

func (k ChangeKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON decodes unrecognised kinds as ChangeUnknown so a single odd
// event does not fail the batch it arrived in.
func (k *ChangeKind) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseChangeKind(raw)
	if err != nil {
		parsed = ChangeUnknown
	}
	*k = parsed
	return nil
}

// ChangeEvent describes one document mutation. Previous is nil when the
// feed could not supply the prior state.
type ChangeEvent struct {
	Kind       ChangeKind  `json:"kind"`
	DocumentID string      `json:"document_id"`
	Previous   *UserRecord `json:"previous,omitempty"`
	Current    *UserRecord `json:"current,omitempty"`
	ObservedAt time.Time   `json:"observed_at"`
}

// ChangeBatch is a group of mutations delivered together by a subscription.
type ChangeBatch struct {
	Source     string        `json:"source,omitempty"`
	Events     []ChangeEvent `json:"events"`
	ReceivedAt time.Time     `json:"-"`
	// Dropped counts events DecodeChangeBatch discarded for lacking a
	// document id.
	Dropped int `json:"-"`
}

// DecodeChangeBatch parses the JSON batch format published on the queue based
// change feeds. Events without a document id are dropped and counted in
// Dropped; the batch fails only when it cannot be parsed or no event is left.
func DecodeChangeBatch(data []byte) (ChangeBatch, error) {
	var batch ChangeBatch
	if err := json.Unmarshal(data, &batch); err != nil {
		return ChangeBatch{}, fmt.Errorf("decode change batch: %w", err)
	}

	events := batch.Events[:0]
	for _, ev := range batch.Events {
		if ev.DocumentID == "" && ev.Current != nil {
			ev.DocumentID = ev.Current.ID
		}
		if ev.DocumentID == "" {
			batch.Dropped++
			continue
		}
		if ev.Current != nil && ev.Current.ID == "" {
			ev.Current.ID = ev.DocumentID
		}
		if ev.Previous != nil && ev.Previous.ID == "" {
			ev.Previous.ID = ev.DocumentID
		}
		events = append(events, ev)
	}
	if len(events) == 0 {
		return ChangeBatch{}, ErrEmptyBatch
	}
	batch.Events = events
	batch.ReceivedAt = time.Now()
	return batch, nil
}

// FollowerDelta is the set of follower IDs newly added to a user record.
type FollowerDelta struct {
	UserID           string
	AddedFollowerIDs []string
}

// Empty reports whether the delta carries no additions.
func (d FollowerDelta) Empty() bool {
	return len(d.AddedFollowerIDs) == 0
}
