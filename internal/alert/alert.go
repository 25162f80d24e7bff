// Package alert defines the alert record, its lifecycle state machine and the
// observer contract shared by the scheduler, storage and renderer layers.
package alert

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Type distinguishes the three alert flavors. Behavior differences between
// them (which tone to play) are data, not subtypes; see renderer.Tones.
type Type int

const (
	TypeAlarm Type = iota + 1
	TypeTimer
	TypeReminder
)

func (t Type) String() string {
	switch t {
	case TypeAlarm:
		return "ALARM"
	case TypeTimer:
		return "TIMER"
	case TypeReminder:
		return "REMINDER"
	}
	return "UNKNOWN"
}

// ParseType maps a directive type string to a Type. Unrecognized values
// default to ALARM so a garbled directive still wakes the user up.
func ParseType(s string) Type {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ALARM":
		return TypeAlarm
	case "TIMER":
		return TypeTimer
	case "REMINDER":
		return TypeReminder
	}
	return TypeAlarm
}

// State is the record's position in the lifecycle:
//
//	UNSET -> SET -> READY -> ACTIVATING -> ACTIVE
//	ACTIVE -> SNOOZING -> SNOOZED -> READY
//	ACTIVE/ACTIVATING -> STOPPING -> STOPPED
//	ACTIVE -> COMPLETED
//
// STOPPED, COMPLETED and ERROR are terminal: the record is erased from
// memory and storage once it reaches them.
type State int

const (
	StateUnset State = iota + 1
	StateSet
	StateActivating
	StateActive
	StateSnoozing
	StateSnoozed
	StateStopping
	StateStopped
	StateCompleted
	StateReady
)

func (s State) String() string {
	switch s {
	case StateUnset:
		return "UNSET"
	case StateSet:
		return "SET"
	case StateReady:
		return "READY"
	case StateActivating:
		return "ACTIVATING"
	case StateActive:
		return "ACTIVE"
	case StateSnoozing:
		return "SNOOZING"
	case StateSnoozed:
		return "SNOOZED"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	case StateCompleted:
		return "COMPLETED"
	}
	return "UNKNOWN"
}

// StopReason records why an active alert was told to stop. Informational
// only; it rides along on the STOPPED observer notification.
type StopReason string

const (
	StopReasonUnset     StopReason = "unset"
	StopReasonCloudStop StopReason = "cloud_stop"
	StopReasonLocalStop StopReason = "local_stop"
	StopReasonShutdown  StopReason = "shutdown"
	StopReasonLogOut    StopReason = "log_out"
)

// ISO8601Format is the layout used for the persisted ISO-8601 schedule string.
const ISO8601Format = time.RFC3339

var (
	ErrEmptyToken    = errors.New("alert token is empty")
	ErrBadTime       = errors.New("invalid scheduled time")
	ErrRecordLocked  = errors.New("alert is rendering; schedule cannot change")
	ErrBadAssetData  = errors.New("invalid asset configuration")
	ErrNegativeLoops = errors.New("loop count must be >= 0")
)

// Record is the single owned representation of one alert. The scheduler's
// in-memory map is the only owner; storage takes a snapshot (Clone) and
// callbacks refer to records by token, never by pointer.
type Record struct {
	// Token is assigned by the caller (the cloud) and never changes.
	Token string
	// ID is assigned by the store on first persist, 0 until then.
	ID int

	Type  Type
	State State

	// The schedule is kept in both forms; both are persisted and must agree.
	ScheduledUnix int64
	ScheduledISO  string

	LoopCount int
	LoopPause time.Duration
	Assets    AssetConfiguration

	StopReason StopReason
}

// New builds a SET-pending record for the given token/type/time.
// The caller validates the time against "now"; New only rejects nonsense.
func New(token string, typ Type, at time.Time) (*Record, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrEmptyToken
	}
	if at.IsZero() {
		return nil, ErrBadTime
	}
	r := &Record{
		Token: token,
		Type:  typ,
		State: StateUnset,
	}
	r.setScheduledTime(at)
	return r, nil
}

func (r *Record) setScheduledTime(at time.Time) {
	at = at.UTC().Truncate(time.Second)
	r.ScheduledUnix = at.Unix()
	r.ScheduledISO = at.Format(ISO8601Format)
}

// ScheduledTime returns the wall-clock instant this record is due.
func (r *Record) ScheduledTime() time.Time {
	return time.Unix(r.ScheduledUnix, 0).UTC()
}

// SetScheduledISO parses an ISO-8601 string and installs both forms.
func (r *Record) SetScheduledISO(iso string) error {
	t, err := time.Parse(ISO8601Format, iso)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrBadTime, iso)
	}
	r.setScheduledTime(t)
	return nil
}

// IsPastDue reports whether the record's due time is more than limit
// behind now. Such records are purged at reload instead of activated.
func (r *Record) IsPastDue(now time.Time, limit time.Duration) bool {
	cutoff := now.Unix() - int64(limit/time.Second)
	return r.ScheduledUnix < cutoff
}

// UpdateScheduledTime re-arms an inactive record for a new due time and
// returns it to SET. Rescheduling wins only while nothing is rendering.
func (r *Record) UpdateScheduledTime(at time.Time) error {
	switch r.State {
	case StateActive, StateActivating, StateStopping:
		return ErrRecordLocked
	}
	r.setScheduledTime(at)
	r.State = StateSet
	return nil
}

// Snooze re-arms a rendering record for a later time and moves it to
// SNOOZING. The transition to SNOOZED happens once the renderer confirms
// it went quiet.
func (r *Record) Snooze(at time.Time) {
	r.setScheduledTime(at)
	r.State = StateSnoozing
}

// Reset returns a reloaded record to SET. Used when a record was persisted
// as ACTIVE by a previous process that died mid-render.
func (r *Record) Reset() {
	r.State = StateSet
}

// Clone returns a deep copy. Storage operates on clones so a failed write
// can be rolled back without having touched the owned record.
func (r *Record) Clone() *Record {
	cp := *r
	cp.Assets = r.Assets.clone()
	return &cp
}

// Validate checks the cross-field invariants that must hold before a
// record may be persisted.
func (r *Record) Validate() error {
	if strings.TrimSpace(r.Token) == "" {
		return ErrEmptyToken
	}
	if r.ScheduledUnix <= 0 || r.ScheduledISO == "" {
		return ErrBadTime
	}
	if r.LoopCount < 0 {
		return ErrNegativeLoops
	}
	return r.Assets.Validate()
}
