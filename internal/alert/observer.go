package alert

import "time"

// LifecycleState is the observer-facing view of a transition. It is a
// superset of the internal states: some values (PAST_DUE, DELETED,
// SCHEDULED_FOR_LATER, the focus pair) are generated by the scheduler
// itself and never originate from a rendering alert.
type LifecycleState string

const (
	LifecycleReady             LifecycleState = "READY"
	LifecycleStarted           LifecycleState = "STARTED"
	LifecycleStopped           LifecycleState = "STOPPED"
	LifecycleSnoozed           LifecycleState = "SNOOZED"
	LifecycleCompleted         LifecycleState = "COMPLETED"
	LifecycleError             LifecycleState = "ERROR"
	LifecyclePastDue           LifecycleState = "PAST_DUE"
	LifecycleDeleted           LifecycleState = "DELETED"
	LifecycleScheduledForLater LifecycleState = "SCHEDULED_FOR_LATER"
	LifecycleFocusForeground   LifecycleState = "FOCUS_ENTERED_FOREGROUND"
	LifecycleFocusBackground   LifecycleState = "FOCUS_ENTERED_BACKGROUND"
)

// Info is the payload of one lifecycle notification. It carries values,
// never a reference to the live record.
type Info struct {
	Token         string
	Type          Type
	State         LifecycleState
	ScheduledTime time.Time
	Reason        string
}

// Observer receives every lifecycle transition, at least once each.
// Fire-and-forget: no acknowledgement, implementations must not block.
type Observer interface {
	OnAlertStateChange(info Info)
}

// Info builds a notification snapshot for this record.
func (r *Record) Info(state LifecycleState, reason string) Info {
	return Info{
		Token:         r.Token,
		Type:          r.Type,
		State:         state,
		ScheduledTime: r.ScheduledTime(),
		Reason:        reason,
	}
}
