package failure

import "time"

type State string

const (
	StateHealthy     State = "healthy"
	StateDegrading   State = "degrading"
	StateDeactivated State = "deactivated"
)

type Event int

const (
	EventSuccess Event = iota
	EventFailure
)

type Policy struct {
	Threshold   int
	ResetWindow time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		Threshold:   defaultThreshold,
		ResetWindow: defaultResetWindow,
	}
}

type Entry struct {
	State               State
	ConsecutiveFailures int
	LastFailureAt       time.Time
}

// Transition describes what Apply did to an entry.
type Transition struct {
	From        State
	To          State
	Entry       Entry
	Deactivate  bool
	Discardable bool
}

// Apply is the pure lifecycle transition. A failure older than the reset
// window ages out before the new one is counted. Only active accounts run,
// so a failure on a deactivated entry belongs to a reactivated account and
// starts a fresh count. Deactivate is set on every failure that lands in
// StateDeactivated.
func Apply(entry Entry, event Event, now time.Time, policy Policy) Transition {
	from := entry.State
	if from == "" {
		from = StateHealthy
	}

	switch event {
	case EventSuccess:
		return Transition{
			From:        from,
			To:          StateHealthy,
			Entry:       Entry{State: StateHealthy},
			Discardable: true,
		}

	case EventFailure:
		count := entry.ConsecutiveFailures
		switch {
		case from == StateDeactivated:
			count = 0
		case !entry.LastFailureAt.IsZero() && now.Sub(entry.LastFailureAt) > policy.ResetWindow:
			count = 0
			from = StateHealthy
		}

		count++

		to := StateDegrading
		if count >= policy.Threshold {
			to = StateDeactivated
		}

		return Transition{
			From: from,
			To:   to,
			Entry: Entry{
				State:               to,
				ConsecutiveFailures: count,
				LastFailureAt:       now,
			},
			Deactivate: to == StateDeactivated,
		}
	}

	return Transition{From: from, To: from, Entry: entry}
}
