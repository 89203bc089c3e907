package auth

import (
	"context"
	"fmt"
	"time"
)

// RequestRecord captures one accepted request for replay detection and
// throttle accounting. Records are append-only and never updated.
type RequestRecord struct {
	Who        string
	UserRef    string
	ClientTime time.Time
	CreatedAt  time.Time
}

// HistoryStore provides durable storage for accepted requests. The backing
// store must enforce a unique constraint on the who token so that two
// concurrent identical requests cannot both insert; InsertIfAbsent reports
// the conflict as a first-class false return, never an error.
type HistoryStore interface {
	InsertIfAbsent(ctx context.Context, record RequestRecord) (bool, error)
	CountBetween(ctx context.Context, userRef string, from, to time.Time) (int64, error)
}

// ReplayOutcome is the result of recording a request against history.
type ReplayOutcome int

const (
	// ReplayAccepted means the request was seen for the first time.
	ReplayAccepted ReplayOutcome = iota
	// ReplayDuplicate means an identical who token was already accepted.
	ReplayDuplicate
)

// recordIfNew persists the accepted request. A uniqueness conflict on the
// who token is interpreted as a replay signal.
func recordIfNew(ctx context.Context, store HistoryStore, who, userRef string, clientTimeMs int64, now time.Time) (ReplayOutcome, error) {
	inserted, err := store.InsertIfAbsent(ctx, RequestRecord{
		Who:        who,
		UserRef:    userRef,
		ClientTime: time.UnixMilli(clientTimeMs).UTC(),
		CreatedAt:  now.UTC(),
	})
	if err != nil {
		return ReplayAccepted, fmt.Errorf("record request: %w", err)
	}
	if !inserted {
		return ReplayDuplicate, nil
	}
	return ReplayAccepted, nil
}

// CountRecent reports how many requests the reference had accepted inside the
// trailing window [now - interval, now], both ends inclusive. Records dated
// past now (tokens minted ahead of the server clock) do not count against the
// window. It only reports; enforcement of a limit belongs to the caller.
func CountRecent(ctx context.Context, store HistoryStore, userRef string, intervalMinutes int, now time.Time) (int64, error) {
	from := now.Add(-time.Duration(intervalMinutes) * time.Minute)
	count, err := store.CountBetween(ctx, userRef, from.UTC(), now.UTC())
	if err != nil {
		return 0, fmt.Errorf("count recent requests: %w", err)
	}
	return count, nil
}
