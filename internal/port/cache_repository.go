package port

import "context"

type ClaimStatus int

const (
	// ClaimAcquired means the caller now holds the key and should process the message.
	ClaimAcquired ClaimStatus = iota
	// ClaimHeld means another attempt holds the key, or a failed one never released it.
	ClaimHeld
	// ClaimDone means the message was already processed.
	ClaimDone
)

type IdempotencyStore interface {
	// Claim takes a short lease on a message key, reporting who owns it when the lease is taken
	Claim(ctx context.Context, key string) (ClaimStatus, error)

	// Complete marks a claimed key as processed for the idempotency window
	Complete(ctx context.Context, key string) error

	// Release drops a claim so a failed message can be processed again on retry
	Release(ctx context.Context, key string) error
}
