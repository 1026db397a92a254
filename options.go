package cipherchat

import "time"

// Default reconciliation and retry tuning. All of these are configuration,
// not protocol constants; transports with push notification support can
// run much longer sync intervals.
const (
	DefaultSyncInterval  = 2 * time.Second
	DefaultRetryInterval = 500 * time.Millisecond
	DefaultRetryBudget   = 3
)

// Options configures a Client.
type Options struct {
	// StorageDSN selects the SQLite database backing persistent state.
	// Empty means a non-durable in-memory store (tests, ephemeral
	// profiles).
	StorageDSN string

	// SyncInterval is the cadence of the reconciliation loop in Run.
	SyncInterval time.Duration

	// RetryBudget bounds send attempts per message before it fails.
	RetryBudget int

	// RetryInterval is the minimum delay between attempts for one message.
	RetryInterval time.Duration
}

// NewOptions creates an Options with default settings.
func NewOptions() *Options {
	return &Options{
		SyncInterval:  DefaultSyncInterval,
		RetryBudget:   DefaultRetryBudget,
		RetryInterval: DefaultRetryInterval,
	}
}
