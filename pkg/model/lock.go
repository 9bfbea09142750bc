package model

import "time"

// LockToken is stored as the JSON content of a lock file and represents one
// successful acquisition of a named mutex.
type LockToken struct {
	ResourceKey       string `json:"resourceKey"`
	OwnerID           string `json:"ownerId"`
	AcquiredAtEpochMs int64  `json:"acquiredAtEpochMs"`
	TTLMs             int64  `json:"ttlMs"`
	Host              string `json:"host,omitempty"`
	PID               int    `json:"pid,omitempty"`
}

// AcquiredAt returns the acquisition time.
func (t *LockToken) AcquiredAt() time.Time {
	return time.UnixMilli(t.AcquiredAtEpochMs)
}

// ExpiresAt returns the instant after which the token no longer holds the lock.
func (t *LockToken) ExpiresAt() time.Time {
	return time.UnixMilli(t.AcquiredAtEpochMs + t.TTLMs)
}

// IsExpired returns true once now is past acquiredAt+ttl.
func (t *LockToken) IsExpired(now time.Time) bool {
	return now.UnixMilli() > t.AcquiredAtEpochMs+t.TTLMs
}

// TTL returns the lease length.
func (t *LockToken) TTL() time.Duration {
	return time.Duration(t.TTLMs) * time.Millisecond
}

// LockPolicy configures lock timing parameters.
type LockPolicy struct {
	DefaultTTL   time.Duration `json:"default_ttl"`
	MaxWait      time.Duration `json:"max_wait"`
	PollInterval time.Duration `json:"poll_interval"`
	Backoff      BackoffKind   `json:"backoff"`
}

// DefaultLockPolicy returns the policy used when nothing is configured.
func DefaultLockPolicy() LockPolicy {
	return LockPolicy{
		DefaultTTL:   30 * time.Second,
		MaxWait:      60 * time.Second,
		PollInterval: 50 * time.Millisecond,
		Backoff:      BackoffConstant,
	}
}

// WithDefaults fills zero fields from DefaultLockPolicy.
func (p LockPolicy) WithDefaults() LockPolicy {
	d := DefaultLockPolicy()
	if p.DefaultTTL <= 0 {
		p.DefaultTTL = d.DefaultTTL
	}
	if p.MaxWait < 0 {
		p.MaxWait = d.MaxWait
	}
	if p.PollInterval <= 0 {
		p.PollInterval = d.PollInterval
	}
	if p.Backoff == "" {
		p.Backoff = d.Backoff
	}
	return p
}
