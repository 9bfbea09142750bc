package config

import (
	"fmt"
	"sort"
	"time"

	"github.com/jvs-project/coordkit/pkg/errclass"
)

type field struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

func durationField(p func(c *Config) *Duration) field {
	return field{
		get: func(c *Config) string { return p(c).String() },
		set: func(c *Config, v string) error {
			d, err := time.ParseDuration(v)
			if err != nil {
				return err
			}
			*p(c) = Duration(d)
			return nil
		},
	}
}

func stringField(p func(c *Config) *string) field {
	return field{
		get: func(c *Config) string { return *p(c) },
		set: func(c *Config, v string) error { *p(c) = v; return nil },
	}
}

var fields = map[string]field{
	"state_dir":               stringField(func(c *Config) *string { return &c.StateDir }),
	"lock.default_ttl":        durationField(func(c *Config) *Duration { return &c.Lock.DefaultTTL }),
	"lock.max_wait":           durationField(func(c *Config) *Duration { return &c.Lock.MaxWait }),
	"lock.poll_interval":      durationField(func(c *Config) *Duration { return &c.Lock.PollInterval }),
	"lock.backoff":            stringField(func(c *Config) *string { return &c.Lock.Backoff }),
	"retry.delay":             durationField(func(c *Config) *Duration { return &c.Retry.Delay }),
	"retry.backoff":           stringField(func(c *Config) *string { return &c.Retry.Backoff }),
	"retry.max_duration":      durationField(func(c *Config) *Duration { return &c.Retry.MaxDuration }),
	"cache.default_valid_for": durationField(func(c *Config) *Duration { return &c.Cache.DefaultValidFor }),
	"logging.level":           stringField(func(c *Config) *string { return &c.Logging.Level }),
	"logging.format":          stringField(func(c *Config) *string { return &c.Logging.Format }),
}

// Keys returns the settable keys in sorted order.
func Keys() []string {
	out := make([]string, 0, len(fields))
	for k := range fields {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Get returns the value of a dotted key.
func (c *Config) Get(key string) (string, error) {
	f, ok := fields[key]
	if !ok {
		return "", errclass.ErrConfigInvalid.WithMessagef("unknown key %q", key)
	}
	return f.get(c), nil
}

// Set parses value into a dotted key and validates the result. On error c
// is left unchanged.
func (c *Config) Set(key, value string) error {
	f, ok := fields[key]
	if !ok {
		return errclass.ErrConfigInvalid.WithMessagef("unknown key %q", key)
	}
	next := *c
	if err := f.set(&next, value); err != nil {
		return errclass.ErrConfigInvalid.WithMessage(fmt.Sprintf("%s: %v", key, err))
	}
	if err := next.Validate(); err != nil {
		return err
	}
	*c = next
	return nil
}
