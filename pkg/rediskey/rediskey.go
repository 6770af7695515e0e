package rediskey

import (
	"fmt"
	"time"
)

const (
	RenewalPrefix     = "license:renewal"
	RenewalLockPrefix = "license:renewal:lock"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildRenewalLockKey returns "license:renewal:lock:{yyyy-mm-dd}" for the UTC day of t.
func BuildRenewalLockKey(t time.Time) string {
	return NamespaceKey(RenewalLockPrefix, t.UTC().Format(time.DateOnly))
}

// BuildRenewalTaskID returns the asynq task id used to enqueue one run per day.
func BuildRenewalTaskID(t time.Time) string {
	return NamespaceKey(RenewalPrefix, t.UTC().Format(time.DateOnly))
}
