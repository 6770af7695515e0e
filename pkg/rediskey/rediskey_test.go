package rediskey

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRenewalKeysUseUTCDay(t *testing.T) {
	loc := time.FixedZone("UTC+7", 7*3600)
	at := time.Date(2026, 3, 1, 2, 0, 0, 0, loc)

	require.Equal(t, "license:renewal:lock:2026-02-28", BuildRenewalLockKey(at))
	require.Equal(t, "license:renewal:2026-02-28", BuildRenewalTaskID(at))
}
