package renewal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConditionEvaluate(t *testing.T) {
	c, err := NewCondition()
	require.NoError(t, err)

	vars := map[string]any{
		"tenant_id":         "tenant-a",
		"status":            "active",
		"auto_renew":        true,
		"price_paid":        1200.0,
		"days_until_expiry": int64(7),
		"days_before":       int64(7),
	}

	ok, err := c.Evaluate("", vars)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = c.Evaluate("auto_renew && price_paid > 0", vars)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = c.Evaluate("!auto_renew || days_until_expiry > 30", vars)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = c.Evaluate("status == 'active' && tenant_id.startsWith('tenant-')", vars)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestConditionRejectsBadExpressions(t *testing.T) {
	c, err := NewCondition()
	require.NoError(t, err)

	require.Error(t, c.Check("price_paid +"))
	require.Error(t, c.Check("price_paid * 2.0"))
	require.Error(t, c.Check("unknown_var == 1"))
	require.NoError(t, c.Check("days_before >= 0"))
}
