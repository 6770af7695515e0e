package entitlement

import (
	"context"
	"testing"

	"grc-license-controlplane/services/license"
	"grc-license-controlplane/services/license/licensetest"

	"github.com/stretchr/testify/require"
)

func TestAccessAuditorPersistsAttempt(t *testing.T) {
	f := licensetest.New(t)
	auditor := NewAccessAuditor(f.Repo)

	auditor.Record(context.Background(), Attempt{TenantID: "tenant-a", Subject: "users", Reason: ReasonOverLimit, Allowed: false})

	var logs []license.LicenseAccessLog
	require.NoError(t, f.DB.Find(&logs).Error)
	require.Len(t, logs, 1)
	require.Equal(t, "tenant-a", logs[0].TenantID)
	require.Equal(t, "users", logs[0].Subject)
	require.Equal(t, "over_limit", logs[0].Reason)
	require.False(t, logs[0].Allowed)
	require.NotEmpty(t, logs[0].ID)
}

func TestAccessAuditorSwallowsWriteErrors(t *testing.T) {
	auditor := NewAccessAuditor(license.NewRepository(nil, nil))
	require.NotPanics(t, func() {
		auditor.Record(context.Background(), Attempt{TenantID: "t", Subject: "f", Reason: ReasonUnlicensed})
	})
}
