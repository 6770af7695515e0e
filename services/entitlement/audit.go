package entitlement

import (
	"context"

	applog "grc-license-controlplane/pkg/logger"
	"grc-license-controlplane/services/license"

	"go.uber.org/zap"
)

// Attempt is one enforced access attempt. Subject is a feature code or a
// usage type.
type Attempt struct {
	TenantID string
	Subject  string
	Reason   Reason
	Allowed  bool
}

type AccessAuditor interface {
	Record(ctx context.Context, attempt Attempt)
}

type accessLogStore interface {
	CreateAccessLog(ctx context.Context, entry *license.LicenseAccessLog) error
}

type repositoryAuditor struct {
	store accessLogStore
}

// NewAccessAuditor persists attempts as LicenseAccessLog rows. Write failures
// are logged and never surface to the caller.
func NewAccessAuditor(repo license.Repository) AccessAuditor {
	return &repositoryAuditor{store: repo}
}

func (a *repositoryAuditor) Record(ctx context.Context, attempt Attempt) {
	verdict := "DENIED"
	if attempt.Allowed {
		verdict = "ALLOWED"
	}

	log := applog.Ctx(ctx).With(
		zap.String("tenant_id", attempt.TenantID),
		zap.String("subject", attempt.Subject),
		zap.String("reason", string(attempt.Reason)),
		zap.String("verdict", verdict),
	)
	log.Info("[Usage] access attempt")

	accessAttempts.WithLabelValues(string(attempt.Reason), verdict).Inc()

	if a.store == nil {
		return
	}

	err := a.store.CreateAccessLog(ctx, &license.LicenseAccessLog{
		TenantID: attempt.TenantID,
		Subject:  attempt.Subject,
		Reason:   string(attempt.Reason),
		Allowed:  attempt.Allowed,
	})
	if err != nil {
		log.Warn("[Usage] failed to persist access attempt", zap.Error(err))
	}
}
