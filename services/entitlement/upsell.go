package entitlement

import (
	"context"

	applog "grc-license-controlplane/pkg/logger"
	"grc-license-controlplane/pkg/policy"

	"go.uber.org/zap"
)

const (
	TriggerOverLimit    = "over_limit"
	TriggerUsageWarning = "usage_warning"
)

// Signal asks sales to follow up on a tenant nearing or past a limit.
type Signal struct {
	TenantID       string
	UsageType      string
	PercentageUsed float64
	Trigger        string
}

type UpsellSignaler interface {
	Signal(ctx context.Context, s Signal)
}

type logUpsell struct {
	holder *policy.Holder
}

// NewUpsellSignaler logs and counts upsell signals when upsell_signals is
// enabled with auto_create_opportunities. Nothing is persisted.
func NewUpsellSignaler(holder *policy.Holder) UpsellSignaler {
	return &logUpsell{holder: holder}
}

func (u *logUpsell) Signal(ctx context.Context, s Signal) {
	if !u.holder.Get().UpsellEnabled() {
		return
	}

	upsellSignals.WithLabelValues(s.Trigger).Inc()
	applog.Ctx(ctx).Info("[Usage] upsell opportunity signalled",
		zap.String("tenant_id", s.TenantID),
		zap.String("usage_type", s.UsageType),
		zap.Float64("percentage_used", s.PercentageUsed),
		zap.String("trigger", s.Trigger),
	)
}
