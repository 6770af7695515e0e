package entitlement

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"grc-license-controlplane/pkg/policy"
	"grc-license-controlplane/services/license"
)

// upsellPercentage is the usage level at which an over-limit decision also
// signals an upsell, independent of the configured warning thresholds.
const upsellPercentage = 80

type unlicensedHandler func(gate *policy.FeatureGate) Decision

type overLimitHandler func(usageType string, gate *policy.FeatureGate, info *license.UsageLimit) Decision

var unlicensedHandlers = map[policy.UnlicensedBehavior]unlicensedHandler{
	policy.BlockWithMessage: func(gate *policy.FeatureGate) Decision {
		status := gate.HTTPStatus
		if status == 0 {
			status = http.StatusPaymentRequired
		}
		return Decision{
			Reason:         ReasonUnlicensed,
			Message:        gate.Message,
			HTTPStatus:     status,
			SuggestUpgrade: gate.SuggestUpgrade,
		}
	},
	policy.RedirectToUpgrade: func(gate *policy.FeatureGate) Decision {
		target := gate.UpgradePage
		if target == "" {
			target = policy.DefaultUpgradePage
		}
		return Decision{
			Reason:     ReasonUnlicensed,
			RedirectTo: target,
			HTTPStatus: http.StatusFound,
		}
	},
	policy.HideUIRoutes: func(gate *policy.FeatureGate) Decision {
		routes := gate.Routes
		if routes == nil {
			routes = []string{}
		}
		return Decision{
			Reason:     ReasonUnlicensed,
			HideRoutes: routes,
			HTTPStatus: http.StatusForbidden,
		}
	},
	policy.AllowWithWatermark: func(gate *policy.FeatureGate) Decision {
		limited := gate.LimitFeatures
		if limited == nil {
			limited = []string{}
		}
		return Decision{
			Allowed:         true,
			Reason:          ReasonUnlicensed,
			Watermark:       true,
			LimitedFeatures: limited,
		}
	},
}

var overLimitHandlers = map[policy.OverLimitBehavior]overLimitHandler{
	policy.PreventCreation: func(usageType string, _ *policy.FeatureGate, info *license.UsageLimit) Decision {
		return Decision{
			Reason:         ReasonOverLimit,
			Message:        fmt.Sprintf("%s limit reached (%s/%s)", usageType, number(info.UsedValue), limitString(info.LimitValue)),
			SuggestUpgrade: true,
			UsageInfo:      info,
		}
	},
	policy.AllowWithWarning: func(usageType string, _ *policy.FeatureGate, info *license.UsageLimit) Decision {
		return Decision{
			Allowed:   true,
			Warning:   fmt.Sprintf("Approaching %s limit (%s%%)", usageType, number(info.PercentageUsed)),
			UsageInfo: info,
		}
	},
	policy.Throttle: func(_ string, gate *policy.FeatureGate, info *license.UsageLimit) Decision {
		return Decision{
			Allowed:      true,
			Throttle:     true,
			ThrottleRate: gate.ThrottleRate,
			UsageInfo:    info,
		}
	},
}

// Enforcer maps the four terminal license states to a Decision according to
// the current policy.
type Enforcer struct {
	holder  *policy.Holder
	auditor AccessAuditor
	upsell  UpsellSignaler
}

func NewEnforcer(holder *policy.Holder, auditor AccessAuditor, upsell UpsellSignaler) *Enforcer {
	return &Enforcer{holder: holder, auditor: auditor, upsell: upsell}
}

func (e *Enforcer) Unlicensed(ctx context.Context, tenantID, featureCode string) Decision {
	p := e.holder.Get()

	var d Decision
	gate := p.GateForFeature(featureCode)
	switch {
	case gate == nil:
		d = Decision{
			Reason:     ReasonUnlicensed,
			Message:    fmt.Sprintf("Feature %s requires an active license", featureCode),
			HTTPStatus: http.StatusPaymentRequired,
		}
	case unlicensedHandlers[gate.UnlicensedBehavior] != nil:
		d = unlicensedHandlers[gate.UnlicensedBehavior](gate)
	default:
		d = Decision{
			Allowed:     gate.Soft(),
			Reason:      ReasonUnlicensed,
			Enforcement: gate.EnforcementType,
		}
	}

	e.audit(ctx, p, Attempt{TenantID: tenantID, Subject: featureCode, Reason: ReasonUnlicensed, Allowed: d.Allowed})
	return d
}

func (e *Enforcer) Expired(_ context.Context, _ string, featureCode string) Decision {
	if e.holder.Get().ReadonlyInGrace(featureCode) {
		return Decision{
			Allowed:  true,
			Readonly: true,
			Reason:   ReasonExpiredGracePeriod,
			Message:  "License expired - Read-only access",
		}
	}

	return Decision{
		Reason:     ReasonExpired,
		Message:    "License has expired. Please renew to continue.",
		HTTPStatus: http.StatusPaymentRequired,
	}
}

func (e *Enforcer) Suspended(_ context.Context, _ string, _ string) Decision {
	return Decision{
		Reason:     ReasonSuspended,
		Message:    "License is suspended. Please contact support.",
		HTTPStatus: http.StatusForbidden,
	}
}

// OverLimit resolves an exceeded usage type. At or above 80% usage it also
// signals an upsell, in addition to any threshold warnings.
func (e *Enforcer) OverLimit(ctx context.Context, tenantID, usageType string, info *license.UsageLimit) Decision {
	p := e.holder.Get()

	gate := p.GateForLimitType(usageType)
	if gate == nil {
		d := Decision{Allowed: true, Warning: "Over limit but no enforcement configured", UsageInfo: info}
		e.audit(ctx, p, Attempt{TenantID: tenantID, Subject: usageType, Reason: ReasonOverLimit, Allowed: true})
		return d
	}

	var d Decision
	if handler := overLimitHandlers[gate.OverLimitBehavior]; handler != nil {
		d = handler(usageType, gate, info)
	} else {
		d = Decision{
			Allowed:   gate.Soft(),
			Reason:    ReasonOverLimit,
			UsageInfo: info,
		}
	}

	e.audit(ctx, p, Attempt{TenantID: tenantID, Subject: usageType, Reason: ReasonOverLimit, Allowed: d.Allowed})

	if e.upsell != nil && info != nil && info.PercentageUsed >= upsellPercentage {
		e.upsell.Signal(ctx, Signal{
			TenantID:       tenantID,
			UsageType:      usageType,
			PercentageUsed: info.PercentageUsed,
			Trigger:        TriggerOverLimit,
		})
	}

	return d
}

// audit records the attempt unless only failed checks are logged and the
// attempt was allowed.
func (e *Enforcer) audit(ctx context.Context, p *policy.Policy, a Attempt) {
	if e.auditor == nil {
		return
	}
	if p.Enforcement.Audit.LogFailedChecksOnly && a.Allowed {
		return
	}
	e.auditor.Record(ctx, a)
}

func number(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func limitString(v *float64) string {
	if v == nil {
		return "unlimited"
	}
	return number(*v)
}
