package entitlement

import (
	"time"

	"grc-license-controlplane/pkg/policy"
	"grc-license-controlplane/services/license"
)

type Reason string

const (
	ReasonUnlicensed         Reason = "unlicensed"
	ReasonExpired            Reason = "expired"
	ReasonExpiredGracePeriod Reason = "expired_grace_period"
	ReasonSuspended          Reason = "suspended"
	ReasonOverLimit          Reason = "over_limit"
	ReasonInvalidRequest     Reason = "invalid_request"
	ReasonLookupFailed       Reason = "lookup_failed"
)

// Decision is the outcome of an entitlement or usage-limit check. Checks in
// the request path always return a Decision, never an error.
type Decision struct {
	Allowed         bool                   `json:"allowed"`
	Licensed        bool                   `json:"licensed,omitempty"`
	Reason          Reason                 `json:"reason,omitempty"`
	Message         string                 `json:"message,omitempty"`
	HTTPStatus      int                    `json:"http_status,omitempty"`
	Status          license.Status         `json:"status,omitempty"`
	LicenseName     string                 `json:"license_name,omitempty"`
	EndDate         *time.Time             `json:"end_date,omitempty"`
	SuggestUpgrade  bool                   `json:"suggest_upgrade,omitempty"`
	RedirectTo      string                 `json:"redirect_to,omitempty"`
	HideRoutes      []string               `json:"hide_routes,omitempty"`
	Watermark       bool                   `json:"watermark,omitempty"`
	LimitedFeatures []string               `json:"limited_features,omitempty"`
	Readonly        bool                   `json:"readonly,omitempty"`
	Warning         string                 `json:"warning,omitempty"`
	Throttle        bool                   `json:"throttle,omitempty"`
	ThrottleRate    float64                `json:"throttle_rate,omitempty"`
	Enforcement     policy.EnforcementType `json:"enforcement,omitempty"`
	UsageInfo       *license.UsageLimit    `json:"usage_info,omitempty"`
	Fallback        bool                   `json:"fallback,omitempty"`

	// Error is the lookup failure behind a fallback decision. It is logged,
	// never rendered.
	Error error `json:"-"`
}
