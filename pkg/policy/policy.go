package policy

import "time"

// Mode is the global enforcement mode. Only ModeStrict fails closed.
type Mode string

const (
	ModeStrict     Mode = "strict"
	ModePermissive Mode = "permissive"
)

type EnforcementType string

const (
	EnforcementHard EnforcementType = "hard"
	EnforcementSoft EnforcementType = "soft"
)

type UnlicensedBehavior string

const (
	BlockWithMessage   UnlicensedBehavior = "block_with_message"
	RedirectToUpgrade  UnlicensedBehavior = "redirect_to_upgrade"
	HideUIRoutes       UnlicensedBehavior = "hide_ui_routes"
	AllowWithWatermark UnlicensedBehavior = "allow_with_watermark"
)

type OverLimitBehavior string

const (
	PreventCreation  OverLimitBehavior = "prevent_creation"
	AllowWithWarning OverLimitBehavior = "allow_with_warning"
	Throttle         OverLimitBehavior = "throttle"
)

type ActionType string

const (
	ActionCreateRenewalOpportunity ActionType = "create_renewal_opportunity"
	ActionGeneratePreQuote         ActionType = "generate_pre_quote"
	ActionSendEmail                ActionType = "send_email"
	ActionAutoRenew                ActionType = "auto_renew"
	ActionSuspendLicense           ActionType = "suspend_license"
	ActionCreateProposal           ActionType = "create_proposal"
	ActionGenerateFinalQuote       ActionType = "generate_final_quote"
	ActionCreateProformaInvoice    ActionType = "create_proforma_invoice"
	ActionCreateTask               ActionType = "create_task"
	ActionScheduleSuccessCheckin   ActionType = "schedule_success_checkin"
	ActionCheckPaymentStatus       ActionType = "check_payment_status"
	ActionEnableGracePeriod        ActionType = "enable_grace_period"
	ActionCreateChurnTask          ActionType = "create_churn_prevention_task"
	ActionSuspendAllFeatures       ActionType = "suspend_all_features"
	ActionCreateEscalationCase     ActionType = "create_escalation_case"
)

// IdempotencyScope controls what a prior success record suppresses.
type IdempotencyScope string

const (
	// ScopeMilestone skips a license for a milestone once any action succeeded.
	ScopeMilestone IdempotencyScope = "milestone"
	// ScopeAction skips only the individual actions that already succeeded.
	ScopeAction IdempotencyScope = "action"
)

const (
	DefaultUpgradePage   = "/platform/licenses/upgrade"
	DefaultLookaheadDays = 120
	DefaultHTTPStatus    = 402
)

type Policy struct {
	Enforcement    Enforcement    `yaml:"enforcement"`
	RenewalCadence RenewalCadence `yaml:"renewal_cadence"`
	Defaults       Defaults       `yaml:"defaults"`
	UpsellSignals  UpsellSignals  `yaml:"upsell_signals"`
}

type Enforcement struct {
	Mode          Mode          `yaml:"mode"`
	FeatureGates  []FeatureGate `yaml:"feature_gates" validate:"dive"`
	GracePeriod   GracePeriod   `yaml:"grace_period"`
	UsageWarnings UsageWarnings `yaml:"usage_warnings"`
	Audit         Audit         `yaml:"audit"`
}

// FeatureGate describes how one feature (unlicensed path) or one usage type
// (over-limit path) is enforced.
type FeatureGate struct {
	FeatureCode        string             `yaml:"feature_code" validate:"required_without=LimitType"`
	LimitType          string             `yaml:"limit_type"`
	EnforcementType    EnforcementType    `yaml:"enforcement_type" validate:"omitempty,oneof=hard soft"`
	UnlicensedBehavior UnlicensedBehavior `yaml:"unlicensed_behavior"`
	OverLimitBehavior  OverLimitBehavior  `yaml:"over_limit_behavior"`
	HTTPStatus         int                `yaml:"http_status" validate:"omitempty,min=100,max=599"`
	Message            string             `yaml:"message"`
	SuggestUpgrade     bool               `yaml:"suggest_upgrade"`
	Routes             []string           `yaml:"routes"`
	UpgradePage        string             `yaml:"upgrade_page"`
	LimitFeatures      []string           `yaml:"limit_features"`
	ThrottleRate       float64            `yaml:"throttle_rate" validate:"gte=0"`
}

func (g FeatureGate) Soft() bool {
	return g.EnforcementType == EnforcementSoft
}

type GracePeriod struct {
	Enabled          bool     `yaml:"enabled"`
	ReadonlyFeatures []string `yaml:"readonly_features"`
}

type UsageWarnings struct {
	Thresholds []Threshold `yaml:"thresholds" validate:"dive"`
}

type Threshold struct {
	Percentage              float64  `yaml:"percentage" validate:"gte=0,lte=1000"`
	Level                   string   `yaml:"level"`
	Notify                  []string `yaml:"notify"`
	CreateUpsellOpportunity bool     `yaml:"create_upsell_opportunity"`
}

type Audit struct {
	LogFailedChecksOnly bool `yaml:"log_failed_checks_only"`
}

type RenewalCadence struct {
	IdempotencyScope IdempotencyScope `yaml:"idempotency_scope" validate:"omitempty,oneof=milestone action"`
	LookaheadDays    int              `yaml:"lookahead_days" validate:"gte=0"`
	Milestones       []Milestone      `yaml:"milestones" validate:"dive"`
}

func (r RenewalCadence) Lookahead() time.Duration {
	return time.Duration(r.LookaheadDays) * 24 * time.Hour
}

type Milestone struct {
	DaysBefore int      `yaml:"days_before" validate:"gte=0"`
	Name       string   `yaml:"name"`
	Actions    []Action `yaml:"actions" validate:"dive"`
}

// Action is one configured dunning step. Fields not modelled here are kept in
// Params so stub integrations can read them.
type Action struct {
	Type             ActionType     `yaml:"type" validate:"required"`
	When             string         `yaml:"when"`
	AssignTo         string         `yaml:"assign_to"`
	Template         string         `yaml:"template"`
	Recipients       []string       `yaml:"recipients"`
	PriceIncreasePct *float64       `yaml:"price_increase_pct"`
	KeepReadonly     bool           `yaml:"keep_readonly"`
	GraceDays        int            `yaml:"grace_days" validate:"gte=0"`
	Params           map[string]any `yaml:",inline"`
}

type Defaults struct {
	DefaultPriceIncreasePct float64 `yaml:"default_price_increase_pct"`
}

type UpsellSignals struct {
	Enabled                 bool `yaml:"enabled"`
	AutoCreateOpportunities bool `yaml:"auto_create_opportunities"`
}

func (p *Policy) Strict() bool {
	return p.Enforcement.Mode == ModeStrict
}

// KnownMode reports whether the mode is one of the named modes. Any other
// value still loads and fails open.
func (p *Policy) KnownMode() bool {
	return p.Enforcement.Mode == ModeStrict || p.Enforcement.Mode == ModePermissive
}

// GateForFeature returns the first gate configured for featureCode.
func (p *Policy) GateForFeature(featureCode string) *FeatureGate {
	for i := range p.Enforcement.FeatureGates {
		if p.Enforcement.FeatureGates[i].FeatureCode == featureCode {
			return &p.Enforcement.FeatureGates[i]
		}
	}
	return nil
}

// GateForLimitType returns the first gate configured for usageType.
func (p *Policy) GateForLimitType(usageType string) *FeatureGate {
	for i := range p.Enforcement.FeatureGates {
		if p.Enforcement.FeatureGates[i].LimitType == usageType {
			return &p.Enforcement.FeatureGates[i]
		}
	}
	return nil
}

func (p *Policy) ReadonlyInGrace(featureCode string) bool {
	if !p.Enforcement.GracePeriod.Enabled {
		return false
	}
	for _, f := range p.Enforcement.GracePeriod.ReadonlyFeatures {
		if f == featureCode {
			return true
		}
	}
	return false
}

func (p *Policy) UpsellEnabled() bool {
	return p.UpsellSignals.Enabled && p.UpsellSignals.AutoCreateOpportunities
}
