package license

import (
	"time"

	"gorm.io/datatypes"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusExpired   Status = "expired"
)

type OpportunityStatus string

const (
	OpportunityOpen       OpportunityStatus = "open"
	OpportunityInProgress OpportunityStatus = "in_progress"
	OpportunityWon        OpportunityStatus = "won"
	OpportunityLost       OpportunityStatus = "lost"
)

type ExecutionStatus string

const (
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionFailed  ExecutionStatus = "failed"
)

// License is a sellable SKU.
type License struct {
	ID        string    `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	Code      string    `gorm:"column:code;uniqueIndex;type:varchar(100);not null" json:"code"`
	Name      string    `gorm:"column:name;type:varchar(255);not null" json:"name"`
	Price     float64   `gorm:"column:price" json:"price"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type LicenseFeature struct {
	ID          string    `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	FeatureCode string    `gorm:"column:feature_code;uniqueIndex;type:varchar(100);not null" json:"feature_code"`
	Name        string    `gorm:"column:name;type:varchar(255)" json:"name"`
	Description string    `gorm:"column:description;type:text" json:"description,omitempty"`
	Metered     bool      `gorm:"column:metered;default:false" json:"metered"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// LicenseFeatureMap binds a SKU to a feature with an optional ceiling.
type LicenseFeatureMap struct {
	ID         string   `gorm:"column:id;primaryKey;type:varchar(32)"`
	LicenseID  string   `gorm:"column:license_id;uniqueIndex:idx_license_feature;not null"`
	FeatureID  string   `gorm:"column:feature_id;uniqueIndex:idx_license_feature;not null"`
	LimitValue *float64 `gorm:"column:limit_value"`
	LimitType  string   `gorm:"column:limit_type;type:varchar(50);index"`
}

type TenantLicense struct {
	ID              string     `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	TenantID        string     `gorm:"column:tenant_id;index;not null" json:"tenant_id"`
	LicenseID       string     `gorm:"column:license_id;index;not null" json:"license_id"`
	Status          Status     `gorm:"column:status;type:varchar(20);index;default:'active'" json:"status"`
	StartDate       time.Time  `gorm:"column:start_date" json:"start_date"`
	EndDate         time.Time  `gorm:"column:end_date;index" json:"end_date"`
	PricePaid       float64    `gorm:"column:price_paid" json:"price_paid"`
	AutoRenew       bool       `gorm:"column:auto_renew;default:false" json:"auto_renew"`
	LastRenewalDate *time.Time `gorm:"column:last_renewal_date" json:"last_renewal_date,omitempty"`
	SuspendedAt     *time.Time `gorm:"column:suspended_at" json:"suspended_at,omitempty"`
	SuspendedReason string     `gorm:"column:suspended_reason;type:text" json:"suspended_reason,omitempty"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TenantLicenseUsage is the counter for one feature in one calendar month.
type TenantLicenseUsage struct {
	ID              string    `gorm:"column:id;primaryKey;type:varchar(32)"`
	TenantLicenseID string    `gorm:"column:tenant_license_id;uniqueIndex:idx_usage_period;not null"`
	FeatureID       string    `gorm:"column:feature_id;uniqueIndex:idx_usage_period;not null"`
	PeriodStart     time.Time `gorm:"column:period_start;uniqueIndex:idx_usage_period;not null"`
	PeriodEnd       time.Time `gorm:"column:period_end;not null"`
	UsageType       string    `gorm:"column:usage_type;type:varchar(50);index"`
	UsedValue       float64   `gorm:"column:used_value;not null;default:0"`
	LimitValue      *float64  `gorm:"column:limit_value"`
	CreatedAt       time.Time `gorm:"autoCreateTime"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime"`
}

// PercentageUsed is 0 when the row carries no usable limit.
func (u TenantLicenseUsage) PercentageUsed() float64 {
	if u.LimitValue == nil || *u.LimitValue == 0 {
		return 0
	}
	return u.UsedValue / *u.LimitValue * 100
}

type RenewalOpportunity struct {
	ID                string            `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	TenantLicenseID   string            `gorm:"column:tenant_license_id;index;not null" json:"tenant_license_id"`
	TenantID          string            `gorm:"column:tenant_id;index" json:"tenant_id"`
	Status            OpportunityStatus `gorm:"column:status;type:varchar(20);index" json:"status"`
	RenewalType       string            `gorm:"column:renewal_type;type:varchar(50)" json:"renewal_type"`
	CurrentARR        float64           `gorm:"column:current_arr" json:"current_arr"`
	ProposedARR       float64           `gorm:"column:proposed_arr" json:"proposed_arr"`
	ValueChange       float64           `gorm:"column:value_change" json:"value_change"`
	PriceIncreasePct  float64           `gorm:"column:price_increase_pct" json:"price_increase_pct"`
	LicenseEndDate    time.Time         `gorm:"column:license_end_date" json:"license_end_date"`
	RenewalTargetDate time.Time         `gorm:"column:renewal_target_date" json:"renewal_target_date"`
	AssignedTo        string            `gorm:"column:assigned_to;type:varchar(100)" json:"assigned_to,omitempty"`
	CreatedAt         time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

// DunningExecutionLog records one milestone action run. Success rows are the
// idempotency guard for the renewal pipeline.
type DunningExecutionLog struct {
	ID                 string            `gorm:"column:id;primaryKey;type:varchar(32)"`
	TenantLicenseID    string            `gorm:"column:tenant_license_id;index:idx_dunning_lookup;not null"`
	DaysUntilExpiry    int               `gorm:"column:days_until_expiry;index:idx_dunning_lookup"`
	ActionTaken        string            `gorm:"column:action_taken;type:varchar(100);index:idx_dunning_lookup"`
	Status             ExecutionStatus   `gorm:"column:status;type:varchar(20);index:idx_dunning_lookup"`
	ErrorMessage       string            `gorm:"column:error_message;type:text"`
	EmailSent          bool              `gorm:"column:email_sent;default:false"`
	OpportunityCreated bool              `gorm:"column:opportunity_created;default:false"`
	Metadata           datatypes.JSONMap `gorm:"column:metadata"`
	CreatedAt          time.Time         `gorm:"autoCreateTime"`
}

type LicenseEvent struct {
	ID              string            `gorm:"column:id;primaryKey;type:varchar(32)"`
	TenantLicenseID string            `gorm:"column:tenant_license_id;index;not null"`
	TenantID        string            `gorm:"column:tenant_id;index"`
	EventType       string            `gorm:"column:event_type;type:varchar(100);index"`
	EventStatus     string            `gorm:"column:event_status;type:varchar(20)"`
	TriggeredBy     string            `gorm:"column:triggered_by;type:varchar(50)"`
	Metadata        datatypes.JSONMap `gorm:"column:metadata"`
	CreatedAt       time.Time         `gorm:"autoCreateTime"`
}

// LicenseAccessLog is the audit row for an enforced access attempt. Subject is
// a feature code or a usage type.
type LicenseAccessLog struct {
	ID        string    `gorm:"column:id;primaryKey;type:varchar(32)"`
	TenantID  string    `gorm:"column:tenant_id;index;not null"`
	Subject   string    `gorm:"column:subject;type:varchar(100);index"`
	Reason    string    `gorm:"column:reason;type:varchar(50)"`
	Allowed   bool      `gorm:"column:allowed"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// Models lists every table owned by this package in migration order.
func Models() []any {
	return []any{
		&License{},
		&LicenseFeature{},
		&LicenseFeatureMap{},
		&TenantLicense{},
		&TenantLicenseUsage{},
		&RenewalOpportunity{},
		&DunningExecutionLog{},
		&LicenseEvent{},
		&LicenseAccessLog{},
	}
}

// Entitlement is the resolved license state of a tenant for one feature.
type Entitlement struct {
	Licensed    bool       `json:"licensed"`
	Status      Status     `json:"status,omitempty"`
	EndDate     *time.Time `json:"end_date,omitempty"`
	LicenseName string     `json:"license_name,omitempty"`
}

// UsageLimit is the current-period consumption of a usage type.
type UsageLimit struct {
	UsageType      string   `json:"usage_type"`
	UsedValue      float64  `json:"used_value"`
	LimitValue     *float64 `json:"limit_value"`
	PercentageUsed float64  `json:"percentage_used"`
	IsOverLimit    bool     `json:"is_over_limit"`
}

// Period returns the calendar month containing t as [first day, last day] in UTC.
func Period(t time.Time) (start, end time.Time) {
	t = t.UTC()
	start = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	end = start.AddDate(0, 1, -1)
	return start, end
}
