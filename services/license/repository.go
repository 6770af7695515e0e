package license

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository describes database operations for licenses, usage and dunning.
type Repository interface {
	GetEntitlement(ctx context.Context, tenantID, featureCode string) (*Entitlement, error)
	GetUsageLimit(ctx context.Context, tenantID, usageType string, now time.Time) (*UsageLimit, error)

	FindActiveLicense(ctx context.Context, tenantID string, now time.Time) (*TenantLicense, error)
	GetTenantLicense(ctx context.Context, id string) (*TenantLicense, error)
	FindFeatureByCode(ctx context.Context, featureCode string) (*LicenseFeature, error)
	FindFeatureLimit(ctx context.Context, licenseID, featureID, usageType string) (*float64, error)
	IncrementUsage(ctx context.Context, usage *TenantLicenseUsage, value float64) error
	FindUsage(ctx context.Context, tenantLicenseID, featureID string, periodStart time.Time) (*TenantLicenseUsage, error)

	ListUpcomingRenewals(ctx context.Context, from, to time.Time) ([]TenantLicense, error)
	HasSuccessfulExecution(ctx context.Context, tenantLicenseID string, daysBefore int, actionType string) (bool, error)
	LogExecution(ctx context.Context, entry *DunningExecutionLog) error
	CreateEvent(ctx context.Context, event *LicenseEvent) error
	FindOpenOpportunity(ctx context.Context, tenantLicenseID string) (*RenewalOpportunity, error)
	CreateOpportunity(ctx context.Context, opp *RenewalOpportunity) error
	UpdateLicense(ctx context.Context, id string, fields map[string]any) error
	ExpireLapsed(ctx context.Context, now time.Time) ([]TenantLicense, error)

	CreateAccessLog(ctx context.Context, entry *LicenseAccessLog) error
}

type gormRepository struct {
	db   *gorm.DB
	node *snowflake.Node
}

// NewRepository returns a gorm backed Repository implementation. Rows created
// without an ID get a snowflake ID from node.
func NewRepository(db *gorm.DB, node *snowflake.Node) Repository {
	return &gormRepository{db: db, node: node}
}

// AutoMigrate creates or updates every license table.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}

func (r *gormRepository) newID() string {
	return r.node.Generate().String()
}

type entitlementRow struct {
	Status      Status
	EndDate     time.Time
	LicenseName string
}

// GetEntitlement resolves the tenant license whose SKU includes the feature,
// preferring active licenses and then the latest end date. No such license
// means licensed=false.
func (r *gormRepository) GetEntitlement(ctx context.Context, tenantID, featureCode string) (*Entitlement, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var rows []entitlementRow
	err := r.db.WithContext(ctx).
		Table("tenant_licenses AS tl").
		Select("tl.status AS status, tl.end_date AS end_date, l.name AS license_name").
		Joins("JOIN license_feature_maps m ON m.license_id = tl.license_id").
		Joins("JOIN license_features f ON f.id = m.feature_id").
		Joins("LEFT JOIN licenses l ON l.id = tl.license_id").
		Where("tl.tenant_id = ? AND f.feature_code = ?", tenantID, featureCode).
		Order(clause.OrderBy{Expression: clause.Expr{
			SQL:                "CASE WHEN tl.status = ? THEN 0 ELSE 1 END, tl.end_date DESC",
			Vars:               []any{string(StatusActive)},
			WithoutParentheses: true,
		}}).
		Limit(1).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	if len(rows) == 0 {
		return &Entitlement{Licensed: false}, nil
	}

	row := rows[0]
	end := row.EndDate
	return &Entitlement{
		Licensed:    true,
		Status:      row.Status,
		EndDate:     &end,
		LicenseName: row.LicenseName,
	}, nil
}

// GetUsageLimit sums the current-period usage of usageType for the tenant's
// active license and compares it with the SKU limit for that type.
func (r *gormRepository) GetUsageLimit(ctx context.Context, tenantID, usageType string, now time.Time) (*UsageLimit, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	out := &UsageLimit{UsageType: usageType}

	tl, err := r.FindActiveLicense(ctx, tenantID, now)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return out, nil
	}
	if err != nil {
		return nil, err
	}

	periodStart, _ := Period(now)

	var used struct{ Total float64 }
	err = r.db.WithContext(ctx).Model(&TenantLicenseUsage{}).
		Select("COALESCE(SUM(used_value), 0) AS total").
		Where("tenant_license_id = ? AND usage_type = ? AND period_start = ?", tl.ID, usageType, periodStart).
		Scan(&used).Error
	if err != nil {
		return nil, err
	}
	out.UsedValue = used.Total

	var limits []LicenseFeatureMap
	err = r.db.WithContext(ctx).
		Where("license_id = ? AND limit_type = ? AND limit_value IS NOT NULL", tl.LicenseID, usageType).
		Order("limit_value DESC").
		Limit(1).
		Find(&limits).Error
	if err != nil {
		return nil, err
	}

	if len(limits) > 0 {
		limit := *limits[0].LimitValue
		out.LimitValue = &limit
		if limit > 0 {
			out.PercentageUsed = out.UsedValue / limit * 100
			out.IsOverLimit = out.UsedValue >= limit
		}
	}

	return out, nil
}

func (r *gormRepository) FindActiveLicense(ctx context.Context, tenantID string, now time.Time) (*TenantLicense, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var tl TenantLicense
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND status = ? AND end_date >= ?", tenantID, StatusActive, now).
		Order("end_date DESC").
		First(&tl).Error
	if err != nil {
		return nil, err
	}
	return &tl, nil
}

func (r *gormRepository) GetTenantLicense(ctx context.Context, id string) (*TenantLicense, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var tl TenantLicense
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&tl).Error; err != nil {
		return nil, err
	}
	return &tl, nil
}

func (r *gormRepository) FindFeatureByCode(ctx context.Context, featureCode string) (*LicenseFeature, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var f LicenseFeature
	if err := r.db.WithContext(ctx).Where("feature_code = ?", featureCode).First(&f).Error; err != nil {
		return nil, err
	}
	return &f, nil
}

// FindFeatureLimit returns the SKU ceiling for a feature, or nil when the
// mapping is absent or its limit_type differs from usageType.
func (r *gormRepository) FindFeatureLimit(ctx context.Context, licenseID, featureID, usageType string) (*float64, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var maps []LicenseFeatureMap
	err := r.db.WithContext(ctx).
		Where("license_id = ? AND feature_id = ?", licenseID, featureID).
		Limit(1).
		Find(&maps).Error
	if err != nil {
		return nil, err
	}

	if len(maps) == 0 || maps[0].LimitType != usageType {
		return nil, nil
	}
	return maps[0].LimitValue, nil
}

// IncrementUsage adds value to the period row identified by usage, creating
// it when missing. Concurrent first writers are reconciled by the unique
// (tenant_license_id, feature_id, period_start) index.
func (r *gormRepository) IncrementUsage(ctx context.Context, usage *TenantLicenseUsage, value float64) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}

	db := r.db.WithContext(ctx)

	res := db.Model(&TenantLicenseUsage{}).
		Where("tenant_license_id = ? AND feature_id = ? AND period_start = ?",
			usage.TenantLicenseID, usage.FeatureID, usage.PeriodStart).
		Update("used_value", gorm.Expr("used_value + ?", value))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	if usage.ID == "" {
		usage.ID = r.newID()
	}
	usage.UsedValue = value

	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tenant_license_id"}, {Name: "feature_id"}, {Name: "period_start"}},
		DoUpdates: clause.Assignments(map[string]any{
			"used_value": gorm.Expr("tenant_license_usages.used_value + ?", value),
		}),
	}).Create(usage).Error
}

func (r *gormRepository) FindUsage(ctx context.Context, tenantLicenseID, featureID string, periodStart time.Time) (*TenantLicenseUsage, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var u TenantLicenseUsage
	err := r.db.WithContext(ctx).
		Where("tenant_license_id = ? AND feature_id = ? AND period_start = ?", tenantLicenseID, featureID, periodStart).
		First(&u).Error
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// ListUpcomingRenewals returns active licenses ending within [from, to].
func (r *gormRepository) ListUpcomingRenewals(ctx context.Context, from, to time.Time) ([]TenantLicense, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var out []TenantLicense
	err := r.db.WithContext(ctx).
		Where("status = ? AND end_date >= ? AND end_date <= ?", StatusActive, from, to).
		Order("end_date ASC").Order("id ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// HasSuccessfulExecution reports whether a success row exists for the
// license and milestone. An empty actionType matches any action.
func (r *gormRepository) HasSuccessfulExecution(ctx context.Context, tenantLicenseID string, daysBefore int, actionType string) (bool, error) {
	if r == nil || r.db == nil {
		return false, gorm.ErrInvalidDB
	}

	query := r.db.WithContext(ctx).Model(&DunningExecutionLog{}).
		Where("tenant_license_id = ? AND days_until_expiry = ? AND status = ?", tenantLicenseID, daysBefore, ExecutionSuccess)
	if actionType != "" {
		query = query.Where("action_taken = ?", actionType)
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *gormRepository) LogExecution(ctx context.Context, entry *DunningExecutionLog) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	if entry.ID == "" {
		entry.ID = r.newID()
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *gormRepository) CreateEvent(ctx context.Context, event *LicenseEvent) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	if event.ID == "" {
		event.ID = r.newID()
	}
	return r.db.WithContext(ctx).Create(event).Error
}

// FindOpenOpportunity returns the open or in-progress opportunity for the
// license, or gorm.ErrRecordNotFound.
func (r *gormRepository) FindOpenOpportunity(ctx context.Context, tenantLicenseID string) (*RenewalOpportunity, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var opp RenewalOpportunity
	err := r.db.WithContext(ctx).
		Where("tenant_license_id = ? AND status IN ?", tenantLicenseID,
			[]OpportunityStatus{OpportunityOpen, OpportunityInProgress}).
		Order("created_at DESC").
		First(&opp).Error
	if err != nil {
		return nil, err
	}
	return &opp, nil
}

func (r *gormRepository) CreateOpportunity(ctx context.Context, opp *RenewalOpportunity) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	if opp.ID == "" {
		opp.ID = r.newID()
	}
	return r.db.WithContext(ctx).Create(opp).Error
}

func (r *gormRepository) UpdateLicense(ctx context.Context, id string, fields map[string]any) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}

	res := r.db.WithContext(ctx).Model(&TenantLicense{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ExpireLapsed flips active licenses whose end_date is before now to expired
// and records a license_expired event for each, in one transaction.
func (r *gormRepository) ExpireLapsed(ctx context.Context, now time.Time) ([]TenantLicense, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var lapsed []TenantLicense
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("status = ? AND end_date < ?", StatusActive, now).
			Order("end_date ASC").
			Find(&lapsed).Error; err != nil {
			return err
		}
		if len(lapsed) == 0 {
			return nil
		}

		ids := make([]string, 0, len(lapsed))
		for _, tl := range lapsed {
			ids = append(ids, tl.ID)
		}

		if err := tx.Model(&TenantLicense{}).
			Where("id IN ? AND status = ?", ids, StatusActive).
			Update("status", StatusExpired).Error; err != nil {
			return err
		}

		events := make([]LicenseEvent, 0, len(lapsed))
		for i := range lapsed {
			lapsed[i].Status = StatusExpired
			events = append(events, LicenseEvent{
				ID:              r.newID(),
				TenantLicenseID: lapsed[i].ID,
				TenantID:        lapsed[i].TenantID,
				EventType:       "license_expired",
				EventStatus:     string(ExecutionSuccess),
				TriggeredBy:     "system",
				Metadata: datatypes.JSONMap{
					"end_date": lapsed[i].EndDate.Format(time.RFC3339),
				},
			})
		}
		return tx.Create(&events).Error
	})
	if err != nil {
		return nil, err
	}
	return lapsed, nil
}

func (r *gormRepository) CreateAccessLog(ctx context.Context, entry *LicenseAccessLog) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	if entry.ID == "" {
		entry.ID = r.newID()
	}
	return r.db.WithContext(ctx).Create(entry).Error
}
