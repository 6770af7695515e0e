package usage

import (
	"context"
	"errors"
	"strings"
	"time"

	applog "grc-license-controlplane/pkg/logger"
	"grc-license-controlplane/pkg/policy"
	"grc-license-controlplane/services/entitlement"
	"grc-license-controlplane/services/license"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	usageTracked = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "license_usage_tracked_total",
		Help: "Usage increments recorded by usage type.",
	}, []string{"usage_type"})
	usageWarnings = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "license_usage_warnings_total",
		Help: "Usage threshold warnings fired by level.",
	}, []string{"level"})
)

func init() {
	prometheus.MustRegister(usageTracked, usageWarnings)
}

// Warning is one threshold crossed by the current-period usage.
type Warning struct {
	UsageType      string   `json:"usage_type"`
	PercentageUsed float64  `json:"percentage_used"`
	Threshold      float64  `json:"threshold"`
	Level          string   `json:"level"`
	Notify         []string `json:"notify,omitempty"`
}

type Service struct {
	repo     license.Repository
	holder   *policy.Holder
	enforcer *entitlement.Enforcer
	upsell   entitlement.UpsellSignaler
	now      func() time.Time
}

type ServiceParams struct {
	fx.In

	Repo     license.Repository
	Holder   *policy.Holder
	Enforcer *entitlement.Enforcer
	Upsell   entitlement.UpsellSignaler
}

func NewService(p ServiceParams) *Service {
	return New(p.Repo, p.Holder, p.Enforcer, p.Upsell)
}

func New(repo license.Repository, holder *policy.Holder, enforcer *entitlement.Enforcer, upsell entitlement.UpsellSignaler) *Service {
	return &Service{
		repo:     repo,
		holder:   holder,
		enforcer: enforcer,
		upsell:   upsell,
		now:      time.Now,
	}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// TrackUsage adds value to the tenant's usage of featureCode for the current
// calendar month. It is best-effort: failures are logged, never returned.
func (s *Service) TrackUsage(ctx context.Context, tenantID, featureCode, usageType string, value float64) {
	log := applog.Ctx(ctx).With(
		zap.String("tenant_id", tenantID),
		zap.String("feature_code", featureCode),
		zap.String("usage_type", usageType),
	)

	now := s.now()

	tl, err := s.repo.FindActiveLicense(ctx, tenantID, now)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Warn("[Usage] no active license for tenant")
		return
	}
	if err != nil {
		log.Error("[Usage] failed to resolve active license", zap.Error(err))
		return
	}

	feature, err := s.repo.FindFeatureByCode(ctx, featureCode)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Warn("[Usage] feature not found")
		return
	}
	if err != nil {
		log.Error("[Usage] failed to resolve feature", zap.Error(err))
		return
	}

	periodStart, periodEnd := license.Period(now)

	row := &license.TenantLicenseUsage{
		TenantLicenseID: tl.ID,
		FeatureID:       feature.ID,
		PeriodStart:     periodStart,
		PeriodEnd:       periodEnd,
		UsageType:       usageType,
	}

	if _, err := s.repo.FindUsage(ctx, tl.ID, feature.ID, periodStart); errors.Is(err, gorm.ErrRecordNotFound) {
		limit, err := s.repo.FindFeatureLimit(ctx, tl.LicenseID, feature.ID, usageType)
		if err != nil {
			log.Error("[Usage] failed to resolve feature limit", zap.Error(err))
			return
		}
		row.LimitValue = limit
	} else if err != nil {
		log.Error("[Usage] failed to load usage row", zap.Error(err))
		return
	}

	if err := s.repo.IncrementUsage(ctx, row, value); err != nil {
		log.Error("[Usage] failed to record usage", zap.Error(err))
		return
	}
	usageTracked.WithLabelValues(usageType).Inc()

	s.CheckUsageWarnings(ctx, tl.ID, feature.ID, usageType)
}

// CheckUsageWarnings fires every configured threshold the current-period
// usage has reached, not only the highest one.
func (s *Service) CheckUsageWarnings(ctx context.Context, tenantLicenseID, featureID, usageType string) []Warning {
	log := applog.Ctx(ctx).With(
		zap.String("tenant_license_id", tenantLicenseID),
		zap.String("usage_type", usageType),
	)

	periodStart, _ := license.Period(s.now())
	row, err := s.repo.FindUsage(ctx, tenantLicenseID, featureID, periodStart)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Error("[Usage] failed to load usage for warnings", zap.Error(err))
		}
		return nil
	}

	if row.LimitValue == nil || *row.LimitValue == 0 {
		return nil
	}

	percentage := row.PercentageUsed()
	p := s.holder.Get()

	var fired []Warning
	var tenantID string
	for _, th := range p.Enforcement.UsageWarnings.Thresholds {
		if percentage < th.Percentage {
			continue
		}

		w := Warning{
			UsageType:      usageType,
			PercentageUsed: percentage,
			Threshold:      th.Percentage,
			Level:          th.Level,
			Notify:         th.Notify,
		}
		fired = append(fired, w)
		usageWarnings.WithLabelValues(th.Level).Inc()
		log.Warn("[Usage] usage warning",
			zap.Float64("percentage_used", percentage),
			zap.Float64("threshold", th.Percentage),
			zap.String("level", th.Level),
			zap.Strings("notify", th.Notify),
		)

		if !th.CreateUpsellOpportunity || s.upsell == nil {
			continue
		}

		if tenantID == "" {
			tl, err := s.repo.GetTenantLicense(ctx, tenantLicenseID)
			if err != nil {
				log.Error("[Usage] failed to resolve tenant for upsell", zap.Error(err))
				continue
			}
			tenantID = tl.TenantID
		}
		s.upsell.Signal(ctx, entitlement.Signal{
			TenantID:       tenantID,
			UsageType:      usageType,
			PercentageUsed: percentage,
			Trigger:        entitlement.TriggerUsageWarning,
		})
	}

	return fired
}

// CheckUsageLimit enforces the current-period limit of usageType. Lookup
// failures always fail open.
func (s *Service) CheckUsageLimit(ctx context.Context, tenantID, usageType string) entitlement.Decision {
	tenantID = strings.TrimSpace(tenantID)
	usageType = strings.TrimSpace(usageType)
	if tenantID == "" || usageType == "" {
		return entitlement.Decision{
			Reason:     entitlement.ReasonInvalidRequest,
			Message:    "tenant and usage type are required",
			HTTPStatus: 400,
		}
	}

	info, err := s.repo.GetUsageLimit(ctx, tenantID, usageType, s.now())
	if err != nil {
		applog.Ctx(ctx).Error("[Usage] usage limit lookup failed",
			zap.String("tenant_id", tenantID),
			zap.String("usage_type", usageType),
			zap.Error(err),
		)
		return entitlement.Decision{Allowed: true, Fallback: true, Error: err}
	}

	if info.IsOverLimit {
		return s.enforcer.OverLimit(ctx, tenantID, usageType, info)
	}

	return entitlement.Decision{Allowed: true, UsageInfo: info}
}
