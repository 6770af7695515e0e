package renewal

import (
	"context"
	"fmt"
	"math"
	"time"

	applog "grc-license-controlplane/pkg/logger"
	"grc-license-controlplane/pkg/policy"
	"grc-license-controlplane/services/license"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const (
	// milestoneTolerance absorbs a missed or late daily run.
	milestoneTolerance = 1
	triggeredBySystem  = "system"
)

var (
	actionsExecuted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "license_renewal_actions_total",
		Help: "Renewal actions executed by action type and outcome.",
	}, []string{"action", "status"})
	licensesExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "license_expired_total",
		Help: "Licenses flipped to expired after their end date.",
	})
)

func init() {
	prometheus.MustRegister(actionsExecuted, licensesExpired)
}

// MilestoneReport summarises one milestone pass.
type MilestoneReport struct {
	DaysBefore int    `json:"days_before"`
	Name       string `json:"name"`
	// Matched licenses within tolerance of the milestone.
	Matched int `json:"matched"`
	// AlreadyProcessed licenses skipped by the milestone idempotency guard.
	AlreadyProcessed int `json:"already_processed"`
	Executed         int `json:"executed"`
	Failed           int `json:"failed"`
	// Skipped actions: condition false, unknown type or already succeeded.
	Skipped int `json:"skipped"`
}

type Service struct {
	repo       license.Repository
	holder     *policy.Holder
	dispatcher *Dispatcher
	condition  *Condition
	now        func() time.Time
}

type ServiceParams struct {
	fx.In

	Repo       license.Repository
	Holder     *policy.Holder
	Dispatcher *Dispatcher
	Condition  *Condition
}

func NewService(p ServiceParams) *Service {
	return New(p.Repo, p.Holder, p.Dispatcher, p.Condition)
}

func New(repo license.Repository, holder *policy.Holder, dispatcher *Dispatcher, condition *Condition) *Service {
	return &Service{
		repo:       repo,
		holder:     holder,
		dispatcher: dispatcher,
		condition:  condition,
		now:        time.Now,
	}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// DaysUntil rounds the remaining time up to whole days.
func DaysUntil(end, now time.Time) int {
	return int(math.Ceil(end.Sub(now).Hours() / 24))
}

// ProcessRenewalPipeline runs every configured milestone, in order, over the
// active licenses ending inside the lookahead window.
func (s *Service) ProcessRenewalPipeline(ctx context.Context) ([]MilestoneReport, error) {
	p := s.holder.Get()
	now := s.now().UTC()

	licenses, err := s.repo.ListUpcomingRenewals(ctx, now, now.Add(p.RenewalCadence.Lookahead()))
	if err != nil {
		applog.Ctx(ctx).Error("[Renewal] failed to load upcoming renewals", zap.Error(err))
		return nil, fmt.Errorf("list upcoming renewals: %w", err)
	}

	applog.Ctx(ctx).Info("[Renewal] pipeline started",
		zap.Int("licenses", len(licenses)),
		zap.Int("milestones", len(p.RenewalCadence.Milestones)),
	)

	reports := make([]MilestoneReport, 0, len(p.RenewalCadence.Milestones))
	for _, m := range p.RenewalCadence.Milestones {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		reports = append(reports, s.processMilestone(ctx, p, now, m, licenses))
	}

	return reports, nil
}

// ProcessMilestone runs a single milestone against licenses using the current
// policy.
func (s *Service) ProcessMilestone(ctx context.Context, m policy.Milestone, licenses []license.TenantLicense) MilestoneReport {
	return s.processMilestone(ctx, s.holder.Get(), s.now().UTC(), m, licenses)
}

func (s *Service) processMilestone(ctx context.Context, p *policy.Policy, now time.Time, m policy.Milestone, licenses []license.TenantLicense) MilestoneReport {
	report := MilestoneReport{DaysBefore: m.DaysBefore, Name: m.Name}
	scope := p.RenewalCadence.IdempotencyScope
	if scope == "" {
		scope = policy.ScopeMilestone
	}

	for i := range licenses {
		tl := &licenses[i]
		days := DaysUntil(tl.EndDate, now)
		if abs(days-m.DaysBefore) > milestoneTolerance {
			continue
		}
		report.Matched++

		log := applog.Ctx(applog.WithTenant(ctx, tl.TenantID)).With(
			zap.String("tenant_license_id", tl.ID),
			zap.Int("days_before", m.DaysBefore),
			zap.Int("days_until_expiry", days),
		)

		if scope == policy.ScopeMilestone {
			done, err := s.repo.HasSuccessfulExecution(ctx, tl.ID, m.DaysBefore, "")
			if err != nil {
				log.Warn("[Renewal] idempotency check failed, processing anyway", zap.Error(err))
			} else if done {
				report.AlreadyProcessed++
				continue
			}
		}

		for _, action := range m.Actions {
			in := ActionInput{
				License:         tl,
				Milestone:       m,
				Action:          action,
				Policy:          p,
				DaysUntilExpiry: days,
				Now:             now,
			}
			switch s.runAction(ctx, log, scope, in) {
			case outcomeExecuted:
				report.Executed++
			case outcomeFailed:
				report.Failed++
			default:
				report.Skipped++
			}
		}
	}

	applog.Ctx(ctx).Info("[Renewal] milestone processed",
		zap.String("milestone", m.Name),
		zap.Int("days_before", m.DaysBefore),
		zap.Int("matched", report.Matched),
		zap.Int("already_processed", report.AlreadyProcessed),
		zap.Int("executed", report.Executed),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped),
	)
	return report
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeExecuted
	outcomeFailed
)

func (s *Service) runAction(ctx context.Context, log *zap.Logger, scope policy.IdempotencyScope, in ActionInput) outcome {
	actionType := in.Action.Type
	log = log.With(zap.String("action", string(actionType)))

	if !s.dispatcher.Has(actionType) {
		log.Warn("[Renewal] unknown action type, skipping")
		return outcomeSkipped
	}

	if scope == policy.ScopeAction {
		done, err := s.repo.HasSuccessfulExecution(ctx, in.License.ID, in.Milestone.DaysBefore, string(actionType))
		if err != nil {
			log.Warn("[Renewal] idempotency check failed, processing anyway", zap.Error(err))
		} else if done {
			return outcomeSkipped
		}
	}

	if in.Action.When != "" {
		ok, err := s.condition.Evaluate(in.Action.When, conditionVars(in))
		if err != nil {
			s.recordFailure(ctx, log, in, fmt.Errorf("evaluate when %q: %w", in.Action.When, err))
			return outcomeFailed
		}
		if !ok {
			log.Info("[Renewal] condition not met, skipping", zap.String("when", in.Action.When))
			return outcomeSkipped
		}
	}

	result, err := s.dispatcher.Handle(ctx, in)
	if err != nil {
		s.recordFailure(ctx, log, in, err)
		return outcomeFailed
	}

	if err := s.recordSuccess(ctx, in, result); err != nil {
		log.Error("[Renewal] failed to record action", zap.Error(err))
		actionsExecuted.WithLabelValues(string(actionType), string(license.ExecutionFailed)).Inc()
		return outcomeFailed
	}

	actionsExecuted.WithLabelValues(string(actionType), string(license.ExecutionSuccess)).Inc()
	log.Info("[Renewal] action executed")
	return outcomeExecuted
}

func conditionVars(in ActionInput) map[string]any {
	return map[string]any{
		"tenant_id":         in.License.TenantID,
		"status":            string(in.License.Status),
		"auto_renew":        in.License.AutoRenew,
		"price_paid":        in.License.PricePaid,
		"days_until_expiry": int64(in.DaysUntilExpiry),
		"days_before":       int64(in.Milestone.DaysBefore),
	}
}

func (s *Service) recordSuccess(ctx context.Context, in ActionInput, result Result) error {
	actionType := in.Action.Type
	metadata := datatypes.JSONMap(result)

	entry := &license.DunningExecutionLog{
		TenantLicenseID:    in.License.ID,
		DaysUntilExpiry:    in.Milestone.DaysBefore,
		ActionTaken:        string(actionType),
		Status:             license.ExecutionSuccess,
		EmailSent:          actionType == policy.ActionSendEmail,
		OpportunityCreated: actionType == policy.ActionCreateRenewalOpportunity && result["action"] == "created",
		Metadata:           metadata,
	}
	if err := s.repo.LogExecution(ctx, entry); err != nil {
		return fmt.Errorf("log execution: %w", err)
	}

	event := &license.LicenseEvent{
		TenantLicenseID: in.License.ID,
		TenantID:        in.License.TenantID,
		EventType:       "renewal_action_" + string(actionType),
		EventStatus:     string(license.ExecutionSuccess),
		TriggeredBy:     triggeredBySystem,
		Metadata:        metadata,
	}
	if err := s.repo.CreateEvent(ctx, event); err != nil {
		return fmt.Errorf("create event: %w", err)
	}
	return nil
}

func (s *Service) recordFailure(ctx context.Context, log *zap.Logger, in ActionInput, cause error) {
	log.Error("[Renewal] action failed", zap.Error(cause))
	actionsExecuted.WithLabelValues(string(in.Action.Type), string(license.ExecutionFailed)).Inc()

	entry := &license.DunningExecutionLog{
		TenantLicenseID: in.License.ID,
		DaysUntilExpiry: in.Milestone.DaysBefore,
		ActionTaken:     string(in.Action.Type),
		Status:          license.ExecutionFailed,
		ErrorMessage:    cause.Error(),
	}
	if err := s.repo.LogExecution(ctx, entry); err != nil {
		log.Error("[Renewal] failed to record action failure", zap.Error(err))
	}
}

// ExpireLapsed marks active licenses past their end date as expired.
func (s *Service) ExpireLapsed(ctx context.Context) (int64, error) {
	lapsed, err := s.repo.ExpireLapsed(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("expire lapsed licenses: %w", err)
	}

	for _, tl := range lapsed {
		applog.Ctx(applog.WithTenant(ctx, tl.TenantID)).Info("[Renewal] license expired",
			zap.String("tenant_license_id", tl.ID),
			zap.Time("end_date", tl.EndDate),
		)
	}
	licensesExpired.Add(float64(len(lapsed)))
	return int64(len(lapsed)), nil
}

// Run is one full nightly pass: the milestone pipeline, then expiry.
func (s *Service) Run(ctx context.Context) error {
	start := s.now()

	reports, err := s.ProcessRenewalPipeline(ctx)
	if err != nil {
		return err
	}

	expired, err := s.ExpireLapsed(ctx)
	if err != nil {
		return err
	}

	var executed, failed int
	for _, r := range reports {
		executed += r.Executed
		failed += r.Failed
	}

	applog.Ctx(ctx).Info("[Renewal] run finished",
		zap.Int("actions_executed", executed),
		zap.Int("actions_failed", failed),
		zap.Int64("expired", expired),
		zap.Duration("duration", s.now().Sub(start)),
	)
	return nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
