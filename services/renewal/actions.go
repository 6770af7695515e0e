package renewal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"grc-license-controlplane/pkg/policy"
	"grc-license-controlplane/services/license"

	"gorm.io/gorm"
)

const suspendedReason = "Payment overdue - grace period expired"

// Result is the acknowledgement an action returns. It is stored as execution
// metadata.
type Result map[string]any

// ActionInput is everything an action handler may read.
type ActionInput struct {
	License         *license.TenantLicense
	Milestone       policy.Milestone
	Action          policy.Action
	Policy          *policy.Policy
	DaysUntilExpiry int
	Now             time.Time
}

type ActionHandler func(ctx context.Context, in ActionInput) (Result, error)

// Dispatcher routes an action type to its handler.
type Dispatcher struct {
	repo     license.Repository
	handlers map[policy.ActionType]ActionHandler
}

func NewDispatcher(repo license.Repository) *Dispatcher {
	d := &Dispatcher{
		repo:     repo,
		handlers: map[policy.ActionType]ActionHandler{},
	}

	d.Register(policy.ActionCreateRenewalOpportunity, d.createRenewalOpportunity)
	d.Register(policy.ActionGeneratePreQuote, generatePreQuote)
	d.Register(policy.ActionSendEmail, sendEmail)
	d.Register(policy.ActionAutoRenew, d.autoRenew)
	d.Register(policy.ActionSuspendLicense, d.suspendLicense)
	d.Register(policy.ActionEnableGracePeriod, enableGracePeriod)

	d.Register(policy.ActionCreateProposal, ack("proposal_created", true))
	d.Register(policy.ActionGenerateFinalQuote, ack("quote_generated", true))
	d.Register(policy.ActionCreateProformaInvoice, ack("invoice_created", true))
	d.Register(policy.ActionCreateTask, ack("task_created", true))
	d.Register(policy.ActionScheduleSuccessCheckin, ack("checkin_scheduled", true))
	d.Register(policy.ActionCheckPaymentStatus, ack("payment_status", "pending"))
	d.Register(policy.ActionCreateChurnTask, ack("churn_task_created", true))
	d.Register(policy.ActionSuspendAllFeatures, ack("all_features_suspended", true))
	d.Register(policy.ActionCreateEscalationCase, ack("escalation_case_created", true))

	return d
}

// Register replaces any handler already bound to t.
func (d *Dispatcher) Register(t policy.ActionType, h ActionHandler) {
	d.handlers[t] = h
}

func (d *Dispatcher) Has(t policy.ActionType) bool {
	_, ok := d.handlers[t]
	return ok
}

func (d *Dispatcher) Handle(ctx context.Context, in ActionInput) (Result, error) {
	h, ok := d.handlers[in.Action.Type]
	if !ok {
		return nil, fmt.Errorf("unknown action type %q", in.Action.Type)
	}
	return h(ctx, in)
}

func ack(key string, value any) ActionHandler {
	return func(ctx context.Context, in ActionInput) (Result, error) {
		return Result{key: value}, nil
	}
}

func increasePct(in ActionInput) float64 {
	if in.Action.PriceIncreasePct != nil {
		return *in.Action.PriceIncreasePct
	}
	if in.Policy != nil {
		return in.Policy.Defaults.DefaultPriceIncreasePct
	}
	return 0
}

func (d *Dispatcher) createRenewalOpportunity(ctx context.Context, in ActionInput) (Result, error) {
	tl := in.License

	existing, err := d.repo.FindOpenOpportunity(ctx, tl.ID)
	if err == nil {
		return Result{"action": "already_exists", "opportunity_id": existing.ID}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("find open opportunity: %w", err)
	}

	pct := increasePct(in)
	proposed := tl.PricePaid * (1 + pct/100)

	opp := &license.RenewalOpportunity{
		TenantLicenseID:   tl.ID,
		TenantID:          tl.TenantID,
		Status:            license.OpportunityOpen,
		RenewalType:       "renewal",
		CurrentARR:        tl.PricePaid,
		ProposedARR:       proposed,
		ValueChange:       proposed - tl.PricePaid,
		PriceIncreasePct:  pct,
		LicenseEndDate:    tl.EndDate,
		RenewalTargetDate: tl.EndDate.AddDate(0, 0, -30),
		AssignedTo:        in.Action.AssignTo,
	}
	if err := d.repo.CreateOpportunity(ctx, opp); err != nil {
		return nil, fmt.Errorf("create opportunity: %w", err)
	}

	return Result{
		"action":         "created",
		"opportunity_id": opp.ID,
		"proposed_arr":   proposed,
	}, nil
}

func generatePreQuote(ctx context.Context, in ActionInput) (Result, error) {
	pct := increasePct(in)
	return Result{
		"quote_type":    "pre_quote",
		"current_price": in.License.PricePaid,
		"new_price":     in.License.PricePaid * (1 + pct/100),
		"increase_pct":  pct,
	}, nil
}

func sendEmail(ctx context.Context, in ActionInput) (Result, error) {
	recipients := in.Action.Recipients
	if recipients == nil {
		recipients = []string{}
	}
	return Result{
		"email_sent": true,
		"template":   in.Action.Template,
		"recipients": recipients,
	}, nil
}

// autoRenew extends the term by one year from the current end date. The
// in-memory license is updated too so later actions see the new term.
func (d *Dispatcher) autoRenew(ctx context.Context, in ActionInput) (Result, error) {
	tl := in.License
	if !tl.AutoRenew {
		return Result{"renewed": false}, nil
	}

	start := tl.EndDate.AddDate(0, 0, 1)
	end := tl.EndDate.AddDate(1, 0, 0)
	now := in.Now

	err := d.repo.UpdateLicense(ctx, tl.ID, map[string]any{
		"start_date":        start,
		"end_date":          end,
		"last_renewal_date": now,
		"status":            license.StatusActive,
	})
	if err != nil {
		return nil, fmt.Errorf("renew license: %w", err)
	}

	tl.StartDate = start
	tl.EndDate = end
	tl.LastRenewalDate = &now
	tl.Status = license.StatusActive

	return Result{
		"renewed":        true,
		"new_start_date": start.Format(time.RFC3339),
		"new_end_date":   end.Format(time.RFC3339),
	}, nil
}

func (d *Dispatcher) suspendLicense(ctx context.Context, in ActionInput) (Result, error) {
	tl := in.License
	now := in.Now

	err := d.repo.UpdateLicense(ctx, tl.ID, map[string]any{
		"status":           license.StatusSuspended,
		"suspended_at":     now,
		"suspended_reason": suspendedReason,
	})
	if err != nil {
		return nil, fmt.Errorf("suspend license: %w", err)
	}

	tl.Status = license.StatusSuspended
	tl.SuspendedAt = &now
	tl.SuspendedReason = suspendedReason

	return Result{
		"suspended":     true,
		"readonly_mode": in.Action.KeepReadonly,
	}, nil
}

func enableGracePeriod(ctx context.Context, in ActionInput) (Result, error) {
	days := in.Action.GraceDays
	if days == 0 {
		days = 7
	}
	return Result{"grace_enabled": true, "grace_days": days}, nil
}
