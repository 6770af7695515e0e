package renewal

import (
	"context"
	"testing"

	"grc-license-controlplane/pkg/policy"
	"grc-license-controlplane/services/license"
	"grc-license-controlplane/services/license/licensetest"

	"github.com/stretchr/testify/require"
)

func (h *harness) input(tl *license.TenantLicense, action policy.Action) ActionInput {
	return ActionInput{
		License:   tl,
		Milestone: policy.Milestone{DaysBefore: 90, Name: "early_renewal"},
		Action:    action,
		Policy:    h.holder.Get(),
		Now:       h.clock,
	}
}

const defaultsPolicy = `
defaults:
  default_price_increase_pct: 5
`

func TestCreateRenewalOpportunityIsIdempotent(t *testing.T) {
	h := newHarness(t, defaultsPolicy)
	tl := h.endingIn(t, "tenant-a", 90, licensetest.WithPrice(1000))
	action := policy.Action{Type: policy.ActionCreateRenewalOpportunity, AssignTo: "account_manager"}

	first, err := h.dispatcher.Handle(context.Background(), h.input(tl, action))
	require.NoError(t, err)
	require.Equal(t, "created", first["action"])
	require.InDelta(t, 1050.0, first["proposed_arr"], 0.001)

	second, err := h.dispatcher.Handle(context.Background(), h.input(tl, action))
	require.NoError(t, err)
	require.Equal(t, "already_exists", second["action"])
	require.Equal(t, first["opportunity_id"], second["opportunity_id"])

	var opps []license.RenewalOpportunity
	require.NoError(t, h.DB.Find(&opps).Error)
	require.Len(t, opps, 1)
	opp := opps[0]
	require.Equal(t, license.OpportunityOpen, opp.Status)
	require.Equal(t, "renewal", opp.RenewalType)
	require.Equal(t, "account_manager", opp.AssignedTo)
	require.InDelta(t, 50.0, opp.ValueChange, 0.001)
	require.True(t, opp.RenewalTargetDate.Equal(tl.EndDate.AddDate(0, 0, -30)))
}

func TestOpportunityPriceOverride(t *testing.T) {
	h := newHarness(t, defaultsPolicy)
	tl := h.endingIn(t, "tenant-a", 90, licensetest.WithPrice(2000))
	pct := 10.0

	res, err := h.dispatcher.Handle(context.Background(), h.input(tl, policy.Action{
		Type:             policy.ActionCreateRenewalOpportunity,
		PriceIncreasePct: &pct,
	}))
	require.NoError(t, err)
	require.InDelta(t, 2200.0, res["proposed_arr"], 0.001)
}

func TestCreatedOpportunityIsFlaggedInLog(t *testing.T) {
	h := newHarness(t, `
renewal_cadence:
  milestones:
    - days_before: 90
      actions:
        - type: create_renewal_opportunity
`)
	tl := h.endingIn(t, "tenant-a", 90)

	_, err := h.svc.ProcessRenewalPipeline(context.Background())
	require.NoError(t, err)

	logs := h.logs(t, tl.ID)
	require.Len(t, logs, 1)
	require.True(t, logs[0].OpportunityCreated)
	require.False(t, logs[0].EmailSent)
}

func TestGeneratePreQuote(t *testing.T) {
	h := newHarness(t, defaultsPolicy)
	tl := h.endingIn(t, "tenant-a", 60, licensetest.WithPrice(1000))

	res, err := h.dispatcher.Handle(context.Background(), h.input(tl, policy.Action{Type: policy.ActionGeneratePreQuote}))
	require.NoError(t, err)
	require.Equal(t, "pre_quote", res["quote_type"])
	require.InDelta(t, 1000.0, res["current_price"], 0.001)
	require.InDelta(t, 1050.0, res["new_price"], 0.001)
}

func TestSuspendLicense(t *testing.T) {
	h := newHarness(t, "")
	tl := h.endingIn(t, "tenant-a", 0)

	res, err := h.dispatcher.Handle(context.Background(), h.input(tl, policy.Action{
		Type:         policy.ActionSuspendLicense,
		KeepReadonly: true,
	}))
	require.NoError(t, err)
	require.Equal(t, Result{"suspended": true, "readonly_mode": true}, res)

	got, err := h.Repo.GetTenantLicense(context.Background(), tl.ID)
	require.NoError(t, err)
	require.Equal(t, license.StatusSuspended, got.Status)
	require.Equal(t, "Payment overdue - grace period expired", got.SuspendedReason)
	require.NotNil(t, got.SuspendedAt)
}

func TestStubActionsAcknowledge(t *testing.T) {
	h := newHarness(t, "")
	tl := h.endingIn(t, "tenant-a", 30)

	cases := map[policy.ActionType]Result{
		policy.ActionCreateProposal:         {"proposal_created": true},
		policy.ActionGenerateFinalQuote:     {"quote_generated": true},
		policy.ActionCreateProformaInvoice:  {"invoice_created": true},
		policy.ActionCreateTask:             {"task_created": true},
		policy.ActionScheduleSuccessCheckin: {"checkin_scheduled": true},
		policy.ActionCheckPaymentStatus:     {"payment_status": "pending"},
		policy.ActionEnableGracePeriod:      {"grace_enabled": true, "grace_days": 7},
		policy.ActionCreateChurnTask:        {"churn_task_created": true},
		policy.ActionSuspendAllFeatures:     {"all_features_suspended": true},
		policy.ActionCreateEscalationCase:   {"escalation_case_created": true},
		policy.ActionSendEmail:              {"email_sent": true, "template": "", "recipients": []string{}},
	}

	for actionType, want := range cases {
		t.Run(string(actionType), func(t *testing.T) {
			res, err := h.dispatcher.Handle(context.Background(), h.input(tl, policy.Action{Type: actionType}))
			require.NoError(t, err)
			require.Equal(t, want, res)
		})
	}

	res, err := h.dispatcher.Handle(context.Background(), h.input(tl, policy.Action{
		Type:      policy.ActionEnableGracePeriod,
		GraceDays: 14,
	}))
	require.NoError(t, err)
	require.Equal(t, 14, res["grace_days"])
}

func TestHandleUnknownAction(t *testing.T) {
	h := newHarness(t, "")
	tl := h.endingIn(t, "tenant-a", 30)

	require.False(t, h.dispatcher.Has("fax_contract"))
	_, err := h.dispatcher.Handle(context.Background(), h.input(tl, policy.Action{Type: "fax_contract"}))
	require.ErrorContains(t, err, "fax_contract")
}
