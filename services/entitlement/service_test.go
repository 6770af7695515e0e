package entitlement

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"grc-license-controlplane/pkg/policy"
	"grc-license-controlplane/services/license"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var now = time.Date(2026, 5, 15, 9, 0, 0, 0, time.UTC)

type fakeStore struct {
	getEntitlementFn func(ctx context.Context, tenantID, featureCode string) (*license.Entitlement, error)
}

func (f *fakeStore) GetEntitlement(ctx context.Context, tenantID, featureCode string) (*license.Entitlement, error) {
	return f.getEntitlementFn(ctx, tenantID, featureCode)
}

type recordingAuditor struct {
	mu       sync.Mutex
	attempts []Attempt
}

func (r *recordingAuditor) Record(_ context.Context, a Attempt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, a)
}

type recordingUpsell struct {
	signals []Signal
}

func (r *recordingUpsell) Signal(_ context.Context, s Signal) {
	r.signals = append(r.signals, s)
}

const testPolicy = `
enforcement:
  mode: permissive
  feature_gates:
    - feature_code: reports
      enforcement_type: soft
      unlicensed_behavior: allow_with_watermark
      limit_features: [export]
    - feature_code: ai
      unlicensed_behavior: block_with_message
      message: Upgrade for AI
      suggest_upgrade: true
    - feature_code: sso
      unlicensed_behavior: block_with_message
      http_status: 451
    - feature_code: integrations
      unlicensed_behavior: redirect_to_upgrade
    - feature_code: risks
      unlicensed_behavior: hide_ui_routes
      routes: [/risks]
    - feature_code: beta_soft
      enforcement_type: soft
      unlicensed_behavior: something_new
    - feature_code: beta_hard
      enforcement_type: hard
      unlicensed_behavior: something_new
    - limit_type: users
      enforcement_type: hard
      over_limit_behavior: prevent_creation
    - limit_type: storage_gb
      over_limit_behavior: allow_with_warning
    - limit_type: api_calls
      over_limit_behavior: throttle
      throttle_rate: 10
    - limit_type: seats_soft
      enforcement_type: soft
      over_limit_behavior: mystery
  grace_period:
    enabled: true
    readonly_features: [dashboard]
  audit:
    log_failed_checks_only: true
upsell_signals:
  enabled: true
  auto_create_opportunities: true
`

func mustPolicy(t *testing.T, doc string) *policy.Policy {
	t.Helper()
	p, err := policy.Parse([]byte(doc))
	require.NoError(t, err)
	return p
}

type harness struct {
	svc     *Service
	holder  *policy.Holder
	auditor *recordingAuditor
	upsell  *recordingUpsell
	store   *fakeStore
}

func newHarness(t *testing.T, doc string, ent *license.Entitlement, err error) *harness {
	t.Helper()

	h := &harness{
		holder:  policy.NewHolder(mustPolicy(t, doc)),
		auditor: &recordingAuditor{},
		upsell:  &recordingUpsell{},
		store: &fakeStore{getEntitlementFn: func(context.Context, string, string) (*license.Entitlement, error) {
			return ent, err
		}},
	}
	enforcer := NewEnforcer(h.holder, h.auditor, h.upsell)
	h.svc = New(h.store, h.holder, enforcer).WithClock(func() time.Time { return now })
	return h
}

func timePtr(t time.Time) *time.Time { return &t }

func TestCheckEntitlementUnlicensedWithoutGate(t *testing.T) {
	for _, feature := range []string{"export", "audit_trail", "custom"} {
		h := newHarness(t, testPolicy, &license.Entitlement{Licensed: false}, nil)
		d := h.svc.CheckEntitlement(context.Background(), "tenant-a", feature)

		require.False(t, d.Allowed)
		require.Equal(t, 402, d.HTTPStatus)
		require.Equal(t, ReasonUnlicensed, d.Reason)
		require.Equal(t, "Feature "+feature+" requires an active license", d.Message)
	}
}

func TestCheckEntitlementWatermark(t *testing.T) {
	h := newHarness(t, testPolicy, &license.Entitlement{Licensed: false}, nil)

	d := h.svc.CheckEntitlement(context.Background(), "tenant-a", "reports")
	require.True(t, d.Allowed)
	require.True(t, d.Watermark)
	require.Equal(t, []string{"export"}, d.LimitedFeatures)
	require.Equal(t, ReasonUnlicensed, d.Reason)

	require.Empty(t, h.auditor.attempts, "allowed attempts are not audited when only failures are logged")
}

func TestCheckEntitlementUnlicensedBehaviors(t *testing.T) {
	h := newHarness(t, testPolicy, &license.Entitlement{Licensed: false}, nil)
	ctx := context.Background()

	d := h.svc.CheckEntitlement(ctx, "tenant-a", "ai")
	require.False(t, d.Allowed)
	require.Equal(t, 402, d.HTTPStatus)
	require.Equal(t, "Upgrade for AI", d.Message)
	require.True(t, d.SuggestUpgrade)

	d = h.svc.CheckEntitlement(ctx, "tenant-a", "sso")
	require.Equal(t, 451, d.HTTPStatus)
	require.False(t, d.SuggestUpgrade)

	d = h.svc.CheckEntitlement(ctx, "tenant-a", "integrations")
	require.False(t, d.Allowed)
	require.Equal(t, 302, d.HTTPStatus)
	require.Equal(t, policy.DefaultUpgradePage, d.RedirectTo)

	d = h.svc.CheckEntitlement(ctx, "tenant-a", "risks")
	require.False(t, d.Allowed)
	require.Equal(t, 403, d.HTTPStatus)
	require.Equal(t, []string{"/risks"}, d.HideRoutes)

	d = h.svc.CheckEntitlement(ctx, "tenant-a", "beta_soft")
	require.True(t, d.Allowed)
	require.Equal(t, policy.EnforcementSoft, d.Enforcement)

	d = h.svc.CheckEntitlement(ctx, "tenant-a", "beta_hard")
	require.False(t, d.Allowed)
	require.Equal(t, policy.EnforcementHard, d.Enforcement)

	require.Len(t, h.auditor.attempts, 5)
	for _, a := range h.auditor.attempts {
		require.Equal(t, ReasonUnlicensed, a.Reason)
		require.False(t, a.Allowed)
	}
}

func TestAuditLogsAllowedAttemptsWhenConfigured(t *testing.T) {
	doc := `
enforcement:
  feature_gates:
    - feature_code: reports
      unlicensed_behavior: allow_with_watermark
  audit:
    log_failed_checks_only: false
`
	h := newHarness(t, doc, &license.Entitlement{Licensed: false}, nil)
	d := h.svc.CheckEntitlement(context.Background(), "tenant-a", "reports")
	require.True(t, d.Allowed)
	require.Equal(t, []Attempt{{TenantID: "tenant-a", Subject: "reports", Reason: ReasonUnlicensed, Allowed: true}}, h.auditor.attempts)
}

func TestCheckEntitlementValid(t *testing.T) {
	end := now.AddDate(0, 6, 0)
	h := newHarness(t, testPolicy, &license.Entitlement{
		Licensed:    true,
		Status:      license.StatusActive,
		EndDate:     timePtr(end),
		LicenseName: "Professional",
	}, nil)

	d := h.svc.CheckEntitlement(context.Background(), "tenant-a", "reports")
	require.True(t, d.Allowed)
	require.True(t, d.Licensed)
	require.Equal(t, license.StatusActive, d.Status)
	require.Equal(t, "Professional", d.LicenseName)
	require.Equal(t, end, *d.EndDate)
	require.Empty(t, h.auditor.attempts)
}

func TestCheckEntitlementExpiredGracePeriod(t *testing.T) {
	h := newHarness(t, testPolicy, &license.Entitlement{
		Licensed: true,
		Status:   license.StatusActive,
		EndDate:  timePtr(now.AddDate(0, 0, -1)),
	}, nil)
	ctx := context.Background()

	d := h.svc.CheckEntitlement(ctx, "tenant-a", "dashboard")
	require.True(t, d.Allowed)
	require.True(t, d.Readonly)
	require.Equal(t, ReasonExpiredGracePeriod, d.Reason)

	d = h.svc.CheckEntitlement(ctx, "tenant-a", "export")
	require.False(t, d.Allowed)
	require.Equal(t, ReasonExpired, d.Reason)
	require.Equal(t, 402, d.HTTPStatus)
}

func TestCheckEntitlementExpiredWithoutGrace(t *testing.T) {
	doc := `
enforcement:
  grace_period:
    enabled: false
    readonly_features: [dashboard]
`
	h := newHarness(t, doc, &license.Entitlement{
		Licensed: true,
		Status:   license.StatusActive,
		EndDate:  timePtr(now.Add(-time.Minute)),
	}, nil)

	d := h.svc.CheckEntitlement(context.Background(), "tenant-a", "dashboard")
	require.False(t, d.Allowed)
	require.Equal(t, ReasonExpired, d.Reason)
}

func TestCheckEntitlementSuspended(t *testing.T) {
	h := newHarness(t, testPolicy, &license.Entitlement{
		Licensed: true,
		Status:   license.StatusSuspended,
		EndDate:  timePtr(now.AddDate(0, 1, 0)),
	}, nil)

	d := h.svc.CheckEntitlement(context.Background(), "tenant-a", "reports")
	require.False(t, d.Allowed)
	require.Equal(t, ReasonSuspended, d.Reason)
	require.Equal(t, 403, d.HTTPStatus)
	require.Equal(t, "License is suspended. Please contact support.", d.Message)
}

func TestCheckEntitlementLookupFailure(t *testing.T) {
	boom := errors.New("database unreachable")

	h := newHarness(t, testPolicy, nil, boom)
	d := h.svc.CheckEntitlement(context.Background(), "tenant-a", "reports")
	require.True(t, d.Allowed)
	require.True(t, d.Fallback)
	require.ErrorIs(t, d.Error, boom)

	strict := newHarness(t, "enforcement:\n  mode: strict\n", nil, boom)
	d = strict.svc.CheckEntitlement(context.Background(), "tenant-a", "reports")
	require.False(t, d.Allowed)
	require.False(t, d.Fallback)
	require.ErrorIs(t, d.Error, boom)
	require.Equal(t, ReasonLookupFailed, d.Reason)
}

func TestCheckEntitlementFollowsPolicyReload(t *testing.T) {
	boom := errors.New("timeout")
	h := newHarness(t, testPolicy, nil, boom)
	require.True(t, h.svc.CheckEntitlement(context.Background(), "t", "f").Allowed)

	h.holder.Set(mustPolicy(t, "enforcement:\n  mode: strict\n"))
	require.False(t, h.svc.CheckEntitlement(context.Background(), "t", "f").Allowed)
}

func TestCheckEntitlementInvalidRequest(t *testing.T) {
	h := newHarness(t, testPolicy, &license.Entitlement{Licensed: true}, nil)

	for _, tc := range [][2]string{{"", "reports"}, {"tenant-a", ""}, {"  ", " "}} {
		d := h.svc.CheckEntitlement(context.Background(), tc[0], tc[1])
		require.False(t, d.Allowed)
		require.Equal(t, ReasonInvalidRequest, d.Reason)
		require.Equal(t, 400, d.HTTPStatus)
	}
}

func TestCheckEntitlementCoalescesConcurrentLookups(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})

	h := newHarness(t, testPolicy, nil, nil)
	h.store.getEntitlementFn = func(context.Context, string, string) (*license.Entitlement, error) {
		calls.Add(1)
		<-release
		return &license.Entitlement{Licensed: true, Status: license.StatusActive, EndDate: timePtr(now.AddDate(1, 0, 0))}, nil
	}

	const n = 8
	var wg sync.WaitGroup
	results := make([]Decision, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = h.svc.CheckEntitlement(context.Background(), "tenant-a", "reports")
		}(i)
	}

	require.Eventually(t, func() bool { return calls.Load() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Less(t, int(calls.Load()), n)
	for _, d := range results {
		require.True(t, d.Allowed)
	}
}

func TestCheckEntitlementSharedLookupSurvivesCallerCancel(t *testing.T) {
	for _, mode := range []string{"strict", "permissive"} {
		t.Run(mode, func(t *testing.T) {
			var calls atomic.Int32
			release := make(chan struct{})

			h := newHarness(t, "enforcement:\n  mode: "+mode+"\n", nil, nil)
			h.store.getEntitlementFn = func(ctx context.Context, _, _ string) (*license.Entitlement, error) {
				calls.Add(1)
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-release:
				}
				return &license.Entitlement{Licensed: true, Status: license.StatusActive, EndDate: timePtr(now.AddDate(1, 0, 0))}, nil
			}

			first, cancel := context.WithCancel(context.Background())
			firstDone := make(chan Decision, 1)
			go func() { firstDone <- h.svc.CheckEntitlement(first, "tenant-a", "reports") }()
			require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

			secondDone := make(chan Decision, 1)
			go func() { secondDone <- h.svc.CheckEntitlement(context.Background(), "tenant-a", "reports") }()
			time.Sleep(20 * time.Millisecond)

			cancel()
			cancelled := <-firstDone
			require.False(t, cancelled.Allowed)
			require.False(t, cancelled.Fallback)
			require.ErrorIs(t, cancelled.Error, context.Canceled)

			close(release)
			live := <-secondDone
			require.True(t, live.Allowed)
			require.True(t, live.Licensed)
			require.False(t, live.Fallback)
			require.NoError(t, live.Error)
			require.Equal(t, int32(1), calls.Load())
		})
	}
}
