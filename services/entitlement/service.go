package entitlement

import (
	"context"
	"strings"
	"time"

	applog "grc-license-controlplane/pkg/logger"
	"grc-license-controlplane/pkg/policy"
	"grc-license-controlplane/services/license"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Store is the entitlement lookup the resolver depends on.
type Store interface {
	GetEntitlement(ctx context.Context, tenantID, featureCode string) (*license.Entitlement, error)
}

const lookupTimeout = 5 * time.Second

type Service struct {
	store    Store
	holder   *policy.Holder
	enforcer *Enforcer
	group    singleflight.Group
	now      func() time.Time
}

type ServiceParams struct {
	fx.In

	Repo     license.Repository
	Holder   *policy.Holder
	Enforcer *Enforcer
}

func NewService(p ServiceParams) *Service {
	return New(p.Repo, p.Holder, p.Enforcer)
}

func New(store Store, holder *policy.Holder, enforcer *Enforcer) *Service {
	return &Service{
		store:    store,
		holder:   holder,
		enforcer: enforcer,
		now:      time.Now,
	}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CheckEntitlement decides whether tenantID may use featureCode. Lookup
// failures fail open unless the enforcement mode is strict.
func (s *Service) CheckEntitlement(ctx context.Context, tenantID, featureCode string) Decision {
	d := s.check(ctx, tenantID, featureCode)
	observe(d)
	return d
}

func (s *Service) check(ctx context.Context, tenantID, featureCode string) Decision {
	tenantID = strings.TrimSpace(tenantID)
	featureCode = strings.TrimSpace(featureCode)
	if tenantID == "" || featureCode == "" {
		return Decision{
			Reason:     ReasonInvalidRequest,
			Message:    "tenant and feature code are required",
			HTTPStatus: 400,
		}
	}

	ent, err := s.lookup(ctx, tenantID, featureCode)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			// The caller went away; its answer is never delivered and must
			// not grant access.
			return Decision{
				Reason:  ReasonLookupFailed,
				Message: "request cancelled",
				Error:   ctxErr,
			}
		}
		return s.fallback(ctx, tenantID, featureCode, err)
	}

	if !ent.Licensed {
		return s.enforcer.Unlicensed(ctx, tenantID, featureCode)
	}

	if ent.EndDate != nil && ent.EndDate.Before(s.now()) {
		return s.enforcer.Expired(ctx, tenantID, featureCode)
	}

	if ent.Status == license.StatusSuspended {
		return s.enforcer.Suspended(ctx, tenantID, featureCode)
	}

	return Decision{
		Allowed:     true,
		Licensed:    true,
		Status:      ent.Status,
		LicenseName: ent.LicenseName,
		EndDate:     ent.EndDate,
	}
}

// lookup coalesces concurrent identical lookups into one query. The shared
// query outlives any single caller and is bounded by lookupTimeout.
func (s *Service) lookup(ctx context.Context, tenantID, featureCode string) (*license.Entitlement, error) {
	shared := context.WithoutCancel(ctx)
	ch := s.group.DoChan(tenantID+"\x00"+featureCode, func() (any, error) {
		lctx, cancel := context.WithTimeout(shared, lookupTimeout)
		defer cancel()
		return s.store.GetEntitlement(lctx, tenantID, featureCode)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}

	ent, _ := res.Val.(*license.Entitlement)
	if ent == nil {
		ent = &license.Entitlement{}
	}
	return ent, nil
}

func (s *Service) fallback(ctx context.Context, tenantID, featureCode string, err error) Decision {
	lookupFailures.Inc()

	strict := s.holder.Get().Strict()
	applog.Ctx(ctx).Error("[Usage] entitlement lookup failed",
		zap.String("tenant_id", tenantID),
		zap.String("feature_code", featureCode),
		zap.Bool("fail_closed", strict),
		zap.Error(err),
	)

	if strict {
		return Decision{
			Allowed: false,
			Reason:  ReasonLookupFailed,
			Message: "Unable to verify license",
			Error:   err,
		}
	}

	return Decision{Allowed: true, Fallback: true, Error: err}
}
