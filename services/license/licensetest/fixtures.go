// Package licensetest seeds license rows for tests.
package licensetest

import (
	"testing"
	"time"

	"grc-license-controlplane/services/license"
	"grc-license-controlplane/services/testutil"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Fixture struct {
	t    *testing.T
	DB   *gorm.DB
	Node *snowflake.Node
	Repo license.Repository
}

// New opens a migrated in-memory database and a repository on top of it.
func New(t *testing.T) *Fixture {
	t.Helper()

	db := testutil.NewTestDB(t, license.Models()...)
	node := testutil.NewNode(t)
	return &Fixture{t: t, DB: db, Node: node, Repo: license.NewRepository(db, node)}
}

func (f *Fixture) id() string {
	return f.Node.Generate().String()
}

func (f *Fixture) create(v any) {
	f.t.Helper()
	if err := f.DB.Create(v).Error; err != nil {
		f.t.Fatalf("seed %T: %v", v, err)
	}
}

func (f *Fixture) SKU(code string, price float64) *license.License {
	f.t.Helper()
	l := &license.License{ID: f.id(), Code: code, Name: code, Price: price}
	f.create(l)
	return l
}

func (f *Fixture) Feature(code string) *license.LicenseFeature {
	f.t.Helper()
	feat := &license.LicenseFeature{ID: f.id(), FeatureCode: code, Name: code}
	f.create(feat)
	return feat
}

// Map binds feature to sku. A nil limit means uncapped.
func (f *Fixture) Map(sku *license.License, feat *license.LicenseFeature, limitType string, limit *float64) {
	f.t.Helper()
	f.create(&license.LicenseFeatureMap{
		ID:         f.id(),
		LicenseID:  sku.ID,
		FeatureID:  feat.ID,
		LimitType:  limitType,
		LimitValue: limit,
	})
}

type TenantLicenseOption func(*license.TenantLicense)

func WithStatus(s license.Status) TenantLicenseOption {
	return func(tl *license.TenantLicense) { tl.Status = s }
}

func WithAutoRenew(v bool) TenantLicenseOption {
	return func(tl *license.TenantLicense) { tl.AutoRenew = v }
}

func WithPrice(p float64) TenantLicenseOption {
	return func(tl *license.TenantLicense) { tl.PricePaid = p }
}

func (f *Fixture) TenantLicense(tenantID string, sku *license.License, end time.Time, opts ...TenantLicenseOption) *license.TenantLicense {
	f.t.Helper()
	tl := &license.TenantLicense{
		ID:        f.id(),
		TenantID:  tenantID,
		LicenseID: sku.ID,
		Status:    license.StatusActive,
		StartDate: end.AddDate(-1, 0, 0),
		EndDate:   end,
		PricePaid: sku.Price,
	}
	for _, opt := range opts {
		opt(tl)
	}
	f.create(tl)
	return tl
}

func Float(v float64) *float64 {
	return &v
}
