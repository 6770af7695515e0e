package policy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"grc-license-controlplane/pkg/errutil"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads and validates the policy document at path.
func Load(path string) (*Policy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy %s: %w", path, err)
	}

	p, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("policy %s: %w", path, err)
	}
	return p, nil
}

// Parse decodes a policy document, applies defaults and validates it. An empty
// document yields a permissive policy with no gates or milestones.
func Parse(raw []byte) (*Policy, error) {
	var p Policy

	dec := yaml.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return nil, errutil.BadRequest("invalid policy yaml", err)
	}

	p.applyDefaults()

	if err := validate.Struct(&p); err != nil {
		return nil, errutil.ValidationFailed("invalid policy", err, errutil.WithDetails(details(err)...))
	}

	return &p, nil
}

func (p *Policy) applyDefaults() {
	if p.Enforcement.Mode == "" {
		p.Enforcement.Mode = ModePermissive
	}
	if p.RenewalCadence.LookaheadDays == 0 {
		p.RenewalCadence.LookaheadDays = DefaultLookaheadDays
	}
	if p.RenewalCadence.IdempotencyScope == "" {
		p.RenewalCadence.IdempotencyScope = ScopeMilestone
	}
	for i := range p.Enforcement.FeatureGates {
		if p.Enforcement.FeatureGates[i].UpgradePage == "" {
			p.Enforcement.FeatureGates[i].UpgradePage = DefaultUpgradePage
		}
	}
}

func details(err error) []errutil.Detail {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}

	out := make([]errutil.Detail, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, errutil.Detail{
			Field:   fe.Namespace(),
			Message: fmt.Sprintf("failed %q (value %v)", fe.Tag(), fe.Value()),
		})
	}
	return out
}
