package broker

import (
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"github.com/onereach/deskshell/pkg/model"
)

// Classification is the resolved tenant and domain pair for a suite
// hostname.
type Classification struct {
	Tenant    model.Tenant
	UIDomain  string
	APIDomain string
}

// Classifier maps hostnames to tenants. The acceptance rule is
// security-critical: a hostname is a suite hostname only when it equals
// the suite root, equals api.<root>, or ends with ".<root>". Lookalikes
// such as "<root>.attacker.example" are rejected.
type Classifier struct {
	table model.TenantTable
	root  string
}

// NewClassifier builds a classifier over a priority-ordered tenant
// table. A nil table uses the built-in suite configuration.
func NewClassifier(table model.TenantTable) *Classifier {
	if table == nil {
		table = model.DefaultTenantTable()
	}
	return &Classifier{table: table, root: model.SuiteRoot}
}

// Classify resolves a hostname to its tenant and domain pair. Returns
// model.ErrInvalidDomain for anything outside the suite.
func (c *Classifier) Classify(hostname string) (*Classification, error) {
	host := strings.ToLower(strings.TrimSpace(hostname))
	host = strings.TrimPrefix(host, ".")

	if !c.isSuiteHost(host) {
		return nil, goerr.Wrap(model.ErrInvalidDomain, "hostname rejected", goerr.V("hostname", hostname))
	}

	tag := c.tenantOf(host)
	cfg, ok := c.table.Lookup(tag)
	if !ok {
		return nil, goerr.Wrap(model.ErrUnknownTenant, "tenant missing from table", goerr.V("tenant", tag))
	}

	return &Classification{
		Tenant:    tag,
		UIDomain:  cfg.UIDomain,
		APIDomain: cfg.APIDomain,
	}, nil
}

// Domains returns the configured domain pair for a tenant tag.
func (c *Classifier) Domains(tag model.Tenant) (uiDomain, apiDomain string, err error) {
	cfg, ok := c.table.Lookup(tag)
	if !ok {
		return "", "", goerr.Wrap(model.ErrUnknownTenant, "tenant missing from table", goerr.V("tenant", tag))
	}
	return cfg.UIDomain, cfg.APIDomain, nil
}

func (c *Classifier) isSuiteHost(host string) bool {
	if host == c.root || host == "api."+c.root {
		return true
	}
	return strings.HasSuffix(host, "."+c.root)
}

// tenantOf picks the first matching priority-ordered entry, then falls
// back to an unambiguous subdomain label, then to production. Unknown
// tenants are never coerced to anything other than production.
func (c *Classifier) tenantOf(host string) model.Tenant {
	for _, cfg := range c.table {
		for _, pattern := range cfg.UIPatterns {
			if pattern != "" && strings.Contains(host, pattern) {
				return cfg.Tag
			}
		}
	}

	// Subdomain extraction: a label left of the suite root that names a
	// configured tenant.
	if suffix := "." + c.root; strings.HasSuffix(host, suffix) {
		labels := strings.Split(strings.TrimSuffix(host, suffix), ".")
		for _, label := range labels {
			if label == "" || label == "api" {
				continue
			}
			if _, ok := c.table.Lookup(model.Tenant(label)); ok {
				return model.Tenant(label)
			}
		}
	}

	return model.TenantProduction
}
