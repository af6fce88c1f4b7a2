package broker_test

import (
	"errors"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/onereach/deskshell/pkg/broker"
	"github.com/onereach/deskshell/pkg/model"
)

func TestClassifySuiteHosts(t *testing.T) {
	c := broker.NewClassifier(nil)

	testCases := []struct {
		host   string
		tenant model.Tenant
	}{
		{"onereach.ai", model.TenantProduction},
		{"api.onereach.ai", model.TenantProduction},
		{"x.staging.onereach.ai", model.TenantStaging},
		{"edison.onereach.ai", model.TenantEdison},
		{"edison.api.onereach.ai", model.TenantEdison},
		{"dev.onereach.ai", model.TenantDev},
		{"app.onereach.ai", model.TenantProduction},
	}

	for _, tc := range testCases {
		t.Run(tc.host, func(t *testing.T) {
			result, err := c.Classify(tc.host)
			gt.NoError(t, err)
			gt.Equal(t, result.Tenant, tc.tenant)
			gt.S(t, result.UIDomain).Contains("onereach.ai")
			gt.S(t, result.APIDomain).Contains("api.onereach.ai")
		})
	}
}

func TestClassifyRejectsLookalikes(t *testing.T) {
	c := broker.NewClassifier(nil)

	for _, host := range []string{
		"onereach.ai.attacker.test",
		"onereach.ai.evil.example",
		"notonereach.ai",
		"onereach.ai.co",
		"",
		"localhost",
	} {
		t.Run(host, func(t *testing.T) {
			_, err := c.Classify(host)
			gt.Error(t, err)
			gt.True(t, errors.Is(err, model.ErrInvalidDomain))
		})
	}
}

func TestClassifyCaseInsensitive(t *testing.T) {
	c := broker.NewClassifier(nil)

	upper, err := c.Classify("EDISON.Onereach.AI")
	gt.NoError(t, err)
	lower, err := c.Classify("edison.onereach.ai")
	gt.NoError(t, err)

	gt.Equal(t, upper.Tenant, lower.Tenant)
	gt.Equal(t, upper.UIDomain, lower.UIDomain)
}

func TestClassifyStripsLeadingDot(t *testing.T) {
	c := broker.NewClassifier(nil)

	result, err := c.Classify(".edison.onereach.ai")
	gt.NoError(t, err)
	gt.Equal(t, result.Tenant, model.TenantEdison)
}

func TestClassifyUnknownSubdomainIsProduction(t *testing.T) {
	c := broker.NewClassifier(nil)

	result, err := c.Classify("whatever.onereach.ai")
	gt.NoError(t, err)
	gt.Equal(t, result.Tenant, model.TenantProduction)
}

func TestDomains(t *testing.T) {
	c := broker.NewClassifier(nil)

	ui, api, err := c.Domains(model.TenantEdison)
	gt.NoError(t, err)
	gt.Equal(t, ui, ".edison.onereach.ai")
	gt.Equal(t, api, ".edison.api.onereach.ai")

	_, _, err = c.Domains(model.Tenant("nope"))
	gt.Error(t, err)
}
