package model

import "strings"

// Tenant identifies a logical environment of the suite. The set is
// closed: every tenant has a fixed UI and API domain pair and tenants
// are configuration, not runtime state.
type Tenant string

const (
	TenantProduction Tenant = "production"
	TenantStaging    Tenant = "staging"
	TenantEdison     Tenant = "edison"
	TenantDev        Tenant = "dev"
)

// Validate checks if the tenant tag is a member of the closed set.
func (t Tenant) Validate() error {
	switch t {
	case TenantProduction, TenantStaging, TenantEdison, TenantDev:
		return nil
	default:
		return ErrUnknownTenant
	}
}

// TenantConfig describes one environment of the suite. UIPatterns are
// hostname fragments that select this tenant; the first matching entry
// in a TenantTable wins, so specific environments must precede
// production.
type TenantConfig struct {
	Tag        Tenant   `yaml:"tag"`
	UIPatterns []string `yaml:"uiPatterns"`
	UIDomain   string   `yaml:"uiDomain"`
	APIDomain  string   `yaml:"apiDomain"`
}

// TenantTable is the priority-ordered tenant configuration.
type TenantTable []TenantConfig

// Lookup returns the configuration for a tenant tag.
func (tbl TenantTable) Lookup(tag Tenant) (TenantConfig, bool) {
	for _, cfg := range tbl {
		if cfg.Tag == tag {
			return cfg, true
		}
	}
	return TenantConfig{}, false
}

// SuiteRoot is the apex domain of the hosted suite.
const SuiteRoot = "onereach.ai"

// DefaultTenantTable returns the built-in table for the suite root.
// Order matters: specific environments before production.
func DefaultTenantTable() TenantTable {
	return TenantTable{
		{
			Tag:        TenantEdison,
			UIPatterns: []string{"edison."},
			UIDomain:   ".edison." + SuiteRoot,
			APIDomain:  ".edison.api." + SuiteRoot,
		},
		{
			Tag:        TenantStaging,
			UIPatterns: []string{"staging."},
			UIDomain:   ".staging." + SuiteRoot,
			APIDomain:  ".staging.api." + SuiteRoot,
		},
		{
			Tag:        TenantDev,
			UIPatterns: []string{"dev."},
			UIDomain:   ".dev." + SuiteRoot,
			APIDomain:  ".dev.api." + SuiteRoot,
		},
		{
			Tag:        TenantProduction,
			UIPatterns: []string{},
			UIDomain:   "." + SuiteRoot,
			APIDomain:  ".api." + SuiteRoot,
		},
	}
}

// Partition identifier conventions. Tab partitions are ephemeral and
// cleaned up on close; tool partitions are shared across windows of the
// same tenant and live for the whole process.
const (
	partitionPrefix     = "persist:"
	toolPartitionPrefix = "persist:tool-"
	tabPartitionPrefix  = "persist:tab-"
)

// NormalizePartition ensures the persistent-form prefix on a partition
// identifier.
func NormalizePartition(name string) string {
	if name == "" {
		return ""
	}
	if strings.HasPrefix(name, partitionPrefix) {
		return name
	}
	return partitionPrefix + name
}

// IsToolPartition reports whether the partition is a long-lived tool
// partition.
func IsToolPartition(name string) bool {
	return strings.HasPrefix(NormalizePartition(name), toolPartitionPrefix)
}

// IsTabPartition reports whether the partition is an ephemeral tab
// partition.
func IsTabPartition(name string) bool {
	return strings.HasPrefix(NormalizePartition(name), tabPartitionPrefix)
}
