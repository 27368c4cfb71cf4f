package config

import (
	"fmt"
	"regexp"

	"github.com/meshvm/meshvm/internal/mesh"
)

// Config holds everything one provisioning run needs.
type Config struct {
	// Project is the Google Cloud project id.
	Project string `yaml:"project"`

	// Cluster and ClusterLocation identify the managed cluster the VM
	// workload will join.
	Cluster         string `yaml:"cluster"`
	ClusterLocation string `yaml:"location"`

	// TemplateName is the name of the instance template to create.
	TemplateName string `yaml:"templateName"`

	// SourceTemplate, when set, names an existing template whose document
	// is used as the base instead of the synthesized default.
	SourceTemplate string `yaml:"sourceTemplate,omitempty"`

	// WorkloadName is the fallback service name when no name-bearing label
	// is supplied. Defaults to TemplateName.
	WorkloadName string `yaml:"workloadName,omitempty"`

	// Labels is the raw key=value,key=value workload label input.
	Labels string `yaml:"labels,omitempty"`

	// DryRun assembles and prints the document without submitting it.
	DryRun bool `yaml:"-"`

	Timeouts Timeouts `yaml:"timeouts,omitempty"`
}

// Timeouts bound the retry and poll budgets.
type Timeouts struct {
	// RetryAttempts is the attempt budget for transient API failures.
	RetryAttempts uint `yaml:"retryAttempts,omitempty"`

	// DNSWaitSeconds bounds the wait for the cluster DNS address.
	DNSWaitSeconds uint `yaml:"dnsWaitSeconds,omitempty"`

	// IngressWaitSeconds bounds the wait for the gateway's
	// provider-assigned address.
	IngressWaitSeconds uint `yaml:"ingressWaitSeconds,omitempty"`

	// OperationWaitSeconds bounds the wait for template-creation
	// operation completion.
	OperationWaitSeconds uint `yaml:"operationWaitSeconds,omitempty"`
}

// Default budgets, applied for any zero field.
const (
	DefaultRetryAttempts        = 3
	DefaultDNSWaitSeconds       = 60
	DefaultIngressWaitSeconds   = 180
	DefaultOperationWaitSeconds = 180
)

// resourceNamePattern matches valid GCE resource names.
var resourceNamePattern = regexp.MustCompile(`^[a-z]([-a-z0-9]*[a-z0-9])?$`)

// ApplyDefaults fills zero fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.WorkloadName == "" {
		c.WorkloadName = c.TemplateName
	}
	if c.Timeouts.RetryAttempts == 0 {
		c.Timeouts.RetryAttempts = DefaultRetryAttempts
	}
	if c.Timeouts.DNSWaitSeconds == 0 {
		c.Timeouts.DNSWaitSeconds = DefaultDNSWaitSeconds
	}
	if c.Timeouts.IngressWaitSeconds == 0 {
		c.Timeouts.IngressWaitSeconds = DefaultIngressWaitSeconds
	}
	if c.Timeouts.OperationWaitSeconds == 0 {
		c.Timeouts.OperationWaitSeconds = DefaultOperationWaitSeconds
	}
}

// Validate checks required fields and value shapes.
func (c *Config) Validate() error {
	if c.Project == "" {
		return fmt.Errorf("project is required (set --project, MESHVM_PROJECT, or GOOGLE_CLOUD_PROJECT)")
	}
	if c.Cluster == "" {
		return fmt.Errorf("cluster is required")
	}
	if c.ClusterLocation == "" {
		return fmt.Errorf("location is required")
	}
	if c.TemplateName == "" {
		return fmt.Errorf("template name is required")
	}
	if !resourceNamePattern.MatchString(c.TemplateName) {
		return fmt.Errorf("invalid template name %q: must match %s", c.TemplateName, resourceNamePattern.String())
	}
	if c.SourceTemplate != "" && !resourceNamePattern.MatchString(c.SourceTemplate) {
		return fmt.Errorf("invalid source template name %q: must match %s", c.SourceTemplate, resourceNamePattern.String())
	}
	if _, err := mesh.ParseLabels(c.Labels); err != nil {
		return fmt.Errorf("invalid labels: %w", err)
	}
	return nil
}
