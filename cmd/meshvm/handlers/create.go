// Package handlers implements command execution for the meshvm CLI.
package handlers

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"sigs.k8s.io/yaml"

	"github.com/meshvm/meshvm/internal/config"
	"github.com/meshvm/meshvm/internal/platform/gcp"
	"github.com/meshvm/meshvm/internal/platform/k8s"
	"github.com/meshvm/meshvm/internal/provisioning"
)

// CreateOptions carries the create command's flag values.
type CreateOptions struct {
	ConfigPath     string
	Project        string
	Cluster        string
	Location       string
	Name           string
	SourceTemplate string
	WorkloadName   string
	Labels         string
	DryRun         bool
}

// providerClient is what the handler needs from the provider: the full
// operation surface plus a token source for the cluster client's transport.
type providerClient interface {
	gcp.Client
	TokenSource() oauth2.TokenSource
}

// newProviderClient is a factory variable so tests can substitute a fake.
var newProviderClient = func(ctx context.Context) (providerClient, error) {
	return gcp.NewRealClient(ctx)
}

// Create handles the create command: it builds the run configuration, wires
// the provider and cluster clients, and executes the provisioning driver.
func Create(ctx context.Context, opts CreateOptions) error {
	cfg, err := buildConfig(opts)
	if err != nil {
		return err
	}

	client, err := newProviderClient(ctx)
	if err != nil {
		return err
	}

	driver := &provisioning.Driver{
		Config: cfg,
		GCP:    client,
		Connect: func(ctx context.Context) (k8s.Cluster, error) {
			cluster, err := client.GetCluster(ctx, cfg.Project, cfg.ClusterLocation, cfg.Cluster)
			if err != nil {
				return nil, err
			}
			return k8s.NewClientForCluster(cluster, client.TokenSource())
		},
	}

	result, err := driver.Run(ctx)
	if err != nil {
		return err
	}

	if cfg.DryRun {
		data, err := yaml.Marshal(result.Template)
		if err != nil {
			return fmt.Errorf("failed to render template document: %w", err)
		}
		fmt.Print(string(data))
	}
	return nil
}

// buildConfig loads the config file, overlays flag values, and validates the
// result. Flags take precedence over file and environment values.
func buildConfig(opts CreateOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	if opts.Project != "" {
		cfg.Project = opts.Project
	}
	if opts.Cluster != "" {
		cfg.Cluster = opts.Cluster
	}
	if opts.Location != "" {
		cfg.ClusterLocation = opts.Location
	}
	if opts.Name != "" {
		cfg.TemplateName = opts.Name
	}
	if opts.SourceTemplate != "" {
		cfg.SourceTemplate = opts.SourceTemplate
	}
	if opts.WorkloadName != "" {
		cfg.WorkloadName = opts.WorkloadName
	}
	if opts.Labels != "" {
		cfg.Labels = opts.Labels
	}
	cfg.DryRun = opts.DryRun

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
