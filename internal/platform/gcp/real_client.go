package gcp

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/compute/v1"
	"google.golang.org/api/container/v1"
	"google.golang.org/api/option"
)

// RealClient implements Client against the live Google Cloud APIs using
// Application Default Credentials.
type RealClient struct {
	compute   *compute.Service
	container *container.Service
	tokens    oauth2.TokenSource
}

var _ Client = (*RealClient)(nil)

// NewRealClient builds a client from Application Default Credentials with
// cloud-platform scope.
func NewRealClient(ctx context.Context) (*RealClient, error) {
	creds, err := google.FindDefaultCredentials(ctx, compute.CloudPlatformScope)
	if err != nil {
		return nil, fmt.Errorf("failed to locate application default credentials: %w", err)
	}

	computeSvc, err := compute.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("failed to create compute service: %w", err)
	}
	containerSvc, err := container.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("failed to create container service: %w", err)
	}

	return &RealClient{
		compute:   computeSvc,
		container: containerSvc,
		tokens:    creds.TokenSource,
	}, nil
}

// TokenSource exposes the underlying credential source for collaborators
// that authenticate their own transports, such as the cluster client.
func (c *RealClient) TokenSource() oauth2.TokenSource {
	return c.tokens
}

// ListClusters returns cluster names in the given location. When name is
// non-empty only that exact name is returned.
func (c *RealClient) ListClusters(ctx context.Context, project, location, name string) ([]string, error) {
	parent := fmt.Sprintf("projects/%s/locations/%s", project, location)
	resp, err := c.container.Projects.Locations.Clusters.List(parent).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list clusters in %s: %w", parent, err)
	}

	var names []string
	for _, cluster := range resp.Clusters {
		if name != "" && cluster.Name != name {
			continue
		}
		names = append(names, cluster.Name)
	}
	return names, nil
}

// GetCluster returns the full cluster record.
func (c *RealClient) GetCluster(ctx context.Context, project, location, name string) (*container.Cluster, error) {
	fqn := fmt.Sprintf("projects/%s/locations/%s/clusters/%s", project, location, name)
	cluster, err := c.container.Projects.Locations.Clusters.Get(fqn).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get cluster %s: %w", fqn, err)
	}
	return cluster, nil
}

// ListInstanceTemplates returns template names matching nameRegex, using the
// compute API's legacy regex filter.
func (c *RealClient) ListInstanceTemplates(ctx context.Context, project, nameRegex string) ([]string, error) {
	var names []string
	call := c.compute.InstanceTemplates.List(project).Filter(fmt.Sprintf("name eq %s", nameRegex))
	err := call.Pages(ctx, func(page *compute.InstanceTemplateList) error {
		for _, tpl := range page.Items {
			names = append(names, tpl.Name)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list instance templates: %w", err)
	}
	return names, nil
}

// GetInstanceTemplate fetches a template document by name.
func (c *RealClient) GetInstanceTemplate(ctx context.Context, project, name string) (*compute.InstanceTemplate, error) {
	tpl, err := c.compute.InstanceTemplates.Get(project, name).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get instance template %q: %w", name, err)
	}
	return tpl, nil
}

// CreateInstanceTemplate submits the creation request authenticated with the
// supplied bearer token and returns the operation name. The token is fetched
// separately so credential acquisition can be retried without re-submitting
// the creation itself.
func (c *RealClient) CreateInstanceTemplate(ctx context.Context, project, token string, tpl *compute.InstanceTemplate) (string, error) {
	svc, err := compute.NewService(ctx, option.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})))
	if err != nil {
		return "", fmt.Errorf("failed to create compute service for submission: %w", err)
	}

	op, err := svc.InstanceTemplates.Insert(project, tpl).Context(ctx).Do()
	if err != nil {
		return "", err
	}
	return op.Name, nil
}

// GetOperationStatus returns a global operation's status string.
func (c *RealClient) GetOperationStatus(ctx context.Context, project, operation string) (string, error) {
	op, err := c.compute.GlobalOperations.Get(project, operation).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to get operation %q: %w", operation, err)
	}
	return op.Status, nil
}

// AccessToken returns a short-lived bearer credential.
func (c *RealClient) AccessToken(ctx context.Context) (string, error) {
	tok, err := c.tokens.Token()
	if err != nil {
		return "", fmt.Errorf("failed to fetch access token: %w", err)
	}
	return tok.AccessToken, nil
}

// Project resolves the project's number and default compute identity.
func (c *RealClient) Project(ctx context.Context, projectID string) (ProjectInfo, error) {
	proj, err := c.compute.Projects.Get(projectID).Context(ctx).Do()
	if err != nil {
		return ProjectInfo{}, fmt.Errorf("failed to get project %q: %w", projectID, err)
	}
	return ProjectInfo{
		ID:                    projectID,
		Number:                proj.Id,
		DefaultServiceAccount: proj.DefaultServiceAccount,
	}, nil
}
