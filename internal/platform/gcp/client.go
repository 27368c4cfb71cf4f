package gcp

import (
	"context"

	"google.golang.org/api/compute/v1"
	"google.golang.org/api/container/v1"
)

// ProjectInfo describes the project templates are created in.
type ProjectInfo struct {
	ID                    string
	Number                uint64
	DefaultServiceAccount string
}

// ClusterLister looks up managed clusters.
type ClusterLister interface {
	// ListClusters returns the names of clusters in the given location,
	// optionally filtered to an exact name.
	ListClusters(ctx context.Context, project, location, name string) ([]string, error)

	// GetCluster returns the full cluster record, including the endpoint
	// and CA certificate needed to build a credential context.
	GetCluster(ctx context.Context, project, location, name string) (*container.Cluster, error)
}

// TemplateManager handles the instance-template lifecycle.
type TemplateManager interface {
	// ListInstanceTemplates returns template names matching nameRegex.
	ListInstanceTemplates(ctx context.Context, project, nameRegex string) ([]string, error)

	GetInstanceTemplate(ctx context.Context, project, name string) (*compute.InstanceTemplate, error)

	// CreateInstanceTemplate submits the creation request using the given
	// bearer token and returns the asynchronous operation's name. An empty
	// name with a nil error never occurs; a synchronous rejection is
	// returned as an error.
	CreateInstanceTemplate(ctx context.Context, project, token string, tpl *compute.InstanceTemplate) (string, error)

	// GetOperationStatus returns the status of a global operation:
	// PENDING, RUNNING, or DONE.
	GetOperationStatus(ctx context.Context, project, operation string) (string, error)
}

// CredentialSource produces short-lived bearer credentials.
type CredentialSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// ProjectReader resolves project identity fields.
type ProjectReader interface {
	Project(ctx context.Context, projectID string) (ProjectInfo, error)
}

// Client combines every provider operation the provisioner consumes.
type Client interface {
	ClusterLister
	TemplateManager
	CredentialSource
	ProjectReader
}
