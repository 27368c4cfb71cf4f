package provisioning

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"google.golang.org/api/compute/v1"

	"github.com/meshvm/meshvm/internal/config"
	"github.com/meshvm/meshvm/internal/mesh"
	"github.com/meshvm/meshvm/internal/platform/gcp"
	"github.com/meshvm/meshvm/internal/platform/k8s"
	"github.com/meshvm/meshvm/internal/util/poll"
	"github.com/meshvm/meshvm/internal/util/retry"
)

// Cluster-side locations the driver reads mesh state from.
const (
	meshNamespace          = "istio-system"
	controlPlaneDeployment = "istiod"
	controlPlaneSelector   = "app=istiod"
	rootCertPath           = "/var/run/secrets/istio/root-cert.pem"

	dnsNamespace = "kube-system"
	dnsService   = "kube-dns"

	gatewayService = "istio-eastwestgateway"
)

// Driver runs one provisioning sequence. A single logical thread of control;
// all waiting happens inside the retry and poll helpers.
type Driver struct {
	Config *config.Config
	GCP    gcp.Client

	// Connect (re-)acquires the cluster credential context. It is invoked
	// once up front and again from the retrier's refresh path.
	Connect func(ctx context.Context) (k8s.Cluster, error)

	// RetryInterval and PollInterval override the helpers' defaults when
	// positive. Tests shrink them; production leaves them zero.
	RetryInterval time.Duration
	PollInterval  time.Duration

	cluster k8s.Cluster
}

// Result is the outcome of a successful run.
type Result struct {
	Template *compute.InstanceTemplate

	// Operation is the completed creation operation's name. Empty on
	// dry runs.
	Operation string
}

// Run executes the full sequence. The returned error, when non-nil, is one
// of *ValidationError, *SubmissionError, *OperationFailedError, or a wrapped
// retry/poll exhaustion from a failed step.
func (d *Driver) Run(ctx context.Context) (*Result, error) {
	cfg := d.Config

	if err := d.validate(ctx); err != nil {
		return nil, err
	}

	labels, err := mesh.ParseLabels(cfg.Labels)
	if err != nil {
		// Config validation already rejects malformed labels; kept as a guard.
		return nil, &ValidationError{Check: "labels", Detail: err.Error()}
	}
	identity := mesh.DeriveIdentity(labels, cfg.WorkloadName)
	log.Printf("Canonical identity: service=%s revision=%s", identity.Service, identity.Revision)

	facts, err := d.retrieveFacts(ctx)
	if err != nil {
		return nil, err
	}

	project, err := d.projectContext(ctx)
	if err != nil {
		return nil, err
	}

	assembler := &mesh.Assembler{Templates: d.GCP}
	tpl, err := assembler.Assemble(ctx, mesh.AssembleInput{
		Name:       cfg.TemplateName,
		SourceName: cfg.SourceTemplate,
		Facts:      facts,
		Identity:   identity,
		Labels:     labels,
		Project:    project,
	})
	if err != nil {
		return nil, fmt.Errorf("template assembly failed: %w", err)
	}

	if cfg.DryRun {
		log.Printf("Dry run: skipping submission of template %q", cfg.TemplateName)
		return &Result{Template: tpl}, nil
	}

	operation, err := d.submit(ctx, tpl)
	if err != nil {
		return nil, err
	}
	if err := d.confirm(ctx, operation); err != nil {
		return nil, err
	}

	log.Printf("Instance template %q created", cfg.TemplateName)
	return &Result{Template: tpl, Operation: operation}, nil
}

// validate checks every precondition before any state is created.
func (d *Driver) validate(ctx context.Context) error {
	cfg := d.Config

	log.Printf("Validating cluster %s in %s...", cfg.Cluster, cfg.ClusterLocation)
	var clusterNames []string
	err := retry.Do(ctx, cfg.Timeouts.RetryAttempts, func() error {
		var err error
		clusterNames, err = d.GCP.ListClusters(ctx, cfg.Project, cfg.ClusterLocation, cfg.Cluster)
		return err
	}, d.retryOptions()...)
	if err != nil {
		return fmt.Errorf("failed to query clusters: %w", err)
	}
	if len(clusterNames) == 0 {
		return &ValidationError{
			Check:       "cluster-exists",
			Detail:      fmt.Sprintf("cluster %q not found in location %q of project %q", cfg.Cluster, cfg.ClusterLocation, cfg.Project),
			Remediation: fmt.Sprintf("gcloud container clusters list --project %s", cfg.Project),
		}
	}

	if err := d.connect(ctx); err != nil {
		return fmt.Errorf("failed to configure cluster credentials: %w", err)
	}

	var namespaces []string
	err = retry.Do(ctx, cfg.Timeouts.RetryAttempts, func() error {
		var err error
		namespaces, err = d.cluster.Namespaces(ctx)
		return err
	}, d.clusterRetryOptions(ctx)...)
	if err != nil {
		return fmt.Errorf("failed to list namespaces: %w", err)
	}
	if !contains(namespaces, meshNamespace) {
		return &ValidationError{
			Check:  "mesh-namespace",
			Detail: fmt.Sprintf("namespace %q not found; the mesh control plane is not installed", meshNamespace),
		}
	}

	var deployments []k8s.Deployment
	err = retry.Do(ctx, cfg.Timeouts.RetryAttempts, func() error {
		var err error
		deployments, err = d.cluster.Deployments(ctx, meshNamespace)
		return err
	}, d.clusterRetryOptions(ctx)...)
	if err != nil {
		return fmt.Errorf("failed to list deployments in %s: %w", meshNamespace, err)
	}
	if !hasControlPlane(deployments) {
		return &ValidationError{
			Check:  "control-plane",
			Detail: fmt.Sprintf("no %q deployment with a recognized control-plane image in namespace %q", controlPlaneDeployment, meshNamespace),
		}
	}

	err = retry.Do(ctx, cfg.Timeouts.RetryAttempts, func() error {
		_, err := d.cluster.ServiceStatusField(ctx, dnsNamespace, dnsService, "{.spec.clusterIP}")
		return err
	}, d.clusterRetryOptions(ctx)...)
	if err != nil {
		return &ValidationError{
			Check:  "cluster-dns",
			Detail: fmt.Sprintf("service %s/%s is not reachable: %v", dnsNamespace, dnsService, err),
		}
	}

	log.Printf("Checking for name collisions on %q...", cfg.TemplateName)
	var existing []string
	err = retry.Do(ctx, cfg.Timeouts.RetryAttempts, func() error {
		var err error
		existing, err = d.GCP.ListInstanceTemplates(ctx, cfg.Project, "^"+cfg.TemplateName+"$")
		return err
	}, d.retryOptions()...)
	if err != nil {
		return fmt.Errorf("failed to list instance templates: %w", err)
	}
	if len(existing) > 0 {
		return &ValidationError{
			Check:       "template-name",
			Detail:      fmt.Sprintf("instance template %q already exists", cfg.TemplateName),
			Remediation: fmt.Sprintf("gcloud compute instance-templates delete %s --project %s", cfg.TemplateName, cfg.Project),
		}
	}

	if cfg.SourceTemplate != "" {
		var missing bool
		err = retry.Do(ctx, cfg.Timeouts.RetryAttempts, func() error {
			_, err := d.GCP.GetInstanceTemplate(ctx, cfg.Project, cfg.SourceTemplate)
			if gcp.IsNotFound(err) {
				// Definitive answer; retrying will not change it.
				missing = true
				return nil
			}
			missing = false
			return err
		}, d.retryOptions()...)
		if err != nil {
			return fmt.Errorf("failed to check source template %q: %w", cfg.SourceTemplate, err)
		}
		if missing {
			return &ValidationError{
				Check:       "source-template",
				Detail:      fmt.Sprintf("source template %q does not exist", cfg.SourceTemplate),
				Remediation: fmt.Sprintf("gcloud compute instance-templates list --project %s", cfg.Project),
			}
		}
	}

	return nil
}

// retrieveFacts polls the cluster for the DNS address, the gateway ingress
// address, and the mesh root certificate. Absence of any one after its
// budget is fatal, never a partial success.
func (d *Driver) retrieveFacts(ctx context.Context) (mesh.ClusterFacts, error) {
	cfg := d.Config

	log.Printf("Waiting for cluster DNS address...")
	dnsAddr, err := poll.UntilMatch(ctx, cfg.Timeouts.DNSWaitSeconds, poll.IPv4, func() (string, error) {
		return d.cluster.ServiceStatusField(ctx, dnsNamespace, dnsService, "{.spec.clusterIP}")
	}, d.pollOptions()...)
	if err != nil {
		return mesh.ClusterFacts{}, fmt.Errorf("cluster DNS address: %w", err)
	}

	log.Printf("Waiting for gateway address on %s/%s...", meshNamespace, gatewayService)
	ingressAddr, err := poll.UntilMatch(ctx, cfg.Timeouts.IngressWaitSeconds, poll.IPv4, func() (string, error) {
		return d.cluster.ServiceStatusField(ctx, meshNamespace, gatewayService, "{.status.loadBalancer.ingress[0].ip}")
	}, d.pollOptions()...)
	if err != nil {
		return mesh.ClusterFacts{}, fmt.Errorf("gateway ingress address: %w", err)
	}

	log.Printf("Reading mesh root certificate...")
	var rootCert string
	err = retry.Do(ctx, cfg.Timeouts.RetryAttempts, func() error {
		out, err := d.cluster.ExecInPod(ctx, meshNamespace, controlPlaneSelector, []string{"cat", rootCertPath})
		if err != nil {
			return err
		}
		if !strings.Contains(out, "BEGIN CERTIFICATE") {
			return fmt.Errorf("unexpected root certificate content from %s", rootCertPath)
		}
		rootCert = out
		return nil
	}, d.clusterRetryOptions(ctx)...)
	if err != nil {
		return mesh.ClusterFacts{}, fmt.Errorf("mesh root certificate: %w", err)
	}

	return mesh.ClusterFacts{
		DNSAddress:     dnsAddr,
		IngressAddress: ingressAddr,
		RootCert:       rootCert,
	}, nil
}

func (d *Driver) projectContext(ctx context.Context) (mesh.ProjectContext, error) {
	var info gcp.ProjectInfo
	err := retry.Do(ctx, d.Config.Timeouts.RetryAttempts, func() error {
		var err error
		info, err = d.GCP.Project(ctx, d.Config.Project)
		return err
	}, d.retryOptions()...)
	if err != nil {
		return mesh.ProjectContext{}, fmt.Errorf("failed to resolve project %q: %w", d.Config.Project, err)
	}
	return mesh.ProjectContext{
		ID:                    info.ID,
		Number:                info.Number,
		DefaultServiceAccount: info.DefaultServiceAccount,
	}, nil
}

// submit fetches a bearer token (retried) and submits the creation request
// exactly once; re-submitting could collide with the provider's
// name-uniqueness constraint.
func (d *Driver) submit(ctx context.Context, tpl *compute.InstanceTemplate) (string, error) {
	cfg := d.Config

	var token string
	err := retry.Do(ctx, cfg.Timeouts.RetryAttempts, func() error {
		var err error
		token, err = d.GCP.AccessToken(ctx)
		return err
	}, d.retryOptions()...)
	if err != nil {
		return "", fmt.Errorf("failed to obtain access token: %w", err)
	}

	log.Printf("Submitting instance template %q...", cfg.TemplateName)
	operation, err := d.GCP.CreateInstanceTemplate(ctx, cfg.Project, token, tpl)
	if err != nil {
		return "", &SubmissionError{Message: err.Error()}
	}
	if operation == "" {
		return "", &SubmissionError{Message: "provider returned no operation name"}
	}
	return operation, nil
}

func (d *Driver) confirm(ctx context.Context, operation string) error {
	cfg := d.Config

	log.Printf("Waiting for operation %q...", operation)
	_, err := poll.UntilMatch(ctx, cfg.Timeouts.OperationWaitSeconds, poll.OperationDone, func() (string, error) {
		return d.GCP.GetOperationStatus(ctx, cfg.Project, operation)
	}, d.pollOptions()...)
	if err != nil {
		return &OperationFailedError{
			Operation:   operation,
			Remediation: fmt.Sprintf("gcloud compute operations describe %s --global --project %s", operation, cfg.Project),
		}
	}
	return nil
}

func (d *Driver) connect(ctx context.Context) error {
	cluster, err := d.Connect(ctx)
	if err != nil {
		return err
	}
	d.cluster = cluster
	return nil
}

func (d *Driver) retryOptions() []retry.Option {
	var opts []retry.Option
	if d.RetryInterval > 0 {
		opts = append(opts, retry.WithInterval(d.RetryInterval))
	}
	return opts
}

// clusterRetryOptions additionally re-acquires the credential context
// between failed attempts.
func (d *Driver) clusterRetryOptions(ctx context.Context) []retry.Option {
	return append(d.retryOptions(), retry.WithRefresh(func() error {
		return d.connect(ctx)
	}))
}

func (d *Driver) pollOptions() []poll.Option {
	var opts []poll.Option
	if d.PollInterval > 0 {
		opts = append(opts, poll.WithInterval(d.PollInterval))
	}
	return opts
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

// hasControlPlane reports whether a recognized mesh control plane is among
// the deployments.
func hasControlPlane(deployments []k8s.Deployment) bool {
	for _, d := range deployments {
		if !strings.HasPrefix(d.Name, controlPlaneDeployment) {
			continue
		}
		if strings.Contains(d.Image, "istiod") || strings.Contains(d.Image, "asm") {
			return true
		}
	}
	return false
}
