package provisioning

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/compute/v1"
	"google.golang.org/api/container/v1"
	"google.golang.org/api/googleapi"

	"github.com/meshvm/meshvm/internal/config"
	"github.com/meshvm/meshvm/internal/mesh"
	"github.com/meshvm/meshvm/internal/platform/gcp"
	"github.com/meshvm/meshvm/internal/platform/k8s"
	"github.com/meshvm/meshvm/internal/util/poll"
)

const testCert = "-----BEGIN CERTIFICATE-----\nabc\n-----END CERTIFICATE-----\n"

// fakeGCP implements gcp.Client with canned responses.
type fakeGCP struct {
	clusters      []string
	existing      []string
	sources       map[string]*compute.InstanceTemplate
	createErr     error
	operationName string
	opStatuses    []string
	opCalls       int

	created     *compute.InstanceTemplate
	createCalls int
}

func (f *fakeGCP) ListClusters(_ context.Context, _, _, name string) ([]string, error) {
	var out []string
	for _, c := range f.clusters {
		if name == "" || c == name {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeGCP) GetCluster(_ context.Context, _, _, name string) (*container.Cluster, error) {
	return &container.Cluster{Name: name}, nil
}

func (f *fakeGCP) ListInstanceTemplates(_ context.Context, _, _ string) ([]string, error) {
	return f.existing, nil
}

func (f *fakeGCP) GetInstanceTemplate(_ context.Context, _, name string) (*compute.InstanceTemplate, error) {
	tpl, ok := f.sources[name]
	if !ok {
		return nil, &googleapi.Error{Code: 404, Message: fmt.Sprintf("template %q not found", name)}
	}
	return tpl, nil
}

func (f *fakeGCP) CreateInstanceTemplate(_ context.Context, _, _ string, tpl *compute.InstanceTemplate) (string, error) {
	f.createCalls++
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created = tpl
	return f.operationName, nil
}

func (f *fakeGCP) GetOperationStatus(_ context.Context, _, _ string) (string, error) {
	if f.opCalls >= len(f.opStatuses) {
		return "RUNNING", nil
	}
	status := f.opStatuses[f.opCalls]
	f.opCalls++
	return status, nil
}

func (f *fakeGCP) AccessToken(_ context.Context) (string, error) {
	return "test-token", nil
}

func (f *fakeGCP) Project(_ context.Context, projectID string) (gcp.ProjectInfo, error) {
	return gcp.ProjectInfo{
		ID:                    projectID,
		Number:                123456789,
		DefaultServiceAccount: "123456789-compute@developer.gserviceaccount.com",
	}, nil
}

// fakeCluster implements k8s.Cluster.
type fakeCluster struct {
	namespaces  []string
	deployments map[string][]k8s.Deployment
	dnsIP       string
	ingressIPs  []string
	ingressIdx  int
	cert        string
	execErr     error

	namespaceErrs int
	namespaceCall int
}

func (f *fakeCluster) Namespaces(_ context.Context) ([]string, error) {
	f.namespaceCall++
	if f.namespaceCall <= f.namespaceErrs {
		return nil, errors.New("transient apiserver error")
	}
	return f.namespaces, nil
}

func (f *fakeCluster) Deployments(_ context.Context, namespace string) ([]k8s.Deployment, error) {
	return f.deployments[namespace], nil
}

func (f *fakeCluster) ServiceStatusField(_ context.Context, namespace, service, _ string) (string, error) {
	switch {
	case namespace == dnsNamespace && service == dnsService:
		if f.dnsIP == "" {
			return "", errors.New("service not found")
		}
		return f.dnsIP, nil
	case namespace == meshNamespace && service == gatewayService:
		if f.ingressIdx >= len(f.ingressIPs) {
			return "", nil
		}
		ip := f.ingressIPs[f.ingressIdx]
		f.ingressIdx++
		return ip, nil
	}
	return "", fmt.Errorf("unknown service %s/%s", namespace, service)
}

func (f *fakeCluster) ExecInPod(_ context.Context, _, _ string, _ []string) (string, error) {
	if f.execErr != nil {
		return "", f.execErr
	}
	return f.cert, nil
}

func healthyCluster() *fakeCluster {
	return &fakeCluster{
		namespaces: []string{"default", "kube-system", meshNamespace},
		deployments: map[string][]k8s.Deployment{
			meshNamespace: {{Name: "istiod", Image: "gcr.io/istio/istiod:1.9"}},
		},
		dnsIP:      "10.4.0.10",
		ingressIPs: []string{"34.72.11.5"},
		cert:       testCert,
	}
}

func healthyGCP() *fakeGCP {
	return &fakeGCP{
		clusters:      []string{"mesh-cluster"},
		sources:       map[string]*compute.InstanceTemplate{},
		operationName: "op-123",
		opStatuses:    []string{"PENDING", "RUNNING", "DONE"},
	}
}

func testConfig() *config.Config {
	cfg := &config.Config{
		Project:         "demo-project",
		Cluster:         "mesh-cluster",
		ClusterLocation: "us-central1-a",
		TemplateName:    "vm-template",
		Timeouts: config.Timeouts{
			RetryAttempts:        3,
			DNSWaitSeconds:       3,
			IngressWaitSeconds:   3,
			OperationWaitSeconds: 5,
		},
	}
	return cfg
}

func newDriver(cfg *config.Config, gcpClient *fakeGCP, cluster *fakeCluster) *Driver {
	return &Driver{
		Config: cfg,
		GCP:    gcpClient,
		Connect: func(context.Context) (k8s.Cluster, error) {
			return cluster, nil
		},
		RetryInterval: time.Millisecond,
		PollInterval:  time.Millisecond,
	}
}

func TestRun_Success(t *testing.T) {
	t.Parallel()

	gcpClient := healthyGCP()
	d := newDriver(testConfig(), gcpClient, healthyCluster())

	result, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "op-123", result.Operation)
	assert.Equal(t, 1, gcpClient.createCalls, "creation must be submitted exactly once")

	require.NotNil(t, gcpClient.created)
	assert.Equal(t, "vm-template", gcpClient.created.Name)
	assert.Equal(t, "vm-template", gcpClient.created.Properties.Disks[0].DeviceName)
}

func TestRun_DryRunSkipsSubmission(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.DryRun = true
	gcpClient := healthyGCP()
	d := newDriver(cfg, gcpClient, healthyCluster())

	result, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Operation)
	assert.NotNil(t, result.Template)
	assert.Zero(t, gcpClient.createCalls)
}

func TestRun_ClusterNotFound(t *testing.T) {
	t.Parallel()

	gcpClient := healthyGCP()
	gcpClient.clusters = nil
	d := newDriver(testConfig(), gcpClient, healthyCluster())

	_, err := d.Run(context.Background())
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "cluster-exists", verr.Check)
	assert.Contains(t, verr.Remediation, "gcloud container clusters list")
}

func TestRun_MeshNamespaceMissing(t *testing.T) {
	t.Parallel()

	cluster := healthyCluster()
	cluster.namespaces = []string{"default", "kube-system"}
	d := newDriver(testConfig(), healthyGCP(), cluster)

	_, err := d.Run(context.Background())
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "mesh-namespace", verr.Check)
}

func TestRun_ControlPlaneNotRecognized(t *testing.T) {
	t.Parallel()

	cluster := healthyCluster()
	cluster.deployments[meshNamespace] = []k8s.Deployment{
		{Name: "istiod", Image: "nginx:latest"},
	}
	d := newDriver(testConfig(), healthyGCP(), cluster)

	_, err := d.Run(context.Background())
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "control-plane", verr.Check)
}

func TestRun_TemplateNameCollision(t *testing.T) {
	t.Parallel()

	gcpClient := healthyGCP()
	gcpClient.existing = []string{"vm-template"}
	d := newDriver(testConfig(), gcpClient, healthyCluster())

	_, err := d.Run(context.Background())
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "template-name", verr.Check)
	assert.Contains(t, verr.Remediation, "instance-templates delete")
}

func TestRun_SourceTemplateMissing(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.SourceTemplate = "ghost"
	d := newDriver(cfg, healthyGCP(), healthyCluster())

	_, err := d.Run(context.Background())
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "source-template", verr.Check)
}

func TestRun_SourceTemplateUsed(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.SourceTemplate = "base"
	gcpClient := healthyGCP()
	gcpClient.sources["base"] = &compute.InstanceTemplate{
		Name: "base",
		Properties: &compute.InstanceProperties{
			MachineType: "e2-medium",
			Disks:       []*compute.AttachedDisk{{DeviceName: "base", Boot: true}},
		},
	}
	d := newDriver(cfg, gcpClient, healthyCluster())

	result, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "vm-template", result.Template.Name)
	assert.Equal(t, "e2-medium", result.Template.Properties.MachineType)
	assert.Equal(t, "vm-template", result.Template.Properties.Disks[0].DeviceName)
}

func TestRun_IngressNeverAssigned(t *testing.T) {
	t.Parallel()

	cluster := healthyCluster()
	cluster.ingressIPs = nil
	d := newDriver(testConfig(), healthyGCP(), cluster)

	_, err := d.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, poll.ErrTimeout)
	assert.Contains(t, err.Error(), "gateway ingress address")
}

func TestRun_SubmissionRejected(t *testing.T) {
	t.Parallel()

	gcpClient := healthyGCP()
	gcpClient.createErr = errors.New("quota exceeded for instance templates")
	d := newDriver(testConfig(), gcpClient, healthyCluster())

	_, err := d.Run(context.Background())
	var serr *SubmissionError
	require.ErrorAs(t, err, &serr)
	assert.Contains(t, serr.Message, "quota exceeded", "the provider message is surfaced verbatim")
	assert.Equal(t, 1, gcpClient.createCalls, "a rejected submission is never re-submitted")
}

func TestRun_NoOperationName(t *testing.T) {
	t.Parallel()

	gcpClient := healthyGCP()
	gcpClient.operationName = ""
	d := newDriver(testConfig(), gcpClient, healthyCluster())

	_, err := d.Run(context.Background())
	var serr *SubmissionError
	require.ErrorAs(t, err, &serr)
}

func TestRun_OperationNeverCompletes(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Timeouts.OperationWaitSeconds = 2
	gcpClient := healthyGCP()
	gcpClient.opStatuses = nil // every probe reads RUNNING
	d := newDriver(cfg, gcpClient, healthyCluster())

	_, err := d.Run(context.Background())
	var oerr *OperationFailedError
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, "op-123", oerr.Operation)
	assert.Contains(t, oerr.Remediation, "gcloud compute operations describe")
}

func TestRun_TransientClusterErrorIsRetried(t *testing.T) {
	t.Parallel()

	cluster := healthyCluster()
	cluster.namespaceErrs = 2 // recovers on the third attempt
	d := newDriver(testConfig(), healthyGCP(), cluster)

	_, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, cluster.namespaceCall)
}

func TestRun_RootCertValidated(t *testing.T) {
	t.Parallel()

	cluster := healthyCluster()
	cluster.cert = "garbage"
	d := newDriver(testConfig(), healthyGCP(), cluster)

	_, err := d.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "root certificate")
}

func TestRun_RootCertLandsInMetadata(t *testing.T) {
	t.Parallel()

	gcpClient := healthyGCP()
	d := newDriver(testConfig(), gcpClient, healthyCluster())

	_, err := d.Run(context.Background())
	require.NoError(t, err)

	var found bool
	for _, item := range gcpClient.created.Properties.Metadata.Items {
		if item.Key == mesh.MetaRootCert {
			require.NotNil(t, item.Value)
			assert.Equal(t, testCert, *item.Value)
			found = true
		}
	}
	assert.True(t, found)
}
