package k8s

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"

	"golang.org/x/oauth2"
	"google.golang.org/api/container/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/remotecommand"
	"k8s.io/client-go/util/jsonpath"
)

// Deployment is the subset of a deployment the readiness checks look at.
type Deployment struct {
	Name  string
	Image string
}

// Cluster defines the cluster-side operations consumed by the provisioner.
type Cluster interface {
	// Namespaces returns the names of all namespaces.
	Namespaces(ctx context.Context) ([]string, error)

	// Deployments returns the deployments in a namespace with the image of
	// their first container.
	Deployments(ctx context.Context, namespace string) ([]Deployment, error)

	// ServiceStatusField evaluates a JSONPath expression, e.g.
	// "{.status.loadBalancer.ingress[0].ip}", against a service object.
	ServiceStatusField(ctx context.Context, namespace, service, jsonPath string) (string, error)

	// ExecInPod runs a command in the first pod matching labelSelector and
	// returns its stdout.
	ExecInPod(ctx context.Context, namespace, labelSelector string, command []string) (string, error)
}

// Client implements Cluster against a live managed cluster.
type Client struct {
	clientset kubernetes.Interface
	restcfg   *rest.Config
}

var _ Cluster = (*Client)(nil)

// NewClientForCluster builds a credential context from a managed cluster
// record and a token source. Called again whenever endpoint or token churn
// invalidates the previous context.
func NewClientForCluster(cluster *container.Cluster, tokens oauth2.TokenSource) (*Client, error) {
	if cluster.MasterAuth == nil {
		return nil, fmt.Errorf("cluster %q has no master auth info", cluster.Name)
	}
	caData, err := base64.StdEncoding.DecodeString(cluster.MasterAuth.ClusterCaCertificate)
	if err != nil {
		return nil, fmt.Errorf("failed to decode cluster CA certificate: %w", err)
	}
	tok, err := tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch access token: %w", err)
	}

	cfg := &rest.Config{
		Host:        "https://" + cluster.Endpoint,
		BearerToken: tok.AccessToken,
		TLSClientConfig: rest.TLSClientConfig{
			CAData: caData,
		},
	}

	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create clientset: %w", err)
	}

	return &Client{
		clientset: clientset,
		restcfg:   cfg,
	}, nil
}

// Namespaces returns the names of all namespaces.
func (c *Client) Namespaces(ctx context.Context) ([]string, error) {
	list, err := c.clientset.CoreV1().Namespaces().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list namespaces: %w", err)
	}

	names := make([]string, 0, len(list.Items))
	for _, ns := range list.Items {
		names = append(names, ns.Name)
	}
	return names, nil
}

// Deployments returns the deployments in a namespace.
func (c *Client) Deployments(ctx context.Context, namespace string) ([]Deployment, error) {
	list, err := c.clientset.AppsV1().Deployments(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments in %s: %w", namespace, err)
	}

	deployments := make([]Deployment, 0, len(list.Items))
	for _, d := range list.Items {
		dep := Deployment{Name: d.Name}
		if containers := d.Spec.Template.Spec.Containers; len(containers) > 0 {
			dep.Image = containers[0].Image
		}
		deployments = append(deployments, dep)
	}
	return deployments, nil
}

// ServiceStatusField evaluates a JSONPath expression against a service.
// A missing path element is an error, which pollers treat as "not yet".
func (c *Client) ServiceStatusField(ctx context.Context, namespace, service, jsonPath string) (string, error) {
	svc, err := c.clientset.CoreV1().Services(namespace).Get(ctx, service, metav1.GetOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to get service %s/%s: %w", namespace, service, err)
	}

	jp := jsonpath.New("field")
	if err := jp.Parse(jsonPath); err != nil {
		return "", fmt.Errorf("invalid jsonpath %q: %w", jsonPath, err)
	}

	var buf bytes.Buffer
	if err := jp.Execute(&buf, svc); err != nil {
		return "", fmt.Errorf("field %q not present on service %s/%s: %w", jsonPath, namespace, service, err)
	}
	return buf.String(), nil
}

// ExecInPod runs a command in the first pod matching labelSelector.
func (c *Client) ExecInPod(ctx context.Context, namespace, labelSelector string, command []string) (string, error) {
	pods, err := c.clientset.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: labelSelector,
	})
	if err != nil {
		return "", fmt.Errorf("failed to list pods for %q in %s: %w", labelSelector, namespace, err)
	}
	if len(pods.Items) == 0 {
		return "", fmt.Errorf("no pods match %q in namespace %s", labelSelector, namespace)
	}
	podName := pods.Items[0].Name

	req := c.clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Namespace(namespace).
		Name(podName).
		SubResource("exec").
		VersionedParams(&corev1.PodExecOptions{
			Command: command,
			Stdout:  true,
			Stderr:  true,
		}, scheme.ParameterCodec)

	executor, err := remotecommand.NewSPDYExecutor(c.restcfg, "POST", req.URL())
	if err != nil {
		return "", fmt.Errorf("failed to create executor for pod %s/%s: %w", namespace, podName, err)
	}

	var stdout, stderr bytes.Buffer
	if err := executor.StreamWithContext(ctx, remotecommand.StreamOptions{
		Stdout: &stdout,
		Stderr: &stderr,
	}); err != nil {
		return "", fmt.Errorf("exec in pod %s/%s failed: %w (stderr: %s)", namespace, podName, err, stderr.String())
	}
	return stdout.String(), nil
}
