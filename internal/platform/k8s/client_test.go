package k8s

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
	"k8s.io/client-go/rest"
)

func TestNamespaces(t *testing.T) {
	t.Parallel()

	clientset := fake.NewSimpleClientset(
		&corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: "default"}},
		&corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: "istio-system"}},
	)
	c := &Client{clientset: clientset}

	names, err := c.Namespaces(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"default", "istio-system"}, names)
}

func TestDeployments(t *testing.T) {
	t.Parallel()

	clientset := fake.NewSimpleClientset(&appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: "istiod", Namespace: "istio-system"},
		Spec: appsv1.DeploymentSpec{
			Template: corev1.PodTemplateSpec{
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{{Image: "gcr.io/istio/istiod:1.9"}},
				},
			},
		},
	})
	c := &Client{clientset: clientset}

	deployments, err := c.Deployments(context.Background(), "istio-system")
	require.NoError(t, err)
	require.Len(t, deployments, 1)
	assert.Equal(t, "istiod", deployments[0].Name)
	assert.Equal(t, "gcr.io/istio/istiod:1.9", deployments[0].Image)
}

func TestServiceStatusField_ClusterIP(t *testing.T) {
	t.Parallel()

	clientset := fake.NewSimpleClientset(&corev1.Service{
		ObjectMeta: metav1.ObjectMeta{Name: "kube-dns", Namespace: "kube-system"},
		Spec:       corev1.ServiceSpec{ClusterIP: "10.4.0.10"},
	})
	c := &Client{clientset: clientset}

	out, err := c.ServiceStatusField(context.Background(), "kube-system", "kube-dns", "{.spec.clusterIP}")
	require.NoError(t, err)
	assert.Equal(t, "10.4.0.10", out)
}

func TestServiceStatusField_MissingIngressIsError(t *testing.T) {
	t.Parallel()

	clientset := fake.NewSimpleClientset(&corev1.Service{
		ObjectMeta: metav1.ObjectMeta{Name: "gw", Namespace: "istio-system"},
	})
	c := &Client{clientset: clientset}

	_, err := c.ServiceStatusField(context.Background(), "istio-system", "gw", "{.status.loadBalancer.ingress[0].ip}")
	assert.Error(t, err, "a missing status field reads as an error, which pollers treat as not-yet")
}

func TestServiceStatusField_LoadBalancerIngress(t *testing.T) {
	t.Parallel()

	clientset := fake.NewSimpleClientset(&corev1.Service{
		ObjectMeta: metav1.ObjectMeta{Name: "gw", Namespace: "istio-system"},
		Status: corev1.ServiceStatus{
			LoadBalancer: corev1.LoadBalancerStatus{
				Ingress: []corev1.LoadBalancerIngress{{IP: "34.72.11.5"}},
			},
		},
	})
	c := &Client{clientset: clientset}

	out, err := c.ServiceStatusField(context.Background(), "istio-system", "gw", "{.status.loadBalancer.ingress[0].ip}")
	require.NoError(t, err)
	assert.Equal(t, "34.72.11.5", out)
}

func TestExecInPod_NoMatchingPods(t *testing.T) {
	t.Parallel()

	c := &Client{clientset: fake.NewSimpleClientset(), restcfg: &rest.Config{}}

	_, err := c.ExecInPod(context.Background(), "istio-system", "app=istiod", []string{"cat", "/tmp/cert"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "no pods match")
}
