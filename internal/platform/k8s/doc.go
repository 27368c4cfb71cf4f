// Package k8s provides the cluster-side readiness checks and fact queries
// the provisioner needs before a VM can join the mesh.
//
// The [Cluster] interface covers the four reads the driver performs:
// namespace and deployment listings for readiness validation, a JSONPath
// field read against a service's status, and a single pod exec to retrieve
// the mesh root certificate. [Client] is the production implementation; its
// credential context is rebuilt from the managed cluster record whenever the
// retrier's refresh path fires.
package k8s
