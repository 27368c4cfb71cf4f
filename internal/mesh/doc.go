// Package mesh derives workload mesh identity from caller-supplied labels and
// assembles the GCE instance-template document that lets a VM join a managed
// mesh as a workload.
//
// Identity derivation is a pure function over an ordered label set. Template
// assembly either synthesizes a minimal default document or transforms an
// existing source template, then injects the mesh metadata items, startup
// script, and VM labels.
package mesh
