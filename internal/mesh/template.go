package mesh

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/api/compute/v1"

	"github.com/meshvm/meshvm/internal/util/ptr"
)

// Reserved metadata keys. The assembler always owns these; values carried
// over from a source template never override them.
const (
	MetaGuestAttributes = "enable-guest-attributes"
	MetaOSConfig        = "enable-osconfig"
	MetaAgentBucket     = "service-proxy-agent-bucket"
	MetaSoftwareDecl    = "gce-software-declaration"
	MetaRootCert        = "rootcert"
	MetaServiceProxy    = "gce-service-proxy"
	MetaStartupScript   = "startup-script"
)

// ReservedMetadataKeys lists every metadata key the assembler owns.
var ReservedMetadataKeys = []string{
	MetaGuestAttributes,
	MetaOSConfig,
	MetaAgentBucket,
	MetaSoftwareDecl,
	MetaRootCert,
	MetaServiceProxy,
	MetaStartupScript,
}

// Fixed shape of a synthesized template and the pinned agent location.
const (
	defaultMachineType  = "n1-standard-1"
	defaultSourceImage  = "projects/debian-cloud/global/images/family/debian-10"
	defaultDiskType     = "pd-standard"
	defaultDiskSizeGb   = 10
	cloudPlatformScope  = "https://www.googleapis.com/auth/cloud-platform"
	agentBucketLocation = "gs://gce-service-proxy/service-proxy-agent/releases/service-proxy-agent-latest.tgz"

	// discoveryPort is the mesh control-plane discovery port the VM proxy
	// dials through the east-west gateway.
	discoveryPort = 15012

	controlPlaneHostname = "istiod.istio-system.svc"
)

// VM label applied to every assembled template.
const (
	LabelServiceProxy      = "gce-service-proxy"
	labelServiceProxyValue = "asm-istiod"
)

// ClusterFacts carries the live cluster state injected into the template.
// Every field is required; the assembler refuses partial data.
type ClusterFacts struct {
	// DNSAddress is the cluster DNS service address.
	DNSAddress string

	// IngressAddress is the east-west gateway address the VM proxy dials
	// for discovery.
	IngressAddress string

	// RootCert is the mesh root certificate in PEM form.
	RootCert string
}

// ProjectContext identifies the project the template is created in.
type ProjectContext struct {
	ID                    string
	Number                uint64
	DefaultServiceAccount string
}

// MeshID returns the project-derived mesh identifier.
func (p ProjectContext) MeshID() string {
	return fmt.Sprintf("proj-%d", p.Number)
}

// WorkloadPool returns the identity-federation pool VM workloads
// authenticate into.
func (p ProjectContext) WorkloadPool() string {
	return p.ID + ".svc.id.goog"
}

// TemplateSource fetches an existing instance template by name.
type TemplateSource interface {
	GetInstanceTemplate(ctx context.Context, project, name string) (*compute.InstanceTemplate, error)
}

// AssembleInput holds everything the assembler needs for one document.
type AssembleInput struct {
	// Name is the new template's name.
	Name string

	// SourceName, when non-empty, names an existing template whose document
	// is fetched and transformed instead of synthesizing a default one.
	SourceName string

	Facts    ClusterFacts
	Identity Identity
	Labels   LabelSet
	Project  ProjectContext
}

// Assembler produces instance-template creation requests.
type Assembler struct {
	// Templates is consulted only when an input names a source template.
	Templates TemplateSource
}

// Assemble builds the final instance-template document. The result is ready
// for literal submission; no further transformation is required.
func (a *Assembler) Assemble(ctx context.Context, in AssembleInput) (*compute.InstanceTemplate, error) {
	if in.Facts.IngressAddress == "" {
		return nil, fmt.Errorf("assemble %q: ingress address is not available", in.Name)
	}
	if in.Facts.DNSAddress == "" {
		return nil, fmt.Errorf("assemble %q: cluster DNS address is not available", in.Name)
	}
	if in.Facts.RootCert == "" {
		return nil, fmt.Errorf("assemble %q: root certificate is not available", in.Name)
	}

	var (
		tpl             *compute.InstanceTemplate
		existingScript  string
		carriedMetadata []*compute.MetadataItems
	)
	if in.SourceName == "" {
		tpl = synthesizeTemplate(in.Name, in.Project)
	} else {
		if a.Templates == nil {
			return nil, fmt.Errorf("assemble %q: no template source configured for source template %q", in.Name, in.SourceName)
		}
		source, err := a.Templates.GetInstanceTemplate(ctx, in.Project.ID, in.SourceName)
		if err != nil {
			return nil, fmt.Errorf("assemble %q: failed to fetch source template %q: %w", in.Name, in.SourceName, err)
		}
		tpl = rebrandSourced(source, in.Name)
		existingScript, carriedMetadata = splitSourcedMetadata(tpl)
	}

	proxyCfg, err := buildServiceProxyConfig(in)
	if err != nil {
		return nil, fmt.Errorf("assemble %q: %w", in.Name, err)
	}
	softwareDecl, err := buildSoftwareDeclaration()
	if err != nil {
		return nil, fmt.Errorf("assemble %q: %w", in.Name, err)
	}
	startupScript := buildStartupScript(existingScript, in.Facts)

	if tpl.Properties == nil {
		tpl.Properties = &compute.InstanceProperties{}
	}
	tpl.Properties.Metadata = &compute.Metadata{
		Items: buildMetadataItems(in.Facts.RootCert, proxyCfg, softwareDecl, startupScript, carriedMetadata),
	}
	injectLabels(tpl.Properties, in.Identity, in.Project)

	return tpl, nil
}

// synthesizeTemplate builds the fixed default document: a single-core machine
// with one standard boot disk, one-to-one NAT on the default network,
// non-preemptible scheduling, and the project's default compute identity.
func synthesizeTemplate(name string, project ProjectContext) *compute.InstanceTemplate {
	return &compute.InstanceTemplate{
		Name: name,
		Properties: &compute.InstanceProperties{
			MachineType: defaultMachineType,
			Disks: []*compute.AttachedDisk{
				{
					AutoDelete: true,
					Boot:       true,
					DeviceName: name,
					Type:       "PERSISTENT",
					InitializeParams: &compute.AttachedDiskInitializeParams{
						DiskSizeGb:  defaultDiskSizeGb,
						DiskType:    defaultDiskType,
						SourceImage: defaultSourceImage,
					},
				},
			},
			NetworkInterfaces: []*compute.NetworkInterface{
				{
					Network: "global/networks/default",
					AccessConfigs: []*compute.AccessConfig{
						{Name: "External NAT", Type: "ONE_TO_ONE_NAT"},
					},
				},
			},
			Scheduling: &compute.Scheduling{
				AutomaticRestart:  ptr.Bool(true),
				OnHostMaintenance: "MIGRATE",
				Preemptible:       false,
			},
			ServiceAccounts: []*compute.ServiceAccount{
				{
					Email:  project.DefaultServiceAccount,
					Scopes: []string{cloudPlatformScope},
				},
			},
		},
	}
}

// rebrandSourced rewrites a fetched document's name and disk device names to
// the new template's name.
func rebrandSourced(tpl *compute.InstanceTemplate, newName string) *compute.InstanceTemplate {
	tpl.Name = newName
	if tpl.Properties != nil {
		for _, disk := range tpl.Properties.Disks {
			disk.DeviceName = newName
		}
	}
	return tpl
}

// splitSourcedMetadata extracts the source document's startup script and the
// remaining metadata items eligible for carry-over.
func splitSourcedMetadata(tpl *compute.InstanceTemplate) (startupScript string, carried []*compute.MetadataItems) {
	if tpl.Properties == nil || tpl.Properties.Metadata == nil {
		return "", nil
	}
	for _, item := range tpl.Properties.Metadata.Items {
		if item == nil {
			continue
		}
		if item.Key == MetaStartupScript {
			if item.Value != nil {
				startupScript = *item.Value
			}
			continue
		}
		carried = append(carried, item)
	}
	return startupScript, carried
}

// serviceProxyConfig is the descriptor the guest agent reads from instance
// metadata to configure the VM sidecar.
type serviceProxyConfig struct {
	APIVersion string       `json:"api-version"`
	Proxy      proxySpec    `json:"proxy-spec"`
	Service    workloadSpec `json:"service"`
}

type proxySpec struct {
	DiscoveryAddress string            `json:"discovery-address"`
	MeshID           string            `json:"mesh-id"`
	WorkloadPool     string            `json:"workload-pool"`
	Env              map[string]string `json:"asm-env"`
}

type workloadSpec struct {
	Labels map[string]string `json:"asm-labels"`
}

func buildServiceProxyConfig(in AssembleInput) (string, error) {
	asmLabels := map[string]string{
		KeyCanonicalName:     in.Identity.Service,
		KeyCanonicalRevision: in.Identity.Revision,
	}
	for _, l := range in.Labels {
		asmLabels[l.Key] = l.Value
	}

	cfg := serviceProxyConfig{
		APIVersion: "0.2",
		Proxy: proxySpec{
			DiscoveryAddress: fmt.Sprintf("%s:%d", in.Facts.IngressAddress, discoveryPort),
			MeshID:           in.Project.MeshID(),
			WorkloadPool:     in.Project.WorkloadPool(),
			Env: map[string]string{
				"CANONICAL_SERVICE":  in.Identity.Service,
				"CANONICAL_REVISION": in.Identity.Revision,
			},
		},
		Service: workloadSpec{Labels: asmLabels},
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to encode service-proxy config: %w", err)
	}
	return string(data), nil
}

// softwareDeclaration instructs the guest to install the mesh agent from the
// pinned bucket location on first boot.
type softwareDeclaration struct {
	SoftwareRecipes []softwareRecipe `json:"softwareRecipes"`
}

type softwareRecipe struct {
	Name         string        `json:"name"`
	DesiredState string        `json:"desired_state"`
	InstallSteps []installStep `json:"installSteps"`
}

type installStep struct {
	ScriptRun *scriptRun `json:"scriptRun,omitempty"`
}

type scriptRun struct {
	Script string `json:"script"`
}

const agentInstallScript = `#! /bin/bash
set -e
sudo mkdir -p /tmp/service-proxy-agent
sudo gsutil cp ` + agentBucketLocation + ` /tmp/service-proxy-agent/service-proxy-agent.tgz
sudo tar -xzf /tmp/service-proxy-agent/service-proxy-agent.tgz -C /tmp/service-proxy-agent
sudo /tmp/service-proxy-agent/service-proxy-agent/service-proxy-agent-bootstrap.sh`

func buildSoftwareDeclaration() (string, error) {
	decl := softwareDeclaration{
		SoftwareRecipes: []softwareRecipe{
			{
				Name:         "install-gce-service-proxy-agent",
				DesiredState: "INSTALLED",
				InstallSteps: []installStep{
					{ScriptRun: &scriptRun{Script: agentInstallScript}},
				},
			},
		},
	}

	data, err := json.Marshal(decl)
	if err != nil {
		return "", fmt.Errorf("failed to encode software declaration: %w", err)
	}
	return string(data), nil
}

// buildStartupScript appends the mesh hosts-file and DNS-resolver statements
// to the carried-over startup script, or to a fresh shebang line when the
// source had none.
func buildStartupScript(existing string, facts ClusterFacts) string {
	var b strings.Builder
	if existing == "" {
		b.WriteString("#! /bin/bash\n")
	} else {
		b.WriteString(existing)
		if !strings.HasSuffix(existing, "\n") {
			b.WriteString("\n")
		}
	}
	fmt.Fprintf(&b, "sudo sh -c 'echo \"%s %s\" >> /etc/hosts'\n", facts.IngressAddress, controlPlaneHostname)
	fmt.Fprintf(&b, "sudo sh -c 'echo \"DNS=%s\" >> /etc/systemd/resolved.conf'\n", facts.DNSAddress)
	b.WriteString("sudo systemctl restart systemd-resolved\n")
	return b.String()
}

// buildMetadataItems produces the final metadata list: one entry per reserved
// key followed by every carried-over item whose key is not reserved.
func buildMetadataItems(rootCert, proxyCfg, softwareDecl, startupScript string, carried []*compute.MetadataItems) []*compute.MetadataItems {
	items := []*compute.MetadataItems{
		{Key: MetaGuestAttributes, Value: ptr.String("TRUE")},
		{Key: MetaOSConfig, Value: ptr.String("true")},
		{Key: MetaAgentBucket, Value: ptr.String(agentBucketLocation)},
		{Key: MetaSoftwareDecl, Value: ptr.String(softwareDecl)},
		{Key: MetaRootCert, Value: ptr.String(rootCert)},
		{Key: MetaServiceProxy, Value: ptr.String(proxyCfg)},
		{Key: MetaStartupScript, Value: ptr.String(startupScript)},
	}

	reserved := make(map[string]bool, len(ReservedMetadataKeys))
	for _, key := range ReservedMetadataKeys {
		reserved[key] = true
	}
	for _, item := range carried {
		if item == nil || reserved[item.Key] {
			continue
		}
		items = append(items, item)
	}
	return items
}

func injectLabels(props *compute.InstanceProperties, identity Identity, project ProjectContext) {
	if props.Labels == nil {
		props.Labels = make(map[string]string, 4)
	}
	props.Labels[LabelServiceProxy] = labelServiceProxyValue
	props.Labels["canonical-service"] = identity.Service
	props.Labels["project-id"] = project.ID
	props.Labels["mesh-id"] = project.MeshID()
}
