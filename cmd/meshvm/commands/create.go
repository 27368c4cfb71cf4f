package commands

import (
	"github.com/spf13/cobra"

	"github.com/meshvm/meshvm/cmd/meshvm/handlers"
)

// Create returns the command for provisioning an instance template.
//
// The command validates the target cluster, derives the workload's canonical
// identity from labels, retrieves the cluster's DNS address, gateway address,
// and root certificate, assembles the template document, submits it, and
// waits for the creation operation to complete.
//
// Environment variables:
//
//	MESHVM_PROJECT / GOOGLE_CLOUD_PROJECT: fallback for --project
func Create() *cobra.Command {
	var opts handlers.CreateOptions

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an instance template for a mesh VM workload",
		Long: `Create a GCE instance template whose instances join an existing
managed-mesh cluster as VM workloads.

The cluster must already run the mesh control plane and expose an east-west
gateway. The template embeds the cluster's root certificate, the gateway
address, and the workload's canonical identity, so instances created from it
bootstrap straight into the mesh.

Examples:
  # Create a template with a synthesized default machine shape
  meshvm create --project my-proj --cluster mesh --location us-central1-a \
    --name payments-vm --labels app=payments,version=v1

  # Base the template on an existing one
  meshvm create --project my-proj --cluster mesh --location us-central1-a \
    --name payments-vm --source-template payments-base

  # Inspect the assembled document without creating anything
  meshvm create --project my-proj --cluster mesh --location us-central1-a \
    --name payments-vm --dry-run`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Create(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "Path to configuration file (default: meshvm.yaml)")
	cmd.Flags().StringVar(&opts.Project, "project", "", "Google Cloud project id")
	cmd.Flags().StringVar(&opts.Cluster, "cluster", "", "Target cluster name")
	cmd.Flags().StringVar(&opts.Location, "location", "", "Target cluster location")
	cmd.Flags().StringVar(&opts.Name, "name", "", "Name of the instance template to create")
	cmd.Flags().StringVar(&opts.SourceTemplate, "source-template", "", "Existing template to use as the base document")
	cmd.Flags().StringVar(&opts.WorkloadName, "workload-name", "", "Fallback service name when no name-bearing label is given")
	cmd.Flags().StringVar(&opts.Labels, "labels", "", "Workload labels as key=value,key=value")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Assemble and print the template document without submitting it")

	return cmd
}
