package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRootHasSubcommands(t *testing.T) {
	t.Parallel()

	root := Root()
	expected := []string{"create", "version", "completion"}
	for _, name := range expected {
		found := false
		for _, sub := range root.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}
		assert.True(t, found, "missing subcommand %q", name)
	}
}

func TestCreateFlags(t *testing.T) {
	t.Parallel()

	cmd := Create()
	for _, flag := range []string{
		"config", "project", "cluster", "location", "name",
		"source-template", "workload-name", "labels", "dry-run",
	} {
		assert.NotNil(t, cmd.Flags().Lookup(flag), "missing flag --%s", flag)
	}
}
