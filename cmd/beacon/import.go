package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/cuemby/beacon/pkg/types"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var devicesImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Bulk assign trackers from a YAML file",
	Long: `Bulk assign trackers to events from a YAML file. The assignments are
merged: trackers not mentioned in the file keep their current event.

Example file:

  apiVersion: beacon/v1
  kind: Assignments
  metadata:
    name: spring-race
  spec:
    event: race
    trackers:
      - tonw-0001
      - tonw-0002
    assignments:
      tonw-0100: expo

Examples:
  beacon devices import -f race.yaml
  beacon devices import -f race.yaml --dry-run`,
	RunE: runDevicesImport,
}

func init() {
	devicesImportCmd.Flags().StringP("file", "f", "", "YAML file to import (required)")
	devicesImportCmd.Flags().Bool("dry-run", false, "Print the assignments without applying them")
	_ = devicesImportCmd.MarkFlagRequired("file")
}

// AssignmentResource is the YAML document accepted by devices import
type AssignmentResource struct {
	APIVersion string           `yaml:"apiVersion"`
	Kind       string           `yaml:"kind"`
	Metadata   ResourceMetadata `yaml:"metadata"`
	Spec       AssignmentSpec   `yaml:"spec"`
}

type ResourceMetadata struct {
	Name   string            `yaml:"name"`
	Labels map[string]string `yaml:"labels,omitempty"`
}

// AssignmentSpec assigns Trackers to Event, plus explicit pairs
type AssignmentSpec struct {
	Event       string            `yaml:"event"`
	Trackers    []string          `yaml:"trackers"`
	Assignments map[string]string `yaml:"assignments"`
}

// parseAssignments turns an AssignmentResource document into a mapping
func parseAssignments(data []byte) (types.Assignments, error) {
	var resource AssignmentResource
	if err := yaml.Unmarshal(data, &resource); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if resource.Kind != "Assignments" {
		return nil, fmt.Errorf("unsupported resource kind: %q", resource.Kind)
	}

	spec := resource.Spec
	if len(spec.Trackers) > 0 && spec.Event == "" {
		return nil, fmt.Errorf("spec.event is required when spec.trackers is set")
	}

	mapping := make(types.Assignments, len(spec.Trackers)+len(spec.Assignments))
	for _, id := range spec.Trackers {
		mapping[id] = spec.Event
	}
	// Explicit pairs win over the list
	for id, event := range spec.Assignments {
		mapping[id] = event
	}

	if len(mapping) == 0 {
		return nil, fmt.Errorf("no assignments in %s", resourceName(resource))
	}
	return mapping, nil
}

func resourceName(r AssignmentResource) string {
	if r.Metadata.Name != "" {
		return r.Metadata.Name
	}
	return "file"
}

func runDevicesImport(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	// Read YAML file
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	mapping, err := parseAssignments(data)
	if err != nil {
		return err
	}

	if dryRun {
		ids := make([]string, 0, len(mapping))
		for id := range mapping {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Printf("%s -> %s\n", id, mapping[id])
		}
		fmt.Printf("Dry run: %d assignment(s) not applied\n", len(mapping))
		return nil
	}

	c, err := newClient(cmd, true)
	if err != nil {
		return err
	}
	devices, err := c.BulkAssign(mapping)
	if err != nil {
		return fmt.Errorf("failed to import assignments: %w", err)
	}

	fmt.Printf("✓ Imported %d assignment(s), %d tracker(s) assigned in total\n", len(mapping), len(devices))
	return nil
}
