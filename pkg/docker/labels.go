package docker

import (
	"github.com/docker/docker/api/types/filters"
)

// Labels applied to every container the harness creates. Cleanup is
// label-driven, so leftovers from an aborted run can always be found.
const (
	LabelManagedBy = "mongodb-e2e.managed-by"
	ManagedByValue = "mongodb-docker-tests"

	LabelRunID = "mongodb-e2e.run-id"
)

// ManagedLabels returns the label set for containers of the given run.
func ManagedLabels(runID string) map[string]string {
	return map[string]string{
		LabelManagedBy: ManagedByValue,
		LabelRunID:     runID,
	}
}

func labelFilter(label, value string) filters.Args {
	return filters.NewArgs(filters.Arg("label", label+"="+value))
}

func mergeLabels(base, extra map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}
