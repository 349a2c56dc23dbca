package docker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestManagedLabels(t *testing.T) {
	labels := ManagedLabels("abc123")
	assert.Equal(t, ManagedByValue, labels[LabelManagedBy])
	assert.Equal(t, "abc123", labels[LabelRunID])
}

func TestLabelFilter(t *testing.T) {
	args := labelFilter(LabelRunID, "abc123")
	assert.Equal(t, []string{LabelRunID + "=abc123"}, args.Get("label"))
}

func TestMergeLabels(t *testing.T) {
	merged := mergeLabels(
		map[string]string{"a": "1", "b": "2"},
		map[string]string{"b": "3", "c": "4"},
	)
	assert.Equal(t, map[string]string{"a": "1", "b": "3", "c": "4"}, merged)
}
