package contains

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	assert.True(t, String([]string{"a", "b", "c"}, "b"))
	assert.False(t, String([]string{"a", "b", "c"}, "d"))
	assert.False(t, String(nil, "a"))
}

func TestSubstring(t *testing.T) {
	processes := []string{"mongod --auth --dbpath /data/db", "bash /entrypoint.sh"}
	assert.True(t, Substring(processes, "mongod"))
	assert.True(t, Substring(processes, "entrypoint"))
	assert.False(t, Substring(processes, "mysqld"))
}
