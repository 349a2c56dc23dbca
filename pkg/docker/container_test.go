package docker

import (
	"testing"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/assert"
)

func TestContainerConfig(t *testing.T) {
	spec := RunSpec{
		Image:       "mongodb-test:latest",
		Name:        "mdb0",
		Cmd:         []string{"--initialize"},
		Env:         []string{"USERNAME=tester"},
		VolumesFrom: []string{"mdb0-data"},
		Network:     "bridge",
		Labels:      map[string]string{LabelRunID: "abc123"},
		Port:        27017,
	}

	config, hostConfig := spec.containerConfig()

	assert.Equal(t, "mongodb-test:latest", config.Image)
	assert.Equal(t, []string{"--initialize"}, []string(config.Cmd))
	assert.Equal(t, []string{"USERNAME=tester"}, config.Env)
	assert.Contains(t, config.ExposedPorts, nat.Port("27017/tcp"))

	assert.Equal(t, []string{"mdb0-data"}, hostConfig.VolumesFrom)
	assert.Equal(t, container.NetworkMode("bridge"), hostConfig.NetworkMode)
}

func TestContainerConfigAlwaysCarriesManagedLabel(t *testing.T) {
	config, _ := RunSpec{Image: "mongodb-test:latest"}.containerConfig()
	assert.Equal(t, ManagedByValue, config.Labels[LabelManagedBy])

	config, _ = RunSpec{
		Image:  "mongodb-test:latest",
		Labels: map[string]string{LabelRunID: "abc123"},
	}.containerConfig()
	assert.Equal(t, ManagedByValue, config.Labels[LabelManagedBy])
	assert.Equal(t, "abc123", config.Labels[LabelRunID])
}

func TestContainerConfigWithoutPort(t *testing.T) {
	config, _ := RunSpec{Image: "mongodb-test:latest"}.containerConfig()
	assert.Empty(t, config.ExposedPorts)
}

func TestAddressOf(t *testing.T) {
	t.Run("Bridge network address", func(t *testing.T) {
		settings := &container.NetworkSettings{
			Networks: map[string]*network.EndpointSettings{
				"bridge": {IPAddress: "172.17.0.2"},
			},
		}
		assert.Equal(t, "172.17.0.2", addressOf(settings))
	})

	t.Run("Stopped container has no address", func(t *testing.T) {
		settings := &container.NetworkSettings{
			Networks: map[string]*network.EndpointSettings{
				"bridge": {IPAddress: ""},
			},
		}
		assert.Equal(t, "", addressOf(settings))
		assert.Equal(t, "", addressOf(nil))
	})
}

func TestCommandColumn(t *testing.T) {
	t.Run("CMD column is extracted", func(t *testing.T) {
		top := container.TopResponse{
			Titles: []string{"UID", "PID", "PPID", "C", "STIME", "TTY", "TIME", "CMD"},
			Processes: [][]string{
				{"999", "1", "0", "2", "10:00", "?", "00:00:01", "mongod --auth --dbpath /data/db"},
			},
		}
		assert.Equal(t, []string{"mongod --auth --dbpath /data/db"}, commandColumn(top))
	})

	t.Run("Missing column yields nothing", func(t *testing.T) {
		top := container.TopResponse{Titles: []string{"PID"}, Processes: [][]string{{"1"}}}
		assert.Nil(t, commandColumn(top))
	})
}

func TestOneShotResultSucceeded(t *testing.T) {
	assert.True(t, OneShotResult{ExitCode: 0}.Succeeded())
	assert.False(t, OneShotResult{ExitCode: 1}.Succeeded())
}
