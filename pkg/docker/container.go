package docker

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/errdefs"
	"github.com/docker/go-connections/nat"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// RunSpec describes a container to create from the database image.
type RunSpec struct {
	Image string
	Name  string

	// Cmd is passed to the image entrypoint and selects its operating mode.
	Cmd []string

	// Env entries in KEY=value form.
	Env []string

	// VolumesFrom attaches the volumes of the named containers, the way the
	// database containers share a data container's volume.
	VolumesFrom []string

	// Network to attach to. Empty means the engine default bridge.
	Network string

	Labels map[string]string

	// Port is exposed on the container when non-zero.
	Port int
}

func (s RunSpec) containerConfig() (*container.Config, *container.HostConfig) {
	config := &container.Config{
		Image:  s.Image,
		Cmd:    s.Cmd,
		Env:    s.Env,
		Labels: mergeLabels(map[string]string{LabelManagedBy: ManagedByValue}, s.Labels),
	}
	if s.Port != 0 {
		config.ExposedPorts = nat.PortSet{
			nat.Port(fmt.Sprintf("%d/tcp", s.Port)): struct{}{},
		}
	}

	hostConfig := &container.HostConfig{
		VolumesFrom: s.VolumesFrom,
	}
	if s.Network != "" {
		hostConfig.NetworkMode = container.NetworkMode(s.Network)
	}
	return config, hostConfig
}

// OneShotResult is the outcome of a container that ran to completion.
type OneShotResult struct {
	ExitCode int
	Output   string

	// Address the container had while it ran. Empty when the container
	// exited before it could be observed.
	Address string
}

// Succeeded reports whether the run exited with code 0.
func (r OneShotResult) Succeeded() bool {
	return r.ExitCode == 0
}

// CreateDataContainer creates a container that is never started. Its
// anonymous volumes hold the database files; every lifecycle of a node
// attaches to them with VolumesFrom.
func (c *Client) CreateDataContainer(ctx context.Context, spec RunSpec) error {
	config, hostConfig := spec.containerConfig()
	_, err := c.inner.ContainerCreate(ctx, config, hostConfig, &network.NetworkingConfig{}, nil, spec.Name)
	return errors.Wrapf(err, "failed to create data container %s", spec.Name)
}

// RunDetached creates and starts a container that keeps running, returning
// its id.
func (c *Client) RunDetached(ctx context.Context, spec RunSpec) (string, error) {
	config, hostConfig := spec.containerConfig()
	created, err := c.inner.ContainerCreate(ctx, config, hostConfig, &network.NetworkingConfig{}, nil, spec.Name)
	if err != nil {
		return "", errors.Wrapf(err, "failed to create container %s", spec.Name)
	}
	if err := c.inner.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return "", errors.Wrapf(err, "failed to start container %s", spec.Name)
	}
	return created.ID, nil
}

// RunOneShot creates and starts a container, waits for it to exit, and
// returns its exit code, combined output and the address it ran under.
// The container is removed before returning.
func (c *Client) RunOneShot(ctx context.Context, spec RunSpec) (OneShotResult, error) {
	config, hostConfig := spec.containerConfig()
	created, err := c.inner.ContainerCreate(ctx, config, hostConfig, &network.NetworkingConfig{}, nil, spec.Name)
	if err != nil {
		return OneShotResult{}, errors.Wrapf(err, "failed to create container %s", spec.Name)
	}
	defer func() {
		_ = c.inner.ContainerRemove(context.WithoutCancel(ctx), created.ID, container.RemoveOptions{Force: true, RemoveVolumes: true})
	}()

	if err := c.inner.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return OneShotResult{}, errors.Wrapf(err, "failed to start container %s", spec.Name)
	}

	// The address has to be read while the container is alive, it is gone
	// from the inspect output once the container exits.
	address, err := c.ContainerAddress(ctx, created.ID)
	if err != nil {
		zap.S().Debugf("Could not read the address of container %s: %s", spec.Name, err)
	}

	result := OneShotResult{Address: address}
	waitCh, errCh := c.inner.ContainerWait(ctx, created.ID, container.WaitConditionNotRunning)
	select {
	case wait := <-waitCh:
		if wait.Error != nil {
			return OneShotResult{}, errors.Errorf("error waiting for container %s: %s", spec.Name, wait.Error.Message)
		}
		result.ExitCode = int(wait.StatusCode)
	case err := <-errCh:
		return OneShotResult{}, errors.Wrapf(err, "error waiting for container %s", spec.Name)
	}

	output, err := c.Logs(ctx, created.ID, time.Time{})
	if err != nil {
		return OneShotResult{}, err
	}
	result.Output = output
	return result, nil
}

// StartContainer starts a stopped container.
func (c *Client) StartContainer(ctx context.Context, name string) error {
	err := c.inner.ContainerStart(ctx, name, container.StartOptions{})
	return errors.Wrapf(err, "failed to start container %s", name)
}

// StopContainer gracefully stops a container, waiting up to timeout before
// the engine kills it.
func (c *Client) StopContainer(ctx context.Context, name string, timeout time.Duration) error {
	secs := int(timeout.Seconds())
	err := c.inner.ContainerStop(ctx, name, container.StopOptions{Timeout: &secs})
	return errors.Wrapf(err, "failed to stop container %s", name)
}

// KillContainer delivers SIGKILL. The process gets no chance to shut down,
// which is exactly what the crash recovery tests need.
func (c *Client) KillContainer(ctx context.Context, name string) error {
	err := c.inner.ContainerKill(ctx, name, "SIGKILL")
	return errors.Wrapf(err, "failed to kill container %s", name)
}

// RemoveContainer force-removes a container and its anonymous volumes.
// Removing a container that is already gone is not an error.
func (c *Client) RemoveContainer(ctx context.Context, name string) error {
	err := c.inner.ContainerRemove(ctx, name, container.RemoveOptions{Force: true, RemoveVolumes: true})
	if err != nil && !errdefs.IsNotFound(err) {
		return errors.Wrapf(err, "failed to remove container %s", name)
	}
	return nil
}

// IsRunning reports whether the named container is currently running.
func (c *Client) IsRunning(ctx context.Context, name string) (bool, error) {
	resp, err := c.inner.ContainerInspect(ctx, name)
	if err != nil {
		return false, errors.Wrapf(err, "failed to inspect container %s", name)
	}
	return resp.State != nil && resp.State.Running, nil
}

// ContainerAddress returns the address of the container on its network,
// or "" when the container holds no address (not running, or not attached).
func (c *Client) ContainerAddress(ctx context.Context, name string) (string, error) {
	resp, err := c.inner.ContainerInspect(ctx, name)
	if err != nil {
		return "", errors.Wrapf(err, "failed to inspect container %s", name)
	}
	return addressOf(resp.NetworkSettings), nil
}

func addressOf(settings *container.NetworkSettings) string {
	if settings == nil {
		return ""
	}
	for _, endpoint := range settings.Networks {
		if endpoint != nil && endpoint.IPAddress != "" {
			return endpoint.IPAddress
		}
	}
	return ""
}

// ProcessNames returns the command lines of the processes running inside the
// container, as reported by the engine's top endpoint.
func (c *Client) ProcessNames(ctx context.Context, name string) ([]string, error) {
	top, err := c.inner.ContainerTop(ctx, name, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list processes of container %s", name)
	}
	return commandColumn(top), nil
}

func commandColumn(top container.TopResponse) []string {
	cmdIndex := -1
	for i, title := range top.Titles {
		if title == "CMD" || title == "COMMAND" {
			cmdIndex = i
			break
		}
	}
	if cmdIndex < 0 {
		return nil
	}

	var commands []string
	for _, process := range top.Processes {
		if cmdIndex < len(process) {
			commands = append(commands, process[cmdIndex])
		}
	}
	return commands
}

// ListManagedContainers returns all containers, running or not, carrying the
// given label value.
func (c *Client) ListManagedContainers(ctx context.Context, label, value string) ([]container.Summary, error) {
	containers, err := c.inner.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: labelFilter(label, value),
	})
	return containers, errors.Wrap(err, "failed to list containers")
}

// RemoveByLabel force-removes every container carrying the given label value
// and returns how many were removed.
func (c *Client) RemoveByLabel(ctx context.Context, label, value string) (int, error) {
	containers, err := c.ListManagedContainers(ctx, label, value)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, ctr := range containers {
		if err := c.RemoveContainer(ctx, ctr.ID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
