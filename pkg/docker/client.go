// Package docker wraps the Docker Engine SDK with the container operations
// the test harness needs: data volume holders, one-shot entrypoint runs,
// detached database containers and label-scoped cleanup.
package docker

import (
	"context"
	"io"
	"time"

	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/pkg/errors"
)

const pingTimeout = 5 * time.Second

// Client wraps the Docker SDK client. All container access in the harness
// goes through it.
type Client struct {
	inner *client.Client
}

// NewClient connects to the Docker daemon using the standard environment
// variables (DOCKER_HOST et al.) and negotiates the API version with the
// daemon, so the same binary works against older engines.
func NewClient() (*Client, error) {
	inner, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, errors.Wrap(err, "failed to create docker client")
	}
	return &Client{inner: inner}, nil
}

// Ping verifies the daemon is reachable and responsive.
func (c *Client) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if _, err := c.inner.Ping(pingCtx); err != nil {
		return errors.Wrap(err, "docker daemon is not responding")
	}
	return nil
}

// EnsureImage pulls the image unless the daemon already has it.
func (c *Client) EnsureImage(ctx context.Context, ref string) error {
	images, err := c.inner.ImageList(ctx, image.ListOptions{
		Filters: filters.NewArgs(filters.Arg("reference", ref)),
	})
	if err != nil {
		return errors.Wrapf(err, "failed to list images matching %s", ref)
	}
	if len(images) > 0 {
		return nil
	}

	rc, err := c.inner.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return errors.Wrapf(err, "failed to pull image %s", ref)
	}
	defer rc.Close()

	// The pull is aborted unless its progress stream is consumed.
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return errors.Wrapf(err, "failed reading pull progress for image %s", ref)
	}
	return nil
}

func (c *Client) Close() error {
	if c.inner != nil {
		return c.inner.Close()
	}
	return nil
}
