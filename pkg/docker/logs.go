package docker

import (
	"bytes"
	"context"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/pkg/errors"
)

// Logs returns the container's combined stdout and stderr. A non-zero since
// restricts the result to lines logged after that instant, which is how
// assertions scope themselves to a single boot of a restarted container.
func (c *Client) Logs(ctx context.Context, name string, since time.Time) (string, error) {
	opts := container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	}
	if !since.IsZero() {
		opts.Since = since.Format(time.RFC3339Nano)
	}

	rc, err := c.inner.ContainerLogs(ctx, name, opts)
	if err != nil {
		return "", errors.Wrapf(err, "failed to get logs of container %s", name)
	}
	defer rc.Close()

	// The engine multiplexes both streams over one connection; StdCopy
	// strips the framing.
	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, rc); err != nil {
		return "", errors.Wrapf(err, "failed to read logs of container %s", name)
	}
	return buf.String(), nil
}
