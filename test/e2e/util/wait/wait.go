package wait

import (
	"context"
	"testing"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/mongodb/mongodb-docker-tests/pkg/mongod"
	"github.com/mongodb/mongodb-docker-tests/pkg/mongodbimage"
	e2eutil "github.com/mongodb/mongodb-docker-tests/test/e2e"
)

// ForMongodReady waits until the node's current boot logged that mongod
// accepts connections.
func ForMongodReady(ctx context.Context, t *testing.T, node *mongodbimage.Node, options ...Configuration) error {
	return ForLogMarker(ctx, t, node.Name, mongod.ReadyForConnections, node.LastRestart, options...)
}

// ForPrimaryElected waits until the node's current boot logged a transition
// to primary.
func ForPrimaryElected(ctx context.Context, t *testing.T, node *mongodbimage.Node, options ...Configuration) error {
	return ForLogMarker(ctx, t, node.Name, mongod.TransitionToPrimary, node.LastRestart, options...)
}

// ForLogMarker waits until the container logs show the marker at some point
// after the given time.
func ForLogMarker(ctx context.Context, t *testing.T, containerName string, marker mongod.Marker, since time.Time, options ...Configuration) error {
	waitOpts := newOptions(options...)
	return wait.PollUntilContextTimeout(ctx, waitOpts.RetryInterval, waitOpts.Timeout, false, func(ctx context.Context) (done bool, err error) {
		logs, err := e2eutil.TestClient.Logs(ctx, containerName, since)
		if err != nil {
			return false, err
		}
		if !marker.In(logs) {
			t.Logf("Waiting for %s to log %s", containerName, marker)
			return false, nil
		}
		return true, nil
	})
}

// ForContainerRunning waits until the engine reports the container running.
func ForContainerRunning(ctx context.Context, t *testing.T, containerName string, options ...Configuration) error {
	waitOpts := newOptions(options...)
	return wait.PollUntilContextTimeout(ctx, waitOpts.RetryInterval, waitOpts.Timeout, false, func(ctx context.Context) (done bool, err error) {
		running, err := e2eutil.TestClient.IsRunning(ctx, containerName)
		if err != nil {
			return false, err
		}
		if !running {
			t.Logf("Waiting for %s to be running", containerName)
		}
		return running, nil
	})
}

// ForContainerStopped waits until the engine no longer reports the
// container running.
func ForContainerStopped(ctx context.Context, t *testing.T, containerName string, options ...Configuration) error {
	waitOpts := newOptions(options...)
	return wait.PollUntilContextTimeout(ctx, waitOpts.RetryInterval, waitOpts.Timeout, false, func(ctx context.Context) (done bool, err error) {
		running, err := e2eutil.TestClient.IsRunning(ctx, containerName)
		if err != nil {
			return false, err
		}
		if running {
			t.Logf("Waiting for %s to stop", containerName)
		}
		return !running, nil
	})
}
