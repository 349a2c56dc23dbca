package setup

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/mongodb/mongodb-docker-tests/pkg/docker"
	"github.com/mongodb/mongodb-docker-tests/test/e2e"
)

// Setup prepares a test run against the Docker daemon: it checks the daemon
// is reachable, makes sure the image under test is present and removes
// containers left behind by earlier aborted runs.
func Setup(ctx context.Context, t *testing.T) *e2eutil.Context {
	config := LoadTestConfig()
	testCtx := e2eutil.NewContext(t, config.PerformCleanup)

	if err := e2eutil.TestClient.Ping(ctx); err != nil {
		t.Fatal(err)
	}

	if err := e2eutil.TestClient.EnsureImage(ctx, config.Image); err != nil {
		t.Fatal(err)
	}

	// Aborted earlier runs leave their containers behind, the teardown trap
	// is best effort only. Keep them when cleanup is off, that is the
	// debugging mode.
	if config.PerformCleanup {
		removed, err := e2eutil.TestClient.RemoveByLabel(ctx, docker.LabelManagedBy, docker.ManagedByValue)
		if err != nil {
			t.Fatal(err)
		}
		if removed > 0 {
			zap.S().Infof("Removed %d leftover test containers", removed)
		}
	}

	return testCtx
}
