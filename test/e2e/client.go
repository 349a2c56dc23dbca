package e2eutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/google/uuid"

	"github.com/mongodb/mongodb-docker-tests/pkg/docker"
	"github.com/mongodb/mongodb-docker-tests/pkg/util/envvar"
	"github.com/mongodb/mongodb-docker-tests/pkg/util/functions"
)

// TestsEnabledEnvName gates the e2e tests, they need a Docker daemon.
const TestsEnabledEnvName = "MDB_DOCKER_TESTS"

const startupTimeout = 30 * time.Second

// TestClient is the Docker client shared by every test in the process.
// It is initialized once in RunTest.
var TestClient *docker.Client

// TestRunID tags every container created by this process so that leftovers
// from aborted runs can be found and removed by label.
var TestRunID string

// Context tracks cleanup functions registered by test steps. Teardown runs
// them in reverse order so containers are removed before the volumes they
// mount.
type Context struct {
	cleanupFuncs []func() error

	// performCleanup controls whether Teardown actually removes anything.
	// Leaving containers behind is useful when debugging a failed run.
	performCleanup bool

	t *testing.T
}

func NewContext(t *testing.T, performCleanup bool) *Context {
	return &Context{t: t, performCleanup: performCleanup}
}

// Teardown runs the registered cleanup functions best effort: a failing
// function does not stop the ones after it.
func (ctx *Context) Teardown() {
	if !ctx.performCleanup {
		ctx.t.Log("Skipping cleanup, the test containers have been left running")
		return
	}
	if err := functions.RunBestEffort(ctx.cleanupFuncs...); err != nil {
		ctx.t.Logf("cleanup did not complete cleanly: %s", err)
	}
}

// AddCleanupFunc registers a function to be run as part of Teardown.
func (ctx *Context) AddCleanupFunc(fn func() error) {
	ctx.cleanupFuncs = append(ctx.cleanupFuncs, fn)
}

// RunTest is the main entry point for the e2e tests. Tests only run when
// MDB_DOCKER_TESTS is set, so that a plain "go test ./..." on a machine
// without a Docker daemon stays green.
func RunTest(m *testing.M) (int, error) {
	if !envvar.ReadBool(TestsEnabledEnvName) {
		fmt.Printf("Skipping e2e test, set %s=true to enable\n", TestsEnabledEnvName)
		return 0, nil
	}

	logger, err := configureLogger()
	if err != nil {
		return 1, err
	}
	defer logger.Sync() //nolint

	TestRunID = uuid.NewString()[:8]

	TestClient, err = docker.NewClient()
	if err != nil {
		return 1, err
	}
	defer TestClient.Close() //nolint

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()
	if err := TestClient.Ping(ctx); err != nil {
		return 1, err
	}

	return m.Run(), nil
}

func configureLogger() (*zap.Logger, error) {
	logger, err := zap.NewDevelopment()
	if err == nil {
		zap.ReplaceGlobals(logger)
	}
	return logger, err
}
