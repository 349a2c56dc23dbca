package setup

import (
	"github.com/spf13/cast"

	"github.com/mongodb/mongodb-docker-tests/pkg/util/envvar"
	"github.com/mongodb/mongodb-docker-tests/test/e2e"
)

// Environment variables a test run is configured through. The test runner
// sets them for the scenario processes it spawns.
const (
	ImageEnvName          = "MONGODB_IMAGE"
	VersionRangeEnvName   = "MONGODB_VERSION_RANGE"
	PortEnvName           = "MONGODB_PORT"
	NetworkEnvName        = "TEST_NETWORK"
	PerformCleanupEnvName = "PERFORM_CLEANUP"
	EnableDebugEnvName    = "ENABLE_DEBUG"
	ArtifactsDirEnvName   = "ARTIFACTS_DIR"
)

// TestConfig holds the external settings of a test run. Everything comes
// from environment variables so the same binaries work locally and in CI.
type TestConfig struct {
	// Image is the MongoDB image under test.
	Image string

	// VersionRange is the semver range the mongod inside Image must report.
	VersionRange string

	// Port mongod listens on inside the containers.
	Port int

	// Network is the Docker network containers attach to, empty for the
	// engine default.
	Network string

	// PerformCleanup removes the test containers on teardown. Disable it to
	// inspect the containers of a failed run.
	PerformCleanup bool

	// EnableDebug makes the image entrypoint log every command it runs.
	EnableDebug bool

	// ArtifactsDir is where cluster state dumps end up. Empty disables the
	// dump files, the state is still logged.
	ArtifactsDir string
}

func LoadTestConfig() TestConfig {
	return TestConfig{
		Image:          envvar.GetEnvOrDefault(ImageEnvName, "mongodb-docker-tests/database:latest"),
		VersionRange:   envvar.GetEnvOrDefault(VersionRangeEnvName, ">=4.0.0 <5.0.0"),
		Port:           cast.ToInt(envvar.GetEnvOrDefault(PortEnvName, "27017")),
		Network:        envvar.GetEnvOrDefault(NetworkEnvName, ""),
		PerformCleanup: cast.ToBool(envvar.GetEnvOrDefault(PerformCleanupEnvName, "true")),
		EnableDebug:    envvar.ReadBool(EnableDebugEnvName),
		ArtifactsDir:   envvar.GetEnvOrDefault(ArtifactsDirEnvName, ""),
	}
}

// NodeSpec translates the run configuration into the settings nodes are
// created with.
func (c TestConfig) NodeSpec() e2eutil.NodeSpec {
	return e2eutil.NodeSpec{
		Image:   c.Image,
		Port:    c.Port,
		Network: c.Network,
		Debug:   c.EnableDebug,
	}
}
