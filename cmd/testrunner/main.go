package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mongodb/mongodb-docker-tests/pkg/docker"
	"github.com/mongodb/mongodb-docker-tests/pkg/mongodbimage"
	"github.com/mongodb/mongodb-docker-tests/pkg/util/contains"
	"github.com/mongodb/mongodb-docker-tests/pkg/util/envvar"
	e2eutil "github.com/mongodb/mongodb-docker-tests/test/e2e"
	"github.com/mongodb/mongodb-docker-tests/test/e2e/setup"
)

const (
	envPrefix   = "MDB_TESTS"
	scenarioDir = "test/e2e"

	keyImage          = "image"
	keyVersionRange   = "version_range"
	keyPort           = "port"
	keyNetwork        = "network"
	keyPerformCleanup = "perform_cleanup"
	keyEnableDebug    = "enable_debug"
	keyArtifactsDir   = "artifacts_dir"
	keyTestTimeout    = "test_timeout"

	defaultImage        = "mongodb-docker-tests/database:latest"
	defaultVersionRange = ">=4.0.0 <5.0.0"
	defaultArtifactsDir = "logs"
	defaultTestTimeout  = 30 * time.Minute
)

var logger *zap.SugaredLogger

type runnerConfig struct {
	Image          string
	VersionRange   string
	Port           int
	Network        string
	PerformCleanup bool
	EnableDebug    bool
	ArtifactsDir   string
	TestTimeout    time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "testrunner",
		Short: "Runs the MongoDB image e2e test scenarios",
		Long: `testrunner discovers the e2e test scenarios of this repository and runs
them one by one against a local Docker daemon, collecting their output as
run artifacts.`,
		SilenceUsage: true,
	}
	rootCmd.AddCommand(newRunCmd(), newListCmd())
	return rootCmd
}

func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run [scenario...]",
		Short: "Run e2e scenarios, all of them when none are named",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger = initLogger(config.ArtifactsDir)
			defer logger.Sync() //nolint
			return runScenarios(config, args)
		},
	}

	flags := runCmd.Flags()
	flags.String("image", defaultImage, "the MongoDB image under test")
	flags.String("version-range", defaultVersionRange, "the semver range mongod must report")
	flags.Int("port", mongodbimage.DefaultPort, "the port mongod listens on inside the containers")
	flags.String("network", "", "the Docker network the test containers attach to")
	flags.Bool("perform-cleanup", true, "remove the test containers on teardown")
	flags.Bool("enable-debug", false, "make the image entrypoint log every command it runs")
	flags.String("artifacts-dir", defaultArtifactsDir, "where test output and state dumps are written")
	flags.Duration("test-timeout", defaultTestTimeout, "the go test timeout per scenario")
	return runCmd
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the e2e scenarios of this repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			scenarios, err := discoverScenarios()
			if err != nil {
				return err
			}
			for _, scenario := range scenarios {
				fmt.Println(scenario)
			}
			return nil
		},
	}
}

// loadConfig resolves the runner configuration. Flags win over environment
// variables, environment variables win over the optional testrunner.yaml.
func loadConfig(cmd *cobra.Command) (runnerConfig, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetConfigName("testrunner")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./test")

	v.SetDefault(keyImage, defaultImage)
	v.SetDefault(keyVersionRange, defaultVersionRange)
	v.SetDefault(keyPort, mongodbimage.DefaultPort)
	v.SetDefault(keyNetwork, "")
	v.SetDefault(keyPerformCleanup, true)
	v.SetDefault(keyEnableDebug, false)
	v.SetDefault(keyArtifactsDir, defaultArtifactsDir)
	v.SetDefault(keyTestTimeout, defaultTestTimeout)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return runnerConfig{}, errors.Wrap(err, "failed to read config file")
		}
	}

	flags := cmd.Flags()
	bindings := map[string]string{
		keyImage:          "image",
		keyVersionRange:   "version-range",
		keyPort:           "port",
		keyNetwork:        "network",
		keyPerformCleanup: "perform-cleanup",
		keyEnableDebug:    "enable-debug",
		keyArtifactsDir:   "artifacts-dir",
		keyTestTimeout:    "test-timeout",
	}
	for key, flagName := range bindings {
		if err := v.BindPFlag(key, flags.Lookup(flagName)); err != nil {
			return runnerConfig{}, err
		}
	}

	return runnerConfig{
		Image:          v.GetString(keyImage),
		VersionRange:   v.GetString(keyVersionRange),
		Port:           v.GetInt(keyPort),
		Network:        v.GetString(keyNetwork),
		PerformCleanup: v.GetBool(keyPerformCleanup),
		EnableDebug:    v.GetBool(keyEnableDebug),
		ArtifactsDir:   v.GetString(keyArtifactsDir),
		TestTimeout:    v.GetDuration(keyTestTimeout),
	}, nil
}

// initLogger logs to the console and, when artifacts are collected, to a
// rotated JSON file next to them.
func initLogger(artifactsDir string) *zap.SugaredLogger {
	cores := []zapcore.Core{
		zapcore.NewCore(
			zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
			zapcore.Lock(os.Stdout),
			zap.InfoLevel,
		),
	}
	if artifactsDir != "" {
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(&lumberjack.Logger{
				Filename:   filepath.Join(artifactsDir, "testrunner.log"),
				MaxSize:    10, // megabytes
				MaxBackups: 3,
			}),
			zap.DebugLevel,
		))
	}

	log := zap.New(zapcore.NewTee(cores...), zap.Development())
	zap.ReplaceGlobals(log)
	return log.Sugar()
}

func runScenarios(config runnerConfig, requested []string) error {
	available, err := discoverScenarios()
	if err != nil {
		return err
	}

	scenarios := available
	if len(requested) > 0 {
		for _, name := range requested {
			if !contains.String(available, name) {
				return errors.Errorf("unknown scenario %s, available: %s", name, strings.Join(available, ", "))
			}
		}
		scenarios = requested
	}

	if err := preflight(config); err != nil {
		return err
	}

	failed := make([]string, 0)
	for _, scenario := range scenarios {
		logger.Infof("Running scenario %s", scenario)
		if err := runScenario(config, scenario); err != nil {
			logger.Errorf("Scenario %s failed: %s", scenario, err)
			failed = append(failed, scenario)
			continue
		}
		logger.Infof("Scenario %s passed", scenario)
	}

	if len(failed) > 0 {
		return errors.Errorf("%d of %d scenario(s) failed: %s", len(failed), len(scenarios), strings.Join(failed, ", "))
	}
	logger.Infof("All %d scenario(s) passed", len(scenarios))
	return nil
}

func runScenario(config runnerConfig, scenario string) error {
	cmd := exec.Command("go", "test", "-v", "-count=1",
		fmt.Sprintf("-timeout=%s", config.TestTimeout),
		fmt.Sprintf("./%s/%s", scenarioDir, scenario))
	cmd.Env = envvar.MergeWithOverride(os.Environ(), scenarioEnv(config))

	var sink io.Writer = os.Stdout
	if config.ArtifactsDir != "" {
		output, err := artifactFile(config.ArtifactsDir, scenario)
		if err != nil {
			return err
		}
		defer output.Close() //nolint
		sink = io.MultiWriter(os.Stdout, output)
	}
	cmd.Stdout = sink
	cmd.Stderr = sink

	return errors.Wrapf(cmd.Run(), "scenario %s", scenario)
}

// scenarioEnv is the environment the scenario process gets on top of the
// runner's own.
func scenarioEnv(config runnerConfig) []string {
	return []string{
		fmt.Sprintf("%s=true", e2eutil.TestsEnabledEnvName),
		fmt.Sprintf("%s=%s", setup.ImageEnvName, config.Image),
		fmt.Sprintf("%s=%s", setup.VersionRangeEnvName, config.VersionRange),
		fmt.Sprintf("%s=%s", setup.PortEnvName, cast.ToString(config.Port)),
		fmt.Sprintf("%s=%s", setup.NetworkEnvName, config.Network),
		fmt.Sprintf("%s=%s", setup.PerformCleanupEnvName, cast.ToString(config.PerformCleanup)),
		fmt.Sprintf("%s=%s", setup.EnableDebugEnvName, cast.ToString(config.EnableDebug)),
		fmt.Sprintf("%s=%s", setup.ArtifactsDirEnvName, config.ArtifactsDir),
	}
}

func artifactFile(artifactsDir, scenario string) (*os.File, error) {
	if err := os.MkdirAll(artifactsDir, 0755); err != nil {
		return nil, errors.Wrapf(err, "failed to create %s", artifactsDir)
	}
	name := filepath.Join(artifactsDir, fmt.Sprintf("test-%s.log", scenario))
	file, err := os.Create(name)
	return file, errors.Wrapf(err, "failed to create %s", name)
}

// preflight fails fast when no Docker daemon is reachable and pulls the image
// under test once, before a scenario spends its timeout on either.
func preflight(config runnerConfig) error {
	client, err := docker.NewClient()
	if err != nil {
		return err
	}
	defer client.Close() //nolint

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Ping(ctx); err != nil {
		return errors.Wrap(err, "no usable Docker daemon")
	}

	logger.Infof("Ensuring image %s is present", config.Image)
	return client.EnsureImage(context.Background(), config.Image)
}

// discoverScenarios finds the scenario packages: the direct children of
// test/e2e that contain a test file.
func discoverScenarios() ([]string, error) {
	entries, err := os.ReadDir(scenarioDir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", scenarioDir)
	}

	var scenarios []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		hasTests, err := containsTestFile(filepath.Join(scenarioDir, entry.Name()))
		if err != nil {
			return nil, err
		}
		if hasTests {
			scenarios = append(scenarios, entry.Name())
		}
	}
	return scenarios, nil
}

func containsTestFile(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, errors.Wrapf(err, "failed to read %s", dir)
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), "_test.go") {
			return true, nil
		}
	}
	return false, nil
}
