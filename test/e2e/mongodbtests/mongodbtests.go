package mongodbtests

import (
	"context"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"gopkg.in/yaml.v3"

	"github.com/mongodb/mongodb-docker-tests/pkg/docker"
	"github.com/mongodb/mongodb-docker-tests/pkg/mongod"
	"github.com/mongodb/mongodb-docker-tests/pkg/mongodbimage"
	"github.com/mongodb/mongodb-docker-tests/pkg/util/contains"
	"github.com/mongodb/mongodb-docker-tests/pkg/util/versions"
	e2eutil "github.com/mongodb/mongodb-docker-tests/test/e2e"
	"github.com/mongodb/mongodb-docker-tests/test/e2e/util/mongotester"
	"github.com/mongodb/mongodb-docker-tests/test/e2e/util/wait"
)

const (
	memberStateAttempts = 5
	memberStateBackoff  = 2 * time.Second
)

// HasExpectedVersion runs mongod once to print its version and checks the
// reported version sits inside the configured range. When reportedVersion
// is non nil the parsed version is stored there for later steps.
func HasExpectedVersion(ctx context.Context, image, versionRange string, reportedVersion *string) func(*testing.T) {
	return func(t *testing.T) {
		res, err := e2eutil.TestClient.RunOneShot(ctx, docker.RunSpec{
			Image:  image,
			Name:   fmt.Sprintf("version-probe-%s", uuid.NewString()[:5]),
			Cmd:    mongodbimage.VersionCommand(),
			Labels: docker.ManagedLabels(e2eutil.TestRunID),
		})
		if err != nil {
			t.Fatal(err)
		}
		assert.True(t, res.Succeeded(), "mongod --version exited with %d, output:\n%s", res.ExitCode, res.Output)

		version, err := versions.FromVersionOutput(res.Output)
		if err != nil {
			t.Fatal(err)
		}
		t.Logf("Image %s reports mongod version %s", image, version)

		matches, err := versions.MatchesRange(version, versionRange)
		if err != nil {
			t.Fatal(err)
		}
		assert.True(t, matches, "version %s is outside the supported range %s", version, versionRange)

		if reportedVersion != nil {
			*reportedVersion = version
		}
	}
}

// CreateDataContainer creates the node's data volume container. It is never
// started, the database containers attach to its volumes.
func CreateDataContainer(ctx context.Context, testCtx *e2eutil.Context, node *mongodbimage.Node) func(*testing.T) {
	return func(t *testing.T) {
		err := e2eutil.TestClient.CreateDataContainer(ctx, docker.RunSpec{
			Image:  node.Image,
			Name:   node.DataName,
			Labels: docker.ManagedLabels(e2eutil.TestRunID),
		})
		if err != nil {
			t.Fatal(err)
		}
		testCtx.AddCleanupFunc(func() error {
			return e2eutil.TestClient.RemoveContainer(context.Background(), node.DataName)
		})
		t.Logf("Created data container %s", node.DataName)
	}
}

// InitializeNode runs the image's one time initialization against the
// node's data volumes. The run must exit zero and hand the data directory
// back cleanly shut down, the node boots from it next.
func InitializeNode(ctx context.Context, node *mongodbimage.Node) func(*testing.T) {
	return func(t *testing.T) {
		res, err := nodeOneShot(ctx, node, "init", mongodbimage.Initialize())
		if err != nil {
			t.Fatal(err)
		}
		assert.True(t, res.Succeeded(), "initialize of %s exited with %d, output:\n%s", node.Name, res.ExitCode, res.Output)
		assert.True(t, mongod.CleanShutdown.In(res.Output), "initialize of %s did not shut down cleanly, output:\n%s", node.Name, res.Output)
	}
}

// InitializeNodeFrom initializes the node as a new member of the replica
// set the seed node belongs to.
func InitializeNodeFrom(ctx context.Context, node *mongodbimage.Node, seed *mongodbimage.Node) func(*testing.T) {
	return func(t *testing.T) {
		res, err := nodeOneShot(ctx, node, "init-from", mongodbimage.InitializeFrom(seed.ConnectionURL()))
		if err != nil {
			t.Fatal(err)
		}
		assert.True(t, res.Succeeded(), "initialize of %s from %s exited with %d, output:\n%s", node.Name, seed.Name, res.ExitCode, res.Output)
		assert.True(t, mongod.CleanShutdown.In(res.Output), "initialize of %s did not shut down cleanly, output:\n%s", node.Name, res.Output)
	}
}

// StartNode starts the node's database container and records the address it
// is reachable at.
func StartNode(ctx context.Context, testCtx *e2eutil.Context, node *mongodbimage.Node) func(*testing.T) {
	return func(t *testing.T) {
		node.LastRestart = time.Now()
		_, err := e2eutil.TestClient.RunDetached(ctx, docker.RunSpec{
			Image:       node.Image,
			Name:        node.Name,
			Env:         node.Options.Env(),
			VolumesFrom: []string{node.DataName},
			Network:     node.Network,
			Labels:      docker.ManagedLabels(e2eutil.TestRunID),
			Port:        node.Options.Port,
		})
		if err != nil {
			t.Fatal(err)
		}
		testCtx.AddCleanupFunc(func() error {
			return e2eutil.TestClient.RemoveContainer(context.Background(), node.Name)
		})

		if err := wait.ForContainerRunning(ctx, t, node.Name); err != nil {
			t.Fatal(err)
		}
		refreshAddress(ctx, t, node)
	}
}

// MongodBecomesReady waits until the node's current boot logs that mongod
// accepts connections and checks the process is actually there.
func MongodBecomesReady(ctx context.Context, node *mongodbimage.Node) func(*testing.T) {
	return func(t *testing.T) {
		if err := wait.ForMongodReady(ctx, t, node); err != nil {
			t.Fatal(err)
		}
		processes, err := e2eutil.TestClient.ProcessNames(ctx, node.Name)
		if err != nil {
			t.Fatal(err)
		}
		assert.True(t, contains.Substring(processes, "mongod"), "expected a mongod process in %s, got %v", node.Name, processes)
	}
}

// StopNode gracefully stops the node's container, giving mongod up to the
// grace period to shut down on its own.
func StopNode(ctx context.Context, node *mongodbimage.Node, gracePeriod time.Duration) func(*testing.T) {
	return func(t *testing.T) {
		if err := e2eutil.TestClient.StopContainer(ctx, node.Name, gracePeriod); err != nil {
			t.Fatal(err)
		}
		if err := wait.ForContainerStopped(ctx, t, node.Name); err != nil {
			t.Fatal(err)
		}
	}
}

// KillNode kills the node's container, simulating a crash. mongod gets no
// chance to flush or mark a clean shutdown.
func KillNode(ctx context.Context, node *mongodbimage.Node) func(*testing.T) {
	return func(t *testing.T) {
		if err := e2eutil.TestClient.KillContainer(ctx, node.Name); err != nil {
			t.Fatal(err)
		}
		if err := wait.ForContainerStopped(ctx, t, node.Name); err != nil {
			t.Fatal(err)
		}
	}
}

// StartStoppedNode starts the node's existing container again after a stop
// or a kill. Log assertions after this step only see the new boot.
func StartStoppedNode(ctx context.Context, node *mongodbimage.Node) func(*testing.T) {
	return func(t *testing.T) {
		node.LastRestart = time.Now()
		if err := e2eutil.TestClient.StartContainer(ctx, node.Name); err != nil {
			t.Fatal(err)
		}
		if err := wait.ForContainerRunning(ctx, t, node.Name); err != nil {
			t.Fatal(err)
		}
		refreshAddress(ctx, t, node)
	}
}

// NodeLogged asserts the marker shows up in the logs of the node's current
// boot.
func NodeLogged(ctx context.Context, node *mongodbimage.Node, marker mongod.Marker) func(*testing.T) {
	return func(t *testing.T) {
		logs := nodeLogs(ctx, t, node)
		assert.True(t, marker.In(logs), "expected %s in the logs of %s:\n%s", marker, node.Name, logs)
	}
}

// NodeDidNotLog asserts the marker is absent from the logs of the node's
// current boot.
func NodeDidNotLog(ctx context.Context, node *mongodbimage.Node, marker mongod.Marker) func(*testing.T) {
	return func(t *testing.T) {
		logs := nodeLogs(ctx, t, node)
		assert.False(t, marker.In(logs), "did not expect %s in the logs of %s:\n%s", marker, node.Name, logs)
	}
}

// PredictMemberAddresses probes the network with a throwaway discovery
// container and assigns each member the address it is expected to come up
// at. Members advertise their address before the engine assigns it, the
// seed URL handed to joining members has to be reachable.
func PredictMemberAddresses(ctx context.Context, rs mongodbimage.Deployment) func(*testing.T) {
	return func(t *testing.T) {
		seed := rs.Seed()
		res, err := e2eutil.TestClient.RunOneShot(ctx, docker.RunSpec{
			Image:   seed.Image,
			Name:    oneShotName(seed, "discover"),
			Cmd:     mongodbimage.Discover(),
			Env:     seed.Options.Env(),
			Network: seed.Network,
			Labels:  docker.ManagedLabels(e2eutil.TestRunID),
		})
		if err != nil {
			t.Fatal(err)
		}
		assert.True(t, res.Succeeded(), "discovery probe exited with %d, output:\n%s", res.ExitCode, res.Output)

		reported := firstIPv4(res.Output)
		if reported == "" {
			t.Fatalf("discovery probe did not print an address, output:\n%s", res.Output)
		}
		assert.Equal(t, res.Address, reported, "the probe must report the address the engine assigned it")

		// The probe freed its address on exit. The engine hands out the
		// lowest free address, so the next containers to start get this one
		// and its successors.
		addr, err := netip.ParseAddr(reported)
		if err != nil {
			t.Fatal(err)
		}
		for i, node := range rs.Nodes {
			if i > 0 {
				addr = addr.Next()
			}
			node.Options.ExposeHost = addr.String()
			t.Logf("Node %s is expected to come up at %s", node.Name, addr)
		}
	}
}

// ConnectionURLMatches verifies the URL the image prints for the node is
// exactly the one the tests compute. The node must advertise a fixed host,
// without one the printed address would be the throwaway container's own.
// It must already be started, the computed URL carries the observed address.
func ConnectionURLMatches(ctx context.Context, node *mongodbimage.Node) func(*testing.T) {
	return func(t *testing.T) {
		if node.Address == "" {
			t.Fatalf("node %s has not been started, its connection URL is not known yet", node.Name)
		}
		res, err := nodeOneShot(ctx, node, "url", mongodbimage.ConnectionURL())
		if err != nil {
			t.Fatal(err)
		}
		assert.True(t, res.Succeeded(), "connection URL run exited with %d, output:\n%s", res.ExitCode, res.Output)
		assert.Contains(t, res.Output, node.ConnectionURL())
	}
}

// PrimaryLogState is the transition history of an elected primary at the
// moment it was recorded. A member that wins an election has already logged
// a transition to secondary during its own boot, so stability is judged by
// the counts not moving, never by a marker being absent.
type PrimaryLogState struct {
	PrimaryTransitions   int
	SecondaryTransitions int
}

// RecordPrimaryLogState stores how many transition lines the node has
// logged so far. Stability checks compare against it later.
func RecordPrimaryLogState(ctx context.Context, node *mongodbimage.Node, state *PrimaryLogState) func(*testing.T) {
	return func(t *testing.T) {
		logs := nodeLogs(ctx, t, node)
		state.PrimaryTransitions = mongod.TransitionToPrimary.Count(logs)
		state.SecondaryTransitions = mongod.TransitionToSecondary.Count(logs)
		assert.Greater(t, state.PrimaryTransitions, 0, "node %s has not become primary", node.Name)
		t.Logf("Node %s logged %d primary and %d secondary transition line(s)", node.Name, state.PrimaryTransitions, state.SecondaryTransitions)
	}
}

// PrimaryRemainedStable waits out the observation window and verifies the
// node neither stepped down nor went through another election since its
// log state was recorded.
func PrimaryRemainedStable(ctx context.Context, node *mongodbimage.Node, state *PrimaryLogState, window time.Duration) func(*testing.T) {
	return func(t *testing.T) {
		t.Logf("Watching %s for %s", node.Name, window)
		time.Sleep(window)

		logs := nodeLogs(ctx, t, node)
		assert.Equal(t, state.PrimaryTransitions, mongod.TransitionToPrimary.Count(logs), "node %s went through another election", node.Name)
		assert.False(t, mongod.SteppingDown.In(logs), "node %s stepped down", node.Name)
		assert.Equal(t, state.SecondaryTransitions, mongod.TransitionToSecondary.Count(logs), "node %s fell back to secondary", node.Name)
	}
}

// ReplicaSetHasMemberInState checks from inside the cluster that the member
// shows up in the given state, using the image's own client against the
// seed node. A member that cannot reach the state within the attempts is
// considered broken.
func ReplicaSetHasMemberInState(ctx context.Context, rs mongodbimage.Deployment, member *mongodbimage.Node, state string) func(*testing.T) {
	return func(t *testing.T) {
		seed := rs.Seed()
		pattern := memberStatePattern(member.Host(), state)

		found := false
		tries := memberStateAttempts
		for !found && tries > 0 {
			<-time.After(memberStateBackoff)

			res, err := e2eutil.TestClient.RunOneShot(ctx, docker.RunSpec{
				Image:   seed.Image,
				Name:    oneShotName(seed, "client"),
				Cmd:     mongodbimage.ClientEval(seed.ConnectionURL(), "rs.status()"),
				Network: seed.Network,
				Labels:  docker.ManagedLabels(e2eutil.TestRunID),
			})
			if err != nil {
				t.Fatal(err)
			}
			if res.Succeeded() && pattern.MatchString(res.Output) {
				found = true
			} else {
				t.Logf("Member %s is not %s yet, %d attempt(s) left", member.Host(), state, tries-1)
			}
			tries--
		}
		assert.True(t, found, "member %s did not reach %s within %d attempts", member.Host(), state, memberStateAttempts)
	}
}

// DumpClusterState logs the replica set status and configuration the
// deployment reports and, when an artifacts directory is configured, writes
// them next to the other run artifacts.
func DumpClusterState(ctx context.Context, tester *mongotester.Tester, rs mongodbimage.Deployment, artifactsDir string) func(*testing.T) {
	return func(t *testing.T) {
		state, err := tester.ClusterState(ctx)
		if err != nil {
			t.Fatal(err)
		}
		out, err := yaml.Marshal(state)
		if err != nil {
			t.Fatal(err)
		}
		t.Logf("Cluster state of %s:\n%s", rs.Name, out)

		if artifactsDir == "" {
			return
		}
		if err := os.MkdirAll(artifactsDir, 0755); err != nil {
			t.Logf("Failed to create artifacts directory %s: %s", artifactsDir, err)
			return
		}
		path := filepath.Join(artifactsDir, fmt.Sprintf("%s-cluster-state.yaml", rs.Name))
		if err := os.WriteFile(path, out, 0644); err != nil {
			t.Logf("Failed to write cluster state to %s: %s", path, err)
			return
		}
		t.Logf("Cluster state written to %s", path)
	}
}

// nodeOneShot runs the image once against the node's data volumes with the
// node's environment.
func nodeOneShot(ctx context.Context, node *mongodbimage.Node, suffix string, cmd []string) (docker.OneShotResult, error) {
	return e2eutil.TestClient.RunOneShot(ctx, docker.RunSpec{
		Image:       node.Image,
		Name:        oneShotName(node, suffix),
		Cmd:         cmd,
		Env:         node.Options.Env(),
		VolumesFrom: []string{node.DataName},
		Network:     node.Network,
		Labels:      docker.ManagedLabels(e2eutil.TestRunID),
	})
}

func oneShotName(node *mongodbimage.Node, suffix string) string {
	return fmt.Sprintf("%s-%s-%s", node.Name, suffix, uuid.NewString()[:5])
}

func nodeLogs(ctx context.Context, t *testing.T, node *mongodbimage.Node) string {
	logs, err := e2eutil.TestClient.Logs(ctx, node.Name, node.LastRestart)
	if err != nil {
		t.Fatal(err)
	}
	return logs
}

func refreshAddress(ctx context.Context, t *testing.T, node *mongodbimage.Node) {
	address, err := e2eutil.TestClient.ContainerAddress(ctx, node.Name)
	if err != nil {
		t.Fatal(err)
	}
	node.Address = address
	if expected := node.Options.ExposeHost; expected != "" {
		assert.Equal(t, expected, address, "node %s advertises %s but runs at %s, other members could not reach it", node.Name, expected, address)
	}
	t.Logf("Node %s is reachable at %s", node.Name, node.Host())
}

var ipv4Pattern = regexp.MustCompile(`\b\d{1,3}(?:\.\d{1,3}){3}\b`)

func firstIPv4(output string) string {
	return ipv4Pattern.FindString(output)
}

// memberStatePattern matches the member's entry in the textual rs.status()
// output. The name and the stateStr sit close together within one member
// document.
func memberStatePattern(host, state string) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf(`(?s)"name"\s*:\s*"%s".{0,200}?"stateStr"\s*:\s*"%s"`, regexp.QuoteMeta(host), regexp.QuoteMeta(state)))
}
