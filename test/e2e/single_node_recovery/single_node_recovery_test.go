package single_node_recovery

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mongodb/mongodb-docker-tests/pkg/mongod"
	"github.com/mongodb/mongodb-docker-tests/pkg/util/versions"
	e2eutil "github.com/mongodb/mongodb-docker-tests/test/e2e"
	"github.com/mongodb/mongodb-docker-tests/test/e2e/mongodbtests"
	"github.com/mongodb/mongodb-docker-tests/test/e2e/setup"
	"github.com/mongodb/mongodb-docker-tests/test/e2e/util/mongotester"
)

func TestMain(m *testing.M) {
	code, err := e2eutil.RunTest(m)
	if err != nil {
		fmt.Println(err)
	}
	os.Exit(code)
}

func TestSingleNodeRecovery(t *testing.T) {
	ctx := context.Background()
	testCtx := setup.Setup(ctx, t)
	defer testCtx.Teardown()

	config := setup.LoadTestConfig()
	node, err := e2eutil.NewStandaloneNode(config.NodeSpec(), "mdb")
	if err != nil {
		t.Fatal(err)
	}

	var version string
	t.Run("Mongod reports a supported version", mongodbtests.HasExpectedVersion(ctx, config.Image, config.VersionRange, &version))

	sentinelID := uuid.NewString()

	t.Run("Create data container", mongodbtests.CreateDataContainer(ctx, testCtx, node))
	t.Run("Initialize node", mongodbtests.InitializeNode(ctx, node))
	t.Run("Start node", mongodbtests.StartNode(ctx, testCtx, node))
	t.Run("Mongod becomes ready", mongodbtests.MongodBecomesReady(ctx, node))

	tester, err := mongotester.FromNode(t, node)
	if err != nil {
		t.Fatal(err)
	}
	t.Run("Basic connectivity", tester.ConnectivitySucceeds())
	t.Run("Version matches over the wire", tester.HasVersionInRange(config.VersionRange, 3))
	t.Run("Feature compatibility version is aligned", tester.HasFCV(versions.CalculateFeatureCompatibilityVersion(version), 3))
	t.Run("Mongod listens on the configured port", tester.EnsureMongodConfig("net.port", int32(config.Port)))
	t.Run("Test document is written", tester.InsertsTestDocument(sentinelID))

	t.Run("Stop node gracefully", mongodbtests.StopNode(ctx, node, 30*time.Second))
	t.Run("Clean shutdown is logged", mongodbtests.NodeLogged(ctx, node, mongod.CleanShutdown))
	t.Run("Start node again", mongodbtests.StartStoppedNode(ctx, node))
	t.Run("Mongod becomes ready after restart", mongodbtests.MongodBecomesReady(ctx, node))
	t.Run("No crash recovery after a graceful restart", mongodbtests.NodeDidNotLog(ctx, node, mongod.CrashRecovery))

	// the address can move across restarts, the tester has it baked in
	tester, err = mongotester.FromNode(t, node)
	if err != nil {
		t.Fatal(err)
	}
	t.Run("Test document survived the restart", tester.HasTestDocument(sentinelID, 3))

	t.Run("Kill node", mongodbtests.KillNode(ctx, node))
	t.Run("No clean shutdown after a kill", mongodbtests.NodeDidNotLog(ctx, node, mongod.CleanShutdown))
	t.Run("Start node after the crash", mongodbtests.StartStoppedNode(ctx, node))
	t.Run("Mongod becomes ready after the crash", mongodbtests.MongodBecomesReady(ctx, node))
	t.Run("Crash recovery is logged", mongodbtests.NodeLogged(ctx, node, mongod.CrashRecovery))

	tester, err = mongotester.FromNode(t, node)
	if err != nil {
		t.Fatal(err)
	}
	t.Run("Test document survived the crash", tester.HasTestDocument(sentinelID, 3))
	t.Run("Connectivity after crash recovery", tester.ConnectivitySucceeds())
}
