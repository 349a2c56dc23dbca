package smoke

import (
	"context"
	"fmt"
	"os"
	"testing"

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

func TestMongodVersion(t *testing.T) {
	ctx := context.Background()
	testCtx := setup.Setup(ctx, t)
	defer testCtx.Teardown()

	config := setup.LoadTestConfig()
	node, err := e2eutil.NewStandaloneNode(config.NodeSpec(), "smoke")
	if err != nil {
		t.Fatal(err)
	}

	var version string
	t.Run("Mongod reports a supported version", mongodbtests.HasExpectedVersion(ctx, config.Image, config.VersionRange, &version))

	// The version the binary prints must be the one a live server reports.
	t.Run("Create data container", mongodbtests.CreateDataContainer(ctx, testCtx, node))
	t.Run("Initialize node", mongodbtests.InitializeNode(ctx, node))
	t.Run("Start node", mongodbtests.StartNode(ctx, testCtx, node))
	t.Run("Mongod becomes ready", mongodbtests.MongodBecomesReady(ctx, node))

	tester, err := mongotester.FromNode(t, node)
	if err != nil {
		t.Fatal(err)
	}
	t.Run("Reported version matches over the wire", tester.HasVersion(version, 3))
	t.Run("Mongod listens on the configured port", tester.EnsureMongodConfig("net.port", int32(config.Port)))
}
