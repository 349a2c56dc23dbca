package replica_set_formation

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/mongodb/mongodb-docker-tests/pkg/mongod"
	e2eutil "github.com/mongodb/mongodb-docker-tests/test/e2e"
	"github.com/mongodb/mongodb-docker-tests/test/e2e/mongodbtests"
	"github.com/mongodb/mongodb-docker-tests/test/e2e/setup"
	"github.com/mongodb/mongodb-docker-tests/test/e2e/util/mongotester"
	"github.com/mongodb/mongodb-docker-tests/test/e2e/util/wait"
)

func TestMain(m *testing.M) {
	code, err := e2eutil.RunTest(m)
	if err != nil {
		fmt.Println(err)
	}
	os.Exit(code)
}

func TestReplicaSetFormation(t *testing.T) {
	ctx := context.Background()
	testCtx := setup.Setup(ctx, t)
	defer testCtx.Teardown()

	config := setup.LoadTestConfig()
	rs, err := e2eutil.NewReplicaSet(config.NodeSpec(), "mdb", 3)
	if err != nil {
		t.Fatal(err)
	}
	node1, node2, node3 := rs.Nodes[0], rs.Nodes[1], rs.Nodes[2]

	for _, node := range rs.Nodes {
		t.Run(fmt.Sprintf("Create data container for %s", node.Name), mongodbtests.CreateDataContainer(ctx, testCtx, node))
	}

	t.Run("Predict member addresses", mongodbtests.PredictMemberAddresses(ctx, rs))
	t.Run("Initialize first member", mongodbtests.InitializeNode(ctx, node1))
	t.Run("Start first member", mongodbtests.StartNode(ctx, testCtx, node1))
	t.Run("First member becomes ready", mongodbtests.MongodBecomesReady(ctx, node1))
	t.Run("First member becomes primary", func(t *testing.T) {
		if err := wait.ForPrimaryElected(ctx, t, node1); err != nil {
			t.Fatal(err)
		}
	})
	t.Run("Connection URL matches the advertised address", mongodbtests.ConnectionURLMatches(ctx, node1))

	var primaryState mongodbtests.PrimaryLogState
	t.Run("Record primary transitions", mongodbtests.RecordPrimaryLogState(ctx, node1, &primaryState))

	tester, err := mongotester.FromNode(t, node1)
	if err != nil {
		t.Fatal(err)
	}
	t.Run("Primary is reachable", tester.ConnectivitySucceeds())
	t.Run("Primary reports itself primary", tester.IsPrimary(3))

	cancelBackgroundCheck := tester.StartBackgroundConnectivityTest(t, 5*time.Second)
	defer cancelBackgroundCheck()

	t.Run("Initialize second member", mongodbtests.InitializeNodeFrom(ctx, node2, node1))
	t.Run("Start second member", mongodbtests.StartNode(ctx, testCtx, node2))
	t.Run("Second member becomes ready", mongodbtests.MongodBecomesReady(ctx, node2))
	t.Run("Primary remained stable", mongodbtests.PrimaryRemainedStable(ctx, node1, &primaryState, 15*time.Second))

	tester2, err := mongotester.FromNode(t, node2)
	if err != nil {
		t.Fatal(err)
	}
	t.Run("Second member becomes secondary", tester2.IsSecondary(5))
	t.Run("Second member logged secondary transition", mongodbtests.NodeLogged(ctx, node2, mongod.TransitionToSecondary))

	t.Run("Initialize third member", mongodbtests.InitializeNodeFrom(ctx, node3, node1))
	t.Run("Start third member", mongodbtests.StartNode(ctx, testCtx, node3))
	t.Run("Third member becomes ready", mongodbtests.MongodBecomesReady(ctx, node3))
	t.Run("Third member joins as secondary", mongodbtests.ReplicaSetHasMemberInState(ctx, rs, node3, "SECONDARY"))

	cancelBackgroundCheck()

	t.Run("Replica set settles on one primary and two secondaries", tester.HasMemberStateCounts(1, 2, 5))

	var setName string
	t.Run("Replica set name is reported", func(t *testing.T) {
		name, err := tester.ReplicaSetName(ctx)
		if err != nil {
			t.Fatal(err)
		}
		t.Logf("Replica set name: %s", name)
		setName = name
	})

	t.Run("Discovery through the seed member", tester.ConnectivitySucceeds(
		mongotester.WithoutDirectConnection(),
		mongotester.WithHosts(rs.Hosts()),
		mongotester.WithReplicaSet(setName),
	))

	rsTester, err := mongotester.FromDeployment(t, rs)
	if err != nil {
		t.Fatal(err)
	}
	t.Run("Deployment-wide connectivity", rsTester.ConnectivitySucceeds(mongotester.WithReplicaSet(setName)))
	t.Run("Cluster state is dumped", mongodbtests.DumpClusterState(ctx, rsTester, rs, config.ArtifactsDir))
}
