package mongotester

import (
	"context"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/objx"
	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/mongodb/mongodb-docker-tests/pkg/mongodbimage"
	"github.com/mongodb/mongodb-docker-tests/pkg/util/versions"
)

type Tester struct {
	mongoClient *mongo.Client
	clientOpts  []*options.ClientOptions
}

func newTester(opts ...*options.ClientOptions) (*Tester, error) {
	t := &Tester{}
	t.clientOpts = append(t.clientOpts, opts...)
	return t, nil
}

// OptionApplier is an interface which is able to accept a list
// of options.ClientOptions, and return the final desired list
// making any modifications required
type OptionApplier interface {
	ApplyOption(opts ...*options.ClientOptions) []*options.ClientOptions
}

// FromNode returns a Tester pointed directly at the given node. It infers
// the SCRAM credentials from the node's options and connects directly to
// the member without topology discovery, so state assertions hit exactly
// this node. The node must be started, its address is not known before
// that.
func FromNode(t *testing.T, node *mongodbimage.Node, opts ...OptionApplier) (*Tester, error) {
	var clientOpts []*options.ClientOptions

	clientOpts = WithHosts([]string{node.Host()}).ApplyOption(clientOpts...)
	clientOpts = WithDirectConnection().ApplyOption(clientOpts...)

	t.Logf("Configuring host %s for node %s", node.Host(), node.Name)

	creds := node.Options.Credentials
	clientOpts = WithScram(creds.Username, creds.Passphrase).ApplyOption(clientOpts...)

	// add any additional options
	for _, opt := range opts {
		clientOpts = opt.ApplyOption(clientOpts...)
	}

	return newTester(clientOpts...)
}

// FromDeployment returns a Tester connected to the deployment as a whole,
// leaving member discovery to the driver.
func FromDeployment(t *testing.T, deployment mongodbimage.Deployment, opts ...OptionApplier) (*Tester, error) {
	var clientOpts []*options.ClientOptions

	clientOpts = WithHosts(deployment.Hosts()).ApplyOption(clientOpts...)

	t.Logf("Configuring hosts %s for deployment %s", deployment.Hosts(), deployment.Name)

	creds := deployment.Seed().Options.Credentials
	clientOpts = WithScram(creds.Username, creds.Passphrase).ApplyOption(clientOpts...)

	for _, opt := range opts {
		clientOpts = opt.ApplyOption(clientOpts...)
	}

	return newTester(clientOpts...)
}

// ConnectivitySucceeds performs a basic check that ensures that it is possible
// to connect to the node
func (m *Tester) ConnectivitySucceeds(opts ...OptionApplier) func(t *testing.T) {
	return m.connectivityCheck(true, opts...)
}

// ConnectivityFails performs a basic check that ensures that it is not possible
// to connect to the node
func (m *Tester) ConnectivityFails(opts ...OptionApplier) func(t *testing.T) {
	return m.connectivityCheck(false, opts...)
}

func (m *Tester) HasFCV(fcv string, tries int, opts ...OptionApplier) func(t *testing.T) {
	return m.hasAdminParameter("featureCompatibilityVersion", map[string]interface{}{"version": fcv}, tries, opts...)
}

// HasVersion verifies over the wire that the server reports exactly the
// given version. The version printed by "mongod --version" and the one
// reported to clients must not drift apart.
func (m *Tester) HasVersion(version string, tries int, opts ...OptionApplier) func(t *testing.T) {
	return m.hasBuildInfoVersion(func(t *testing.T, reported string) bool {
		return reported == version
	}, tries, opts...)
}

// HasVersionInRange verifies over the wire that the server reports a version
// inside the given semver range.
func (m *Tester) HasVersionInRange(vRange string, tries int, opts ...OptionApplier) func(t *testing.T) {
	return m.hasBuildInfoVersion(func(t *testing.T, reported string) bool {
		matches, err := versions.MatchesRange(reported, vRange)
		if err != nil {
			t.Fatal(err)
			return false
		}
		return matches
	}, tries, opts...)
}

func (m *Tester) hasBuildInfoVersion(verify func(t *testing.T, reported string) bool, tries int, opts ...OptionApplier) func(t *testing.T) {
	return m.hasAdminCommandResult(func(t *testing.T) bool {
		var result struct {
			Version string `bson:"version"`
		}
		err := m.mongoClient.Database("admin").
			RunCommand(context.TODO(), bson.D{{Key: "buildInfo", Value: 1}}).
			Decode(&result)
		if err != nil {
			t.Logf("Unable to get buildInfo: %s", err)
			return false
		}
		t.Logf("Server reports version %s", result.Version)
		return verify(t, result.Version)
	}, tries, opts...)
}

// IsPrimary verifies that the node reports itself as the primary.
func (m *Tester) IsPrimary(tries int, opts ...OptionApplier) func(t *testing.T) {
	return m.hasMemberState(func(res isMasterResponse) bool { return res.IsMaster }, "PRIMARY", tries, opts...)
}

// IsSecondary verifies that the node reports itself as a secondary.
func (m *Tester) IsSecondary(tries int, opts ...OptionApplier) func(t *testing.T) {
	return m.hasMemberState(func(res isMasterResponse) bool { return res.Secondary }, "SECONDARY", tries, opts...)
}

func (m *Tester) hasMemberState(predicate func(isMasterResponse) bool, wantState string, tries int, opts ...OptionApplier) func(t *testing.T) {
	return m.hasAdminCommandResult(func(t *testing.T) bool {
		res, err := m.isMaster(context.TODO())
		if err != nil {
			t.Logf("Unable to run isMaster: %s", err)
			return false
		}
		t.Logf("Node reports ismaster=%t secondary=%t set=%s, waiting for %s", res.IsMaster, res.Secondary, res.SetName, wantState)
		return predicate(res)
	}, tries, opts...)
}

// HasMemberStateCounts verifies that the replica set settles on the given
// number of primaries and secondaries.
func (m *Tester) HasMemberStateCounts(primaries, secondaries, tries int, opts ...OptionApplier) func(t *testing.T) {
	return m.hasAdminCommandResult(func(t *testing.T) bool {
		status, err := m.replicaSetStatus()
		if err != nil {
			t.Logf("Unable to get replica set status: %s", err)
			return false
		}
		gotPrimaries, gotSecondaries := 0, 0
		for _, member := range status.Members {
			switch member.StateStr {
			case "PRIMARY":
				gotPrimaries++
			case "SECONDARY":
				gotSecondaries++
			}
		}
		t.Logf("Replica set %s has %d primaries and %d secondaries", status.Set, gotPrimaries, gotSecondaries)
		return gotPrimaries == primaries && gotSecondaries == secondaries
	}, tries, opts...)
}

// InsertsTestDocument writes a document the durability checks look for
// after a restart.
func (m *Tester) InsertsTestDocument(id string, opts ...OptionApplier) func(t *testing.T) {
	connectivityOpts := defaults()
	return func(t *testing.T) {
		if err := m.ensureClient(opts...); err != nil {
			t.Fatal(err)
		}

		collection := m.mongoClient.Database(connectivityOpts.Database).Collection(connectivityOpts.Collection)
		_, err := collection.InsertOne(context.TODO(), bson.M{"_id": id, "name": "sentinel"})
		assert.NoError(t, err)
	}
}

// HasTestDocument verifies that a document written by InsertsTestDocument
// survived, usually across a restart of the node.
func (m *Tester) HasTestDocument(id string, tries int, opts ...OptionApplier) func(t *testing.T) {
	connectivityOpts := defaults()
	return m.hasAdminCommandResult(func(t *testing.T) bool {
		collection := m.mongoClient.Database(connectivityOpts.Database).Collection(connectivityOpts.Collection)
		count, err := collection.CountDocuments(context.TODO(), bson.M{"_id": id})
		if err != nil {
			t.Logf("Unable to count documents: %s", err)
			return false
		}
		return count == 1
	}, tries, opts...)
}

type verifyAdminResultFunc func(t *testing.T) bool

func (m *Tester) hasAdminCommandResult(verify verifyAdminResultFunc, tries int, opts ...OptionApplier) func(t *testing.T) {
	return func(t *testing.T) {
		if err := m.ensureClient(opts...); err != nil {
			t.Fatal(err)
		}

		database := m.mongoClient.Database("admin")
		assert.NotNil(t, database)

		found := false
		for !found && tries > 0 {
			<-time.After(2 * time.Second)
			found = verify(t)
			tries--
		}
		assert.True(t, found)
	}
}

func (m *Tester) hasAdminParameter(key string, expectedValue interface{}, tries int, opts ...OptionApplier) func(t *testing.T) {
	return m.hasAdminCommandResult(func(t *testing.T) bool {
		var result map[string]interface{}
		err := m.mongoClient.Database("admin").
			RunCommand(context.TODO(), bson.D{{Key: "getParameter", Value: 1}, {Key: key, Value: 1}}).
			Decode(&result)
		if err != nil {
			t.Logf("Unable to get admin setting %s with error : %s", key, err)
			return false
		}
		actualValue := result[key]
		t.Logf("Actual Value: %+v, type: %s", actualValue, reflect.TypeOf(actualValue))
		return reflect.DeepEqual(expectedValue, actualValue)
	}, tries, opts...)
}

func (m *Tester) connectivityCheck(shouldSucceed bool, opts ...OptionApplier) func(t *testing.T) {
	connectivityOpts := defaults()
	return func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), connectivityOpts.ContextTimeout)
		defer cancel()

		if err := m.ensureClient(opts...); err != nil {
			t.Fatal(err)
		}

		attempts := 0
		// There can be a short time before the user can auth as the user
		err := wait.Poll(connectivityOpts.IntervalTime, connectivityOpts.TimeoutTime, func() (done bool, err error) {
			attempts++
			collection := m.mongoClient.Database(connectivityOpts.Database).Collection(connectivityOpts.Collection)
			_, err = collection.InsertOne(ctx, bson.M{"name": "pi", "value": 3.14159})
			if err != nil && shouldSucceed {
				t.Logf("Was not able to connect, when we should have been able to!")
				return false, nil
			}
			if err == nil && !shouldSucceed {
				t.Logf("Was successfully able to connect, when we should not have been able to!")
				return false, nil
			}
			t.Logf("Connectivity check was successful after %d attempt(s)", attempts)
			return true, nil
		})

		if err != nil {
			t.Fatal(fmt.Errorf("error during connectivity check: %s", err))
		}
	}
}

// EnsureMongodConfig verifies that the spot in the parsed command line
// options the selector points at has the expected value.
func (m *Tester) EnsureMongodConfig(selector string, expected interface{}) func(*testing.T) {
	return func(t *testing.T) {
		if err := m.ensureClient(); err != nil {
			t.Fatal(err)
		}

		opts, err := m.getCommandLineOptions()
		assert.NoError(t, err)

		// The options are stored under the key "parsed"
		parsed := objx.New(bsonToMap(opts)).Get("parsed").ObjxMap()
		assert.Equal(t, expected, parsed.Get(selector).Data())
	}
}

// ReplicaSetName returns the replica set name the node reports to clients.
func (m *Tester) ReplicaSetName(ctx context.Context) (string, error) {
	if err := m.ensureClient(); err != nil {
		return "", err
	}

	res, err := m.isMaster(ctx)
	if err != nil {
		return "", errors.Wrap(err, "failed to run isMaster")
	}
	if res.SetName == "" {
		return "", errors.New("node does not report a replica set name")
	}
	return res.SetName, nil
}

// ClusterState is the replica set status and configuration as reported by
// the server, in a shape the yaml encoder is happy with.
type ClusterState struct {
	Status map[string]interface{} `yaml:"status"`
	Config map[string]interface{} `yaml:"config"`
}

// ClusterState captures the current replica set status and configuration.
func (m *Tester) ClusterState(ctx context.Context) (ClusterState, error) {
	if err := m.ensureClient(); err != nil {
		return ClusterState{}, err
	}

	var status bson.M
	err := m.mongoClient.Database("admin").
		RunCommand(ctx, bson.D{{Key: "replSetGetStatus", Value: 1}}).
		Decode(&status)
	if err != nil {
		return ClusterState{}, errors.Wrap(err, "failed to get replica set status")
	}

	var config bson.M
	err = m.mongoClient.Database("admin").
		RunCommand(ctx, bson.D{{Key: "replSetGetConfig", Value: 1}}).
		Decode(&config)
	if err != nil {
		return ClusterState{}, errors.Wrap(err, "failed to get replica set config")
	}

	return ClusterState{Status: bsonToMap(status), Config: bsonToMap(config)}, nil
}

// getCommandLineOptions will get the command line options from the admin database
// and return the results as a map.
func (m *Tester) getCommandLineOptions() (bson.M, error) {
	var result bson.M
	err := m.mongoClient.
		Database("admin").
		RunCommand(context.TODO(), bson.D{primitive.E{Key: "getCmdLineOpts", Value: 1}}).
		Decode(&result)

	return result, err
}

func (m *Tester) isMaster(ctx context.Context) (isMasterResponse, error) {
	var res isMasterResponse
	err := m.mongoClient.Database("admin").
		RunCommand(ctx, bson.D{{Key: "isMaster", Value: 1}}).
		Decode(&res)
	return res, err
}

func (m *Tester) replicaSetStatus() (replSetStatus, error) {
	var status replSetStatus
	err := m.mongoClient.Database("admin").
		RunCommand(context.TODO(), bson.D{{Key: "replSetGetStatus", Value: 1}}).
		Decode(&status)
	return status, err
}

type isMasterResponse struct {
	IsMaster  bool     `bson:"ismaster"`
	Secondary bool     `bson:"secondary"`
	SetName   string   `bson:"setName"`
	Hosts     []string `bson:"hosts"`
	Primary   string   `bson:"primary"`
	Me        string   `bson:"me"`
}

type replSetMember struct {
	Name     string `bson:"name"`
	StateStr string `bson:"stateStr"`
	State    int    `bson:"state"`
	Self     bool   `bson:"self"`
}

type replSetStatus struct {
	Set     string          `bson:"set"`
	MyState int             `bson:"myState"`
	Members []replSetMember `bson:"members"`
}

// bsonToMap will convert a bson map to a regular map recursively.
// objx does not work when the nested objects are bson.M.
func bsonToMap(m bson.M) map[string]interface{} {
	out := make(map[string]interface{})
	for key, value := range m {
		if subMap, ok := value.(bson.M); ok {
			out[key] = bsonToMap(subMap)
		} else {
			out[key] = value
		}
	}
	return out
}

// StartBackgroundConnectivityTest starts periodically checking connectivity to the deployment
// with the defined interval. A cancel function is returned, which can be called to stop testing connectivity.
func (m *Tester) StartBackgroundConnectivityTest(t *testing.T, interval time.Duration, opts ...OptionApplier) func() {
	ctx, cancel := context.WithCancel(context.Background())
	t.Logf("Starting background connectivity test")

	// start a go routine which will periodically check basic connectivity
	go func() { //nolint
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(interval):
				m.ConnectivitySucceeds(opts...)(t)
			}
		}
	}()

	return func() {
		cancel()
		if t != nil {
			t.Log("Context cancelled, no longer checking connectivity")
		}
	}
}

// ensureClient establishes a mongo client connection applying any
// additional appliers on top of the options provided at construction.
// Removers see the construction options too, that is what makes them
// useful.
func (m *Tester) ensureClient(opts ...OptionApplier) error {
	allOpts := m.clientOpts
	for _, optApplier := range opts {
		allOpts = optApplier.ApplyOption(allOpts...)
	}
	mongoClient, err := mongo.Connect(context.TODO(), allOpts...)
	if err != nil {
		return err
	}
	m.mongoClient = mongoClient
	return nil
}

// clientOptionAdder is the standard implementation that simply adds a
// new options.ClientOption to the mongo client
type clientOptionAdder struct {
	option *options.ClientOptions
}

func (c clientOptionAdder) ApplyOption(opts ...*options.ClientOptions) []*options.ClientOptions {
	return append(opts, c.option)
}

// clientOptionRemover is used if a value from the client array of options should be removed.
// assigning a nil value will not take precedence over an existing value, so we need a mechanism
// to remove elements that are present

// e.g. to connect through topology discovery, you need to remove the
// options.ClientOption that has a non-nil direct connection flag, it is not
// enough to add one with a nil value.
type clientOptionRemover struct {
	// removalPredicate is a function which returns a bool indicating
	// if a given options.ClientOption should be removed.
	removalPredicate func(opt *options.ClientOptions) bool
}

func (c clientOptionRemover) ApplyOption(opts ...*options.ClientOptions) []*options.ClientOptions {
	newOpts := make([]*options.ClientOptions, 0)
	for _, opt := range opts {
		if !c.removalPredicate(opt) {
			newOpts = append(newOpts, opt)
		}
	}
	return newOpts
}

// WithScram provides a configuration option that will configure the client
// with the given username and password
func WithScram(username, password string) OptionApplier {
	return clientOptionAdder{
		option: &options.ClientOptions{
			Auth: &options.Credential{
				AuthMechanism: "SCRAM-SHA-256",
				AuthSource:    "admin",
				Username:      username,
				Password:      password,
			},
		},
	}
}

// WithHosts configures the hosts of the deployment
func WithHosts(hosts []string) OptionApplier {
	return clientOptionAdder{
		option: &options.ClientOptions{
			Hosts: hosts,
		},
	}
}

// WithURI configures the client from a full connection string, the way the
// image's --connection-url mode hands it out.
func WithURI(uri string) OptionApplier {
	return clientOptionAdder{
		option: options.Client().ApplyURI(uri),
	}
}

// WithDirectConnection pins the client to a single member instead of
// discovering the whole topology.
func WithDirectConnection() OptionApplier {
	direct := true
	return clientOptionAdder{
		option: &options.ClientOptions{
			Direct: &direct,
		},
	}
}

// WithoutDirectConnection will remove the direct connection configuration
func WithoutDirectConnection() OptionApplier {
	return clientOptionRemover{
		removalPredicate: func(opt *options.ClientOptions) bool {
			return opt.Direct != nil && *opt.Direct
		},
	}
}

// WithReplicaSet makes the client require the given replica set name.
func WithReplicaSet(name string) OptionApplier {
	return clientOptionAdder{
		option: &options.ClientOptions{
			ReplicaSet: &name,
		},
	}
}

// defaults returns the default connectivity options
// that our used in our tests.
// TODO: allow these to be configurable
func defaults() connectivityOpts {
	return connectivityOpts{
		IntervalTime:   1 * time.Second,
		TimeoutTime:    30 * time.Second,
		ContextTimeout: 2 * time.Minute,
		Database:       "testing",
		Collection:     "numbers",
	}
}

type connectivityOpts struct {
	IntervalTime   time.Duration
	TimeoutTime    time.Duration
	ContextTimeout time.Duration
	Database       string
	Collection     string
}
