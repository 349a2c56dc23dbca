package e2eutil

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/mongodb/mongodb-docker-tests/pkg/mongodbimage"
	"github.com/mongodb/mongodb-docker-tests/pkg/util/generate"
	"github.com/mongodb/mongodb-docker-tests/pkg/util/names"
)

// NodeSpec carries the per-run settings every test node is created with.
type NodeSpec struct {
	// Image is the MongoDB image under test.
	Image string

	// Port is the port mongod listens on inside the container.
	Port int

	// Network is the Docker network the containers attach to. Empty means
	// the default bridge.
	Network string

	// Debug makes the image entrypoint log every command it runs.
	Debug bool
}

// NewStandaloneNode creates a single node with generated admin credentials.
// The container name carries the run id so leftovers can be told apart from
// other runs.
func NewStandaloneNode(spec NodeSpec, name string) (*mongodbimage.Node, error) {
	return newNode(spec, containerName(name), mongodbimage.Credentials{
		Username:   fmt.Sprintf("%s-user", name),
		Passphrase: "",
	})
}

// NewReplicaSet creates the given number of nodes sharing one set of admin
// credentials. Credentials are replicated between members, so every node of
// a set must be initialized with the same user.
func NewReplicaSet(spec NodeSpec, name string, members int) (mongodbimage.Deployment, error) {
	passphrase, err := generate.Passphrase()
	if err != nil {
		return mongodbimage.Deployment{}, err
	}
	creds := mongodbimage.Credentials{
		Username:   fmt.Sprintf("%s-user", name),
		Passphrase: passphrase,
	}

	deployment := mongodbimage.Deployment{Name: name}
	for i := 0; i < members; i++ {
		node, err := newNode(spec, containerName(fmt.Sprintf("%s-%d", name, i)), creds)
		if err != nil {
			return mongodbimage.Deployment{}, err
		}
		deployment.Nodes = append(deployment.Nodes, node)
	}
	return deployment, nil
}

func newNode(spec NodeSpec, name string, creds mongodbimage.Credentials) (*mongodbimage.Node, error) {
	if creds.Passphrase == "" {
		passphrase, err := generate.Passphrase()
		if err != nil {
			return nil, errors.Wrap(err, "failed to generate a passphrase")
		}
		creds.Passphrase = passphrase
	}

	options, err := mongodbimage.Options{
		Credentials: creds,
		Port:        spec.Port,
		EnableDebug: spec.Debug,
	}.WithDefaults()
	if err != nil {
		return nil, err
	}

	return &mongodbimage.Node{
		Name:     name,
		DataName: fmt.Sprintf("%s-data", name),
		Image:    spec.Image,
		Network:  spec.Network,
		Options:  options,
	}, nil
}

func containerName(name string) string {
	return names.NormalizeName(fmt.Sprintf("%s-%s", name, TestRunID))
}
