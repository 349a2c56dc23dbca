package mongodbimage

import (
	"fmt"
	"strings"
	"time"
)

// Node models one container running the image as a database member.
type Node struct {
	// Name of the database container.
	Name string

	// DataName is the name of the created-but-never-started container
	// holding the data volume. Every lifecycle of this node attaches to it
	// with --volumes-from semantics.
	DataName string

	// Image reference the containers are created from.
	Image string

	// Network is the Docker network the node's containers attach to.
	// Empty means the engine default.
	Network string

	Options Options

	// Address is the network address observed once the container runs.
	// When Options.ExposeHost is set, the two must agree or the member
	// registered itself under an address nobody can reach.
	Address string

	// LastRestart records when the harness last restarted or killed this
	// node. Log assertions use it to ignore output from earlier boots.
	LastRestart time.Time
}

// Host returns the address:port of the running node.
func (n *Node) Host() string {
	return fmt.Sprintf("%s:%d", n.Address, n.Options.Port)
}

// ConnectionURL returns the URL for this member in the same form the
// entrypoint's --connection-url mode prints. The node must be running,
// addresses are not known before that.
func (n *Node) ConnectionURL() string {
	c := n.Options.Credentials
	return fmt.Sprintf("mongodb://%s:%s@%s/%s", c.Username, c.Passphrase, n.Host(), c.Database)
}

// Deployment is an ordered list of nodes forming one logical database.
// The first node is the one initialized standalone; the others join it.
type Deployment struct {
	Name  string
	Nodes []*Node
}

// Seed returns the member the rest of the deployment initializes from.
func (d Deployment) Seed() *Node {
	return d.Nodes[0]
}

// Hosts returns the address:port list of all members, in member order.
func (d Deployment) Hosts() []string {
	hosts := make([]string, len(d.Nodes))
	for i, node := range d.Nodes {
		hosts[i] = node.Host()
	}
	return hosts
}

func (d Deployment) String() string {
	return fmt.Sprintf("%s[%s]", d.Name, strings.Join(d.Hosts(), ","))
}
