// Package mongodbimage describes the contract of the MongoDB database image:
// the entrypoint arguments it understands and the environment variables that
// configure it. The image itself is a black box; everything the tests know
// about it is encoded here.
package mongodbimage

import (
	"fmt"
	"sort"

	"github.com/imdario/mergo"
	"github.com/spf13/cast"
)

// Environment variables read by the image entrypoint.
const (
	UsernameEnv    = "USERNAME"
	PassphraseEnv  = "PASSPHRASE"
	DatabaseEnv    = "DATABASE"
	PortEnv        = "PORT"
	ExposeHostEnv  = "EXPOSE_HOST"
	EnableDebugEnv = "ENABLE_DEBUG"

	// exposePortEnvPrefix is completed with a port number, one variable per
	// published port, e.g. EXPOSE_PORT_27017.
	exposePortEnvPrefix = "EXPOSE_PORT_"
)

const (
	DefaultPort     = 27017
	DefaultDatabase = "admin"
)

// Credentials hold the user the entrypoint provisions during initialization.
type Credentials struct {
	Username   string
	Passphrase string
	Database   string
}

// Options configure one container running the image.
type Options struct {
	Credentials Credentials

	// Port the mongod inside the container listens on.
	Port int

	// ExposeHost is the address under which the member advertises itself
	// to the rest of the replica set. It must be set before initialization
	// because the entrypoint writes it into the replica set configuration.
	ExposeHost string

	// ExposedPorts maps container ports to externally visible ports.
	ExposedPorts map[int]int

	EnableDebug bool
}

// WithDefaults fills unset fields with the image defaults.
func (o Options) WithDefaults() (Options, error) {
	if err := mergo.Merge(&o, defaultOptions()); err != nil {
		return Options{}, err
	}
	return o, nil
}

func defaultOptions() Options {
	return Options{
		Credentials: Credentials{Database: DefaultDatabase},
		Port:        DefaultPort,
	}
}

// Env renders the options as the entrypoint's environment contract.
func (o Options) Env() []string {
	env := []string{
		UsernameEnv + "=" + o.Credentials.Username,
		PassphraseEnv + "=" + o.Credentials.Passphrase,
		DatabaseEnv + "=" + o.Credentials.Database,
		PortEnv + "=" + cast.ToString(o.Port),
	}
	if o.ExposeHost != "" {
		env = append(env, ExposeHostEnv+"="+o.ExposeHost)
	}
	for _, port := range sortedKeys(o.ExposedPorts) {
		env = append(env, fmt.Sprintf("%s=%s", ExposePortEnvVar(port), cast.ToString(o.ExposedPorts[port])))
	}
	if o.EnableDebug {
		env = append(env, EnableDebugEnv+"=true")
	}
	return env
}

// ExposePortEnvVar returns the name of the publish variable for a port.
func ExposePortEnvVar(port int) string {
	return exposePortEnvPrefix + cast.ToString(port)
}

func sortedKeys(m map[int]int) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// Entrypoint argument lists for the image's operating modes.

// Initialize provisions the data volume: the entrypoint boots a temporary
// mongod, creates the configured user and database, and shuts down cleanly.
func Initialize() []string {
	return []string{"--initialize"}
}

// InitializeFrom provisions the data volume as a new replica set member,
// registering with the member already running at the given connection URL.
func InitializeFrom(url string) []string {
	return []string{"--initialize-from", url}
}

// Discover makes the entrypoint print the network address the container
// sees for itself, then exit.
func Discover() []string {
	return []string{"--discover"}
}

// ConnectionURL makes the entrypoint print the connection URL derived from
// its environment, then exit.
func ConnectionURL() []string {
	return []string{"--connection-url"}
}

// ClientEval runs the bundled client against the given URL. With a script
// the client evaluates it and exits, otherwise it would start interactively.
func ClientEval(url string, script ...string) []string {
	return append([]string{"--client", url}, script...)
}

// VersionCommand bypasses the entrypoint modes and reports the bundled
// server version.
func VersionCommand() []string {
	return []string{"mongod", "--version"}
}
