/*
Package config handles loading and validating application configuration
from command-line flags and environment variables. All flag values have
defaults so the server can start with nothing but the one required
environment variable set (CONFIGPROXY_AUTH_TOKEN, the proxy auth token).
*/
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/cobra"
)

// AppConfig holds all configuration values for the application.
// values are read once at startup and passed through the app via dependency
// injection. no global config variable is used. callers receive a
// *AppConfig explicitly, making dependencies visible and easier to test.
type AppConfig struct {
	// --- culling ---

	// CullPeriod is the interval in seconds between heartbeats
	CullPeriod int

	// CullTimeout is the idle threshold in seconds: a container whose last
	// observed activity is older than this is culled on the next heartbeat
	CullTimeout int

	// CullMax is the maximum container age in seconds, regardless of activity
	CullMax int

	// --- containers ---

	// ContainerIP is the host IP address containers bind their published
	// port to. with HostNetwork it becomes the address the upstream itself
	// binds to.
	ContainerIP string

	// ContainerPort is the port the upstream process listens on inside the
	// container. the host-side port is assigned by the daemon at start.
	ContainerPort int

	// UseTokens enables per-container token authentication. each container
	// is issued a random token that is appended to the redirect URL.
	UseTokens bool

	// Command is the template for the container command. placeholders
	// {base_path}, {port}, {ip}, {token} are substituted exactly once per
	// container before the command is handed to /bin/sh -c.
	Command string

	// Image is the Docker image to spawn for new users
	Image string

	// DockerVersion is the daemon API version; "auto" negotiates
	DockerVersion string

	// MemLimit is the per-container memory limit in Docker size notation
	// ("512m", "1g"). parsed by the docker gateway at construction.
	MemLimit string

	// CPUShares and CPUQuota are passed through to the daemon when non-zero
	CPUShares int64
	CPUQuota  int64

	// ContainerUser is the user the container command runs as, when set
	ContainerUser string

	// HostNetwork attaches containers to the host network instead of the
	// default bridge. affects the semantics of ContainerIP and ContainerPort.
	HostNetwork bool

	// DockerNetwork attaches containers to the named Docker network,
	// for setups where the proxy, this server, and the containers are all
	// themselves containers.
	DockerNetwork string

	// HostDirectories mounts host paths into each container, specified as
	// "src:dst[:mode]" with mode defaulting to rw
	HostDirectories []string

	// ExtraHosts adds /etc/hosts entries to each container, "hostname:ip"
	ExtraHosts []string

	// AssertHostname verifies the daemon's TLS hostname. the Go SDK drives
	// TLS entirely from DOCKER_* environment variables, so this flag exists
	// for command-line compatibility and is surfaced as a startup warning
	// when it disagrees with the environment.
	AssertHostname bool

	// --- pool ---

	// PoolSize is the target number of ready, unclaimed containers
	PoolSize int

	// PoolName identifies this process's containers among others on the
	// same daemon: it is a substring of every container name and the regex
	// used to discover siblings. empty means "derive from the image name".
	PoolName string

	// UserLength is the length of the random path segment generated per
	// container
	UserLength int

	// RedirectURI is the path users land on inside their container after
	// the spawn redirect
	RedirectURI string

	// StaticFiles is a path inside the image to extract at startup and
	// serve from the public server. empty disables extraction.
	StaticFiles string

	// --- servers ---

	// Port and IP are the public server's listen address (empty IP = all
	// interfaces)
	Port int
	IP   string

	// AdminPort and AdminIP are the admin server's listen address. kept on
	// a separate listener so metrics and the event journal are never
	// reachable from the user-facing address.
	AdminPort int
	AdminIP   string

	// MaxDockWorkers bounds the number of concurrently executing Docker
	// daemon calls
	MaxDockWorkers int

	// --- CORS ---
	// each header is emitted only when its value is configured.

	AllowOrigin      string
	ExposeHeaders    string
	MaxAge           string
	AllowCredentials string
	AllowMethods     string
	AllowHeaders     string

	// --- ambient ---

	// LogFormat controls slog output: "text" for local development,
	// anything else produces JSON for log shipping
	LogFormat string

	// EventsDBPath is the SQLite file backing the lifecycle event journal
	EventsDBPath string

	// --- environment-sourced values ---

	// APIToken guards POST /api/spawn when set (API_AUTH_TOKEN)
	APIToken string

	// ProxyToken authenticates every call to the routing proxy
	// (CONFIGPROXY_AUTH_TOKEN, required)
	ProxyToken string

	// ProxyEndpoint is the routing proxy's API base URL
	// (CONFIGPROXY_ENDPOINT)
	ProxyEndpoint string
}

// commandDefault boots a kernel gateway the same way the stock image does.
// callers running other images override --command entirely.
const commandDefault = "jupyter kernelgateway" +
	" --KernelGatewayApp.port={port}" +
	" --KernelGatewayApp.ip={ip}" +
	" --KernelGatewayApp.allow_origin=*" +
	" --KernelGatewayApp.base_url={base_path}" +
	" --KernelGatewayApp.port_retries=0"

// RegisterFlags declares every flag on the given cobra command, bound
// directly into the config struct. declaring them all in one place keeps
// this file the single source of truth for the option surface.
func RegisterFlags(command *cobra.Command, config *AppConfig) {
	flags := command.Flags()

	flags.IntVar(&config.CullPeriod, "cull_period", 300, "Interval (s) for culling idle containers.")
	flags.IntVar(&config.CullTimeout, "cull_timeout", 600, "Timeout (s) for culling idle containers.")
	flags.IntVar(&config.CullMax, "cull_max", 14400, "Maximum age of a container (s), regardless of activity.")

	flags.StringVar(&config.ContainerIP, "container_ip", "0.0.0.0", "Host IP address for containers to bind to.")
	flags.IntVar(&config.ContainerPort, "container_port", 8888, "Within-container port for servers to bind to.")
	flags.BoolVar(&config.UseTokens, "use_tokens", false, "Enable token-authentication of spawned servers.")
	flags.StringVar(&config.Command, "command", commandDefault,
		"Command to run when booting the image. {base_path}, {port}, {ip} and {token} are substituted.")
	flags.StringVar(&config.Image, "image", "jupyter/kernel-gateway", "Docker image to spawn for new users.")
	flags.StringVar(&config.DockerVersion, "docker_version", "auto", "Version of the Docker API to use.")
	flags.StringVar(&config.MemLimit, "mem_limit", "512m", "Limit on memory, per container.")
	flags.Int64Var(&config.CPUShares, "cpu_shares", 0, "Limit CPU shares, per container.")
	flags.Int64Var(&config.CPUQuota, "cpu_quota", 0, "Limit CPU quota (CPU-us per 100ms), per container.")
	flags.StringVar(&config.ContainerUser, "container_user", "", "User to run the container command as.")
	flags.BoolVar(&config.HostNetwork, "host_network", false, "Attach containers to the host network instead of the docker bridge.")
	flags.StringVar(&config.DockerNetwork, "docker_network", "", "Attach containers to the specified docker network.")
	flags.StringSliceVar(&config.HostDirectories, "host_directories", nil,
		"Host directories to mount into each container, src:dst[:mode], comma-delimited.")
	flags.StringSliceVar(&config.ExtraHosts, "extra_hosts", nil,
		"Extra /etc/hosts entries for the containers, hostname:ip, comma-delimited.")
	flags.BoolVar(&config.AssertHostname, "assert_hostname", false, "Verify hostname of the Docker daemon.")

	flags.IntVar(&config.PoolSize, "pool_size", 2, "Capacity for containers on this system, prelaunched at startup.")
	flags.StringVar(&config.PoolName, "pool_name", "",
		"Container name fragment used to identify containers that belong to this instance.")
	flags.IntVar(&config.UserLength, "user_length", 12, "Length of the unique path segment generated per container.")
	flags.StringVar(&config.RedirectURI, "redirect_uri", "/tree", "URI to redirect users to upon initial launch.")
	flags.StringVar(&config.StaticFiles, "static_files", "", "Path inside the image to extract and serve as static files.")

	flags.IntVar(&config.Port, "port", 9999, "Port for the main server to listen on.")
	flags.StringVar(&config.IP, "ip", "", "IP for the main server to listen on (default: all interfaces).")
	flags.IntVar(&config.AdminPort, "admin_port", 10000, "Port for the admin server to listen on.")
	flags.StringVar(&config.AdminIP, "admin_ip", "127.0.0.1", "IP for the admin server to listen on.")
	flags.IntVar(&config.MaxDockWorkers, "max_dock_workers", 2, "Maximum number of concurrent docker daemon calls.")

	flags.StringVar(&config.AllowOrigin, "allow_origin", "", "Set the Access-Control-Allow-Origin header.")
	flags.StringVar(&config.ExposeHeaders, "expose_headers", "", "Set the Access-Control-Expose-Headers header.")
	flags.StringVar(&config.MaxAge, "max_age", "", "Set the Access-Control-Max-Age header.")
	flags.StringVar(&config.AllowCredentials, "allow_credentials", "", "Set the Access-Control-Allow-Credentials header.")
	flags.StringVar(&config.AllowMethods, "allow_methods", "", "Set the Access-Control-Allow-Methods header.")
	flags.StringVar(&config.AllowHeaders, "allow_headers", "", "Set the Access-Control-Allow-Headers header.")

	flags.StringVar(&config.LogFormat, "log_format", "text", "Log output format: text or json.")
	flags.StringVar(&config.EventsDBPath, "events_db", "./tmpool.db", "SQLite file for the lifecycle event journal.")
}

// poolNamePattern strips everything that is not safe inside a container
// name when deriving the pool name from an image reference.
var poolNamePattern = regexp.MustCompile(`[^a-zA-Z0-9_.-]+`)

// LoadEnvironment fills the environment-sourced fields, applies derived
// defaults, and validates the result. called after flag parsing, before
// anything else is constructed. a returned error aborts startup.
func (config *AppConfig) LoadEnvironment() error {
	config.APIToken = os.Getenv("API_AUTH_TOKEN")

	// the proxy token is the one setting with no sane default: without it
	// every route registration would be rejected, so fail fast instead of
	// limping along with an unusable proxy.
	config.ProxyToken = os.Getenv("CONFIGPROXY_AUTH_TOKEN")
	if config.ProxyToken == "" {
		return fmt.Errorf("CONFIGPROXY_AUTH_TOKEN is not set")
	}

	config.ProxyEndpoint = getEnv("CONFIGPROXY_ENDPOINT", "http://127.0.0.1:8001")

	// DOCKER_HOST is consumed by the Docker SDK itself (client.FromEnv);
	// it is intentionally not mirrored into this struct.

	if config.PoolName == "" {
		config.PoolName = SanitizePoolName(config.Image)
	}

	if config.PoolSize < 0 {
		return fmt.Errorf("pool_size must not be negative, got %d", config.PoolSize)
	}
	if config.UserLength < 1 {
		return fmt.Errorf("user_length must be at least 1, got %d", config.UserLength)
	}
	if config.CullPeriod < 1 {
		return fmt.Errorf("cull_period must be at least 1 second, got %d", config.CullPeriod)
	}

	return nil
}

// SanitizePoolName derives a pool name from an image reference: the tag is
// dropped and any character that cannot appear in a container name is
// stripped. "jupyter/kernel-gateway:2.5" becomes "jupyterkernel-gateway".
func SanitizePoolName(image string) string {
	name := image
	if index := strings.LastIndex(name, ":"); index != -1 {
		name = name[:index]
	}
	return poolNamePattern.ReplaceAllString(name, "")
}

// NewLogger constructs a *slog.Logger based on the LogFormat field.
// "text" produces human-readable output for local development; any other
// value (including "json") produces structured JSON output for production
// and Docker log shipping.
func (config *AppConfig) NewLogger() *slog.Logger {
	var handler slog.Handler

	options := &slog.HandlerOptions{
		AddSource: true,
		Level:     slog.LevelDebug,

		// the source attribute carries an absolute file path by default,
		// which is long and repetitive in every record; trim it down to
		// the base file name.
		ReplaceAttr: func(groups []string, attribute slog.Attr) slog.Attr {
			if attribute.Key == slog.SourceKey {
				source := attribute.Value.Any().(*slog.Source)
				source.File = filepath.Base(source.File)
			}
			return attribute
		},
	}

	if config.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, options)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, options)
	}

	return slog.New(handler)
}

// getEnv retrieves the value of an environment variable by key.
// if the variable is not set or is empty, the provided fallback value is
// returned. this avoids scattered os.Getenv calls with inline fallback
// logic throughout the codebase.
func getEnv(key, fallbackValue string) string {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return fallbackValue
}
