package flags

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/agentsec-relay/api"
	"github.com/ruteri/agentsec-relay/common"
	"github.com/ruteri/agentsec-relay/interfaces"
	"github.com/ruteri/agentsec-relay/registry"
	"github.com/urfave/cli/v2"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String("log-service")

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger, listenAddr string) *api.HTTPServerConfig {
	metricsAddr := cCtx.String(MetricsAddrFlag.Name)
	enablePprof := cCtx.Bool(PprofFlag.Name)
	drainDuration := time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second

	return &api.HTTPServerConfig{
		ListenAddr:               listenAddr,
		MetricsAddr:              metricsAddr,
		Log:                      logger,
		EnablePprof:              enablePprof,
		DrainDuration:            drainDuration,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}
}

// LoadRegistry reads the registry file named by RegistryFileFlag.
func LoadRegistry(cCtx *cli.Context) (*registry.Registry, error) {
	defaultLevel := interfaces.ClearanceLevel(cCtx.Int(DefaultClearanceFlag.Name))
	if !defaultLevel.Valid() {
		return nil, fmt.Errorf("invalid default clearance %d", defaultLevel)
	}
	return registry.Load(cCtx.String(RegistryFileFlag.Name), defaultLevel)
}

var RegistryFileFlag = &cli.StringFlag{
	Name:    "registry",
	Value:   "agent_registry.json",
	EnvVars: []string{"AGENT_REGISTRY"},
	Usage:   "clearance registry file (JSON, or YAML when ending in .yaml/.yml)",
}

var DefaultClearanceFlag = &cli.IntFlag{
	Name:  "default-clearance",
	Value: 0,
	Usage: "clearance level of identities missing from the registry",
}

var SecretKeyFlag = &cli.StringFlag{
	Name:    "secret-key",
	EnvVars: []string{"SECRET_KEY"},
	Usage:   "session token signing secret (secrets-mode env)",
}

var SaltFlag = &cli.StringFlag{
	Name:    "salt",
	EnvVars: []string{"SALT_VALUE"},
	Usage:   "key derivation salt (secrets-mode env)",
}

var KdfIterationsFlag = &cli.IntFlag{
	Name:  "kdf-iterations",
	Value: 0,
	Usage: "PBKDF2 iterations for clearance keys, 0 selects the default",
}

var TokenTTLFlag = &cli.DurationFlag{
	Name:  "token-ttl",
	Value: time.Hour,
	Usage: "session token validity",
}

var PrivateKeyFlag = &cli.StringFlag{
	Name:    "private-key",
	Value:   "private_key.pem",
	EnvVars: []string{"SIGNING_PRIVATE_KEY"},
	Usage:   "PEM private key used to sign envelopes",
}

var PublicKeyFlag = &cli.StringFlag{
	Name:    "public-key",
	Value:   "public_key.pem",
	EnvVars: []string{"SIGNING_PUBLIC_KEY"},
	Usage:   "PEM public key used to verify envelopes",
}

var StoreURIFlag = &cli.StringSliceFlag{
	Name:    "store",
	Value:   cli.NewStringSlice("file://./data/"),
	EnvVars: []string{"STORE_URIS"},
	Usage:   "content store location (file://, s3://, vault://, ipfs://); repeat to replicate",
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var LogServiceFlagFn = func(service string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "log-service",
		Value: service,
		Usage: "add 'service' tag to logs",
	}
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}
var MetricsAddrFlag = &cli.StringFlag{
	Name:  "metrics-addr",
	Value: "127.0.0.1:8090",
	Usage: "address to listen on for Prometheus metrics",
}

var LogFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
}

var CommonFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
}
