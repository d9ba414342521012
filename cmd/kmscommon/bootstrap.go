package kmscommon

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/ruteri/agentsec-relay/cmd/flags"
	"github.com/ruteri/agentsec-relay/httpserver"
	"github.com/ruteri/agentsec-relay/kms"
	"github.com/urfave/cli/v2"
)

var SecretsModeFlag = &cli.StringFlag{
	Name:  "secrets-mode",
	Value: "env",
	Usage: "where deployment secrets come from: 'env', 'master' or 'shamir'",
}

var MasterKeyFlag = &cli.StringFlag{
	Name:    "master-key",
	EnvVars: []string{"MASTER_KEY"},
	Usage:   "hex-encoded master secret (required if secrets-mode is 'master')",
}

var AdminKeysFlag = &cli.StringFlag{
	Name:  "shamir-admin-keys-file",
	Value: "",
	Usage: "JSON file with admin public keys (required if secrets-mode is 'shamir')",
}

var ThresholdFlag = &cli.IntFlag{
	Name:  "shamir-threshold",
	Value: 2,
	Usage: "number of admin shares needed to unlock the secrets",
}

var BootstrapListenAddrFlag = &cli.StringFlag{
	Name:  "admin-listen-addr",
	Value: "127.0.0.1:8081",
	Usage: "address to serve the share bootstrap API on",
}

var BootstrapTimeoutFlag = &cli.IntFlag{
	Name:  "shamir-bootstrap-timeout",
	Value: 86400,
	Usage: "timeout in seconds for the share bootstrap",
}

var SecretsFlags = []cli.Flag{
	SecretsModeFlag,
	flags.SecretKeyFlag,
	flags.SaltFlag,
	MasterKeyFlag,
	AdminKeysFlag,
	ThresholdFlag,
	BootstrapListenAddrFlag,
	BootstrapTimeoutFlag,
}

// AdminKey is one entry of the admin keys file.
type AdminKey struct {
	ID        string `json:"id"`
	PublicKey string `json:"public_key"`
}

// LoadAdminKeys parses a JSON array of admin keys.
func LoadAdminKeys(r io.Reader) ([]AdminKey, error) {
	var keys []AdminKey
	if err := json.NewDecoder(r).Decode(&keys); err != nil {
		return nil, fmt.Errorf("failed to decode admin keys: %w", err)
	}
	if len(keys) == 0 {
		return nil, errors.New("no admin keys provided")
	}
	for i, k := range keys {
		if k.PublicKey == "" {
			return nil, fmt.Errorf("admin key %d (%s) has no public key", i, k.ID)
		}
	}
	return keys, nil
}

// ReadAdminKeysFile loads the admin keys file at path.
func ReadAdminKeysFile(path string) ([]AdminKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open admin keys file: %w", err)
	}
	defer f.Close()
	return LoadAdminKeys(f)
}

// PEMs returns the admin public keys in file order.
func PEMs(keys []AdminKey) [][]byte {
	out := make([][]byte, len(keys))
	for i, k := range keys {
		out[i] = []byte(k.PublicKey)
	}
	return out
}

// SetupSecrets resolves the deployment secrets. For shamir this call blocks
// until enough admins submitted their shares to the bootstrap API.
func SetupSecrets(cCtx *cli.Context, logger *slog.Logger) (kms.Secrets, error) {
	mode := cCtx.String(SecretsModeFlag.Name)

	switch mode {
	case "env":
		logger.Info("Using secrets from environment")
		return kms.NewSecrets(cCtx.String(flags.SecretKeyFlag.Name), cCtx.String(flags.SaltFlag.Name))

	case "master":
		logger.Info("Deriving secrets from master key")
		masterKey, err := hex.DecodeString(cCtx.String(MasterKeyFlag.Name))
		if err != nil {
			return kms.Secrets{}, fmt.Errorf("invalid master-key: %w", err)
		}
		return kms.DeriveSecrets(masterKey)

	case "shamir":
		logger.Info("Using Shamir-protected secrets with admin bootstrap")

		adminKeysFile := cCtx.String(AdminKeysFlag.Name)
		if adminKeysFile == "" {
			return kms.Secrets{}, errors.New("shamir-admin-keys-file is required for shamir secrets")
		}
		adminKeys, err := ReadAdminKeysFile(adminKeysFile)
		if err != nil {
			return kms.Secrets{}, err
		}
		logger.Info("Admin keys loaded successfully", "count", len(adminKeys))

		keeper, err := kms.NewShamirKeeperRecovery(kms.ShamirConfig{
			Threshold:    cCtx.Int(ThresholdFlag.Name),
			AdminPubKeys: PEMs(adminKeys),
		})
		if err != nil {
			return kms.Secrets{}, fmt.Errorf("could not initialize secret keeper: %w", err)
		}

		cfg := flags.ConfigureServer(cCtx, logger, "")
		cfg.AdminListenAddr = cCtx.String(BootstrapListenAddrFlag.Name)
		bootstrap := httpserver.NewBootstrapHandler(keeper, logger)

		bootstrapTimeout := cCtx.Int(BootstrapTimeoutFlag.Name)
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(bootstrapTimeout)*time.Second)
		defer cancel()

		adminCtx, stopAdmin := context.WithCancel(context.Background())
		adminDone := make(chan error, 1)
		go func() {
			err := httpserver.RunAdmin(adminCtx, cfg, bootstrap)
			if err != nil {
				cancel()
			}
			adminDone <- err
		}()

		logger.Info("Waiting for secrets bootstrap to complete...", "timeout", bootstrapTimeout)
		waitErr := bootstrap.WaitForBootstrap(ctx)
		stopAdmin()
		if err := <-adminDone; err != nil {
			logger.Error("Admin server failed", "err", err)
			if waitErr == nil {
				waitErr = err
			}
		}
		if waitErr != nil {
			return kms.Secrets{}, fmt.Errorf("secrets bootstrap failed: %w", waitErr)
		}
		return keeper.Secrets()

	default:
		return kms.Secrets{}, fmt.Errorf("invalid secrets-mode: %s", mode)
	}
}
