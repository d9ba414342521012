package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/ruteri/agentsec-relay/api"
	"github.com/ruteri/agentsec-relay/api/clients"
	"github.com/ruteri/agentsec-relay/auditlog"
	"github.com/ruteri/agentsec-relay/cmd/flags"
	"github.com/ruteri/agentsec-relay/cmd/kmscommon"
	"github.com/ruteri/agentsec-relay/credentials"
	"github.com/ruteri/agentsec-relay/cryptoutils"
	"github.com/ruteri/agentsec-relay/interfaces"
	"github.com/urfave/cli/v2"
)

var flagRelayURL = &cli.StringFlag{
	Name:    "url",
	Value:   "http://127.0.0.1:8080",
	EnvVars: []string{"RELAY_URL"},
	Usage:   "relay HTTP bridge address",
}

var flagAdminURL = &cli.StringFlag{
	Name:  "admin-url",
	Usage: "relay admin API address; when set the signed share is submitted there",
}

var flagToken = &cli.StringFlag{
	Name:    "token",
	EnvVars: []string{"RELAY_TOKEN"},
	Usage:   "session token",
}

var flagUsername = &cli.StringFlag{
	Name:     "username",
	Required: true,
}

var flagPassword = &cli.StringFlag{
	Name:    "password",
	EnvVars: []string{"RELAY_PASSWORD"},
}

var flagSubject = &cli.StringFlag{
	Name:     "subject",
	Required: true,
	Usage:    "identity the token is issued to",
}

var flagLevel = &cli.IntFlag{
	Name:  "level",
	Value: -1,
	Usage: "clearance level, -1 uses the registry level",
}

var flagScheme = &cli.StringFlag{
	Name:  "scheme",
	Value: string(cryptoutils.SchemeEd25519),
	Usage: "signature scheme: rsa, ecdsa-p256, ed25519, secp256k1 or dilithium3",
}

var flagAdminKeys = &cli.StringFlag{
	Name:  "admin-keys-file",
	Value: "admin-keys.json",
	Usage: "JSON file listing admin ids and public keys",
}

var flagShareFile = &cli.StringFlag{
	Name:  "share-file",
	Value: "share.json",
	Usage: "sealed share to sign",
}

var flagOutDir = &cli.StringFlag{
	Name:  "out-dir",
	Value: ".",
}

var flagTimeout = &cli.DurationFlag{
	Name:  "timeout",
	Value: 30 * time.Second,
}

var tokenServiceFlags = []cli.Flag{
	flags.RegistryFileFlag,
	flags.DefaultClearanceFlag,
	flags.TokenTTLFlag,
	kmscommon.SecretsModeFlag,
	flags.SecretKeyFlag,
	flags.SaltFlag,
	kmscommon.MasterKeyFlag,
}

func main() {
	app := &cli.App{
		Name:  "relayctl",
		Usage: "Operate and talk to an agentsec relay",
		Flags: append(append([]cli.Flag{}, flags.LogFlags...), flags.LogServiceFlagFn("relayctl")),
		Commands: []*cli.Command{
			{
				Name:  "login",
				Usage: "Exchange username and password for a session token",
				Flags: []cli.Flag{flagRelayURL, flagUsername, flagPassword, flagTimeout},
				Action: func(cCtx *cli.Context) error {
					ctx, cancel := context.WithTimeout(cCtx.Context, cCtx.Duration(flagTimeout.Name))
					defer cancel()

					client := clients.NewRelayClient(cCtx.String(flagRelayURL.Name))
					resp, err := client.Login(ctx, cCtx.String(flagUsername.Name), cCtx.String(flagPassword.Name))
					if err != nil {
						return err
					}
					return printJSON(resp)
				},
			},
			{
				Name:  "issue-token",
				Usage: "Issue a session token offline with the deployment secret",
				Flags: append([]cli.Flag{flagSubject, flagLevel}, tokenServiceFlags...),
				Action: func(cCtx *cli.Context) error {
					tokens, reg, err := tokenService(cCtx)
					if err != nil {
						return err
					}
					subject := cCtx.String(flagSubject.Name)
					level := reg.ClearanceLevel(subject)
					if l := cCtx.Int(flagLevel.Name); l >= 0 {
						level = interfaces.ClearanceLevel(l)
					}

					token, err := tokens.Issue(subject, level)
					if err != nil {
						return err
					}
					fmt.Println(token)
					return nil
				},
			},
			{
				Name:  "verify-token",
				Usage: "Verify a session token and print its claims",
				Flags: append([]cli.Flag{flagToken}, tokenServiceFlags...),
				Action: func(cCtx *cli.Context) error {
					tokens, _, err := tokenService(cCtx)
					if err != nil {
						return err
					}
					claims, err := tokens.Parse(cCtx.String(flagToken.Name))
					if err != nil {
						return err
					}
					return printJSON(claims)
				},
			},
			{
				Name:  "generate-keys",
				Usage: "Generate an envelope signing keypair",
				Flags: []cli.Flag{flagScheme, flags.PrivateKeyFlag, flags.PublicKeyFlag},
				Action: func(cCtx *cli.Context) error {
					scheme, err := cryptoutils.ParseScheme(cCtx.String(flagScheme.Name))
					if err != nil {
						return err
					}
					privPEM, pubPEM, err := cryptoutils.GenerateKeyPair(scheme)
					if err != nil {
						return fmt.Errorf("failed to generate %s key: %w", scheme, err)
					}
					if err := os.WriteFile(cCtx.String(flags.PrivateKeyFlag.Name), privPEM, 0o600); err != nil {
						return err
					}
					return os.WriteFile(cCtx.String(flags.PublicKeyFlag.Name), pubPEM, 0o644)
				},
			},
			{
				Name:  "hash-password",
				Usage: "Print the bcrypt hash for a registry entry",
				Flags: []cli.Flag{flagPassword},
				Action: func(cCtx *cli.Context) error {
					password := cCtx.String(flagPassword.Name)
					if password == "" {
						return errors.New("password is required")
					}
					hash, err := credentials.HashPassword(password)
					if err != nil {
						return err
					}
					fmt.Println(hash)
					return nil
				},
			},
			{
				Name:  "add-admin",
				Usage: "Append an admin public key to the admin keys file",
				Flags: []cli.Flag{
					flagAdminKeys,
					&cli.StringFlag{Name: "id", Required: true},
					&cli.StringFlag{Name: "public-key-file", Required: true},
				},
				Action: func(cCtx *cli.Context) error {
					path := cCtx.String(flagAdminKeys.Name)
					var admins []kmscommon.AdminKey
					if _, err := os.Stat(path); err == nil {
						admins, err = kmscommon.ReadAdminKeysFile(path)
						if err != nil {
							return err
						}
					}

					pubPEM, err := os.ReadFile(cCtx.String("public-key-file"))
					if err != nil {
						return err
					}
					if _, err := cryptoutils.ParsePublicKeyPEM(pubPEM); err != nil {
						return err
					}
					admins = append(admins, kmscommon.AdminKey{ID: cCtx.String("id"), PublicKey: string(pubPEM)})
					return writeJSON(path, admins, 0o644)
				},
			},
			{
				Name:  "split-secret",
				Usage: "Split a master secret into shares sealed to each admin",
				Flags: []cli.Flag{
					flagAdminKeys,
					&cli.IntFlag{Name: "threshold", Value: 2},
					kmscommon.MasterKeyFlag,
					flagOutDir,
				},
				Action: func(cCtx *cli.Context) error {
					admins, err := kmscommon.ReadAdminKeysFile(cCtx.String(flagAdminKeys.Name))
					if err != nil {
						return err
					}

					var masterKey []byte
					if hexKey := cCtx.String(kmscommon.MasterKeyFlag.Name); hexKey != "" {
						masterKey, err = hex.DecodeString(hexKey)
						if err != nil {
							return fmt.Errorf("invalid master-key: %w", err)
						}
					} else if masterKey, err = kmscommon.NewMasterKey(); err != nil {
						return err
					}

					sealed, err := kmscommon.SplitSealed(masterKey, cCtx.Int("threshold"), admins)
					if err != nil {
						return err
					}

					outDir := cCtx.String(flagOutDir.Name)
					for _, share := range sealed {
						path := filepath.Join(outDir, fmt.Sprintf("share-%d.json", share.ShareIndex))
						if err := writeJSON(path, share, 0o600); err != nil {
							return err
						}
						fmt.Printf("share %d for %s written to %s\n", share.ShareIndex, share.AdminID, path)
					}
					return nil
				},
			},
			{
				Name:  "sign-share",
				Usage: "Open a sealed share and sign it for the bootstrap API",
				Flags: []cli.Flag{
					flagShareFile,
					&cli.StringFlag{Name: "admin-private-key", Value: "admin-private.pem"},
					flagAdminURL,
					flagTimeout,
				},
				Action: func(cCtx *cli.Context) error {
					var sealed api.SealedShare
					if err := readJSON(cCtx.String(flagShareFile.Name), &sealed); err != nil {
						return err
					}
					privPEM, err := os.ReadFile(cCtx.String("admin-private-key"))
					if err != nil {
						return err
					}

					submission, err := kmscommon.OpenAndSign(sealed, privPEM)
					if err != nil {
						return err
					}

					adminURL := cCtx.String(flagAdminURL.Name)
					if adminURL == "" {
						return printJSON(submission)
					}

					ctx, cancel := context.WithTimeout(cCtx.Context, cCtx.Duration(flagTimeout.Name))
					defer cancel()
					status, err := clients.NewBootstrapClient(adminURL).SubmitShare(ctx, submission)
					if err != nil {
						return err
					}
					return printJSON(status)
				},
			},
			{
				Name:  "bootstrap-status",
				Usage: "Show how many shares a locked relay has received",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagAdminURL.Name, Value: "http://127.0.0.1:8081"},
					flagTimeout,
				},
				Action: func(cCtx *cli.Context) error {
					ctx, cancel := context.WithTimeout(cCtx.Context, cCtx.Duration(flagTimeout.Name))
					defer cancel()
					status, err := clients.NewBootstrapClient(cCtx.String(flagAdminURL.Name)).Status(ctx)
					if err != nil {
						return err
					}
					return printJSON(status)
				},
			},
			{
				Name:  "send",
				Usage: "Submit a command and optionally wait for its response",
				Flags: []cli.Flag{
					flagRelayURL,
					flagToken,
					&cli.StringFlag{Name: "sender", Required: true},
					&cli.StringFlag{Name: "content", Required: true},
					&cli.BoolFlag{Name: "wait", Value: true},
					flagTimeout,
				},
				Action: func(cCtx *cli.Context) error {
					ctx, cancel := context.WithTimeout(cCtx.Context, cCtx.Duration(flagTimeout.Name))
					defer cancel()

					client := clients.NewRelayClient(cCtx.String(flagRelayURL.Name))
					client.SetToken(cCtx.String(flagToken.Name))
					id, err := client.Submit(ctx, cCtx.String("content"), cCtx.String("sender"))
					if err != nil {
						return err
					}
					if !cCtx.Bool("wait") {
						return printJSON(api.SubmitResponse{ID: id})
					}

					resp, _, err := client.WaitFor(ctx, id, 200*time.Millisecond)
					if err != nil {
						return fmt.Errorf("no response for %s: %w", id, err)
					}
					return printJSON(resp)
				},
			},
			{
				Name:  "poll",
				Usage: "Fetch completed responses",
				Flags: []cli.Flag{flagRelayURL, flagToken, flagTimeout},
				Action: func(cCtx *cli.Context) error {
					ctx, cancel := context.WithTimeout(cCtx.Context, cCtx.Duration(flagTimeout.Name))
					defer cancel()

					client := clients.NewRelayClient(cCtx.String(flagRelayURL.Name))
					client.SetToken(cCtx.String(flagToken.Name))
					responses, err := client.Poll(ctx)
					if err != nil {
						return err
					}
					return printJSON(api.ResponsesResponse{Responses: responses})
				},
			},
			storeCommand,
			{
				Name:      "verify-log",
				Usage:     "Verify the hash chain of an action log file",
				ArgsUsage: "<file>",
				Action: func(cCtx *cli.Context) error {
					path := cCtx.Args().First()
					if path == "" {
						return errors.New("action log file is required")
					}
					f, err := os.Open(path)
					if err != nil {
						return err
					}
					defer f.Close()

					entries, err := auditlog.ReadEntries(f)
					if err != nil {
						return err
					}
					if err := auditlog.VerifyChain(entries); err != nil {
						return err
					}
					head := ""
					if len(entries) > 0 {
						head = entries[len(entries)-1].CID
					}
					fmt.Printf("%d entries verified, head %s\n", len(entries), head)
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func tokenService(cCtx *cli.Context) (*credentials.Service, interfaces.ClearanceRegistry, error) {
	logger := flags.SetupLogger(cCtx)
	reg, err := flags.LoadRegistry(cCtx)
	if err != nil {
		return nil, nil, err
	}
	secrets, err := kmscommon.SetupSecrets(cCtx, logger)
	if err != nil {
		return nil, nil, err
	}
	return credentials.NewService(secrets.TokenSecret, reg, logger,
		credentials.WithTTL(cCtx.Duration(flags.TokenTTLFlag.Name))), reg, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeJSON(path string, v any, perm os.FileMode) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, perm)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
