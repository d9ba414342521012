package main

import (
	"fmt"

	"github.com/ruteri/agentsec-relay/api"
	"github.com/ruteri/agentsec-relay/cmd/flags"
	"github.com/ruteri/agentsec-relay/cmd/kmscommon"
	"github.com/ruteri/agentsec-relay/interfaces"
	"github.com/ruteri/agentsec-relay/kms"
	"github.com/ruteri/agentsec-relay/registry"
	"github.com/ruteri/agentsec-relay/storage"
	"github.com/urfave/cli/v2"
)

var storeFlags = []cli.Flag{
	flags.RegistryFileFlag,
	flags.DefaultClearanceFlag,
	flags.KdfIterationsFlag,
	flags.StoreURIFlag,
	kmscommon.SecretsModeFlag,
	flags.SecretKeyFlag,
	flags.SaltFlag,
	kmscommon.MasterKeyFlag,
}

var flagAs = &cli.StringFlag{
	Name:     "as",
	Required: true,
	Usage:    "identity to read as; its registry level gates access",
}

var storeCommand = &cli.Command{
	Name:  "store",
	Usage: "Inspect and edit the content store offline",
	Subcommands: []*cli.Command{
		{
			Name:  "put",
			Usage: "Write an item, encrypted for its owner when classified",
			Flags: append([]cli.Flag{
				&cli.StringFlag{Name: "id"},
				&cli.StringFlag{Name: "content", Required: true},
				&cli.IntFlag{Name: "level", Value: 0},
				&cli.StringFlag{Name: "owner", Required: true},
			}, storeFlags...),
			Action: func(cCtx *cli.Context) error {
				store, _, err := openStore(cCtx)
				if err != nil {
					return err
				}
				item, err := store.Write(cCtx.Context, interfaces.ContentItem{
					ID:             cCtx.String("id"),
					Content:        cCtx.String("content"),
					ClearanceLevel: interfaces.ClearanceLevel(cCtx.Int("level")),
					Owner:          cCtx.String("owner"),
				})
				if err != nil {
					return err
				}
				fmt.Println(item.ID)
				return nil
			},
		},
		{
			Name:      "get",
			Usage:     "Read and decrypt one item",
			ArgsUsage: "<id>",
			Flags:     append([]cli.Flag{flagAs}, storeFlags...),
			Action: func(cCtx *cli.Context) error {
				store, reg, err := openStore(cCtx)
				if err != nil {
					return err
				}
				identity := cCtx.String(flagAs.Name)
				id := cCtx.Args().First()
				content, err := store.Read(cCtx.Context, id, interfaces.Requester{
					Identity:  identity,
					Clearance: reg.ClearanceLevel(identity),
				})
				if err != nil {
					return err
				}
				return printJSON(api.ItemContent{ID: id, Content: content})
			},
		},
		{
			Name:  "list",
			Usage: "List the items an identity may see",
			Flags: append([]cli.Flag{flagAs}, storeFlags...),
			Action: func(cCtx *cli.Context) error {
				store, reg, err := openStore(cCtx)
				if err != nil {
					return err
				}
				identity := cCtx.String(flagAs.Name)
				items, err := store.FetchByClearance(cCtx.Context, reg.ClearanceLevel(identity), identity)
				if err != nil {
					return err
				}
				resp := api.ItemsResponse{Items: make([]api.Item, 0, len(items))}
				for _, item := range items {
					resp.Items = append(resp.Items, api.NewItem(item))
				}
				return printJSON(resp)
			},
		},
	},
}

func openStore(cCtx *cli.Context) (*storage.GatedStore, *registry.Registry, error) {
	logger := flags.SetupLogger(cCtx)
	reg, err := flags.LoadRegistry(cCtx)
	if err != nil {
		return nil, nil, err
	}
	secrets, err := kmscommon.SetupSecrets(cCtx, logger)
	if err != nil {
		return nil, nil, err
	}
	cipher, err := kms.NewEncryptor(secrets.Salt, cCtx.Int(flags.KdfIterationsFlag.Name), reg)
	if err != nil {
		return nil, nil, err
	}
	backend, err := storage.NewBackendFactory(logger).BackendsFromURIs(cCtx.StringSlice(flags.StoreURIFlag.Name))
	if err != nil {
		return nil, nil, err
	}
	store := storage.NewGatedStore(backend, cipher, logger)
	if err := store.Load(cCtx.Context); err != nil {
		return nil, nil, fmt.Errorf("could not load store %s: %w", backend.LocationURI(), err)
	}
	return store, reg, nil
}
