package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"opsboard/internal/app"
	"opsboard/internal/config"
	"opsboard/internal/engine"
	"opsboard/internal/repo"
)

func initCmd() *cobra.Command {
	var adminID, adminName, boardID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the board and its first admin",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, closeFn, err := openDB()
			if err != nil {
				return err
			}
			defer closeFn()
			workspace := viper.GetString("workspace")
			cfg, err := config.LoadOptional(afero.NewOsFs(), workspace)
			if err != nil {
				return err
			}
			if cfg == nil {
				if boardID == "" {
					boardID = app.DefaultBoardID
				}
				cfg = config.Default(boardID)
			}
			e := engine.New(r.DB, cfg)
			owner, err := e.InitBoard(cmd.Context(), adminID, adminName)
			if err != nil {
				return err
			}
			if err := setEnvValue(filepath.Join(workspace, ".env"), "OPSBOARD_ACTOR_ID", owner.ID); err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(owner)
			}
			fmt.Printf("Board %s ready; acting as %s\n", cfg.Board.ID, owner.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&adminID, "admin-id", "", "id of the first admin owner")
	cmd.Flags().StringVar(&adminName, "admin-name", "", "display name of the admin")
	cmd.Flags().StringVar(&boardID, "board-id", "", "board id when no opsboard.yml is present")
	_ = cmd.MarkFlagRequired("admin-id")
	return cmd
}

func ownerCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "owner", Short: "Manage owners"}
	cmd.AddCommand(ownerAddCmd())
	cmd.AddCommand(ownerListCmd())
	cmd.AddCommand(ownerActiveCmd("deactivate", false))
	cmd.AddCommand(ownerActiveCmd("activate", true))
	cmd.AddCommand(ownerUseCmd())
	return cmd
}

func ownerAddCmd() *cobra.Command {
	var opts engine.OwnerCreateOptions
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add an owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.ActorID = actorID()
				o, err := e.CreateOwner(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "owner id")
	cmd.Flags().StringVar(&opts.Name, "name", "", "display name")
	cmd.Flags().StringVar(&opts.Role, "role", "", "role (defaults to rbac.default_role)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func ownerListCmd() *cobra.Command {
	var activeOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List owners",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				owners, err := e.ListOwners(ctx, activeOnly, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(owners)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Role", "Active"})
				for _, o := range owners {
					tw.AppendRow(table.Row{o.ID, o.Name, o.Role, o.Active})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&activeOnly, "active", false, "only active owners")
	return cmd
}

func ownerActiveCmd(use string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <owner-id>",
		Short: fmt.Sprintf("Mark an owner %sd", use),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.SetOwnerActive(ctx, args[0], active, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
}

func ownerUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <owner-id>",
		Short: "Set the default acting owner in .env",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.Repo.GetOwner(ctx, args[0])
				if err != nil {
					return err
				}
				if !o.Active {
					return fmt.Errorf("owner %s is inactive", o.ID)
				}
				envPath := filepath.Join(viper.GetString("workspace"), ".env")
				if err := setEnvValue(envPath, "OPSBOARD_ACTOR_ID", o.ID); err != nil {
					return err
				}
				fmt.Printf("Acting as %s (written to %s)\n", o.ID, envPath)
				return nil
			})
		},
	}
}

func channelCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "channel", Short: "Manage channels"}
	cmd.AddCommand(channelAddCmd())
	cmd.AddCommand(channelListCmd())
	return cmd
}

func channelAddCmd() *cobra.Command {
	var opts engine.ChannelCreateOptions
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.ActorID = actorID()
				c, err := e.CreateChannel(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "channel id")
	cmd.Flags().StringVar(&opts.Name, "name", "", "display name")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func channelListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List channels",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				channels, err := e.ListChannels(ctx, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(channels)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Created"})
				for _, c := range channels {
					tw.AppendRow(table.Row{c.ID, c.Name, c.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Inspect and import board config"}
	cmd.AddCommand(configShowCmd())
	cmd.AddCommand(configImportCmd())
	cmd.AddCommand(configValidateCmd())
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the stored board config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if viper.GetBool("json") {
					return printJSON(e.Config)
				}
				b, err := e.Config.ToYAML()
				if err != nil {
					return err
				}
				fmt.Print(string(b))
				return nil
			})
		},
	}
}

func configImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Validate and store a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(afero.NewOsFs(), file)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.ImportConfig(ctx, cfg, actorID()); err != nil {
					return err
				}
				fmt.Printf("Imported config for board %s\n", cfg.Board.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path to opsboard.yml")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func configValidateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a config file, or the stored config",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file != "" {
				if _, err := config.FromFile(afero.NewOsFs(), file); err != nil {
					return err
				}
				fmt.Printf("%s is valid\n", file)
				return nil
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.Config.Validate(); err != nil {
					return err
				}
				fmt.Println("stored config is valid")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path to opsboard.yml")
	return cmd
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "log", Short: "Event log"}
	cmd.AddCommand(logTailCmd())
	return cmd
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.ListEvents(ctx, f, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Time", "Type", "Entity", "Actor"})
				for _, ev := range events {
					tw.AppendRow(table.Row{ev.ID, ev.TS, ev.Type, ev.EntityKind + "/" + ev.EntityID, ev.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}

func apiKeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	cmd.AddCommand(apiKeyCreateCmd())
	cmd.AddCommand(apiKeyListCmd())
	cmd.AddCommand(apiKeyRevokeCmd())
	return cmd
}

func apiKeyListCmd() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				keys, err := e.ListAPIKeys(ctx, owner, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Owner", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.OwnerID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner filter")
	return cmd
}

func apiKeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.RevokeAPIKey(ctx, args[0], actorID()); err != nil {
					return err
				}
				fmt.Printf("API key %s revoked\n", args[0])
				return nil
			})
		},
	}
}

func apiKeyCreateCmd() *cobra.Command {
	var owner, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key; the secret is shown once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if owner == "" {
					owner = actorID()
				}
				key, secret, err := e.CreateAPIKey(ctx, owner, name, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"id": key.ID, "owner_id": key.OwnerID, "key": secret})
				}
				fmt.Printf("API key %s for %s:\n%s\n", key.ID, key.OwnerID, secret)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner the key acts as (defaults to the actor)")
	cmd.Flags().StringVar(&name, "name", "", "label")
	return cmd
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the acting owner and permissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.WhoAmI(ctx, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}
