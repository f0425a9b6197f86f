package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/alxbtnk/duck/internal/assets"
	"github.com/alxbtnk/duck/internal/database"
	"github.com/alxbtnk/duck/internal/migrations"
	"github.com/alxbtnk/duck/internal/models"
	"github.com/alxbtnk/duck/internal/store"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

func assetsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assets",
		Short: "Inspect and override landing page image slots",
	}
	cmd.AddCommand(assetsListCmd(a), assetsSetCmd(a), assetsInspectCmd(a))
	return cmd
}

// openStore migrates the database and composes the same store the server uses,
// so writes here also invalidate the Redis cache.
func (a *app) openStore(ctx context.Context) (store.Store, *gorm.DB, error) {
	db, err := database.Open(a.cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if _, err := migrations.NewMigrator(db).Run(); err != nil {
		closeDB(db)
		return nil, nil, err
	}

	database.InitRedis(a.cfg.RedisAddr, a.cfg.RedisPassword)
	st, err := store.Open(ctx, db, database.Redis, a.cfg.StoreSettings())
	if err != nil {
		closeDB(db)
		return nil, nil, err
	}
	return st, db, nil
}

func closeDB(db *gorm.DB) {
	if database.Redis != nil {
		_ = database.Redis.Close()
		database.Redis = nil
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func assetsListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List every slot with its effective reference",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, db, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer closeDB(db)

			defaults := assets.Defaults()
			keys := make(map[string]bool, len(defaults))
			for k := range defaults {
				keys[k] = true
			}
			for _, k := range st.ListKeys(ctx) {
				keys[k] = true
			}
			sorted := make([]string, 0, len(keys))
			for k := range keys {
				sorted = append(sorted, k)
			}
			sort.Strings(sorted)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, styleHeader.Render("SLOT")+"\t"+styleHeader.Render("SOURCE")+"\t"+styleHeader.Render("REFERENCE"))
			for _, k := range sorted {
				ref, source := defaults[k], "default"
				if persisted, ok := st.Load(ctx, k); ok {
					ref, source = persisted, "persisted"
				} else if _, known := defaults[k]; !known {
					ref, source = "-", "unreadable"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", k, source, ref)
			}
			return w.Flush()
		},
	}
}

func assetsSetCmd(a *app) *cobra.Command {
	var (
		url  string
		file string
	)

	cmd := &cobra.Command{
		Use:   "set <slot>",
		Short: "Persist a new image for a slot",
		Long: `Persist a new image for a slot from a remote URL or a local file.

Examples:
  duckctl assets set hero --url https://i.postimg.cc/abc/hero.png
  duckctl assets set egg_single --file ./egg.png`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			if (url == "") == (file == "") {
				return errors.New("pass exactly one of --url or --file")
			}

			img := store.Image{URL: url}
			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				img = store.Image{Data: data}
			}

			ctx := cmd.Context()
			st, db, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer closeDB(db)

			if err := st.Save(ctx, key, img); err != nil {
				return fmt.Errorf("save %s: %w", key, err)
			}

			out := cmd.OutOrStdout()
			ref, _ := st.Load(ctx, key)
			success(out, "%s → %s", key, ref)
			if _, known := assets.Defaults()[key]; !known {
				warn(out, "%s is not a page slot; it will be served as an extra asset", key)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "Remote image URL")
	cmd.Flags().StringVar(&file, "file", "", "Local image file to store")
	return cmd
}

func assetsInspectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <slot>",
		Short: "Show the stored row behind a slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			ctx := cmd.Context()
			st, db, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer closeDB(db)

			var entry models.AssetEntry
			if err := db.WithContext(ctx).First(&entry, "slot = ?", key).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("%s has no persisted entry", key)
				}
				return err
			}

			status := styleSuccess.Render("ok")
			if _, ok := st.Load(ctx, key); !ok {
				status = styleError.Render("corrupt (served as default)")
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "slot:\t%s\n", entry.Key)
			fmt.Fprintf(w, "status:\t%s\n", status)
			fmt.Fprintf(w, "url:\t%s\n", orDash(entry.URL))
			fmt.Fprintf(w, "content type:\t%s\n", orDash(entry.ContentType))
			fmt.Fprintf(w, "size:\t%d bytes\n", entry.Size)
			fmt.Fprintf(w, "checksum:\t%s\n", entry.Checksum)
			fmt.Fprintf(w, "updated:\t%s\n", entry.UpdatedAt.Format("2006-01-02 15:04:05 MST"))
			return w.Flush()
		},
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
