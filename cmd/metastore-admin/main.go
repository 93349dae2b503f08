package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/tendant/repo-metadata/pkg/metastore"
	"github.com/tendant/repo-metadata/pkg/metastore/config"
)

const usage = `Repository Metadata Admin CLI

A lightweight admin tool for the metadata store that only requires database access.

USAGE:
  metastore-admin <command> [options]

COMMANDS:
  migrate         Apply the embedded schema (postgres only)
  repos           List registered content repositories
  components      List components of a repository
  unused-blobs    List asset blobs no asset references
  purge-downloads Delete assets not downloaded within a threshold
  delete-repo     Delete a repository and all of its metadata

ENVIRONMENT VARIABLES:
  DATABASE_URL       PostgreSQL connection string (default: in-memory store)
  DB_SCHEMA          PostgreSQL schema name (default: metastore)
  ENTITY_VERSIONING  Enable component entity-version tracking (default: false)
  PAGE_LIMIT         Page size for listing commands (default: 100)

  Configuration can be loaded from a .env file in the current directory.
  Command line environment variables override .env file values.

EXAMPLES:
  # Apply the schema
  metastore-admin migrate

  # List repositories
  metastore-admin repos

  # List components of repository 3
  metastore-admin components --repo-id=3

  # List blobs unreferenced for at least an hour
  metastore-admin unused-blobs --max-age=1h

  # Purge assets of repository 3 not downloaded in 30 days
  metastore-admin purge-downloads --repo-id=3 --threshold-days=30

  # Delete a repository by its config id
  metastore-admin delete-repo --config-id=550e8400-e29b-41d4-a716-446655440000
`

type appEnv struct {
	PageLimit int `env:"PAGE_LIMIT" env-default:"100"`
}

func main() {
	// Load .env file if it exists (silently ignore if not found)
	_ = godotenv.Load()

	log := slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: slog.LevelInfo}))
	slog.SetDefault(log)

	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(1)
	}
	command := os.Args[1]
	if command == "help" || command == "--help" || command == "-h" {
		fmt.Print(usage)
		os.Exit(0)
	}

	var env appEnv
	if err := cleanenv.ReadEnv(&env); err != nil {
		log.Error("failed to read environment", "error", err)
		os.Exit(1)
	}

	cfg, err := config.Load(
		config.WithEnv(""),
		config.WithLogger(log),
		migrationOption(command),
	)
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	repo, closeRepo, err := cfg.BuildRepository(ctx)
	if err != nil {
		log.Error("failed to build repository", "error", err)
		os.Exit(1)
	}
	defer closeRepo()

	switch command {
	case "migrate":
		// BuildRepository already applied the schema.
		log.Info("schema applied", "schema", cfg.DBSchema)
	case "repos":
		err = handleRepos(ctx, repo)
	case "components":
		err = handleComponents(ctx, repo, env.PageLimit, os.Args[2:])
	case "unused-blobs":
		err = handleUnusedBlobs(ctx, repo, env.PageLimit, os.Args[2:])
	case "purge-downloads":
		err = handlePurgeDownloads(ctx, repo, log, os.Args[2:])
	case "delete-repo":
		err = handleDeleteRepo(ctx, repo, log, os.Args[2:])
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		fmt.Print(usage)
		os.Exit(1)
	}
	if err != nil {
		log.Error("command failed", "command", command, "error", err)
		os.Exit(1)
	}
}

func migrationOption(command string) config.Option {
	if command == "migrate" {
		return config.WithMigration()
	}
	return nil
}

func handleRepos(ctx context.Context, repo metastore.Repository) error {
	repos, err := repo.BrowseContentRepositories(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCONFIG ID\tCREATED\tLAST UPDATED")
	for _, r := range repos {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n",
			*r.RepositoryID, r.ConfigRepositoryID,
			r.Created.Format(time.RFC3339), r.LastUpdated.Format(time.RFC3339))
	}
	return w.Flush()
}

func handleComponents(ctx context.Context, repo metastore.Repository, pageLimit int, args []string) error {
	fs := flag.NewFlagSet("components", flag.ExitOnError)
	repoID := fs.Int64("repo-id", 0, "internal repository id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *repoID == 0 {
		return fmt.Errorf("--repo-id is required")
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAMESPACE\tNAME\tVERSION\tKIND\tENTITY VERSION")
	var token metastore.ContinuationToken
	for {
		page, next, err := repo.BrowseComponents(ctx, *repoID, pageLimit, token)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			break
		}
		for _, c := range page {
			entityVersion := "-"
			if c.EntityVersion != nil {
				entityVersion = fmt.Sprintf("%d", *c.EntityVersion)
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
				*c.ComponentID, c.Namespace, c.Name, c.Version, c.Kind, entityVersion)
		}
		token = next
	}
	return w.Flush()
}

func handleUnusedBlobs(ctx context.Context, repo metastore.Repository, pageLimit int, args []string) error {
	fs := flag.NewFlagSet("unused-blobs", flag.ExitOnError)
	maxAge := fs.Duration("max-age", 0, "only report blobs created at least this long ago")
	if err := fs.Parse(args); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tBLOB REF\tSIZE\tCREATED")
	var token metastore.ContinuationToken
	for {
		page, next, err := repo.BrowseUnusedAssetBlobs(ctx, pageLimit, *maxAge, token)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			break
		}
		for _, b := range page {
			fmt.Fprintf(w, "%d\t%s\t%d\t%s\n",
				*b.AssetBlobID, b.BlobRef, b.BlobSize, b.BlobCreated.Format(time.RFC3339))
		}
		token = next
	}
	return w.Flush()
}

func handlePurgeDownloads(ctx context.Context, repo metastore.Repository, log *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("purge-downloads", flag.ExitOnError)
	repoID := fs.Int64("repo-id", 0, "internal repository id")
	thresholdDays := fs.Int("threshold-days", 30, "purge assets last downloaded before this many days ago")
	batch := fs.Int("batch", 500, "maximum assets removed per run")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *repoID == 0 {
		return fmt.Errorf("--repo-id is required")
	}

	purged, err := repo.PurgeNotRecentlyDownloaded(ctx, *repoID, *thresholdDays, *batch)
	if err != nil {
		return err
	}
	log.Info("purged assets", "repository", *repoID, "count", purged)
	return nil
}

func handleDeleteRepo(ctx context.Context, repo metastore.Repository, log *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("delete-repo", flag.ExitOnError)
	configID := fs.String("config-id", "", "config repository id (uuid)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := uuid.Parse(*configID)
	if err != nil {
		return fmt.Errorf("--config-id must be a valid uuid: %w", err)
	}

	record, err := repo.GetContentRepository(ctx, id)
	if err != nil {
		return err
	}

	// Tear down dependents before the repository row itself.
	nodes, err := repo.DeleteBrowseNodes(ctx, *record.RepositoryID, 1000)
	if err != nil {
		return err
	}
	assets, err := repo.DeleteAssets(ctx, *record.RepositoryID, 0)
	if err != nil {
		return err
	}
	components, err := repo.DeleteComponents(ctx, *record.RepositoryID, 0)
	if err != nil {
		return err
	}
	if _, err := repo.DeleteContentRepository(ctx, record); err != nil {
		return err
	}
	log.Info("repository deleted", "config_id", id,
		"browse_nodes", nodes, "assets", assets, "components", components)
	return nil
}
