// kohakuctl is an operator CLI for maintenance tasks that don't belong
// behind the admin-token HTTP surface: one-shot GC sweeps and usage
// recalculation, run directly against the database and blob store.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/kohakuhub/hub/internal/blobstore"
	"github.com/kohakuhub/hub/internal/config"
	"github.com/kohakuhub/hub/internal/db"
	"github.com/kohakuhub/hub/internal/gc"
	"github.com/kohakuhub/hub/internal/lakefs"
	"github.com/kohakuhub/hub/internal/metadata"
	"github.com/kohakuhub/hub/internal/naming"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "kohakuctl",
		Short: "Operator CLI for KohakuHub maintenance tasks",
	}

	gcCmd := &cobra.Command{
		Use:   "gc",
		Short: "Garbage-collection operations",
	}
	gcCmd.AddCommand(&cobra.Command{
		Use:   "sweep <type>/<namespace>/<name>",
		Short: "Prune superseded LFS object versions for a repository",
		Args:  cobra.ExactArgs(1),
		RunE:  runGCSweep,
	})

	repoCmd := &cobra.Command{
		Use:   "repo",
		Short: "Repository maintenance operations",
	}
	repoCmd.AddCommand(&cobra.Command{
		Use:   "recalc-usage <type>/<namespace>/<name>",
		Short: "Recompute a repository's and its owner's used-bytes from live files",
		Args:  cobra.ExactArgs(1),
		RunE:  runRecalcUsage,
	})

	rootCmd.AddCommand(gcCmd, repoCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// repoRef is "type/namespace/name" as used throughout the HTTP API's
// URL scheme, reused here so operators can copy a path straight from a
// browser tab into a CLI argument.
type repoRef struct {
	Type      metadata.RepoType
	Namespace string
	Name      string
}

func parseRepoRef(arg string) (repoRef, error) {
	parts := strings.SplitN(arg, "/", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return repoRef{}, fmt.Errorf("expected <type>/<namespace>/<name>, got %q", arg)
	}
	restype, ns, name := parts[0], parts[1], parts[2]

	var rt metadata.RepoType
	switch restype {
	case "model", "models":
		rt = metadata.RepoTypeModel
	case "dataset", "datasets":
		rt = metadata.RepoTypeDataset
	case "space", "spaces":
		rt = metadata.RepoTypeSpace
	default:
		return repoRef{}, fmt.Errorf("unknown repository type %q", restype)
	}

	return repoRef{Type: rt, Namespace: ns, Name: name}, nil
}

func bootstrap() (*config.Config, *db.Database, *logrus.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	logger := logrus.New()
	logger.SetLevel(logrus.Level(cfg.LogLevel))

	database, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect db: %w", err)
	}

	return cfg, database, logger, nil
}

func loadRepo(ctx context.Context, database *db.Database, ref repoRef) (*metadata.Repository, error) {
	var repo metadata.Repository
	err := database.DB.WithContext(ctx).
		Where("repo_type = ? AND namespace = ? AND name = ?", ref.Type, ref.Namespace, ref.Name).
		First(&repo).Error
	if err != nil {
		return nil, fmt.Errorf("repository %s/%s/%s not found: %w", ref.Type, ref.Namespace, ref.Name, err)
	}
	return &repo, nil
}

// runGCSweep walks every distinct path this repository has ever tracked
// in LFS history and runs the same keep_versions pruning the commit
// engine triggers inline, so an operator can force a sweep without
// waiting for the next write to that path.
func runGCSweep(cmd *cobra.Command, args []string) error {
	ref, err := parseRepoRef(args[0])
	if err != nil {
		return err
	}

	cfg, database, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer database.Close()

	blobs, err := blobstore.NewBackend(blobstore.Config{
		Backend: cfg.S3.Backend,
		S3: blobstore.S3Config{
			Region:          cfg.S3.Region,
			Bucket:          cfg.S3.Bucket,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			EndpointURL:     cfg.S3.EndpointURL,
			ForcePathStyle:  cfg.S3.ForcePathStyle,
		},
		Azure: blobstore.AzureConfig{
			AccountName:   cfg.S3.AzureAccountName,
			AccountKey:    cfg.S3.AzureAccountKey,
			ContainerName: cfg.S3.AzureContainerName,
			EndpointURL:   cfg.S3.EndpointURL,
		},
	})
	if err != nil {
		return fmt.Errorf("init blob store: %w", err)
	}

	lakefsClient := lakefs.NewClient(cfg.LakeFS)
	locker, err := gc.NewLocker(cfg.Redis, logger)
	if err != nil {
		return fmt.Errorf("init gc locker: %w", err)
	}
	gcEngine := gc.NewEngine(database.DB, blobs, lakefsClient, locker, logger)

	ctx := cmd.Context()
	repo, err := loadRepo(ctx, database, ref)
	if err != nil {
		return err
	}

	rules := naming.ResolveLFSRules(cfg.LFS, repo)
	if !rules.KeepVersionsEnabled() {
		fmt.Printf("keep_versions is disabled for %s, nothing to sweep\n", repo.FullID())
		return nil
	}

	var paths []string
	if err := database.DB.WithContext(ctx).Model(&metadata.LFSObjectHistory{}).
		Where("repository_id = ?", repo.ID).
		Distinct("path_in_repo").Pluck("path_in_repo", &paths).Error; err != nil {
		return fmt.Errorf("list tracked paths: %w", err)
	}

	for _, path := range paths {
		gcEngine.RunGCForFile(ctx, repo, path, rules)
	}

	fmt.Printf("swept %d tracked path(s) for %s\n", len(paths), repo.FullID())
	return nil
}

// runRecalcUsage mirrors the admin HTTP endpoint's resum logic but runs
// standalone, for operators fixing drift without going through a token.
func runRecalcUsage(cmd *cobra.Command, args []string) error {
	ref, err := parseRepoRef(args[0])
	if err != nil {
		return err
	}

	_, database, _, err := bootstrap()
	if err != nil {
		return err
	}
	defer database.Close()

	ctx := cmd.Context()
	repo, err := loadRepo(ctx, database, ref)
	if err != nil {
		return err
	}

	var total int64
	row := database.DB.WithContext(ctx).Model(&metadata.File{}).
		Where("repository_id = ? AND is_deleted = ?", repo.ID, false).
		Select("COALESCE(SUM(size), 0)").Row()
	if err := row.Scan(&total); err != nil {
		return fmt.Errorf("sum live file sizes: %w", err)
	}

	if err := database.DB.WithContext(ctx).Model(repo).Update("used_bytes", total).Error; err != nil {
		return fmt.Errorf("update repo used_bytes: %w", err)
	}

	usedCol := "public_used_bytes"
	if repo.Private {
		usedCol = "private_used_bytes"
	}
	var ownerTotal int64
	ownerRow := database.DB.WithContext(ctx).Model(&metadata.Repository{}).
		Where("owner_id = ? AND private = ?", repo.OwnerID, repo.Private).
		Select("COALESCE(SUM(used_bytes), 0)").Row()
	if err := ownerRow.Scan(&ownerTotal); err != nil {
		return fmt.Errorf("sum owner used_bytes: %w", err)
	}
	if err := database.DB.WithContext(ctx).Model(&metadata.User{}).
		Where("id = ?", repo.OwnerID).Update(usedCol, ownerTotal).Error; err != nil {
		return fmt.Errorf("update owner %s: %w", usedCol, err)
	}

	fmt.Printf("%s used_bytes=%d (owner %s=%d)\n", repo.FullID(), total, usedCol, ownerTotal)
	return nil
}
