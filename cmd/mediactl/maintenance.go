package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kiranshivaraju/mediagen/internal/maintenance"
	"github.com/kiranshivaraju/mediagen/internal/media"
	"github.com/kiranshivaraju/mediagen/internal/store"
	"github.com/spf13/cobra"
)

type maintenanceOp struct {
	use    string
	short  string
	format string
	run    func(s *maintenance.Service, ctx context.Context) (int, error)
}

var maintenanceOps = []maintenanceOp{
	{
		use:    maintenance.OpPurgeFailed,
		short:  "Delete failed jobs that have no retries left",
		format: "deleted %d failed jobs",
		run:    (*maintenance.Service).PurgeFailed,
	},
	{
		use:    maintenance.OpPurgeBroken,
		short:  "Delete completed jobs whose /images/ file is missing",
		format: "deleted %d jobs with broken image links",
		run:    (*maintenance.Service).PurgeBrokenImages,
	},
	{
		use:    maintenance.OpPurgeMissing,
		short:  "Delete completed jobs whose local image file is missing, in any path format",
		format: "deleted %d jobs with missing image files",
		run:    (*maintenance.Service).PurgeMissingImages,
	},
	{
		use:    maintenance.OpNormalizePath,
		short:  "Rewrite legacy on-disk image paths to /images/<file>",
		format: "fixed %d image paths",
		run:    (*maintenance.Service).NormalizeLegacyPaths,
	},
}

func newMaintenanceCmd(a *app, op maintenanceOp) *cobra.Command {
	return &cobra.Command{
		Use:   op.use,
		Short: op.short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.maintenance(cmd.Context())
			if err != nil {
				return err
			}
			count, err := op.run(svc, cmd.Context())
			if err != nil {
				return err
			}

			msg := fmt.Sprintf(op.format, count)
			if a.asJSON {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{"message": msg, "count": count})
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			return nil
		},
	}
}

func (a *app) maintenance(ctx context.Context) (*maintenance.Service, error) {
	pool, err := a.db(ctx)
	if err != nil {
		return nil, err
	}
	locker, err := a.redis(ctx)
	if err != nil {
		return nil, err
	}
	files, err := media.NewFileStore(a.cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open media storage: %w", err)
	}
	return maintenance.NewService(store.NewPostgresStore(pool), files, locker, a.cfg.Storage.Path, a.cfg.Retry.MaxRetries), nil
}
