package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tanq16/danzod/internal/output"
	"github.com/tanq16/danzod/internal/utils"
)

func parseIDs(args []string) ([]int, error) {
	ids := make([]int, 0, len(args))
	for _, arg := range args {
		id, err := strconv.Atoi(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid file id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show every file in the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cfg)
			if err != nil {
				return err
			}
			records := rt.mgr.Records()
			if len(records) == 0 {
				output.PrintInfo("No links in the store")
				return nil
			}
			fmt.Print(output.StatusTable(records))
			return nil
		},
	}
}

func newAbortCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "abort ID...",
		Short: "Abort files so workers no longer pick them up",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			rt, err := newRuntime(cfg)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			for _, id := range ids {
				f, err := rt.mgr.GetFile(id)
				if err != nil {
					return err
				}
				if err := f.AbortDownload(ctx); err != nil {
					return err
				}
				if err := f.SetStatus("aborted"); err != nil {
					return err
				}
				output.PrintSuccess(fmt.Sprintf("Aborted file %d", id))
			}
			return nil
		},
	}
}

func newRemoveCmd() *cobra.Command {
	var finished bool
	cmd := &cobra.Command{
		Use:   "remove [ID...]",
		Short: "Remove files from the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			if len(ids) == 0 && !finished {
				return fmt.Errorf("provide file ids or --finished")
			}
			rt, err := newRuntime(cfg)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			for _, id := range ids {
				if err := rt.mgr.Delete(ctx, id); err != nil {
					return err
				}
			}
			removed := len(ids)
			if finished {
				n, err := rt.mgr.DeleteFinished(ctx)
				if err != nil {
					return err
				}
				removed += n
			}
			output.PrintSuccess(fmt.Sprintf("Removed %d files", removed))
			return nil
		},
	}
	cmd.Flags().BoolVar(&finished, "finished", false, "Remove every finished file")
	return cmd
}

func newCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean [path]",
		Short: "Clean up temporary part files",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := cfg.DownloadDir
			if len(args) > 0 {
				root = args[0]
			}
			total := 0
			err := filepath.WalkDir(root, func(path string, entry os.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if !entry.IsDir() || entry.Name() == utils.TempDirName {
					return nil
				}
				removed, err := utils.CleanTemp(path)
				if err != nil {
					log.Warn().Str("op", "cmd/clean").Msgf("error cleaning %s: %v", path, err)
					return nil
				}
				total += removed
				return nil
			})
			if err != nil {
				output.PrintError("Error cleaning up temporary files")
				return err
			}
			output.PrintSuccess(fmt.Sprintf("Removed %d temporary files", total))
			return nil
		},
	}
}
