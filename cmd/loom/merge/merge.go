package mergecmder

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/loom/cmd/loom/sqlitepath"
	"github.com/papercomputeco/loom/pkg/history"
	"github.com/papercomputeco/loom/pkg/storage/sqlite"
)

const mergeLongDesc string = `Merge one or more source SQLite databases into a target.

Content-addressing makes the node merge a simple union: nodes that
already exist in the target are skipped (deduped by hash). Thread
heads follow: a source head replaces the target's only when its
chain is strictly deeper.

Examples:
  loom merge source1.sqlite source2.sqlite
  loom merge --sqlite /tmp/merged.sqlite ~/alice/loom.db ~/bob/loom.db`

const mergeShortDesc string = "Merge SQLite databases"

type mergeCommander struct {
	sqlitePath string
}

func NewMergeCmd() *cobra.Command {
	cmder := &mergeCommander{}

	cmd := &cobra.Command{
		Use:   "merge [sources...]",
		Short: mergeShortDesc,
		Long:  mergeLongDesc,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd, args)
		},
	}

	cmd.Flags().StringVarP(&cmder.sqlitePath, "sqlite", "s", "", "Path to target SQLite database")

	return cmd
}

func (c *mergeCommander) run(ctx context.Context, cmd *cobra.Command, sources []string) error {
	targetPath, err := sqlitepath.ResolveSQLitePath(c.sqlitePath)
	if err != nil {
		return fmt.Errorf("could not resolve target database: %w", err)
	}

	target, err := sqlite.NewDriver(ctx, targetPath)
	if err != nil {
		return fmt.Errorf("could not open target database %s: %w", targetPath, err)
	}
	defer target.Close()

	mgr := history.NewManager(target, target)

	var totalNew, totalDuped, totalThreads int

	for _, srcPath := range sources {
		source, err := sqlite.NewDriver(ctx, srcPath)
		if err != nil {
			return fmt.Errorf("could not open source database %s: %w", srcPath, err)
		}

		nodes, err := source.List(ctx)
		if err != nil {
			source.Close()
			return fmt.Errorf("could not list nodes from %s: %w", srcPath, err)
		}

		var srcNew, srcDuped int
		for _, n := range nodes {
			isNew, err := target.Put(ctx, n)
			if err != nil {
				source.Close()
				return fmt.Errorf("could not put node %s: %w", n.Hash, err)
			}
			if isNew {
				srcNew++
			} else {
				srcDuped++
			}
		}

		threads, err := source.ListThreads(ctx)
		if err != nil {
			source.Close()
			return fmt.Errorf("could not list threads from %s: %w", srcPath, err)
		}

		var srcThreads int
		for _, t := range threads {
			if t.HeadHash == "" {
				continue
			}
			adopted, err := mgr.AdoptHead(ctx, *t)
			if err != nil {
				source.Close()
				return fmt.Errorf("could not merge thread %s: %w", t.ID, err)
			}
			if adopted {
				srcThreads++
			}
		}

		totalNew += srcNew
		totalDuped += srcDuped
		totalThreads += srcThreads
		source.Close()

		fmt.Fprintf(cmd.OutOrStdout(), "  %s: %d new, %d already existed, %d thread heads updated\n",
			srcPath, srcNew, srcDuped, srcThreads)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Merged %d new nodes from %d sources (%d already existed, %d thread heads updated) into %s\n",
		totalNew, len(sources), totalDuped, totalThreads, targetPath)

	return nil
}
