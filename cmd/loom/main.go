package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	browsecmder "github.com/papercomputeco/loom/cmd/loom/browse"
	chatcmder "github.com/papercomputeco/loom/cmd/loom/chat"
	historycmder "github.com/papercomputeco/loom/cmd/loom/history"
	mergecmder "github.com/papercomputeco/loom/cmd/loom/merge"
	pushcmder "github.com/papercomputeco/loom/cmd/loom/push"
	servecmder "github.com/papercomputeco/loom/cmd/loom/serve"
)

func main() {
	root := &cobra.Command{
		Use:   "loom",
		Short: "Conversation threads over a content-addressed DAG",
		Long: `loom runs draft-refinement conversations against a local model,
stores every message in a content-addressed Merkle DAG, and syncs
histories between machines by exchanging nodes.`,
		SilenceUsage: true,
	}

	root.AddCommand(servecmder.NewServeCmd())
	root.AddCommand(chatcmder.NewChatCmd())
	root.AddCommand(historycmder.NewHistoryCmd())
	root.AddCommand(browsecmder.NewBrowseCmd())
	root.AddCommand(mergecmder.NewMergeCmd())
	root.AddCommand(pushcmder.NewPushCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
