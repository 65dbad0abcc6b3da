// Command replicatord runs one object-storage node: cluster membership,
// the local object store, the remote replicate cast receiver, the
// repair queue's background drain loop, and the replication facade that
// ties them together.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "replicatord",
		Short: "Object replicator storage node",
	}

	root.PersistentFlags().String("config", "", "path to a config file (optional; without it only flags and defaults apply)")
	root.AddCommand(newServeCmd())
	return root
}
