// Command decentralisd is the CLI and daemon surface of spec.md §6: a
// single binary that can chunk/reconstruct files, inspect peers and
// file status, and run the long-lived replication/RPC/tracker daemon.
// The command tree follows the teacher's var-block-of-*cobra.Command
// style (cmd/skyrecover/file.go, cmd/healthcheck/contracts.go); plain
// log/fmt output for one-shot subcommands and logrus only for the
// daemon matches the same split the teacher draws between its
// short-lived cmd/ tools and siad's long-running core.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Exit codes per spec.md §6: 0 ok, 1 user error, 2 internal error.
const (
	exitOK       = 0
	exitUserErr  = 1
	exitInternal = 2
)

var debug bool

// die prints err to stderr and exits with code, the teacher's
// cmd/siac die() idiom generalized to carry an explicit exit code
// instead of always using exitCodeGeneral.
func die(code int, args ...interface{}) {
	fmt.Fprintln(os.Stderr, args...)
	os.Exit(code)
}

func main() {
	root := &cobra.Command{
		Use:   "decentralisd",
		Short: "decentralis peer-to-peer encrypted file vault",
		Run:   func(cmd *cobra.Command, args []string) { cmd.Usage() },
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable verbose logging")

	root.AddCommand(initCmd)
	root.AddCommand(chunkCmd)
	root.AddCommand(reconstructCmd)
	root.AddCommand(peersCmd)
	root.AddCommand(statusCmd)
	root.AddCommand(daemonCmd)
	daemonCmd.AddCommand(daemonStartCmd)

	if err := root.Execute(); err != nil {
		os.Exit(exitUserErr)
	}
}
