// Package main implements memctl, a CLI for the memoryd HTTP API.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// version information
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// options are the flags shared by every command.
type options struct {
	serverURL string
	timeout   time.Duration
	json      bool
}

func (o *options) client() *client {
	return newClient(o.serverURL, o.timeout)
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "memctl",
		Short: "CLI for memoryd",
		Long: `memctl talks to a running memoryd over its HTTP API: record memories,
preview the context primer, run extraction and inspect tags and the audit log.`,
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.serverURL, "server", "http://localhost:9191", "memoryd server URL")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 3*time.Minute, "request timeout")
	root.PersistentFlags().BoolVar(&opts.json, "json", false, "Output results as JSON")

	root.AddCommand(
		newHealthCmd(opts),
		newAddCmd(opts),
		newContextCmd(opts),
		newProcessCmd(opts),
		newTagsCmd(opts),
		newAuditCmd(opts),
		newImportCmd(opts),
	)
	return root
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}
