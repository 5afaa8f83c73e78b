package main

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	api "github.com/fyrsmithlabs/memoryd/internal/http"
	"github.com/fyrsmithlabs/memoryd/internal/ingest"
	"github.com/fyrsmithlabs/memoryd/internal/intel"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/pipeline"
	"github.com/fyrsmithlabs/memoryd/internal/selector"
)

func newHealthCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check memoryd server health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp api.HealthResponse
			_, err := opts.client().do(cmd.Context(), http.MethodGet, "/health", nil, &resp)
			if err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Server Status: %s\n", resp.Status)
			if resp.Version != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Version: %s\n", resp.Version)
			}
			return nil
		},
	}
}

func newAddCmd(opts *options) *cobra.Command {
	var (
		tags      []string
		relevance float64
		snippet   string
	)
	cmd := &cobra.Command{
		Use:   "add <summary>",
		Short: "Record a memory",
		Long: `Record a memory with a summary and topic tags.

Examples:
  memctl add "Acme wants the pricing sheet by Friday" --tag acme --tag pricing
  memctl add "Venue confirmed for June" --tag events --relevance 6`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m := memory.Memory{
				Summary:             args[0],
				Tags:                tags,
				Relevance:           relevance,
				ConversationSnippet: snippet,
			}
			var stored memory.Memory
			if _, err := opts.client().do(cmd.Context(), http.MethodPost, "/api/v1/memories", m, &stored); err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), stored)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Memory saved: %s (#%s)\n", stored.ID, strings.Join(stored.Tags, " #"))
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "Topic tag (repeatable)")
	cmd.Flags().Float64Var(&relevance, "relevance", 1, "Relevance between 0 and 10")
	cmd.Flags().StringVar(&snippet, "snippet", "", "Conversation excerpt")
	_ = cmd.MarkFlagRequired("tag")
	return cmd
}

func newContextCmd(opts *options) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "context <utterance>",
		Short: "Preview the memory primer for an utterance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := selector.Request{Utterance: args[0], Limit: limit}
			var res selector.Result
			if _, err := opts.client().do(cmd.Context(), http.MethodPost, "/api/v1/context", req, &res); err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), res)
			}
			if res.Primer == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "No relevant memories.")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Primer)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum memories (default: server setting)")
	return cmd
}

func newProcessCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "process [memory-id...]",
		Short: "Extract and apply intelligence from memories",
		Long: `Run memories through extraction and application.

With one id the memory is processed on its own. With several ids they run as
a batch, and with none the server processes its pending memories.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := opts.client()
			out := cmd.OutOrStdout()

			if len(args) == 1 {
				var outcome pipeline.Outcome
				code, err := c.do(cmd.Context(), http.MethodPost, "/api/v1/memories/"+url.PathEscape(args[0])+"/process", nil, &outcome)
				if err != nil {
					return err
				}
				if opts.json {
					return printJSON(out, outcome)
				}
				printOutcome(out, outcome)
				if code == http.StatusMultiStatus {
					return fmt.Errorf("memory %s was only partially applied", outcome.MemoryID)
				}
				return nil
			}

			var resp api.ProcessBatchResponse
			if _, err := c.do(cmd.Context(), http.MethodPost, "/api/v1/process", api.ProcessBatchRequest{IDs: args}, &resp); err != nil {
				return err
			}
			if opts.json {
				return printJSON(out, resp)
			}
			for _, o := range resp.Outcomes {
				printOutcome(out, o)
			}
			fmt.Fprintf(out, "applied %d, partial %d, failed %d\n",
				resp.Counts[intel.StatusApplied], resp.Counts[intel.StatusPartial], resp.Counts[intel.StatusFailed])
			return nil
		},
	}
}

func printOutcome(w io.Writer, o pipeline.Outcome) {
	line := fmt.Sprintf("%s: %s", o.MemoryID, o.Status)
	if o.Provider != "" {
		line += " via " + o.Provider
	}
	if o.Error != "" {
		line += " (" + o.Error + ")"
	}
	fmt.Fprintln(w, line)
}

func newTagsCmd(opts *options) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "tags",
		Short: "List tag scores, highest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp api.TagsResponse
			if _, err := opts.client().do(cmd.Context(), http.MethodGet, "/api/v1/tags", nil, &resp); err != nil {
				return err
			}
			if limit > 0 && len(resp.Tags) > limit {
				resp.Tags = resp.Tags[:limit]
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), resp)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TAG\tMEMORIES\tKNOWLEDGE\tSCORE")
			for _, t := range resp.Tags {
				fmt.Fprintf(w, "%s\t%d\t%d\t%.2f\n", t.Tag, t.MemoryCount, t.KnowledgeCount, t.Score)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum tags to show")
	return cmd
}

func newAuditCmd(opts *options) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recent application audit records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp api.List[intel.AuditRecord]
			path := "/api/v1/audit?limit=" + strconv.Itoa(limit)
			if _, err := opts.client().do(cmd.Context(), http.MethodGet, path, nil, &resp); err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), resp)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tMEMORY\tRELEVANCE\tAPPLIED\tFAILED")
			for _, r := range resp.Items {
				applied := 0
				for _, n := range r.Applied {
					applied += n
				}
				fmt.Fprintf(w, "%s\t%s\t%.2f -> %.2f\t%d\t%d\n",
					r.CreatedAt.Local().Format(time.DateTime), r.MemoryID,
					r.PreviousRelevance, r.Relevance, applied, len(r.Failures))
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum records to show")
	return cmd
}

func newImportCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.json>...",
		Short: "Import memories from JSON files",
		Long: `Import memories from JSON files. Each file holds one memory object or an
array of them, in the same shape as POST /api/v1/memories.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := opts.client()
			var results []ingest.Result
			failed := 0
			for _, path := range args {
				res := ingest.Result{File: filepath.Base(path), Added: []string{}}
				ms, err := decodeFile(path)
				if err != nil {
					res.Errors = []string{err.Error()}
				} else {
					for i, m := range ms {
						var stored memory.Memory
						if _, err := c.do(cmd.Context(), http.MethodPost, "/api/v1/memories", m, &stored); err != nil {
							res.Errors = append(res.Errors, fmt.Sprintf("memory %d: %v", i, err))
							continue
						}
						res.Added = append(res.Added, stored.ID)
					}
				}
				failed += len(res.Errors)
				results = append(results, res)
			}

			if opts.json {
				if err := printJSON(cmd.OutOrStdout(), results); err != nil {
					return err
				}
			} else {
				for _, r := range results {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %d added\n", r.File, len(r.Added))
					for _, e := range r.Errors {
						fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", e)
					}
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d memories could not be imported", failed)
			}
			return nil
		},
	}
}

func decodeFile(path string) ([]memory.Memory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ingest.Decode(f)
}
