package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ecobiomax/normaIA/internal/app"
	"github.com/ecobiomax/normaIA/internal/rag"
)

type depsBuilder func() (app.Deps, error)

type cli struct {
	build  depsBuilder
	userID string
	asJSON bool
}

func newRootCmd(build depsBuilder) *cobra.Command {
	c := &cli{build: build}

	root := &cobra.Command{
		Use:           "normactl",
		Short:         "Ingest technical standards and ask questions about them",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&c.userID, "user", "u", envOr("NORMAIA_USER", "cli"), "user id the command acts as")
	root.PersistentFlags().BoolVar(&c.asJSON, "json", false, "print JSON instead of text")

	root.AddCommand(c.ingestCmd(), c.askCmd(), c.historyCmd(), c.documentsCmd())
	return root
}

func (c *cli) ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Extract, segment, embed and index PDF documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := c.build()
			if err != nil {
				return err
			}
			defer deps.Close()

			var failed int
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("reading %s: %w", path, err)
				}
				res, err := deps.Ingestor.Ingest(cmd.Context(), c.userID, filepath.Base(path), data)
				if err != nil {
					return err
				}
				if !res.Success {
					failed++
				}
				if err := c.print(cmd.OutOrStdout(), res, func(w io.Writer) {
					fmt.Fprintln(w, res.Message)
					if res.Error != "" {
						fmt.Fprintf(w, "  %s\n", res.Error)
					}
				}); err != nil {
					return err
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d documents failed", failed, len(args))
			}
			return nil
		},
	}
}

func (c *cli) askCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question grounded on the indexed standards",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := c.build()
			if err != nil {
				return err
			}
			defer deps.Close()

			res, err := deps.Asker.Ask(cmd.Context(), c.userID, strings.Join(args, " "))
			if err != nil {
				return err
			}
			return c.print(cmd.OutOrStdout(), res, func(w io.Writer) {
				fmt.Fprintln(w, res.Answer)
				if len(res.Sources) == 0 {
					return
				}
				fmt.Fprintln(w, "\nFontes:")
				for _, s := range res.Sources {
					fmt.Fprintf(w, "  - %s (%s) %.3f\n", s.Filename, s.Section, s.Score)
				}
			})
		},
	}
}

func (c *cli) historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent questions and answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps, err := c.build()
			if err != nil {
				return err
			}
			defer deps.Close()

			records, err := deps.Asker.History(cmd.Context(), c.userID, limit)
			if err != nil {
				return err
			}
			return c.print(cmd.OutOrStdout(), records, func(w io.Writer) {
				for _, r := range records {
					fmt.Fprintf(w, "[%s] %s\n%s\n\n", r.CreatedAt.Format("2006-01-02 15:04"), r.Question, r.Answer)
				}
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", rag.DefaultHistoryLimit, "number of turns to show")
	return cmd
}

func (c *cli) documentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "documents",
		Short: "List ingested documents and their status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps, err := c.build()
			if err != nil {
				return err
			}
			defer deps.Close()

			docs, err := deps.Ingestor.ListDocuments(cmd.Context(), c.userID)
			if err != nil {
				return err
			}
			return c.print(cmd.OutOrStdout(), docs, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tFILENAME\tSTATUS\tPAGES\tCHUNKS")
				for _, d := range docs {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n", d.ID, d.Filename, d.Status, d.PageCount, d.ChunkCount)
				}
				tw.Flush()
			})
		},
	}
}

func (c *cli) print(w io.Writer, v any, text func(io.Writer)) error {
	if !c.asJSON {
		text(w)
		return nil
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
