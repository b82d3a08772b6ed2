package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tbourn/go-shortlink-backend/internal/services"
	"github.com/tbourn/go-shortlink-backend/internal/utils"
)

func (c *cli) backfillCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Populate the ordered index from the link table",
		Long: `Scans every stored link and inserts its ordered-index entry when missing.
Without --force the run is skipped if the index already has entries.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rep, err := c.app.Backfiller().Run(cmd.Context(), force)
			if err != nil {
				return err
			}
			if c.asJSON {
				return writeJSON(cmd.OutOrStdout(), rep)
			}
			if rep.Skipped {
				fmt.Fprintln(cmd.OutOrStdout(), "index already populated; use --force to rescan")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scanned=%d inserted=%d failed=%d\n", rep.Scanned, rep.Inserted, rep.Failed)
			if rep.Failed > 0 {
				return fmt.Errorf("%d index writes failed", rep.Failed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Rescan even if the index has entries")
	return cmd
}

// listOutput is the JSON shape of one page.
type listOutput struct {
	Items      []services.AdminLink `json:"items"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

func (c *cli) listCmd() *cobra.Command {
	var (
		limit  int
		cursor string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List links newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := utils.DecodeCursor(cursor)
			if err != nil {
				return fmt.Errorf("cursor: %w", err)
			}
			page, err := c.app.Links.AdminList(cmd.Context(), limit, raw)
			if err != nil {
				return err
			}
			out := listOutput{Items: page.Items, NextCursor: utils.EncodeCursor(page.NextCursor)}
			if c.asJSON {
				return writeJSON(cmd.OutOrStdout(), out)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCREATED\tENABLED\tLAST STATUS\tTARGET")
			for _, it := range page.Items {
				fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\n",
					it.ID, it.CreatedAt.Format(time.RFC3339), it.Enabled, lastStatus(it), it.TargetURL)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if out.NextCursor != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "\nnext: --cursor %s\n", out.NextCursor)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Page size (1..100)")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Cursor printed by the previous page")
	return cmd
}

func (c *cli) showCmd() *cobra.Command {
	var logs int
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a link with its state, creator metadata and recent requests",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := c.app.Links.AdminDetail(cmd.Context(), args[0], logs)
			if err != nil {
				return err
			}
			if c.asJSON {
				return writeJSON(cmd.OutOrStdout(), d)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "id:          %s\n", d.ID)
			fmt.Fprintf(w, "target:      %s\n", d.TargetURL)
			fmt.Fprintf(w, "created:     %s\n", d.CreatedAt.Format(time.RFC3339Nano))
			if d.ExpiresAt != nil {
				fmt.Fprintf(w, "expires:     %s\n", d.ExpiresAt.Format(time.RFC3339))
			}
			fmt.Fprintf(w, "enabled:     %t\n", d.Enabled)
			if d.DisabledAt != nil {
				fmt.Fprintf(w, "disabled at: %s\n", d.DisabledAt.Format(time.RFC3339))
			}
			if d.LastAccess != nil {
				fmt.Fprintf(w, "last access: %s (%d)\n", d.LastAccess.LastAccessAt.Format(time.RFC3339), d.LastAccess.LastStatusCode)
			}
			if d.CreateMeta != nil {
				fmt.Fprintf(w, "created by:  ip=%s ua=%q request=%s\n", d.CreateMeta.IP, d.CreateMeta.UserAgent, d.CreateMeta.RequestID)
			}
			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			if len(d.CreateLogs) > 0 {
				fmt.Fprintln(tw, "\ncreate requests:")
				for _, e := range d.CreateLogs {
					fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", e.Timestamp.Format(time.RFC3339), e.RequestID, e.IP, e.TargetURL)
				}
			}
			if len(d.AccessLogs) > 0 {
				fmt.Fprintln(tw, "\nrecent accesses:")
				for _, e := range d.AccessLogs {
					fmt.Fprintf(tw, "  %s\t%d\t%s\t%s\n", e.Timestamp.Format(time.RFC3339), e.StatusCode, e.IP, e.UserAgent)
				}
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&logs, "logs", 10, "Number of entries per log")
	return cmd
}

func (c *cli) setEnabledCmd(name string, enabled bool) *cobra.Command {
	short := "Disable a link; redirects answer 410"
	if enabled {
		short = "Re-enable a disabled link"
	}
	return &cobra.Command{
		Use:   name + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.app.Links.SetEnabled(cmd.Context(), args[0], enabled); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %sd\n", args[0], name)
			return nil
		},
	}
}

func lastStatus(it services.AdminLink) string {
	if it.LastAccess == nil {
		return "-"
	}
	return fmt.Sprint(it.LastAccess.LastStatusCode)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
