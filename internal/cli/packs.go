package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/datallboy/packman/internal/app"
	"github.com/datallboy/packman/internal/domain"
	"github.com/dustin/go-humanize"
	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func newListCmd(ro *RootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show the catalog and the state of every pack",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), ro, func(a *app.Context) error {
				renderPacks(os.Stdout, a.Manager.AvailablePacks(), a.Manager.States())
				return nil
			})
		},
	}
}

type controlFunc func(ctx context.Context, id string) (domain.PackState, error)

func newControlCmd(ro *RootOpts, use, short string, pick func(a *app.Context) controlFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), ro, func(a *app.Context) error {
				st, err := pick(a)(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Printf("%s is now %s\n", args[0], statusText(st.Status))
				return nil
			})
		},
	}
}

func newCancelCmd(ro *RootOpts) *cobra.Command {
	return newControlCmd(ro, "cancel", "Discard a partial download, keeping any installed version",
		func(a *app.Context) controlFunc { return a.Manager.Cancel })
}

func newRemoveCmd(ro *RootOpts) *cobra.Command {
	return newControlCmd(ro, "remove", "Delete a pack's install and any partial download",
		func(a *app.Context) controlFunc { return a.Manager.Remove })
}

func newCheckUpdatesCmd(ro *RootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "check-updates",
		Short: "Flag installed packs whose catalog version is newer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), ro, func(a *app.Context) error {
				flagged, err := a.Manager.CheckForUpdates(cmd.Context())
				if err != nil {
					return err
				}
				if len(flagged) == 0 {
					fmt.Println("All installed packs are up to date.")
					return nil
				}

				versions := map[string]string{}
				for _, p := range a.Manager.AvailablePacks() {
					versions[p.ID] = p.Version
				}
				for _, st := range flagged {
					fmt.Printf("%s: %s -> %s\n", st.PackID, st.InstalledVersion, versions[st.PackID])
				}
				return nil
			})
		},
	}
}

func newHistoryCmd(ro *RootOpts) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history <id>",
		Short: "List past download sessions of a pack, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), ro, func(a *app.Context) error {
				if _, err := a.Manager.State(args[0]); err != nil {
					return err
				}
				records, err := a.History.ListHistory(cmd.Context(), args[0], limit)
				if err != nil {
					return err
				}
				renderHistory(os.Stdout, records)
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of sessions to show (0 for all)")

	return cmd
}

func newTable(w io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	return table
}

func renderPacks(w io.Writer, packs []domain.ContentPack, states map[string]domain.PackState) {
	table := newTable(w, []string{"ID", "Type", "Version", "Size", "Status", "Progress", "Installed"})

	for _, p := range packs {
		st, ok := states[p.ID]
		if !ok {
			st = domain.NewPackState(p.ID)
		}
		table.Append([]string{
			p.ID,
			string(p.Type),
			p.Version,
			humanize.IBytes(uint64(max(p.SizeBytes, 0))),
			statusText(st.Status),
			progressText(st),
			st.InstalledVersion,
		})
	}

	table.Render()
}

func renderHistory(w io.Writer, records []domain.SessionRecord) {
	table := newTable(w, []string{"Session", "Version", "Outcome", "Bytes", "Started", "Took", "Error"})

	for _, r := range records {
		table.Append([]string{
			r.SessionID,
			r.Version,
			string(r.Outcome),
			strconv.FormatInt(r.Bytes, 10),
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.EndedAt.Sub(r.StartedAt).Round(time.Millisecond).String(),
			r.Error,
		})
	}

	table.Render()
}

func progressText(st domain.PackState) string {
	if st.TotalBytes <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.0f%%", float64(st.DownloadedBytes)*100/float64(st.TotalBytes))
}

func statusText(s domain.PackStatus) string {
	switch s {
	case domain.StatusInstalled:
		return color.New(color.FgGreen).Render(string(s))
	case domain.StatusUpdateAvailable, domain.StatusPaused:
		return color.New(color.FgYellow).Render(string(s))
	case domain.StatusFailed:
		return color.New(color.FgRed).Render(string(s))
	case domain.StatusDownloading, domain.StatusVerifying, domain.StatusInstalling:
		return color.New(color.FgCyan).Render(string(s))
	default:
		return string(s)
	}
}
