package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/datallboy/packman/internal/app"
	"github.com/datallboy/packman/internal/domain"
	"github.com/datallboy/packman/internal/engine"
	"github.com/dustin/go-humanize"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

func newInstallCmd(ro *RootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "install <id>",
		Short: "Download, verify and install a pack",
		Long: `Download a pack and install it once its digest checks out. Bytes left
over from an earlier attempt are reused. Ctrl+C pauses the download and keeps
what has been received so far.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), ro, func(a *app.Context) error {
				return install(cmd.Context(), a, args[0], false)
			})
		},
	}
}

func newResumeCmd(ro *RootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <id>",
		Short: "Continue a paused download from the bytes already on disk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), ro, func(a *app.Context) error {
				return install(cmd.Context(), a, args[0], true)
			})
		},
	}
}

func install(ctx context.Context, a *app.Context, id string, resume bool) error {
	st, err := a.Manager.State(id)
	if err != nil {
		return err
	}
	pack, _ := lo.Find(a.Manager.AvailablePacks(), func(p domain.ContentPack) bool { return p.ID == id })

	// Subscribe first so no progress is missed between launch and the loop
	updates, unsubscribe := a.Manager.Subscribe(64)
	defer unsubscribe()

	launch := a.Manager.Start
	if resume || st.Status == domain.StatusPaused {
		launch = a.Manager.Resume
	}

	dl, err := launch(ctx, id)
	if err != nil {
		return err
	}

	bar := pb.Full.Start64(pack.SizeBytes)
	bar.Set(pb.Bytes, true)
	bar.Set("prefix", fmt.Sprintf("%s %s ", id, domain.StatusDownloading))
	if cur, err := a.Manager.State(id); err == nil {
		bar.SetCurrent(cur.DownloadedBytes)
	}

	for {
		select {
		case st, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			if st.PackID != id {
				continue
			}
			bar.SetCurrent(st.DownloadedBytes)
			bar.Set("prefix", fmt.Sprintf("%s %s ", id, st.Status))

		case <-dl.Done():
			final, err := dl.Wait(context.Background())
			bar.SetCurrent(final.DownloadedBytes)
			bar.Finish()
			return report(pack, final, err)

		case <-ctx.Done():
			return pauseOnInterrupt(a, dl, bar)
		}
	}
}

func pauseOnInterrupt(a *app.Context, dl *engine.Download, bar *pb.ProgressBar) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	st, err := a.Manager.Pause(ctx, dl.PackID())
	bar.Finish()
	if err != nil {
		return err
	}

	fmt.Printf("Paused %s at %s of %s. Run 'packman resume %s' to continue.\n",
		dl.PackID(), humanize.IBytes(uint64(st.DownloadedBytes)), humanize.IBytes(uint64(st.TotalBytes)), dl.PackID())
	return nil
}

func report(pack domain.ContentPack, st domain.PackState, err error) error {
	if err != nil {
		return err
	}

	switch st.Status {
	case domain.StatusInstalled, domain.StatusUpdateAvailable:
		fmt.Printf("Installed %s %s\n", pack.ID, st.InstalledVersion)
	case domain.StatusPaused:
		fmt.Printf("Download of %s was interrupted at %s. Run 'packman resume %s' to continue.\n",
			pack.ID, humanize.IBytes(uint64(st.DownloadedBytes)), pack.ID)
	default:
		fmt.Printf("%s is now %s\n", pack.ID, st.Status)
	}
	return nil
}
