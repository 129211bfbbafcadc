package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/ternarybob/flowqueue/internal/interfaces"
	"github.com/ternarybob/flowqueue/internal/models"
	"github.com/ternarybob/flowqueue/internal/services/downloader"
	"github.com/ternarybob/flowqueue/internal/services/events"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

var downloadCmd = &cobra.Command{
	Use:   "download URL",
	Short: "Download a video with yt-dlp",
	Args:  cobra.ExactArgs(1),
	RunE:  runDownload,
}

var downloadOutput string

func init() {
	downloadCmd.Flags().StringVarP(&downloadOutput, "output", "o", "", "Output directory (overrides downloader.output_dir)")
}

// progressTitle holds the name shown before the bar; it is learned from the first progress event
type progressTitle struct {
	mu    sync.Mutex
	value string
}

func (t *progressTitle) set(v string) {
	if v == "" {
		return
	}
	t.mu.Lock()
	t.value = v
	t.mu.Unlock()
}

func (t *progressTitle) get() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.value
}

func runDownload(cmd *cobra.Command, args []string) error {
	outputDir := config.Downloader.OutputDir
	if downloadOutput != "" {
		outputDir = downloadOutput
	}

	eventService := events.NewService(logger)
	defer eventService.Close()

	runner := downloader.NewExecRunner(&config.Downloader, logger)
	service := downloader.NewService(runner, eventService, outputDir, logger)
	defer service.Close()

	title := &progressTitle{value: "Fetching info"}
	p := mpb.New(mpb.WithWidth(48), mpb.WithRefreshRate(100*time.Millisecond))
	bar := p.New(100,
		mpb.BarStyle().Lbound("╢").Filler("█").Tip("█").Padding("░").Rbound("╟"),
		mpb.PrependDecorators(
			decor.Any(func(decor.Statistics) string { return title.get() }, decor.WC{W: 32, C: decor.DindentRight}),
		),
		mpb.AppendDecorators(
			decor.OnComplete(decor.Percentage(decor.WC{W: 5}), "done"),
		),
	)

	unsubscribe := eventService.Subscribe(interfaces.EventDownloadProgress, func(ctx context.Context, event interfaces.Event) error {
		if progress, ok := event.Payload.(models.DownloadProgress); ok {
			title.set(truncatePrompt(progress.Title))
			bar.SetCurrent(int64(progress.Progress))
		}
		return nil
	})
	defer unsubscribe()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	item, err := service.Download(ctx, args[0])
	if err != nil {
		bar.Abort(false)
		p.Wait()
		return err
	}
	bar.SetCurrent(100)
	p.Wait()

	fmt.Printf("Saved %s", item.FilePath)
	if item.Duration != "" {
		fmt.Printf(" (%s)", item.Duration)
	}
	fmt.Println()
	return nil
}
