package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/ternarybob/flowqueue/internal/app"
	"github.com/ternarybob/flowqueue/internal/interfaces"
	"github.com/ternarybob/flowqueue/internal/models"
	"github.com/ternarybob/flowqueue/internal/services/prompts"
	"golang.org/x/sync/errgroup"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Generate every prompt in a file, then exit",
	Long: `Batch mode: imports cookies, opens the browser session, verifies it is signed in,
queues every prompt from the prompt file and processes them in order.
Exits non-zero if any item failed.`,
	RunE: runBatch,
}

var (
	runCookies    string
	runPrompts    string
	runFormat     string
	runHeadless   bool
	runTimeout    time.Duration
	runPersist    bool
	runSkipVerify bool
)

func init() {
	flags := runCmd.Flags()
	flags.StringVar(&runCookies, "cookies", "", "Cookie export JSON (defaults to cookies.file or the stored credential)")
	flags.StringVar(&runPrompts, "prompts", "", "Prompt file (.txt, .csv, .yaml, .json)")
	flags.StringVar(&runFormat, "format", "", "Prompt file format, overrides the extension")
	flags.BoolVar(&runHeadless, "headless", false, "Run the browser headless")
	flags.DurationVar(&runTimeout, "timeout", 0, "Abort the whole batch after this long (0 = no limit)")
	flags.BoolVar(&runPersist, "persist", false, "Use the configured queue store instead of an in-memory queue")
	flags.BoolVar(&runSkipVerify, "skip-verify", false, "Do not require evidence of a signed-in session")
	_ = runCmd.MarkFlagRequired("prompts")
}

// batchSummary is printed when the batch ends
type batchSummary struct {
	Completed int
	Failed    []models.GenerationItem
	Cancelled int
	Pending   int
}

func runBatch(cmd *cobra.Command, args []string) error {
	list, err := readPrompts(runPrompts, runFormat)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		return fmt.Errorf("no prompts found in %s", runPrompts)
	}

	if !runPersist {
		config.Storage.Badger.Enabled = false
	}
	if cmd.Flags().Changed("headless") {
		config.Browser.Headless = runHeadless
	}

	application, err := app.New(config, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, runTimeout)
		defer cancel()
	}

	if runCookies != "" {
		if _, err := application.CookieService.ImportFile(ctx, runCookies); err != nil {
			return err
		}
	}
	credential := application.CookieService.Current()
	if credential.Len() == 0 {
		return errors.New("no cookies: pass --cookies or set cookies.file")
	}
	if !credential.IsValid(time.Now()) {
		return errors.New("all imported cookies have expired")
	}

	if err := application.Session.Initialize(ctx, credential, config.Browser.Headless); err != nil {
		return err
	}
	if !application.Session.VerifyAuthenticated(ctx) && !runSkipVerify {
		return errors.New("session is not signed in; export fresh cookies or pass --skip-verify")
	}

	unsubscribe := printItemEvents(application.Queue)
	defer unsubscribe()

	added := application.Queue.AddPrompts(list)
	fmt.Printf("Queued %d prompts\n", len(added))
	application.Queue.Start()

	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})
	g.Go(func() error {
		defer close(done)
		return application.Queue.WaitIdle(gctx)
	})
	g.Go(func() error {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return nil
			case <-ticker.C:
				status := application.Queue.GetStatus()
				logger.Info().
					Int("queued", status.Queued).
					Int("completed", status.Completed).
					Int("failed", status.Failed).
					Msg("Batch progress")
			}
		}
	})
	waitErr := g.Wait()

	if waitErr != nil {
		// Interrupted: stop picking new items; the in-flight one is abandoned with the process
		application.Queue.Pause()
		fmt.Fprintf(os.Stderr, "Batch interrupted: %v\n", waitErr)
	}

	summary := summarize(application.Queue.GetStatus())
	printSummary(summary)

	if waitErr != nil {
		return waitErr
	}
	if len(summary.Failed) > 0 {
		return fmt.Errorf("%d of %d items failed", len(summary.Failed), len(added))
	}
	return nil
}

func readPrompts(path, format string) ([]string, error) {
	if format == "" {
		return prompts.ParseFile(path)
	}
	f, err := prompts.ParseFormat(format)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt file: %w", err)
	}
	return prompts.Parse(data, f)
}

// printItemEvents is the CLI observer: one line per item transition
func printItemEvents(queue interface {
	Subscribe(interfaces.EventType, interfaces.EventHandler) func()
}) func() {
	line := func(format string) interfaces.EventHandler {
		return func(ctx context.Context, event interfaces.Event) error {
			if item, ok := event.Payload.(models.GenerationItem); ok {
				fmt.Printf(format, truncatePrompt(item.Prompt), detail(item))
			}
			return nil
		}
	}

	unsubscribers := []func(){
		queue.Subscribe(interfaces.EventItemStart, line("> %s%s\n")),
		queue.Subscribe(interfaces.EventItemComplete, line("  done  %s -> %s\n")),
		queue.Subscribe(interfaces.EventItemFail, line("  FAIL  %s: %s\n")),
	}
	return func() {
		for _, unsubscribe := range unsubscribers {
			unsubscribe()
		}
	}
}

func detail(item models.GenerationItem) string {
	switch item.Status {
	case models.GenerationStatusCompleted:
		return item.ArtifactPath
	case models.GenerationStatusFailed:
		return item.Error
	}
	if item.RetryCount > 0 {
		return fmt.Sprintf(" (retry %d)", item.RetryCount)
	}
	return ""
}

func truncatePrompt(prompt string) string {
	const limit = 60
	runes := []rune(prompt)
	if len(runes) <= limit {
		return prompt
	}
	return string(runes[:limit-3]) + "..."
}

func summarize(status models.QueueStatus) batchSummary {
	summary := batchSummary{
		Completed: status.Completed,
		Cancelled: status.Cancelled,
		Pending:   status.Queued + status.Processing,
	}
	for _, item := range status.Items {
		if item.Status == models.GenerationStatusFailed {
			summary.Failed = append(summary.Failed, item)
		}
	}
	return summary
}

func printSummary(summary batchSummary) {
	fmt.Printf("\nCompleted: %d  Failed: %d  Cancelled: %d  Pending: %d\n",
		summary.Completed, len(summary.Failed), summary.Cancelled, summary.Pending)
	for _, item := range summary.Failed {
		fmt.Printf("  %s  %s\n", truncatePrompt(item.Prompt), item.Error)
	}
}
