package root

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/tablechat/tablechat/pkg/config"
	"github.com/tablechat/tablechat/pkg/model/provider/openai"
	"github.com/tablechat/tablechat/pkg/runtime"
	"github.com/tablechat/tablechat/pkg/sandbox"
	"github.com/tablechat/tablechat/pkg/session"
	"github.com/tablechat/tablechat/pkg/tools"
)

type runFlags struct {
	configPath  string
	suggestions int
}

func newRunCmd() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run [csv files...]",
		Short: "Start a chat session over the given CSV files",
		Long: "run connects to the local model runtime and the Python analysis\n" +
			"sandbox, loads the given CSV files as dataframes and starts an\n" +
			"interactive chat. Messages sent while loading is still in progress\n" +
			"are queued and answered once everything is ready.",
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, flags, args)
		},
	}

	cmd.Flags().StringVarP(&flags.configPath, "config", "c", "", "Path to a YAML configuration file")
	cmd.Flags().IntVar(&flags.suggestions, "suggestions", 3, "Number of starter questions to suggest (0 disables)")

	return cmd
}

func runChat(cmd *cobra.Command, flags runFlags, files []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	cfg := config.Default()
	if flags.configPath != "" {
		loaded, err := config.Load(flags.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	client, err := openai.NewClient(&cfg.Model)
	if err != nil {
		return fmt.Errorf("configuring model runtime: %w", err)
	}

	sb, err := sandbox.Dial(ctx, cfg.Sandbox.URL)
	if err != nil {
		return fmt.Errorf("connecting to analysis sandbox at %s: %w", cfg.Sandbox.URL, err)
	}
	defer sb.Close()

	catalog := tools.Default()
	rt := runtime.New(runtime.Config{
		Provider:   client,
		Dispatcher: runtime.NewDispatcher(catalog, sb, otel.Tracer("tablechat")),
		Catalog:    catalog,
		Tables:     sb,
		Session:    session.New(),
		MaxRounds:  cfg.Chat.MaxRounds,
	})
	sched := runtime.NewScheduler(rt)

	go rt.WatchSandboxProgress(ctx, sb.Progress())

	turnDone := make(chan struct{}, 16)
	go renderEvents(out, rt, turnDone)

	// Both connections are up; only the table uploads gate readiness now.
	sched.UpdateReadiness(ctx, session.SystemLoadingState{
		ModelStatus:       session.StatusReady,
		SandboxStatus:     session.StatusReady,
		HasPendingUploads: len(files) > 0,
	})

	// Uploads run in the background: the prompt appears right away and
	// early questions queue until readiness flips.
	go func() {
		count, err := loadTables(cmd, sb, files)
		if err != nil {
			slog.Error("Loading tables failed", "error", err)
		}
		sched.UpdateReadiness(ctx, session.SystemLoadingState{
			ModelStatus:   session.StatusReady,
			SandboxStatus: session.StatusReady,
			TablesLoaded:  count,
		})
		if count == 0 {
			return
		}
		fmt.Fprintf(out, "Loaded %d dataset(s).\n", count)
		if flags.suggestions > 0 {
			if questions, err := rt.SuggestQuestions(ctx, flags.suggestions); err == nil && len(questions) > 0 {
				fmt.Fprintln(out, "You could ask:")
				for _, q := range questions {
					fmt.Fprintf(out, "  - %s\n", q)
				}
			}
		}
	}()

	fmt.Fprintln(out, `Type a question, "/stop" to reset, or "/quit" to leave.`)

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/stop":
			rt.Stop()
			fmt.Fprintln(out, "Reset.")
			continue
		}

		sched.SubmitTurn(ctx, line)
		select {
		case <-turnDone:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return scanner.Err()
}

// loadTables uploads every file concurrently; each dataframe is named
// after its file, lowercased, without the extension.
func loadTables(cmd *cobra.Command, sb *sandbox.Client, files []string) (int, error) {
	if len(files) == 0 {
		return 0, nil
	}

	g, ctx := errgroup.WithContext(cmd.Context())
	for _, path := range files {
		g.Go(func() error {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("reading %s: %w", path, err)
			}
			name := tableName(path)
			if err := sb.LoadTable(ctx, name, string(data)); err != nil {
				return fmt.Errorf("loading %s: %w", path, err)
			}
			slog.Debug("Table loaded", "name", name, "path", path)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return len(sb.Summaries()), err
	}
	return len(files), nil
}

func tableName(path string) string {
	base := filepath.Base(path)
	return strings.ToLower(strings.TrimSuffix(base, filepath.Ext(base)))
}

// renderEvents prints the event stream. Streaming assistant content is
// written incrementally; everything else gets its own line.
func renderEvents(out io.Writer, rt *runtime.Runtime, turnDone chan<- struct{}) {
	var streamID string
	var printed int

	for e := range rt.Events() {
		switch ev := e.(type) {
		case *runtime.AssistantContentEvent:
			if ev.MessageID != streamID {
				streamID = ev.MessageID
				printed = 0
			}
			if len(ev.Content) > printed {
				fmt.Fprint(out, ev.Content[printed:])
				printed = len(ev.Content)
			}
		case *runtime.ToolCallProgressEvent:
			p := ev.Progress
			switch p.Status {
			case session.ProgressExecuting:
				fmt.Fprintf(out, "\n[%s] %s\n", p.Name, p.QuestionPreview)
			case session.ProgressError:
				fmt.Fprintf(out, "[%s] failed: %s\n", p.Name, p.ResultPreview)
			}
		case *runtime.SandboxProgressEvent:
			slog.Debug("Sandbox progress", "stage", ev.Stage, "detail", ev.Detail)
		case *runtime.TurnQueuedEvent:
			fmt.Fprintln(out, "(still loading, your message is queued)")
		case *runtime.MaxRoundsReachedEvent:
			fmt.Fprintf(out, "\n(stopped after %d analysis rounds)\n", ev.MaxRounds)
		case *runtime.TurnCompletedEvent:
			printFinalMessage(out, rt, ev.MessageID, printed > 0)
			streamID, printed = "", 0
			turnDone <- struct{}{}
		case *runtime.ErrorEvent:
			fmt.Fprintf(out, "\nError: %s\n", ev.Error)
			streamID, printed = "", 0
			turnDone <- struct{}{}
		}
	}
}

// printFinalMessage closes out the streamed text and lists any chart
// attachments. The finalized text can differ from what streamed when
// tool-call markup was stripped, but re-printing it in full would
// duplicate the visible answer, so only attachments are reported here.
func printFinalMessage(out io.Writer, rt *runtime.Runtime, messageID string, streamed bool) {
	msg, ok := rt.Session().Message(messageID)
	if !ok {
		return
	}

	if !streamed {
		for _, part := range msg.Parts {
			if part.Type == session.PartTypeText {
				fmt.Fprint(out, part.Text)
			}
		}
	}
	fmt.Fprintln(out)

	for _, part := range msg.Parts {
		if part.Type == session.PartTypeImage && part.Image != nil {
			fmt.Fprintf(out, "[chart attached: %s]\n", part.Image.Filename)
		}
	}
}
