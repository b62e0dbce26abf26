package cmds

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Jeff0Brewer/chatGPT-subscriptionless/pkg/conversation"
	"github.com/Jeff0Brewer/chatGPT-subscriptionless/pkg/events"
	"github.com/Jeff0Brewer/chatGPT-subscriptionless/pkg/settings"
	"github.com/Jeff0Brewer/chatGPT-subscriptionless/pkg/stream"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type ReplaySettings struct {
	Prompt       string
	DeltaPath    string
	TickInterval time.Duration
	// DumpEvents prints the raw event stream instead of the text.
	DumpEvents bool
}

func NewReplayCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay FILE",
		Short: "Feed a recorded event stream through the accumulator and print the answer",
		Long: "Reads a recorded chat completion event stream (one `data: ...` record per line)\n" +
			"from FILE, or stdin if FILE is -, and streams it into a fresh conversation.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var body io.ReadCloser = io.NopCloser(cmd.InOrStdin())
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				body = f
			}

			s := &ReplaySettings{}
			s.Prompt, _ = cmd.Flags().GetString("prompt")
			s.DeltaPath, _ = cmd.Flags().GetString(settings.KeyDeltaPath)
			s.TickInterval, _ = cmd.Flags().GetDuration(settings.KeySnapshotInterval)
			s.DumpEvents, _ = cmd.Flags().GetBool("events")

			res, err := Replay(cmd.Context(), body, cmd.OutOrStdout(), s)
			if err != nil {
				return err
			}

			withStats, _ := cmd.Flags().GetBool("stats")
			if withStats {
				_, err = fmt.Fprintf(cmd.ErrOrStderr(),
					"reason=%s records=%d deltas=%d skipped=%d\n",
					res.Reason, res.Stats.Records, res.Stats.Deltas, res.Stats.Skipped)
			}
			return err
		},
	}

	cmd.Flags().String("prompt", "replay", "User message the replayed answer is attached to")
	cmd.Flags().String(settings.KeyDeltaPath, settings.DefaultDeltaPath, "JSON path of the text delta in each record")
	cmd.Flags().Duration(settings.KeySnapshotInterval, settings.DefaultSnapshotInterval, "Interval between snapshots")
	cmd.Flags().Bool("events", false, "Print the emitted events as JSON")
	cmd.Flags().Bool("stats", false, "Print record statistics to stderr")

	return cmd
}

// Replay streams body into a new conversation and writes the growing answer, or the
// raw events, to w.
func Replay(ctx context.Context, body io.ReadCloser, w io.Writer, s *ReplaySettings) (*stream.Result, error) {
	router, err := events.NewEventRouter(
		events.WithLogger(events.NewWatermill(log.Logger)),
		events.WithBlockingPublish(true),
	)
	if err != nil {
		return nil, err
	}
	if s.DumpEvents {
		router.AddHandler("dump", events.ChatTopic, router.DumpRawEvents(w))
	} else {
		router.AddHandler("print", events.ChatTopic, events.PrinterFunc(w))
	}

	pm := events.NewPublisherManager()
	pm.SubscribePublisher(events.ChatTopic, router.Publisher)

	streamOptions := []stream.Option{stream.WithSink(pm)}
	if s.DeltaPath != "" {
		streamOptions = append(streamOptions, stream.WithDeltaPath(s.DeltaPath))
	}
	if s.TickInterval > 0 {
		streamOptions = append(streamOptions, stream.WithTickInterval(s.TickInterval))
	}

	opened := false
	opener := conversation.OpenerFunc(func(ctx context.Context, model string, msgs conversation.Conversation) (*stream.Response, error) {
		if opened {
			return nil, errors.New("recording was already replayed")
		}
		opened = true
		return &stream.Response{OK: true, StatusCode: 200, Body: body}, nil
	})
	manager := conversation.NewManager(
		conversation.WithModel("replay"),
		conversation.WithOpener(opener),
		conversation.WithStreamOptions(streamOptions...),
	)
	pm.SetConversationID(manager.ConversationID.String())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var result *stream.Result
	eg := errgroup.Group{}
	eg.Go(func() error {
		return router.Run(ctx)
	})
	eg.Go(func() error {
		defer cancel()
		<-router.Running()

		path, err := manager.SendUserTurn(conversation.Path{}, s.Prompt)
		if err != nil {
			return err
		}
		h, path, err := manager.BeginCompletion(ctx, path)
		if err != nil {
			pm.PublishError("", err)
			return err
		}
		result, err = h.Wait()
		if err != nil {
			return err
		}

		if result.Reason == stream.ReasonAborted {
			log.Warn().Str("path", path.String()).Msg("recording ended without the done sentinel")
		}
		return nil
	})

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}
