package cmds

import (
	"context"
	"fmt"
	"os"

	"github.com/Jeff0Brewer/chatGPT-subscriptionless/pkg/conversation"
	"github.com/Jeff0Brewer/chatGPT-subscriptionless/pkg/events"
	"github.com/Jeff0Brewer/chatGPT-subscriptionless/pkg/models"
	"github.com/Jeff0Brewer/chatGPT-subscriptionless/pkg/settings"
	"github.com/Jeff0Brewer/chatGPT-subscriptionless/pkg/stream"
	"github.com/Jeff0Brewer/chatGPT-subscriptionless/pkg/transport"
	"github.com/Jeff0Brewer/chatGPT-subscriptionless/pkg/ui"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

func NewChatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat in the terminal. Earlier turns can be edited and answers regenerated",
		Args:  cobra.NoArgs,
		RunE:  runChat,
	}

	cmd.Flags().String(settings.KeyModel, "", "Model id (see `nosub models`)")
	cmd.Flags().String(settings.KeySystem, "", "System prompt stored at the root of the conversation")
	cmd.Flags().Bool("print-settings", false, "Print the resolved settings and exit")
	cmd.Flags().Bool("no-markdown", false, "Show answers as plain text")

	return cmd
}

func loadSettings(cmd *cobra.Command) (*settings.Settings, error) {
	for _, key := range []string{settings.KeyModel, settings.KeySystem} {
		if f := cmd.Flags().Lookup(key); f != nil {
			if err := viper.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}
	return settings.FromViper(viper.GetViper())
}

func runChat(cmd *cobra.Command, args []string) error {
	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}

	printSettings, _ := cmd.Flags().GetBool("print-settings")
	if printSettings {
		out, err := s.Redacted()
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(cmd.OutOrStdout(), out)
		return err
	}

	if err := s.Validate(); err != nil {
		return err
	}

	registry, err := models.Default()
	if err != nil {
		return err
	}
	model := s.Chat.ModelOr(registry.DefaultModel().ID)
	if err := registry.Validate(model); err != nil {
		return err
	}

	isOutputTerminal := isatty.IsTerminal(os.Stdout.Fd())
	if isOutputTerminal {
		// the TUI owns the terminal, only the log file keeps logging
		err = InitLogger(&LogConfig{
			Level:      viper.GetString("log-level"),
			LogFile:    viper.GetString("log-file"),
			WithCaller: viper.GetBool("with-caller"),
		})
		if err != nil {
			return err
		}
	}

	router, err := events.NewEventRouter(events.WithLogger(events.NewWatermill(log.Logger)))
	if err != nil {
		return err
	}
	pm := events.NewPublisherManager()
	pm.SubscribePublisher(events.ChatTopic, router.Publisher)

	client := transport.NewClient(s.Client, transport.WithRegistry(registry))
	manager := conversation.NewManager(
		conversation.WithModel(model),
		conversation.WithSystemPrompt(s.Chat.SystemPrompt),
		conversation.WithOpener(client),
		conversation.WithNotifier(pm),
		conversation.WithStreamOptions(
			stream.WithSink(pm),
			stream.WithTickInterval(s.Chat.SnapshotInterval),
			stream.WithDeltaPath(s.Chat.DeltaPath),
		),
	)
	pm.SetConversationID(manager.ConversationID.String())

	exporter, err := ui.NewExporter(s.Chat.ExportDir, s.Chat.ExportTemplate)
	if err != nil {
		return err
	}

	noMarkdown, _ := cmd.Flags().GetBool("no-markdown")
	glamourStyle := "dark"
	if !isOutputTerminal {
		glamourStyle = "notty"
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	options := []tea.ProgramOption{
		tea.WithContext(ctx),
		tea.WithMouseCellMotion(), // turn on mouse support so we can track the mouse wheel
	}
	if !isOutputTerminal {
		options = append(options, tea.WithOutput(os.Stderr))
	} else {
		options = append(options, tea.WithAltScreen())
	}

	p := tea.NewProgram(
		ui.InitialModel(manager,
			ui.WithContext(ctx),
			ui.WithRegistry(registry),
			ui.WithExporter(exporter),
			ui.WithRenderer(ui.NewRenderer(
				ui.WithMarkdown(!noMarkdown),
				ui.WithGlamourStyle(glamourStyle),
			)),
		),
		options...,
	)
	router.AddHandler("ui", events.ChatTopic, ui.ForwardFunc(p))

	eg := errgroup.Group{}
	eg.Go(func() error {
		return router.Run(ctx)
	})
	eg.Go(func() error {
		defer cancel()
		<-router.Running()

		_, err := p.Run()
		if err != nil && ctx.Err() == nil {
			return err
		}
		log.Debug().
			Str("conversation", manager.ConversationID.String()).
			Int("nodes", manager.Tree().Len()).
			Msg("chat finished")
		return nil
	})

	return eg.Wait()
}
