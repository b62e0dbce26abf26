package cmds

import (
	"context"

	"github.com/Jeff0Brewer/chatGPT-subscriptionless/pkg/models"
	"github.com/Jeff0Brewer/chatGPT-subscriptionless/pkg/settings"
	"github.com/Jeff0Brewer/chatGPT-subscriptionless/pkg/transport"
	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/cmds/parameters"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	glazed_settings "github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type ModelsCommand struct {
	*cmds.CommandDescription
}

func (c *ModelsCommand) Run(
	ctx context.Context,
	parsedLayers map[string]*layers.ParsedParameterLayer,
	ps map[string]interface{},
	gp middlewares.Processor,
) error {
	registry, err := models.Default()
	if err != nil {
		return err
	}

	rows := modelRows(registry)
	if remote, _ := ps["remote"].(bool); remote {
		s, err := settings.FromViper(viper.GetViper())
		if err != nil {
			return err
		}
		if err := s.Validate(); err != nil {
			return err
		}

		ids, err := transport.NewClient(s.Client).ListModels(ctx)
		if err != nil {
			return err
		}
		rows = remoteModelRows(registry, ids)
	}

	for _, row := range rows {
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

func modelRow(m *models.Model) types.Row {
	return types.NewRow(
		types.MRP("id", m.ID),
		types.MRP("name", m.Name),
		types.MRP("description", m.Description),
		types.MRP("reasoning", m.Reasoning),
		types.MRP("speed", m.Speed),
		types.MRP("conciseness", m.Conciseness),
	)
}

func modelRows(registry *models.Registry) []types.Row {
	ret := []types.Row{}
	for _, m := range registry.Models() {
		ret = append(ret, modelRow(m))
	}
	return ret
}

// remoteModelRows lists the provider's ids. Ids known to the registry carry their
// ratings and can be picked in chat.
func remoteModelRows(registry *models.Registry, ids []string) []types.Row {
	ret := []types.Row{}
	for _, id := range ids {
		m, ok := registry.Get(id)
		if !ok {
			m = &models.Model{ID: id}
		}
		row := modelRow(m)
		row.Set("known", ok)
		ret = append(ret, row)
	}
	return ret
}

func NewModelsCommand() (*ModelsCommand, error) {
	glazedLayer, err := glazed_settings.NewGlazedParameterLayers()
	if err != nil {
		return nil, err
	}
	return &ModelsCommand{
		CommandDescription: cmds.NewCommandDescription(
			"models",
			cmds.WithShort("List the models nosub knows about"),
			cmds.WithFlags(
				parameters.NewParameterDefinition(
					"remote",
					parameters.ParameterTypeBool,
					parameters.WithHelp("Ask the provider for its models, known marks the ones usable in chat"),
					parameters.WithDefault(false),
				),
			),
			cmds.WithLayers(glazedLayer),
		),
	}, nil
}

var _ cmds.GlazeCommand = (*ModelsCommand)(nil)

// NewModelsCobraCommand bridges the models command into cobra.
func NewModelsCobraCommand() (*cobra.Command, error) {
	cmdInstance, err := NewModelsCommand()
	if err != nil {
		return nil, err
	}
	return cli.BuildCobraCommandFromGlazeCommand(cmdInstance)
}
