package ui

import (
	"github.com/Jeff0Brewer/chatGPT-subscriptionless/pkg/events"
	"github.com/ThreeDotsLabs/watermill/message"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
)

// SnapshotMsg is sent while a node is streaming.
type SnapshotMsg struct {
	NodeID   string
	Text     string
	Revision uint64
}

// StreamFinalMsg is sent once per stream session, after the node was released.
type StreamFinalMsg struct {
	NodeID string
	Text   string
}

type StreamErrorMsg struct {
	NodeID string
	Err    error
}

type TreeChangedMsg struct {
	ConversationID string
	Revision       uint64
}

// ForwardFunc returns a handler that turns chat events into messages for p.
func ForwardFunc(p *tea.Program) func(msg *message.Message) error {
	return forward(p.Send)
}

func forward(send func(tea.Msg)) func(msg *message.Message) error {
	return func(msg *message.Message) error {
		msg.Ack()

		e, err := events.NewEventFromJson(msg.Payload)
		if err != nil {
			return err
		}

		meta := e.Metadata()
		switch e_ := e.(type) {
		case *events.EventSnapshot:
			send(SnapshotMsg{NodeID: meta.NodeID, Text: e_.Text, Revision: meta.Revision})
		case *events.EventFinal:
			send(StreamFinalMsg{NodeID: meta.NodeID, Text: e_.Text})
		case *events.EventError:
			send(StreamErrorMsg{NodeID: meta.NodeID, Err: errors.New(e_.ErrorString)})
		case *events.EventTreeChanged:
			send(TreeChangedMsg{ConversationID: meta.ConversationID, Revision: meta.Revision})
		}

		return nil
	}
}
