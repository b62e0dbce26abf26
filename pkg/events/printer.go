package events

import (
	"fmt"
	"io"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
)

// PrinterFunc returns a handler that writes streamed text to w as it grows. Snapshots
// carry the full text so far, only the unseen suffix is written.
func PrinterFunc(w io.Writer) func(msg *message.Message) error {
	printed := map[string]int{}

	return func(msg *message.Message) error {
		defer msg.Ack()

		e, err := NewEventFromJson(msg.Payload)
		if err != nil {
			return err
		}

		writeSuffix := func(nodeID, text string) error {
			n := printed[nodeID]
			if n > len(text) {
				n = 0
			}
			printed[nodeID] = len(text)
			_, err := fmt.Fprint(w, text[n:])
			return err
		}

		switch p_ := e.(type) {
		case *EventSnapshot:
			return writeSuffix(p_.Metadata().NodeID, p_.Text)
		case *EventFinal:
			if err := writeSuffix(p_.Metadata().NodeID, p_.Text); err != nil {
				return err
			}
			if !strings.HasSuffix(p_.Text, "\n") {
				_, err = fmt.Fprintln(w)
			}
			return err
		case *EventError:
			_, err = fmt.Fprintf(w, "\nerror: %s\n", p_.ErrorString)
			return err
		}
		return nil
	}
}
