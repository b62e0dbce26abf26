package events

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/Jeff0Brewer/chatGPT-subscriptionless/pkg/stream"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog/log"
)

// ChatTopic is the topic every chat event is published on.
const ChatTopic = "chat"

// PublisherManager distributes events to a set of Publishers, each on the topic it was
// subscribed with. It numbers outgoing messages in the order Publish handles them.
type PublisherManager struct {
	Publishers     map[string][]message.Publisher
	conversationID string
	sequenceNumber uint64
	mutex          sync.Mutex
}

var _ stream.SnapshotSink = (*PublisherManager)(nil)

func NewPublisherManager() *PublisherManager {
	return &PublisherManager{
		Publishers: make(map[string][]message.Publisher),
	}
}

func (s *PublisherManager) SubscribePublisher(topic string, sub message.Publisher) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.Publishers[topic] = append(s.Publishers[topic], sub)
}

// SetConversationID tags every following event with id.
func (s *PublisherManager) SetConversationID(id string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.conversationID = id
}

func (s *PublisherManager) metadata(nodeID string, revision uint64) EventMetadata {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	ret := NewEventMetadata()
	ret.ConversationID = s.conversationID
	ret.NodeID = nodeID
	ret.Revision = revision
	return ret
}

// Publish serializes payload to JSON and hands it to every publisher.
func (s *PublisherManager) Publish(payload interface{}) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	msg := message.NewMessage(watermill.NewUUID(), b)
	msg.Metadata.Set("sequence_number", fmt.Sprintf("%d", s.sequenceNumber))
	s.sequenceNumber++

	for topic, subs := range s.Publishers {
		for _, sub := range subs {
			err = sub.Publish(topic, msg)
			if err != nil {
				log.Warn().Err(err).Str("topic", topic).Msg("failed to publish")
			}
		}
	}

	return nil
}

func (s *PublisherManager) PublishBlind(payload interface{}) {
	err := s.Publish(payload)
	if err != nil {
		log.Warn().Err(err).Msg("failed to publish")
	}
}

// PublishSnapshot turns a stream snapshot into a snapshot or final event.
func (s *PublisherManager) PublishSnapshot(snapshot stream.Snapshot) error {
	meta := s.metadata(snapshot.NodeID, snapshot.Revision)
	if snapshot.Final {
		return s.Publish(NewFinalEvent(meta, snapshot.Text))
	}
	return s.Publish(NewSnapshotEvent(meta, snapshot.Text))
}

func (s *PublisherManager) NotifyTreeChanged(conversationID string, revision uint64) error {
	meta := s.metadata("", revision)
	meta.ConversationID = conversationID
	return s.Publish(NewTreeChangedEvent(meta))
}

func (s *PublisherManager) PublishError(nodeID string, err error) {
	s.PublishBlind(NewErrorEvent(s.metadata(nodeID, 0), err))
}
