package coordinator

import (
	"sort"

	"github.com/capitalize-ai/localchat/internal/model"
)

// ViewState is what the foreground view displays. It is always derivable from
// the store plus the running sessions.
type ViewState struct {
	Conversation    *model.Conversation     `json:"conversation,omitempty"`
	Messages        []model.Message         `json:"messages"`
	AssistantAnswer *model.AssistantMessage `json:"assistant_answer,omitempty"`
	Streaming       map[string]struct{}     `json:"-"`
}

// IsStreaming reports whether the state marks id as streaming.
func (s ViewState) IsStreaming(id string) bool {
	_, ok := s.Streaming[id]
	return ok
}

// StreamingIDs returns the streaming conversation ids in sorted order.
func (s ViewState) StreamingIDs() []string {
	out := make([]string, 0, len(s.Streaming))
	for id := range s.Streaming {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Action is a view state transition.
type Action interface {
	isAction()
}

type (
	SetConversation    struct{ Conversation *model.Conversation }
	SetMessages        struct{ Messages []model.Message }
	AddMessage         struct{ Message model.Message }
	SetAssistantAnswer struct{ Answer *model.AssistantMessage }
	AddStreaming       struct{ ConversationID string }
	RemoveStreaming    struct{ ConversationID string }
	SetTitle           struct{ ConversationID, Title string }
)

func (SetConversation) isAction()    {}
func (SetMessages) isAction()        {}
func (AddMessage) isAction()         {}
func (SetAssistantAnswer) isAction() {}
func (AddStreaming) isAction()       {}
func (RemoveStreaming) isAction()    {}
func (SetTitle) isAction()           {}

// Reduce applies a to s and returns the new state. s is not modified.
func Reduce(s ViewState, a Action) ViewState {
	switch a := a.(type) {
	case SetConversation:
		if a.Conversation != nil {
			conv := *a.Conversation
			s.Conversation = &conv
		} else {
			s.Conversation = nil
		}
	case SetMessages:
		s.Messages = append([]model.Message(nil), a.Messages...)
	case AddMessage:
		msgs := make([]model.Message, 0, len(s.Messages)+1)
		msgs = append(msgs, s.Messages...)
		s.Messages = append(msgs, a.Message)
	case SetAssistantAnswer:
		s.AssistantAnswer = a.Answer
	case AddStreaming:
		s.Streaming = copySet(s.Streaming)
		s.Streaming[a.ConversationID] = struct{}{}
	case RemoveStreaming:
		s.Streaming = copySet(s.Streaming)
		delete(s.Streaming, a.ConversationID)
		if s.AssistantAnswer != nil && s.AssistantAnswer.ConversationID == a.ConversationID {
			s.AssistantAnswer = nil
		}
	case SetTitle:
		if s.Conversation != nil && s.Conversation.ID == a.ConversationID {
			conv := *s.Conversation
			conv.Title = a.Title
			s.Conversation = &conv
		}
	}
	return s
}

func copySet(in map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(in)+1)
	for k := range in {
		out[k] = struct{}{}
	}
	return out
}
