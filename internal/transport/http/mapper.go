package http

import (
	"time"

	"github.com/samber/lo"

	"github.com/vovakirdan/roomwire/internal/core"
	"github.com/vovakirdan/roomwire/internal/proto"
)

func inboundToCommand(in *proto.Inbound) (core.Command, *core.CoreError) {
	kind, ok := core.ParseCommandKind(in.Name())
	if !ok {
		return core.Command{}, core.UnknownAction(in.Name())
	}
	return core.Command{
		Kind:        kind,
		Text:        in.Message,
		ImageURL:    in.ImageURL,
		FileURL:     in.FileURL,
		MessageID:   int64(in.MessageID),
		Username:    in.Username,
		Reason:      in.Reason,
		Description: in.Description,
	}, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func memberFrame(m core.MemberInfo) proto.Member {
	return proto.Member{
		Username:  m.Username,
		Avatar:    m.Avatar,
		IsOnline:  m.IsOnline,
		IsCreator: m.IsCreator,
	}
}

var outboundMappers = map[core.EventKind]func(ev *core.Event) any{
	core.EventMessage: func(ev *core.Event) any {
		m := ev.Message
		return proto.Message{
			Type:      proto.TypeMessage,
			ID:        m.ID,
			Room:      m.Room,
			Receiver:  m.Receiver,
			Username:  m.From,
			Message:   m.Text,
			ImageURL:  m.ImageURL,
			FileURL:   m.FileURL,
			Timestamp: formatTime(m.CreatedAt),
		}
	},
	core.EventMembersUpdate: func(ev *core.Event) any {
		return proto.MembersUpdate{
			Type:        proto.TypeMembersUpdate,
			Room:        ev.Room,
			MembersData: lo.Map(ev.Members, func(m core.MemberInfo, _ int) proto.Member { return memberFrame(m) }),
			Event:       string(ev.Change),
			Username:    ev.User,
		}
	},
	core.EventMessageDeleted: func(ev *core.Event) any {
		return proto.DeleteMessage{Type: proto.TypeDeleteMessage, MessageID: ev.MessageID}
	},
	core.EventUnreadUpdate: func(ev *core.Event) any {
		return proto.UnreadUpdate{
			Type:        proto.TypeUnreadUpdate,
			Room:        ev.Room,
			Username:    ev.Peer,
			UnreadCount: ev.UnreadCount,
		}
	},
	core.EventBlockStatus: func(ev *core.Event) any {
		st := lo.FromPtr(ev.Block)
		return proto.BlockStatus{
			Type:        proto.TypeBlockStatus,
			Username:    ev.Peer,
			IsBlocking:  st.IsBlocking,
			IsBlockedBy: st.IsBlockedBy,
			CanSend:     st.CanSend,
		}
	},
	core.EventBlocked: func(ev *core.Event) any {
		return proto.BlockChange{Type: proto.TypeBlocked, Username: ev.User}
	},
	core.EventUnblocked: func(ev *core.Event) any {
		return proto.BlockChange{Type: proto.TypeUnblocked, Username: ev.User}
	},
	core.EventError: func(ev *core.Event) any {
		if ev.Error == nil {
			return proto.NewError(core.ErrCodeInternal, "unknown error")
		}
		return proto.NewError(ev.Error.Code, ev.Error.Message)
	},
	core.EventGroupLeftYou: func(ev *core.Event) any {
		return proto.GroupLeftYou{Type: proto.TypeGroupLeftYou, Room: ev.Room, Redirect: ev.Redirect}
	},
	core.EventConversationHidden: func(ev *core.Event) any {
		return proto.ConversationHidden{Type: proto.TypeConversationHidden, Room: ev.Room, Username: ev.Peer}
	},
}

// outboundFromEvent returns the JSON frame for ev, or false for kinds with no wire form.
func outboundFromEvent(ev *core.Event) (any, bool) {
	mapper, ok := outboundMappers[ev.Kind]
	if !ok {
		return nil, false
	}
	if ev.Kind == core.EventMessage && ev.Message == nil {
		return nil, false
	}
	return mapper(ev), true
}
