package proto

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		action  string
		wantErr string
		check   func(t *testing.T, in *Inbound)
	}{
		{
			name:   "action discriminator",
			frame:  `{"action":"message","message":"hi"}`,
			action: "message",
			check: func(t *testing.T, in *Inbound) {
				require.Equal(t, "hi", in.Message)
			},
		},
		{
			name:   "type discriminator",
			frame:  `{"type":"delete_message","message_id":42}`,
			action: "delete_message",
			check: func(t *testing.T, in *Inbound) {
				require.EqualValues(t, 42, in.MessageID)
			},
		},
		{
			name:   "action wins over type",
			frame:  `{"action":"block","type":"message"}`,
			action: "block",
		},
		{
			name:   "string message id",
			frame:  `{"action":"mark_read","message_id":"7"}`,
			action: "mark_read",
			check: func(t *testing.T, in *Inbound) {
				require.EqualValues(t, 7, in.MessageID)
			},
		},
		{
			name:   "attachments and report fields",
			frame:  `{"action":"report","reason":"spam","description":"ads","image_url":"/u/a.png","file_url":"/u/b.pdf","username":"bob"}`,
			action: "report",
			check: func(t *testing.T, in *Inbound) {
				require.Equal(t, "spam", in.Reason)
				require.Equal(t, "ads", in.Description)
				require.Equal(t, "/u/a.png", in.ImageURL)
				require.Equal(t, "/u/b.pdf", in.FileURL)
				require.Equal(t, "bob", in.Username)
			},
		},
		{name: "missing discriminator", frame: `{"message":"hi"}`, wantErr: "action is required"},
		{name: "blank discriminator", frame: `{"action":"  "}`, wantErr: "action is required"},
		{name: "not json", frame: `hello`, wantErr: "malformed"},
		{name: "bad message id", frame: `{"action":"mark_read","message_id":"abc"}`, wantErr: "malformed"},
		{name: "negative message id", frame: `{"action":"mark_read","message_id":-1}`, wantErr: "message_id is invalid"},
		{name: "oversized message", frame: `{"action":"message","message":"` + strings.Repeat("x", 4001) + `"}`, wantErr: "message is too long"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := Decode([]byte(tt.frame))
			if tt.wantErr != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.action, in.Name())
			if tt.check != nil {
				tt.check(t, in)
			}
		})
	}
}

func TestOutboundFieldNames(t *testing.T) {
	data, err := json.Marshal(UnreadUpdate{Type: TypeUnreadUpdate, Room: "general"})
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"unread_update","room":"general","unread_count":0}`, string(data))

	data, err = json.Marshal(NewError("forbidden", "permission denied"))
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"error","code":"forbidden","message":"permission denied"}`, string(data))
}
