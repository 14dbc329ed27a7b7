package moderation

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/herald-labs/herald/internal/chat"
	"github.com/herald-labs/herald/internal/storage"
)

type fakeStore struct {
	settings map[uint64]*storage.Moderation
}

func (s *fakeStore) ModerationSettings(ctx context.Context, guildID uint64) (*storage.Moderation, error) {
	return s.settings[guildID], nil
}

func (s *fakeStore) SetMemberLogWebhook(ctx context.Context, guildID uint64, url string) error {
	return nil
}

func (s *fakeStore) SetAutoJoinRole(ctx context.Context, guildID uint64, roleID *uint64) error {
	return nil
}

type fakeWebhooks struct {
	posts []chat.WebhookPayload
	urls  []string
}

func (w *fakeWebhooks) Post(ctx context.Context, hookURL string, payload chat.WebhookPayload, files ...chat.Attachment) (uint64, error) {
	w.posts = append(w.posts, payload)
	w.urls = append(w.urls, hookURL)
	return 1, nil
}

func TestMemberJoinedPostsAudit(t *testing.T) {
	store := &fakeStore{settings: map[uint64]*storage.Moderation{
		1: {GuildID: 1, MemberLogWebhook: "https://hooks.example/a"},
	}}
	hooks := &fakeWebhooks{}
	e := NewEmitter(store, hooks, zerolog.Nop())

	err := e.MemberJoined(context.Background(), 1, Member{
		UserID: 42, Username: "alice", JoinedAt: time.Now(), MemberCount: 100,
	})
	require.NoError(t, err)
	require.Len(t, hooks.posts, 1)
	require.Equal(t, "https://hooks.example/a", hooks.urls[0])
	require.Equal(t, "Member joined", hooks.posts[0].Embeds[0].Title)
	require.Equal(t, "alice", hooks.posts[0].Embeds[0].Author.Name)
}

func TestMemberEventsNoWebhookConfigured(t *testing.T) {
	store := &fakeStore{settings: map[uint64]*storage.Moderation{}}
	hooks := &fakeWebhooks{}
	e := NewEmitter(store, hooks, zerolog.Nop())

	require.NoError(t, e.MemberJoined(context.Background(), 9, Member{UserID: 1}))
	require.NoError(t, e.MemberLeft(context.Background(), 9, Member{UserID: 1}))
	require.Empty(t, hooks.posts)
}

func TestAutoJoinRole(t *testing.T) {
	role := uint64(55)
	store := &fakeStore{settings: map[uint64]*storage.Moderation{
		1: {GuildID: 1, AutoJoinRoleID: &role},
	}}
	e := NewEmitter(store, &fakeWebhooks{}, zerolog.Nop())

	got, err := e.AutoJoinRole(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, role, *got)

	got, err = e.AutoJoinRole(context.Background(), 2)
	require.NoError(t, err)
	require.Nil(t, got)
}
