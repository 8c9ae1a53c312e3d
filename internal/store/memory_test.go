package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnreadCountsFollowMessages(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	conv, err := m.CreateConversation(ctx, TypePrivate, "", []string{"alice", "bob"})
	require.NoError(t, err)

	_, err = m.CreateMessage(ctx, conv.ID, "alice", "bonjour")
	require.NoError(t, err)
	_, err = m.CreateMessage(ctx, conv.ID, "alice", "ça va ?")
	require.NoError(t, err)

	bobCounts, err := m.UnreadCounts(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, bobCounts[conv.ID])

	aliceCounts, err := m.UnreadCounts(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, aliceCounts[conv.ID], "sender never accrues unread")
}

func TestMarkReadIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	conv, err := m.CreateConversation(ctx, TypePrivate, "", []string{"alice", "bob"})
	require.NoError(t, err)
	_, err = m.CreateMessage(ctx, conv.ID, "alice", "bonjour")
	require.NoError(t, err)

	require.NoError(t, m.MarkRead(ctx, "bob", conv.ID))
	require.NoError(t, m.MarkRead(ctx, "bob", conv.ID))

	counts, err := m.UnreadCounts(ctx, "bob")
	require.NoError(t, err)
	assert.Zero(t, counts[conv.ID])
}

func TestDuplicatePrivateConversationRejected(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.CreateConversation(ctx, TypePrivate, "", []string{"alice", "bob"})
	require.NoError(t, err)

	_, err = m.CreateConversation(ctx, TypePrivate, "", []string{"bob", "alice"})
	assert.ErrorIs(t, err, ErrDuplicatePrivate, "pair uniqueness is unordered")

	_, err = m.CreateConversation(ctx, TypeGroup, "équipe", []string{"alice", "bob"})
	assert.NoError(t, err, "groups are not pair-constrained")
}

func TestCreateMessageValidation(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	conv, err := m.CreateConversation(ctx, TypeGroup, "équipe", []string{"alice", "bob"})
	require.NoError(t, err)

	_, err = m.CreateMessage(ctx, "missing", "alice", "x")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = m.CreateMessage(ctx, conv.ID, "mallory", "x")
	assert.ErrorIs(t, err, ErrNotParticipant)
}

func TestListConversationsCarriesLastMessage(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	conv, err := m.CreateConversation(ctx, TypePrivate, "", []string{"alice", "bob"})
	require.NoError(t, err)
	msg, err := m.CreateMessage(ctx, conv.ID, "alice", "dernier")
	require.NoError(t, err)

	convs, err := m.ListConversations(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, convs, 1)
	require.NotNil(t, convs[0].LastMessage)
	assert.Equal(t, msg.ID, convs[0].LastMessage.ID)

	convs, err = m.ListConversations(ctx, "carol")
	require.NoError(t, err)
	assert.Empty(t, convs)
}

func TestParticipantLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	conv, err := m.CreateConversation(ctx, TypeGroup, "équipe", []string{"alice"})
	require.NoError(t, err)

	require.NoError(t, m.AddParticipant(ctx, conv.ID, "bob"))
	require.NoError(t, m.AddParticipant(ctx, conv.ID, "bob"), "add is idempotent")

	convs, err := m.ListConversations(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, convs, 1)

	require.NoError(t, m.RemoveParticipant(ctx, conv.ID, "bob"))
	convs, err = m.ListConversations(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, convs)
}
