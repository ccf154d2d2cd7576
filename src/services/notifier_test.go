package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clanhall/src/lib"
)

const testNoticeDelay = 3 * time.Second

func newTestNotifier(f *fixture) *Notifier {
	n := NewNotifier(f.registry, f.chat, f.messenger, f.clock, testNoticeDelay, lib.NopLogger(), f.metrics)
	f.bus.Subscribe(n)
	return n
}

func TestNotifierAnnouncesRosterChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	newTestNotifier(f)
	f.found(t, "FOO", "alice", "bob", "carol")

	assert.Equal(t, "FOO", f.chat.channelOf("bob"))
	require.NoError(t, f.registry.CreateClan(ctx, "BAR", "erin"))
	require.NoError(t, f.registry.AddMember(ctx, "FOO", "dave"))
	require.NoError(t, f.registry.RemoveMember(ctx, "carol"))
	require.NoError(t, f.registry.KickMember(ctx, "dave", "alice"))

	texts := f.chat.texts("FOO")
	assert.Contains(t, texts, "[FOO] alice has joined the clan.")
	assert.Contains(t, texts, "[FOO] dave has joined the clan.")
	assert.Contains(t, texts, "[FOO] carol has left the clan.")
	assert.Contains(t, texts, "[FOO] dave has been kicked from the clan by alice.")
	assert.NotContains(t, texts, "[FOO] dave has left the clan.")
	assert.Empty(t, f.chat.channelOf("carol"))
	assert.Empty(t, f.chat.channelOf("dave"))
}

func TestNotifierToleratesDisbandedClan(t *testing.T) {
	f := newFixture(t)
	newTestNotifier(f)
	f.found(t, "FOO", "alice", "bob", "carol")

	require.NoError(t, f.registry.Disband(context.Background(), "FOO"))

	texts := f.chat.texts("FOO")
	assert.NotContains(t, texts, "[FOO] bob has left the clan.")
	assert.Empty(t, f.chat.channelOf("bob"))
}

func TestSessionStartGreetsMemberAfterDelay(t *testing.T) {
	f := newFixture(t)
	n := newTestNotifier(f)
	f.found(t, "FOO", "alice", "bob", "carol")
	f.chat.Leave("bob", "FOO")
	f.messenger.setOnline("bob", true)

	n.SessionStarted("bob")
	assert.Empty(t, f.messenger.messages("bob"))

	f.clock.Advance(testNoticeDelay)
	assert.Equal(t, []string{"[FOO] Message of the Day: Welcome to FOO"}, f.messenger.messages("bob"))
	assert.Equal(t, "FOO", f.chat.channelOf("bob"))
}

func TestSessionStartSummarizesPendingInvites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	n := newTestNotifier(f)
	f.found(t, "FOO", "alice", "bob", "carol")
	f.found(t, "BAR", "erin", "frank", "gina")
	require.NoError(t, f.registry.Invite(ctx, "FOO", "dave"))
	require.NoError(t, f.registry.Invite(ctx, "BAR", "dave"))
	f.messenger.setOnline("dave", true)

	n.SessionStarted("dave")
	f.clock.Advance(testNoticeDelay)

	assert.Equal(t, []string{
		"You have 2 pending clan invite(s): BAR, FOO",
		`Use "/clan join <clanTag>" to join one of them!`,
	}, f.messenger.messages("dave"))
}

func TestSessionStartDropsWhenPlayerGoneOrClanDisbanded(t *testing.T) {
	f := newFixture(t)
	n := newTestNotifier(f)
	f.found(t, "FOO", "alice", "bob", "carol")

	n.SessionStarted("bob")
	f.clock.Advance(testNoticeDelay)
	assert.Empty(t, f.messenger.messages("bob"))
	assert.Equal(t, uint64(1), f.metrics.Get(lib.MetricNoticesDropped))

	f.messenger.setOnline("carol", true)
	n.SessionStarted("carol")
	require.NoError(t, f.registry.Disband(context.Background(), "FOO"))
	f.clock.Advance(testNoticeDelay)
	assert.Empty(t, f.messenger.messages("carol"))
	assert.Empty(t, f.chat.channelOf("carol"))
}

func TestSessionEndedLeavesChannel(t *testing.T) {
	f := newFixture(t)
	n := newTestNotifier(f)
	f.found(t, "FOO", "alice", "bob", "carol")

	n.SessionEnded("bob")
	n.SessionEnded("stranger")
	assert.Empty(t, f.chat.channelOf("bob"))
	assert.Equal(t, "FOO", f.chat.channelOf("alice"))
}
