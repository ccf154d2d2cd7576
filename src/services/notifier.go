package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"clanhall/src/lib"
	"clanhall/src/models"
)

// Notifier fans clan events and session changes out to chat channels and
// players. Delivery is best effort: unreachable players are skipped and
// counted, never retried.
type Notifier struct {
	registry  *Registry
	chat      ChatProvider
	messenger Messenger
	scheduler lib.Scheduler
	delay     time.Duration
	logger    *slog.Logger
	metrics   *lib.Metrics
}

func NewNotifier(
	registry *Registry,
	chat ChatProvider,
	messenger Messenger,
	scheduler lib.Scheduler,
	delay time.Duration,
	logger *slog.Logger,
	metrics *lib.Metrics,
) *Notifier {
	if chat == nil {
		chat = nopChat{}
	}
	if messenger == nil {
		messenger = nopMessenger{}
	}
	if logger == nil {
		logger = lib.NopLogger()
	}
	return &Notifier{
		registry:  registry,
		chat:      chat,
		messenger: messenger,
		scheduler: scheduler,
		delay:     delay,
		logger:    logger,
		metrics:   metrics,
	}
}

// HandleClanEvent moves members in and out of clan channels and announces
// roster changes to the clan.
func (n *Notifier) HandleClanEvent(_ context.Context, event models.ClanEvent) {
	switch e := event.(type) {
	case models.JoinEvent:
		n.chat.Join(e.Member, e.Clan)
		n.registry.SendToClan(e.Clan, e.Member+" has joined the clan.")
	case models.LeaveEvent:
		n.chat.Leave(e.Member, e.Clan)
		n.registry.SendToClan(e.Clan, e.Member+" has left the clan.")
	case models.KickEvent:
		n.chat.Leave(e.Member, e.Clan)
		n.registry.SendToClan(e.Clan, fmt.Sprintf("%s has been kicked from the clan by %s.", e.Member, e.Kicker))
	}
}

// SessionStarted schedules the pending-invite summary and, for members, the
// channel join and message of the day. Both run after the notice delay and
// read the registry again at that point; a clan disbanded in the meantime is
// skipped.
func (n *Notifier) SessionStarted(identity string) {
	if len(n.registry.PendingInvites(identity)) > 0 {
		n.scheduler.AfterFunc(n.delay, func() { n.sendPendingInvites(identity) })
	}
	if n.registry.IsMember(identity) {
		n.scheduler.AfterFunc(n.delay, func() { n.greetMember(identity) })
	}
}

// SessionEnded removes a member from their clan channel.
func (n *Notifier) SessionEnded(identity string) {
	if clan, ok := n.registry.ClanOf(identity); ok {
		n.chat.Leave(identity, clan.Code)
	}
}

func (n *Notifier) sendPendingInvites(identity string) {
	invites := n.registry.PendingInvites(identity)
	if len(invites) == 0 {
		return
	}
	if !n.messenger.IsOnline(identity) {
		n.metrics.Inc(lib.MetricNoticesDropped)
		return
	}
	n.messenger.SendMessage(identity, fmt.Sprintf("You have %d pending clan invite(s): %s", len(invites), strings.Join(invites, ", ")))
	n.messenger.SendMessage(identity, "Use \"/clan join <clanTag>\" to join one of them!")
}

func (n *Notifier) greetMember(identity string) {
	if !n.messenger.IsOnline(identity) {
		n.metrics.Inc(lib.MetricNoticesDropped)
		return
	}
	clan, ok := n.registry.ClanOf(identity)
	if !ok {
		n.logger.Debug("member left clan before greeting", "identity", identity)
		return
	}
	n.chat.Join(identity, clan.Code)
	n.messenger.SendMessage(identity, n.registry.FormatClanMessage(clan.Code, FormatMotd(clan.Motd)))
}
