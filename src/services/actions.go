package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"clanhall/src/lib"
	"clanhall/src/models"
)

var (
	ErrLeaderMustPass = errors.New("pass leadership to another member before leaving")
	ErrEmptyMessage   = errors.New("message is empty")
)

// Actions are the player-initiated clan commands. Each validates the actor
// before touching the registry.
type Actions struct {
	registry *Registry
	limiter  *InviteLimiter
	clock    Clock
	logger   *slog.Logger
}

func NewActions(registry *Registry, limiter *InviteLimiter, clock Clock, logger *slog.Logger) *Actions {
	if logger == nil {
		logger = lib.NopLogger()
	}
	return &Actions{registry: registry, limiter: limiter, clock: clock, logger: logger}
}

// Invite lets a leader invite a clanless player.
func (a *Actions) Invite(ctx context.Context, actor, target string) error {
	clan, err := a.leaderClan(actor)
	if err != nil {
		return err
	}
	if target == actor {
		return invalid(ErrSelfTarget, "cannot invite yourself")
	}
	if a.registry.IsMember(target) {
		return invalid(ErrAlreadyMember, "%s is already in a clan", target)
	}
	if clan.Size() >= a.registry.clanSize {
		return invalid(ErrClanFull, "%s has %d members", clan.Code, clan.Size())
	}
	if a.registry.HasInvite(clan.Code, target) {
		return nil
	}
	if a.limiter != nil && !a.limiter.Allow(actor, a.clock.Now()) {
		return invalid(ErrRateLimited, "too many invites, slow down")
	}
	return a.registry.Invite(ctx, clan.Code, target)
}

// Uninvite withdraws an invitation the actor's clan sent.
func (a *Actions) Uninvite(ctx context.Context, actor, target string) error {
	clan, err := a.leaderClan(actor)
	if err != nil {
		return err
	}
	if !a.registry.HasInvite(clan.Code, target) {
		return invalid(ErrNoInvite, "%s has no invite to %s", target, clan.Code)
	}
	return a.registry.RevokeInvite(ctx, target, clan.Code)
}

func (a *Actions) Join(ctx context.Context, actor, code string) error {
	if a.registry.IsMember(actor) {
		return invalid(ErrAlreadyMember, "you are already in a clan")
	}
	return a.registry.AcceptInvite(ctx, code, actor)
}

func (a *Actions) Decline(ctx context.Context, actor, code string) error {
	if !a.registry.HasInvite(code, actor) {
		return invalid(ErrNoInvite, "no invite from %s", NormalizeCode(code))
	}
	return a.registry.RevokeInvite(ctx, actor, code)
}

// Leave removes the actor from their clan. A leader may only leave as the
// last member, which disbands the clan.
func (a *Actions) Leave(ctx context.Context, actor string) error {
	clan, ok := a.registry.ClanOf(actor)
	if !ok {
		return invalid(ErrNotMember, "you are not in a clan")
	}
	if clan.Leader == actor {
		if clan.Size() > 1 {
			return invalid(ErrLeaderMustPass, "%s still has %d members", clan.Code, clan.Size()-1)
		}
		return a.registry.Disband(ctx, clan.Code)
	}
	return a.registry.RemoveMember(ctx, actor)
}

func (a *Actions) Kick(ctx context.Context, actor, target string) error {
	clan, err := a.leaderClan(actor)
	if err != nil {
		return err
	}
	if target == actor {
		return invalid(ErrSelfTarget, "cannot kick yourself")
	}
	if !a.registry.IsMemberOf(target, clan.Code) {
		return invalid(ErrNotMember, "%s is not in your clan", target)
	}
	return a.registry.KickMember(ctx, target, actor)
}

func (a *Actions) PassLeadership(ctx context.Context, actor, target string) error {
	clan, err := a.leaderClan(actor)
	if err != nil {
		return err
	}
	if target == actor {
		return invalid(ErrSelfTarget, "you already lead %s", clan.Code)
	}
	if !a.registry.IsMemberOf(target, clan.Code) {
		return invalid(ErrNotMember, "%s is not in your clan", target)
	}
	return a.registry.TransferLeadership(ctx, clan.Code, target)
}

func (a *Actions) SetMotd(ctx context.Context, actor, text string) error {
	clan, err := a.leaderClan(actor)
	if err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" {
		return invalid(ErrEmptyMessage, "message of the day is empty")
	}
	return a.registry.SetMotd(ctx, clan.Code, text)
}

func (a *Actions) Disband(ctx context.Context, actor string) error {
	clan, err := a.leaderClan(actor)
	if err != nil {
		return err
	}
	a.logger.Info("disband requested", "clan", clan.Code, "identity", actor)
	return a.registry.Disband(ctx, clan.Code)
}

func (a *Actions) Chat(actor, message string) error {
	if strings.TrimSpace(message) == "" {
		return invalid(ErrEmptyMessage, "chat message is empty")
	}
	return a.registry.Chat(actor, message)
}

func (a *Actions) leaderClan(actor string) (models.Clan, error) {
	clan, ok := a.registry.ClanOf(actor)
	if !ok {
		return models.Clan{}, invalid(ErrNotMember, "you are not in a clan")
	}
	if clan.Leader != actor {
		return models.Clan{}, invalid(ErrNotLeader, "only the leader of %s can do that", clan.Code)
	}
	return clan, nil
}
