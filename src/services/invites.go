package services

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"clanhall/src/lib"
	"clanhall/src/models"
)

// Invite records a pending invitation of identity into the clan and tells
// identity about it when they are online.
func (r *Registry) Invite(ctx context.Context, code, identity string) error {
	code = NormalizeCode(code)

	var opErr error
	added := false
	r.clans.Compute(code, func(current models.Clan, loaded bool) (models.Clan, bool) {
		if !loaded {
			opErr = fmt.Errorf("invite to %s: %w", code, ErrClanNotFound)
			return current, true
		}
		r.invites.Compute(identity, func(codes []string, loaded bool) ([]string, bool) {
			if slices.Contains(codes, code) {
				return codes, false
			}
			if err := r.store.InsertInvite(ctx, models.Invite{Code: code, Player: identity}); err != nil {
				opErr = r.persistErr("insert invite", err)
				return codes, !loaded
			}
			added = true
			next := append(slices.Clone(codes), code)
			sort.Strings(next)
			return next, false
		})
		return current, false
	})
	if opErr != nil || !added {
		return opErr
	}

	r.notify(identity, fmt.Sprintf("You have been invited to join the '%[1]s' clan. Use \"/clan join %[1]s\" to join!", code))
	return nil
}

// RevokeInvite withdraws one pending invitation.
func (r *Registry) RevokeInvite(ctx context.Context, identity, code string) error {
	code = NormalizeCode(code)

	var opErr error
	r.invites.Compute(identity, func(codes []string, loaded bool) ([]string, bool) {
		if !slices.Contains(codes, code) {
			return codes, !loaded
		}
		if err := r.store.DeleteInvite(ctx, models.Invite{Code: code, Player: identity}); err != nil {
			opErr = r.persistErr("delete invite", err)
			return codes, false
		}
		next := slices.DeleteFunc(slices.Clone(codes), func(c string) bool { return c == code })
		return next, len(next) == 0
	})
	return opErr
}

// RevokeAllInvites clears every pending invitation of identity.
func (r *Registry) RevokeAllInvites(ctx context.Context, identity string) error {
	var opErr error
	r.invites.Compute(identity, func(codes []string, loaded bool) ([]string, bool) {
		if !loaded {
			return codes, true
		}
		if err := r.store.DeleteAllInvitesFor(ctx, identity); err != nil {
			opErr = r.persistErr("delete player invites", err)
			return codes, false
		}
		return nil, true
	})
	return opErr
}

func (r *Registry) HasInvite(code, identity string) bool {
	codes, ok := r.invites.Load(identity)
	return ok && slices.Contains(codes, NormalizeCode(code))
}

// PendingInvites lists the clan codes identity is invited to, sorted.
func (r *Registry) PendingInvites(identity string) []string {
	codes, ok := r.invites.Load(identity)
	if !ok {
		return nil
	}
	return slices.Clone(codes)
}

// AcceptInvite joins identity to a clan it was invited to and delivers the
// clan's message of the day.
func (r *Registry) AcceptInvite(ctx context.Context, code, identity string) error {
	code = NormalizeCode(code)
	if !r.HasInvite(code, identity) {
		return invalid(ErrNoInvite, "%s has no invite to %s", identity, code)
	}
	if err := r.AddMember(ctx, code, identity); err != nil {
		return err
	}
	if clan, ok := r.Get(code); ok {
		r.notify(identity, r.FormatClanMessage(code, FormatMotd(clan.Motd)))
	}
	return nil
}

// dropInvitesTo removes code from every ledger entry. The store side is
// handled by the caller.
func (r *Registry) dropInvitesTo(code string) {
	r.invites.Range(func(identity string, codes []string) bool {
		if !slices.Contains(codes, code) {
			return true
		}
		r.invites.Compute(identity, func(codes []string, loaded bool) ([]string, bool) {
			if !loaded {
				return codes, true
			}
			next := slices.DeleteFunc(slices.Clone(codes), func(c string) bool { return c == code })
			return next, len(next) == 0
		})
		return true
	})
}

// notify sends a direct notice, dropping it when identity is unreachable.
func (r *Registry) notify(identity, text string) {
	if !r.messenger.IsOnline(identity) {
		r.metrics.Inc(lib.MetricNoticesDropped)
		return
	}
	r.messenger.SendMessage(identity, text)
}
