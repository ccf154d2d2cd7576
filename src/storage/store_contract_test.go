package storage

import (
	"context"
	"testing"

	"clanhall/src/models"
)

type clanStore interface {
	LoadClans(ctx context.Context) ([]models.Clan, error)
	LoadRosters(ctx context.Context) (map[string][]string, error)
	LoadInvites(ctx context.Context) (map[string][]string, error)
	UpsertClan(ctx context.Context, clan models.Clan) error
	DeleteClan(ctx context.Context, code string) error
	UpdateMotd(ctx context.Context, code, motd string) error
	UpdateCounter(ctx context.Context, code string, counter models.Counter, value int) error
	SetLeader(ctx context.Context, code, leader string) error
	InsertMembership(ctx context.Context, membership models.Membership) error
	DeleteMembership(ctx context.Context, identity string) error
	DeleteAllMemberships(ctx context.Context, code string) error
	JoinedAt(ctx context.Context, identity string) (int64, bool, error)
	InsertInvite(ctx context.Context, invite models.Invite) error
	DeleteInvite(ctx context.Context, invite models.Invite) error
	DeleteAllInvitesFor(ctx context.Context, identity string) error
	DeleteAllInvitesForClan(ctx context.Context, code string) error
	FoundClan(ctx context.Context, clan models.Clan, members []models.Membership) error
	DisbandClan(ctx context.Context, code string) error
}

var (
	_ clanStore = (*PostgresStore)(nil)
	_ clanStore = (*SQLiteStore)(nil)
)

func founders(code string, at int64, identities ...string) []models.Membership {
	out := make([]models.Membership, 0, len(identities))
	for _, id := range identities {
		out = append(out, models.Membership{Code: code, Member: id, JoinedAt: at})
	}
	return out
}

// runStoreContract exercises the behavior every clan store must share.
func runStoreContract(t *testing.T, store clanStore) {
	ctx := context.Background()

	t.Run("found clan writes clan roster and clears invites", func(t *testing.T) {
		if err := store.InsertInvite(ctx, models.Invite{Code: "OLD", Player: "bob"}); err != nil {
			t.Fatalf("InsertInvite returned error: %v", err)
		}
		if err := store.InsertInvite(ctx, models.Invite{Code: "OLD", Player: "dave"}); err != nil {
			t.Fatalf("InsertInvite returned error: %v", err)
		}
		clan := models.Clan{Code: "FOO", Leader: "alice", Motd: "Welcome to FOO", CreatedAt: 100}
		if err := store.FoundClan(ctx, clan, founders("FOO", 100, "alice", "bob", "carol")); err != nil {
			t.Fatalf("FoundClan returned error: %v", err)
		}

		clans, err := store.LoadClans(ctx)
		if err != nil {
			t.Fatalf("LoadClans returned error: %v", err)
		}
		if len(clans) != 1 || clans[0].Code != "FOO" || clans[0].Leader != "alice" || clans[0].Motd != "Welcome to FOO" {
			t.Fatalf("LoadClans = %+v, want FOO led by alice", clans)
		}
		rosters, err := store.LoadRosters(ctx)
		if err != nil {
			t.Fatalf("LoadRosters returned error: %v", err)
		}
		if len(rosters["FOO"]) != 3 {
			t.Fatalf("roster = %v, want 3 members", rosters["FOO"])
		}
		invites, err := store.LoadInvites(ctx)
		if err != nil {
			t.Fatalf("LoadInvites returned error: %v", err)
		}
		if len(invites["bob"]) != 0 || len(invites["dave"]) != 1 {
			t.Fatalf("invites = %v, want only dave's", invites)
		}
	})

	t.Run("found clan rejects taken code atomically", func(t *testing.T) {
		err := store.FoundClan(ctx, models.Clan{Code: "FOO", Leader: "xena", CreatedAt: 200}, founders("FOO", 200, "xena", "yuri", "zed"))
		if err == nil {
			t.Fatalf("FoundClan on taken code returned nil error")
		}
		if _, ok, _ := store.JoinedAt(ctx, "xena"); ok {
			t.Fatalf("xena stored despite failed founding")
		}
	})

	t.Run("found clan rolls back on duplicate member", func(t *testing.T) {
		err := store.FoundClan(ctx, models.Clan{Code: "BAR", Leader: "erin", CreatedAt: 300}, founders("BAR", 300, "erin", "alice", "gina"))
		if err == nil {
			t.Fatalf("FoundClan with an existing member returned nil error")
		}
		clans, err := store.LoadClans(ctx)
		if err != nil {
			t.Fatalf("LoadClans returned error: %v", err)
		}
		if len(clans) != 1 {
			t.Fatalf("len(clans) = %d, want 1 after rollback", len(clans))
		}
	})

	t.Run("counters motd and leader", func(t *testing.T) {
		if err := store.UpdateCounter(ctx, "FOO", models.CounterKills, 4); err != nil {
			t.Fatalf("UpdateCounter returned error: %v", err)
		}
		if err := store.UpdateCounter(ctx, "FOO", models.CounterSpecialKills, 1); err != nil {
			t.Fatalf("UpdateCounter returned error: %v", err)
		}
		if err := store.UpdateCounter(ctx, "FOO", models.Counter("score; DROP TABLE clans"), 1); err == nil {
			t.Fatalf("UpdateCounter with unknown counter returned nil error")
		}
		if err := store.UpdateMotd(ctx, "FOO", "gather"); err != nil {
			t.Fatalf("UpdateMotd returned error: %v", err)
		}
		if err := store.SetLeader(ctx, "FOO", "bob"); err != nil {
			t.Fatalf("SetLeader returned error: %v", err)
		}

		clans, err := store.LoadClans(ctx)
		if err != nil {
			t.Fatalf("LoadClans returned error: %v", err)
		}
		got := clans[0]
		if got.Kills != 4 || got.SpecialKills != 1 || got.Deaths != 0 || got.Motd != "gather" || got.Leader != "bob" {
			t.Fatalf("clan = %+v, want kills=4 special=1 motd=gather leader=bob", got)
		}
	})

	t.Run("membership lifecycle", func(t *testing.T) {
		if err := store.InsertMembership(ctx, models.Membership{Code: "FOO", Member: "dave", JoinedAt: 400}); err != nil {
			t.Fatalf("InsertMembership returned error: %v", err)
		}
		if err := store.InsertMembership(ctx, models.Membership{Code: "FOO", Member: "dave", JoinedAt: 401}); err == nil {
			t.Fatalf("duplicate InsertMembership returned nil error")
		}
		joined, ok, err := store.JoinedAt(ctx, "dave")
		if err != nil || !ok || joined != 400 {
			t.Fatalf("JoinedAt(dave) = (%d, %v, %v), want (400, true, nil)", joined, ok, err)
		}
		if err := store.DeleteMembership(ctx, "dave"); err != nil {
			t.Fatalf("DeleteMembership returned error: %v", err)
		}
		if _, ok, err := store.JoinedAt(ctx, "dave"); ok || err != nil {
			t.Fatalf("JoinedAt(dave) after delete = (%v, %v), want (false, nil)", ok, err)
		}
	})

	t.Run("invite lifecycle", func(t *testing.T) {
		for _, inv := range []models.Invite{
			{Code: "FOO", Player: "hank"},
			{Code: "FOO", Player: "hank"},
			{Code: "OLD", Player: "hank"},
			{Code: "FOO", Player: "ivan"},
		} {
			if err := store.InsertInvite(ctx, inv); err != nil {
				t.Fatalf("InsertInvite(%+v) returned error: %v", inv, err)
			}
		}
		if err := store.DeleteInvite(ctx, models.Invite{Code: "OLD", Player: "hank"}); err != nil {
			t.Fatalf("DeleteInvite returned error: %v", err)
		}
		invites, err := store.LoadInvites(ctx)
		if err != nil {
			t.Fatalf("LoadInvites returned error: %v", err)
		}
		if len(invites["hank"]) != 1 || invites["hank"][0] != "FOO" {
			t.Fatalf("hank invites = %v, want [FOO]", invites["hank"])
		}
		if err := store.DeleteAllInvitesFor(ctx, "hank"); err != nil {
			t.Fatalf("DeleteAllInvitesFor returned error: %v", err)
		}
		if err := store.DeleteAllInvitesForClan(ctx, "OLD"); err != nil {
			t.Fatalf("DeleteAllInvitesForClan returned error: %v", err)
		}
		invites, err = store.LoadInvites(ctx)
		if err != nil {
			t.Fatalf("LoadInvites returned error: %v", err)
		}
		if len(invites) != 1 || len(invites["ivan"]) != 1 {
			t.Fatalf("invites = %v, want only ivan's", invites)
		}
	})

	t.Run("upsert clan keeps existing row", func(t *testing.T) {
		if err := store.UpsertClan(ctx, models.Clan{Code: "FOO", Leader: "mallory", CreatedAt: 1}); err != nil {
			t.Fatalf("UpsertClan returned error: %v", err)
		}
		if err := store.UpsertClan(ctx, models.Clan{Code: "NEW", Leader: "nina", CreatedAt: 500}); err != nil {
			t.Fatalf("UpsertClan returned error: %v", err)
		}
		clans, err := store.LoadClans(ctx)
		if err != nil {
			t.Fatalf("LoadClans returned error: %v", err)
		}
		if len(clans) != 2 || clans[0].Code != "FOO" || clans[0].Leader != "bob" {
			t.Fatalf("clans = %+v, want FOO (bob) and NEW", clans)
		}
		if err := store.DeleteClan(ctx, "NEW"); err != nil {
			t.Fatalf("DeleteClan returned error: %v", err)
		}
	})

	t.Run("disband clan removes everything", func(t *testing.T) {
		if err := store.DisbandClan(ctx, "FOO"); err != nil {
			t.Fatalf("DisbandClan returned error: %v", err)
		}
		clans, err := store.LoadClans(ctx)
		if err != nil {
			t.Fatalf("LoadClans returned error: %v", err)
		}
		rosters, err := store.LoadRosters(ctx)
		if err != nil {
			t.Fatalf("LoadRosters returned error: %v", err)
		}
		invites, err := store.LoadInvites(ctx)
		if err != nil {
			t.Fatalf("LoadInvites returned error: %v", err)
		}
		if len(clans) != 0 || len(rosters) != 0 || len(invites) != 0 {
			t.Fatalf("after disband clans=%v rosters=%v invites=%v, want all empty", clans, rosters, invites)
		}
		if err := store.DeleteAllMemberships(ctx, "FOO"); err != nil {
			t.Fatalf("DeleteAllMemberships on empty roster returned error: %v", err)
		}
	})
}
