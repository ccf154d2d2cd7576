package services

import (
	"context"

	"clanhall/src/models"
)

// Store is the durable side of the clan registry. Reads are only used at
// load time; every write is issued synchronously by the mutator that needs it.
type Store interface {
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

	// FoundClan stores a new clan and its founding roster, clearing the
	// founders' invitations, as one unit.
	FoundClan(ctx context.Context, clan models.Clan, members []models.Membership) error
	// DisbandClan removes a clan, its roster and its invitations as one unit.
	DisbandClan(ctx context.Context, code string) error
}
