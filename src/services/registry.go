package services

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/puzpuzpuz/xsync/v3"

	"clanhall/src/lib"
	"clanhall/src/models"
)

var codePattern = regexp.MustCompile(`^[A-Z]{3}$`)

const (
	PlayerDataClan   = "clans.clan"
	PlayerDataJoined = "clans.joined"
)

// Clock is the time source used for join timestamps and relative times.
type Clock interface {
	Now() time.Time
}

// RegistryConfig holds the tunables of the membership registry.
type RegistryConfig struct {
	ClanSize  int
	TagFormat string
}

// LoadReport summarizes a LoadAll pass, including what was self-healed.
type LoadReport struct {
	Clans         int `json:"clans"`
	Members       int `json:"members"`
	Invites       int `json:"invites"`
	PurgedMembers int `json:"purged_members"`
	PurgedInvites int `json:"purged_invites"`
}

// Registry is the in-process source of truth for clans, the identity to clan
// index and the invitation ledger. Every mutation is written to the Store
// before it becomes visible in the cache; a failed write leaves the cache as
// it was and surfaces a *PersistenceError.
//
// Lock order: a clan entry may be computed while holding nothing; index and
// invite entries may be computed inside a clan callback, never the reverse.
type Registry struct {
	store     Store
	bus       *EventBus
	chat      ChatProvider
	messenger Messenger
	clock     Clock
	logger    *slog.Logger
	metrics   *lib.Metrics

	clanSize  int
	tagFormat string

	clans   *xsync.MapOf[string, models.Clan]
	index   *xsync.MapOf[string, string]
	invites *xsync.MapOf[string, []string]
	joining *xsync.MapOf[string, struct{}]
}

func NewRegistry(
	store Store,
	bus *EventBus,
	chat ChatProvider,
	messenger Messenger,
	clock Clock,
	cfg RegistryConfig,
	logger *slog.Logger,
	metrics *lib.Metrics,
) *Registry {
	if chat == nil {
		chat = nopChat{}
	}
	if messenger == nil {
		messenger = nopMessenger{}
	}
	if logger == nil {
		logger = lib.NopLogger()
	}
	if cfg.TagFormat == "" {
		cfg.TagFormat = "[%s] "
	}
	return &Registry{
		store:     store,
		bus:       bus,
		chat:      chat,
		messenger: messenger,
		clock:     clock,
		logger:    logger,
		metrics:   metrics,
		clanSize:  cfg.ClanSize,
		tagFormat: cfg.TagFormat,
		clans:     xsync.NewMapOf[string, models.Clan](),
		index:     xsync.NewMapOf[string, string](),
		invites:   xsync.NewMapOf[string, []string](),
		joining:   xsync.NewMapOf[string, struct{}](),
	}
}

// NormalizeCode returns the canonical upper-case form of a clan code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsValidCode reports whether code is exactly three letters, ignoring case.
func IsValidCode(code string) bool {
	return codePattern.MatchString(NormalizeCode(code))
}

func DefaultMotd(code string) string {
	return "Welcome to " + code
}

func FormatMotd(motd string) string {
	return "Message of the Day: " + motd
}

// LoadAll rebuilds the cache from the store. Memberships and invitations that
// reference a missing clan are purged from the store and counted.
func (r *Registry) LoadAll(ctx context.Context) (LoadReport, error) {
	var report LoadReport

	clans, err := r.store.LoadClans(ctx)
	if err != nil {
		return report, fmt.Errorf("load clans: %w", err)
	}
	rosters, err := r.store.LoadRosters(ctx)
	if err != nil {
		return report, fmt.Errorf("load rosters: %w", err)
	}
	invites, err := r.store.LoadInvites(ctx)
	if err != nil {
		return report, fmt.Errorf("load invites: %w", err)
	}

	byCode := make(map[string]models.Clan, len(clans))
	for _, clan := range clans {
		clan.Members = []string{}
		byCode[clan.Code] = clan
	}

	index := make(map[string]string)
	for _, code := range sortedKeys(rosters) {
		members := rosters[code]
		clan, ok := byCode[code]
		if !ok {
			if err := r.store.DeleteAllMemberships(ctx, code); err != nil {
				return report, r.persistErr("purge orphan roster", err)
			}
			report.PurgedMembers += len(members)
			r.logger.Error("purged members of missing clan", "clan", code, "count", len(members))
			continue
		}
		for _, member := range members {
			if _, dup := index[member]; dup {
				continue
			}
			index[member] = code
			clan.Members = append(clan.Members, member)
		}
		sort.Strings(clan.Members)
		byCode[code] = clan
	}

	ledger := make(map[string][]string)
	orphaned := make(map[string]struct{})
	stale := make([]string, 0)
	for _, player := range sortedKeys(invites) {
		if _, member := index[player]; member {
			stale = append(stale, player)
			continue
		}
		valid := make([]string, 0, len(invites[player]))
		for _, code := range invites[player] {
			if _, ok := byCode[code]; !ok {
				orphaned[code] = struct{}{}
				report.PurgedInvites++
				continue
			}
			valid = append(valid, code)
		}
		if len(valid) > 0 {
			sort.Strings(valid)
			ledger[player] = slices.Compact(valid)
			report.Invites += len(ledger[player])
		}
	}
	for _, code := range sortedKeys(orphaned) {
		if err := r.store.DeleteAllInvitesForClan(ctx, code); err != nil {
			return report, r.persistErr("purge orphan invites", err)
		}
	}
	if len(orphaned) > 0 {
		r.logger.Error("purged invites of missing clans", "clans", len(orphaned), "count", report.PurgedInvites)
	}
	for _, player := range stale {
		if err := r.store.DeleteAllInvitesFor(ctx, player); err != nil {
			return report, r.persistErr("purge member invites", err)
		}
		report.PurgedInvites += len(invites[player])
	}

	r.clans.Clear()
	r.index.Clear()
	r.invites.Clear()
	for code, clan := range byCode {
		r.clans.Store(code, clan)
	}
	for member, code := range index {
		r.index.Store(member, code)
	}
	for player, codes := range ledger {
		r.invites.Store(player, codes)
	}

	report.Clans = len(byCode)
	report.Members = len(index)
	r.logger.Info("loaded clans", "clans", report.Clans, "members", report.Members, "invites", report.Invites)
	return report, nil
}

// CreateClan inserts an empty clan led by founder. It is a no-op when the
// code is already taken.
func (r *Registry) CreateClan(ctx context.Context, code, founder string) error {
	code = NormalizeCode(code)
	if !IsValidCode(code) {
		return invalid(ErrInvalidCode, "%q", code)
	}

	var opErr error
	r.clans.Compute(code, func(current models.Clan, loaded bool) (models.Clan, bool) {
		if loaded {
			return current, false
		}
		clan := models.Clan{
			Code:      code,
			Leader:    founder,
			Motd:      DefaultMotd(code),
			CreatedAt: r.clock.Now().Unix(),
			Members:   []string{},
		}
		if err := r.store.UpsertClan(ctx, clan); err != nil {
			opErr = r.persistErr("upsert clan", err)
			return current, true
		}
		return clan, false
	})
	return opErr
}

// Found creates a clan led by signers[0] with every signer as a member. The
// store write is a single transaction and no signer becomes visible as a
// member before it commits.
func (r *Registry) Found(ctx context.Context, code string, signers []string) error {
	code = NormalizeCode(code)
	if !IsValidCode(code) {
		return invalid(ErrInvalidCode, "%q", code)
	}
	if len(signers) == 0 {
		return invalid(ErrIneligibleSigner, "charter has no signers")
	}
	if len(signers) > r.clanSize {
		return invalid(ErrClanFull, "%d signers for %d slots", len(signers), r.clanSize)
	}

	claimed := make([]string, 0, len(signers))
	defer func() {
		for _, identity := range claimed {
			r.joining.Delete(identity)
		}
	}()
	for _, identity := range signers {
		if err := r.claim(identity); err != nil {
			return invalid(ErrIneligibleSigner, "%s is already in a clan", identity)
		}
		claimed = append(claimed, identity)
	}

	now := r.clock.Now().Unix()
	members := slices.Clone(signers)
	sort.Strings(members)
	clan := models.Clan{
		Code:      code,
		Leader:    signers[0],
		Motd:      DefaultMotd(code),
		CreatedAt: now,
		Members:   members,
	}
	memberships := make([]models.Membership, 0, len(signers))
	for _, identity := range signers {
		memberships = append(memberships, models.Membership{Code: code, Member: identity, JoinedAt: now})
	}

	var opErr error
	r.clans.Compute(code, func(current models.Clan, loaded bool) (models.Clan, bool) {
		if loaded {
			opErr = invalid(ErrClanExists, "%s", code)
			return current, false
		}
		if err := r.store.FoundClan(ctx, clan, memberships); err != nil {
			opErr = r.persistErr("found clan", err)
			return current, true
		}
		for _, identity := range signers {
			r.invites.Delete(identity)
			r.index.Store(identity, code)
		}
		return clan, false
	})
	if opErr != nil {
		return opErr
	}

	r.metrics.Inc(lib.MetricClansFounded)
	r.metrics.Add(lib.MetricMembersJoined, uint64(len(signers)))
	r.logger.Info("clan founded", "clan", code, "leader", clan.Leader, "members", len(signers))
	for _, identity := range signers {
		r.bus.Publish(ctx, models.JoinEvent{Clan: code, Member: identity})
	}
	return nil
}

func (r *Registry) Exists(code string) bool {
	_, ok := r.clans.Load(NormalizeCode(code))
	return ok
}

// Get returns a snapshot of the clan. The Members slice is a private copy.
func (r *Registry) Get(code string) (models.Clan, bool) {
	clan, ok := r.clans.Load(NormalizeCode(code))
	if !ok {
		return models.Clan{}, false
	}
	clan.Members = slices.Clone(clan.Members)
	return clan, true
}

// ClanOf returns the clan identity belongs to.
func (r *Registry) ClanOf(identity string) (models.Clan, bool) {
	code, ok := r.index.Load(identity)
	if !ok {
		return models.Clan{}, false
	}
	return r.Get(code)
}

func (r *Registry) IsMember(identity string) bool {
	_, ok := r.index.Load(identity)
	return ok
}

func (r *Registry) IsMemberOf(identity, code string) bool {
	current, ok := r.index.Load(identity)
	return ok && current == NormalizeCode(code)
}

func (r *Registry) IsLeader(identity string) bool {
	clan, ok := r.ClanOf(identity)
	return ok && clan.Leader == identity
}

// Clans lists every clan ordered by code.
func (r *Registry) Clans() []models.Clan {
	out := make([]models.Clan, 0, r.clans.Size())
	r.clans.Range(func(_ string, clan models.Clan) bool {
		clan.Members = slices.Clone(clan.Members)
		out = append(out, clan)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func (r *Registry) Members(code string) []string {
	clan, ok := r.Get(code)
	if !ok {
		return nil
	}
	return clan.Members
}

// AddMember joins identity to the clan. Pending invitations of identity are
// revoked first, whether or not the join then succeeds.
func (r *Registry) AddMember(ctx context.Context, code, identity string) error {
	code = NormalizeCode(code)
	if err := r.claim(identity); err != nil {
		return err
	}
	defer r.joining.Delete(identity)

	if err := r.RevokeAllInvites(ctx, identity); err != nil {
		return err
	}
	clan, ok := r.clans.Load(code)
	if !ok {
		return fmt.Errorf("add member to %s: %w", code, ErrClanNotFound)
	}
	if clan.Size() >= r.clanSize {
		return invalid(ErrClanFull, "%s has %d members", code, clan.Size())
	}

	joinedAt := r.clock.Now().Unix()
	var opErr error
	r.clans.Compute(code, func(current models.Clan, loaded bool) (models.Clan, bool) {
		if !loaded {
			opErr = fmt.Errorf("add member to %s: %w", code, ErrClanNotFound)
			return current, true
		}
		if current.Size() >= r.clanSize {
			opErr = invalid(ErrClanFull, "%s has %d members", code, current.Size())
			return current, false
		}
		membership := models.Membership{Code: code, Member: identity, JoinedAt: joinedAt}
		if err := r.store.InsertMembership(ctx, membership); err != nil {
			opErr = r.persistErr("insert membership", err)
			return current, false
		}
		r.index.Store(identity, code)
		return current.WithMember(identity), false
	})
	if opErr != nil {
		return opErr
	}

	r.metrics.Inc(lib.MetricMembersJoined)
	r.bus.Publish(ctx, models.JoinEvent{Clan: code, Member: identity})
	return nil
}

// RemoveMember takes identity out of its clan. No-op when it has none.
func (r *Registry) RemoveMember(ctx context.Context, identity string) error {
	return r.removeMember(ctx, identity, "")
}

// KickMember is RemoveMember on behalf of kicker; it emits a Kick event
// instead of a Leave event.
func (r *Registry) KickMember(ctx context.Context, identity, kicker string) error {
	return r.removeMember(ctx, identity, kicker)
}

func (r *Registry) removeMember(ctx context.Context, identity, kicker string) error {
	code, ok := r.index.Load(identity)
	if !ok {
		return nil
	}

	var opErr error
	removed := false
	r.clans.Compute(code, func(current models.Clan, loaded bool) (models.Clan, bool) {
		if !loaded {
			r.index.Compute(identity, dropIfCode(code))
			return current, true
		}
		if !current.HasMember(identity) {
			r.index.Compute(identity, dropIfCode(code))
			return current, false
		}
		if err := r.store.DeleteMembership(ctx, identity); err != nil {
			opErr = r.persistErr("delete membership", err)
			return current, false
		}
		r.index.Compute(identity, dropIfCode(code))
		removed = true
		return current.WithoutMember(identity), false
	})
	if opErr != nil || !removed {
		return opErr
	}

	r.metrics.Inc(lib.MetricMembersLeft)
	if kicker != "" {
		r.bus.Publish(ctx, models.KickEvent{Clan: code, Member: identity, Kicker: kicker})
	} else {
		r.bus.Publish(ctx, models.LeaveEvent{Clan: code, Member: identity})
	}
	return nil
}

// TransferLeadership makes newLeader, who must already be a member, lead the clan.
func (r *Registry) TransferLeadership(ctx context.Context, code, newLeader string) error {
	code = NormalizeCode(code)

	var opErr error
	r.clans.Compute(code, func(current models.Clan, loaded bool) (models.Clan, bool) {
		if !loaded {
			opErr = fmt.Errorf("transfer leadership of %s: %w", code, ErrClanNotFound)
			return current, true
		}
		if !current.HasMember(newLeader) {
			opErr = invalid(ErrNotMember, "%s is not in %s", newLeader, code)
			return current, false
		}
		if err := r.store.SetLeader(ctx, code, newLeader); err != nil {
			opErr = r.persistErr("set leader", err)
			return current, false
		}
		current.Leader = newLeader
		return current, false
	})
	if opErr != nil {
		return opErr
	}

	r.SendToClan(code, newLeader+" has been given leadership of the clan.")
	return nil
}

func (r *Registry) SetMotd(ctx context.Context, code, text string) error {
	code = NormalizeCode(code)
	text = strings.TrimSpace(text)

	var opErr error
	r.clans.Compute(code, func(current models.Clan, loaded bool) (models.Clan, bool) {
		if !loaded {
			opErr = fmt.Errorf("set motd of %s: %w", code, ErrClanNotFound)
			return current, true
		}
		if err := r.store.UpdateMotd(ctx, code, text); err != nil {
			opErr = r.persistErr("update motd", err)
			return current, false
		}
		current.Motd = text
		return current, false
	})
	if opErr != nil {
		return opErr
	}

	r.SendToClan(code, FormatMotd(text))
	return nil
}

func (r *Registry) RecordKill(ctx context.Context, identity string) error {
	_, err := r.bumpCounter(ctx, identity, models.CounterKills)
	return err
}

func (r *Registry) RecordDeath(ctx context.Context, identity string) error {
	_, err := r.bumpCounter(ctx, identity, models.CounterDeaths)
	return err
}

// RecordSpecialKill scores a special kill and celebrates it in clan chat.
func (r *Registry) RecordSpecialKill(ctx context.Context, identity string) error {
	code, err := r.bumpCounter(ctx, identity, models.CounterSpecialKills)
	if err != nil || code == "" {
		return err
	}
	r.SendToClan(code, "The clan has slain a dragon!")
	return nil
}

// bumpCounter increments counter on identity's clan and returns the clan
// code, or "" when identity has no clan.
func (r *Registry) bumpCounter(ctx context.Context, identity string, counter models.Counter) (string, error) {
	code, ok := r.index.Load(identity)
	if !ok {
		return "", nil
	}

	var opErr error
	applied := false
	r.clans.Compute(code, func(current models.Clan, loaded bool) (models.Clan, bool) {
		if !loaded {
			return current, true
		}
		value := current.Counter(counter) + 1
		if err := r.store.UpdateCounter(ctx, code, counter, value); err != nil {
			opErr = r.persistErr("update "+string(counter), err)
			return current, false
		}
		applied = true
		return current.WithCounter(counter, value), false
	})
	if opErr != nil || !applied {
		return "", opErr
	}
	return code, nil
}

// Disband deletes the clan with its roster and invitations. Every former
// member gets a Leave event.
func (r *Registry) Disband(ctx context.Context, code string) error {
	code = NormalizeCode(code)
	if !r.Exists(code) {
		return fmt.Errorf("disband %s: %w", code, ErrClanNotFound)
	}
	r.chat.Send(code, r.FormatClanMessage(code, "The clan is being disbanded by the leader."))

	var opErr error
	var former models.Clan
	r.clans.Compute(code, func(current models.Clan, loaded bool) (models.Clan, bool) {
		if !loaded {
			opErr = fmt.Errorf("disband %s: %w", code, ErrClanNotFound)
			return current, true
		}
		if err := r.store.DisbandClan(ctx, code); err != nil {
			opErr = r.persistErr("disband clan", err)
			return current, false
		}
		for _, member := range current.Members {
			r.index.Compute(member, dropIfCode(code))
		}
		r.dropInvitesTo(code)
		former = current
		return current, true
	})
	if opErr != nil {
		return opErr
	}

	r.metrics.Inc(lib.MetricClansDisbanded)
	r.metrics.Add(lib.MetricMembersLeft, uint64(len(former.Members)))
	r.logger.Info("clan disbanded", "clan", code, "members", len(former.Members))
	for _, member := range former.Members {
		r.bus.Publish(ctx, models.LeaveEvent{Clan: code, Member: member})
	}
	return nil
}

// Chat relays a member's message to their clan channel.
func (r *Registry) Chat(identity, message string) error {
	clan, ok := r.ClanOf(identity)
	if !ok {
		return invalid(ErrNotMember, "%s has no clan", identity)
	}
	r.chat.Send(clan.Code, r.FormatClanMessage(clan.Code, fmt.Sprintf("<%s> %s", identity, message)))
	return nil
}

// SendToClan broadcasts a tagged system message to an existing clan.
func (r *Registry) SendToClan(code, message string) {
	if !r.Exists(code) {
		return
	}
	r.chat.Send(code, r.FormatClanMessage(code, message))
}

// PlayerData exposes clan facts about identity for other plugins.
func (r *Registry) PlayerData(ctx context.Context, identity string) (map[string]string, error) {
	data := map[string]string{PlayerDataClan: "None", PlayerDataJoined: "never"}
	if clan, ok := r.ClanOf(identity); ok {
		data[PlayerDataClan] = clan.Code
	}

	joinedAt, ok, err := r.store.JoinedAt(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("load join time: %w", err)
	}
	if ok {
		data[PlayerDataJoined] = humanize.RelTime(time.Unix(joinedAt, 0), r.clock.Now(), "ago", "from now")
	}
	return data, nil
}

func (r *Registry) FormatClanTag(code string) string {
	return fmt.Sprintf(r.tagFormat, code)
}

func (r *Registry) FormatClanMessage(code, message string) string {
	return r.FormatClanTag(code) + message
}

// claim reserves identity for a pending join. Only one join per identity can
// be in flight and none can start while identity is a member.
func (r *Registry) claim(identity string) error {
	if _, busy := r.joining.LoadOrStore(identity, struct{}{}); busy {
		return invalid(ErrAlreadyMember, "%s is already joining a clan", identity)
	}
	if _, member := r.index.Load(identity); member {
		r.joining.Delete(identity)
		return invalid(ErrAlreadyMember, "%s", identity)
	}
	return nil
}

func (r *Registry) persistErr(op string, err error) error {
	r.metrics.Inc(lib.MetricStoreErrors)
	r.logger.Error("store write failed", "op", op, "error", err)
	return &PersistenceError{Op: op, Err: err}
}

// dropIfCode deletes an index entry only while it still points at code.
func dropIfCode(code string) func(string, bool) (string, bool) {
	return func(current string, loaded bool) (string, bool) {
		if !loaded {
			return current, true
		}
		return current, current == code
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
