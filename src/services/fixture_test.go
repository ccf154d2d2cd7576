package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"clanhall/src/lib"
	"clanhall/src/models"
)

var errStoreDown = errors.New("store down")

// memStore is an in-memory Store with per-operation failure injection.
type memStore struct {
	mu      sync.Mutex
	clans   map[string]models.Clan
	members map[string]models.Membership
	invites map[models.Invite]struct{}
	fail    map[string]error
	writes  int
}

func newMemStore() *memStore {
	return &memStore{
		clans:   make(map[string]models.Clan),
		members: make(map[string]models.Membership),
		invites: make(map[models.Invite]struct{}),
		fail:    make(map[string]error),
	}
}

func (s *memStore) failOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[op] = err
}

func (s *memStore) heal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = make(map[string]error)
}

func (s *memStore) check(op string) error {
	if err := s.fail[op]; err != nil {
		return err
	}
	s.writes++
	return nil
}

func (s *memStore) LoadClans(context.Context) ([]models.Clan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail["LoadClans"]; err != nil {
		return nil, err
	}
	out := make([]models.Clan, 0, len(s.clans))
	for _, clan := range s.clans {
		out = append(out, clan)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *memStore) LoadRosters(context.Context) (map[string][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]string)
	for _, m := range s.members {
		out[m.Code] = append(out[m.Code], m.Member)
	}
	return out, nil
}

func (s *memStore) LoadInvites(context.Context) (map[string][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]string)
	for inv := range s.invites {
		out[inv.Player] = append(out[inv.Player], inv.Code)
	}
	return out, nil
}

func (s *memStore) UpsertClan(_ context.Context, clan models.Clan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("UpsertClan"); err != nil {
		return err
	}
	if _, ok := s.clans[clan.Code]; !ok {
		clan.Members = nil
		s.clans[clan.Code] = clan
	}
	return nil
}

func (s *memStore) DeleteClan(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("DeleteClan"); err != nil {
		return err
	}
	delete(s.clans, code)
	return nil
}

func (s *memStore) UpdateMotd(_ context.Context, code, motd string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("UpdateMotd"); err != nil {
		return err
	}
	clan := s.clans[code]
	clan.Motd = motd
	s.clans[code] = clan
	return nil
}

func (s *memStore) UpdateCounter(_ context.Context, code string, counter models.Counter, value int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("UpdateCounter"); err != nil {
		return err
	}
	s.clans[code] = s.clans[code].WithCounter(counter, value)
	return nil
}

func (s *memStore) SetLeader(_ context.Context, code, leader string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("SetLeader"); err != nil {
		return err
	}
	clan := s.clans[code]
	clan.Leader = leader
	s.clans[code] = clan
	return nil
}

func (s *memStore) InsertMembership(_ context.Context, m models.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("InsertMembership"); err != nil {
		return err
	}
	if _, dup := s.members[m.Member]; dup {
		return fmt.Errorf("duplicate member %s", m.Member)
	}
	s.members[m.Member] = m
	return nil
}

func (s *memStore) DeleteMembership(_ context.Context, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("DeleteMembership"); err != nil {
		return err
	}
	delete(s.members, identity)
	return nil
}

func (s *memStore) DeleteAllMemberships(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("DeleteAllMemberships"); err != nil {
		return err
	}
	for member, m := range s.members {
		if m.Code == code {
			delete(s.members, member)
		}
	}
	return nil
}

func (s *memStore) JoinedAt(_ context.Context, identity string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[identity]
	return m.JoinedAt, ok, nil
}

func (s *memStore) InsertInvite(_ context.Context, inv models.Invite) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("InsertInvite"); err != nil {
		return err
	}
	s.invites[inv] = struct{}{}
	return nil
}

func (s *memStore) DeleteInvite(_ context.Context, inv models.Invite) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("DeleteInvite"); err != nil {
		return err
	}
	delete(s.invites, inv)
	return nil
}

func (s *memStore) DeleteAllInvitesFor(_ context.Context, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("DeleteAllInvitesFor"); err != nil {
		return err
	}
	s.deleteInvitesLocked(func(inv models.Invite) bool { return inv.Player == identity })
	return nil
}

func (s *memStore) DeleteAllInvitesForClan(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("DeleteAllInvitesForClan"); err != nil {
		return err
	}
	s.deleteInvitesLocked(func(inv models.Invite) bool { return inv.Code == code })
	return nil
}

func (s *memStore) deleteInvitesLocked(match func(models.Invite) bool) {
	for inv := range s.invites {
		if match(inv) {
			delete(s.invites, inv)
		}
	}
}

func (s *memStore) FoundClan(_ context.Context, clan models.Clan, members []models.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("FoundClan"); err != nil {
		return err
	}
	if _, ok := s.clans[clan.Code]; ok {
		return fmt.Errorf("code %s already stored", clan.Code)
	}
	for _, m := range members {
		if _, dup := s.members[m.Member]; dup {
			return fmt.Errorf("duplicate member %s", m.Member)
		}
	}
	clan.Members = nil
	s.clans[clan.Code] = clan
	for _, m := range members {
		s.members[m.Member] = m
		s.deleteInvitesLocked(func(inv models.Invite) bool { return inv.Player == m.Member })
	}
	return nil
}

func (s *memStore) DisbandClan(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("DisbandClan"); err != nil {
		return err
	}
	s.deleteInvitesLocked(func(inv models.Invite) bool { return inv.Code == code })
	for member, m := range s.members {
		if m.Code == code {
			delete(s.members, member)
		}
	}
	delete(s.clans, code)
	return nil
}

// seed writes rows directly, bypassing failure injection.
func (s *memStore) seed(clans []models.Clan, members []models.Membership, invites []models.Invite) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range clans {
		c.Members = nil
		s.clans[c.Code] = c
	}
	for _, m := range members {
		s.members[m.Member] = m
	}
	for _, inv := range invites {
		s.invites[inv] = struct{}{}
	}
}

func (s *memStore) memberRows(code string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0)
	for member, m := range s.members {
		if m.Code == code {
			out = append(out, member)
		}
	}
	sort.Strings(out)
	return out
}

func (s *memStore) inviteRows(code string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for inv := range s.invites {
		if inv.Code == code {
			n++
		}
	}
	return n
}

func (s *memStore) hasClan(code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.clans[code]
	return ok
}

type chatLine struct {
	Code string
	Text string
}

type recordingChat struct {
	mu     sync.Mutex
	sent   []chatLine
	joined map[string]string
	left   []string
	onSend func(code, text string)
}

func newRecordingChat() *recordingChat {
	return &recordingChat{joined: make(map[string]string)}
}

func (c *recordingChat) Send(code, text string) {
	c.mu.Lock()
	c.sent = append(c.sent, chatLine{Code: code, Text: text})
	hook := c.onSend
	c.mu.Unlock()
	if hook != nil {
		hook(code, text)
	}
}

func (c *recordingChat) Join(identity, code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.joined[identity] = code
}

func (c *recordingChat) Leave(identity, code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.joined[identity] == code {
		delete(c.joined, identity)
	}
	c.left = append(c.left, identity)
}

func (c *recordingChat) texts(code string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0)
	for _, line := range c.sent {
		if line.Code == code {
			out = append(out, line.Text)
		}
	}
	return out
}

func (c *recordingChat) channelOf(identity string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joined[identity]
}

type fakeMessenger struct {
	mu     sync.Mutex
	online map[string]bool
	inbox  map[string][]string
}

func newFakeMessenger(online ...string) *fakeMessenger {
	m := &fakeMessenger{online: make(map[string]bool), inbox: make(map[string][]string)}
	for _, id := range online {
		m.online[id] = true
	}
	return m
}

func (m *fakeMessenger) IsOnline(identity string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online[identity]
}

func (m *fakeMessenger) SendMessage(identity, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inbox[identity] = append(m.inbox[identity], text)
}

func (m *fakeMessenger) setOnline(identity string, online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.online[identity] = online
}

func (m *fakeMessenger) SetOnline(identity string)  { m.setOnline(identity, true) }
func (m *fakeMessenger) SetOffline(identity string) { m.setOnline(identity, false) }

func (m *fakeMessenger) messages(identity string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.inbox[identity]...)
}

type eventRecorder struct {
	mu     sync.Mutex
	events []models.ClanEvent
}

func (r *eventRecorder) HandleClanEvent(_ context.Context, event models.ClanEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) types() []models.ClanEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.ClanEventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type())
	}
	return out
}

func (r *eventRecorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store     *memStore
	bus       *EventBus
	chat      *recordingChat
	messenger *fakeMessenger
	clock     *lib.ManualScheduler
	metrics   *lib.Metrics
	events    *eventRecorder
	registry  *Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:     newMemStore(),
		bus:       NewEventBus(),
		chat:      newRecordingChat(),
		messenger: newFakeMessenger(),
		clock:     lib.NewManualScheduler(testStart),
		metrics:   lib.NewMetrics(),
		events:    &eventRecorder{},
	}
	f.bus.Subscribe(f.events)
	f.registry = NewRegistry(
		f.store,
		f.bus,
		f.chat,
		f.messenger,
		f.clock,
		RegistryConfig{ClanSize: 5, TagFormat: "[%s] "},
		lib.NopLogger(),
		f.metrics,
	)
	return f
}

// found creates code with the given members; the first one leads.
func (f *fixture) found(t *testing.T, code string, members ...string) {
	t.Helper()
	require.NoError(t, f.registry.Found(context.Background(), code, members))
}

// requireConsistent checks that the index and every clan roster mirror each
// other and that no identity is indexed twice.
func requireConsistent(t *testing.T, r *Registry) {
	t.Helper()
	seen := make(map[string]string)
	for _, clan := range r.Clans() {
		for _, member := range clan.Members {
			require.NotContains(t, seen, member, "identity %s listed in two clans", member)
			seen[member] = clan.Code
			require.True(t, r.IsMemberOf(member, clan.Code), "%s in %s roster but not indexed", member, clan.Code)
		}
	}
	r.index.Range(func(identity, code string) bool {
		require.Equal(t, code, seen[identity], "index entry %s -> %s has no roster entry", identity, code)
		return true
	})
}
