package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fiatjaf/eventstore/slicestore"
	"github.com/fiatjaf/khatru"
	"github.com/nbd-wtf/go-nostr"
	"github.com/puzpuzpuz/xsync/v3"

	"clanhall/src/lib"
	"clanhall/src/models"
)

// Event kinds published on the clan feed. Channel kinds follow NIP-29.
const (
	KindPlayerNotice = 1
	KindClanNotice   = 9
	KindChannelJoin  = 9000
	KindChannelLeave = 9001
	KindClanEvent    = 9500
)

// DefaultFeedBacklog bounds the stored feed when no backlog is configured.
const DefaultFeedBacklog = 1000

// Feed publishes clan activity as relay-signed nostr events. It backs the
// chat provider and messenger collaborators and tracks player presence.
//
// Only the newest maxBacklog events stay queryable; older ones are deleted
// from the store as new ones arrive.
type Feed struct {
	relay   *khatru.Relay
	store   *slicestore.SliceStore
	privKey string
	pubKey  string
	online  *xsync.MapOf[string, struct{}]
	logger  *slog.Logger
	metrics *lib.Metrics

	mu         sync.Mutex
	backlog    []*nostr.Event
	maxBacklog int
}

func NewFeed(relay *khatru.Relay, privKey, pubKey string, maxBacklog int, logger *slog.Logger, metrics *lib.Metrics) (*Feed, error) {
	if logger == nil {
		logger = lib.NopLogger()
	}
	if maxBacklog <= 0 {
		maxBacklog = DefaultFeedBacklog
	}
	store := &slicestore.SliceStore{}
	if err := store.Init(); err != nil {
		return nil, fmt.Errorf("init feed store: %w", err)
	}
	return &Feed{
		relay:   relay,
		store:   store,
		privKey: privKey,
		pubKey:  pubKey,
		online:  xsync.NewMapOf[string, struct{}](),
		logger:  logger,
		metrics: metrics,

		maxBacklog: maxBacklog,
	}, nil
}

// Close releases the in-memory event store.
func (f *Feed) Close() {
	f.store.Close()
}

// Query returns the stored feed events matching filter.
func (f *Feed) Query(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error) {
	ch, err := f.store.QueryEvents(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("query feed: %w", err)
	}
	out := make([]*nostr.Event, 0)
	for evt := range ch {
		out = append(out, evt)
	}
	return out, nil
}

func (f *Feed) Send(code, text string) {
	f.publishOrDrop(KindClanNotice, nostr.Tags{{"h", code}}, text)
}

func (f *Feed) Join(identity, code string) {
	f.publishOrDrop(KindChannelJoin, nostr.Tags{{"h", code}, {"p", identity}}, "")
}

func (f *Feed) Leave(identity, code string) {
	f.publishOrDrop(KindChannelLeave, nostr.Tags{{"h", code}, {"p", identity}}, "")
}

func (f *Feed) IsOnline(identity string) bool {
	_, ok := f.online.Load(identity)
	return ok
}

func (f *Feed) SendMessage(identity, text string) {
	f.publishOrDrop(KindPlayerNotice, nostr.Tags{{"p", identity}}, text)
}

func (f *Feed) SetOnline(identity string) {
	f.online.Store(identity, struct{}{})
}

func (f *Feed) SetOffline(identity string) {
	f.online.Delete(identity)
}

// HandleClanEvent records a clan event on the feed with its payload as JSON
// content.
func (f *Feed) HandleClanEvent(ctx context.Context, event models.ClanEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		f.logger.Warn("encode clan event failed", "type", event.Type(), "error", err)
		return
	}
	tags := nostr.Tags{
		{"h", event.ClanCode()},
		{"t", string(event.Type())},
		{"p", event.Subject()},
	}
	if err := f.publish(ctx, KindClanEvent, tags, string(payload)); err != nil {
		f.logger.Warn("publish clan event failed", "type", event.Type(), "clan", event.ClanCode(), "error", err)
	}
}

func (f *Feed) publishOrDrop(kind int, tags nostr.Tags, content string) {
	if err := f.publish(context.Background(), kind, tags, content); err != nil {
		f.metrics.Inc(lib.MetricNoticesDropped)
		f.logger.Warn("publish feed event failed", "kind", kind, "error", err)
	}
}

func (f *Feed) publish(ctx context.Context, kind int, tags nostr.Tags, content string) error {
	evt := nostr.Event{
		PubKey:    f.pubKey,
		CreatedAt: nostr.Now(),
		Kind:      kind,
		Tags:      tags,
		Content:   content,
	}
	if err := evt.Sign(f.privKey); err != nil {
		return fmt.Errorf("sign feed event: %w", err)
	}
	if err := f.save(ctx, &evt); err != nil {
		return err
	}
	f.relay.BroadcastEvent(&evt)
	f.metrics.Inc(lib.MetricFeedEventsPublish)
	return nil
}

// save stores evt and deletes the oldest events beyond the backlog.
func (f *Feed) save(ctx context.Context, evt *nostr.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.store.SaveEvent(ctx, evt); err != nil {
		return fmt.Errorf("save feed event: %w", err)
	}
	f.backlog = append(f.backlog, evt)
	for len(f.backlog) > f.maxBacklog {
		oldest := f.backlog[0]
		f.backlog[0] = nil
		f.backlog = f.backlog[1:]
		if err := f.store.DeleteEvent(ctx, oldest); err != nil {
			f.logger.Warn("prune feed event failed", "id", oldest.ID, "error", err)
			continue
		}
		f.metrics.Inc(lib.MetricFeedEventsPruned)
	}
	return nil
}

// wireFeedHooks makes the relay a read-only view of the feed.
func wireFeedHooks(relay *khatru.Relay, feed *Feed) {
	relay.RejectEvent = append(relay.RejectEvent, func(context.Context, *nostr.Event) (bool, string) {
		return true, "blocked: clan feed is read-only"
	})
	relay.QueryEvents = append(relay.QueryEvents, feed.store.QueryEvents)
}
