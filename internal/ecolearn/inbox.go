package ecolearn

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kartik102005/ecolearn/internal/core/eventbus"
	"github.com/kartik102005/ecolearn/internal/core/fault"
	"github.com/kartik102005/ecolearn/internal/core/notify"
	"github.com/kartik102005/ecolearn/internal/core/session"
	"github.com/kartik102005/ecolearn/internal/core/teaminvite"
)

// InboxDeps are the collaborators of an Inbox. Invites and Observer are optional.
type InboxDeps struct {
	Repo     notify.Repository
	Invites  teaminvite.Collaborator
	Limit    int
	Observer Observer
	Logger   zerolog.Logger
	Now      func() time.Time
}

// InboxSnapshot is the inbox of one user at a point in time.
type InboxSnapshot struct {
	UserID string
	Store  notify.Store
}

// Inbox is the notification synchronizer for the signed-in user. Mutations
// are serialized and persisted when they change the store; a failed write
// switches the inbox to memory only until the next activation.
type Inbox struct {
	repo    notify.Repository
	invites teaminvite.Collaborator
	limit   int
	obs     Observer
	log     zerolog.Logger
	now     func() time.Time

	mu      sync.Mutex
	userID  string
	store   notify.Store
	memOnly bool

	pubMu   sync.Mutex
	subsMu  sync.Mutex
	nextSub int
	subs    map[int]func(InboxSnapshot)
}

func NewInbox(deps InboxDeps) *Inbox {
	if deps.Limit <= 0 {
		deps.Limit = notify.MaxEntries
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Inbox{
		repo:    deps.Repo,
		invites: deps.Invites,
		limit:   deps.Limit,
		obs:     deps.Observer,
		log:     deps.Logger,
		now:     deps.Now,
		store:   notify.New(),
		subs:    make(map[int]func(InboxSnapshot)),
	}
}

// Activate loads userID's inbox. An empty store gets the welcome entry, and
// pending team invites are ingested and marked notified.
func (i *Inbox) Activate(ctx context.Context, userID string) error {
	if userID == "" {
		i.Deactivate()
		return nil
	}

	log := i.log.With().Str("user_id", userID).Logger()

	i.mu.Lock()
	if i.userID == userID {
		i.mu.Unlock()
		return nil
	}

	memOnly := false
	loaded, problems, err := i.repo.Load(ctx, userID)
	if err != nil {
		log.Warn().Err(err).Msg("load notifications failed, using an in-memory inbox")
		loaded, memOnly = notify.New(), true
	}
	for _, p := range problems {
		log.Warn().Str("problem", p).Msg("repaired persisted notifications")
	}

	dirty := len(problems) > 0
	if loaded.Len() == 0 {
		loaded, _ = notify.Ingest(loaded, notify.Welcome(userID, i.now()), i.limit)
		dirty = true
	}

	i.userID = userID
	i.store = loaded
	i.memOnly = memOnly
	if dirty {
		i.persistLocked(ctx)
	}
	unread := notify.UnreadCount(i.store)
	i.mu.Unlock()

	log.Debug().Int("entries", loaded.Len()).Msg("inbox activated")
	i.obs.SetUnread(unread)
	i.publish()

	i.deliverPendingInvites(ctx, userID)
	return nil
}

func (i *Inbox) deliverPendingInvites(ctx context.Context, userID string) {
	if i.invites == nil {
		return
	}
	log := i.log.With().Str("user_id", userID).Logger()

	invites, err := i.invites.SeedDemoInvites(ctx, userID)
	if err != nil {
		log.Warn().Err(err).Msg("load team invites failed")
		return
	}

	var delivered []string
	for _, inv := range teaminvite.Pending(invites) {
		n := eventbus.ToNotification(eventbus.Event{
			Type: eventbus.TypeTeamInvite,
			Payload: eventbus.TeamInvitePayload{
				UserID:   userID,
				TeamName: inv.TeamName,
				Inviter:  inv.Inviter,
				InviteID: inv.ID,
				Message:  inv.Message,
			},
			PublishedAt: inv.CreatedAt,
		})
		if _, err := i.ingestFor(ctx, userID, n); err != nil {
			return
		}
		delivered = append(delivered, inv.ID)
	}

	if len(delivered) == 0 {
		return
	}
	if err := i.invites.MarkNotified(ctx, userID, delivered); err != nil {
		log.Warn().Err(err).Strs("invites", delivered).Msg("mark invites notified failed")
	}
}

// Reload re-reads the active user's persisted inbox and adopts it when it
// differs, picking up changes written by other processes. It reports whether
// the inbox changed.
func (i *Inbox) Reload(ctx context.Context) (bool, error) {
	i.mu.Lock()
	userID := i.userID
	if userID == "" {
		i.mu.Unlock()
		return false, fault.ErrNoUser
	}
	if i.memOnly {
		i.mu.Unlock()
		return false, nil
	}

	loaded, _, err := i.repo.Load(ctx, userID)
	if err != nil {
		i.mu.Unlock()
		return false, fmt.Errorf("reload notifications: %w", err)
	}
	if notify.Equal(loaded, i.store) {
		i.mu.Unlock()
		return false, nil
	}
	i.store = loaded
	unread := notify.UnreadCount(i.store)
	i.mu.Unlock()

	i.obs.SetUnread(unread)
	i.publish()
	return true, nil
}

// Deactivate forgets the current user without touching persisted data.
func (i *Inbox) Deactivate() {
	i.mu.Lock()
	was := i.userID
	i.userID = ""
	i.store = notify.New()
	i.memOnly = false
	i.mu.Unlock()

	if was != "" {
		i.obs.SetUnread(0)
		i.publish()
	}
}

// Follow keeps the inbox on the user of m: a new user activates, signing out
// deactivates. The returned function stops following.
func (i *Inbox) Follow(m *SessionManager) (stop func()) {
	follow := func(st session.State) {
		userID := ""
		if st.Authenticated() {
			userID = st.UserID()
		}

		i.mu.Lock()
		same := i.userID == userID
		i.mu.Unlock()
		if same {
			return
		}

		if err := i.Activate(context.Background(), userID); err != nil {
			i.log.Warn().Err(err).Msg("inbox activation failed")
		}
	}

	stop = m.Subscribe(follow)
	follow(m.Snapshot())
	return stop
}

// Start routes bus events into the inbox until the returned function is called.
func (i *Inbox) Start(bus *eventbus.EventBus) (stop func()) {
	router := eventbus.NewNotificationRouter(bus)
	router.Register(i.handleEvent)
	return router.Unregister
}

func (i *Inbox) handleEvent(e eventbus.Event, n notify.Notification) {
	i.mu.Lock()
	active := i.userID
	i.mu.Unlock()

	if active == "" {
		i.log.Debug().Str("event", e.Type).Msg("no active inbox, event dropped")
		return
	}
	if target := e.UserID(); target != "" && target != active {
		i.log.Debug().Str("event", e.Type).Str("target", target).Msg("event for another user filtered")
		return
	}

	ctx := context.Background()
	if _, err := i.ingestFor(ctx, active, n); err != nil {
		return
	}

	if e.Type != eventbus.TypeTeamInvite || i.invites == nil {
		return
	}
	if inviteID, _ := n.Meta["inviteId"].(string); inviteID != "" {
		if err := i.invites.MarkNotified(ctx, active, []string{inviteID}); err != nil {
			i.log.Warn().Err(err).Str("invite_id", inviteID).Msg("mark invite notified failed")
		}
	}
}

// Ingest upserts n into the active inbox.
func (i *Inbox) Ingest(ctx context.Context, n notify.Notification) (bool, error) {
	return i.ingestFor(ctx, "", n)
}

// ingestFor ingests only while userID is still the active user. An empty
// userID targets whoever is active.
func (i *Inbox) ingestFor(ctx context.Context, userID string, n notify.Notification) (bool, error) {
	return i.mutate(ctx, userID, "ingest", n.Type, func(s notify.Store) (notify.Store, bool) {
		return notify.Ingest(s, n, i.limit)
	})
}

func (i *Inbox) MarkAsRead(ctx context.Context, id string) (bool, error) {
	return i.mutate(ctx, "", "read", i.typeOf(id), func(s notify.Store) (notify.Store, bool) {
		return notify.MarkAsRead(s, id)
	})
}

func (i *Inbox) MarkAllAsRead(ctx context.Context) (bool, error) {
	return i.mutate(ctx, "", "read_all", "all", notify.MarkAllAsRead)
}

// SetReadState sets the read flag on ids. Unknown ids are ignored.
func (i *Inbox) SetReadState(ctx context.Context, ids []string, read bool) (bool, error) {
	action := "unread"
	if read {
		action = "read"
	}
	ids = slices.Clone(ids)
	return i.mutate(ctx, "", action, "many", func(s notify.Store) (notify.Store, bool) {
		return notify.SetReadState(s, ids, read)
	})
}

// Dismiss removes id permanently.
func (i *Inbox) Dismiss(ctx context.Context, id string) (bool, error) {
	return i.mutate(ctx, "", "dismiss", i.typeOf(id), func(s notify.Store) (notify.Store, bool) {
		return notify.Dismiss(s, id)
	})
}

func (i *Inbox) typeOf(id string) string {
	i.mu.Lock()
	defer i.mu.Unlock()
	if n, ok := i.store.Get(id); ok {
		return n.Type
	}
	return "unknown"
}

// mutate applies fn to the active store. With a non-empty userID the call is
// dropped unless that user is still active.
func (i *Inbox) mutate(ctx context.Context, userID, action, typ string, fn func(notify.Store) (notify.Store, bool)) (bool, error) {
	i.mu.Lock()
	if i.userID == "" || (userID != "" && userID != i.userID) {
		i.mu.Unlock()
		return false, fault.ErrNoUser
	}

	next, changed := fn(i.store)
	if changed {
		i.store = next
		i.persistLocked(ctx)
	}
	unread := notify.UnreadCount(i.store)
	i.mu.Unlock()

	if changed {
		i.obs.ObserveNotification(action, typ)
		i.obs.SetUnread(unread)
		i.publish()
	}
	return changed, nil
}

// persistLocked writes the store. Caller holds i.mu.
func (i *Inbox) persistLocked(ctx context.Context) {
	if i.memOnly {
		return
	}
	if err := i.repo.Save(ctx, i.userID, i.store); err != nil {
		i.log.Warn().Err(err).Str("user_id", i.userID).Msg("persist notifications failed, keeping inbox in memory")
		i.memOnly = true
	}
}

// Snapshot returns the active user and their store.
func (i *Inbox) Snapshot() InboxSnapshot {
	i.mu.Lock()
	defer i.mu.Unlock()
	return InboxSnapshot{UserID: i.userID, Store: i.store}
}

// List returns the entries newest first.
func (i *Inbox) List() []notify.Notification {
	return notify.List(i.Snapshot().Store)
}

func (i *Inbox) Get(id string) (notify.Notification, bool) {
	return i.Snapshot().Store.Get(id)
}

func (i *Inbox) UnreadCount() int {
	return notify.UnreadCount(i.Snapshot().Store)
}

func (i *Inbox) CountsByType() map[string]int {
	return notify.CountsByType(i.Snapshot().Store)
}

// Subscribe registers fn for every change of the inbox.
func (i *Inbox) Subscribe(fn func(InboxSnapshot)) (unsubscribe func()) {
	i.subsMu.Lock()
	id := i.nextSub
	i.nextSub++
	i.subs[id] = fn
	i.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			i.subsMu.Lock()
			delete(i.subs, id)
			i.subsMu.Unlock()
		})
	}
}

func (i *Inbox) publish() {
	i.pubMu.Lock()
	defer i.pubMu.Unlock()

	snap := i.Snapshot()

	i.subsMu.Lock()
	ids := make([]int, 0, len(i.subs))
	for id := range i.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(InboxSnapshot), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, i.subs[id])
	}
	i.subsMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}
