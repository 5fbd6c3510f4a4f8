// Package miner is the orchestration root: it wires the authenticated
// session, the GraphQL and pub/sub clients, the inventory and channel
// registries, persistence, and the state machine together into the one
// running process a deployment actually starts.
package miner

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"twitchdropsfarmer/internal/channel"
	"twitchdropsfarmer/internal/config"
	"twitchdropsfarmer/internal/gql"
	"twitchdropsfarmer/internal/inventory"
	"twitchdropsfarmer/internal/maintenance"
	"twitchdropsfarmer/internal/model"
	"twitchdropsfarmer/internal/priority"
	"twitchdropsfarmer/internal/pubsub"
	"twitchdropsfarmer/internal/settingsstore"
	"twitchdropsfarmer/internal/state"
	"twitchdropsfarmer/internal/storage"
	"twitchdropsfarmer/internal/watch"
)

// Status is a read-only snapshot for the UI adapter and the status
// dashboard, refreshed after every state-machine step.
type Status struct {
	LoggedInAs      string
	CurrentState    string
	CurrentCampaign *model.DropsCampaign
	CurrentChannel  *model.Channel
	Campaigns       []model.DropsCampaign
	LastError       string
	UpdatedAt       time.Time
}

// scoredCampaign pairs a campaign with its priority score for the
// current settings; the scores are recomputed each time a step ranks
// campaigns.
type scoredCampaign struct {
	campaign model.DropsCampaign
	score    float64
}

// candidate is one watchable (channel, campaign) pairing considered
// during channel switching.
type candidate struct {
	channel  model.Channel
	campaign model.DropsCampaign
	score    float64
}

// Miner composes every subsystem and drives the state machine for one
// authenticated account.
type Miner struct {
	cfg       *config.Config
	gqlClient *gql.Client
	pool      *pubsub.Pool
	inv       *inventory.Engine
	channels  *channel.Registry
	settings  *settingsstore.Store
	store     *storage.Store
	userLogin string
	userID    string

	claimCh        chan watch.DropClaimed
	dropProgressCh chan model.CurrentDropProgress

	mu              sync.RWMutex
	campaigns       []model.DropsCampaign
	currentCampaign *model.DropsCampaign
	currentChannel  *model.Channel
	lastErr         error
	currentState    state.State
	subscribedChans map[string]bool
	pointsClaimID   map[string]string

	watchCancel context.CancelFunc
	watchDone   chan struct{}

	sm          *state.Machine
	maintCancel context.CancelFunc

	requestRefresh func()
}

// New composes a Miner from its already-constructed dependencies.
func New(cfg *config.Config, gqlClient *gql.Client, pool *pubsub.Pool, settings *settingsstore.Store, store *storage.Store, userID, userLogin string) *Miner {
	return &Miner{
		cfg:             cfg,
		gqlClient:       gqlClient,
		pool:            pool,
		inv:             inventory.New(gqlClient, userLogin),
		channels:        channel.New(),
		settings:        settings,
		store:           store,
		userID:          userID,
		userLogin:       userLogin,
		claimCh:         make(chan watch.DropClaimed, 4),
		dropProgressCh:  make(chan model.CurrentDropProgress, 4),
		subscribedChans: make(map[string]bool),
		pointsClaimID:   make(map[string]string),
	}
}

// Status returns a snapshot of the miner's current state.
func (m *Miner) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Status{
		LoggedInAs:      m.userLogin,
		CurrentState:    m.currentState.String(),
		CurrentCampaign: m.currentCampaign,
		CurrentChannel:  m.currentChannel,
		Campaigns:       append([]model.DropsCampaign(nil), m.campaigns...),
		UpdatedAt:       time.Now(),
	}
	if m.lastErr != nil {
		s.LastError = m.lastErr.Error()
	}
	return s
}

// ClaimEvents exposes the channel of successfully claimed drops for UI
// notification.
func (m *Miner) ClaimEvents() <-chan watch.DropClaimed { return m.claimCh }

// Run drives the state machine until ctx is cancelled or a step returns a
// fatal error.
func (m *Miner) Run(ctx context.Context) error {
	m.pool.OnCategory(model.TopicStreamState, m.handleStreamState)
	m.pool.OnCategory(model.TopicStreamUpdate, m.handleStreamUpdate)
	m.pool.OnCategory(model.TopicDrops, m.handleDropEvent)
	m.pool.OnCategory(model.TopicNotifications, m.handleNotification)
	m.pool.OnCategory(model.TopicPoints, m.handlePointsEvent)

	m.subscribeUserTopics(ctx)

	sm := state.New()
	m.sm = sm
	sm.OnState(state.Idle, m.stepIdle)
	sm.OnState(state.InventoryFetch, m.stepInventoryFetch)
	sm.OnState(state.GamesUpdate, m.stepGamesUpdate)
	sm.OnState(state.ChannelsCleanup, m.stepChannelsCleanup)
	sm.OnState(state.ChannelsFetch, m.stepChannelsFetch)
	sm.OnState(state.ChannelSwitch, m.stepChannelSwitch)

	m.requestRefresh = func() { sm.RequestState(state.InventoryFetch) }

	m.restartMaintenance(ctx)

	err := sm.Run(ctx)
	m.stopWatching()
	return err
}

// restartMaintenance tears down any previous maintenance scheduler and
// starts a fresh one computed from the current campaign set, forwarding
// every wake to a bonus-points claim attempt plus whichever follow-up
// state transition its reason implies: a campaign's own time trigger
// only needs a channel-cleanup pass, a forced reload needs a full
// inventory refetch, and a bonus check needs nothing beyond the claim.
func (m *Miner) restartMaintenance(ctx context.Context) {
	if m.maintCancel != nil {
		m.maintCancel()
	}
	maintCtx, cancel := context.WithCancel(ctx)
	m.maintCancel = cancel

	sched := maintenance.New(maintenance.NextWake(m.snapshotCampaigns, inventory.NextMaintenanceWake))
	go sched.Run(maintCtx)
	go func() {
		for {
			select {
			case <-maintCtx.Done():
				return
			case w := <-sched.C:
				logrus.WithField("reason", w.Reason).Debug("miner: maintenance wake")
				m.claimBonus(maintCtx)
				switch w.Reason {
				case model.WakeCampaignTrigger:
					m.sm.RequestState(state.ChannelsCleanup)
				case model.WakeForcedReload:
					m.sm.RequestState(state.InventoryFetch)
				}
			}
		}
	}()
}

func (m *Miner) snapshotCampaigns() []model.DropsCampaign {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.DropsCampaign(nil), m.campaigns...)
}

func (m *Miner) recordState(s state.State) {
	m.mu.Lock()
	m.currentState = s
	m.mu.Unlock()
}

func (m *Miner) recordError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

// stepIdle waits for model.CheckInterval (or an early exit) before
// starting the next full evaluation cycle — the baseline cadence used
// whenever nothing else demands an earlier refresh.
func (m *Miner) stepIdle(ctx context.Context) (state.State, error) {
	m.recordState(state.Idle)
	select {
	case <-ctx.Done():
		return state.Exit, ctx.Err()
	case <-time.After(model.CheckInterval):
		return state.InventoryFetch, nil
	}
}

func (m *Miner) stepInventoryFetch(ctx context.Context) (state.State, error) {
	m.recordState(state.InventoryFetch)
	campaigns, err := m.inv.Fetch(ctx)
	if err != nil {
		logrus.WithError(err).Warn("miner: inventory fetch failed, will retry next cycle")
		m.recordError(err)
		return state.Idle, nil
	}
	m.mu.Lock()
	m.campaigns = campaigns
	m.mu.Unlock()
	m.recordError(nil)
	m.restartMaintenance(ctx)
	return state.GamesUpdate, nil
}

// stepGamesUpdate applies the user's exclusion list (the priority list is
// applied later, when campaigns are scored), which only needs to be
// re-read from settings (not re-fetched over the network) on
// every cycle, then claims any drop that is already finished in an
// active or expired campaign — a drop can cross the finish line between
// cycles without ever being the one actively watched (e.g. a campaign
// with several drops sharing the same channel).
func (m *Miner) stepGamesUpdate(ctx context.Context) (state.State, error) {
	m.recordState(state.GamesUpdate)
	settings := m.settings.Settings()

	m.mu.Lock()
	filtered := m.campaigns[:0:0]
	for _, c := range m.campaigns {
		if containsFold(settings.ExcludedGames, c.Game.Name) {
			continue
		}
		filtered = append(filtered, c)
	}
	m.campaigns = filtered
	snapshot := append([]model.DropsCampaign(nil), filtered...)
	m.mu.Unlock()

	m.claimFinishedDrops(ctx, snapshot)

	return state.ChannelsCleanup, nil
}

// claimFinishedDrops claims every unclaimed-but-finished drop across
// every active or expired campaign, independent of which channel (if
// any) is currently being watched.
func (m *Miner) claimFinishedDrops(ctx context.Context, campaigns []model.DropsCampaign) {
	for _, c := range campaigns {
		if c.Status != "ACTIVE" && c.Status != "EXPIRED" {
			continue
		}
		for _, d := range c.TimeBasedDrops {
			if !d.CanClaim() {
				continue
			}
			if err := m.gqlClient.ClaimDrop(ctx, d.DropInstanceID); err != nil {
				logrus.WithError(err).WithField("drop", d.Name).Warn("miner: failed to claim an already-finished drop")
				continue
			}
			reward := ""
			if len(d.Benefits) > 0 {
				reward = d.Benefits[0].Reward(len(d.Benefits))
			}
			if err := m.store.RecordClaim(d.DropInstanceID, c.ID, d.ID, reward); err != nil {
				logrus.WithError(err).Warn("miner: failed to record claim")
			}
			select {
			case m.claimCh <- watch.DropClaimed{Campaign: c, Drop: d}:
			default:
			}
			logrus.WithFields(logrus.Fields{"campaign": c.Name, "drop": d.Name}).Info("miner: claimed a drop that had already finished")
		}
	}
}

// stepChannelsCleanup drops tracked channels that are neither ACL-based
// nor still on a wanted game, unsubscribing their pub/sub topics and
// tearing down the watch loop if the currently watched channel was one
// of them.
func (m *Miner) stepChannelsCleanup(ctx context.Context) (state.State, error) {
	m.recordState(state.ChannelsCleanup)

	wanted := m.wantedCampaigns()
	wantedGameIDs := make(map[string]bool, len(wanted))
	for _, w := range wanted {
		wantedGameIDs[w.campaign.Game.ID] = true
	}

	removed := m.channels.Prune(wantedGameIDs)
	m.unsubscribeChannelTopics(removed)

	m.mu.RLock()
	current := m.currentChannel
	m.mu.RUnlock()
	if current != nil {
		for _, id := range removed {
			if id == current.ID {
				m.stopWatching()
				break
			}
		}
	}
	return state.ChannelsFetch, nil
}

// stepChannelsFetch seeds every wanted campaign's ACL channels directly
// (an allow-listed channel is a legal watch target whether or not it
// shows up in any game's directory listing) and, for campaigns without
// an ACL, fetches each unique game's top streams at most once per
// cycle even when several wanted campaigns share a game.
func (m *Miner) stepChannelsFetch(ctx context.Context) (state.State, error) {
	m.recordState(state.ChannelsFetch)

	wanted := m.wantedCampaigns()
	if len(wanted) == 0 {
		return state.Idle, nil
	}

	gameRank := make(map[string]int, len(wanted))
	seenSlug := make(map[string]bool, len(wanted))

	for rank, w := range wanted {
		c := w.campaign
		if _, ok := gameRank[c.Game.ID]; !ok {
			gameRank[c.Game.ID] = rank
		}

		for _, chID := range c.AllowChannels {
			m.channels.MarkACL(model.Channel{ID: chID, GameID: c.Game.ID, DropsEnabled: true, PendingOnline: true})
		}

		if c.HasACL() || seenSlug[c.Game.Slug] {
			continue
		}
		seenSlug[c.Game.Slug] = true

		streams, err := m.gqlClient.GetStreamsForGame(ctx, c.Game.Slug, model.ChannelDirectoryLimit)
		if err != nil {
			logrus.WithError(err).WithField("game", c.Game.Name).Warn("miner: failed to fetch candidate streams")
			continue
		}
		for _, s := range streams {
			s.GameID = c.Game.ID
			s.DropsEnabled = true
			m.channels.Upsert(s)
		}
	}

	removed := m.channels.Truncate(model.MaxChannels, gameRank)
	m.unsubscribeChannelTopics(removed)

	all := m.channels.All()
	ids := make([]string, 0, len(all))
	for _, ch := range all {
		ids = append(ids, ch.ID)
	}
	m.subscribeChannelTopics(ctx, ids)

	return state.ChannelSwitch, nil
}

// stepChannelSwitch picks the best watchable (channel, campaign) pairing
// across every wanted campaign and, if it differs enough from what's
// currently being watched to be worth the interruption, tears down the
// old watch loop and starts a new one. A currently watched channel that
// remains a candidate is left alone unless something strictly better
// has appeared, avoiding needless thrashing between near-equal options.
func (m *Miner) stepChannelSwitch(ctx context.Context) (state.State, error) {
	m.recordState(state.ChannelSwitch)

	wanted := m.wantedCampaigns()
	if len(wanted) == 0 {
		m.stopWatching()
		m.mu.Lock()
		m.currentCampaign = nil
		m.currentChannel = nil
		m.mu.Unlock()
		return state.Idle, nil
	}

	settings := m.settings.Settings()
	var candidates []candidate
	for _, w := range wanted {
		for _, ch := range m.channels.Watchable(w.campaign, settings.WatchUnlisted) {
			candidates = append(candidates, candidate{channel: ch, campaign: w.campaign, score: w.score})
		}
	}

	if len(candidates) == 0 {
		m.stopWatching()
		m.mu.Lock()
		c := wanted[0].campaign
		m.currentCampaign = &c
		m.currentChannel = nil
		m.mu.Unlock()
		return state.Idle, nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return channel.Preferred(candidates[i].channel, candidates[j].channel)
	})
	best := candidates[0]

	m.mu.RLock()
	current := m.currentChannel
	m.mu.RUnlock()

	if current != nil {
		for _, c := range candidates {
			if c.channel.ID != current.ID {
				continue
			}
			better := best.score > c.score || (best.score == c.score && best.channel.ID != c.channel.ID && channel.Preferred(best.channel, c.channel))
			if !better {
				m.mu.Lock()
				campaign := c.campaign
				ch := c.channel
				m.currentCampaign = &campaign
				m.currentChannel = &ch
				m.mu.Unlock()
				return state.Idle, nil
			}
			break
		}
	}

	m.mu.Lock()
	campaign := best.campaign
	ch := best.channel
	m.currentCampaign = &campaign
	m.currentChannel = &ch
	m.mu.Unlock()

	m.startWatching(ctx, best.campaign, best.channel, settings.AutoClaimDrops)
	return state.Idle, nil
}

// wantedCampaigns returns every campaign currently worth mining, scored
// by the user's chosen priority algorithm and sorted best-first. This is
// a union, not a single pick: an ACL-restricted campaign is always kept
// even when watch_unlisted is off and the game isn't in priority_games,
// since its allow-listed channels are a deliberate invite to earn on
// them, not an unlisted discovery the setting is meant to gate.
func (m *Miner) wantedCampaigns() []scoredCampaign {
	settings := m.settings.Settings()
	campaigns := m.snapshotCampaigns()
	now := time.Now()
	listLength := len(settings.PriorityGames)

	out := make([]scoredCampaign, 0, len(campaigns))
	for i := range campaigns {
		c := campaigns[i]
		if !c.CanEarn(now) {
			continue
		}
		userPriority := priorityIndex(settings.PriorityGames, c.Game.Name)
		if userPriority == 0 && !settings.WatchUnlisted && !c.HasACL() {
			continue
		}
		score := priority.Score(settings.PriorityAlgorithm, c, now, effectivePriority(userPriority, listLength), listLength)
		out = append(out, scoredCampaign{campaign: c, score: score})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].score > out[j].score })
	return out
}

// priorityIndex returns c's 1-based position in games, or 0 if absent.
func priorityIndex(games []string, name string) int {
	for i, g := range games {
		if equalFold(g, name) {
			return i + 1
		}
	}
	return 0
}

// effectivePriority maps an absent game (index 0) to the lowest priority
// slot so it still scores consistently with Score's 1-indexed contract.
func effectivePriority(index, listLength int) int {
	if index == 0 {
		return listLength + 1
	}
	return index
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if equalFold(v, s) {
			return true
		}
	}
	return false
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

func (m *Miner) startWatching(ctx context.Context, campaign model.DropsCampaign, ch model.Channel, autoClaim bool) {
	m.stopWatching()

	watchCtx, cancel := context.WithCancel(ctx)
	m.watchCancel = cancel
	m.watchDone = make(chan struct{})

	loop := watch.New(m.gqlClient, m.store, m.claimCh)
	stillWatchable := func() bool {
		current, ok := m.channels.Get(ch.ID)
		return ok && current.Watchable()
	}

	go func() {
		defer close(m.watchDone)
		if _, err := loop.Watch(watchCtx, campaign, ch, autoClaim, stillWatchable, m.dropProgressCh); err != nil && watchCtx.Err() == nil {
			logrus.WithError(err).WithField("channel", ch.Login).Warn("miner: watch loop ended with an error")
		}
	}()

	logrus.WithFields(logrus.Fields{"campaign": campaign.Name, "channel": ch.Login}).Info("miner: switched channel")
}

func (m *Miner) stopWatching() {
	if m.watchCancel == nil {
		return
	}
	m.watchCancel()
	<-m.watchDone
	m.watchCancel = nil
	m.watchDone = nil
}

// subscribeUserTopics opens the two user-scoped pub/sub subscriptions
// that live for the whole run: drop events (progress and claim
// notifications) and onsite notifications (drop-ready reminders).
func (m *Miner) subscribeUserTopics(ctx context.Context) {
	topics := []model.WebsocketTopic{
		{Category: model.TopicDrops, TargetID: m.userID},
		{Category: model.TopicNotifications, TargetID: m.userID},
	}
	if err := m.pool.AddTopics(ctx, topics...); err != nil {
		logrus.WithError(err).Warn("miner: failed to subscribe user-scoped pub/sub topics")
	}
}

// subscribeChannelTopics opens the three per-channel subscriptions
// (stream state, broadcast settings, channel points) for every id not
// already subscribed.
func (m *Miner) subscribeChannelTopics(ctx context.Context, ids []string) {
	var toAdd []model.WebsocketTopic
	m.mu.Lock()
	for _, id := range ids {
		if m.subscribedChans[id] {
			continue
		}
		m.subscribedChans[id] = true
		toAdd = append(toAdd,
			model.WebsocketTopic{Category: model.TopicStreamState, TargetID: id},
			model.WebsocketTopic{Category: model.TopicStreamUpdate, TargetID: id},
			model.WebsocketTopic{Category: model.TopicPoints, TargetID: id},
		)
	}
	m.mu.Unlock()
	if len(toAdd) == 0 {
		return
	}
	if err := m.pool.AddTopics(ctx, toAdd...); err != nil {
		logrus.WithError(err).Warn("miner: failed to subscribe channel pub/sub topics")
	}
}

func (m *Miner) unsubscribeChannelTopics(ids []string) {
	var toRemove []model.WebsocketTopic
	m.mu.Lock()
	for _, id := range ids {
		if !m.subscribedChans[id] {
			continue
		}
		delete(m.subscribedChans, id)
		toRemove = append(toRemove,
			model.WebsocketTopic{Category: model.TopicStreamState, TargetID: id},
			model.WebsocketTopic{Category: model.TopicStreamUpdate, TargetID: id},
			model.WebsocketTopic{Category: model.TopicPoints, TargetID: id},
		)
	}
	m.mu.Unlock()
	if len(toRemove) == 0 {
		return
	}
	m.pool.RemoveTopics(toRemove...)
}

func (m *Miner) handleStreamState(topic model.WebsocketTopic, messageType string, payload map[string]interface{}) {
	online, _ := payload["is_live"].(bool)
	m.channels.SetOnline(topic.TargetID, online)
}

// handleStreamUpdate tracks a channel's game changes as they're pushed
// over pub/sub, so a channel that switches away from every wanted game
// is pruned on the next cleanup pass instead of waiting on a full
// directory refetch to notice.
func (m *Miner) handleStreamUpdate(topic model.WebsocketTopic, messageType string, payload map[string]interface{}) {
	gameID, _ := payload["game_id"].(string)
	if gameID == "" {
		return
	}
	if ch, ok := m.channels.Get(topic.TargetID); ok && ch.GameID != gameID {
		ch.GameID = gameID
		m.channels.Upsert(ch)
	}
}

// handleDropEvent either forwards a live progress update straight to the
// watch loop (so it can claim a finished drop without waiting on the
// next beacon's fallback poll) or, for a claim or any other drop event,
// asks for a fresh inventory fetch next cycle.
func (m *Miner) handleDropEvent(topic model.WebsocketTopic, messageType string, payload map[string]interface{}) {
	if messageType == "drop-progress" {
		data, _ := payload["data"].(map[string]interface{})
		if data == nil {
			data = payload
		}
		dropID, _ := data["drop_id"].(string)
		minutes, _ := data["current_progress_min"].(float64)
		if dropID == "" {
			return
		}
		select {
		case m.dropProgressCh <- model.CurrentDropProgress{DropID: dropID, CurrentMinutesWatched: int(minutes)}:
		default:
		}
		return
	}

	logrus.WithField("type", messageType).Debug("miner: drop event received, requesting inventory refresh")
	if m.requestRefresh != nil {
		m.requestRefresh()
	}
}

// handlePointsEvent records the claim ID of a newly available channel
// points bonus, keyed by channel, for claimBonus to pick up on the next
// maintenance wake.
func (m *Miner) handlePointsEvent(topic model.WebsocketTopic, messageType string, payload map[string]interface{}) {
	if messageType != "claim-available" {
		return
	}
	claim, _ := payload["claim"].(map[string]interface{})
	if claim == nil {
		return
	}
	claimID, _ := claim["id"].(string)
	if claimID == "" {
		return
	}
	m.mu.Lock()
	m.pointsClaimID[topic.TargetID] = claimID
	m.mu.Unlock()
}

// claimBonus claims the currently watched channel's pending bonus
// points, if pub/sub has reported one available since the last attempt.
func (m *Miner) claimBonus(ctx context.Context) {
	m.mu.RLock()
	ch := m.currentChannel
	m.mu.RUnlock()
	if ch == nil {
		return
	}

	m.mu.Lock()
	claimID := m.pointsClaimID[ch.ID]
	delete(m.pointsClaimID, ch.ID)
	m.mu.Unlock()
	if claimID == "" {
		return
	}

	if err := m.gqlClient.ClaimCommunityPoints(ctx, claimID, ch.ID); err != nil {
		logrus.WithError(err).Debug("miner: bonus points claim failed")
	}
}

func (m *Miner) handleNotification(topic model.WebsocketTopic, messageType string, payload map[string]interface{}) {
	id, _ := payload["id"].(string)
	if id == "" {
		return
	}
	go func() {
		if err := m.gqlClient.DeleteNotification(context.Background(), id); err != nil {
			logrus.WithError(err).Debug("miner: failed to acknowledge notification")
		}
	}()
}
