// Package orchestrator owns the per-device session state machine: it pairs
// each connected device with exactly one upstream conversation, relays audio
// between them, and performs the agent handoff when the choice agent reports
// a selection.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/storyteller/server/domain/entities"
	"github.com/storyteller/server/domain/repositories"
	"github.com/storyteller/server/internal/agent"
)

// Agent labels sent to the device in audioResponse and agentSwitched
// messages.
const (
	AgentChoice  = "choice"
	AgentEpisode = "episode"
)

const (
	openTimeout  = 15 * time.Second
	closeTimeout = 5 * time.Second

	// Malformed selections are ignored until the agent repeats them this
	// many times, then the device gets one visible error.
	invalidToolCallThreshold = 3

	welcomeMessage = "Hola! I'm so happy you're here. Let's learn together!"
)

// welcomeFor personalizes the connected greeting with the episode the choice
// agent is about to offer.
func welcomeFor(offered *entities.EpisodeContent) string {
	if offered == nil || offered.Title == "" {
		return welcomeMessage
	}
	return fmt.Sprintf("%s Up next: %s.", welcomeMessage, offered.Title)
}

// Orchestrator is the single authority over the device-to-conversation
// mapping. One instance serves all devices; each device runs on its own
// goroutines and shares nothing but the session store.
type Orchestrator struct {
	conversations repositories.ConversationService
	users         repositories.UserRepository
	progress      repositories.ProgressRepository
	catalog       repositories.EpisodeCatalog
	store         *SessionStore
	metrics       *Metrics
	retry         RetryPolicy
	logger        *zap.Logger

	mu      sync.Mutex
	devices map[string]*deviceState
}

// deviceState is the live, non-durable half of one device's session: the
// transport link, the relay pump, and the owned upstream conversation.
type deviceState struct {
	deviceID string
	user     *entities.User
	link     DeviceLink
	pump     *RelayPump

	// Canceled on disconnect so in-flight opens and reconnects abort.
	ctx    context.Context
	cancel context.CancelFunc

	// Guards conv and closed. conv is the one live upstream conversation
	// this device owns; closed flips exactly once on teardown.
	mu     sync.Mutex
	conv   repositories.Conversation
	closed bool

	// Held for the duration of an agent handoff or reconnect. TryLock
	// only: a second trigger arriving mid-transition is dropped, never
	// queued.
	transitionMu sync.Mutex

	invalidMu    sync.Mutex
	invalidCalls int
}

// New creates the orchestrator. The session store mirrors into cache; all
// collaborators are passed in explicitly so tests can substitute doubles.
func New(
	conversations repositories.ConversationService,
	users repositories.UserRepository,
	progress repositories.ProgressRepository,
	catalog repositories.EpisodeCatalog,
	cache repositories.SessionCache,
	metrics *Metrics,
	retry RetryPolicy,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		conversations: conversations,
		users:         users,
		progress:      progress,
		catalog:       catalog,
		store:         NewSessionStore(cache, logger),
		metrics:       metrics,
		retry:         retry,
		logger:        logger,
		devices:       make(map[string]*deviceState),
	}
}

// Store exposes the session store for the REST status surface.
func (o *Orchestrator) Store() *SessionStore {
	return o.store
}

// OnDeviceConnect registers a freshly handshaken device: looks up or creates
// its user, opens the choice-phase conversation, and starts the relay. A
// stale pairing for the same device is torn down first.
func (o *Orchestrator) OnDeviceConnect(ctx context.Context, deviceID, firmwareVersion string, link DeviceLink) error {
	o.OnDeviceDisconnect(ctx, deviceID)

	user, err := o.users.GetOrCreateByDeviceID(ctx, deviceID)
	if err != nil {
		link.SendError("INTERNAL", "could not load your profile")
		return fmt.Errorf("load user for device %s: %w", deviceID, err)
	}

	dctx, cancel := context.WithCancel(context.Background())
	ds := &deviceState{
		deviceID: deviceID,
		user:     user,
		link:     link,
		ctx:      dctx,
		cancel:   cancel,
	}
	ds.pump = NewRelayPump(deviceID, link, o, o.metrics, o.logger)

	config, offered, err := o.choiceConfig(dctx, user)
	if err != nil {
		cancel()
		link.SendError("INTERNAL", "could not prepare the conversation")
		return fmt.Errorf("build choice config for device %s: %w", deviceID, err)
	}

	conv, err := o.openConversation(dctx, deviceID, config)
	if err != nil {
		cancel()
		o.metrics.UpstreamFailures.WithLabelValues(string(ClassUpstreamUnavailable)).Inc()
		link.SendError(string(ClassUpstreamUnavailable), "the speech service is not reachable, please reconnect")
		link.Close()
		return err
	}
	ds.conv = conv

	record := entities.NewSessionRecord(deviceID, user.ID)
	if err := record.AttachConversation(conv.ID()); err != nil {
		cancel()
		o.closeConversation(deviceID, conv)
		return err
	}
	if err := o.store.Put(ctx, record); err != nil {
		cancel()
		o.closeConversation(deviceID, conv)
		return err
	}

	o.mu.Lock()
	o.devices[deviceID] = ds
	o.mu.Unlock()

	ds.pump.Attach(conv, AgentChoice)
	if err := conv.StartResponse(dctx); err != nil {
		o.logger.Warn("Failed to request greeting",
			zap.String("deviceID", deviceID),
			zap.Error(err))
	}

	if err := link.SendConnected(user.ID, welcomeFor(offered)); err != nil {
		o.logger.Warn("Failed to send connected message",
			zap.String("deviceID", deviceID),
			zap.Error(err))
	}

	o.metrics.ActiveSessions.Set(float64(o.store.Len()))
	o.logger.Info("Device session started",
		zap.String("deviceID", deviceID),
		zap.String("userID", user.ID),
		zap.String("firmware", firmwareVersion),
		zap.String("conversationID", conv.ID()))
	return nil
}

// OnDeviceAudio relays one microphone frame toward the active conversation.
func (o *Orchestrator) OnDeviceAudio(ctx context.Context, deviceID string, frame []byte) error {
	ds := o.device(deviceID)
	if ds == nil {
		return fmt.Errorf("%w: no session for device %s", ErrTransportClosed, deviceID)
	}
	o.store.Touch(deviceID)
	return ds.pump.ForwardToUpstream(ctx, frame)
}

// OnFunctionResponse is the client-confirmed selection path: the device
// itself reports the chosen episode instead of the agent calling the tool.
func (o *Orchestrator) OnFunctionResponse(deviceID string, selection entities.EpisodeSelection) {
	raw, err := json.Marshal(selection)
	if err != nil {
		return
	}
	o.HandleToolCall(deviceID, repositories.ToolCall{
		CallID:    "device-" + deviceID,
		Name:      agent.ToolSelectEpisode,
		Arguments: raw,
	})
}

// OnDeviceDisconnect tears the device's session down: cancels in-flight
// opens, closes the upstream conversation within a bounded timeout, flushes
// the progress record if the session reached the teaching phase, and removes
// the session record. Idempotent.
func (o *Orchestrator) OnDeviceDisconnect(ctx context.Context, deviceID string) {
	o.mu.Lock()
	ds, ok := o.devices[deviceID]
	if ok {
		delete(o.devices, deviceID)
	}
	o.mu.Unlock()
	if !ok {
		return
	}

	ds.cancel()

	// Teardown is serialized with transitions: an in-flight handoff finishes
	// (or aborts on the canceled context) before the session is flushed, so
	// the two never write competing progress records.
	ds.transitionMu.Lock()
	defer ds.transitionMu.Unlock()

	ds.pump.Close()

	if conv := ds.shutdown(); conv != nil {
		o.closeConversation(deviceID, conv)
	}

	if record, found := o.store.Get(deviceID); found && record.Mode == entities.AgentModeLearning {
		o.flushProgress(ctx, record, false)
	}
	o.store.Remove(ctx, deviceID)

	o.metrics.ActiveSessions.Set(float64(o.store.Len()))
	o.logger.Info("Device session ended", zap.String("deviceID", deviceID))
}

// Shutdown disconnects every device, used on graceful server stop.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	o.mu.Lock()
	ids := make([]string, 0, len(o.devices))
	for id := range o.devices {
		ids = append(ids, id)
	}
	o.mu.Unlock()

	for _, id := range ids {
		o.OnDeviceDisconnect(ctx, id)
	}
}

// HandleToolCall dispatches a structured function call from the upstream
// agent. Invoked by the relay pump.
func (o *Orchestrator) HandleToolCall(deviceID string, call repositories.ToolCall) {
	ds := o.device(deviceID)
	if ds == nil {
		return
	}

	switch call.Name {
	case agent.ToolSelectEpisode:
		o.handleSelectEpisode(ds, call)
	case agent.ToolMarkVocabularyLearned:
		o.handleMarkVocabulary(ds, call)
	case agent.ToolCompleteEpisode:
		o.handleCompleteEpisode(ds, call)
	default:
		o.metrics.ToolCalls.WithLabelValues(call.Name, "unknown").Inc()
		o.logger.Warn("Unknown tool call",
			zap.String("deviceID", deviceID),
			zap.String("tool", call.Name))
	}
}

// HandleUpstreamClosed reacts to the current conversation's stream ending.
// A clean close tears the session down; a failure triggers a bounded
// reconnect in the same mode. Invoked by the relay pump.
func (o *Orchestrator) HandleUpstreamClosed(deviceID string, generation uint64, err error) {
	ds := o.device(deviceID)
	if ds == nil || ds.pump.Generation() != generation {
		return
	}

	class := classify(err)
	if class == ClassTransportClosed {
		o.logger.Info("Upstream conversation closed, ending session",
			zap.String("deviceID", deviceID))
		o.OnDeviceDisconnect(context.Background(), deviceID)
		ds.link.Close()
		return
	}

	o.metrics.UpstreamFailures.WithLabelValues(string(class)).Inc()
	o.logger.Warn("Upstream conversation failed, reconnecting",
		zap.String("deviceID", deviceID),
		zap.String("class", string(class)),
		zap.Error(err))

	if !ds.transitionMu.TryLock() {
		// A handoff is already replacing the conversation.
		return
	}
	go func() {
		defer ds.transitionMu.Unlock()
		o.reconnect(ds)
	}()
}

// handleSelectEpisode validates the selection and runs the handoff to the
// teaching phase. Only one transition runs per device at a time; a second
// trigger is dropped with a log.
func (o *Orchestrator) handleSelectEpisode(ds *deviceState, call repositories.ToolCall) {
	record, found := o.store.Get(ds.deviceID)
	if !found || record.Mode != entities.AgentModeChoosing {
		o.metrics.ToolCalls.WithLabelValues(call.Name, "wrong_mode").Inc()
		o.logger.Warn("select_episode outside the menu phase, dropped",
			zap.String("deviceID", ds.deviceID))
		return
	}

	var selection entities.EpisodeSelection
	if err := json.Unmarshal(call.Arguments, &selection); err != nil {
		o.rejectToolCall(ds, call, err)
		return
	}
	if err := selection.Validate(); err != nil {
		o.rejectToolCall(ds, call, err)
		return
	}

	if !ds.transitionMu.TryLock() {
		o.metrics.ToolCalls.WithLabelValues(call.Name, "dropped").Inc()
		o.logger.Warn("Transition already in progress, dropping selection",
			zap.String("deviceID", ds.deviceID),
			zap.String("episode", selection.Ref().Key()))
		return
	}
	go func() {
		defer ds.transitionMu.Unlock()
		o.transitionToLearning(ds, selection)
	}()
}

// rejectToolCall counts a malformed selection. The session stays in the menu
// phase; the device only hears about it after repeated failures.
func (o *Orchestrator) rejectToolCall(ds *deviceState, call repositories.ToolCall, err error) {
	o.metrics.ToolCalls.WithLabelValues(call.Name, "invalid").Inc()
	o.metrics.UpstreamFailures.WithLabelValues(string(ClassInvalidToolCall)).Inc()
	o.logger.Warn("Invalid tool call ignored",
		zap.String("deviceID", ds.deviceID),
		zap.String("tool", call.Name),
		zap.Error(err))

	ds.invalidMu.Lock()
	ds.invalidCalls++
	repeated := ds.invalidCalls >= invalidToolCallThreshold
	if repeated {
		ds.invalidCalls = 0
	}
	ds.invalidMu.Unlock()

	if repeated {
		ds.link.SendError(string(ClassInvalidToolCall), "I didn't catch that choice, let's try again")
	}
}

// transitionToLearning is the handoff: fetch the episode, tear down the
// choice conversation, open the teaching conversation, and flip the record's
// mode and episode together. The catalog is consulted first so a miss leaves
// the existing pairing untouched; once the swap begins, device frames are
// discarded until the new conversation is attached.
func (o *Orchestrator) transitionToLearning(ds *deviceState, selection entities.EpisodeSelection) {
	content, err := o.catalog.GetEpisode(ds.ctx, selection.Ref())
	if err != nil {
		if errors.Is(err, repositories.ErrEpisodeNotFound) {
			o.metrics.ToolCalls.WithLabelValues(agent.ToolSelectEpisode, "not_found").Inc()
			o.metrics.UpstreamFailures.WithLabelValues(string(ClassTopicNotFound)).Inc()
			ds.link.SendError(string(ClassTopicNotFound), fmt.Sprintf("episode %s does not exist", selection.Ref().Key()))
		} else {
			o.logger.Error("Catalog lookup failed",
				zap.String("deviceID", ds.deviceID),
				zap.String("episode", selection.Ref().Key()),
				zap.Error(err))
			ds.link.SendError(string(ClassTopicNotFound), "that episode is not available right now")
		}
		return
	}

	config, err := agent.EpisodeConfig(content, agent.DefaultUserInfo())
	if err != nil {
		o.logger.Error("Episode agent config rejected",
			zap.String("deviceID", ds.deviceID),
			zap.Error(err))
		ds.link.SendError(string(ClassTopicNotFound), "that episode is not available right now")
		return
	}

	ds.pump.BeginSwap()
	o.closeCurrent(ds)

	conv, err := o.openConversation(ds.ctx, ds.deviceID, config)
	if err != nil {
		o.escalateUnavailable(ds, err)
		return
	}
	if !ds.setConversation(conv) {
		// Device disconnected mid-handoff; don't leak the conversation.
		o.closeConversation(ds.deviceID, conv)
		ds.pump.CancelSwap()
		return
	}

	err = o.store.Update(ds.ctx, ds.deviceID, func(rec *entities.SessionRecord) error {
		rec.DetachConversation()
		if err := rec.BeginLearning(selection.Ref()); err != nil {
			return err
		}
		return rec.AttachConversation(conv.ID())
	})
	if err != nil {
		o.logger.Error("Failed to commit learning transition",
			zap.String("deviceID", ds.deviceID),
			zap.Error(err))
		if c := ds.takeConversation(); c != nil {
			o.closeConversation(ds.deviceID, c)
		}
		o.reopenChoice(ds)
		return
	}

	ds.pump.Attach(conv, AgentEpisode)
	if err := conv.StartResponse(ds.ctx); err != nil {
		o.logger.Warn("Failed to start episode response",
			zap.String("deviceID", ds.deviceID),
			zap.Error(err))
	}
	ds.link.SendAgentSwitched(AgentEpisode, content.Summary())

	o.metrics.Handoffs.Inc()
	o.metrics.ToolCalls.WithLabelValues(agent.ToolSelectEpisode, "ok").Inc()
	o.logger.Info("Agent handoff completed",
		zap.String("deviceID", ds.deviceID),
		zap.String("episode", selection.Ref().Key()),
		zap.String("conversationID", conv.ID()))
}

// handleMarkVocabulary records one learned word on the live session and
// acknowledges the tool call so the agent keeps going.
func (o *Orchestrator) handleMarkVocabulary(ds *deviceState, call repositories.ToolCall) {
	var payload struct {
		Word       string `json:"word"`
		Confidence string `json:"confidence"`
	}
	if err := json.Unmarshal(call.Arguments, &payload); err != nil || payload.Word == "" {
		o.metrics.ToolCalls.WithLabelValues(call.Name, "invalid").Inc()
		o.logger.Warn("Malformed vocabulary tool call",
			zap.String("deviceID", ds.deviceID),
			zap.Error(err))
		return
	}

	err := o.store.Update(ds.ctx, ds.deviceID, func(rec *entities.SessionRecord) error {
		if rec.Mode != entities.AgentModeLearning {
			return fmt.Errorf("device %s is not learning", ds.deviceID)
		}
		rec.MarkWordLearned(payload.Word)
		rec.InteractionCount++
		return nil
	})
	if err != nil {
		o.metrics.ToolCalls.WithLabelValues(call.Name, "wrong_mode").Inc()
		o.logger.Warn("Vocabulary tool call dropped", zap.Error(err))
		return
	}

	o.metrics.ToolCalls.WithLabelValues(call.Name, "ok").Inc()
	o.logger.Info("Vocabulary word learned",
		zap.String("deviceID", ds.deviceID),
		zap.String("word", payload.Word),
		zap.String("confidence", payload.Confidence))

	if conv := ds.currentConversation(); conv != nil {
		result := map[string]interface{}{"status": "recorded", "word": payload.Word}
		if err := conv.SendToolResult(ds.ctx, call.CallID, result); err != nil {
			o.logger.Warn("Failed to acknowledge tool call",
				zap.String("deviceID", ds.deviceID),
				zap.Error(err))
		}
	}
}

// handleCompleteEpisode ends the teaching phase: flushes the completed
// progress record, advances the user's pointer, and hands back to the choice
// agent for the next episode.
func (o *Orchestrator) handleCompleteEpisode(ds *deviceState, call repositories.ToolCall) {
	record, found := o.store.Get(ds.deviceID)
	if !found || record.Mode != entities.AgentModeLearning {
		o.metrics.ToolCalls.WithLabelValues(call.Name, "wrong_mode").Inc()
		o.logger.Warn("complete_episode outside the teaching phase, dropped",
			zap.String("deviceID", ds.deviceID))
		return
	}

	var payload struct {
		WordsLearned   []string `json:"words_learned"`
		CompletionTime int      `json:"completion_time"`
	}
	if err := json.Unmarshal(call.Arguments, &payload); err != nil {
		o.metrics.ToolCalls.WithLabelValues(call.Name, "invalid").Inc()
		o.logger.Warn("Malformed completion tool call",
			zap.String("deviceID", ds.deviceID),
			zap.Error(err))
		return
	}

	if !ds.transitionMu.TryLock() {
		o.metrics.ToolCalls.WithLabelValues(call.Name, "dropped").Inc()
		o.logger.Warn("Transition already in progress, dropping completion",
			zap.String("deviceID", ds.deviceID))
		return
	}
	go func() {
		defer ds.transitionMu.Unlock()
		o.transitionToChoosing(ds, payload.WordsLearned)
	}()
}

// transitionToChoosing is the reverse handoff after a completed episode.
func (o *Orchestrator) transitionToChoosing(ds *deviceState, wordsLearned []string) {
	err := o.store.Update(ds.ctx, ds.deviceID, func(rec *entities.SessionRecord) error {
		for _, word := range wordsLearned {
			rec.MarkWordLearned(word)
		}
		rec.InteractionCount++
		return nil
	})
	if err != nil {
		o.logger.Warn("Failed to merge completion words", zap.Error(err))
	}

	record, found := o.store.Get(ds.deviceID)
	if !found || record.Episode == nil {
		return
	}
	episode := *record.Episode

	ds.pump.BeginSwap()
	o.closeCurrent(ds)

	o.flushProgress(ds.ctx, record, true)

	// The record flushed as completed; flip the stored mode before anything
	// else so a teardown queued behind this transition sees the menu phase
	// and does not flush the same episode again.
	err = o.store.Update(ds.ctx, ds.deviceID, func(rec *entities.SessionRecord) error {
		rec.DetachConversation()
		rec.ReturnToChoosing()
		return nil
	})
	if err != nil {
		o.logger.Warn("Failed to commit menu transition", zap.Error(err))
	}

	ds.user.AdvanceProgress(episode, len(record.WordsLearned), int(record.Duration().Seconds()))
	uctx, ucancel := context.WithTimeout(context.WithoutCancel(ds.ctx), closeTimeout)
	if err := o.users.Update(uctx, ds.user); err != nil {
		o.logger.Warn("Failed to persist user progress",
			zap.String("userID", ds.user.ID),
			zap.Error(err))
	}
	ucancel()

	if o.device(ds.deviceID) != ds {
		// Device disconnected while the record was flushing; the handoff
		// stops here.
		ds.pump.CancelSwap()
		return
	}

	ds.link.SendEpisodeCompleted(episode, record.WordsLearned)
	o.metrics.ToolCalls.WithLabelValues(agent.ToolCompleteEpisode, "ok").Inc()
	o.logger.Info("Episode completed",
		zap.String("deviceID", ds.deviceID),
		zap.String("episode", episode.Key()),
		zap.Int("wordsLearned", len(record.WordsLearned)))

	o.reopenChoice(ds)
}

// reconnect reopens a conversation in the session's current mode with a
// prompt re-derived from the session record, not replayed from a buffer.
func (o *Orchestrator) reconnect(ds *deviceState) {
	record, found := o.store.Get(ds.deviceID)
	if !found {
		return
	}

	var (
		config repositories.ConversationConfig
		label  string
		err    error
	)
	if record.Mode == entities.AgentModeLearning && record.Episode != nil {
		label = AgentEpisode
		var content *entities.EpisodeContent
		content, err = o.catalog.GetEpisode(ds.ctx, *record.Episode)
		if err == nil {
			config, err = agent.EpisodeConfig(content, agent.DefaultUserInfo())
		}
	} else {
		label = AgentChoice
		config, _, err = o.choiceConfig(ds.ctx, ds.user)
	}
	if err != nil {
		o.escalateUnavailable(ds, err)
		return
	}

	if c := ds.takeConversation(); c != nil {
		o.closeConversation(ds.deviceID, c)
	}

	conv, err := o.openConversation(ds.ctx, ds.deviceID, config)
	if err != nil {
		o.escalateUnavailable(ds, err)
		return
	}
	if !ds.setConversation(conv) {
		o.closeConversation(ds.deviceID, conv)
		return
	}

	err = o.store.Update(ds.ctx, ds.deviceID, func(rec *entities.SessionRecord) error {
		rec.DetachConversation()
		return rec.AttachConversation(conv.ID())
	})
	if err != nil {
		o.logger.Warn("Failed to record reconnected conversation", zap.Error(err))
	}

	ds.pump.Attach(conv, label)
	o.metrics.UpstreamRetries.Inc()
	o.logger.Info("Upstream conversation reopened",
		zap.String("deviceID", ds.deviceID),
		zap.String("agent", label),
		zap.String("conversationID", conv.ID()))
}

// reopenChoice restores the menu phase after a failed or completed episode.
func (o *Orchestrator) reopenChoice(ds *deviceState) {
	config, _, err := o.choiceConfig(ds.ctx, ds.user)
	if err != nil {
		o.escalateUnavailable(ds, err)
		return
	}

	conv, err := o.openConversation(ds.ctx, ds.deviceID, config)
	if err != nil {
		o.escalateUnavailable(ds, err)
		return
	}
	if !ds.setConversation(conv) {
		o.closeConversation(ds.deviceID, conv)
		return
	}

	err = o.store.Update(ds.ctx, ds.deviceID, func(rec *entities.SessionRecord) error {
		rec.DetachConversation()
		rec.ReturnToChoosing()
		return rec.AttachConversation(conv.ID())
	})
	if err != nil {
		o.logger.Warn("Failed to commit menu transition", zap.Error(err))
	}

	ds.pump.Attach(conv, AgentChoice)
	if err := conv.StartResponse(ds.ctx); err != nil {
		o.logger.Warn("Failed to start choice response",
			zap.String("deviceID", ds.deviceID),
			zap.Error(err))
	}
}

// escalateUnavailable is the retry-budget-exhausted path: the device gets a
// structured error and is disconnected so it can reconnect cleanly.
func (o *Orchestrator) escalateUnavailable(ds *deviceState, err error) {
	if ds.ctx.Err() != nil {
		// The device already disconnected; nothing to report.
		return
	}
	o.metrics.UpstreamFailures.WithLabelValues(string(ClassUpstreamUnavailable)).Inc()
	o.logger.Error("Upstream conversation unavailable",
		zap.String("deviceID", ds.deviceID),
		zap.Error(err))
	ds.link.SendError(string(ClassUpstreamUnavailable), "the speech service is not reachable, please reconnect")

	// Callers hold transitionMu, which the teardown also takes; it runs
	// once the failed transition has released the lock.
	go func() {
		o.OnDeviceDisconnect(context.Background(), ds.deviceID)
		ds.link.Close()
	}()
}

// flushProgress appends the durable progress record for a session that
// reached the teaching phase.
func (o *Orchestrator) flushProgress(ctx context.Context, record *entities.SessionRecord, completed bool) {
	if record.Episode == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer cancel()

	err := o.progress.Record(pctx, &entities.ProgressRecord{
		UserID:           record.UserID,
		Episode:          *record.Episode,
		Completed:        completed,
		DurationSeconds:  int(record.Duration().Seconds()),
		InteractionCount: record.InteractionCount,
		WordsLearned:     record.WordsLearned,
		RecordedAt:       time.Now(),
	})
	if err != nil {
		o.logger.Error("Failed to write progress record",
			zap.String("userID", record.UserID),
			zap.String("episode", record.Episode.Key()),
			zap.Error(err))
	}
}

// choiceConfig builds the menu-phase configuration offering the user's next
// episode. A catalog miss for the pointer falls back to a minimal prompt so
// a user who outran the catalog still gets a conversation. The offered
// content comes back alongside the config for the welcome message.
func (o *Orchestrator) choiceConfig(ctx context.Context, user *entities.User) (repositories.ConversationConfig, *entities.EpisodeContent, error) {
	next := user.NextEpisode()
	content, err := o.catalog.GetEpisode(ctx, next)
	if err != nil {
		if !errors.Is(err, repositories.ErrEpisodeNotFound) {
			return repositories.ConversationConfig{}, nil, err
		}
		content = &entities.EpisodeContent{EpisodeRef: next, Title: "a surprise adventure"}
	}
	config, err := agent.ChoiceConfig(content, agent.DefaultUserInfo())
	if err != nil {
		return repositories.ConversationConfig{}, nil, err
	}
	return config, content, nil
}

// openConversation opens an upstream conversation within the retry budget.
func (o *Orchestrator) openConversation(ctx context.Context, deviceID string, config repositories.ConversationConfig) (repositories.Conversation, error) {
	var conv repositories.Conversation
	err := withRetry(ctx, o.retry, func(ctx context.Context) error {
		octx, cancel := context.WithTimeout(ctx, openTimeout)
		defer cancel()
		opened, openErr := o.conversations.Open(octx, deviceID, config)
		if openErr != nil {
			return openErr
		}
		conv = opened
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// closeCurrent closes the device's conversation best-effort; handoffs go on
// even when the old conversation refuses to die.
func (o *Orchestrator) closeCurrent(ds *deviceState) {
	if conv := ds.takeConversation(); conv != nil {
		o.closeConversation(ds.deviceID, conv)
	}
}

// closeConversation closes one conversation within a bounded timeout.
// Failures are logged, never fatal.
func (o *Orchestrator) closeConversation(deviceID string, conv repositories.Conversation) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := conv.Close(ctx); err != nil {
		o.logger.Warn("Failed to close upstream conversation",
			zap.String("deviceID", deviceID),
			zap.Error(err))
	}
}

func (o *Orchestrator) device(deviceID string) *deviceState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.devices[deviceID]
}

// SessionStatus is the per-device view served by the status surface.
type SessionStatus struct {
	Record *entities.SessionRecord `json:"session"`
	Relay  PumpStats               `json:"relay"`
}

// Sessions snapshots every live device for the status surface.
func (o *Orchestrator) Sessions() []SessionStatus {
	records := o.store.List()
	statuses := make([]SessionStatus, 0, len(records))
	for _, record := range records {
		status := SessionStatus{Record: record}
		if ds := o.device(record.DeviceID); ds != nil {
			status.Relay = ds.pump.Stats()
		}
		statuses = append(statuses, status)
	}
	return statuses
}

// Session snapshots one device.
func (o *Orchestrator) Session(deviceID string) (SessionStatus, bool) {
	record, found := o.store.Get(deviceID)
	if !found {
		return SessionStatus{}, false
	}
	status := SessionStatus{Record: record}
	if ds := o.device(deviceID); ds != nil {
		status.Relay = ds.pump.Stats()
	}
	return status, true
}

func (ds *deviceState) setConversation(conv repositories.Conversation) bool {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.closed {
		return false
	}
	ds.conv = conv
	return true
}

func (ds *deviceState) takeConversation() repositories.Conversation {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	conv := ds.conv
	ds.conv = nil
	return conv
}

func (ds *deviceState) currentConversation() repositories.Conversation {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.conv
}

// shutdown flips the state closed and surrenders the conversation so no
// later setConversation can race a teardown.
func (ds *deviceState) shutdown() repositories.Conversation {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.closed = true
	conv := ds.conv
	ds.conv = nil
	return conv
}
