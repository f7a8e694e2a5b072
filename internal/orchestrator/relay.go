package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/storyteller/server/domain/entities"
	"github.com/storyteller/server/domain/repositories"
)

// A send blocking longer than this counts as backpressure on the status
// surface.
const backpressureThreshold = 100 * time.Millisecond

// DeviceLink is the server-to-device half of the device transport. The
// websocket client implements it; tests substitute a recorder.
//
// SendAudio blocks while the device's outbound buffer is saturated. The pump
// relies on that: blocking here suspends reading from the upstream side,
// which is the backpressure policy.
type DeviceLink interface {
	SendConnected(userID, message string) error
	SendAudio(audio []byte, agent string) error
	SendAgentSwitched(agent string, episode entities.EpisodeSummary) error
	SendEpisodeCompleted(episode entities.EpisodeRef, wordsLearned []string) error
	SendError(code, message string) error
	Close() error
}

// EventSink receives the non-audio events the pump cannot handle itself.
// The orchestrator implements it.
type EventSink interface {
	HandleToolCall(deviceID string, call repositories.ToolCall)
	// HandleUpstreamClosed reports that the conversation attached at the
	// given generation ended. err is nil on a clean close.
	HandleUpstreamClosed(deviceID string, generation uint64, err error)
}

// PumpStats is a snapshot of one pairing's relay counters.
type PumpStats struct {
	Agent            string `json:"agent"`
	FramesToUpstream uint64 `json:"frames_to_upstream"`
	FramesToDevice   uint64 `json:"frames_to_device"`
	BytesToUpstream  uint64 `json:"bytes_to_upstream"`
	BytesToDevice    uint64 `json:"bytes_to_device"`
	FramesDiscarded  uint64 `json:"frames_discarded"`
}

// RelayPump moves audio between one device and whichever upstream
// conversation is currently paired with it. The pairing is swappable at any
// time by the orchestrator; frames bound for the old conversation after a
// swap begins are discarded, frames already headed to the device are not.
type RelayPump struct {
	deviceID string
	link     DeviceLink
	sink     EventSink
	metrics  *Metrics
	logger   *zap.Logger

	mu         sync.RWMutex
	conv       repositories.Conversation
	agent      string
	generation uint64
	swapping   bool

	closed    chan struct{}
	closeOnce sync.Once

	framesToUpstream atomic.Uint64
	framesToDevice   atomic.Uint64
	bytesToUpstream  atomic.Uint64
	bytesToDevice    atomic.Uint64
	discarded        atomic.Uint64
}

// NewRelayPump creates the pump for one device. No conversation is attached
// yet; frames are discarded until Attach.
func NewRelayPump(deviceID string, link DeviceLink, sink EventSink, metrics *Metrics, logger *zap.Logger) *RelayPump {
	return &RelayPump{
		deviceID: deviceID,
		link:     link,
		sink:     sink,
		metrics:  metrics,
		logger:   logger,
		closed:   make(chan struct{}),
	}
}

// Attach pairs the pump with a conversation and starts draining its events
// toward the device. Returns the generation identifying this pairing.
func (p *RelayPump) Attach(conv repositories.Conversation, agent string) uint64 {
	p.mu.Lock()
	p.generation++
	generation := p.generation
	p.conv = conv
	p.agent = agent
	p.swapping = false
	p.mu.Unlock()

	go p.drainEvents(conv, agent, generation)
	return generation
}

// BeginSwap marks the pairing as being replaced. Device frames arriving from
// now on are discarded instead of reaching the conversation being torn down.
func (p *RelayPump) BeginSwap() {
	p.mu.Lock()
	p.swapping = true
	p.mu.Unlock()
}

// CancelSwap reverts BeginSwap without attaching a new conversation, used
// when a handoff aborts and the existing pairing stays active.
func (p *RelayPump) CancelSwap() {
	p.mu.Lock()
	p.swapping = false
	p.mu.Unlock()
}

// Generation returns the identifier of the current pairing.
func (p *RelayPump) Generation() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.generation
}

// Agent returns the label of the currently paired agent.
func (p *RelayPump) Agent() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.agent
}

// ForwardToUpstream relays one device audio frame to the paired
// conversation. Frames arriving mid-swap or before any pairing exists are
// discarded, which is the handoff policy, not an error.
func (p *RelayPump) ForwardToUpstream(ctx context.Context, frame []byte) error {
	p.mu.RLock()
	conv := p.conv
	swapping := p.swapping
	p.mu.RUnlock()

	if conv == nil || swapping || p.isClosed() {
		p.discarded.Add(1)
		p.metrics.FramesDiscarded.Inc()
		return nil
	}

	start := time.Now()
	if err := conv.SendAudio(ctx, frame); err != nil {
		return err
	}
	p.observeBackpressure("to_upstream", time.Since(start))

	p.framesToUpstream.Add(1)
	p.bytesToUpstream.Add(uint64(len(frame)))
	p.metrics.FramesRelayed.WithLabelValues("to_upstream").Inc()
	p.metrics.BytesRelayed.WithLabelValues("to_upstream").Add(float64(len(frame)))
	return nil
}

// Stats returns a snapshot of the relay counters for the status surface.
func (p *RelayPump) Stats() PumpStats {
	return PumpStats{
		Agent:            p.Agent(),
		FramesToUpstream: p.framesToUpstream.Load(),
		FramesToDevice:   p.framesToDevice.Load(),
		BytesToUpstream:  p.bytesToUpstream.Load(),
		BytesToDevice:    p.bytesToDevice.Load(),
		FramesDiscarded:  p.discarded.Load(),
	}
}

// Close stops the pump. The attached conversation is owned and closed by the
// orchestrator, not here. Idempotent.
func (p *RelayPump) Close() {
	p.closeOnce.Do(func() {
		close(p.closed)
	})
}

func (p *RelayPump) isClosed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

// drainEvents pumps one conversation's events toward the device until the
// stream ends. Runs once per Attach; a superseded pairing keeps draining its
// old conversation until teardown closes the event channel.
func (p *RelayPump) drainEvents(conv repositories.Conversation, agent string, generation uint64) {
	sawClosed := false
	for event := range conv.Events() {
		if p.isClosed() {
			return
		}

		switch event.Type {
		case repositories.EventAudioDelta:
			p.forwardToDevice(event.Audio, agent)

		case repositories.EventAudioDone:
			// One response fully played out; nothing to forward.

		case repositories.EventTranscript:
			p.logger.Debug("User transcript",
				zap.String("deviceID", p.deviceID),
				zap.String("transcript", event.Transcript))

		case repositories.EventToolCall:
			if event.ToolCall == nil {
				continue
			}
			if p.isStale(generation) {
				p.logger.Warn("Dropping tool call from superseded conversation",
					zap.String("deviceID", p.deviceID),
					zap.Uint64("generation", generation))
				continue
			}
			p.sink.HandleToolCall(p.deviceID, *event.ToolCall)

		case repositories.EventError:
			p.logger.Warn("Upstream conversation error event",
				zap.String("deviceID", p.deviceID),
				zap.Error(event.Err))

		case repositories.EventClosed:
			sawClosed = true
			p.notifyClosed(generation, event.Err)
		}
	}

	if !sawClosed {
		p.notifyClosed(generation, nil)
	}
}

func (p *RelayPump) forwardToDevice(audio []byte, agent string) {
	start := time.Now()
	if err := p.link.SendAudio(audio, agent); err != nil {
		p.logger.Warn("Failed to forward audio to device",
			zap.String("deviceID", p.deviceID),
			zap.Error(err))
		return
	}
	p.observeBackpressure("to_device", time.Since(start))

	p.framesToDevice.Add(1)
	p.bytesToDevice.Add(uint64(len(audio)))
	p.metrics.FramesRelayed.WithLabelValues("to_device").Inc()
	p.metrics.BytesRelayed.WithLabelValues("to_device").Add(float64(len(audio)))
}

func (p *RelayPump) isStale(generation uint64) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return generation != p.generation
}

// notifyClosed escalates a stream end for the pairing that is still current.
// A superseded pairing closing, or the current one closing mid-swap, is the
// expected tail of a handoff and stays quiet.
func (p *RelayPump) notifyClosed(generation uint64, err error) {
	if p.isClosed() {
		return
	}
	p.mu.RLock()
	suppressed := generation != p.generation || p.swapping
	p.mu.RUnlock()
	if suppressed {
		return
	}
	p.sink.HandleUpstreamClosed(p.deviceID, generation, err)
}

func (p *RelayPump) observeBackpressure(direction string, elapsed time.Duration) {
	if elapsed > backpressureThreshold {
		p.metrics.Backpressure.WithLabelValues(direction).Set(1)
	} else {
		p.metrics.Backpressure.WithLabelValues(direction).Set(0)
	}
}
