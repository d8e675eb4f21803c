// Package client drives one participant of a two-party video chat: it
// registers with the matching service, and for every match acquires the
// camera, joins the signaling relay, and brings up a peer connection whose
// role the matching service picked.
//
// All orchestration state lives on a single loop goroutine (Run). Sockets,
// the media prompt, peer callbacks and timers report back by posting
// closures tagged with the epoch they were issued under; a closure whose
// epoch is no longer current is discarded.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mossy-p/webrtc-roulette/internal/models"
)

var (
	ErrEmptyName        = errors.New("name must not be empty")
	ErrIdentityMismatch = errors.New("already registered under another name")
)

const (
	taskBuffer      = 256
	subscriberDepth = 32
	skipPrompt      = "Are you sure you want to skip this person?"
)

// Config tunes the orchestrator.
type Config struct {
	// RedialEnabled re-enters the matching queue after losing a peer.
	RedialEnabled bool
	RedialDelay   time.Duration
	// LazyResponderMedia makes the responder acquire the camera when the
	// first offer arrives instead of at match time.
	LazyResponderMedia bool
}

// Deps are the collaborators the orchestrator drives.
type Deps struct {
	Media  MediaSource
	Peers  PeerFactory
	Match  func(MatchEventHandler) MatchService
	Signal func(SignalEventHandler) SignalService

	// Optional.
	Local    Sink
	Remote   Sink
	Notifier Notifier
	Confirm  func(prompt string) bool
}

type task struct {
	tagged bool
	epoch  uint64
	fn     func()
	// stale runs instead of fn when the epoch moved on.
	stale func()
}

// Orchestrator is the connection state machine.
type Orchestrator struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger

	match MatchService
	lease mediaLease

	tasks     chan task
	quit      chan struct{}
	stopping  chan struct{}
	done      chan struct{}
	quitOnce  sync.Once
	ctx       context.Context
	cancelCtx context.CancelFunc

	// postMu orders posts against the final drain. Once stopped is set no
	// task enters the queue; its stale path runs in the caller instead.
	postMu  sync.RWMutex
	stopped bool

	// Loop-owned.
	identity       models.Identity
	epoch          uint64
	epochCtx       context.Context
	epochCancel    context.CancelFunc
	assignment     *models.MatchAssignment
	stream         Stream
	acquiring      bool
	localAttached  bool
	remoteAttached bool
	signal         SignalService
	session        *PeerSession
	pending        []json.RawMessage
	verified       bool
	redial         *time.Timer
	status         Status
	reason         string

	stateMu sync.RWMutex
	state   State

	subMu   sync.Mutex
	subs    map[int]chan State
	nextSub int
}

// New builds an orchestrator. Run must be called to start it.
func New(cfg Config, deps Deps, logger *slog.Logger) *Orchestrator {
	if deps.Local == nil {
		deps.Local = nopSink{}
	}
	if deps.Remote == nil {
		deps.Remote = nopSink{}
	}
	if deps.Notifier == nil {
		deps.Notifier = NotifierFunc(func(Notification) {})
	}
	if deps.Confirm == nil {
		deps.Confirm = func(string) bool { return true }
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:       cfg,
		deps:      deps,
		logger:    logger.With("component", "orchestrator"),
		lease:     newMediaLease(),
		tasks:     make(chan task, taskBuffer),
		quit:      make(chan struct{}),
		stopping:  make(chan struct{}),
		done:      make(chan struct{}),
		ctx:       ctx,
		cancelCtx: cancel,
		status:    StatusIdle,
		state:     State{Status: StatusIdle},
		subs:      make(map[int]chan State),
	}
	o.epochCtx, o.epochCancel = context.WithCancel(ctx)
	o.match = deps.Match(func(ev MatchEvent) {
		o.post(task{fn: func() { o.onMatchEvent(ev) }})
	})
	return o
}

// Run processes events until ctx is done or Close is called, then releases
// every resource.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer func() {
		o.shutdown()
		close(o.stopping)
		o.postMu.Lock()
		o.stopped = true
		o.postMu.Unlock()
		o.drain()
		close(o.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-o.quit:
			return nil
		case t := <-o.tasks:
			o.exec(t)
		}
	}
}

// Close stops Run.
func (o *Orchestrator) Close() {
	o.quitOnce.Do(func() { close(o.quit) })
}

// Done is closed once Run has returned and released everything.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.done
}

// Register joins the matching queue as name. The identity is fixed by the
// first call.
func (o *Orchestrator) Register(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}
	if current := o.State().Identity; current != "" && current != name {
		return fmt.Errorf("%w: %s", ErrIdentityMismatch, current)
	}
	o.post(task{fn: func() { o.register(name) }})
	return nil
}

// Skip ends the current match and looks for the next one, after the user
// confirms. It reports whether the skip went ahead.
func (o *Orchestrator) Skip() bool {
	if !o.deps.Confirm(skipPrompt) {
		return false
	}
	o.post(task{fn: o.findNext})
	return true
}

// FindNext looks for the next match without asking.
func (o *Orchestrator) FindNext() {
	o.post(task{fn: o.findNext})
}

// State returns the latest snapshot.
func (o *Orchestrator) State() State {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	return o.state
}

// Subscribe returns a channel of state snapshots. A slow reader loses the
// oldest snapshots, never the latest.
func (o *Orchestrator) Subscribe() (<-chan State, func()) {
	ch := make(chan State, subscriberDepth)
	o.subMu.Lock()
	id := o.nextSub
	o.nextSub++
	o.subs[id] = ch
	o.subMu.Unlock()

	return ch, func() {
		o.subMu.Lock()
		delete(o.subs, id)
		o.subMu.Unlock()
	}
}

func (o *Orchestrator) post(t task) {
	o.postMu.RLock()
	defer o.postMu.RUnlock()
	if !o.stopped {
		select {
		case o.tasks <- t:
			return
		case <-o.stopping:
		}
	}
	if t.stale != nil {
		t.stale()
	}
}

// postEpoch posts fn for epoch; stale runs instead if the epoch moved on.
func (o *Orchestrator) postEpoch(epoch uint64, fn, stale func()) {
	o.post(task{tagged: true, epoch: epoch, fn: fn, stale: stale})
}

func (o *Orchestrator) exec(t task) {
	if t.tagged && t.epoch != o.epoch {
		o.logger.Debug("discarding stale event", "event_epoch", t.epoch, "epoch", o.epoch)
		if t.stale != nil {
			t.stale()
		}
		return
	}
	t.fn()
}

func (o *Orchestrator) shutdown() {
	o.teardown()
	if err := o.match.Close(); err != nil {
		o.logger.Debug("closing matching channel", "error", err)
	}
	o.cancelCtx()
	o.drain()
}

// drain runs the stale path of queued tasks; they belong to a dead
// orchestrator.
func (o *Orchestrator) drain() {
	for {
		select {
		case t := <-o.tasks:
			if t.stale != nil {
				t.stale()
			}
		default:
			return
		}
	}
}

func (o *Orchestrator) register(name string) {
	if o.identity.Name != "" && o.identity.Name != name {
		o.logger.Warn("ignoring registration under a second name", "name", name, "identity", o.identity.Name)
		return
	}
	switch o.status {
	case StatusIdle, StatusRegisterFailed, StatusMatchingServiceDisconnected:
	default:
		o.logger.Warn("ignoring registration", "status", o.status)
		return
	}
	if o.identity.Name == "" {
		o.identity = models.Identity{Name: name}
		o.logger = o.logger.With("identity", name)
		o.publish()
	}
	o.requestRegistration(queuedNote)
}

// queuedNote and searchingNote are shown once the matching service accepts
// a first registration or a search for the next match.
var (
	queuedNote    = Notification{Title: "You're in the queue!", Description: "Looking for someone to match with..."}
	searchingNote = Notification{Title: "Searching for match", Description: "Looking for someone to connect with..."}
)

func (o *Orchestrator) requestRegistration(note Notification) {
	id := o.identity
	epoch := o.epoch
	ctx := o.epochCtx
	go func() {
		err := o.match.Connect(ctx, id)
		if err == nil {
			err = o.match.Register(ctx, id)
		}
		o.postEpoch(epoch, func() { o.onRegistered(err, note) }, nil)
	}()
}

func (o *Orchestrator) onRegistered(err error, note Notification) {
	if err != nil {
		o.logger.Error("register failed", "error", err)
		o.setStatus(StatusRegisterFailed, err.Error())
		o.notify("Connection failed", "Could not connect to matching service.", true)
		return
	}
	o.setStatus(StatusQueued, "")
	o.notify(note.Title, note.Description, false)
}

func (o *Orchestrator) findNext() {
	if o.identity.Name == "" {
		o.logger.Warn("find next before registration")
		return
	}
	o.teardown()
	o.setStatus(StatusSearching, "")
	o.requestRegistration(searchingNote)
}

func (o *Orchestrator) onMatchEvent(ev MatchEvent) {
	switch ev.Kind {
	case MatchMatched:
		o.onMatched(ev.Assignment)
	case MatchDisconnected:
		o.stopRedial()
		reason := ""
		if ev.Err != nil {
			reason = ev.Err.Error()
		}
		o.setStatus(StatusMatchingServiceDisconnected, reason)
		o.notify("Matching service disconnected", "Lost the connection to the matching service.", true)
	}
}

func (o *Orchestrator) onMatched(a models.MatchAssignment) {
	if o.identity.Name == "" {
		o.logger.Warn("match before registration", "room", a.RoomCode)
		return
	}
	if o.status != StatusQueued && o.status != StatusSearching {
		o.logger.Info("match replaces current state", "status", o.status, "room", a.RoomCode)
	}

	o.teardown()
	o.assignment = &a
	o.setStatus(StatusMatched, "")
	o.logger.Info("matched", "room", a.RoomCode, "peer", a.PeerName, "role", a.Role, "epoch", o.epoch)

	if a.Role == models.RoleResponder && o.cfg.LazyResponderMedia {
		o.connectSignal()
		return
	}
	o.acquireMedia()
}

func (o *Orchestrator) acquireMedia() {
	if o.acquiring || o.stream != nil {
		return
	}
	o.acquiring = true
	epoch := o.epoch
	ctx := o.epochCtx

	go func() {
		if err := o.lease.acquire(ctx); err != nil {
			return
		}
		stream, err := o.deps.Media.Acquire(ctx)
		if err != nil {
			o.lease.release()
			o.postEpoch(epoch, func() { o.onMedia(nil, err) }, nil)
			return
		}
		o.postEpoch(epoch, func() { o.onMedia(stream, nil) }, func() {
			o.deps.Media.Release(stream)
			o.lease.release()
		})
	}()
}

func (o *Orchestrator) onMedia(stream Stream, err error) {
	o.acquiring = false
	if err != nil {
		o.logger.Error("media acquisition failed", "error", err)
		o.teardown()
		o.setStatus(StatusMediaError, err.Error())
		o.notify("Camera/Mic access denied", "Please allow access to your camera and microphone", true)
		return
	}

	o.stream = stream
	o.deps.Local.Attach(stream)
	o.localAttached = true
	o.logger.Debug("media acquired", "stream", stream.ID())

	if o.signal == nil {
		o.connectSignal()
		return
	}
	if len(o.pending) > 0 {
		o.startResponder()
	}
}

func (o *Orchestrator) connectSignal() {
	epoch := o.epoch
	ctx := o.epochCtx
	id := o.identity

	sc := o.deps.Signal(func(ev SignalEvent) {
		o.postEpoch(epoch, func() { o.onSignalEvent(ev) }, nil)
	})
	o.signal = sc

	go func() {
		err := sc.Connect(ctx, id)
		o.postEpoch(epoch, func() { o.onSignalOpen(err) }, nil)
	}()
}

func (o *Orchestrator) onSignalOpen(err error) {
	a := o.assignment
	if err == nil {
		err = o.signal.Join(a.RoomCode, a.PeerName, a.Role)
	}
	if err != nil {
		o.logger.Error("signaling unavailable", "error", err)
		o.teardown()
		o.setStatus(StatusSignalingError, err.Error())
		o.notify("Signaling failed", "Could not reach the signaling server.", true)
		return
	}
	o.logger.Debug("joined room", "room", a.RoomCode, "target", a.PeerName)

	if a.Role == models.RoleInitiator {
		o.startInitiator()
	}
}

func (o *Orchestrator) startInitiator() {
	session, err := newPeerSession(o.epoch, models.RoleInitiator, o.deps.Peers, o.stream, o.peerEvents(o.epoch))
	if err != nil {
		o.failPeer(err)
		return
	}
	o.session = session
}

func (o *Orchestrator) startResponder() {
	session, err := newPeerSession(o.epoch, models.RoleResponder, o.deps.Peers, o.stream, o.peerEvents(o.epoch))
	if err != nil {
		o.failPeer(err)
		return
	}
	o.session = session

	pending := o.pending
	o.pending = nil
	for _, payload := range pending {
		if err := session.apply(payload); err != nil {
			o.logger.Warn("failed to apply remote signal", "error", err)
		}
	}
}

func (o *Orchestrator) peerEvents(epoch uint64) PeerEvents {
	return PeerEvents{
		OnSignal: func(payload json.RawMessage) {
			o.postEpoch(epoch, func() { o.onLocalSignal(payload) }, nil)
		},
		OnStream: func(remote Stream) {
			o.postEpoch(epoch, func() { o.onRemoteStream(remote) }, nil)
		},
		OnConnect: func() {
			o.postEpoch(epoch, o.onPeerConnect, nil)
		},
		OnError: func(err error) {
			o.postEpoch(epoch, func() { o.onPeerError(err) }, nil)
		},
		OnClose: func() {
			o.postEpoch(epoch, o.onPeerClose, nil)
		},
	}
}

func (o *Orchestrator) onSignalEvent(ev SignalEvent) {
	switch ev.Kind {
	case SignalVerified:
		o.verified = true
		if o.status == StatusMatched {
			o.setStatus(StatusVerified, "")
		} else {
			o.publish()
		}
	case SignalPayload:
		o.onRemoteSignal(ev)
	case SignalPeerDisconnected:
		o.logger.Info("relay reports peer left", "peer", ev.From)
		o.peerLost()
	case SignalError:
		o.logger.Error("signaling error", "message", ev.Message)
		o.setStatus(StatusSignalingError, ev.Message)
		o.notify("Signaling error", ev.Message, true)
	case SignalClosed:
		if o.status == StatusConnected {
			o.logger.Warn("relay connection lost during call", "error", ev.Err)
			return
		}
		reason := "signaling connection closed"
		if ev.Err != nil {
			reason += ": " + ev.Err.Error()
		}
		o.teardown()
		o.setStatus(StatusSignalingError, reason)
		o.notify("Signaling error", reason, true)
	}
}

func (o *Orchestrator) onRemoteSignal(ev SignalEvent) {
	a := o.assignment
	if a == nil {
		o.logger.Warn("signal without a match", "from", ev.From)
		return
	}
	if ev.RoomCode != "" && ev.RoomCode != a.RoomCode {
		o.logger.Warn("signal for another room", "room", ev.RoomCode, "current", a.RoomCode)
		return
	}

	if o.session != nil {
		if err := o.session.apply(ev.Payload); err != nil {
			o.logger.Warn("failed to apply remote signal", "error", err)
		}
		return
	}
	if a.Role == models.RoleInitiator {
		o.logger.Warn("signal before the initiator session exists", "from", ev.From)
		return
	}

	o.pending = append(o.pending, ev.Payload)
	if o.stream == nil {
		o.acquireMedia()
		return
	}
	o.startResponder()
}

func (o *Orchestrator) onLocalSignal(payload json.RawMessage) {
	if o.session == nil || o.signal == nil || o.assignment == nil {
		return
	}
	o.session.localSignal()
	o.signal.Send(models.NewSignalEnvelope(o.assignment.RoomCode, o.assignment.PeerName, o.identity.Name, payload))
}

func (o *Orchestrator) onRemoteStream(remote Stream) {
	if o.session == nil || !o.session.setRemote(remote) {
		return
	}
	o.deps.Remote.Attach(remote)
	o.remoteAttached = true
	o.logger.Debug("remote stream", "stream", remote.ID())
}

func (o *Orchestrator) onPeerConnect() {
	if o.session == nil || !o.session.connected() {
		return
	}
	o.setStatus(StatusConnected, "")
	o.notify("Connected!", "You are now chatting with "+o.assignment.PeerName, false)
}

func (o *Orchestrator) onPeerError(err error) {
	if o.session == nil || !o.session.errored(err) {
		return
	}
	o.failPeer(err)
}

func (o *Orchestrator) failPeer(err error) {
	o.logger.Error("peer error", "error", err)
	o.teardown()
	o.setStatus(StatusPeerError, err.Error())
	o.notify("Connection error", err.Error(), true)
	o.scheduleRedial()
}

func (o *Orchestrator) onPeerClose() {
	if o.session == nil || !o.session.closed() {
		return
	}
	o.logger.Info("peer connection closed")
	o.peerLost()
}

func (o *Orchestrator) peerLost() {
	o.teardown()
	o.setStatus(StatusPeerDisconnected, "")
	o.notify("Peer disconnected", "The other person has left the chat", true)
	o.scheduleRedial()
}

func (o *Orchestrator) scheduleRedial() {
	if !o.cfg.RedialEnabled || o.identity.Name == "" {
		return
	}
	epoch := o.epoch
	o.redial = time.AfterFunc(o.cfg.RedialDelay, func() {
		o.postEpoch(epoch, o.findNext, nil)
	})
}

func (o *Orchestrator) stopRedial() {
	if o.redial != nil {
		o.redial.Stop()
		o.redial = nil
	}
}

// teardown releases everything the current epoch holds and starts a new
// epoch. Calling it with nothing held only advances the epoch. Callers
// publish the resulting state.
func (o *Orchestrator) teardown() {
	o.stopRedial()

	if o.session != nil {
		if err := o.session.destroy(); err != nil {
			o.logger.Warn("peer destroy", "error", err)
		}
		o.session = nil
	}
	if o.stream != nil {
		o.deps.Media.Release(o.stream)
		o.stream = nil
		o.lease.release()
	}
	if o.localAttached {
		o.deps.Local.Detach()
		o.localAttached = false
	}
	if o.remoteAttached {
		o.deps.Remote.Detach()
		o.remoteAttached = false
	}
	if o.signal != nil {
		if err := o.signal.Close(); err != nil {
			o.logger.Debug("signaling close", "error", err)
		}
		o.signal = nil
	}

	o.assignment = nil
	o.verified = false
	o.pending = nil
	o.acquiring = false

	o.epochCancel()
	o.epoch++
	o.epochCtx, o.epochCancel = context.WithCancel(o.ctx)
}

func (o *Orchestrator) setStatus(status Status, reason string) {
	o.status = status
	o.reason = reason
	o.publish()
}

func (o *Orchestrator) publish() {
	s := State{
		Status:   o.status,
		Reason:   o.reason,
		Identity: o.identity.Name,
		Verified: o.verified,
		Epoch:    o.epoch,
	}
	if a := o.assignment; a != nil {
		s.PeerName = a.PeerName
		s.RoomCode = a.RoomCode
		s.Role = a.Role
	}

	o.stateMu.Lock()
	changed := s != o.state
	o.state = s
	o.stateMu.Unlock()
	if !changed {
		return
	}

	o.subMu.Lock()
	defer o.subMu.Unlock()
	for _, ch := range o.subs {
		select {
		case ch <- s:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- s:
			default:
			}
		}
	}
}

func (o *Orchestrator) notify(title, description string, destructive bool) {
	o.deps.Notifier.Notify(newNotification(title, description, destructive))
}
