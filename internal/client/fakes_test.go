package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/mossy-p/webrtc-roulette/internal/models"
)

// fakeStream is a local or remote stream.
type fakeStream struct{ id string }

func (s *fakeStream) ID() string { return s.id }

// fakeMedia hands out streams and counts how many are live at once.
type fakeMedia struct {
	mu       sync.Mutex
	err      error
	gate     chan struct{}
	// stubborn waits out the gate even after ctx is cancelled, like a
	// permission prompt that cannot be withdrawn.
	stubborn bool
	entered  int
	next     int
	live     map[string]bool
	maxLive  int
	acquired int
	released map[string]int
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{live: map[string]bool{}, released: map[string]int{}}
}

func (m *fakeMedia) Acquire(ctx context.Context) (Stream, error) {
	m.mu.Lock()
	m.entered++
	gate, stubborn := m.gate, m.stubborn
	m.mu.Unlock()
	if gate != nil && stubborn {
		<-gate
	} else if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.next++
	s := &fakeStream{id: fmt.Sprintf("local-%d", m.next)}
	m.live[s.id] = true
	m.acquired++
	if len(m.live) > m.maxLive {
		m.maxLive = len(m.live)
	}
	return s, nil
}

func (m *fakeMedia) Release(s Stream) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.live, s.ID())
	m.released[s.ID()]++
}

func (m *fakeMedia) block(stubborn bool) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gate = make(chan struct{})
	m.stubborn = stubborn
	return m.gate
}

func (m *fakeMedia) waiting() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entered
}

func (m *fakeMedia) setErr(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *fakeMedia) stats() (acquired, live, maxLive int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acquired, len(m.live), m.maxLive
}

func (m *fakeMedia) releaseCount(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.released[id]
}

// fakePeer records what the orchestrator feeds it.
type fakePeer struct {
	role   models.Role
	local  Stream
	events PeerEvents

	mu        sync.Mutex
	applied   []string
	destroyed int
}

func (p *fakePeer) Signal(payload json.RawMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.applied = append(p.applied, string(payload))
	return nil
}

func (p *fakePeer) Destroy() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.destroyed++
	return nil
}

func (p *fakePeer) appliedPayloads() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.applied...)
}

func (p *fakePeer) destroyCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.destroyed
}

type fakePeers struct {
	mu    sync.Mutex
	peers []*fakePeer
	err   error
	// onCreate runs after a peer is recorded, like a primitive that starts
	// negotiating immediately.
	onCreate func(*fakePeer)
}

func (f *fakePeers) NewPeer(role models.Role, local Stream, events PeerEvents) (Peer, error) {
	f.mu.Lock()
	if f.err != nil {
		f.mu.Unlock()
		return nil, f.err
	}
	p := &fakePeer{role: role, local: local, events: events}
	f.peers = append(f.peers, p)
	onCreate := f.onCreate
	f.mu.Unlock()

	if onCreate != nil {
		onCreate(p)
	}
	return p, nil
}

func (f *fakePeers) all() []*fakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakePeer(nil), f.peers...)
}

func (f *fakePeers) last() *fakePeer {
	all := f.all()
	if len(all) == 0 {
		return nil
	}
	return all[len(all)-1]
}

// fakeMatch stands in for the matching service.
type fakeMatch struct {
	handler MatchEventHandler

	mu          sync.Mutex
	registerErr error
	connects    int
	registered  []string
	closed      int
}

func (m *fakeMatch) Connect(ctx context.Context, id models.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connects++
	return nil
}

func (m *fakeMatch) Register(ctx context.Context, id models.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.registerErr != nil {
		return m.registerErr
	}
	m.registered = append(m.registered, id.Name)
	return nil
}

func (m *fakeMatch) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return nil
}

func (m *fakeMatch) setRegisterErr(err error) {
	m.mu.Lock()
	m.registerErr = err
	m.mu.Unlock()
}

func (m *fakeMatch) registrations() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.registered...)
}

func (m *fakeMatch) matched(roomCode string, initiator bool, self string) {
	a, err := models.NewMatchAssignment(models.MatchMessage{Event: models.EventMatched, RoomCode: roomCode, Initiator: initiator}, models.Identity{Name: self})
	if err != nil {
		panic(err)
	}
	m.handler(MatchEvent{Kind: MatchMatched, Assignment: a})
}

// fakeSignal stands in for one relay connection.
type fakeSignal struct {
	handler SignalEventHandler

	mu         sync.Mutex
	connectErr error
	connects   int
	joins      []models.SignalEnvelope
	sent       []models.SignalEnvelope
	closed     int
}

func (s *fakeSignal) Connect(ctx context.Context, id models.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connects++
	return s.connectErr
}

func (s *fakeSignal) Join(roomCode, target string, role models.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.joins = append(s.joins, models.NewJoinEnvelope(roomCode, target, "", role))
	return nil
}

func (s *fakeSignal) Send(env models.SignalEnvelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, env)
}

func (s *fakeSignal) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *fakeSignal) joined() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.joins) > 0
}

func (s *fakeSignal) sentEnvelopes() []models.SignalEnvelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.SignalEnvelope(nil), s.sent...)
}

func (s *fakeSignal) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSignal) signal(roomCode, from, payload string) {
	s.handler(SignalEvent{Kind: SignalPayload, RoomCode: roomCode, From: from, Payload: json.RawMessage(payload)})
}

type fakeSignals struct {
	mu         sync.Mutex
	channels   []*fakeSignal
	connectErr error
}

func (f *fakeSignals) factory(h SignalEventHandler) SignalService {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &fakeSignal{handler: h, connectErr: f.connectErr}
	f.channels = append(f.channels, s)
	return s
}

func (f *fakeSignals) all() []*fakeSignal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeSignal(nil), f.channels...)
}

func (f *fakeSignals) last() *fakeSignal {
	all := f.all()
	if len(all) == 0 {
		return nil
	}
	return all[len(all)-1]
}

// recordingSink remembers attach/detach calls.
type recordingSink struct {
	mu       sync.Mutex
	attached []string
	detached int
}

func (s *recordingSink) Attach(st Stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attached = append(s.attached, st.ID())
}

func (s *recordingSink) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detached++
}

func (s *recordingSink) counts() (attached, detached int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attached), s.detached
}

// fakeConn is an in-memory Conn. Tests push inbound frames and read what
// was written.
type fakeConn struct {
	inbound chan []byte
	closeCh chan struct{}

	mu      sync.Mutex
	written [][]byte
	closed  bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan []byte, 64), closeCh: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.inbound:
		return data, nil
	case <-c.closeCh:
		return nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("use of closed connection")
	}
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.closeCh)
	}
	return nil
}

func (c *fakeConn) push(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	c.inbound <- data
}

func (c *fakeConn) envelopes() []models.SignalEnvelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.SignalEnvelope, 0, len(c.written))
	for _, raw := range c.written {
		var env models.SignalEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			panic(err)
		}
		out = append(out, env)
	}
	return out
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	urls  []string
	err   error
}

func (d *fakeDialer) Dial(ctx context.Context, rawURL string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, rawURL)
	if d.err != nil {
		return nil, d.err
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) dialed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.urls...)
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}
