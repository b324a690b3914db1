// Package linkdiscovery maintains the set of observed inter-switch links
// by emitting identifying beacons out of every live port and correlating
// beacons punted back as PacketIn from other switches.
package linkdiscovery

import (
	"context"
	"encoding/binary"
	"log/slog"
	"sync"
	"time"

	"github.com/runos-go/ofcore/internal/agent"
	"github.com/runos-go/ofcore/internal/linkdiscovery/linkfsm"
	"github.com/runos-go/ofcore/internal/ofp"
)

// beaconXid is the fixed transaction id used for every beacon PacketOut.
// It sits outside the Agent's xid space (which starts at 0x10000) and
// never enters the session table: these writes are fire-and-forget at the
// wire level and track no completion.
const beaconXid ofp.Xid = 24500

// beaconCopies is the number of identical PacketOuts emitted per port per
// tick, to tolerate drops.
const beaconCopies = 3

// flowRulePriority, flowRuleCookie match the design's fixed values for
// the beacon admission-table entry installed on switchUp.
const (
	flowRulePriority uint16 = 50000
	flowRuleCookie   uint64 = 0x1_11D0
)

// AgentHandle is the subset of *agent.Agent that link discovery drives:
// installing the admission flow rule and emitting raw beacon PacketOuts.
type AgentHandle interface {
	InstallFlowMod(ctx context.Context, fm ofp.FlowMod) agent.Future[struct{}]
	Barrier(ctx context.Context) agent.Future[struct{}]
	SendRaw(xid ofp.Xid, msg any) error
}

// Observer receives link lifecycle signals. Implementations must not
// block; Service emits signals synchronously after releasing its mutex.
type Observer interface {
	LinkDiscovered(key LinkKey)
	LinkBroken(key LinkKey)
}

// Metrics is the subset of the metrics collector link discovery records
// against.
type Metrics interface {
	LinkDiscovered()
	LinkBroken()
	LinksAlive(n int)
}

type noopMetrics struct{}

func (noopMetrics) LinkDiscovered()  {}
func (noopMetrics) LinkBroken()      {}
func (noopMetrics) LinksAlive(int)   {}

// Option configures optional Service parameters.
type Option func(*Service)

// WithMetrics sets the Metrics collector. A nil m is a no-op.
func WithMetrics(m Metrics) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithQueueID emits beacons with a SetQueue action targeting queueID. A
// negative value (the default) omits the SetQueue action entirely.
func WithQueueID(queueID int32) Option {
	return func(s *Service) { s.queueID = queueID }
}

type portState struct {
	down bool
}

type switchState struct {
	agent AgentHandle
	ports map[uint32]*portState
}

// Service drives beacon-based link discovery across every registered
// switch. All exported methods are safe for concurrent use.
type Service struct {
	pollInterval time.Duration
	queueID      int32

	observer Observer
	logger   *slog.Logger
	metrics  Metrics

	mu       sync.Mutex
	switches map[uint64]*switchState
	table    *linkTable
}

// New builds a Service emitting beacons at pollInterval and reporting link
// events to observer.
func New(pollInterval time.Duration, observer Observer, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		pollInterval: pollInterval,
		queueID:      -1,
		observer:     observer,
		logger:       logger.With(slog.String("component", "linkdiscovery")),
		metrics:      noopMetrics{},
		switches:     make(map[uint64]*switchState),
		table:        newLinkTable(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SwitchUp registers dpid with its currently known live ports and installs
// the beacon admission-and-punt flow rule. Any link record still bound to
// a prior incarnation of this switch is flushed first so it cannot go
// stale against the fresh port set.
func (s *Service) SwitchUp(ctx context.Context, dpid uint64, ag AgentHandle, ports []uint32) error {
	s.mu.Lock()
	broken := s.table.removeSwitch(dpid)
	ps := make(map[uint32]*portState, len(ports))
	for _, p := range ports {
		ps[p] = &portState{}
	}
	s.switches[dpid] = &switchState{agent: ag, ports: ps}
	s.mu.Unlock()

	s.emitBroken(broken)

	fm := ofp.FlowMod{
		Cookie:           flowRuleCookie,
		Priority:         flowRulePriority,
		MatchEthType:     0x88CC,
		ControllerAction: true,
		ControllerMaxLen: ofp.OFPCMLNoBuffer,
	}
	// InstallFlowMod only resolves via a subsequent barrier sweep (or a
	// connection failure); the Barrier's own completion is the signal that
	// the flow mod reached the switch.
	ag.InstallFlowMod(ctx, fm)
	_, err := ag.Barrier(ctx).Wait(ctx)
	return err
}

// LinkUp marks port live on dpid so future ticks emit beacons out of it.
func (s *Service) LinkUp(dpid uint64, port uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sw, ok := s.switches[dpid]
	if !ok {
		return
	}
	if p, ok := sw.ports[port]; ok {
		p.down = false
	} else {
		sw.ports[port] = &portState{}
	}
}

// LinkDown marks port dead and removes any link record touching it,
// signaling linkBroken for each.
func (s *Service) LinkDown(dpid uint64, port uint32) {
	s.mu.Lock()
	sw, ok := s.switches[dpid]
	if ok {
		if p, ok := sw.ports[port]; ok {
			p.down = true
		}
	}
	broken := s.table.removePort(PortRef{DPID: dpid, Port: port})
	s.mu.Unlock()

	s.emitBroken(broken)
}

// Tick emits beacons out of every live, eligible port on every managed
// switch, then expires any link whose deadline has passed. Callers drive
// this on a periodic schedule of pollInterval.
func (s *Service) Tick(now time.Time) {
	s.emitBeacons()
	s.expireLinks(now)
}

func (s *Service) emitBeacons() {
	s.mu.Lock()
	type target struct {
		dpid  uint64
		agent AgentHandle
		port  uint32
	}
	var targets []target
	for dpid, sw := range s.switches {
		for port, p := range sw.ports {
			if p.down || port == ofp.PortLocal || port > ofp.PortMax {
				continue
			}
			targets = append(targets, target{dpid, sw.agent, port})
		}
	}
	s.mu.Unlock()

	for _, t := range targets {
		actions := []ofp.PacketAction{ofp.Output{Port: t.port}}
		if s.queueID >= 0 {
			actions = append(actions, ofp.SetQueue{QueueID: uint32(s.queueID)})
		}
		pkt := ofp.PacketOut{
			Data:    EncodeBeacon(t.dpid, t.port, dpidMAC(t.dpid), uint16(s.pollInterval/time.Second), nil),
			InPort:  ofp.PortLocal,
			Actions: actions,
		}
		for i := 0; i < beaconCopies; i++ {
			if err := t.agent.SendRaw(beaconXid, pkt); err != nil {
				s.logger.Debug("linkdiscovery: beacon send failed", "dpid", t.dpid, "port", t.port, "err", err)
			}
		}
	}
}

// dpidMAC derives a beacon source MAC from the low 48 bits of dpid, the
// same bits that double as a switch's MAC per the datapath-id glossary
// entry.
func dpidMAC(dpid uint64) [6]byte {
	var mac [6]byte
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], dpid)
	copy(mac[:], buf[2:])
	return mac
}

// HandleBeacon processes a beacon punted back as PacketIn on a switch
// other than (or the same as) the one that emitted it. from is derived
// from the beacon's own payload (the emitting switch/port); to is the
// switch/port the PacketIn arrived on.
func (s *Service) HandleBeacon(in ofp.PacketIn, now time.Time) error {
	decoded, err := DecodeBeacon(in.Data)
	if err != nil {
		return err
	}
	from := PortRef{DPID: decoded.DPID, Port: decoded.Port}
	to := PortRef{DPID: in.DPID, Port: in.InPort}
	s.handleEdge(from, to, now)
	return nil
}

// linkState reports a key's current position in the Unseen -> Waiting ->
// Alive lifecycle, dropping a waiting-link whose debounce window
// (2*pollInterval) has elapsed without a confirming beacon. Must be
// called with s.mu held.
func (s *Service) linkState(key LinkKey, from PortRef, now time.Time) linkfsm.State {
	if rec, ok := s.table.byKey[from]; ok && rec.key == key {
		return linkfsm.Alive
	}
	if ts, ok := s.table.waiting[key]; ok {
		if now.Sub(ts) <= 2*s.pollInterval {
			return linkfsm.Waiting
		}
		delete(s.table.waiting, key)
	}
	return linkfsm.Unseen
}

// handleEdge implements the debounce/refresh algorithm of §4.2 by driving
// linkfsm.Apply over the key's current state: a beacon on Unseen records
// a waiting-link; a beacon on Waiting (within the debounce window)
// promotes to Alive and signals linkDiscovered; a beacon on Alive
// refreshes the deadline.
func (s *Service) handleEdge(from, to PortRef, now time.Time) {
	key := LinkKey{Src: from, Dst: to}
	validThrough := now.Add(s.pollInterval)

	s.mu.Lock()
	state := s.linkState(key, from, now)
	result := linkfsm.Apply(state, linkfsm.EventBeacon)

	var discovered *LinkKey
	for _, act := range result.Actions {
		switch act {
		case linkfsm.ActionRecordWaiting:
			s.table.waiting[key] = now
		case linkfsm.ActionPromote:
			delete(s.table.waiting, key)
			s.table.insert(key, validThrough)
			k := key
			discovered = &k
		case linkfsm.ActionRefresh:
			if rec, ok := s.table.byKey[from]; ok {
				s.table.refresh(rec, validThrough)
			}
		}
	}
	alive := len(s.table.order)
	s.mu.Unlock()

	if discovered != nil {
		s.observer.LinkDiscovered(*discovered)
		s.metrics.LinkDiscovered()
	}
	s.metrics.LinksAlive(alive)
}

func (s *Service) expireLinks(now time.Time) {
	s.mu.Lock()
	expired := s.table.popExpired(now)
	alive := len(s.table.order)
	s.mu.Unlock()

	s.metrics.LinksAlive(alive)
	s.emitBroken(expired)
}

func (s *Service) emitBroken(keys []LinkKey) {
	for _, k := range keys {
		s.observer.LinkBroken(k)
		s.metrics.LinkBroken()
	}
}

// Run drives Tick on pollInterval until ctx is done.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Tick(now)
		}
	}
}
