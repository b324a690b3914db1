package linkdiscovery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/runos-go/ofcore/internal/agent"
	"github.com/runos-go/ofcore/internal/ofp"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeConn is a minimal ofp.Connection double that echoes every Barrier
// send back as a ReplyBarrier so SwitchUp's install-then-barrier path
// resolves synchronously in tests.
type fakeConn struct {
	mu     sync.Mutex
	sent   []ofp.Xid
	onSend func(xid ofp.Xid, msg any)
}

func (c *fakeConn) Send(xid ofp.Xid, msg any) error {
	c.mu.Lock()
	c.sent = append(c.sent, xid)
	cb := c.onSend
	c.mu.Unlock()
	if cb != nil {
		cb(xid, msg)
	}
	return nil
}

func (c *fakeConn) Alive() bool { return true }

func newTestAgentHandle(t *testing.T) *agent.Agent {
	t.Helper()
	conn := &fakeConn{}
	a := agent.New(1, conn, nil)
	conn.onSend = func(xid ofp.Xid, msg any) {
		if _, ok := msg.(ofp.Barrier); ok {
			a.HandleReply(ofp.Reply{Xid: xid, Kind: ofp.ReplyBarrier})
		}
	}
	return a
}

type fakeObserver struct {
	mu         sync.Mutex
	discovered []LinkKey
	broken     []LinkKey
}

func (o *fakeObserver) LinkDiscovered(key LinkKey) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.discovered = append(o.discovered, key)
}

func (o *fakeObserver) LinkBroken(key LinkKey) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.broken = append(o.broken, key)
}

func (o *fakeObserver) counts() (int, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.discovered), len(o.broken)
}

func TestSwitchUpInstallsBeaconRule(t *testing.T) {
	obs := &fakeObserver{}
	svc := New(time.Second, obs, nil)
	ag := newTestAgentHandle(t)

	err := svc.SwitchUp(context.Background(), 1, ag, []uint32{1, 2})
	require.NoError(t, err)
}

func TestHandleBeaconPromotesOnSecondSighting(t *testing.T) {
	obs := &fakeObserver{}
	svc := New(time.Second, obs, nil)
	ag := newTestAgentHandle(t)
	require.NoError(t, svc.SwitchUp(context.Background(), 2, ag, []uint32{1}))

	in := ofp.PacketIn{DPID: 2, InPort: 1}
	now := time.Unix(1000, 0)

	mac := [6]byte{0, 1, 2, 3, 4, 5}
	in.Data = EncodeBeacon(1, 10, mac, 1, nil)

	require.NoError(t, svc.HandleBeacon(in, now))
	discovered, _ := obs.counts()
	assert.Equal(t, 0, discovered, "first sighting only records waiting")

	require.NoError(t, svc.HandleBeacon(in, now.Add(time.Millisecond)))
	discovered, _ = obs.counts()
	assert.Equal(t, 1, discovered, "second sighting within the debounce window promotes")
}

func TestHandleBeaconStaleWaitingDoesNotPromote(t *testing.T) {
	obs := &fakeObserver{}
	pollInterval := 100 * time.Millisecond
	svc := New(pollInterval, obs, nil)
	ag := newTestAgentHandle(t)
	require.NoError(t, svc.SwitchUp(context.Background(), 3, ag, []uint32{1}))

	mac := [6]byte{0, 1, 2, 3, 4, 5}
	in := ofp.PacketIn{DPID: 3, InPort: 1, Data: EncodeBeacon(1, 10, mac, 1, nil)}

	now := time.Unix(2000, 0)
	require.NoError(t, svc.HandleBeacon(in, now))

	// A second sighting well past the 2*pollInterval debounce window must
	// restart the waiting state rather than promote.
	require.NoError(t, svc.HandleBeacon(in, now.Add(time.Second)))
	discovered, _ := obs.counts()
	assert.Equal(t, 0, discovered)
}

func TestLinkPromotionAndExpiryOnTick(t *testing.T) {
	obs := &fakeObserver{}
	pollInterval := 10 * time.Millisecond
	svc := New(pollInterval, obs, nil)
	ag := newTestAgentHandle(t)
	require.NoError(t, svc.SwitchUp(context.Background(), 4, ag, []uint32{1}))

	mac := [6]byte{0, 1, 2, 3, 4, 5}
	in := ofp.PacketIn{DPID: 4, InPort: 1, Data: EncodeBeacon(5, 20, mac, 1, nil)}
	now := time.Unix(3000, 0)
	require.NoError(t, svc.HandleBeacon(in, now))
	require.NoError(t, svc.HandleBeacon(in, now.Add(time.Millisecond)))

	discovered, _ := obs.counts()
	require.Equal(t, 1, discovered)

	svc.Tick(now.Add(time.Hour))
	_, broken := obs.counts()
	assert.Equal(t, 1, broken)
}

func TestLinkDownBreaksLiveLink(t *testing.T) {
	obs := &fakeObserver{}
	svc := New(time.Second, obs, nil)
	ag := newTestAgentHandle(t)
	require.NoError(t, svc.SwitchUp(context.Background(), 6, ag, []uint32{1}))

	mac := [6]byte{0, 1, 2, 3, 4, 5}
	in := ofp.PacketIn{DPID: 6, InPort: 1, Data: EncodeBeacon(7, 30, mac, 1, nil)}
	now := time.Unix(4000, 0)
	require.NoError(t, svc.HandleBeacon(in, now))
	require.NoError(t, svc.HandleBeacon(in, now.Add(time.Millisecond)))

	discovered, _ := obs.counts()
	require.Equal(t, 1, discovered)

	svc.LinkDown(6, 1)
	_, broken := obs.counts()
	assert.Equal(t, 1, broken)
}
