package agent_test

import (
	"context"
	"log/slog"
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

// fakeConn is a minimal ofp.Connection double: it records sent xids and
// can be toggled dead to exercise the request_error path.
type fakeConn struct {
	mu    sync.Mutex
	alive bool
	sent  []ofp.Xid
}

func newFakeConn() *fakeConn { return &fakeConn{alive: true} }

func (c *fakeConn) Send(xid ofp.Xid, _ any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, xid)
	return nil
}

func (c *fakeConn) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alive
}

func (c *fakeConn) setAlive(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alive = v
}

func newTestAgent() (*agent.Agent, *fakeConn) {
	conn := newFakeConn()
	a := agent.New(1, conn, slog.Default())
	return a, conn
}

func lastSentXid(t *testing.T, c *fakeConn) ofp.Xid {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.sent)
	return c.sent[len(c.sent)-1]
}

func TestAgentSingleReply(t *testing.T) {
	a, conn := newTestAgent()

	fut := a.RequestPortStats(context.Background(), 3)
	xid := lastSentXid(t, conn)

	a.HandleReply(ofp.Reply{
		Xid:   xid,
		Kind:  ofp.ReplyPortStats,
		Items: []any{ofp.PortStats{PortNo: 3}},
		More:  false,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	val, err := fut.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), val.PortNo)
}

func TestAgentSingleReplyBadShape(t *testing.T) {
	a, conn := newTestAgent()

	fut := a.RequestPortStats(context.Background(), 3)
	xid := lastSentXid(t, conn)

	a.HandleReply(ofp.Reply{
		Xid:   xid,
		Kind:  ofp.ReplyPortStats,
		Items: []any{ofp.PortStats{PortNo: 3}},
		More:  true,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := fut.Wait(ctx)
	var badReply *agent.BadReplyError
	require.ErrorAs(t, err, &badReply)
}

func TestAgentMultipart(t *testing.T) {
	a, conn := newTestAgent()

	fut := a.RequestAllPortStats(context.Background())
	xid := lastSentXid(t, conn)

	a.HandleReply(ofp.Reply{
		Xid:   xid,
		Kind:  ofp.ReplyPortStats,
		Items: []any{ofp.PortStats{PortNo: 1}, ofp.PortStats{PortNo: 2}},
		More:  true,
	})
	a.HandleReply(ofp.Reply{
		Xid:   xid,
		Kind:  ofp.ReplyPortStats,
		Items: []any{ofp.PortStats{PortNo: 3}},
		More:  false,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	val, err := fut.Wait(ctx)
	require.NoError(t, err)
	require.Len(t, val, 3)
	assert.Equal(t, uint32(1), val[0].PortNo)
	assert.Equal(t, uint32(2), val[1].PortNo)
	assert.Equal(t, uint32(3), val[2].PortNo)
}

func TestAgentFlowStatsAllTables(t *testing.T) {
	a, conn := newTestAgent()

	fut := a.RequestFlowStats(context.Background(), agent.AllFlows())
	xid := lastSentXid(t, conn)

	a.HandleReply(ofp.Reply{
		Xid:   xid,
		Kind:  ofp.ReplyFlowStats,
		Items: []any{ofp.FlowStats{TableID: 0}, ofp.FlowStats{TableID: 1}},
		More:  false,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	val, err := fut.Wait(ctx)
	require.NoError(t, err)
	require.Len(t, val, 2)
}

func TestAgentBarrierSweep(t *testing.T) {
	a, conn := newTestAgent()

	f1 := a.InstallFlowMod(context.Background(), ofp.FlowMod{Cookie: 1})
	f2 := a.InstallFlowMod(context.Background(), ofp.FlowMod{Cookie: 2})
	barrier := a.Barrier(context.Background())
	barrierXid := lastSentXid(t, conn)

	a.HandleReply(ofp.Reply{Xid: barrierXid, Kind: ofp.ReplyBarrier})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := f1.Wait(ctx)
	require.NoError(t, err)
	_, err = f2.Wait(ctx)
	require.NoError(t, err)
	_, err = barrier.Wait(ctx)
	require.NoError(t, err)

	assert.Equal(t, 0, a.Outstanding())
}

func TestAgentBarrierSweepNotResponded(t *testing.T) {
	a, conn := newTestAgent()

	queryFut := a.RequestSwitchDesc(context.Background())
	barrier := a.Barrier(context.Background())
	barrierXid := lastSentXid(t, conn)

	a.HandleReply(ofp.Reply{Xid: barrierXid, Kind: ofp.ReplyBarrier})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := queryFut.Wait(ctx)
	var notResponded *agent.NotRespondedError
	require.ErrorAs(t, err, &notResponded)

	_, err = barrier.Wait(ctx)
	require.NoError(t, err)
}

func TestAgentInvalidArgument(t *testing.T) {
	a, _ := newTestAgent()

	fut := a.RequestPortStats(context.Background(), ofp.PortAny)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := fut.Wait(ctx)
	require.ErrorIs(t, err, agent.ErrInvalidArgument)
}

func TestAgentOpenflowError(t *testing.T) {
	a, conn := newTestAgent()

	fut := a.RequestRole(context.Background())
	xid := lastSentXid(t, conn)

	a.HandleReply(ofp.Reply{Xid: xid, Kind: ofp.ReplyError, ErrType: 1, ErrCode: 2})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := fut.Wait(ctx)
	var ofErr *agent.OpenflowError
	require.ErrorAs(t, err, &ofErr)
	assert.Equal(t, uint16(1), ofErr.Type)
	assert.Equal(t, uint16(2), ofErr.Code)
}

func TestAgentRequestErrorWhenDead(t *testing.T) {
	a, conn := newTestAgent()
	conn.setAlive(false)

	fut := a.RequestSwitchDesc(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := fut.Wait(ctx)
	var reqErr *agent.RequestError
	require.ErrorAs(t, err, &reqErr)
}

func TestAgentCloseFailsOutstanding(t *testing.T) {
	a, _ := newTestAgent()

	f1 := a.RequestSwitchDesc(context.Background())
	f2 := a.RequestRole(context.Background())

	a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := f1.Wait(ctx)
	var reqErr *agent.RequestError
	require.ErrorAs(t, err, &reqErr)

	_, err = f2.Wait(ctx)
	require.ErrorAs(t, err, &reqErr)

	assert.Equal(t, 0, a.Outstanding())
}

func TestAgentXidsIncreaseFromBase(t *testing.T) {
	a, conn := newTestAgent()

	_ = a.RequestSwitchDesc(context.Background())
	first := lastSentXid(t, conn)
	_ = a.RequestRole(context.Background())
	second := lastSentXid(t, conn)

	assert.GreaterOrEqual(t, uint32(first), uint32(0x10000))
	assert.Greater(t, uint32(second), uint32(first))
}
