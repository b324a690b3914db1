package linkdiscovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinkTableInsertAndPopExpired(t *testing.T) {
	tbl := newLinkTable()
	now := time.Unix(1000, 0)

	a := LinkKey{Src: PortRef{DPID: 1, Port: 1}, Dst: PortRef{DPID: 2, Port: 1}}
	b := LinkKey{Src: PortRef{DPID: 2, Port: 1}, Dst: PortRef{DPID: 1, Port: 1}}

	tbl.insert(a, now.Add(time.Second))
	tbl.insert(b, now.Add(2*time.Second))

	require.Contains(t, tbl.byKey, a.Src)
	require.Contains(t, tbl.byKey, b.Src)

	expired := tbl.popExpired(now.Add(1500 * time.Millisecond))
	require.Len(t, expired, 1)
	assert.Equal(t, a, expired[0])
	assert.NotContains(t, tbl.byKey, a.Src)
	assert.Contains(t, tbl.byKey, b.Src)
}

func TestLinkTableRefresh(t *testing.T) {
	tbl := newLinkTable()
	now := time.Unix(2000, 0)
	k := LinkKey{Src: PortRef{DPID: 1, Port: 1}, Dst: PortRef{DPID: 2, Port: 1}}
	tbl.insert(k, now.Add(time.Second))

	rec := tbl.byKey[k.Src]
	tbl.refresh(rec, now.Add(10*time.Second))

	expired := tbl.popExpired(now.Add(5 * time.Second))
	assert.Empty(t, expired)
	assert.Contains(t, tbl.byKey, k.Src)
}

func TestLinkTableRemovePort(t *testing.T) {
	tbl := newLinkTable()
	now := time.Unix(3000, 0)
	k1 := LinkKey{Src: PortRef{DPID: 1, Port: 1}, Dst: PortRef{DPID: 2, Port: 1}}
	k2 := LinkKey{Src: PortRef{DPID: 3, Port: 1}, Dst: PortRef{DPID: 4, Port: 1}}
	tbl.insert(k1, now.Add(time.Minute))
	tbl.insert(k2, now.Add(time.Minute))
	tbl.waiting[LinkKey{Src: PortRef{DPID: 1, Port: 1}, Dst: PortRef{DPID: 9, Port: 1}}] = now

	broken := tbl.removePort(PortRef{DPID: 1, Port: 1})
	require.Len(t, broken, 1)
	assert.Equal(t, k1, broken[0])
	assert.NotContains(t, tbl.byKey, k1.Src)
	assert.Contains(t, tbl.byKey, k2.Src)
	assert.Empty(t, tbl.waiting)
}

func TestLinkTableRemoveSwitch(t *testing.T) {
	tbl := newLinkTable()
	now := time.Unix(4000, 0)
	k1 := LinkKey{Src: PortRef{DPID: 1, Port: 1}, Dst: PortRef{DPID: 2, Port: 1}}
	k2 := LinkKey{Src: PortRef{DPID: 3, Port: 1}, Dst: PortRef{DPID: 4, Port: 1}}
	tbl.insert(k1, now.Add(time.Minute))
	tbl.insert(k2, now.Add(time.Minute))

	broken := tbl.removeSwitch(1)
	require.Len(t, broken, 1)
	assert.Equal(t, k1, broken[0])
	assert.Contains(t, tbl.byKey, k2.Src)
}

func TestLinkTableRemovePortPreservesHeapOrder(t *testing.T) {
	tbl := newLinkTable()
	now := time.Unix(6000, 0)
	doomed := LinkKey{Src: PortRef{DPID: 9, Port: 1}, Dst: PortRef{DPID: 9, Port: 2}}
	near := LinkKey{Src: PortRef{DPID: 1, Port: 1}, Dst: PortRef{DPID: 2, Port: 1}}
	mid := LinkKey{Src: PortRef{DPID: 3, Port: 1}, Dst: PortRef{DPID: 4, Port: 1}}
	far := LinkKey{Src: PortRef{DPID: 5, Port: 1}, Dst: PortRef{DPID: 6, Port: 1}}

	tbl.insert(far, now.Add(40*time.Second))
	tbl.insert(doomed, now.Add(5*time.Second))
	tbl.insert(near, now.Add(10*time.Second))
	tbl.insert(mid, now.Add(20*time.Second))

	broken := tbl.removePort(PortRef{DPID: 9, Port: 1})
	require.Len(t, broken, 1)
	assert.Equal(t, doomed, broken[0])

	// The remaining heap must still pop records in deadline order even
	// though an arbitrary element (not the root) was spliced out.
	expired := tbl.popExpired(now.Add(15 * time.Second))
	require.Len(t, expired, 1)
	assert.Equal(t, near, expired[0])

	expired = tbl.popExpired(now.Add(25 * time.Second))
	require.Len(t, expired, 1)
	assert.Equal(t, mid, expired[0])

	expired = tbl.popExpired(now.Add(100 * time.Second))
	require.Len(t, expired, 1)
	assert.Equal(t, far, expired[0])
}

func TestLinkTableHeapOrdering(t *testing.T) {
	tbl := newLinkTable()
	now := time.Unix(5000, 0)
	far := LinkKey{Src: PortRef{DPID: 1, Port: 1}, Dst: PortRef{DPID: 2, Port: 1}}
	near := LinkKey{Src: PortRef{DPID: 3, Port: 1}, Dst: PortRef{DPID: 4, Port: 1}}
	tbl.insert(far, now.Add(10*time.Second))
	tbl.insert(near, now.Add(time.Second))

	require.Equal(t, near, tbl.order[0].key)
}
