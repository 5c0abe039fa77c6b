package pool

import (
	"testing"

	"atlasledger/consensus/bft"

	"github.com/stretchr/testify/require"
)

func TestAddGetRemove(t *testing.T) {
	p := New()
	proposal := &bft.Proposal{ID: "prop1", Height: 1}

	require.True(t, p.Add(proposal))
	got, ok := p.Get("prop1")
	require.True(t, ok)
	require.Equal(t, proposal, got)

	p.Remove("prop1")
	_, ok = p.Get("prop1")
	require.False(t, ok)
}

func TestAddRejectsDuplicateID(t *testing.T) {
	p := New()
	require.True(t, p.Add(&bft.Proposal{ID: "prop1", Height: 1}))
	require.False(t, p.Add(&bft.Proposal{ID: "prop1", Height: 2}))

	got, _ := p.Get("prop1")
	require.Equal(t, uint64(1), got.Height)
}

func TestAllAndLen(t *testing.T) {
	p := New()
	p.Add(&bft.Proposal{ID: "prop1"})
	p.Add(&bft.Proposal{ID: "prop2"})

	require.Equal(t, 2, p.Len())
	require.Len(t, p.All(), 2)
}
