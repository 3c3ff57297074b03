package client

import (
	"context"
	"errors"
	"sync"
	"testing"

	"farmledger/internal/bundle"
	"farmledger/internal/catalog"
	"farmledger/internal/record"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	mu       sync.Mutex
	players  []record.Node
	patches  []record.Node
	patchErr error
	// onPatch runs before the patch is answered.
	onPatch func()
}

func (g *fakeGateway) List(context.Context) ([]record.Node, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.players, nil
}

func (g *fakeGateway) Upload(_ context.Context, players []record.Node) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.players = players
	return nil
}

func (g *fakeGateway) Patch(_ context.Context, _ string, patch record.Node) (record.Node, error) {
	if g.onPatch != nil {
		g.onPatch()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.patches = append(g.patches, patch)
	if g.patchErr != nil {
		return nil, g.patchErr
	}
	return patch, nil
}

func newSession(t *testing.T, gw *fakeGateway, policy RollbackPolicy) *Session {
	t.Helper()
	a := bundle.NewAssembler(catalog.Default().CommunityCenter(), nil)
	return NewSession(gw, a, SessionOptions{Rollback: policy}, nil)
}

const bundlePlayer = `{"_id":"p1","bundles":[
	{"bundle":{"name":"A","areaName":"Pantry","itemsRequired":2,"items":[{"itemID":"24","quantity":1,"quality":0},{"itemID":"188","quantity":1,"quality":0}]},"bundleStatus":[false,false]},
	{"bundle":{"name":"B","areaName":"Pantry","itemsRequired":1,"items":[{"itemID":"190","quantity":1,"quality":0}]},"bundleStatus":[false]}
]}`

func TestSession_UploadSelectsFirstPlayer(t *testing.T) {
	gw := &fakeGateway{}
	s := newSession(t, gw, RollbackRevert)

	_, ok := s.ActivePlayer()
	assert.False(t, ok)

	require.NoError(t, s.UploadPlayers(context.Background(), []record.Node{
		mustNode(t, `{"_id":"p1"}`),
		mustNode(t, `{"_id":"p2"}`),
	}))
	p, ok := s.ActivePlayer()
	require.True(t, ok)
	assert.Equal(t, "p1", p.Text("_id"))

	require.NoError(t, s.SetActivePlayer("p2"))
	p, _ = s.ActivePlayer()
	assert.Equal(t, "p2", p.Text("_id"))
	assert.ErrorIs(t, s.SetActivePlayer("nope"), ErrNoActivePlayer)
	assert.Len(t, s.Players(), 2)
}

func TestSession_RefreshKeepsActivePlayer(t *testing.T) {
	gw := &fakeGateway{players: []record.Node{mustNode(t, `{"_id":"p1"}`), mustNode(t, `{"_id":"p2"}`)}}
	s := newSession(t, gw, RollbackRevert)
	ctx := context.Background()

	require.NoError(t, s.Refresh(ctx))
	require.NoError(t, s.SetActivePlayer("p2"))
	require.NoError(t, s.Refresh(ctx))
	p, _ := s.ActivePlayer()
	assert.Equal(t, "p2", p.Text("_id"))

	gw.players = []record.Node{mustNode(t, `{"_id":"p3"}`)}
	require.NoError(t, s.Refresh(ctx))
	p, _ = s.ActivePlayer()
	assert.Equal(t, "p3", p.Text("_id"))
}

func TestSession_PatchPlayerSendsNormalizedPatch(t *testing.T) {
	gw := &fakeGateway{players: []record.Node{mustNode(t, bundlePlayer)}}
	s := newSession(t, gw, RollbackRevert)
	ctx := context.Background()
	require.NoError(t, s.Refresh(ctx))
	before, _ := s.ActivePlayer()

	got, err := s.SetBundleStatus(ctx, "A", 1, true)
	require.NoError(t, err)

	require.Len(t, gw.patches, 1)
	sent := gw.patches[0]["bundles"].(record.Sequence)
	require.Len(t, sent, 2, "the whole bundles array is sent")
	assert.True(t, record.Equal(record.Sequence{record.Bool(false), record.Bool(true)}, sent[0].(record.Node)["bundleStatus"]))
	assert.True(t, record.Equal(before["bundles"].(record.Sequence)[1], sent[1]))

	bundles, err := bundle.FromRecord(got)
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true}, bundles[0].BundleStatus)

	after, _ := s.ActivePlayer()
	assert.True(t, record.Equal(got, after))
	assert.False(t, record.Same(before, after))
	assert.False(t, before["bundles"].(record.Sequence)[0].(record.Node)["bundleStatus"].(record.Sequence)[1].(record.Leaf).V.(bool))

	_, err = s.SetBundleStatus(ctx, "Missing", 0, true)
	assert.ErrorIs(t, err, bundle.ErrBundleNotFound)
	_, err = s.SetBundleStatus(ctx, "B", 3, true)
	assert.ErrorIs(t, err, bundle.ErrItemIndex)
}

func TestSession_RollbackRevert(t *testing.T) {
	boom := errors.New("offline")
	gw := &fakeGateway{players: []record.Node{mustNode(t, bundlePlayer)}, patchErr: boom}
	s := newSession(t, gw, RollbackRevert)
	ctx := context.Background()
	require.NoError(t, s.Refresh(ctx))
	before, _ := s.ActivePlayer()

	local, err := s.SetBundleStatus(ctx, "A", 0, true)
	assert.ErrorIs(t, err, boom)
	assert.True(t, record.Equal(before, local))

	after, _ := s.ActivePlayer()
	assert.True(t, record.Equal(before, after))
}

func TestSession_RollbackRevertSkipsWhenNewerEditExists(t *testing.T) {
	boom := errors.New("offline")
	gw := &fakeGateway{players: []record.Node{mustNode(t, bundlePlayer)}, patchErr: boom}
	s := newSession(t, gw, RollbackRevert)
	ctx := context.Background()
	require.NoError(t, s.Refresh(ctx))

	// A second edit lands while the first is in flight.
	gw.onPatch = func() {
		gw.onPatch = nil
		gw.patchErr = nil
		_, err := s.SetBundleStatus(ctx, "B", 0, true)
		require.NoError(t, err)
		gw.patchErr = boom
	}

	_, err := s.SetBundleStatus(ctx, "A", 0, true)
	assert.ErrorIs(t, err, boom)

	after, _ := s.ActivePlayer()
	bundles, err := bundle.FromRecord(after)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false}, bundles[0].BundleStatus)
	assert.Equal(t, []bool{true}, bundles[1].BundleStatus)
}

func TestSession_RollbackKeep(t *testing.T) {
	boom := errors.New("offline")
	gw := &fakeGateway{players: []record.Node{mustNode(t, bundlePlayer)}, patchErr: boom}
	s := newSession(t, gw, RollbackKeep)
	ctx := context.Background()
	require.NoError(t, s.Refresh(ctx))

	_, err := s.SetBundleStatus(ctx, "A", 0, true)
	assert.ErrorIs(t, err, boom)

	after, _ := s.ActivePlayer()
	bundles, err := bundle.FromRecord(after)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false}, bundles[0].BundleStatus)
}

func TestSession_PatchWithoutActivePlayer(t *testing.T) {
	s := newSession(t, &fakeGateway{}, RollbackRevert)
	_, err := s.PatchPlayer(context.Background(), record.Fields{"general": record.Set(record.Node{})})
	assert.ErrorIs(t, err, ErrNoActivePlayer)
	_, err = s.Bundles()
	assert.ErrorIs(t, err, ErrNoActivePlayer)
}

func TestSession_SwapBundlePersistsSavedProgress(t *testing.T) {
	gw := &fakeGateway{players: []record.Node{mustNode(t, bundlePlayer)}}
	s := newSession(t, gw, RollbackRevert)
	ctx := context.Background()
	require.NoError(t, s.Refresh(ctx))

	saved, err := s.Bundles()
	require.NoError(t, err)
	next := bundle.Bundle{
		Name:          "C",
		LocalizedName: "C",
		ItemsRequired: 1,
		Items:         []bundle.BundleItem{{ItemID: "24", Quantity: 5}},
	}
	out, err := s.SwapBundle(ctx, next, saved[0])
	require.NoError(t, err)

	require.Len(t, out, 2)
	assert.Equal(t, "C", out[0].Bundle.Name)
	assert.Equal(t, bundle.Pantry, out[0].Bundle.AreaName)
	assert.Equal(t, []bool{false}, out[0].BundleStatus)
	assert.Equal(t, "B", out[1].Bundle.Name)
	require.Len(t, gw.patches, 1)

	p, _ := s.ActivePlayer()
	stored, err := bundle.FromRecord(p)
	require.NoError(t, err)
	if diff := cmp.Diff(out[0].Bundle, stored[0].Bundle); diff != "" {
		t.Fatalf("stored swap mismatch (-returned +stored):\n%s", diff)
	}
}

func TestSession_SwapBundleWithoutSavedProgress(t *testing.T) {
	gw := &fakeGateway{players: []record.Node{mustNode(t, `{"_id":"p1"}`)}}
	s := newSession(t, gw, RollbackRevert)
	ctx := context.Background()
	require.NoError(t, s.Refresh(ctx))

	fresh, err := s.Bundles()
	require.NoError(t, err)
	var withOptions bundle.BundleWithStatus
	for _, b := range fresh {
		if len(bundle.AlternateOptions(b, fresh)) > 0 {
			withOptions = b
			break
		}
	}
	require.NotEmpty(t, withOptions.Bundle.Name)
	alt := bundle.AlternateOptions(withOptions, fresh)[0]

	out, err := s.SwapBundle(ctx, alt, withOptions)
	require.NoError(t, err)
	assert.Empty(t, gw.patches)
	idx := bundle.IndexOf(out, alt.Name)
	require.GreaterOrEqual(t, idx, 0)
	assert.Equal(t, withOptions.Bundle.AreaName, out[idx].Bundle.AreaName)
	assert.Equal(t, -1, bundle.IndexOf(out, withOptions.Bundle.Name))
}

func TestParseRollbackPolicy(t *testing.T) {
	p, err := ParseRollbackPolicy("")
	require.NoError(t, err)
	assert.Equal(t, RollbackRevert, p)
	p, err = ParseRollbackPolicy(" KEEP ")
	require.NoError(t, err)
	assert.Equal(t, RollbackKeep, p)
	_, err = ParseRollbackPolicy("retry")
	assert.Error(t, err)
}
