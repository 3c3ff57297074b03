package bundle

import (
	"encoding/json"
	"testing"

	"farmledger/internal/record"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCenterJSON = `{
  "Pantry": [
    {"name": "Spring Crops", "itemsRequired": 2, "items": [
      {"itemID": "24", "quantity": 1, "quality": 0},
      {"itemID": "188", "quantity": 1, "quality": 0}
    ]},
    {"options": [
      {"name": "Animal", "itemsRequired": 1, "items": [{"itemID": "186", "quantity": 1, "quality": 0}]},
      {"name": "Rare Crops", "itemsRequired": 2, "items": [
        {"itemID": "417", "quantity": 1, "quality": 0},
        {"options": [
          {"itemID": "454", "quantity": 1, "quality": 0},
          {"itemID": "347", "quantity": 1, "quality": 0}
        ], "selectionCount": 1}
      ]}
    ], "selectionCount": 1}
  ],
  "Fish Tank": [
    {"name": "Specialty Fish", "itemsRequired": 2, "items": {"options": [
      {"itemID": "128", "quantity": 1, "quality": 0},
      {"itemID": "156", "quantity": 1, "quality": 0},
      {"itemID": "164", "quantity": 1, "quality": 0}
    ], "selectionCount": 2}}
  ],
  "Bulletin Board": [
    {"name": "Dye", "itemsRequired": 3, "items": [
      {"options": [
        {"itemID": "420", "quantity": 1, "quality": 0},
        {"itemID": "260", "quantity": 1, "quality": 0}
      ], "selectionCount": 1},
      {"itemID": "397", "quantity": 1, "quality": 0},
      {"options": [
        {"itemID": "421", "quantity": 1, "quality": 0},
        {"itemID": "268", "quantity": 1, "quality": 0},
        {"itemID": "444", "quantity": 1, "quality": 0}
      ], "selectionCount": 2}
    ]}
  ],
  "Vault": [
    {"name": "2,500g", "itemsRequired": -1, "items": [{"itemID": "-1", "quantity": 2500, "quality": 0}]}
  ]
}`

func testCenter(t *testing.T) CommunityCenter {
	t.Helper()
	var c CommunityCenter
	require.NoError(t, json.Unmarshal([]byte(testCenterJSON), &c))
	return c
}

func itemIDs(items []BundleItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ItemID
	}
	return out
}

func bundleNames(bs []BundleWithStatus) []string {
	out := make([]string, len(bs))
	for i, b := range bs {
		out[i] = b.Bundle.Name
	}
	return out
}

func TestResolveItemRandomizers_InterleavedSlots(t *testing.T) {
	c := testCenter(t)
	dye := ResolveItemRandomizers(*c[BulletinBoard][0].Bundle)

	assert.Equal(t, []string{"420", "397", "421", "268"}, itemIDs(dye.Items))
	assert.Equal(t, 3, dye.ItemsRequired)
}

func TestResolveItemRandomizers_WholeListRandomizer(t *testing.T) {
	c := testCenter(t)
	fish := ResolveItemRandomizers(*c[FishTank][0].Bundle)
	assert.Equal(t, []string{"128", "156"}, itemIDs(fish.Items))
}

func TestResolveItemRandomizers_Deterministic(t *testing.T) {
	c := testCenter(t)
	spec := *c[BulletinBoard][0].Bundle

	first := ResolveItemRandomizers(spec)
	second := ResolveItemRandomizers(spec)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("resolution is not stable (-first +second):\n%s", diff)
	}
}

func TestRandomizer_SelectAll(t *testing.T) {
	r := Randomizer[BundleItem]{
		Options:        []BundleItem{{ItemID: "a"}, {ItemID: "b"}, {ItemID: "c"}},
		SelectionCount: 3,
	}
	assert.Equal(t, []string{"a", "b", "c"}, itemIDs(r.Selected()))

	r.SelectionCount = 10
	assert.Len(t, r.Selected(), 3)
	r.SelectionCount = -2
	assert.Empty(t, r.Selected())
}

func TestResolveBundleRandomizer(t *testing.T) {
	c := testCenter(t)
	got := ResolveBundleRandomizer(*c[Pantry][1].Randomizer)
	require.Len(t, got, 1)
	assert.Equal(t, "Animal", got[0].Name)
}

func TestAssembler_FreshBundles(t *testing.T) {
	a := NewAssembler(testCenter(t), nil)
	got := a.ActiveBundles(nil)

	assert.Equal(t, []string{"Spring Crops", "Animal", "Specialty Fish", "2,500g", "Dye"}, bundleNames(got))
	for _, b := range got {
		assert.Len(t, b.BundleStatus, len(b.Bundle.Items), b.Bundle.Name)
		assert.NotContains(t, b.BundleStatus, true)
		assert.Equal(t, b.Bundle.Name, b.Bundle.LocalizedName)
	}
	assert.Equal(t, Pantry, got[1].Bundle.AreaName)
	assert.Equal(t, Vault, got[3].Bundle.AreaName)
}

func TestAssembler_SavedBundlesAreKept(t *testing.T) {
	a := NewAssembler(testCenter(t), nil)
	saved := []BundleWithStatus{{
		Bundle:       Bundle{Name: "Spring Crops", LocalizedName: "Frühlingsernte", AreaName: Pantry, ItemsRequired: 2, Items: []BundleItem{{ItemID: "24"}, {ItemID: "188"}}},
		BundleStatus: []bool{true, false},
	}}

	got := a.ActiveBundles(saved)

	require.Len(t, got, 1)
	assert.Equal(t, "Frühlingsernte", got[0].Bundle.LocalizedName)
	assert.Equal(t, []bool{true, false}, got[0].BundleStatus)
}

func TestAssembler_AttachesRoomOptions(t *testing.T) {
	a := NewAssembler(testCenter(t), nil)
	got := a.ActiveBundles(nil)

	animal := got[IndexOf(got, "Animal")]
	require.Len(t, animal.Options, 2)
	assert.Equal(t, "Rare Crops", animal.Options[1].Name)
	assert.Equal(t, "Rare Crops", animal.Options[1].LocalizedName)
	assert.Equal(t, []string{"417", "454"}, itemIDs(animal.Options[1].Items))

	assert.Empty(t, got[IndexOf(got, "Spring Crops")].Options)

	alts := AlternateOptions(animal, got)
	require.Len(t, alts, 1)
	assert.Equal(t, "Rare Crops", alts[0].Name)
}

func TestAssembler_AttachesItemOptions(t *testing.T) {
	a := NewAssembler(testCenter(t), nil)
	got := a.ActiveBundles(nil)

	dye := got[IndexOf(got, "Dye")].Bundle
	assert.Equal(t, []string{"260"}, itemIDs(dye.Items[0].Options))
	assert.Empty(t, dye.Items[1].Options)
	assert.Equal(t, []string{"444"}, itemIDs(dye.Items[2].Options))
	assert.Equal(t, []string{"444"}, itemIDs(dye.Items[3].Options))

	fish := got[IndexOf(got, "Specialty Fish")].Bundle
	assert.Equal(t, []string{"164"}, itemIDs(fish.Items[0].Options))
	assert.Equal(t, []string{"164"}, itemIDs(fish.Items[1].Options))
}

func TestAssembler_MissingSpecIsSkipped(t *testing.T) {
	a := NewAssembler(testCenter(t), nil)
	saved := []BundleWithStatus{{
		Bundle:       Bundle{Name: "Retired Bundle", AreaName: Pantry, ItemsRequired: 1, Items: []BundleItem{{ItemID: "1"}}},
		BundleStatus: []bool{false},
	}}

	got := a.ActiveBundles(saved)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].Bundle.Items[0].Options)
}

func TestAssembler_DoesNotMutateInput(t *testing.T) {
	a := NewAssembler(testCenter(t), nil)
	fresh := a.Fresh()
	before := make([]BundleWithStatus, len(fresh))
	for i, b := range fresh {
		before[i] = b.Clone()
	}

	_ = a.AttachRandomizerData(fresh)

	if diff := cmp.Diff(before, fresh); diff != "" {
		t.Fatalf("input changed (-before +after):\n%s", diff)
	}
}

func TestAssembler_SwapPreservesRoom(t *testing.T) {
	a := NewAssembler(testCenter(t), nil)
	bundles := a.ActiveBundles(nil)
	old := bundles[IndexOf(bundles, "Animal")]
	old.BundleStatus[0] = true
	require.Equal(t, Pantry, old.Bundle.AreaName)

	next := old.Options[1]
	got, err := a.SwapBundle(bundles, next, old)
	require.NoError(t, err)

	swappedIn := got[IndexOf(got, "Rare Crops")]
	assert.Equal(t, Pantry, swappedIn.Bundle.AreaName)
	assert.Equal(t, []bool{false, false}, swappedIn.BundleStatus)
	assert.Equal(t, -1, IndexOf(got, "Animal"))
	require.Len(t, swappedIn.Options, 2)
	assert.Equal(t, []string{"347"}, itemIDs(swappedIn.Bundle.Items[1].Options))
	assert.Len(t, got, len(bundles))
}

func TestAssembler_SwapUnknownBundle(t *testing.T) {
	a := NewAssembler(testCenter(t), nil)
	bundles := a.ActiveBundles(nil)
	_, err := a.SwapBundle(bundles, Bundle{Name: "X"}, BundleWithStatus{Bundle: Bundle{Name: "Nope"}})
	assert.ErrorIs(t, err, ErrBundleNotFound)
}

func TestCompleted(t *testing.T) {
	b := BundleWithStatus{
		Bundle:       Bundle{ItemsRequired: 3, Items: make([]BundleItem, 4)},
		BundleStatus: []bool{true, true, false, true},
	}
	assert.False(t, b.Completed())
	b.BundleStatus[2] = true
	assert.True(t, b.Completed())

	gold := BundleWithStatus{Bundle: Bundle{ItemsRequired: GoldBundle}, BundleStatus: []bool{true, false, false}}
	assert.True(t, gold.Completed())
	gold.BundleStatus[0] = false
	assert.False(t, gold.Completed())
	assert.False(t, BundleWithStatus{Bundle: Bundle{ItemsRequired: GoldBundle}}.Completed())
}

func TestSummarize(t *testing.T) {
	done := BundleWithStatus{Bundle: Bundle{ItemsRequired: 1}, BundleStatus: []bool{true}}
	open := BundleWithStatus{Bundle: Bundle{ItemsRequired: 1}, BundleStatus: []bool{false}}

	p := Summarize([]BundleWithStatus{done, open, done}, 3)
	assert.Equal(t, Progress{Completed: 2, Total: 3, Threshold: 3, Remaining: 1}, p)

	p = Summarize([]BundleWithStatus{done, done}, 2)
	assert.True(t, p.Achieved)
	assert.Zero(t, p.Remaining)
}

func TestStatusPatch_EndToEnd(t *testing.T) {
	rec, err := record.DecodeNode([]byte(`{"_id":"p1","bundles":[{"bundle":{"name":"A","localizedName":"A","areaName":"Pantry","itemsRequired":2,"items":[{"itemID":"1","quantity":1,"quality":0},{"itemID":"2","quantity":1,"quality":0}]},"bundleStatus":[false,false]}]}`))
	require.NoError(t, err)
	bundles, err := FromRecord(rec)
	require.NoError(t, err)

	patch, err := StatusPatch(bundles, "A", 1, true)
	require.NoError(t, err)
	merged := record.MergeDeep(rec, record.Normalize(patch, rec)).(record.Node)

	after, err := FromRecord(merged)
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true}, after[0].BundleStatus)
	assert.Equal(t, "p1", merged.Text("_id"))

	before, err := FromRecord(rec)
	require.NoError(t, err)
	assert.Equal(t, []bool{false, false}, before[0].BundleStatus)
}

func TestStatusPatch_Errors(t *testing.T) {
	bundles := []BundleWithStatus{{Bundle: Bundle{Name: "A"}, BundleStatus: []bool{false}}}

	_, err := StatusPatch(bundles, "B", 0, true)
	assert.ErrorIs(t, err, ErrBundleNotFound)
	_, err = StatusPatch(bundles, "A", 1, true)
	assert.ErrorIs(t, err, ErrItemIndex)
}

func TestSwapPatch(t *testing.T) {
	bundles := []BundleWithStatus{
		{Bundle: Bundle{Name: "Keep", AreaName: Pantry, Items: []BundleItem{{ItemID: "1"}}}, BundleStatus: []bool{true}},
		{Bundle: Bundle{Name: "Old", AreaName: Pantry, Items: []BundleItem{{ItemID: "2"}}}, BundleStatus: []bool{true}},
	}
	rec, err := record.FromStruct(map[string]any{"bundles": bundles})
	require.NoError(t, err)

	patch, err := SwapPatch(bundles, Bundle{Name: "New", Items: []BundleItem{{ItemID: "3"}, {ItemID: "4"}}}, bundles[1])
	require.NoError(t, err)
	merged := record.MergeDeep(rec, record.Normalize(patch, rec)).(record.Node)

	after, err := FromRecord(merged)
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, "Keep", after[0].Bundle.Name)
	assert.Equal(t, "New", after[1].Bundle.Name)
	assert.Equal(t, Pantry, after[1].Bundle.AreaName)
	assert.Equal(t, []bool{false, false}, after[1].BundleStatus)
}

func TestFromRecord_MissingSection(t *testing.T) {
	got, err := FromRecord(record.Node{"_id": record.String("p")})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestItemList_RoundTripKeepsShape(t *testing.T) {
	c := testCenter(t)
	b, err := json.Marshal(c[BulletinBoard][0])
	require.NoError(t, err)

	var back BundleEntry
	require.NoError(t, json.Unmarshal(b, &back))
	require.NotNil(t, back.Bundle)
	require.Len(t, back.Bundle.Items.Slots, 3)
	assert.NotNil(t, back.Bundle.Items.Slots[0].Randomizer)
	assert.NotNil(t, back.Bundle.Items.Slots[1].Item)
}

func TestSchema(t *testing.T) {
	s := Schema()
	require.NotNil(t, s)
	b, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(b), "bundleStatus")
}
