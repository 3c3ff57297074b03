// Package bundle resolves the community center content specification into
// per-player bundle instances and tracks their completion.
package bundle

import (
	"bytes"
	"encoding/json"
	"errors"
)

type RoomName string

const (
	Pantry            RoomName = "Pantry"
	CraftsRoom        RoomName = "Crafts Room"
	FishTank          RoomName = "Fish Tank"
	BoilerRoom        RoomName = "Boiler Room"
	Vault             RoomName = "Vault"
	BulletinBoard     RoomName = "Bulletin Board"
	AbandonedJojaMart RoomName = "Abandoned Joja Mart"
)

// GoldBundle is the itemsRequired sentinel for bundles paid in gold. Their
// status slice has a single entry for the whole bundle.
const GoldBundle = -1

var rooms = []RoomName{
	Pantry,
	CraftsRoom,
	FishTank,
	BoilerRoom,
	Vault,
	BulletinBoard,
	AbandonedJojaMart,
}

// Rooms returns the community center rooms in display order.
func Rooms() []RoomName {
	return append([]RoomName(nil), rooms...)
}

type BundleItem struct {
	ItemID   string `json:"itemID"`
	Quantity int    `json:"quantity"`
	Quality  int    `json:"quality"`
	// Options lists alternates for an item that came from a randomizer slot.
	Options []BundleItem `json:"options,omitempty"`
}

// Randomizer means exactly SelectionCount of Options are active for a save. The
// content file already orders Options so the active ones come first.
type Randomizer[T any] struct {
	Options        []T `json:"options"`
	SelectionCount int `json:"selectionCount"`
}

// Selected returns the first SelectionCount options.
func (r Randomizer[T]) Selected() []T {
	n := r.SelectionCount
	if n < 0 {
		n = 0
	}
	if n > len(r.Options) {
		n = len(r.Options)
	}
	return append([]T(nil), r.Options[:n]...)
}

// ItemSlot is one entry of a bundle specification's item list: either a plain
// item or a randomizer over items.
type ItemSlot struct {
	Item       *BundleItem
	Randomizer *Randomizer[BundleItem]
}

// ItemList is a bundle specification's items: either a randomizer over the whole
// list or a sequence of slots.
type ItemList struct {
	Randomizer *Randomizer[BundleItem]
	Slots      []ItemSlot
}

type BundleSpec struct {
	Name          string   `json:"name"`
	LocalizedName string   `json:"localizedName,omitempty"`
	AreaName      RoomName `json:"areaName,omitempty"`
	ItemsRequired int      `json:"itemsRequired"`
	Items         ItemList `json:"items"`
}

// BundleEntry is one entry of a room specification: a bundle or a randomizer
// over bundles.
type BundleEntry struct {
	Bundle     *BundleSpec
	Randomizer *Randomizer[BundleSpec]
}

// CommunityCenter maps each room to its ordered bundle specification.
type CommunityCenter map[RoomName][]BundleEntry

// Bundle is a resolved bundle with concrete items.
type Bundle struct {
	Name          string       `json:"name"`
	LocalizedName string       `json:"localizedName"`
	AreaName      RoomName     `json:"areaName"`
	ItemsRequired int          `json:"itemsRequired"`
	Items         []BundleItem `json:"items"`
}

// BundleWithStatus pairs a bundle with per-item completion. Options, when set,
// lists the sibling bundles of the room randomizer this bundle came from.
type BundleWithStatus struct {
	Bundle       Bundle   `json:"bundle"`
	BundleStatus []bool   `json:"bundleStatus"`
	Options      []Bundle `json:"options,omitempty"`
}

var errAmbiguousEntry = errors.New("entry must be either a value or a randomizer")

func isRandomizerJSON(data []byte) bool {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return false
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return false
	}
	_, hasOptions := probe["options"]
	_, hasCount := probe["selectionCount"]
	return hasOptions && hasCount
}

func (s *ItemSlot) UnmarshalJSON(data []byte) error {
	*s = ItemSlot{}
	if isRandomizerJSON(data) {
		var r Randomizer[BundleItem]
		if err := json.Unmarshal(data, &r); err != nil {
			return err
		}
		s.Randomizer = &r
		return nil
	}
	var it BundleItem
	if err := json.Unmarshal(data, &it); err != nil {
		return err
	}
	s.Item = &it
	return nil
}

func (s ItemSlot) MarshalJSON() ([]byte, error) {
	switch {
	case s.Randomizer != nil && s.Item == nil:
		return json.Marshal(s.Randomizer)
	case s.Item != nil && s.Randomizer == nil:
		return json.Marshal(s.Item)
	}
	return nil, errAmbiguousEntry
}

func (l *ItemList) UnmarshalJSON(data []byte) error {
	*l = ItemList{}
	if isRandomizerJSON(data) {
		var r Randomizer[BundleItem]
		if err := json.Unmarshal(data, &r); err != nil {
			return err
		}
		l.Randomizer = &r
		return nil
	}
	return json.Unmarshal(data, &l.Slots)
}

func (l ItemList) MarshalJSON() ([]byte, error) {
	if l.Randomizer != nil {
		return json.Marshal(l.Randomizer)
	}
	if l.Slots == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l.Slots)
}

func (e *BundleEntry) UnmarshalJSON(data []byte) error {
	*e = BundleEntry{}
	if isRandomizerJSON(data) {
		var r Randomizer[BundleSpec]
		if err := json.Unmarshal(data, &r); err != nil {
			return err
		}
		e.Randomizer = &r
		return nil
	}
	var b BundleSpec
	if err := json.Unmarshal(data, &b); err != nil {
		return err
	}
	e.Bundle = &b
	return nil
}

func (e BundleEntry) MarshalJSON() ([]byte, error) {
	switch {
	case e.Randomizer != nil && e.Bundle == nil:
		return json.Marshal(e.Randomizer)
	case e.Bundle != nil && e.Randomizer == nil:
		return json.Marshal(e.Bundle)
	}
	return nil, errAmbiguousEntry
}
