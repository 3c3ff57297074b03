// Package catalog holds the static game content: the community center bundle
// specification and item metadata. The embedded catalog is loaded once and only
// handed out as copies.
package catalog

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"sync"

	"farmledger/internal/bundle"
)

//go:embed data/*.json
var embedded embed.FS

const (
	bundlesFile = "data/bundles.json"
	itemsFile   = "data/items.json"
)

type Item struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type Catalog struct {
	center bundle.CommunityCenter
	items  map[string]Item
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
)

// Default returns the embedded catalog. The embedded files ship with the
// binary, so a decode failure is a build defect and panics.
func Default() *Catalog {
	defaultOnce.Do(func() {
		c, err := Load(embedded)
		if err != nil {
			panic(fmt.Sprintf("catalog: embedded content is invalid: %v", err))
		}
		defaultCatalog = c
	})
	return defaultCatalog
}

// Load reads data/bundles.json and data/items.json from fsys.
func Load(fsys fs.FS) (*Catalog, error) {
	rawBundles, err := fs.ReadFile(fsys, bundlesFile)
	if err != nil {
		return nil, err
	}
	var center bundle.CommunityCenter
	if err := json.Unmarshal(rawBundles, &center); err != nil {
		return nil, fmt.Errorf("decode %s: %w", bundlesFile, err)
	}
	for _, room := range bundle.Rooms() {
		if _, ok := center[room]; !ok {
			return nil, fmt.Errorf("decode %s: missing room %q", bundlesFile, room)
		}
	}

	rawItems, err := fs.ReadFile(fsys, itemsFile)
	if err != nil {
		return nil, err
	}
	var items map[string]Item
	if err := json.Unmarshal(rawItems, &items); err != nil {
		return nil, fmt.Errorf("decode %s: %w", itemsFile, err)
	}
	for id, it := range items {
		it.ID = id
		items[id] = it
	}

	return &Catalog{center: center, items: items}, nil
}

// CommunityCenter returns a copy of the room to bundle specification table.
func (c *Catalog) CommunityCenter() bundle.CommunityCenter {
	return c.center.Clone()
}

func (c *Catalog) Item(id string) (Item, bool) {
	it, ok := c.items[id]
	return it, ok
}

// IconURL is where item artwork is served from.
func IconURL(itemID string) string {
	return "https://cdn.stardew.app/images/(O)" + itemID + ".webp"
}
