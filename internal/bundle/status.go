package bundle

import (
	"errors"
	"fmt"

	"farmledger/internal/record"
)

// SectionKey is the record section holding bundle progress.
const SectionKey = "bundles"

var ErrItemIndex = errors.New("item index out of range")

// Completed reports whether every status up to ItemsRequired is set. Gold
// bundles only look at the first status.
func (b BundleWithStatus) Completed() bool {
	if b.Bundle.ItemsRequired == GoldBundle {
		return len(b.BundleStatus) > 0 && b.BundleStatus[0]
	}
	n := b.Bundle.ItemsRequired
	if n < 0 {
		n = 0
	}
	if n > len(b.BundleStatus) {
		n = len(b.BundleStatus)
	}
	for _, done := range b.BundleStatus[:n] {
		if !done {
			return false
		}
	}
	return true
}

// Progress summarizes community center completion.
type Progress struct {
	Completed int  `json:"completed"`
	Total     int  `json:"total"`
	Threshold int  `json:"threshold"`
	Remaining int  `json:"remaining"`
	Achieved  bool `json:"achieved"`
}

// Summarize counts completed bundles against the number needed to restore the
// community center.
func Summarize(bundles []BundleWithStatus, threshold int) Progress {
	p := Progress{Total: len(bundles), Threshold: threshold}
	for _, b := range bundles {
		if b.Completed() {
			p.Completed++
		}
	}
	p.Achieved = p.Completed >= threshold
	if !p.Achieved {
		p.Remaining = threshold - p.Completed
	}
	return p
}

// FromRecord decodes the bundles section of a player record. A record without
// the section yields nil.
func FromRecord(rec record.Node) ([]BundleWithStatus, error) {
	v, ok := rec[SectionKey]
	if !ok {
		return nil, nil
	}
	if l, ok := v.(record.Leaf); ok && l.IsNull() {
		return nil, nil
	}
	var out []BundleWithStatus
	if err := record.ToStruct(v, &out); err != nil {
		return nil, fmt.Errorf("decode bundles section: %w", err)
	}
	return out, nil
}

// StatusPatch builds the sparse patch that marks one item of one bundle.
func StatusPatch(bundles []BundleWithStatus, bundleName string, itemIndex int, done bool) (record.Patch, error) {
	idx := IndexOf(bundles, bundleName)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %q", ErrBundleNotFound, bundleName)
	}
	if itemIndex < 0 || itemIndex >= len(bundles[idx].BundleStatus) {
		return nil, fmt.Errorf("%w: %d", ErrItemIndex, itemIndex)
	}
	return record.Fields{
		SectionKey: record.Elements{
			idx: record.Fields{
				"bundleStatus": record.Elements{
					itemIndex: record.Set(record.Bool(done)),
				},
			},
		},
	}, nil
}

// SwapPatch builds the patch that stores a swapped bundle in place of old.
func SwapPatch(bundles []BundleWithStatus, next Bundle, old BundleWithStatus) (record.Patch, error) {
	idx := IndexOf(bundles, old.Bundle.Name)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %q", ErrBundleNotFound, old.Bundle.Name)
	}
	v, err := record.FromStruct(swapped(next, old))
	if err != nil {
		return nil, err
	}
	return record.Fields{
		SectionKey: record.Elements{idx: record.Set(v)},
	}, nil
}
