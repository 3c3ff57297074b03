package bundle

import (
	"errors"

	"go.uber.org/zap"
)

var ErrBundleNotFound = errors.New("bundle not found")

// Assembler builds a player's active bundle list from a community center
// specification. The specification is never modified.
type Assembler struct {
	center CommunityCenter
	logger *zap.Logger
}

func NewAssembler(center CommunityCenter, logger *zap.Logger) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{center: center.Clone(), logger: logger}
}

// ActiveBundles returns the player's saved bundles when there are any, otherwise
// a fresh resolution of the specification with every status false. The result
// is annotated with randomizer alternates.
func (a *Assembler) ActiveBundles(saved []BundleWithStatus) []BundleWithStatus {
	if len(saved) > 0 {
		return a.AttachRandomizerData(saved)
	}
	return a.AttachRandomizerData(a.Fresh())
}

// Fresh resolves every room of the specification into unstarted bundles.
func (a *Assembler) Fresh() []BundleWithStatus {
	var out []BundleWithStatus
	for _, room := range rooms {
		for _, entry := range a.center[room] {
			for _, b := range resolveEntry(entry) {
				b.AreaName = room
				b.LocalizedName = b.Name
				out = append(out, BundleWithStatus{
					Bundle:       b,
					BundleStatus: make([]bool, len(b.Items)),
				})
			}
		}
	}
	return out
}

// AttachRandomizerData returns a copy of bundles annotated with alternates:
// bundles drawn from a room randomizer get every sibling option, and items drawn
// from an item randomizer get the options not already used by the bundle.
// Annotations are recomputed from scratch on every call.
func (a *Assembler) AttachRandomizerData(bundles []BundleWithStatus) []BundleWithStatus {
	out := make([]BundleWithStatus, len(bundles))
	for i, b := range bundles {
		out[i] = b.Clone()
		out[i].Options = nil
		for j := range out[i].Bundle.Items {
			out[i].Bundle.Items[j].Options = nil
		}
	}

	for _, room := range rooms {
		for _, entry := range a.center[room] {
			if entry.Randomizer == nil {
				continue
			}
			names := map[string]bool{}
			options := make([]Bundle, 0, len(entry.Randomizer.Options))
			for _, spec := range entry.Randomizer.Options {
				names[spec.Name] = true
				resolved := ResolveItemRandomizers(spec)
				resolved.LocalizedName = resolved.Name
				options = append(options, resolved)
			}
			for i := range out {
				if names[out[i].Bundle.Name] {
					out[i].Options = cloneBundles(options)
				}
			}
		}
	}

	for i := range out {
		a.attachItemOptions(&out[i].Bundle)
	}
	return out
}

func (a *Assembler) attachItemOptions(b *Bundle) {
	if b.AreaName == "" {
		return
	}
	spec, ok := a.findSpec(b.AreaName, b.Name)
	if !ok {
		a.logger.Debug("no specification for bundle",
			zap.String("bundle", b.Name),
			zap.String("room", string(b.AreaName)))
		return
	}

	used := make(map[string]bool, len(b.Items))
	for _, it := range b.Items {
		used[it.ItemID] = true
	}
	unused := func(r *Randomizer[BundleItem]) []BundleItem {
		var alt []BundleItem
		for _, opt := range r.Options {
			if !used[opt.ItemID] {
				alt = append(alt, opt)
			}
		}
		return alt
	}
	setRange := func(start, count int, alt []BundleItem) {
		for pos := start; pos < start+count && pos < len(b.Items); pos++ {
			b.Items[pos].Options = cloneItems(alt)
		}
	}

	if r := spec.Items.Randomizer; r != nil {
		setRange(0, r.SelectionCount, unused(r))
		return
	}

	pos := 0
	for _, slot := range spec.Items.Slots {
		if slot.Randomizer == nil {
			pos++
			continue
		}
		setRange(pos, slot.Randomizer.SelectionCount, unused(slot.Randomizer))
		pos += slot.Randomizer.SelectionCount
	}
}

// findSpec looks a bundle up by name among a room's plain bundles and
// randomizer options.
func (a *Assembler) findSpec(room RoomName, name string) (BundleSpec, bool) {
	for _, entry := range a.center[room] {
		if entry.Bundle != nil && entry.Bundle.Name == name {
			return *entry.Bundle, true
		}
		if entry.Randomizer != nil {
			for _, spec := range entry.Randomizer.Options {
				if spec.Name == name {
					return spec, true
				}
			}
		}
	}
	return BundleSpec{}, false
}

// SwapBundle replaces the bundle named like old with next. The replacement keeps
// old's room, starts with every status false, and the whole list is annotated
// again.
func (a *Assembler) SwapBundle(bundles []BundleWithStatus, next Bundle, old BundleWithStatus) ([]BundleWithStatus, error) {
	idx := IndexOf(bundles, old.Bundle.Name)
	if idx < 0 {
		return nil, ErrBundleNotFound
	}
	out := make([]BundleWithStatus, len(bundles))
	copy(out, bundles)
	out[idx] = swapped(next, old)
	return a.AttachRandomizerData(out), nil
}

func swapped(next Bundle, old BundleWithStatus) BundleWithStatus {
	b := next.Clone()
	b.AreaName = old.Bundle.AreaName
	for i := range b.Items {
		b.Items[i].Options = nil
	}
	return BundleWithStatus{
		Bundle:       b,
		BundleStatus: make([]bool, len(b.Items)),
	}
}

// IndexOf returns the position of the bundle with the given name, or -1.
func IndexOf(bundles []BundleWithStatus, name string) int {
	for i, b := range bundles {
		if b.Bundle.Name == name {
			return i
		}
	}
	return -1
}

// AlternateOptions returns b's sibling options that are not already active.
func AlternateOptions(b BundleWithStatus, active []BundleWithStatus) []Bundle {
	var out []Bundle
	for _, opt := range b.Options {
		if IndexOf(active, opt.Name) < 0 {
			out = append(out, opt.Clone())
		}
	}
	return out
}
