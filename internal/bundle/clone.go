package bundle

func cloneItems(items []BundleItem) []BundleItem {
	if items == nil {
		return nil
	}
	out := make([]BundleItem, len(items))
	for i, it := range items {
		out[i] = it
		out[i].Options = cloneItems(it.Options)
	}
	return out
}

func cloneItemRandomizer(r *Randomizer[BundleItem]) *Randomizer[BundleItem] {
	if r == nil {
		return nil
	}
	return &Randomizer[BundleItem]{Options: cloneItems(r.Options), SelectionCount: r.SelectionCount}
}

func (b Bundle) Clone() Bundle {
	b.Items = cloneItems(b.Items)
	return b
}

func cloneBundles(bs []Bundle) []Bundle {
	if bs == nil {
		return nil
	}
	out := make([]Bundle, len(bs))
	for i, b := range bs {
		out[i] = b.Clone()
	}
	return out
}

func (b BundleWithStatus) Clone() BundleWithStatus {
	return BundleWithStatus{
		Bundle:       b.Bundle.Clone(),
		BundleStatus: append([]bool(nil), b.BundleStatus...),
		Options:      cloneBundles(b.Options),
	}
}

func (s BundleSpec) Clone() BundleSpec {
	out := s
	out.Items = ItemList{Randomizer: cloneItemRandomizer(s.Items.Randomizer)}
	if s.Items.Slots != nil {
		out.Items.Slots = make([]ItemSlot, len(s.Items.Slots))
		for i, slot := range s.Items.Slots {
			if slot.Item != nil {
				it := *slot.Item
				it.Options = cloneItems(slot.Item.Options)
				out.Items.Slots[i].Item = &it
			}
			out.Items.Slots[i].Randomizer = cloneItemRandomizer(slot.Randomizer)
		}
	}
	return out
}

// Clone returns a deep copy of the specification.
func (c CommunityCenter) Clone() CommunityCenter {
	if c == nil {
		return nil
	}
	out := make(CommunityCenter, len(c))
	for room, entries := range c {
		cp := make([]BundleEntry, len(entries))
		for i, e := range entries {
			if e.Bundle != nil {
				b := e.Bundle.Clone()
				cp[i].Bundle = &b
			}
			if e.Randomizer != nil {
				opts := make([]BundleSpec, len(e.Randomizer.Options))
				for j, o := range e.Randomizer.Options {
					opts[j] = o.Clone()
				}
				cp[i].Randomizer = &Randomizer[BundleSpec]{Options: opts, SelectionCount: e.Randomizer.SelectionCount}
			}
		}
		out[room] = cp
	}
	return out
}
