package bundle

// ResolveItemRandomizers turns a bundle specification into a concrete bundle.
// A randomizer over the whole item list contributes its selected options; a
// randomizer slot inside the list is replaced in place by its selected options.
// Relative order is kept throughout.
func ResolveItemRandomizers(spec BundleSpec) Bundle {
	out := Bundle{
		Name:          spec.Name,
		LocalizedName: spec.LocalizedName,
		AreaName:      spec.AreaName,
		ItemsRequired: spec.ItemsRequired,
	}
	if spec.Items.Randomizer != nil {
		out.Items = cloneItems(spec.Items.Randomizer.Selected())
		return out
	}

	items := make([]BundleItem, 0, len(spec.Items.Slots))
	for _, slot := range spec.Items.Slots {
		switch {
		case slot.Randomizer != nil:
			items = append(items, cloneItems(slot.Randomizer.Selected())...)
		case slot.Item != nil:
			items = append(items, cloneItems([]BundleItem{*slot.Item})...)
		}
	}
	out.Items = items
	return out
}

// ResolveBundleRandomizer returns the selected bundles of a room-level
// randomizer, each with its own item randomizers resolved.
func ResolveBundleRandomizer(r Randomizer[BundleSpec]) []Bundle {
	selected := r.Selected()
	out := make([]Bundle, 0, len(selected))
	for _, spec := range selected {
		out = append(out, ResolveItemRandomizers(spec))
	}
	return out
}

// resolveEntry resolves one room entry into its active bundles.
func resolveEntry(e BundleEntry) []Bundle {
	switch {
	case e.Randomizer != nil:
		return ResolveBundleRandomizer(*e.Randomizer)
	case e.Bundle != nil:
		return []Bundle{ResolveItemRandomizers(*e.Bundle)}
	}
	return nil
}
