package roomserver

// palette is the rotating set of colors assigned to peers who join without
// specifying one (§4.8: "pick from a rotating palette, avoiding collisions
// with existing peers when possible").
var palette = []string{
	"#e6194b", "#3cb44b", "#ffe119", "#4363d8", "#f58231",
	"#911eb4", "#46f0f0", "#f032e6", "#bcf60c", "#fabebe",
}

// assignColor picks the next palette entry not already in use by taken,
// advancing idx so repeated calls rotate through the full palette before
// recycling. If every color collides (more peers than palette entries),
// it falls back to the next rotation slot anyway.
func assignColor(taken map[string]bool, idx *int) string {
	for i := 0; i < len(palette); i++ {
		c := palette[(*idx+i)%len(palette)]
		if !taken[c] {
			*idx = (*idx + i + 1) % len(palette)
			return c
		}
	}
	c := palette[*idx%len(palette)]
	*idx = (*idx + 1) % len(palette)
	return c
}
