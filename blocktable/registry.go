package blocktable

// Location pinpoints one generation's image: the physical BT block
// that holds it and the page offset its prefix starts at (a single
// physical block accumulates generations sequentially until it fills,
// see Write_Block_Table in persist.go).
type Location struct {
	PhysBlock uint32
	PageOff   uint16
}

// Registry is the ordered ring of physical blocks that have ever held a
// block-table image, keyed by tag. At most one physical block/offset is
// registered per tag (invariant 5, BT-block uniqueness).
type Registry struct {
	byTag map[uint8]Location
	// lastErased tracks BT_Garbage_Collection's walk position across
	// calls so a sweep resumes where the last one left off rather than
	// always starting at FirstBTID.
	lastErased uint8
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byTag: map[uint8]Location{}}
}

// Register records loc as the BT block/offset for tag, evicting any
// prior location recorded under the same tag (a tag is reused only
// after its prior generation has been GC'd).
func (r *Registry) Register(tag uint8, loc Location) {
	r.byTag[tag] = loc
}

// Unregister removes tag's entry, called once BT-GC erases its block.
func (r *Registry) Unregister(tag uint8) {
	delete(r.byTag, tag)
}

// Lookup returns the location registered for tag, if any.
func (r *Registry) Lookup(tag uint8) (Location, bool) {
	p, ok := r.byTag[tag]
	return p, ok
}

// PhysicalBlocks returns the set of distinct physical blocks currently
// referenced by any registered tag, used by GC to know which physical
// blocks are "owned" by the BT subsystem and must not be touched by
// data-block GC.
func (r *Registry) PhysicalBlocks() map[uint32]bool {
	out := map[uint32]bool{}
	for _, loc := range r.byTag {
		out[loc.PhysBlock] = true
	}
	return out
}

// Tags returns every currently-registered tag, in no particular order.
func (r *Registry) Tags() []uint8 {
	out := make([]uint8, 0, len(r.byTag))
	for t := range r.byTag {
		out = append(out, t)
	}
	return out
}

// Empty reports whether the registry has no entries at all, the
// condition that sends mount recovery into SPL_Recovery/AUTO_FORMAT_FLASH.
func (r *Registry) Empty() bool { return len(r.byTag) == 0 }

// LastErased / SetLastErased track BT_Garbage_Collection's resume point.
func (r *Registry) LastErased() uint8        { return r.lastErased }
func (r *Registry) SetLastErased(tag uint8) { r.lastErased = tag }
