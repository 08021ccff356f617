package ring

// View is the result of a peek. It either aliases the buffer's backing
// region directly, or owns a reassembled copy of a chunk that was split at
// the end of the region. Either way the bytes stay valid until the matching
// commit and must not be retained after it.
type View struct {
	data        []byte
	reassembled bool
}

func (v View) Bytes() []byte {
	return v.data
}

func (v View) Len() int {
	return len(v.data)
}

func (v View) Empty() bool {
	return len(v.data) == 0
}

// Reassembled reports whether the view is a copy made because the chunk
// straddled the end of the backing region.
func (v View) Reassembled() bool {
	return v.reassembled
}
