package server

import "github.com/google/uuid"

// ConnID is a stable handle identifying one server-side connection in the
// server's slab. Rooms and the client registry store ConnID values rather
// than raw connection references, so a departed connection is simply a
// ConnID whose slab entry has been removed or whose endpoint is closed —
// the "stable connection id into a slab" design note from spec.md §9.
type ConnID uuid.UUID

// NewConnID allocates a fresh, unique ConnID.
func NewConnID() ConnID {
	return ConnID(uuid.New())
}

// String renders the ConnID in its canonical UUID form.
func (c ConnID) String() string {
	return uuid.UUID(c).String()
}
