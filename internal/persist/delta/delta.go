// Package delta encodes object graphs into checkpoint deltas and decodes them
// back, preserving identity through reference ids.
//
// A delta carries a payload of serialized associations, one reference array
// per association, the next free reference id and the client data blobs.
// Deltas are wrapped in a checksummed frame before they reach a backend.
package delta

// Meta describes where a delta sits in its agent's history.
type Meta struct {
	Agent     string `cbor:"1,keyasint"`
	Number    int    `cbor:"2,keyasint"`
	Full      bool   `cbor:"3,keyasint"`
	Timestamp int64  `cbor:"4,keyasint"`
}

// Delta is the unit written to a backend.
type Delta struct {
	NextID     int32             `cbor:"1,keyasint"`
	Meta       Meta              `cbor:"2,keyasint"`
	Refs       [][]int32         `cbor:"3,keyasint"`
	Payload    []byte            `cbor:"4,keyasint"`
	ClientData map[string][]byte `cbor:"5,keyasint,omitempty"`
}
