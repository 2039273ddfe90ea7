// Package adaptive provides authenticated encryption for checkpoint frames.
//
// Two AEADs are supported:
//
//   - AES-256-GCM: preferred when hardware AES support is available
//   - ChaCha20-Poly1305: fallback for systems without AES-NI
//
// A Keyring holds both ciphers for one key. Writers seal with the preferred
// cipher and record its type; readers pick the matching cipher, so a frame
// sealed on one architecture opens on any other.
//
//	key, err := adaptive.DeriveKey(master, "planner")
//	ring, err := adaptive.NewKeyring(key)
//	sealed, err := ring.Preferred().Encrypt(plaintext, aad)
package adaptive
