package delta

import "errors"

var (
	ErrUnregisteredType = errors.New("delta: type is not registered")
	ErrUnknownType      = errors.New("delta: unknown type tag")
	ErrTypeCollision    = errors.New("delta: type tag collision")
	ErrTypeMismatch     = errors.New("delta: type mismatch")
	ErrCorrupt          = errors.New("delta: corrupt payload")
	ErrInvalidMagic     = errors.New("delta: invalid magic bytes")
	ErrChecksumMismatch = errors.New("delta: checksum mismatch")
	ErrEncrypted        = errors.New("delta: frame is encrypted and no cipher is configured")
	ErrUnsupported      = errors.New("delta: unsupported frame version")
)
