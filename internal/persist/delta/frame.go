package delta

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/codeaudit/cougaar-core-sub004/pkg/crypto/adaptive"
)

// Frame layout:
//
//	magic(8) | version(1) | flags(1) | body length(4, big endian) | body | sha256(32)
//
// The checksum covers everything before it. The body is the CBOR encoded
// Delta, compressed and then sealed when the corresponding flags are set.
var magicBytes = []byte("CKPTDLTA")

const (
	frameVersion = 1
	headerSize   = 8 + 1 + 1 + 4
	checksumSize = sha256.Size

	flagCompressionMask = 0x03
	flagEncrypted       = 0x04
	flagChaCha          = 0x08
)

// Compression selects how frame bodies are compressed.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionZstd
	CompressionLZ4
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

// ParseCompression parses a compression name. The empty string means none.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return CompressionNone, nil
	case "zstd":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	default:
		return 0, fmt.Errorf("delta: unknown compression %q", s)
	}
}

// FrameOptions configures Marshal and Unmarshal. A nil Keys disables
// encryption.
type FrameOptions struct {
	Compression Compression
	Keys        *adaptive.Keyring
}

// FrameInfo is the header of a frame.
type FrameInfo struct {
	Version     uint8
	Compression Compression
	Encrypted   bool
	Cipher      adaptive.CipherType
	BodySize    int
}

var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
	zstdErr  error
)

func zstdCodec() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEnc, zstdErr = zstd.NewWriter(nil)
		if zstdErr != nil {
			return
		}
		zstdDec, zstdErr = zstd.NewReader(nil)
	})
	return zstdEnc, zstdDec, zstdErr
}

// Marshal encodes d into a frame.
func Marshal(d *Delta, opts FrameOptions) ([]byte, error) {
	body, err := encMode.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("delta: marshal: %w", err)
	}
	body, err = compress(body, opts.Compression)
	if err != nil {
		return nil, err
	}

	header := make([]byte, headerSize, headerSize+len(body)+checksumSize+64)
	copy(header, magicBytes)
	header[8] = frameVersion
	header[9] = byte(opts.Compression) & flagCompressionMask
	if opts.Keys != nil {
		c := opts.Keys.Preferred()
		header[9] |= flagEncrypted
		if c.Type() == adaptive.CipherChaCha20 {
			header[9] |= flagChaCha
		}
		body, err = c.Encrypt(body, header[:10])
		if err != nil {
			return nil, fmt.Errorf("delta: encrypt: %w", err)
		}
	}
	binary.BigEndian.PutUint32(header[10:14], uint32(len(body)))

	out := append(header, body...)
	sum := sha256.Sum256(out)
	return append(out, sum[:]...), nil
}

// Unmarshal verifies and decodes a frame.
func Unmarshal(data []byte, opts FrameOptions) (*Delta, error) {
	info, err := ReadFrameInfo(data)
	if err != nil {
		return nil, err
	}
	body := data[headerSize : headerSize+info.BodySize]
	if info.Encrypted {
		if opts.Keys == nil {
			return nil, ErrEncrypted
		}
		c, err := opts.Keys.Get(info.Cipher)
		if err != nil {
			return nil, err
		}
		body, err = c.Decrypt(body, data[:10])
		if err != nil {
			return nil, fmt.Errorf("delta: decrypt: %w", err)
		}
	}
	body, err = decompress(body, info.Compression)
	if err != nil {
		return nil, err
	}
	var d Delta
	if err := decMode.Unmarshal(body, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return &d, nil
}

// ReadFrameInfo validates the magic bytes, length and checksum of a frame and
// returns its header.
func ReadFrameInfo(data []byte) (FrameInfo, error) {
	if len(data) < headerSize+checksumSize {
		return FrameInfo{}, fmt.Errorf("%w: frame too short (%d bytes)", ErrCorrupt, len(data))
	}
	if !bytes.Equal(data[:8], magicBytes) {
		return FrameInfo{}, ErrInvalidMagic
	}
	info := FrameInfo{
		Version:     data[8],
		Compression: Compression(data[9] & flagCompressionMask),
		Encrypted:   data[9]&flagEncrypted != 0,
		BodySize:    int(binary.BigEndian.Uint32(data[10:14])),
	}
	if info.Encrypted {
		info.Cipher = adaptive.CipherAESGCM
		if data[9]&flagChaCha != 0 {
			info.Cipher = adaptive.CipherChaCha20
		}
	}
	if info.Version != frameVersion {
		return info, fmt.Errorf("%w: %d", ErrUnsupported, info.Version)
	}
	if headerSize+info.BodySize+checksumSize != len(data) {
		return info, fmt.Errorf("%w: body length %d does not match frame size %d", ErrCorrupt, info.BodySize, len(data))
	}
	end := headerSize + info.BodySize
	sum := sha256.Sum256(data[:end])
	if !bytes.Equal(sum[:], data[end:]) {
		return info, ErrChecksumMismatch
	}
	return info, nil
}

func compress(body []byte, c Compression) ([]byte, error) {
	switch c {
	case CompressionNone:
		return body, nil
	case CompressionZstd:
		enc, _, err := zstdCodec()
		if err != nil {
			return nil, fmt.Errorf("delta: zstd: %w", err)
		}
		return enc.EncodeAll(body, nil), nil
	case CompressionLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(body); err != nil {
			return nil, fmt.Errorf("delta: lz4: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("delta: lz4: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("delta: unknown compression %d", c)
	}
}

func decompress(body []byte, c Compression) ([]byte, error) {
	switch c {
	case CompressionNone:
		return body, nil
	case CompressionZstd:
		_, dec, err := zstdCodec()
		if err != nil {
			return nil, fmt.Errorf("delta: zstd: %w", err)
		}
		out, err := dec.DecodeAll(body, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %v", ErrCorrupt, err)
		}
		return out, nil
	case CompressionLZ4:
		out, err := io.ReadAll(lz4.NewReader(bytes.NewReader(body)))
		if err != nil {
			return nil, fmt.Errorf("%w: lz4: %v", ErrCorrupt, err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown compression %d", ErrCorrupt, c)
	}
}
