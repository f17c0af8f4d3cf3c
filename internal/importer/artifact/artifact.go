// Package artifact compresses stored import artifacts and checks their
// integrity on read.
package artifact

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"
)

var ErrChecksum = errors.New("artifact checksum mismatch")

// domainKey separates artifact digests from any other blake3 use.
var domainKey = [32]byte{
	'g', 'r', 'e', 'e', 'n', 'l', 'e', 'd', 'g', 'e', 'r', '.',
	'i', 'm', 'p', 'o', 'r', 't', '.', 'a', 'r', 't', 'i', 'f', 'a', 'c', 't',
}

// zstd encoders and decoders are safe for concurrent use.
var (
	encoder *zstd.Encoder
	decoder *zstd.Decoder
)

func init() {
	var err error
	encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("artifact: zstd encoder initialization failed: " + err.Error())
	}
	decoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("artifact: zstd decoder initialization failed: " + err.Error())
	}
}

type Blob struct {
	Content  []byte
	Checksum string
	Size     int
}

// Seal compresses data and records the checksum of the uncompressed bytes.
func Seal(data []byte) Blob {
	return Blob{
		Content:  encoder.EncodeAll(data, make([]byte, 0, len(data)/2)),
		Checksum: Checksum(data),
		Size:     len(data),
	}
}

// Open decompresses b and verifies its checksum.
func Open(b Blob) ([]byte, error) {
	if len(b.Content) == 0 {
		if b.Size != 0 || b.Checksum != Checksum(nil) {
			return nil, ErrChecksum
		}
		return []byte{}, nil
	}
	out, err := decoder.DecodeAll(b.Content, make([]byte, 0, b.Size))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if len(out) != b.Size || Checksum(out) != b.Checksum {
		return nil, ErrChecksum
	}
	return out, nil
}

// Checksum is the hex keyed blake3 digest of data.
func Checksum(data []byte) string {
	hasher, err := blake3.NewKeyed(domainKey[:])
	if err != nil {
		panic("artifact: blake3 keyed hash initialization failed: " + err.Error())
	}
	_, _ = hasher.Write(data)
	return hex.EncodeToString(hasher.Sum(nil))
}
