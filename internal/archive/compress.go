package archive

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// zstdCodec lazily builds a shared encoder/decoder pair, guarded by a
// mutex rather than pooled per goroutine. Compression runs synchronously
// on the store's eviction path (Writer.Archive is called from
// store.evictRow), one span at a time.
var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
	zstdErr  error
	zstdMu   sync.Mutex
)

func zstdCodec() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEnc, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if zstdErr != nil {
			return
		}
		zstdDec, zstdErr = zstd.NewReader(nil)
	})
	return zstdEnc, zstdDec, zstdErr
}

func zstdCompressBlock(src []byte) ([]byte, error) {
	enc, _, err := zstdCodec()
	if err != nil {
		return nil, fmt.Errorf("archive: init zstd encoder: %w", err)
	}
	zstdMu.Lock()
	defer zstdMu.Unlock()
	return enc.EncodeAll(src, nil), nil
}

func zstdDecompressBlock(src []byte, sizeHint int) ([]byte, error) {
	_, dec, err := zstdCodec()
	if err != nil {
		return nil, fmt.Errorf("archive: init zstd decoder: %w", err)
	}
	zstdMu.Lock()
	defer zstdMu.Unlock()
	return dec.DecodeAll(src, make([]byte, 0, sizeHint))
}
