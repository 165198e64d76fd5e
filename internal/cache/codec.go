package cache

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/kjstillabower/forecast-enhancer/internal/models"
)

// Remote caches store entries as zstd-compressed JSON. A daily+hourly
// forecast is ~8 KB of JSON and compresses to roughly a fifth of that.

var encoder *zstd.Encoder

var decoderPool = sync.Pool{
	New: func() any {
		d, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		if err != nil {
			panic(fmt.Sprintf("create zstd decoder: %v", err))
		}
		return d
	},
}

func init() {
	var err error
	encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		panic(fmt.Sprintf("create zstd encoder: %v", err))
	}
}

func encodeEntry(v models.EnhancedForecast) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode entry: %w", err)
	}
	return encoder.EncodeAll(raw, make([]byte, 0, len(raw)/3)), nil
}

func decodeEntry(data []byte) (models.EnhancedForecast, error) {
	d := decoderPool.Get().(*zstd.Decoder)
	defer decoderPool.Put(d)

	raw, err := d.DecodeAll(data, nil)
	if err != nil {
		return models.EnhancedForecast{}, fmt.Errorf("decompress entry: %w", err)
	}
	var v models.EnhancedForecast
	if err := json.Unmarshal(raw, &v); err != nil {
		return models.EnhancedForecast{}, fmt.Errorf("decode entry: %w", err)
	}
	return v, nil
}
