package llm

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"github.com/mlenz/resell-scout/internal/pipeline"
	"github.com/mlenz/resell-scout/internal/storage"
	"github.com/rs/zerolog/log"
)

// CachedAnalyzer wraps a VisionAnalyzer with SQLite caching, so re-running
// the tool on the same photos never pays for a second vision call.
type CachedAnalyzer struct {
	inner VisionAnalyzer
	store storage.Store
}

// NewCachedAnalyzer creates a cached analyzer.
func NewCachedAnalyzer(inner VisionAnalyzer, store storage.Store) *CachedAnalyzer {
	return &CachedAnalyzer{inner: inner, store: store}
}

// hashImages creates a SHA256 hash from image data.
// Includes length prefix for each image to prevent boundary collisions.
func hashImages(images [][]byte) string {
	h := sha256.New()
	for _, img := range images {
		// Write length to prevent boundary collisions (e.g. [A,B] vs [AB])
		binary.Write(h, binary.LittleEndian, int64(len(img)))
		h.Write(img)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// AnalyzeImages implements VisionAnalyzer with caching.
func (c *CachedAnalyzer) AnalyzeImages(ctx context.Context, images [][]byte) (*pipeline.ProductDescription, error) {
	hash := hashImages(images)

	if c.store != nil {
		cached, err := c.store.GetVisionCache(hash)
		if err != nil {
			log.Warn().Err(err).Msg("failed to check vision cache")
		} else if cached != nil {
			log.Debug().Str("hash", hash[:16]).Msg("vision cache hit")
			return &pipeline.ProductDescription{
				Name:       cached.Name,
				Brand:      cached.Brand,
				Model:      cached.Model,
				Color:      cached.Color,
				Condition:  cached.Condition,
				Attributes: cached.Attributes,
			}, nil
		}
	}

	product, err := c.inner.AnalyzeImages(ctx, images)
	if err != nil {
		return nil, err
	}

	if c.store != nil && product != nil {
		entry := &storage.VisionCacheEntry{
			Name:       product.Name,
			Brand:      product.Brand,
			Model:      product.Model,
			Color:      product.Color,
			Condition:  product.Condition,
			Attributes: product.Attributes,
		}
		if err := c.store.SetVisionCache(hash, entry); err != nil {
			log.Warn().Err(err).Msg("failed to cache vision result")
		} else {
			log.Debug().Str("hash", hash[:16]).Msg("cached vision result")
		}
	}

	return product, nil
}
