package importing

import (
	"context"
	"github.com/hauke96/sigolo/v2"
	"github.com/pkg/errors"
	"osmroute/index"
	"osmroute/source"
	"time"
)

// Import reads the whole file into the cache. Afterward, the file source is fully loaded and the cache answers all
// requests without reading the file again.
func Import(ctx context.Context, file *source.File, cache *index.Cache) (source.LoadStats, error) {
	sigolo.Debugf("Start importing %s", file.Path())
	importStartTime := time.Now()

	stats, err := file.Load(ctx, cache.Store)
	if err != nil {
		return stats, errors.Wrapf(err, "Import of %s failed", file.Path())
	}

	cacheStats := cache.Stats()
	sigolo.Infof("Imported %s in %s, cache contains %d points, %d segments and %d relations", file.Path(), time.Since(importStartTime), cacheStats.Points, cacheStats.Segments, cacheStats.Relations)

	return stats, nil
}
