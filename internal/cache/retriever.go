package cache

import (
	"context"

	"github.com/banshee-data/cqrtraffic/internal/fintraffic"
	"github.com/banshee-data/cqrtraffic/internal/monitoring"
	"github.com/banshee-data/cqrtraffic/internal/traffic"
)

// CachingRetriever serves days from the Store and falls back to next on a
// miss. Requests that ask for a saved file always go to next so the file is
// written.
type CachingRetriever struct {
	next  fintraffic.Retriever
	store *Store
}

// NewCachingRetriever wraps next with store.
func NewCachingRetriever(next fintraffic.Retriever, store *Store) *CachingRetriever {
	return &CachingRetriever{next: next, store: store}
}

// Retrieve implements fintraffic.Retriever.
func (c *CachingRetriever) Retrieve(ctx context.Context, req fintraffic.Request) (traffic.DayResult, error) {
	if req.SaveName == "" {
		res, ok, err := c.store.LookupDay(ctx, req)
		if err != nil {
			monitoring.Logf("Warning: cache lookup for TMS %d day %s failed: %v", req.StationID, req.Day, err)
		} else if ok {
			monitoring.Logf("Loaded day %d of year %d for TMS %d from cache (%s)", req.Day.Day, req.Day.Year, req.StationID, res.Status)
			return res, nil
		}
	}

	res, err := c.next.Retrieve(ctx, req)
	if err != nil {
		return res, err
	}
	if err := c.store.StoreDay(ctx, req, res); err != nil {
		monitoring.Logf("Warning: could not cache day %s for TMS %d: %v", req.Day, req.StationID, err)
	}
	return res, nil
}
