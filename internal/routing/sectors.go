package routing

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/tablewave/tablewave/libs/db"
)

const (
	sectorCacheSize = 1000
	sectorCacheTTL  = time.Minute
)

// SectorResolver answers "which sectors is this staff member assigned
// to", backed by Postgres with a bounded TTL cache in front. Assignment
// changes must call Invalidate; the TTL only caps how stale a missed
// invalidation can get.
type SectorResolver struct {
	pool  *db.Pool
	cache *expirable.LRU[string, []int64]
}

func NewSectorResolver(pool *db.Pool) *SectorResolver {
	return &SectorResolver{
		pool:  pool,
		cache: expirable.NewLRU[string, []int64](sectorCacheSize, nil, sectorCacheTTL),
	}
}

func (r *SectorResolver) Sectors(ctx context.Context, userID, tenantID int64) ([]int64, error) {
	key := cacheKey(userID, tenantID)
	if sectors, ok := r.cache.Get(key); ok {
		return sectors, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT sector_id
		FROM sector_assignments
		WHERE user_id = $1 AND tenant_id = $2
		ORDER BY sector_id
	`, userID, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sectors []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		sectors = append(sectors, id)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}

	r.cache.Add(key, sectors)
	return sectors, nil
}

func (r *SectorResolver) Invalidate(userID, tenantID int64) {
	r.cache.Remove(cacheKey(userID, tenantID))
}

func cacheKey(userID, tenantID int64) string {
	return fmt.Sprintf("%d:%d", userID, tenantID)
}
