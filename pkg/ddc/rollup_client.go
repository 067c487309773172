package ddc

import (
	"github.com/tempo-ddc/ddc/pkg/ddc/backend"
	"github.com/tempo-ddc/ddc/pkg/ddc/rollup"
)

// rollupClient adapts Cache to the narrow interface rollup.Rollup needs,
// translating the facade's Result type to the (value, hit) pair rollup
// deals in.
type rollupClient struct {
	c *Cache
}

func (rc rollupClient) Put(key backend.Key, value []byte, force bool) {
	rc.c.Put(key, value, force)
}

func (rc rollupClient) GetSyncByKey(key backend.Key) ([]byte, bool) {
	res := rc.c.GetSyncByKey(key)
	return res.Value, res.Hit
}

// NewRollup returns a fresh Rollup batching gets through this Cache.
func (c *Cache) NewRollup() *rollup.Rollup {
	return rollup.New(rollupClient{c: c}, c.logger)
}
