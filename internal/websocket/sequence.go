package websocket

import (
	"sync"
	"sync/atomic"
)

var seqMap sync.Map // map[string]*uint64

// nextSeq hands out the per-product publish counter so clients can spot
// updates lost to slow-client drops.
func nextSeq(productID string) uint64 {
	v, _ := seqMap.LoadOrStore(productID, new(uint64))
	ptr := v.(*uint64)
	return atomic.AddUint64(ptr, 1)
}
