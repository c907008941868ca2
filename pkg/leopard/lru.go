package leopard

import (
	"container/list"
	"time"
)

// lruList tracks member recency for Index's eviction policy: a doubly
// linked list plus an index map, the same shape as a textbook LRU and the
// one dittofs's pkg/cache uses for its hot-entry list.
type lruList struct {
	l     *list.List
	nodes map[memberKey]*list.Element
	times map[memberKey]time.Time
}

type lruEntry struct {
	key memberKey
}

func newLRUList() *lruList {
	return &lruList{
		l:     list.New(),
		nodes: make(map[memberKey]*list.Element),
		times: make(map[memberKey]time.Time),
	}
}

func (c *lruList) touch(key memberKey) {
	if el, ok := c.nodes[key]; ok {
		c.l.MoveToFront(el)
	} else {
		c.nodes[key] = c.l.PushFront(lruEntry{key})
	}
	c.times[key] = time.Now()
}

func (c *lruList) remove(key memberKey) {
	if el, ok := c.nodes[key]; ok {
		c.l.Remove(el)
		delete(c.nodes, key)
		delete(c.times, key)
	}
}

func (c *lruList) evictOldest() (memberKey, bool) {
	back := c.l.Back()
	if back == nil {
		return memberKey{}, false
	}
	key := back.Value.(lruEntry).key
	c.l.Remove(back)
	delete(c.nodes, key)
	delete(c.times, key)
	return key, true
}

func (c *lruList) lastTouch(key memberKey) time.Time {
	return c.times[key]
}
