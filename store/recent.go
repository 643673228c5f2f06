package store

import "container/list"

// recentCache is a bounded most-recently-used index over (chatJID, messageID).
// It is purely an optimization: absence here never means the message is gone,
// lookups fall through to the primary maps.
type recentCache struct {
	capacity int
	order    *list.List
	items    map[string]*list.Element
}

type recentEntry struct {
	key string
	msg Message
}

func newRecentCache(capacity int) *recentCache {
	if capacity <= 0 {
		capacity = 1
	}
	return &recentCache{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element, capacity),
	}
}

func recentKey(chatJID string, messageID string) string {
	return chatJID + "\x00" + messageID
}

func (c *recentCache) get(chatJID string, messageID string) (Message, bool) {
	el, ok := c.items[recentKey(chatJID, messageID)]
	if !ok {
		return Message{}, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*recentEntry).msg, true
}

func (c *recentCache) put(msg Message) {
	key := recentKey(msg.ChatJID, msg.ID)
	if el, ok := c.items[key]; ok {
		el.Value.(*recentEntry).msg = msg
		c.order.MoveToFront(el)
		return
	}
	c.items[key] = c.order.PushFront(&recentEntry{key: key, msg: msg})
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*recentEntry).key)
	}
}

func (c *recentCache) remove(chatJID string, messageID string) {
	key := recentKey(chatJID, messageID)
	if el, ok := c.items[key]; ok {
		c.order.Remove(el)
		delete(c.items, key)
	}
}

func (c *recentCache) clear() {
	c.order.Init()
	c.items = make(map[string]*list.Element, c.capacity)
}

func (c *recentCache) len() int {
	return c.order.Len()
}
