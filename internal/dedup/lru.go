package dedup

// lruList orders retained fingerprints by recency. Not goroutine-safe; the
// owning Cache holds its mutex.
type lruList struct {
	items map[string]*lruNode
	head  *lruNode // 最近使用
	tail  *lruNode // 最久未使用
}

type lruNode struct {
	key  string
	prev *lruNode
	next *lruNode
}

func newLRUList() *lruList {
	return &lruList{items: make(map[string]*lruNode)}
}

func (l *lruList) len() int { return len(l.items) }

// touch inserts key or moves it to the head.
func (l *lruList) touch(key string) {
	if node, ok := l.items[key]; ok {
		if node != l.head {
			l.unlink(node)
			l.pushHead(node)
		}
		return
	}
	node := &lruNode{key: key}
	l.items[key] = node
	l.pushHead(node)
}

// popTail removes and returns the least recently used key.
func (l *lruList) popTail() (string, bool) {
	if l.tail == nil {
		return "", false
	}
	key := l.tail.key
	l.unlink(l.tail)
	delete(l.items, key)
	return key, true
}

func (l *lruList) pushHead(node *lruNode) {
	node.prev = nil
	node.next = l.head
	if l.head != nil {
		l.head.prev = node
	}
	l.head = node
	if l.tail == nil {
		l.tail = node
	}
}

func (l *lruList) unlink(node *lruNode) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		l.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		l.tail = node.prev
	}
	node.prev, node.next = nil, nil
}
