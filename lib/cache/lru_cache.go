package cache

// LRU is a fixed capacity least-recently-used cache. It is not safe for
// concurrent use.
type LRU[K comparable, V any] struct {
	capacity int
	cache    map[K]*lruNode[K, V]

	left  *lruNode[K, V]
	right *lruNode[K, V]
}

type lruNode[K comparable, V any] struct {
	Key K
	Val V

	Prev *lruNode[K, V]
	Next *lruNode[K, V]
}

func NewLRU[K comparable, V any](capacity int) *LRU[K, V] {
	left, right := &lruNode[K, V]{}, &lruNode[K, V]{}

	left.Next = right
	right.Prev = left

	return &LRU[K, V]{
		left:     left,
		right:    right,
		capacity: capacity,
		cache:    make(map[K]*lruNode[K, V]),
	}
}

func (l *LRU[K, V]) Put(key K, value V) {
	node, exists := l.cache[key]
	if exists {
		l.deleteNode(node)
	}

	node = &lruNode[K, V]{Key: key, Val: value}
	l.cache[key] = node
	l.insertNode(node)

	if l.CapacityReached() {
		l.Evict()
	}
}

func (l *LRU[K, V]) Get(key K) (V, bool) {
	node, exists := l.cache[key]
	if !exists {
		var zero V
		return zero, false
	}

	l.deleteNode(node)
	l.insertNode(node)

	return node.Val, true
}

// Remove drops key from the cache if present.
func (l *LRU[K, V]) Remove(key K) {
	node, exists := l.cache[key]
	if !exists {
		return
	}

	l.deleteNode(node)
	delete(l.cache, key)
}

func (l *LRU[K, V]) Len() int {
	return len(l.cache)
}

func (l *LRU[K, V]) CapacityReached() bool {
	return len(l.cache) > l.capacity
}

func (l *LRU[K, V]) Evict() {
	lru := l.left.Next
	if lru == l.right {
		return
	}

	l.deleteNode(lru)
	delete(l.cache, lru.Key)
}

func (l *LRU[K, V]) insertNode(node *lruNode[K, V]) {
	prev, next := l.right.Prev, l.right

	node.Prev = prev
	node.Next = next

	prev.Next = node
	next.Prev = node
}

func (l *LRU[K, V]) deleteNode(node *lruNode[K, V]) {
	prev, next := node.Prev, node.Next

	prev.Next = next
	next.Prev = prev
}
