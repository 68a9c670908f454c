package reporting

import "sync"

type tagKey struct {
	credential string
	contactID  string
	tag        string
}

// TagMemo caches tag check results for the lifetime of one HTTP request.
// It is safe for concurrent use.
type TagMemo struct {
	mu   sync.Mutex
	seen map[tagKey]bool
}

func NewTagMemo() *TagMemo {
	return &TagMemo{seen: map[tagKey]bool{}}
}

func (m *TagMemo) get(k tagKey) (bool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.seen[k]
	return v, ok
}

func (m *TagMemo) put(k tagKey, v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[k] = v
}

// Len is the number of distinct checks recorded.
func (m *TagMemo) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen)
}
