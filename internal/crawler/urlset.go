package crawler

// URLSet is a deduplicated set of leaf URLs that remembers first-seen order
// so a stable sample can be taken. Membership is exact string equality.
type URLSet struct {
	seen  map[string]struct{}
	order []string
}

// NewURLSet returns an empty URLSet.
func NewURLSet() *URLSet {
	return &URLSet{seen: make(map[string]struct{})}
}

// Add inserts u and reports whether it was new.
func (s *URLSet) Add(u string) bool {
	if _, ok := s.seen[u]; ok {
		return false
	}
	s.seen[u] = struct{}{}
	s.order = append(s.order, u)
	return true
}

// Merge adds every member of other and returns how many were new.
func (s *URLSet) Merge(other *URLSet) int {
	if other == nil {
		return 0
	}
	added := 0
	for _, u := range other.order {
		if s.Add(u) {
			added++
		}
	}
	return added
}

// Contains reports whether u is a member.
func (s *URLSet) Contains(u string) bool {
	_, ok := s.seen[u]
	return ok
}

// Len returns the number of distinct URLs.
func (s *URLSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

// Values returns a copy of the members in first-seen order.
func (s *URLSet) Values() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}
