package domain

// QuantityMap maps a menu item id to the number of units ordered.
type QuantityMap map[string]int

// QuantitiesFromIDs counts occurrences of each id. A flat request list
// encodes quantity by repetition: [A, A, B] is two A and one B. The second
// return value keeps distinct ids in first-seen order.
func QuantitiesFromIDs(ids []string) (QuantityMap, []string) {
	q := make(QuantityMap, len(ids))
	order := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, seen := q[id]; !seen {
			order = append(order, id)
		}
		q[id]++
	}
	return q, order
}

// Equal reports whether both maps hold the same ids with the same quantities.
func (q QuantityMap) Equal(other QuantityMap) bool {
	if len(q) != len(other) {
		return false
	}
	for id, n := range q {
		m, ok := other[id]
		if !ok || m != n {
			return false
		}
	}
	return true
}
