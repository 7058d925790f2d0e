package chord

// FingerEntry is one row of a node's routing table. Entry k of node n
// covers the interval [n + 2^(k-1), n + 2^k) and caches the ring
// successor believed responsible for it.
type FingerEntry struct {
	// Start is (n + 2^(k-1)) mod 2^M; fixed once the node joins.
	Start ID `json:"start"`

	// End is (n + 2^k) mod 2^M for k < M, and n itself for k == M.
	End ID `json:"end"`

	// Succ is the cached successor for the interval. It is the only
	// field that mutates after construction.
	Succ NodeRef `json:"successor"`

	interval Interval
}

// Contains reports whether id falls in the entry's interval.
func (f *FingerEntry) Contains(id ID) bool {
	return f.interval.Contains(id)
}

// newFingerTable builds the table for a node with identifier n.
// Entries are 1-indexed as in the Chord paper; index 0 is unused.
// Successors stay zero until join completes.
func newFingerTable(s Space, n ID) []FingerEntry {
	table := make([]FingerEntry, s.Bits()+1)
	for k := 1; k <= s.Bits(); k++ {
		start := s.Add(n, uint64(1)<<uint(k-1))
		end := n
		if k < s.Bits() {
			end = s.Add(n, uint64(1)<<uint(k))
		}
		table[k] = FingerEntry{
			Start:    start,
			End:      end,
			interval: s.NewInterval(start, end),
		}
	}
	return table
}
