package store

// ChunkRange calls fn for consecutive [start, end) windows of at most
// chunkSize elements. The first error stops the iteration.
func ChunkRange(total, chunkSize int, fn func(start, end int) error) error {
	if total <= 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = total
	}
	for start := 0; start < total; start += chunkSize {
		end := min(start+chunkSize, total)
		if err := fn(start, end); err != nil {
			return err
		}
	}
	return nil
}

// DedupeNodes drops empty and repeated node ids, keeping the first entry.
func DedupeNodes(in []ArchivedNode) []ArchivedNode {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]ArchivedNode, 0, len(in))
	for _, n := range in {
		if n.NodeID == "" {
			continue
		}
		if _, ok := seen[n.NodeID]; ok {
			continue
		}
		seen[n.NodeID] = struct{}{}
		out = append(out, n)
	}
	return out
}
