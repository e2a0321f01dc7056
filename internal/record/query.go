package record

type FilterOp string

const (
	OpEqual    FilterOp = "=="
	OpNotEqual FilterOp = "!="
	// OpIn matches records whose field equals one of a bounded set of
	// values. Backends cap the set size at Limits.MaxInValues; callers
	// chunk larger sets with ChunkIDs.
	OpIn FilterOp = "in"
)

// Filter is a single equality/inequality/in-set predicate on a payload
// field, or on "status".
type Filter struct {
	Field string
	Op    FilterOp
	Value any
}

func Eq(field string, value any) Filter {
	return Filter{Field: field, Op: OpEqual, Value: value}
}

func Neq(field string, value any) Filter {
	return Filter{Field: field, Op: OpNotEqual, Value: value}
}

func In(field string, values []string) Filter {
	return Filter{Field: field, Op: OpIn, Value: values}
}

// ChunkIDs partitions ids into slices of at most size elements, preserving
// order. Every id appears in exactly one chunk.
func ChunkIDs(ids []string, size int) [][]string {
	if size <= 0 || len(ids) == 0 {
		if len(ids) == 0 {
			return nil
		}
		return [][]string{ids}
	}
	chunks := make([][]string, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}
