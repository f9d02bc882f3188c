package ingest

import (
	"errors"
	"fmt"
)

// BlockRange is an inclusive span of blocks.
type BlockRange struct {
	From uint64
	To   uint64
}

func (r BlockRange) String() string {
	return fmt.Sprintf("%d-%d", r.From, r.To)
}

// SplitRange cuts [from, to] into consecutive chunks of at most size blocks.
func SplitRange(from, to, size uint64) ([]BlockRange, error) {
	if size == 0 {
		return nil, errors.New("chunk size must be greater than zero")
	}
	if to < from {
		return nil, fmt.Errorf("invalid range %d-%d", from, to)
	}

	ranges := make([]BlockRange, 0, (to-from)/size+1)
	for start := from; ; start += size {
		// end computed as an offset so to near MaxUint64 cannot overflow.
		if to-start < size {
			return append(ranges, BlockRange{From: start, To: to}), nil
		}
		ranges = append(ranges, BlockRange{From: start, To: start + size - 1})
	}
}
