package source

import "fmt"

// blockRange is an inclusive block range.
type blockRange struct {
	From uint64
	To   uint64
}

// splitBlocks splits [from, to] into ranges of at most size blocks.
func splitBlocks(from, to, size uint64) ([]blockRange, error) {
	if size == 0 {
		return nil, fmt.Errorf("batch size must be greater than zero")
	}
	if to < from {
		return nil, fmt.Errorf("to block must be >= from block")
	}

	ranges := make([]blockRange, 0, (to-from)/size+1)
	for start := from; ; {
		end := to
		if to-start >= size {
			end = start + size - 1
		}
		ranges = append(ranges, blockRange{From: start, To: end})
		if end == to {
			return ranges, nil
		}
		start = end + 1
	}
}

// lookbackStart returns latest-window+1 without underflowing below zero.
func lookbackStart(latest, window uint64) uint64 {
	if window == 0 || window > latest {
		return 0
	}
	return latest - window + 1
}
