package fork

import (
	"fmt"
	"strings"
)

// parsedArgs is the decomposition of a flat JVM argument list.
type parsedArgs struct {
	props   *propertySet
	maxHeap string
	minHeap string
	plain   []string
}

// parseArgs splits arguments into system properties (merged into ps),
// heap sizes and plain arguments. The last heap flag of each kind wins.
// Tokens that look like a recognized flag but cannot be decoded are
// rejected rather than passed through.
func parseArgs(op string, arguments []any, ps *propertySet) (*parsedArgs, error) {
	p := &parsedArgs{
		props: ps,
		plain: make([]string, 0, len(arguments)),
	}

	for i, arg := range arguments {
		token, ok := stringify(arg)
		if !ok {
			return nil, invalidArgument(op, fmt.Sprintf("arguments[%d]", i), "must not be nil")
		}

		switch {
		case strings.HasPrefix(token, SystemPropertyPrefix):
			name, value, hasValue := strings.Cut(strings.TrimPrefix(token, SystemPropertyPrefix), "=")
			if name == "" {
				return nil, invalidArgument(op, token, "system property flag has no name")
			}
			if hasValue {
				ps.put(name, value)
			} else {
				ps.put(name, nil)
			}

		case strings.HasPrefix(token, MaxHeapPrefix):
			size := strings.TrimPrefix(token, MaxHeapPrefix)
			if size == "" {
				return nil, invalidArgument(op, token, "maximum heap flag has no size")
			}
			p.maxHeap = size

		case strings.HasPrefix(token, MinHeapPrefix):
			size := strings.TrimPrefix(token, MinHeapPrefix)
			if size == "" {
				return nil, invalidArgument(op, token, "initial heap flag has no size")
			}
			p.minHeap = size

		default:
			p.plain = append(p.plain, token)
		}
	}

	return p, nil
}
