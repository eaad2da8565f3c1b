package relay

import (
	"fmt"
	"hash/fnv"
)

// Partitions are Redis lists keyed by delivery channel, bot scope and
// destination. All notifications for one destination+bot land in one list,
// preserving per-destination FIFO order.
const partitionPrefix = "notify:telegram:"

// PartitionKey derives the buffer partition for a notification. The bot token
// is folded to a short stable scope so raw credentials never appear in key
// space (keys show up in SCAN output and monitoring tools).
func PartitionKey(token string, targetID int64) string {
	return fmt.Sprintf("%s%s:%d", partitionPrefix, tokenScope(token), targetID)
}

// PartitionPattern matches every live partition; used by the drain scheduler's
// discovery scan.
func PartitionPattern() string {
	return partitionPrefix + "*"
}

func tokenScope(token string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(token))
	return fmt.Sprintf("%016x", h.Sum64())
}
