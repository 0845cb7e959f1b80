package storage

import "fmt"

// Key schema for the broker's Pebble database:
//
//   ord:<blockOrderId>:<orderId>                      → order state machine record
//   fill:<blockOrderId>:<fillId>                      → fill state machine record
//   idx:ordhash:<swapHash>:<blockOrderId>:<orderId>   → copy of the order record
//
// Index entries live under their own top-level prefix so a bucket scan never
// sees them.

const (
	PrefixOrders = "ord:"
	PrefixFills  = "fill:"

	prefixIndex = "idx:"

	IndexOrdersByHash = "ordhash"
)

// indexPrefix returns the prefix for all entries of a named index
// Format: "idx:{name}:"
func indexPrefix(name string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixIndex, name))
}

// indexEntryKey returns the key for one index entry
// Format: "idx:{name}:{indexKey}:{recordKey}"
func indexEntryKey(name, indexKey, recordKey string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s:%s", prefixIndex, name, indexKey, recordKey))
}

// indexRangePrefix returns the prefix for all records under one index value
// Format: "idx:{name}:{indexKey}:"
func indexRangePrefix(name, indexKey string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s:", prefixIndex, name, indexKey))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
