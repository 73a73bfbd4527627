package mapping

import (
	"encoding/json"
	"fmt"

	"github.com/zeebo/xxh3"
)

// GenerationKey hashes the parts that identify a generated statement.
// Regenerating the same document yields the same key, which lets the
// ledger refuse the copy.
func GenerationKey(parts ...string) string {
	h := xxh3.New()
	for _, p := range parts {
		h.WriteString(p)
		h.Write([]byte{0})
	}
	sum := h.Sum128()
	return fmt.Sprintf("%016x%016x", sum.Hi, sum.Lo)
}

// canonicalParams renders params with sorted keys, leaving out skip
func canonicalParams(params map[string]interface{}, skip ...string) string {
	filtered := make(map[string]interface{}, len(params))
	for k, v := range params {
		filtered[k] = v
	}
	for _, k := range skip {
		delete(filtered, k)
	}
	b, err := json.Marshal(filtered)
	if err != nil {
		return fmt.Sprint(filtered)
	}
	return string(b)
}
