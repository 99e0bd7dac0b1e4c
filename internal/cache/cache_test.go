package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeDecodeInt64s_RoundTrip(t *testing.T) {
	ids := []int64{1, 42, 9223372036854775807}
	assert.Equal(t, ids, decodeInt64s(encodeInt64s(ids)))
}

func TestEncodeDecodeInt64s_Empty(t *testing.T) {
	assert.Equal(t, "", encodeInt64s(nil))
	assert.Nil(t, decodeInt64s(""))
}

func TestEncodeDecodeInt64s_Single(t *testing.T) {
	assert.Equal(t, "7", encodeInt64s([]int64{7}))
	assert.Equal(t, []int64{7}, decodeInt64s("7"))
}

func TestDecodeInt64s_SkipsMalformedFields(t *testing.T) {
	// A corrupted cache value shouldn't panic the caller — bad fields
	// are dropped rather than surfaced, since this is a best-effort
	// recompute-on-miss cache, not an authoritative store.
	assert.Equal(t, []int64{1, 2}, decodeInt64s("1,oops,2"))
}
