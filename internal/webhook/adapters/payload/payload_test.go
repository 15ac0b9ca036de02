package payload

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetadataToleratesNonObjects(t *testing.T) {
	assert.Empty(t, Metadata(json.RawMessage(`[]`)))
	assert.Empty(t, Metadata(nil))
	assert.Equal(t, "usr_1", String(Metadata(json.RawMessage(`{"owner_id":" usr_1 "}`)), "owner_id"))
	assert.Equal(t, "42", String(Metadata(json.RawMessage(`{"owner_id":42}`)), "owner_id"))
}

func TestExpandableID(t *testing.T) {
	assert.Equal(t, "sub_1", ExpandableID(json.RawMessage(`"sub_1"`)))
	assert.Equal(t, "sub_2", ExpandableID(json.RawMessage(`{"id":"sub_2","object":"subscription"}`)))
	assert.Equal(t, "", ExpandableID(json.RawMessage(`null`)))
	assert.Equal(t, "", ExpandableID(nil))
}

func TestTimestamps(t *testing.T) {
	assert.True(t, Unix(0, 0).IsZero())
	assert.Equal(t, time.Unix(10, 0).UTC(), Unix(0, 10))
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), RFC3339("", "2024-01-02T03:04:05Z"))
	assert.True(t, RFC3339("yesterday").IsZero())
}

func TestFirstNonEmpty(t *testing.T) {
	assert.Equal(t, "b", FirstNonEmpty(" ", "b", "c"))
	assert.Equal(t, "", FirstNonEmpty())
}
