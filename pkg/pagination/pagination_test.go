package pagination

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"peercall-backend/pkg/constants"
)

// TestEncodeDecode tests that a cursor survives the token round trip
func TestEncodeDecode(t *testing.T) {
	cursor := &Cursor{
		StartedAt: time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC),
		ID:        uuid.New(),
	}

	token := Encode(cursor)
	assert.NotEmpty(t, token)

	decoded, err := Decode(token)
	assert.NoError(t, err)
	assert.True(t, cursor.StartedAt.Equal(decoded.StartedAt))
	assert.Equal(t, cursor.ID, decoded.ID)
}

// TestDecode_EmptyToken tests that an empty token means start of stream
func TestDecode_EmptyToken(t *testing.T) {
	cursor, err := Decode("")
	assert.NoError(t, err)
	assert.Nil(t, cursor)
}

// TestDecode_Garbage tests rejection of undecodable tokens
func TestDecode_Garbage(t *testing.T) {
	for _, token := range []string{
		"not base64 at all!!!",
		"bm90IGpzb24",          // valid base64, not JSON
		"e30",                  // "{}": decodes but has no position
		"eyJpZCI6ImJyb2tlbiJ9", // {"id":"broken"}: bad uuid
	} {
		_, err := Decode(token)
		assert.Error(t, err, "token %q", token)
	}
}

// TestEncode_Nil tests that a nil cursor encodes to the empty token
func TestEncode_Nil(t *testing.T) {
	assert.Empty(t, Encode(nil))
}

// TestClampLimit tests page size normalization
func TestClampLimit(t *testing.T) {
	assert.Equal(t, constants.DefaultPageSize, ClampLimit(0))
	assert.Equal(t, constants.DefaultPageSize, ClampLimit(-5))
	assert.Equal(t, 10, ClampLimit(10))
	assert.Equal(t, constants.MaxPageSize, ClampLimit(constants.MaxPageSize))
	assert.Equal(t, constants.MaxPageSize, ClampLimit(constants.MaxPageSize+1))
}
