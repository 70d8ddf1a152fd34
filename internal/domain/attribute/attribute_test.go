package attribute

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidateKey(t *testing.T) {
	assert.NoError(t, ValidateKey("favorite_color"))
	assert.NoError(t, ValidateKey(KeyEmail))
	assert.ErrorIs(t, ValidateKey(" "), ErrEmptyKey)
	assert.ErrorIs(t, ValidateKey("$madeUp"), ErrReservedKey)
}

func TestSet_Unsynced(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := Set{
		"a": {Key: "a", Value: "1", SetTime: at, IsSynced: true},
		"b": New("b", "2", at),
	}

	unsynced := s.Unsynced()

	assert.Len(t, unsynced, 1)
	assert.Contains(t, unsynced, "b")
	assert.False(t, s.AllSynced())
	assert.True(t, Set{}.AllSynced())
}
