package store

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateRoomCode_Shape(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		code, err := GenerateRoomCode()
		require.NoError(t, err)

		assert.Len(t, code, roomCodeLength)
		for _, r := range code {
			assert.True(t, strings.ContainsRune(roomCodeAlphabet, r),
				"unexpected character %q in room code %s", r, code)
		}
		seen[code] = true
	}

	// With a ~900k code space, 200 draws collapsing to a handful would
	// mean the generator is broken.
	assert.Greater(t, len(seen), 150)
}

func TestRoomCodeAlphabet_ExcludesLookAlikes(t *testing.T) {
	for _, r := range "01ILO" {
		assert.False(t, strings.ContainsRune(roomCodeAlphabet, r),
			"alphabet must exclude %q", r)
	}
}
