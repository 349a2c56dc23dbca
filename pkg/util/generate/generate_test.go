package generate

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRandomFixedLengthStringOfSize(t *testing.T) {
	for _, size := range []int{1, 8, 20, 64} {
		s, err := RandomFixedLengthStringOfSize(size)
		assert.NoError(t, err)
		assert.Len(t, s, size)
	}
}

func TestPassphraseIsURLSafe(t *testing.T) {
	p, err := Passphrase()
	assert.NoError(t, err)
	assert.Len(t, p, 20)
	assert.Equal(t, p, url.QueryEscape(p))
}
