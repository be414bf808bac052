package custodian

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelope_Layout(t *testing.T) {
	env := Envelope{
		Nonce:      make([]byte, NonceSize),
		Ciphertext: []byte("body"),
		Tag:        make([]byte, TagSize),
	}
	b := env.Bytes()
	require.Len(t, b, NonceSize+4+TagSize)
	assert.Equal(t, []byte("body"), b[NonceSize:NonceSize+4])

	parsed, err := ParseEnvelope(env.String())
	require.NoError(t, err)
	assert.Equal(t, env, parsed)
}

func TestParseEnvelope_Errors(t *testing.T) {
	_, err := ParseEnvelope("")
	assert.ErrorIs(t, err, ErrDecryption)

	_, err = ParseEnvelope("AAAA")
	assert.ErrorIs(t, err, ErrDecryption)

	_, err = ParseEnvelope("@@@@")
	assert.ErrorIs(t, err, ErrDecryption)
}
