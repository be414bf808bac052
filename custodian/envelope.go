package custodian

import (
	"fmt"

	"github.com/jmcleod/ironkeep/internal/util"
)

// Envelope layout constants. Both sides of the wire use these values; they
// are never inferred from a previous call.
const (
	NonceSize = util.GCMNonceSize
	TagSize   = util.GCMTagSize
)

// Envelope is the decoded form of an encrypted payload:
// nonce || ciphertext || tag.
type Envelope struct {
	Nonce      []byte
	Ciphertext []byte
	Tag        []byte
}

// Bytes returns the concatenated binary envelope.
func (e Envelope) Bytes() []byte {
	out := make([]byte, 0, len(e.Nonce)+len(e.Ciphertext)+len(e.Tag))
	out = append(out, e.Nonce...)
	out = append(out, e.Ciphertext...)
	return append(out, e.Tag...)
}

// String returns the standard padded base64 transport encoding.
func (e Envelope) String() string {
	return util.Base64Encode(e.Bytes())
}

func splitEnvelope(b []byte) (Envelope, error) {
	if len(b) < NonceSize+TagSize {
		return Envelope{}, fmt.Errorf("%w: envelope is %d bytes, need at least %d", ErrDecryption, len(b), NonceSize+TagSize)
	}
	return Envelope{
		Nonce:      b[:NonceSize],
		Ciphertext: b[NonceSize : len(b)-TagSize],
		Tag:        b[len(b)-TagSize:],
	}, nil
}

// ParseEnvelope decodes a base64 envelope. Line breaks and surrounding
// whitespace are tolerated; anything else malformed, or a payload too
// short to hold a nonce and tag, fails with ErrDecryption.
func ParseEnvelope(encoded string) (Envelope, error) {
	raw, err := util.Base64Decode(encoded)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: malformed base64: %v", ErrDecryption, err)
	}
	return splitEnvelope(raw)
}
