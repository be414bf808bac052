package icrypto

import "github.com/jmcleod/ironkeep/internal/util"

const keyWrapInfo = "ironkeep:keystore-wrap:v1"

// DeriveKeyWrapKey derives the per-alias wrapping key from a passphrase KEK.
func DeriveKeyWrapKey(kek []byte, alias string) ([]byte, error) {
	return util.HKDF(kek, []byte(alias), []byte(keyWrapInfo))
}
