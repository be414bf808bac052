package icrypto

import (
	"encoding/binary"
)

const (
	aadName    = "NAME"
	aadValue   = "VALUE"
	aadKeyWrap = "KEYWRAP"
)

// AADName binds a deterministic record-name ciphertext to its store.
func AADName(storeName string) []byte {
	return buildAAD(aadName, storeName)
}

// AADValue binds a value ciphertext to the encrypted name of its slot.
func AADValue(storeName, storedName string) []byte {
	return buildAAD(aadValue, storeName, storedName)
}

// AADKeyWrap binds persisted key material to its alias and key ID.
func AADKeyWrap(alias, keyID string, ver int) []byte {
	return buildAAD(aadKeyWrap, alias, keyID, ver)
}

func buildAAD(parts ...any) []byte {
	var res []byte
	for _, p := range parts {
		switch v := p.(type) {
		case string:
			res = appendLenPrefix(res, []byte(v))
		case []byte:
			res = appendLenPrefix(res, v)
		case uint64:
			b := make([]byte, 8)
			binary.BigEndian.PutUint64(b, v)
			res = append(res, b...)
		case int:
			b := make([]byte, 4)
			binary.BigEndian.PutUint32(b, uint32(v))
			res = append(res, b...)
		}
	}
	return res
}

func appendLenPrefix(b, data []byte) []byte {
	l := make([]byte, 4)
	binary.BigEndian.PutUint32(l, uint32(len(data)))
	b = append(b, l...)
	b = append(b, data...)
	return b
}
