package ledger

import "golang.org/x/crypto/blake2b"

// Blake2b256 is the hash used for transaction ids, block hashes and datums.
func Blake2b256(data []byte) []byte {
	sum := blake2b.Sum256(data)
	return sum[:]
}

// Blake2b224 is the hash used for key and script hashes.
func Blake2b224(data []byte) []byte {
	h, _ := blake2b.New(28, nil)
	h.Write(data)
	return h.Sum(nil)
}

// ScriptHash hashes a plutus script prefixed with its language tag.
func ScriptHash(version int, script []byte) []byte {
	return Blake2b224(append([]byte{byte(version)}, script...))
}
