package ledger

import (
	"encoding/hex"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/btcutil/bech32"
)

// Address header types (high nibble of the first byte).
const (
	addrByron       = 0x8
	addrRewardKey   = 0xe
	addrRewardShell = 0xf
)

// AddressString renders a raw address the way wallets show it: bech32 with
// an addr/stake prefix for Shelley addresses, base58 for Byron. Anything
// unrecognised falls back to hex.
func AddressString(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	kind := raw[0] >> 4
	mainnet := raw[0]&0x0f == 1

	var hrp string
	switch {
	case kind <= 0x7:
		hrp = "addr"
	case kind == addrRewardKey || kind == addrRewardShell:
		hrp = "stake"
	case kind == addrByron:
		return base58.Encode(raw)
	default:
		return hex.EncodeToString(raw)
	}
	if !mainnet {
		hrp += "_test"
	}

	data, err := bech32.ConvertBits(raw, 8, 5, true)
	if err != nil {
		return hex.EncodeToString(raw)
	}
	s, err := bech32.Encode(hrp, data)
	if err != nil {
		return hex.EncodeToString(raw)
	}
	return s
}
