package ledger

import (
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/fxamacker/cbor/v2"
	"github.com/vietddude/chainrelay/internal/core/domain"
)

// Native script constructors.
const (
	nativeSig uint64 = iota
	nativeAll
	nativeAny
	nativeAtLeast
	nativeAfter
	nativeBefore
)

// NativeScriptHash is the policy id of a native script: blake2b-224 of the
// script prefixed with language tag 0.
func NativeScriptHash(raw cbor.RawMessage) []byte {
	return ScriptHash(0, raw)
}

// NativeScriptJSON renders a native script in the cardano-cli JSON shape
// ({"type":"sig","keyHash":...}, {"type":"all","scripts":[...]}, ...).
func NativeScriptJSON(raw cbor.RawMessage) (map[string]any, error) {
	var parts []cbor.RawMessage
	if err := cbor.Unmarshal(raw, &parts); err != nil || len(parts) < 2 {
		return nil, fmt.Errorf("%w: native script: malformed", domain.ErrDecode)
	}
	var tag uint64
	if err := cbor.Unmarshal(parts[0], &tag); err != nil {
		return nil, fmt.Errorf("%w: native script tag: %v", domain.ErrDecode, err)
	}

	switch tag {
	case nativeSig:
		var keyHash []byte
		if err := cbor.Unmarshal(parts[1], &keyHash); err != nil {
			return nil, fmt.Errorf("%w: native sig: %v", domain.ErrDecode, err)
		}
		return map[string]any{"type": "sig", "keyHash": hex.EncodeToString(keyHash)}, nil

	case nativeAll, nativeAny:
		scripts, err := nativeChildren(parts[1])
		if err != nil {
			return nil, err
		}
		name := "all"
		if tag == nativeAny {
			name = "any"
		}
		return map[string]any{"type": name, "scripts": scripts}, nil

	case nativeAtLeast:
		if len(parts) < 3 {
			return nil, fmt.Errorf("%w: native atLeast: missing scripts", domain.ErrDecode)
		}
		var required uint64
		if err := cbor.Unmarshal(parts[1], &required); err != nil {
			return nil, fmt.Errorf("%w: native atLeast: %v", domain.ErrDecode, err)
		}
		scripts, err := nativeChildren(parts[2])
		if err != nil {
			return nil, err
		}
		return map[string]any{"type": "atLeast", "required": required, "scripts": scripts}, nil

	case nativeAfter, nativeBefore:
		var slot uint64
		if err := cbor.Unmarshal(parts[1], &slot); err != nil {
			return nil, fmt.Errorf("%w: native timelock: %v", domain.ErrDecode, err)
		}
		name := "after"
		if tag == nativeBefore {
			name = "before"
		}
		return map[string]any{"type": name, "slot": slot}, nil

	default:
		return nil, fmt.Errorf("%w: native script tag %d", domain.ErrDecode, tag)
	}
}

func nativeChildren(raw cbor.RawMessage) ([]any, error) {
	var children []cbor.RawMessage
	if err := cbor.Unmarshal(raw, &children); err != nil {
		return nil, fmt.Errorf("%w: native script list: %v", domain.ErrDecode, err)
	}
	out := make([]any, 0, len(children))
	for _, child := range children {
		v, err := NativeScriptJSON(child)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Redeemer purposes, indexed by tag.
var redeemerPurposes = []string{"spend", "mint", "cert", "reward", "voting", "proposing"}

// Redeemer is one plutus script execution request.
type Redeemer struct {
	Tag   uint64
	Index uint64
	Data  cbor.RawMessage
	Mem   uint64
	Steps uint64
}

// Purpose names the redeemer tag.
func (r Redeemer) Purpose() string {
	if r.Tag < uint64(len(redeemerPurposes)) {
		return redeemerPurposes[r.Tag]
	}
	return fmt.Sprintf("tag_%d", r.Tag)
}

type redeemerEntry struct {
	_       struct{} `cbor:",toarray"`
	Tag     uint64
	Index   uint64
	Data    cbor.RawMessage
	ExUnits [2]uint64
}

type redeemerValue struct {
	_       struct{} `cbor:",toarray"`
	Data    cbor.RawMessage
	ExUnits [2]uint64
}

// decodeRedeemers accepts the Alonzo list form and the Conway map form
// keyed by [tag, index]. Map entries come back ordered by tag and index.
func decodeRedeemers(raw cbor.RawMessage) ([]Redeemer, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	switch raw[0] >> 5 {
	case 4:
		var entries []redeemerEntry
		if err := cbor.Unmarshal(raw, &entries); err != nil {
			return nil, fmt.Errorf("%w: redeemers: %v", domain.ErrDecode, err)
		}
		out := make([]Redeemer, len(entries))
		for i, e := range entries {
			out[i] = Redeemer{Tag: e.Tag, Index: e.Index, Data: e.Data, Mem: e.ExUnits[0], Steps: e.ExUnits[1]}
		}
		return out, nil

	case 5:
		var entries map[[2]uint64]redeemerValue
		if err := cbor.Unmarshal(raw, &entries); err != nil {
			return nil, fmt.Errorf("%w: redeemers: %v", domain.ErrDecode, err)
		}
		out := make([]Redeemer, 0, len(entries))
		for key, v := range entries {
			out = append(out, Redeemer{Tag: key[0], Index: key[1], Data: v.Data, Mem: v.ExUnits[0], Steps: v.ExUnits[1]})
		}
		sort.Slice(out, func(i, j int) bool {
			if out[i].Tag != out[j].Tag {
				return out[i].Tag < out[j].Tag
			}
			return out[i].Index < out[j].Index
		})
		return out, nil

	default:
		return nil, fmt.Errorf("%w: redeemers: unexpected major type %d", domain.ErrDecode, raw[0]>>5)
	}
}
