package ledger

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"sort"

	"github.com/fxamacker/cbor/v2"
	"github.com/vietddude/chainrelay/internal/core/domain"
)

// Input references a previous transaction output.
type Input struct {
	_     struct{} `cbor:",toarray"`
	TxID  []byte
	Index uint64
}

// MultiAsset maps policy id -> asset name -> quantity. Keys hold raw bytes.
type MultiAsset map[string]map[string]uint64

// MintAsset is like MultiAsset with signed quantities (burns are negative).
type MintAsset map[string]map[string]int64

// TxBody holds the int-keyed transaction body fields.
type TxBody struct {
	Inputs          []Input           `cbor:"0,keyasint"`
	Outputs         []cbor.RawMessage `cbor:"1,keyasint"`
	Fee             uint64            `cbor:"2,keyasint"`
	TTL             *uint64           `cbor:"3,keyasint,omitempty"`
	Certificates    []cbor.RawMessage `cbor:"4,keyasint,omitempty"`
	ValidityStart   *uint64           `cbor:"8,keyasint,omitempty"`
	Mint            MintAsset         `cbor:"9,keyasint,omitempty"`
	Collateral      []Input           `cbor:"13,keyasint,omitempty"`
	RequiredSigners [][]byte          `cbor:"14,keyasint,omitempty"`
	NetworkID       *uint64           `cbor:"15,keyasint,omitempty"`
}

// Output is a decoded transaction output in either legacy or map form.
type Output struct {
	Address   []byte
	Coin      uint64
	Assets    MultiAsset
	DatumHash []byte
}

// Certificate is a decoded certificate. Fields are populated per Type.
type Certificate struct {
	Type       uint64
	Raw        []byte
	Credential *Credential
	PoolHash   []byte
	VRFKeyHash []byte
	Pledge     uint64
	Cost       uint64
	Reward     []byte
	Owners     [][]byte
	Epoch      uint64
}

// Credential is a stake credential: [0, keyhash] or [1, scripthash].
type Credential struct {
	_    struct{} `cbor:",toarray"`
	Kind uint64
	Hash []byte
}

// VKeyWitness is a verification key and its signature.
type VKeyWitness struct {
	_         struct{} `cbor:",toarray"`
	VKey      []byte
	Signature []byte
}

// PlutusScript is a script with its language version.
type PlutusScript struct {
	Version int
	Script  []byte
}

// WitnessSet holds the witnesses of one transaction.
type WitnessSet struct {
	VKeys      []VKeyWitness
	Native     []cbor.RawMessage
	Plutus     []PlutusScript
	Redeemers  []Redeemer
	PlutusData []cbor.RawMessage
}

// Metadatum is one labelled auxiliary data entry.
type Metadatum struct {
	Label uint64
	Value cbor.RawMessage
}

// Transaction is a decoded transaction with its computed hash.
type Transaction struct {
	Index        int
	Hash         []byte
	Body         TxBody
	Outputs      []Output
	Certificates []Certificate
	Witnesses    WitnessSet
	Metadata     []Metadatum
	Valid        bool
}

func decodeTransaction(idx int, raw cbor.RawMessage) (Transaction, error) {
	tx := Transaction{Index: idx, Hash: Blake2b256(raw)}
	if err := cbor.Unmarshal(raw, &tx.Body); err != nil {
		return tx, fmt.Errorf("%w: tx %d body: %v", domain.ErrDecode, idx, err)
	}
	for i, o := range tx.Body.Outputs {
		out, err := decodeOutput(o)
		if err != nil {
			return tx, fmt.Errorf("tx %d output %d: %w", idx, i, err)
		}
		tx.Outputs = append(tx.Outputs, out)
	}
	for i, c := range tx.Body.Certificates {
		cert, err := decodeCertificate(c)
		if err != nil {
			return tx, fmt.Errorf("tx %d certificate %d: %w", idx, i, err)
		}
		tx.Certificates = append(tx.Certificates, cert)
	}
	return tx, nil
}

type postAlonzoOutput struct {
	Address []byte          `cbor:"0,keyasint"`
	Amount  cbor.RawMessage `cbor:"1,keyasint"`
	Datum   cbor.RawMessage `cbor:"2,keyasint,omitempty"`
}

func decodeOutput(raw cbor.RawMessage) (Output, error) {
	var out Output
	if len(raw) == 0 {
		return out, fmt.Errorf("%w: empty output", domain.ErrDecode)
	}

	// Major type 5 (map) is the post-Alonzo form.
	if raw[0]>>5 == 5 {
		var m postAlonzoOutput
		if err := cbor.Unmarshal(raw, &m); err != nil {
			return out, fmt.Errorf("%w: output: %v", domain.ErrDecode, err)
		}
		out.Address = m.Address
		if err := decodeValue(m.Amount, &out); err != nil {
			return out, err
		}
		if len(m.Datum) > 0 {
			// [0, hash] references a datum; [1, data] inlines it.
			var opt []cbor.RawMessage
			if err := cbor.Unmarshal(m.Datum, &opt); err == nil && len(opt) == 2 {
				var kind uint64
				_ = cbor.Unmarshal(opt[0], &kind)
				if kind == 0 {
					_ = cbor.Unmarshal(opt[1], &out.DatumHash)
				} else {
					out.DatumHash = Blake2b256(opt[1])
				}
			}
		}
		return out, nil
	}

	var legacy []cbor.RawMessage
	if err := cbor.Unmarshal(raw, &legacy); err != nil || len(legacy) < 2 {
		return out, fmt.Errorf("%w: legacy output: %v", domain.ErrDecode, err)
	}
	if err := cbor.Unmarshal(legacy[0], &out.Address); err != nil {
		return out, fmt.Errorf("%w: output address: %v", domain.ErrDecode, err)
	}
	if err := decodeValue(legacy[1], &out); err != nil {
		return out, err
	}
	if len(legacy) > 2 {
		_ = cbor.Unmarshal(legacy[2], &out.DatumHash)
	}
	return out, nil
}

// decodeValue reads either a plain coin or [coin, multiasset].
func decodeValue(raw cbor.RawMessage, out *Output) error {
	if len(raw) > 0 && raw[0]>>5 == 0 {
		return cbor.Unmarshal(raw, &out.Coin)
	}
	var pair []cbor.RawMessage
	if err := cbor.Unmarshal(raw, &pair); err != nil || len(pair) != 2 {
		return fmt.Errorf("%w: output value: %v", domain.ErrDecode, err)
	}
	if err := cbor.Unmarshal(pair[0], &out.Coin); err != nil {
		return fmt.Errorf("%w: output coin: %v", domain.ErrDecode, err)
	}
	if err := cbor.Unmarshal(pair[1], &out.Assets); err != nil {
		return fmt.Errorf("%w: output assets: %v", domain.ErrDecode, err)
	}
	return nil
}

func decodeCertificate(raw cbor.RawMessage) (Certificate, error) {
	cert := Certificate{Raw: raw}
	var parts []cbor.RawMessage
	if err := cbor.Unmarshal(raw, &parts); err != nil || len(parts) == 0 {
		return cert, fmt.Errorf("%w: certificate: %v", domain.ErrDecode, err)
	}
	if err := cbor.Unmarshal(parts[0], &cert.Type); err != nil {
		return cert, fmt.Errorf("%w: certificate type: %v", domain.ErrDecode, err)
	}

	var err error
	switch cert.Type {
	case CertStakeRegistration, CertStakeDeregistration:
		if len(parts) >= 2 {
			cert.Credential = &Credential{}
			err = cbor.Unmarshal(parts[1], cert.Credential)
		}
	case CertStakeDelegation:
		if len(parts) >= 3 {
			cert.Credential = &Credential{}
			if err = cbor.Unmarshal(parts[1], cert.Credential); err == nil {
				err = cbor.Unmarshal(parts[2], &cert.PoolHash)
			}
		}
	case CertPoolRegistration:
		if len(parts) >= 8 {
			for _, f := range []struct {
				i   int
				dst any
			}{
				{1, &cert.PoolHash}, {2, &cert.VRFKeyHash}, {3, &cert.Pledge},
				{4, &cert.Cost}, {6, &cert.Reward}, {7, &cert.Owners},
			} {
				if err = cbor.Unmarshal(parts[f.i], f.dst); err != nil {
					break
				}
			}
		}
	case CertPoolRetirement:
		if len(parts) >= 3 {
			if err = cbor.Unmarshal(parts[1], &cert.PoolHash); err == nil {
				err = cbor.Unmarshal(parts[2], &cert.Epoch)
			}
		}
	}
	if err != nil {
		return cert, fmt.Errorf("%w: certificate %d: %v", domain.ErrDecode, cert.Type, err)
	}
	return cert, nil
}

// Certificate type tags.
const (
	CertStakeRegistration   uint64 = 0
	CertStakeDeregistration uint64 = 1
	CertStakeDelegation     uint64 = 2
	CertPoolRegistration    uint64 = 3
	CertPoolRetirement      uint64 = 4
)

type witnessSetMap struct {
	VKeys      []VKeyWitness     `cbor:"0,keyasint,omitempty"`
	Native     []cbor.RawMessage `cbor:"1,keyasint,omitempty"`
	PlutusV1   [][]byte          `cbor:"3,keyasint,omitempty"`
	PlutusData []cbor.RawMessage `cbor:"4,keyasint,omitempty"`
	Redeemers  cbor.RawMessage   `cbor:"5,keyasint,omitempty"`
	PlutusV2   [][]byte          `cbor:"6,keyasint,omitempty"`
	PlutusV3   [][]byte          `cbor:"7,keyasint,omitempty"`
}

func decodeWitnessSet(raw cbor.RawMessage) (WitnessSet, error) {
	var m witnessSetMap
	if err := cbor.Unmarshal(raw, &m); err != nil {
		return WitnessSet{}, fmt.Errorf("%w: witness set: %v", domain.ErrDecode, err)
	}
	ws := WitnessSet{VKeys: m.VKeys, Native: m.Native, PlutusData: m.PlutusData}
	redeemers, err := decodeRedeemers(m.Redeemers)
	if err != nil {
		return WitnessSet{}, err
	}
	ws.Redeemers = redeemers
	for version, scripts := range [][][]byte{m.PlutusV1, m.PlutusV2, m.PlutusV3} {
		for _, s := range scripts {
			ws.Plutus = append(ws.Plutus, PlutusScript{Version: version + 1, Script: s})
		}
	}
	return ws, nil
}

// decodeAuxiliary handles the Shelley map, the Mary [metadata, scripts]
// pair and the Alonzo tag-259 map.
func decodeAuxiliary(raw cbor.RawMessage) ([]Metadatum, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var metadata cbor.RawMessage
	switch raw[0] >> 5 {
	case 5:
		metadata = raw
	case 4:
		var pair []cbor.RawMessage
		if err := cbor.Unmarshal(raw, &pair); err != nil || len(pair) == 0 {
			return nil, fmt.Errorf("%w: auxiliary data: %v", domain.ErrDecode, err)
		}
		metadata = pair[0]
	case 6:
		var tag cbor.RawTag
		if err := cbor.Unmarshal(raw, &tag); err != nil {
			return nil, fmt.Errorf("%w: auxiliary data: %v", domain.ErrDecode, err)
		}
		var fields map[uint64]cbor.RawMessage
		if err := cbor.Unmarshal(tag.Content, &fields); err != nil {
			return nil, fmt.Errorf("%w: auxiliary data: %v", domain.ErrDecode, err)
		}
		metadata = fields[0]
	default:
		return nil, fmt.Errorf("%w: auxiliary data major type %d", domain.ErrDecode, raw[0]>>5)
	}
	if len(metadata) == 0 {
		return nil, nil
	}

	var labelled map[uint64]cbor.RawMessage
	if err := cbor.Unmarshal(metadata, &labelled); err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", domain.ErrDecode, err)
	}
	labels := make([]uint64, 0, len(labelled))
	for l := range labelled {
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })

	out := make([]Metadatum, 0, len(labels))
	for _, l := range labels {
		out = append(out, Metadatum{Label: l, Value: labelled[l]})
	}
	return out, nil
}

// ToJSONValue decodes arbitrary CBOR (metadata, plutus data) into a value
// encoding/json can render: maps get string keys, byte strings become hex.
func ToJSONValue(raw cbor.RawMessage) (any, error) {
	var v any
	if err := cbor.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%w: generic value: %v", domain.ErrDecode, err)
	}
	return jsonify(v), nil
}

func jsonify(v any) any {
	switch t := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[keyString(k)] = jsonify(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = jsonify(val)
		}
		return out
	case []byte:
		return hex.EncodeToString(t)
	case cbor.Tag:
		return map[string]any{"tag": t.Number, "value": jsonify(t.Content)}
	case big.Int:
		return t.String()
	case *big.Int:
		return t.String()
	default:
		return t
	}
}

func keyString(k any) string {
	switch t := k.(type) {
	case string:
		return t
	case []byte:
		return hex.EncodeToString(t)
	case cbor.ByteString:
		return hex.EncodeToString([]byte(t))
	default:
		return fmt.Sprint(t)
	}
}
