// Package ledgertest builds encoded Babbage-era block bodies for tests.
package ledgertest

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/vietddude/chainrelay/internal/core/domain"
	"github.com/vietddude/chainrelay/internal/core/ledger"
)

// Output describes one transaction output.
type Output struct {
	Address []byte
	Coin    uint64
	Assets  ledger.MultiAsset
}

// Tx describes one transaction of a test block.
type Tx struct {
	Inputs       []ledger.Input
	Outputs      []Output
	Fee          uint64
	TTL          *uint64
	Mint         ledger.MintAsset
	Collateral   []ledger.Input
	Certificates []any
	Metadata     map[uint64]any
	VKeys        []ledger.VKeyWitness
	NativeScript []any
	PlutusV2     [][]byte
	PlutusData   []any
	// Redeemers is encoded as given: a list of [tag, index, data, [mem,
	// steps]] or a map keyed by [tag, index].
	Redeemers any
	Invalid   bool
}

// Block describes a test block.
type Block struct {
	Number   uint64
	Slot     uint64
	PrevHash []byte
	Txs      []Tx
	// Embedded wraps the block in a tag-24 byte string like N2N does.
	Embedded bool
}

type txBody struct {
	Inputs       []ledger.Input    `cbor:"0,keyasint"`
	Outputs      []cbor.RawMessage `cbor:"1,keyasint"`
	Fee          uint64            `cbor:"2,keyasint"`
	TTL          *uint64           `cbor:"3,keyasint,omitempty"`
	Certificates []any             `cbor:"4,keyasint,omitempty"`
	Mint         ledger.MintAsset  `cbor:"9,keyasint,omitempty"`
	Collateral   []ledger.Input    `cbor:"13,keyasint,omitempty"`
}

type output struct {
	Address []byte `cbor:"0,keyasint"`
	Amount  any    `cbor:"1,keyasint"`
}

type witnessSet struct {
	VKeys      []ledger.VKeyWitness `cbor:"0,keyasint,omitempty"`
	Native     []any                `cbor:"1,keyasint,omitempty"`
	PlutusData []any                `cbor:"4,keyasint,omitempty"`
	Redeemers  any                  `cbor:"5,keyasint,omitempty"`
	PlutusV2   [][]byte             `cbor:"6,keyasint,omitempty"`
}

// Encode returns the envelope bytes and the block hash.
func Encode(b Block) ([]byte, []byte, error) {
	header := []any{
		[]any{
			b.Number,
			b.Slot,
			b.PrevHash,
			make([]byte, 32), // issuer vkey
			make([]byte, 32), // vrf vkey
			[]any{make([]byte, 64), make([]byte, 80)},
			uint64(1024),
			make([]byte, 32),
			[]any{make([]byte, 32), uint64(0), uint64(0), make([]byte, 64)},
			[]any{uint64(9), uint64(0)},
		},
		make([]byte, 448),
	}
	headerRaw, err := cbor.Marshal(header)
	if err != nil {
		return nil, nil, fmt.Errorf("encode header: %w", err)
	}

	bodies := make([]cbor.RawMessage, 0, len(b.Txs))
	witnesses := make([]any, 0, len(b.Txs))
	aux := map[uint64]any{}
	invalid := []uint64{}
	for i, tx := range b.Txs {
		body := txBody{
			Inputs:       tx.Inputs,
			Fee:          tx.Fee,
			TTL:          tx.TTL,
			Certificates: tx.Certificates,
			Mint:         tx.Mint,
			Collateral:   tx.Collateral,
		}
		if body.Inputs == nil {
			body.Inputs = []ledger.Input{}
		}
		for _, o := range tx.Outputs {
			var amount any = o.Coin
			if len(o.Assets) > 0 {
				amount = []any{o.Coin, o.Assets}
			}
			raw, err := cbor.Marshal(output{Address: o.Address, Amount: amount})
			if err != nil {
				return nil, nil, fmt.Errorf("encode output: %w", err)
			}
			body.Outputs = append(body.Outputs, raw)
		}
		if body.Outputs == nil {
			body.Outputs = []cbor.RawMessage{}
		}
		raw, err := cbor.Marshal(body)
		if err != nil {
			return nil, nil, fmt.Errorf("encode tx %d: %w", i, err)
		}
		bodies = append(bodies, raw)
		witnesses = append(witnesses, witnessSet{
			VKeys:      tx.VKeys,
			Native:     tx.NativeScript,
			PlutusData: tx.PlutusData,
			Redeemers:  tx.Redeemers,
			PlutusV2:   tx.PlutusV2,
		})
		if len(tx.Metadata) > 0 {
			aux[uint64(i)] = tx.Metadata
		}
		if tx.Invalid {
			invalid = append(invalid, uint64(i))
		}
	}

	block, err := cbor.Marshal([]any{cbor.RawMessage(headerRaw), bodies, witnesses, aux, invalid})
	if err != nil {
		return nil, nil, fmt.Errorf("encode block: %w", err)
	}

	var inner any = cbor.RawMessage(block)
	if b.Embedded {
		inner = cbor.Tag{Number: 24, Content: block}
	}
	env, err := cbor.Marshal([]any{domain.EraBabbage, inner})
	if err != nil {
		return nil, nil, fmt.Errorf("encode envelope: %w", err)
	}
	return env, ledger.Blake2b256(headerRaw), nil
}

// Chain builds n linked blocks starting at slot start, ten slots apart,
// each carrying the given transactions.
func Chain(start uint64, n int, txs ...Tx) []domain.RawBlock {
	out := make([]domain.RawBlock, 0, n)
	var prev []byte
	for i := 0; i < n; i++ {
		body, hash, err := Encode(Block{
			Number:   uint64(i + 1),
			Slot:     start + uint64(i)*10,
			PrevHash: prev,
			Txs:      txs,
		})
		if err != nil {
			panic(err)
		}
		out = append(out, domain.RawBlock{
			Point: domain.Point{Slot: start + uint64(i)*10, Hash: hash},
			Body:  body,
		})
		prev = hash
	}
	return out
}

// SimpleTx is a one-input, one-output transaction.
func SimpleTx(seed byte, coin uint64) Tx {
	txID := make([]byte, 32)
	txID[0] = seed
	return Tx{
		Inputs:  []ledger.Input{{TxID: txID, Index: 0}},
		Outputs: []Output{{Address: []byte{0x61, seed}, Coin: coin}},
		Fee:     170000,
		VKeys:   []ledger.VKeyWitness{{VKey: make([]byte, 32), Signature: make([]byte, 64)}},
	}
}
