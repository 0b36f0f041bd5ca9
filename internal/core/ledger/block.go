// Package ledger decodes multi-era block bodies as delivered by chain-sync.
//
// A body is the envelope [era, block]. Shelley-family blocks are
// [header, tx_bodies, witness_sets, auxiliary_data, invalid_txs?]; Byron
// blocks only have their header decoded.
package ledger

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/vietddude/chainrelay/internal/core/domain"
)

// Header is the subset of block header fields exposed in events.
type Header struct {
	BlockNumber uint64
	Slot        uint64
	PrevHash    []byte
	IssuerVKey  []byte
	VRFVKey     []byte
	BodySize    uint64
}

// Block is a decoded block body.
type Block struct {
	Era          uint64
	Raw          []byte
	Header       Header
	Transactions []Transaction
}

// DecodeBlock decodes a raw envelope. Errors wrap domain.ErrDecode.
func DecodeBlock(body []byte) (*Block, error) {
	var env []cbor.RawMessage
	if err := cbor.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: envelope: %v", domain.ErrDecode, err)
	}
	if len(env) != 2 {
		return nil, fmt.Errorf("%w: envelope has %d items", domain.ErrDecode, len(env))
	}

	var era uint64
	if err := cbor.Unmarshal(env[0], &era); err != nil {
		return nil, fmt.Errorf("%w: era: %v", domain.ErrDecode, err)
	}

	inner, err := unwrapEmbedded(env[1])
	if err != nil {
		return nil, err
	}

	b := &Block{Era: era, Raw: body}
	switch era {
	case domain.EraByronEBB, domain.EraByron:
		if err := decodeByron(era, inner, b); err != nil {
			return nil, err
		}
	default:
		if err := decodeShelley(inner, b); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// unwrapEmbedded strips the tag-24 "embedded CBOR" wrapper some nodes use.
func unwrapEmbedded(raw cbor.RawMessage) ([]byte, error) {
	var tag cbor.RawTag
	if err := cbor.Unmarshal(raw, &tag); err != nil || tag.Number != 24 {
		return raw, nil
	}
	var inner []byte
	if err := cbor.Unmarshal(tag.Content, &inner); err != nil {
		return nil, fmt.Errorf("%w: embedded block: %v", domain.ErrDecode, err)
	}
	return inner, nil
}

func decodeShelley(data []byte, b *Block) error {
	var parts []cbor.RawMessage
	if err := cbor.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("%w: block: %v", domain.ErrDecode, err)
	}
	if len(parts) < 4 {
		return fmt.Errorf("%w: block has %d items", domain.ErrDecode, len(parts))
	}

	header, err := decodeHeader(parts[0])
	if err != nil {
		return err
	}
	b.Header = header

	var bodies []cbor.RawMessage
	if err := cbor.Unmarshal(parts[1], &bodies); err != nil {
		return fmt.Errorf("%w: tx bodies: %v", domain.ErrDecode, err)
	}
	var witnesses []cbor.RawMessage
	if err := cbor.Unmarshal(parts[2], &witnesses); err != nil {
		return fmt.Errorf("%w: witness sets: %v", domain.ErrDecode, err)
	}
	aux := map[uint64]cbor.RawMessage{}
	if err := cbor.Unmarshal(parts[3], &aux); err != nil {
		return fmt.Errorf("%w: auxiliary data: %v", domain.ErrDecode, err)
	}
	invalid := map[uint64]bool{}
	if len(parts) > 4 {
		var idx []uint64
		if err := cbor.Unmarshal(parts[4], &idx); err != nil {
			return fmt.Errorf("%w: invalid txs: %v", domain.ErrDecode, err)
		}
		for _, i := range idx {
			invalid[i] = true
		}
	}

	b.Transactions = make([]Transaction, 0, len(bodies))
	for i, raw := range bodies {
		tx, err := decodeTransaction(i, raw)
		if err != nil {
			return err
		}
		if i < len(witnesses) {
			ws, err := decodeWitnessSet(witnesses[i])
			if err != nil {
				return fmt.Errorf("tx %d: %w", i, err)
			}
			tx.Witnesses = ws
		}
		if a, ok := aux[uint64(i)]; ok {
			md, err := decodeAuxiliary(a)
			if err != nil {
				return fmt.Errorf("tx %d: %w", i, err)
			}
			tx.Metadata = md
		}
		tx.Valid = !invalid[uint64(i)]
		b.Transactions = append(b.Transactions, tx)
	}
	return nil
}

func decodeHeader(raw cbor.RawMessage) (Header, error) {
	var h Header
	var header []cbor.RawMessage
	if err := cbor.Unmarshal(raw, &header); err != nil || len(header) < 1 {
		return h, fmt.Errorf("%w: header: %v", domain.ErrDecode, err)
	}
	var body []cbor.RawMessage
	if err := cbor.Unmarshal(header[0], &body); err != nil {
		return h, fmt.Errorf("%w: header body: %v", domain.ErrDecode, err)
	}
	if len(body) < 8 {
		return h, fmt.Errorf("%w: header body has %d items", domain.ErrDecode, len(body))
	}

	// Babbage onwards packs the VRF result into one field.
	sizeIdx := 7
	if len(body) == 10 {
		sizeIdx = 6
	}

	fields := []struct {
		idx int
		dst any
	}{
		{0, &h.BlockNumber},
		{1, &h.Slot},
		{2, &h.PrevHash},
		{3, &h.IssuerVKey},
		{4, &h.VRFVKey},
		{sizeIdx, &h.BodySize},
	}
	for _, f := range fields {
		if err := cbor.Unmarshal(body[f.idx], f.dst); err != nil {
			return h, fmt.Errorf("%w: header field %d: %v", domain.ErrDecode, f.idx, err)
		}
	}
	return h, nil
}

const byronSlotsPerEpoch = 21600

func decodeByron(era uint64, data []byte, b *Block) error {
	var parts []cbor.RawMessage
	if err := cbor.Unmarshal(data, &parts); err != nil || len(parts) < 1 {
		return fmt.Errorf("%w: byron block: %v", domain.ErrDecode, err)
	}
	var header []cbor.RawMessage
	if err := cbor.Unmarshal(parts[0], &header); err != nil || len(header) < 4 {
		return fmt.Errorf("%w: byron header: %v", domain.ErrDecode, err)
	}
	if err := cbor.Unmarshal(header[1], &b.Header.PrevHash); err != nil {
		return fmt.Errorf("%w: byron prev hash: %v", domain.ErrDecode, err)
	}

	var consensus []cbor.RawMessage
	if err := cbor.Unmarshal(header[3], &consensus); err != nil {
		return fmt.Errorf("%w: byron consensus: %v", domain.ErrDecode, err)
	}

	if era == domain.EraByronEBB {
		// [epoch, [difficulty]]
		var epoch uint64
		var difficulty []uint64
		if len(consensus) < 2 ||
			cbor.Unmarshal(consensus[0], &epoch) != nil ||
			cbor.Unmarshal(consensus[1], &difficulty) != nil || len(difficulty) == 0 {
			return fmt.Errorf("%w: byron boundary consensus", domain.ErrDecode)
		}
		b.Header.Slot = epoch * byronSlotsPerEpoch
		b.Header.BlockNumber = difficulty[0]
		return nil
	}

	// [[epoch, slot], pubkey, [difficulty], signature]
	var slotID []uint64
	var difficulty []uint64
	if len(consensus) < 3 ||
		cbor.Unmarshal(consensus[0], &slotID) != nil || len(slotID) != 2 ||
		cbor.Unmarshal(consensus[2], &difficulty) != nil || len(difficulty) == 0 {
		return fmt.Errorf("%w: byron consensus data", domain.ErrDecode)
	}
	b.Header.Slot = slotID[0]*byronSlotsPerEpoch + slotID[1]
	b.Header.BlockNumber = difficulty[0]
	_ = cbor.Unmarshal(consensus[1], &b.Header.IssuerVKey)
	return nil
}
