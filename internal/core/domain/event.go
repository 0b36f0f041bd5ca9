package domain

import (
	"encoding/json"
	"fmt"
)

// EventKind names the variant carried by an Event.
type EventKind string

const (
	KindBlock               EventKind = "block"
	KindBlockEnd            EventKind = "block_end"
	KindTransaction         EventKind = "transaction"
	KindTransactionEnd      EventKind = "transaction_end"
	KindTxInput             EventKind = "tx_input"
	KindTxOutput            EventKind = "tx_output"
	KindOutputAsset         EventKind = "output_asset"
	KindMetadata            EventKind = "metadata"
	KindMint                EventKind = "mint"
	KindCollateral          EventKind = "collateral"
	KindStakeRegistration   EventKind = "stake_registration"
	KindStakeDeregistration EventKind = "stake_deregistration"
	KindStakeDelegation     EventKind = "stake_delegation"
	KindPoolRegistration    EventKind = "pool_registration"
	KindPoolRetirement      EventKind = "pool_retirement"
	KindCertificate         EventKind = "certificate"
	KindVKeyWitness         EventKind = "vkey_witness"
	KindNativeWitness       EventKind = "native_witness"
	KindPlutusWitness       EventKind = "plutus_witness"
	KindPlutusRedeemer      EventKind = "plutus_redeemer"
	KindPlutusDatum         EventKind = "plutus_datum"
)

// ParseEventKind accepts either the wire name ("tx_output") or the
// configuration spelling ("TxOutput").
func ParseEventKind(s string) (EventKind, error) {
	for _, k := range AllEventKinds {
		if string(k) == s || k.Title() == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown event kind %q", s)
}

// AllEventKinds lists every variant in declaration order.
var AllEventKinds = []EventKind{
	KindBlock, KindBlockEnd, KindTransaction, KindTransactionEnd,
	KindTxInput, KindTxOutput, KindOutputAsset, KindMetadata, KindMint,
	KindCollateral, KindStakeRegistration, KindStakeDeregistration,
	KindStakeDelegation, KindPoolRegistration, KindPoolRetirement,
	KindCertificate, KindVKeyWitness, KindNativeWitness, KindPlutusWitness,
	KindPlutusRedeemer, KindPlutusDatum,
}

var kindTitles = map[EventKind]string{
	KindBlock:               "Block",
	KindBlockEnd:            "BlockEnd",
	KindTransaction:         "Transaction",
	KindTransactionEnd:      "TransactionEnd",
	KindTxInput:             "TxInput",
	KindTxOutput:            "TxOutput",
	KindOutputAsset:         "OutputAsset",
	KindMetadata:            "Metadata",
	KindMint:                "Mint",
	KindCollateral:          "Collateral",
	KindStakeRegistration:   "StakeRegistration",
	KindStakeDeregistration: "StakeDeregistration",
	KindStakeDelegation:     "StakeDelegation",
	KindPoolRegistration:    "PoolRegistration",
	KindPoolRetirement:      "PoolRetirement",
	KindCertificate:         "Certificate",
	KindVKeyWitness:         "VKeyWitness",
	KindNativeWitness:       "NativeWitness",
	KindPlutusWitness:       "PlutusWitness",
	KindPlutusRedeemer:      "PlutusRedeemer",
	KindPlutusDatum:         "PlutusDatum",
}

// Title is the configuration spelling of the kind.
func (k EventKind) Title() string {
	if t, ok := kindTitles[k]; ok {
		return t
	}
	return string(k)
}

// EventContext locates an event on the chain and inside its block.
type EventContext struct {
	BlockHash      string `json:"block_hash,omitempty"`
	BlockNumber    uint64 `json:"block_number"`
	Slot           uint64 `json:"slot"`
	Timestamp      uint64 `json:"timestamp,omitempty"`
	Era            string `json:"era,omitempty"`
	TxIdx          *int   `json:"tx_idx,omitempty"`
	TxHash         string `json:"tx_hash,omitempty"`
	InputIdx       *int   `json:"input_idx,omitempty"`
	OutputIdx      *int   `json:"output_idx,omitempty"`
	OutputAddress  string `json:"output_address,omitempty"`
	CertificateIdx *int   `json:"certificate_idx,omitempty"`
}

// Point returns the block position the event was extracted from.
func (c EventContext) Point() Point {
	p, err := NewPoint(c.Slot, c.BlockHash)
	if err != nil {
		return Point{Slot: c.Slot}
	}
	return p
}

// Event is one extracted unit of a confirmed block. Stages that annotate an
// event work on a copy; a produced event is never mutated in place.
type Event struct {
	Context     EventContext
	Kind        EventKind
	Payload     any
	Fingerprint string
}

// WithFingerprint returns a copy carrying the given fingerprint.
func (e *Event) WithFingerprint(fp string) *Event {
	c := *e
	c.Fingerprint = fp
	return &c
}

// MarshalJSON renders {"context":{...},"<kind>":{...},"fingerprint":"..."}.
func (e *Event) MarshalJSON() ([]byte, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", e.Kind, err)
	}
	ctx, err := json.Marshal(e.Context)
	if err != nil {
		return nil, fmt.Errorf("marshal event context: %w", err)
	}

	out := map[string]json.RawMessage{
		"context":      ctx,
		string(e.Kind): payload,
	}
	if e.Fingerprint != "" {
		fp, _ := json.Marshal(e.Fingerprint)
		out["fingerprint"] = fp
	}
	return json.Marshal(out)
}
