// Package mapper turns confirmed block bodies into ordered domain events.
//
// Mapping is pure: the same block bytes and options always produce the same
// events in the same order. Options only change how much each payload
// carries.
package mapper

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/vietddude/chainrelay/internal/core/domain"
	"github.com/vietddude/chainrelay/internal/core/ledger"
)

// Config controls payload richness.
type Config struct {
	IncludeTransactionDetails bool
	IncludeBlockDetails       bool
	IncludeBlockCBOR          bool
	IncludeTransactionEnd     bool
	IncludeBlockEnd           bool
}

// Mapper maps blocks of one network.
type Mapper struct {
	cfg   Config
	chain domain.ChainInfo
}

// New creates a mapper. chain supplies slot timing for timestamps and epochs.
func New(cfg Config, chain domain.ChainInfo) *Mapper {
	return &Mapper{cfg: cfg, chain: chain}
}

// Map decodes raw and returns its events in body order.
func (m *Mapper) Map(raw domain.RawBlock) (*domain.Batch, error) {
	block, err := ledger.DecodeBlock(raw.Body)
	if err != nil {
		return nil, fmt.Errorf("block %s: %w", raw.Point.String(), err)
	}

	c := &crawl{
		m:     m,
		block: block,
		base: domain.EventContext{
			BlockHash:   raw.Point.HashHex(),
			BlockNumber: block.Header.BlockNumber,
			Slot:        raw.Point.Slot,
			Timestamp:   m.chain.SlotToTimestamp(raw.Point.Slot),
			Era:         domain.EraName(block.Era),
		},
	}
	c.run(raw)

	return &domain.Batch{
		Point:       raw.Point,
		BlockNumber: block.Header.BlockNumber,
		Events:      c.events,
	}, nil
}

// crawl accumulates the events of one block.
type crawl struct {
	m      *Mapper
	block  *ledger.Block
	base   domain.EventContext
	events []*domain.Event
}

func (c *crawl) emit(ctx domain.EventContext, kind domain.EventKind, payload any) {
	c.events = append(c.events, &domain.Event{Context: ctx, Kind: kind, Payload: payload})
}

func (c *crawl) run(raw domain.RawBlock) {
	record := c.blockRecord(raw)
	c.emit(c.base, domain.KindBlock, record)

	for i := range c.block.Transactions {
		c.transaction(&c.block.Transactions[i])
	}

	if c.m.cfg.IncludeBlockEnd {
		c.emit(c.base, domain.KindBlockEnd, record)
	}
}

func (c *crawl) blockRecord(raw domain.RawBlock) domain.BlockRecord {
	h := c.block.Header
	epoch, epochSlot := c.m.chain.SlotToEpoch(raw.Point.Slot)
	rec := domain.BlockRecord{
		Era:          domain.EraName(c.block.Era),
		Epoch:        &epoch,
		EpochSlot:    &epochSlot,
		BodySize:     h.BodySize,
		IssuerVKey:   hex.EncodeToString(h.IssuerVKey),
		VRFVKey:      hex.EncodeToString(h.VRFVKey),
		TxCount:      len(c.block.Transactions),
		Slot:         raw.Point.Slot,
		Hash:         raw.Point.HashHex(),
		Number:       h.BlockNumber,
		PreviousHash: hex.EncodeToString(h.PrevHash),
	}
	if c.m.cfg.IncludeBlockCBOR {
		rec.CBORHex = hex.EncodeToString(raw.Body)
	}
	if c.m.cfg.IncludeBlockDetails {
		for i := range c.block.Transactions {
			rec.Transactions = append(rec.Transactions, c.transactionRecord(&c.block.Transactions[i], true))
		}
	}
	return rec
}

func (c *crawl) transaction(tx *ledger.Transaction) {
	idx := tx.Index
	txCtx := c.base
	txCtx.TxIdx = &idx
	txCtx.TxHash = hex.EncodeToString(tx.Hash)

	record := c.transactionRecord(tx, c.m.cfg.IncludeTransactionDetails)
	c.emit(txCtx, domain.KindTransaction, record)

	for i, in := range tx.Body.Inputs {
		ctx := txCtx
		ctx.InputIdx = intPtr(i)
		c.emit(ctx, domain.KindTxInput, inputRecord(in))
	}

	for i, out := range tx.Outputs {
		ctx := txCtx
		ctx.OutputIdx = intPtr(i)
		ctx.OutputAddress = ledger.AddressString(out.Address)
		rec := outputRecord(out)
		c.emit(ctx, domain.KindTxOutput, rec)
		for _, asset := range rec.Assets {
			c.emit(ctx, domain.KindOutputAsset, asset)
		}
	}

	for i, cert := range tx.Certificates {
		ctx := txCtx
		ctx.CertificateIdx = intPtr(i)
		kind, payload := certificateEvent(cert)
		c.emit(ctx, kind, payload)
	}

	for _, in := range tx.Body.Collateral {
		c.emit(txCtx, domain.KindCollateral, domain.CollateralRecord{
			TxID:  hex.EncodeToString(in.TxID),
			Index: in.Index,
		})
	}

	for _, mint := range mintRecords(tx.Body.Mint) {
		c.emit(txCtx, domain.KindMint, mint)
	}

	for _, md := range metadataRecords(tx.Metadata) {
		c.emit(txCtx, domain.KindMetadata, md)
	}

	for _, w := range tx.Witnesses.VKeys {
		c.emit(txCtx, domain.KindVKeyWitness, domain.VKeyWitnessRecord{
			VKey:      hex.EncodeToString(w.VKey),
			Signature: hex.EncodeToString(w.Signature),
		})
	}
	for _, script := range tx.Witnesses.Native {
		rec := domain.NativeWitnessRecord{PolicyID: hex.EncodeToString(ledger.NativeScriptHash(script))}
		if js, err := ledger.NativeScriptJSON(script); err == nil {
			rec.ScriptJSON = js
		} else {
			rec.ScriptJSON = hex.EncodeToString(script)
		}
		c.emit(txCtx, domain.KindNativeWitness, rec)
	}
	for _, s := range tx.Witnesses.Plutus {
		c.emit(txCtx, domain.KindPlutusWitness, domain.PlutusWitnessRecord{
			Version:    s.Version,
			ScriptHash: hex.EncodeToString(ledger.ScriptHash(s.Version, s.Script)),
			ScriptHex:  hex.EncodeToString(s.Script),
		})
	}
	for _, r := range tx.Witnesses.Redeemers {
		data, err := ledger.ToJSONValue(r.Data)
		if err != nil {
			data = hex.EncodeToString(r.Data)
		}
		c.emit(txCtx, domain.KindPlutusRedeemer, domain.PlutusRedeemerRecord{
			Purpose:      r.Purpose(),
			ExUnitsMem:   r.Mem,
			ExUnitsSteps: r.Steps,
			InputIdx:     r.Index,
			PlutusData:   data,
		})
	}
	for _, d := range tx.Witnesses.PlutusData {
		data, err := ledger.ToJSONValue(d)
		if err != nil {
			data = hex.EncodeToString(d)
		}
		c.emit(txCtx, domain.KindPlutusDatum, domain.PlutusDatumRecord{
			DatumHash:  hex.EncodeToString(ledger.Blake2b256(d)),
			PlutusData: data,
		})
	}

	if c.m.cfg.IncludeTransactionEnd {
		c.emit(txCtx, domain.KindTransactionEnd, record)
	}
}

func (c *crawl) transactionRecord(tx *ledger.Transaction, details bool) domain.TransactionRecord {
	rec := domain.TransactionRecord{
		Hash:                 hex.EncodeToString(tx.Hash),
		Fee:                  tx.Body.Fee,
		TTL:                  tx.Body.TTL,
		ValidityStart:        tx.Body.ValidityStart,
		NetworkID:            tx.Body.NetworkID,
		InputCount:           len(tx.Body.Inputs),
		CollateralInputCount: len(tx.Body.Collateral),
		OutputCount:          len(tx.Outputs),
		MintCount:            len(tx.Body.Mint),
		Valid:                tx.Valid,
	}
	for _, out := range tx.Outputs {
		rec.TotalOutput += out.Coin
	}
	if details {
		rec.Metadata = metadataRecords(tx.Metadata)
		for _, in := range tx.Body.Inputs {
			rec.Inputs = append(rec.Inputs, inputRecord(in))
		}
		for _, out := range tx.Outputs {
			rec.Outputs = append(rec.Outputs, outputRecord(out))
		}
		rec.Mint = mintRecords(tx.Body.Mint)
	}
	return rec
}

func inputRecord(in ledger.Input) domain.TxInputRecord {
	return domain.TxInputRecord{TxID: hex.EncodeToString(in.TxID), Index: in.Index}
}

func outputRecord(out ledger.Output) domain.TxOutputRecord {
	rec := domain.TxOutputRecord{
		Address: ledger.AddressString(out.Address),
		Amount:  out.Coin,
	}
	if len(out.DatumHash) > 0 {
		rec.DatumHash = hex.EncodeToString(out.DatumHash)
	}
	for _, policy := range sortedKeys(out.Assets) {
		assets := out.Assets[policy]
		for _, name := range sortedKeys(assets) {
			rec.Assets = append(rec.Assets, domain.OutputAssetRecord{
				Policy:     hex.EncodeToString([]byte(policy)),
				Asset:      hex.EncodeToString([]byte(name)),
				AssetASCII: printable(name),
				Amount:     assets[name],
			})
		}
	}
	return rec
}

func mintRecords(mint ledger.MintAsset) []domain.MintRecord {
	var out []domain.MintRecord
	for _, policy := range sortedKeys(mint) {
		assets := mint[policy]
		for _, name := range sortedKeys(assets) {
			out = append(out, domain.MintRecord{
				Policy:   hex.EncodeToString([]byte(policy)),
				Asset:    hex.EncodeToString([]byte(name)),
				Quantity: assets[name],
			})
		}
	}
	return out
}

func metadataRecords(md []ledger.Metadatum) []domain.MetadataRecord {
	var out []domain.MetadataRecord
	for _, m := range md {
		content, err := ledger.ToJSONValue(m.Value)
		if err != nil {
			content = hex.EncodeToString(m.Value)
		}
		out = append(out, domain.MetadataRecord{
			Label:   strconv.FormatUint(m.Label, 10),
			Content: content,
		})
	}
	return out
}

func certificateEvent(cert ledger.Certificate) (domain.EventKind, any) {
	switch cert.Type {
	case ledger.CertStakeRegistration:
		if cert.Credential != nil {
			return domain.KindStakeRegistration, domain.StakeRegistrationRecord{Credential: credentialRecord(cert.Credential)}
		}
	case ledger.CertStakeDeregistration:
		if cert.Credential != nil {
			return domain.KindStakeDeregistration, domain.StakeDeregistrationRecord{Credential: credentialRecord(cert.Credential)}
		}
	case ledger.CertStakeDelegation:
		if cert.Credential != nil {
			return domain.KindStakeDelegation, domain.StakeDelegationRecord{
				Credential: credentialRecord(cert.Credential),
				PoolHash:   hex.EncodeToString(cert.PoolHash),
			}
		}
	case ledger.CertPoolRegistration:
		owners := make([]string, len(cert.Owners))
		for i, o := range cert.Owners {
			owners[i] = hex.EncodeToString(o)
		}
		return domain.KindPoolRegistration, domain.PoolRegistrationRecord{
			Operator:      hex.EncodeToString(cert.PoolHash),
			VRFKeyHash:    hex.EncodeToString(cert.VRFKeyHash),
			Pledge:        cert.Pledge,
			Cost:          cert.Cost,
			RewardAccount: hex.EncodeToString(cert.Reward),
			PoolOwners:    owners,
		}
	case ledger.CertPoolRetirement:
		return domain.KindPoolRetirement, domain.PoolRetirementRecord{
			Pool:  hex.EncodeToString(cert.PoolHash),
			Epoch: cert.Epoch,
		}
	}
	return domain.KindCertificate, domain.CertificateRecord{Type: cert.Type, CBORHex: hex.EncodeToString(cert.Raw)}
}

func credentialRecord(c *ledger.Credential) domain.StakeCredentialRecord {
	kind := "key_hash"
	if c.Kind == 1 {
		kind = "script_hash"
	}
	return domain.StakeCredentialRecord{Kind: kind, Hash: hex.EncodeToString(c.Hash)}
}
