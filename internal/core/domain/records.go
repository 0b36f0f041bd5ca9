package domain

// Payload records carried by Event.Payload. Field names follow the JSON wire
// format consumed by downstream receivers.

type BlockRecord struct {
	Era          string              `json:"era"`
	Epoch        *uint64             `json:"epoch,omitempty"`
	EpochSlot    *uint64             `json:"epoch_slot,omitempty"`
	BodySize     uint64              `json:"body_size"`
	IssuerVKey   string              `json:"issuer_vkey,omitempty"`
	VRFVKey      string              `json:"vrf_vkey,omitempty"`
	TxCount      int                 `json:"tx_count"`
	Slot         uint64              `json:"slot"`
	Hash         string              `json:"hash"`
	Number       uint64              `json:"number"`
	PreviousHash string              `json:"previous_hash,omitempty"`
	CBORHex      string              `json:"cbor_hex,omitempty"`
	Transactions []TransactionRecord `json:"transactions,omitempty"`
}

type TransactionRecord struct {
	Hash                 string           `json:"hash"`
	Fee                  uint64           `json:"fee"`
	TTL                  *uint64          `json:"ttl,omitempty"`
	ValidityStart        *uint64          `json:"validity_interval_start,omitempty"`
	NetworkID            *uint64          `json:"network_id,omitempty"`
	InputCount           int              `json:"input_count"`
	CollateralInputCount int              `json:"collateral_input_count"`
	OutputCount          int              `json:"output_count"`
	MintCount            int              `json:"mint_count"`
	TotalOutput          uint64           `json:"total_output"`
	Valid                bool             `json:"valid"`
	Metadata             []MetadataRecord `json:"metadata,omitempty"`
	Inputs               []TxInputRecord  `json:"inputs,omitempty"`
	Outputs              []TxOutputRecord `json:"outputs,omitempty"`
	Mint                 []MintRecord     `json:"mint,omitempty"`
}

type TxInputRecord struct {
	TxID  string `json:"tx_id"`
	Index uint64 `json:"index"`
}

type TxOutputRecord struct {
	Address   string              `json:"address"`
	Amount    uint64              `json:"amount"`
	Assets    []OutputAssetRecord `json:"assets,omitempty"`
	DatumHash string              `json:"datum_hash,omitempty"`
}

type OutputAssetRecord struct {
	Policy     string `json:"policy"`
	Asset      string `json:"asset"`
	AssetASCII string `json:"asset_ascii,omitempty"`
	Amount     uint64 `json:"amount"`
}

type MintRecord struct {
	Policy   string `json:"policy"`
	Asset    string `json:"asset"`
	Quantity int64  `json:"quantity"`
}

type MetadataRecord struct {
	Label   string `json:"label"`
	Content any    `json:"content"`
}

type CollateralRecord struct {
	TxID  string `json:"tx_id"`
	Index uint64 `json:"index"`
}

type StakeCredentialRecord struct {
	Kind string `json:"kind"` // key_hash or script_hash
	Hash string `json:"hash"`
}

type StakeRegistrationRecord struct {
	Credential StakeCredentialRecord `json:"credential"`
}

type StakeDeregistrationRecord struct {
	Credential StakeCredentialRecord `json:"credential"`
}

type StakeDelegationRecord struct {
	Credential StakeCredentialRecord `json:"credential"`
	PoolHash   string                `json:"pool_hash"`
}

type PoolRegistrationRecord struct {
	Operator      string   `json:"operator"`
	VRFKeyHash    string   `json:"vrf_keyhash"`
	Pledge        uint64   `json:"pledge"`
	Cost          uint64   `json:"cost"`
	RewardAccount string   `json:"reward_account"`
	PoolOwners    []string `json:"pool_owners"`
}

type PoolRetirementRecord struct {
	Pool  string `json:"pool"`
	Epoch uint64 `json:"epoch"`
}

// CertificateRecord covers certificate types without a dedicated variant.
type CertificateRecord struct {
	Type    uint64 `json:"type"`
	CBORHex string `json:"cbor_hex"`
}

type VKeyWitnessRecord struct {
	VKey      string `json:"vkey_hex"`
	Signature string `json:"signature_hex"`
}

type NativeWitnessRecord struct {
	PolicyID   string `json:"policy_id"`
	ScriptJSON any    `json:"script_json"`
}

type PlutusWitnessRecord struct {
	Version    int    `json:"version"`
	ScriptHash string `json:"script_hash"`
	ScriptHex  string `json:"script_hex"`
}

type PlutusRedeemerRecord struct {
	Purpose      string `json:"purpose"`
	ExUnitsMem   uint64 `json:"ex_units_mem"`
	ExUnitsSteps uint64 `json:"ex_units_steps"`
	InputIdx     uint64 `json:"input_idx"`
	PlutusData   any    `json:"plutus_data"`
}

type PlutusDatumRecord struct {
	DatumHash  string `json:"datum_hash"`
	PlutusData any    `json:"plutus_data"`
}
