package ledger

import "fmt"

// AtlasAssetID is the singleton native token identifier. Unlike every other
// asset, which is identified by "<issuer>/<symbol>", ATLAS has no issuer
// namespace: it is minted once at genesis into vault:issuance.
const AtlasAssetID = "ATLAS"

// AssetDefinition describes a registered asset. Every asset referenced by a
// ledger entry's legs must have a corresponding AssetDefinition in
// State.assets before the entry can be applied.
type AssetDefinition struct {
	ID     string `json:"id"`
	Issuer string `json:"issuer"`
	Symbol string `json:"symbol"`
}

// AssetID returns the canonical "<issuer>/<symbol>" identifier for a
// non-native asset.
func AssetID(issuer, symbol string) string {
	return fmt.Sprintf("%s/%s", issuer, symbol)
}
