package market

import "marketIndexer/internal/model"

// SnapshotView is a market snapshot with human-readable amounts added.
type SnapshotView struct {
	model.MarketSnapshot
	Collateral     string `json:"collateral,omitempty"`
	YesProbability string `json:"yes_probability"`
	NoProbability  string `json:"no_probability"`
	VolumeText     string `json:"volume_text"`
	LiquidityText  string `json:"liquidity_text"`
}

// Present formats snapshot amounts with the collateral token's decimals.
// A zero TokenMeta leaves amounts in base units.
func Present(snapshot model.MarketSnapshot, collateral model.TokenMeta) SnapshotView {
	return SnapshotView{
		MarketSnapshot: snapshot,
		Collateral:     collateral.Symbol,
		YesProbability: FormatPrice(snapshot.YesPrice),
		NoProbability:  FormatPrice(snapshot.NoPrice),
		VolumeText:     FormatAmount(snapshot.Volume, collateral.Decimals),
		LiquidityText:  FormatAmount(snapshot.Liquidity, collateral.Decimals),
	}
}
