package server

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"strategyvaults/native/trade"
	"strategyvaults/native/vault"
)

const maxBodyBytes = 1 << 20

// Amounts travel as base-unit decimal strings: primary and secondary in
// their token decimals, debt in 1e8 units and ratios in 1e6.

type tradeSpecJSON struct {
	Dex            string `json:"dex"`
	Type           string `json:"type"`
	Limit          string `json:"limit,omitempty"`
	OracleSlippage bool   `json:"oracle_slippage,omitempty"`
	Unwrap         bool   `json:"unwrap,omitempty"`
	Payload        string `json:"payload,omitempty"`
}

type joinParamsJSON struct {
	MinPoolClaim  string         `json:"min_pool_claim,omitempty"`
	SecondarySell string         `json:"secondary_sell,omitempty"`
	Trade         *tradeSpecJSON `json:"trade,omitempty"`
}

type exitParamsJSON struct {
	MinPrimaryOut   string         `json:"min_primary_out,omitempty"`
	MinSecondaryOut string         `json:"min_secondary_out,omitempty"`
	Trade           *tradeSpecJSON `json:"trade,omitempty"`
}

type depositRequest struct {
	Amount   string `json:"amount"`
	Maturity uint64 `json:"maturity"`
	Borrow   string `json:"borrow"`
	joinParamsJSON
}

type redeemRequest struct {
	Shares   string `json:"shares"`
	Repay    string `json:"repay"`
	Receiver string `json:"receiver,omitempty"`
	exitParamsJSON
}

type rollRequest struct {
	Borrow    string `json:"borrow"`
	Maturity  uint64 `json:"maturity"`
	MinShares string `json:"min_shares,omitempty"`
	joinParamsJSON
}

type deleverageRequest struct {
	Deposit        string `json:"deposit,omitempty"`
	TransferShares bool   `json:"transfer_shares,omitempty"`
	exitParamsJSON
}

type liquidateRequest struct {
	Deposit        string `json:"deposit,omitempty"`
	TransferShares bool   `json:"transfer_shares,omitempty"`
	MinProfit      string `json:"min_profit,omitempty"`
	exitParamsJSON
}

type settleRequest struct {
	Mode   vault.SettlementMode `json:"mode"`
	Tokens string               `json:"tokens,omitempty"`
	exitParamsJSON
}

type reinvestTradeJSON struct {
	Token        string        `json:"token"`
	Amount       string        `json:"amount"`
	BuySecondary bool          `json:"buy_secondary,omitempty"`
	Trade        tradeSpecJSON `json:"trade"`
}

type reinvestRequest struct {
	MinPoolClaim string              `json:"min_pool_claim,omitempty"`
	Trades       []reinvestTradeJSON `json:"trades"`
}

type roleRequest struct {
	Role    string `json:"role"`
	Account string `json:"account"`
	Grant   bool   `json:"grant"`
}

type flagsRequest struct {
	Flags []string `json:"flags"`
}

type ownerRequest struct {
	Owner string `json:"owner"`
}

type tradePermissionRequest struct {
	Token      string   `json:"token"`
	Enabled    bool     `json:"enabled"`
	Dexes      []string `json:"dexes,omitempty"`
	TradeTypes []string `json:"trade_types,omitempty"`
}

// settingsRequest patches the vault settings; omitted fields keep their
// current value.
type settingsRequest struct {
	MaxUnderlyingSurplus                   *string `json:"max_underlying_surplus,omitempty"`
	SettlementSlippageLimitBps             *uint64 `json:"settlement_slippage_limit_bps,omitempty"`
	PostMaturitySettlementSlippageLimitBps *uint64 `json:"post_maturity_settlement_slippage_limit_bps,omitempty"`
	EmergencySettlementSlippageLimitBps    *uint64 `json:"emergency_settlement_slippage_limit_bps,omitempty"`
	MaxPoolShareBps                        *uint64 `json:"max_pool_share_bps,omitempty"`
	SettlementCoolDownSeconds              *uint64 `json:"settlement_cool_down_seconds,omitempty"`
	OraclePriceDeviationLimitBps           *uint64 `json:"oracle_price_deviation_limit_bps,omitempty"`
	PoolSlippageLimitBps                   *uint64 `json:"pool_slippage_limit_bps,omitempty"`
	FeeBps                                 *uint64 `json:"fee_bps,omitempty"`
	FeeReceiver                            *string `json:"fee_receiver,omitempty"`
}

type advanceRequest struct {
	Seconds uint64 `json:"seconds"`
	Blocks  uint64 `json:"blocks"`
	Refresh *bool  `json:"refresh,omitempty"`
}

type priceRequest struct {
	Token     string `json:"token"`
	Price     string `json:"price"`
	Arbitrage bool   `json:"arbitrage"`
}

type pauseRequest struct {
	Module string `json:"module"`
	Paused bool   `json:"paused"`
}

type mintRequest struct {
	Token  string `json:"token"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type rewardsRequest struct {
	Pool   string `json:"pool"`
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: decode body: %v", errBadRequest, err)
	}
	return nil
}

// parseAmount reads a base-unit integer. An empty value yields nil unless
// required.
func parseAmount(field, value string, required bool) (*big.Int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		if required {
			return nil, fmt.Errorf("%w: %s required", errBadRequest, field)
		}
		return nil, nil
	}
	out, ok := new(big.Int).SetString(value, 10)
	if !ok || out.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s must be a non-negative integer", errBadRequest, field)
	}
	return out, nil
}

func parseAddress(field, value string) (common.Address, error) {
	value = strings.TrimSpace(value)
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("%w: %s must be a hex address", errBadRequest, field)
	}
	return common.HexToAddress(value), nil
}

func parseUint(field, value string) (uint64, error) {
	out, err := strconv.ParseUint(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an unsigned integer", errBadRequest, field)
	}
	return out, nil
}

func (t *tradeSpecJSON) spec() (*trade.Spec, error) {
	if t == nil {
		return nil, nil
	}
	dex, ok := trade.ParseDexID(t.Dex)
	if !ok {
		return nil, fmt.Errorf("%w: unknown dex %q", errBadRequest, t.Dex)
	}
	tradeType, ok := trade.ParseTradeType(t.Type)
	if !ok {
		return nil, fmt.Errorf("%w: unknown trade type %q", errBadRequest, t.Type)
	}
	limit, err := parseAmount("trade.limit", t.Limit, false)
	if err != nil {
		return nil, err
	}
	var payload []byte
	if t.Payload != "" {
		if payload, err = hexutil.Decode(t.Payload); err != nil {
			return nil, fmt.Errorf("%w: trade.payload: %v", errBadRequest, err)
		}
	}
	return &trade.Spec{
		DexID:               dex,
		TradeType:           tradeType,
		Limit:               limit,
		OracleSlippage:      t.OracleSlippage,
		UnwrapWrappedNative: t.Unwrap,
		Payload:             payload,
	}, nil
}

func (p joinParamsJSON) encode() ([]byte, error) {
	minClaim, err := parseAmount("min_pool_claim", p.MinPoolClaim, false)
	if err != nil {
		return nil, err
	}
	sell, err := parseAmount("secondary_sell", p.SecondarySell, false)
	if err != nil {
		return nil, err
	}
	spec, err := p.Trade.spec()
	if err != nil {
		return nil, err
	}
	if minClaim == nil && sell == nil && spec == nil {
		return nil, nil
	}
	return vault.EncodeDepositParams(vault.DepositParams{MinPoolClaim: minClaim, SecondarySellAmount: sell, Trade: spec})
}

func (p exitParamsJSON) encode() ([]byte, error) {
	minPrimary, err := parseAmount("min_primary_out", p.MinPrimaryOut, false)
	if err != nil {
		return nil, err
	}
	minSecondary, err := parseAmount("min_secondary_out", p.MinSecondaryOut, false)
	if err != nil {
		return nil, err
	}
	spec, err := p.Trade.spec()
	if err != nil {
		return nil, err
	}
	if minPrimary == nil && minSecondary == nil && spec == nil {
		return nil, nil
	}
	return vault.EncodeRedeemParams(vault.RedeemParams{MinPrimaryOut: minPrimary, MinSecondaryOut: minSecondary, Trade: spec})
}

// amount renders nil as zero.
func amount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

type vaultSummary struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Host    string `json:"host"`
	Pool    string `json:"pool"`
}

type configView struct {
	Owner                             string   `json:"owner"`
	PrimaryToken                      string   `json:"primary_token"`
	SecondaryToken                    string   `json:"secondary_token"`
	Flags                             []string `json:"flags"`
	MaxPrimaryBorrowCapacity          string   `json:"max_primary_borrow_capacity"`
	MinAccountBorrowSize              string   `json:"min_account_borrow_size"`
	MinCollateralRatio                uint64   `json:"min_collateral_ratio"`
	MaxDeleverageCollateralRatio      uint64   `json:"max_deleverage_collateral_ratio"`
	MaxRequiredAccountCollateralRatio uint64   `json:"max_required_account_collateral_ratio"`
	LiquidationDiscount               uint64   `json:"liquidation_discount"`
	ReserveFeeShare                   uint64   `json:"reserve_fee_share"`
	MaxDebtMarketIndex                uint64   `json:"max_debt_market_index"`
	SettlementWindow                  uint64   `json:"settlement_window_seconds"`
	MinEntryBlocks                    uint64   `json:"min_entry_blocks"`
	ActiveMarkets                     []uint64 `json:"active_markets"`
}

func newConfigView(c *vault.Config) configView {
	return configView{
		Owner:                             c.Owner.Hex(),
		PrimaryToken:                      c.PrimaryToken.Hex(),
		SecondaryToken:                    c.SecondaryToken.Hex(),
		Flags:                             c.Flags.Names(),
		MaxPrimaryBorrowCapacity:          amount(c.MaxPrimaryBorrowCapacity),
		MinAccountBorrowSize:              amount(c.MinAccountBorrowSize),
		MinCollateralRatio:                c.MinCollateralRatio,
		MaxDeleverageCollateralRatio:      c.MaxDeleverageCollateralRatio,
		MaxRequiredAccountCollateralRatio: c.MaxRequiredAccountCollateralRatio,
		LiquidationDiscount:               c.LiquidationDiscount,
		ReserveFeeShare:                   c.ReserveFeeShare,
		MaxDebtMarketIndex:                c.MaxDebtMarketIndex,
		SettlementWindow:                  c.SettlementWindow,
		MinEntryBlocks:                    c.MinEntryBlocks,
		ActiveMarkets:                     append([]uint64{}, c.ActiveMarkets...),
	}
}

type settingsView struct {
	MaxUnderlyingSurplus                   string `json:"max_underlying_surplus"`
	SettlementSlippageLimitBps             uint64 `json:"settlement_slippage_limit_bps"`
	PostMaturitySettlementSlippageLimitBps uint64 `json:"post_maturity_settlement_slippage_limit_bps"`
	EmergencySettlementSlippageLimitBps    uint64 `json:"emergency_settlement_slippage_limit_bps"`
	MaxPoolShareBps                        uint64 `json:"max_pool_share_bps"`
	SettlementCoolDownSeconds              uint64 `json:"settlement_cool_down_seconds"`
	OraclePriceDeviationLimitBps           uint64 `json:"oracle_price_deviation_limit_bps"`
	PoolSlippageLimitBps                   uint64 `json:"pool_slippage_limit_bps"`
	FeeBps                                 uint64 `json:"fee_bps"`
	FeeReceiver                            string `json:"fee_receiver"`
}

func newSettingsView(s *vault.Settings) settingsView {
	return settingsView{
		MaxUnderlyingSurplus:                   amount(s.MaxUnderlyingSurplus),
		SettlementSlippageLimitBps:             s.SettlementSlippageLimitBps,
		PostMaturitySettlementSlippageLimitBps: s.PostMaturitySettlementSlippageLimitBps,
		EmergencySettlementSlippageLimitBps:    s.EmergencySettlementSlippageLimitBps,
		MaxPoolShareBps:                        s.MaxPoolShareBps,
		SettlementCoolDownSeconds:              s.SettlementCoolDown,
		OraclePriceDeviationLimitBps:           s.OraclePriceDeviationLimitBps,
		PoolSlippageLimitBps:                   s.PoolSlippageLimitBps,
		FeeBps:                                 s.FeeBps,
		FeeReceiver:                            s.FeeReceiver.Hex(),
	}
}

// apply returns a copy of base with the request's fields applied.
func (req settingsRequest) apply(base *vault.Settings) (*vault.Settings, error) {
	out := base.Clone()
	if req.MaxUnderlyingSurplus != nil {
		surplus, err := parseAmount("max_underlying_surplus", *req.MaxUnderlyingSurplus, true)
		if err != nil {
			return nil, err
		}
		out.MaxUnderlyingSurplus = surplus
	}
	fields := []struct {
		src *uint64
		dst *uint64
	}{
		{req.SettlementSlippageLimitBps, &out.SettlementSlippageLimitBps},
		{req.PostMaturitySettlementSlippageLimitBps, &out.PostMaturitySettlementSlippageLimitBps},
		{req.EmergencySettlementSlippageLimitBps, &out.EmergencySettlementSlippageLimitBps},
		{req.MaxPoolShareBps, &out.MaxPoolShareBps},
		{req.SettlementCoolDownSeconds, &out.SettlementCoolDown},
		{req.OraclePriceDeviationLimitBps, &out.OraclePriceDeviationLimitBps},
		{req.PoolSlippageLimitBps, &out.PoolSlippageLimitBps},
		{req.FeeBps, &out.FeeBps},
	}
	for _, f := range fields {
		if f.src != nil {
			*f.dst = *f.src
		}
	}
	if req.FeeReceiver != nil {
		receiver, err := parseAddress("fee_receiver", *req.FeeReceiver)
		if err != nil {
			return nil, err
		}
		out.FeeReceiver = receiver
	}
	return out, nil
}

type totalsView struct {
	TotalPoolClaim      string `json:"total_pool_claim"`
	TotalStrategyTokens string `json:"total_strategy_tokens"`
	TotalDebt           string `json:"total_debt"`
}

type vaultView struct {
	vaultSummary
	Config   configView   `json:"config"`
	Settings settingsView `json:"settings"`
	Totals   totalsView   `json:"totals"`
}

type maturityView struct {
	Maturity            uint64 `json:"maturity"`
	Status              string `json:"status"`
	TotalDebt           string `json:"total_debt"`
	TotalVaultShares    string `json:"total_vault_shares"`
	TotalStrategyTokens string `json:"total_strategy_tokens"`
	TotalAssetCash      string `json:"total_asset_cash"`
	Shortfall           string `json:"shortfall"`
	IsSettled           bool   `json:"is_settled"`
	LastSettlement      uint64 `json:"last_settlement"`
}

func newMaturityView(m *vault.MaturityState, status vault.Status) maturityView {
	return maturityView{
		Maturity:            m.Maturity,
		Status:              status.String(),
		TotalDebt:           amount(m.TotalDebt),
		TotalVaultShares:    amount(m.TotalVaultShares),
		TotalStrategyTokens: amount(m.TotalStrategyTokens),
		TotalAssetCash:      amount(m.TotalAssetCash),
		Shortfall:           amount(m.Shortfall),
		IsSettled:           m.IsSettled,
		LastSettlement:      m.LastSettlement,
	}
}

type accountView struct {
	Owner           string `json:"owner"`
	Maturity        uint64 `json:"maturity"`
	VaultShares     string `json:"vault_shares"`
	Debt            string `json:"debt"`
	LastEntryBlock  uint64 `json:"last_entry_block"`
	Value           string `json:"value"`
	CollateralRatio string `json:"collateral_ratio"`
}

type liquidationView struct {
	Account                 string `json:"account"`
	Maturity                uint64 `json:"maturity"`
	VaultShares             string `json:"vault_shares"`
	Debt                    string `json:"debt"`
	Value                   string `json:"value"`
	DebtValue               string `json:"debt_value"`
	CollateralRatio         string `json:"collateral_ratio"`
	MinDepositCash          string `json:"min_deposit_cash"`
	MaxDepositCash          string `json:"max_deposit_cash"`
	VaultSharesToLiquidator string `json:"vault_shares_to_liquidator"`
	Liquidatable            bool   `json:"liquidatable"`
}

type deleverageView struct {
	Deposit             string `json:"deposit"`
	DebtRepaid          string `json:"debt_repaid"`
	SharesSeized        string `json:"shares_seized"`
	SharesToLiquidator  string `json:"shares_to_liquidator"`
	PrimaryToLiquidator string `json:"primary_to_liquidator"`
	ReserveFee          string `json:"reserve_fee"`
	TransferShares      bool   `json:"transfer_shares"`
	RatioBefore         string `json:"ratio_before"`
	RatioAfter          string `json:"ratio_after"`
}

func newDeleverageView(d *vault.DeleverageResult) deleverageView {
	return deleverageView{
		Deposit:             amount(d.Deposit),
		DebtRepaid:          amount(d.DebtRepaid),
		SharesSeized:        amount(d.SharesSeized),
		SharesToLiquidator:  amount(d.SharesToLiquidator),
		PrimaryToLiquidator: amount(d.PrimaryToLiquidator),
		ReserveFee:          amount(d.ReserveFee),
		TransferShares:      d.TransferShares,
		RatioBefore:         amount(d.RatioBefore),
		RatioAfter:          amount(d.RatioAfter),
	}
}

type liquidateView struct {
	Account         string         `json:"account"`
	Deposit         string         `json:"deposit"`
	FlashFee        string         `json:"flash_fee"`
	PrimaryReceived string         `json:"primary_received"`
	Profit          string         `json:"profit"`
	Deleverage      deleverageView `json:"deleverage"`
}

type settlementView struct {
	Maturity       uint64 `json:"maturity"`
	Mode           string `json:"mode"`
	TokensRedeemed string `json:"tokens_redeemed"`
	PrimaryRaised  string `json:"primary_raised"`
	AssetCash      string `json:"asset_cash"`
	Shortfall      string `json:"shortfall"`
	Settled        bool   `json:"settled"`
	Noop           bool   `json:"noop"`
}

func newSettlementView(res *vault.SettlementResult) settlementView {
	return settlementView{
		Maturity:       res.Maturity,
		Mode:           string(res.Mode),
		TokensRedeemed: amount(res.TokensRedeemed),
		PrimaryRaised:  amount(res.PrimaryRaised),
		AssetCash:      amount(res.AssetCash),
		Shortfall:      amount(res.Shortfall),
		Settled:        res.Settled,
		Noop:           res.Noop,
	}
}

type rewardView struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

type clockView struct {
	Unix  int64  `json:"unix"`
	Block uint64 `json:"block"`
}
