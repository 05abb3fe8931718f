package events

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"strategyvaults/core/types"
)

const (
	// TypeVaultDeposited is emitted when an account enters a maturity.
	TypeVaultDeposited = "vault.deposited"
	// TypeVaultRedeemed is emitted when an account exits part of a position.
	TypeVaultRedeemed = "vault.redeemed"
	// TypeVaultRolled is emitted when a position moves to a later maturity.
	TypeVaultRolled = "vault.rolled"
	// TypeVaultDeleveraged is emitted after a liquidation.
	TypeVaultDeleveraged = "vault.deleveraged"
	// TypeVaultSettled is emitted for every state-changing settlement call.
	TypeVaultSettled = "vault.settled"
	// TypeVaultRewardsClaimed is emitted when rewards are harvested.
	TypeVaultRewardsClaimed = "vault.rewards_claimed"
	// TypeVaultRewardsReinvested is emitted when rewards are joined back into
	// the pool.
	TypeVaultRewardsReinvested = "vault.rewards_reinvested"
	// TypeVaultRoleUpdated is emitted when the owner grants or revokes a role.
	TypeVaultRoleUpdated = "vault.role_updated"
	// TypeVaultSettingsUpdated is emitted when configuration or settings change.
	TypeVaultSettingsUpdated = "vault.settings_updated"
)

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func addressString(a common.Address) string {
	if a == (common.Address{}) {
		return ""
	}
	return a.Hex()
}

func maturityString(m uint64) string { return strconv.FormatUint(m, 10) }

// VaultDeposited records an entry into a maturity.
type VaultDeposited struct {
	OpID        string
	Vault       common.Address
	Account     common.Address
	Maturity    uint64
	Deposit     *big.Int
	Borrowed    *big.Int
	ClaimGained *big.Int
	Shares      *big.Int
}

func (VaultDeposited) EventType() string { return TypeVaultDeposited }

func (e VaultDeposited) Event() *types.Event {
	return &types.Event{
		Type: TypeVaultDeposited,
		OpID: e.OpID,
		Attributes: map[string]string{
			"vault":       addressString(e.Vault),
			"account":     addressString(e.Account),
			"maturity":    maturityString(e.Maturity),
			"deposit":     amountString(e.Deposit),
			"borrowed":    amountString(e.Borrowed),
			"claimGained": amountString(e.ClaimGained),
			"shares":      amountString(e.Shares),
		},
	}
}

// VaultRedeemed records an exit.
type VaultRedeemed struct {
	OpID        string
	Vault       common.Address
	Account     common.Address
	Receiver    common.Address
	Maturity    uint64
	Shares      *big.Int
	DebtRepaid  *big.Int
	RepayCost   *big.Int
	PrimaryPaid *big.Int
}

func (VaultRedeemed) EventType() string { return TypeVaultRedeemed }

func (e VaultRedeemed) Event() *types.Event {
	return &types.Event{
		Type: TypeVaultRedeemed,
		OpID: e.OpID,
		Attributes: map[string]string{
			"vault":       addressString(e.Vault),
			"account":     addressString(e.Account),
			"receiver":    addressString(e.Receiver),
			"maturity":    maturityString(e.Maturity),
			"shares":      amountString(e.Shares),
			"debtRepaid":  amountString(e.DebtRepaid),
			"repayCost":   amountString(e.RepayCost),
			"primaryPaid": amountString(e.PrimaryPaid),
		},
	}
}

// VaultRolled records a roll between maturities.
type VaultRolled struct {
	OpID         string
	Vault        common.Address
	Account      common.Address
	FromMaturity uint64
	ToMaturity   uint64
	OldDebt      *big.Int
	NewDebt      *big.Int
	Shares       *big.Int
}

func (VaultRolled) EventType() string { return TypeVaultRolled }

func (e VaultRolled) Event() *types.Event {
	return &types.Event{
		Type: TypeVaultRolled,
		OpID: e.OpID,
		Attributes: map[string]string{
			"vault":        addressString(e.Vault),
			"account":      addressString(e.Account),
			"fromMaturity": maturityString(e.FromMaturity),
			"toMaturity":   maturityString(e.ToMaturity),
			"oldDebt":      amountString(e.OldDebt),
			"newDebt":      amountString(e.NewDebt),
			"shares":       amountString(e.Shares),
		},
	}
}

// VaultDeleveraged records a liquidation.
type VaultDeleveraged struct {
	OpID           string
	Vault          common.Address
	Account        common.Address
	Liquidator     common.Address
	Maturity       uint64
	Deposit        *big.Int
	DebtRepaid     *big.Int
	SharesSeized   *big.Int
	PrimaryPaid    *big.Int
	ReserveFee     *big.Int
	TransferShares bool
	RatioBefore    *big.Int
	RatioAfter     *big.Int
}

func (VaultDeleveraged) EventType() string { return TypeVaultDeleveraged }

func (e VaultDeleveraged) Event() *types.Event {
	return &types.Event{
		Type: TypeVaultDeleveraged,
		OpID: e.OpID,
		Attributes: map[string]string{
			"vault":          addressString(e.Vault),
			"account":        addressString(e.Account),
			"liquidator":     addressString(e.Liquidator),
			"maturity":       maturityString(e.Maturity),
			"deposit":        amountString(e.Deposit),
			"debtRepaid":     amountString(e.DebtRepaid),
			"sharesSeized":   amountString(e.SharesSeized),
			"primaryPaid":    amountString(e.PrimaryPaid),
			"reserveFee":     amountString(e.ReserveFee),
			"transferShares": strconv.FormatBool(e.TransferShares),
			"ratioBefore":    amountString(e.RatioBefore),
			"ratioAfter":     amountString(e.RatioAfter),
		},
	}
}

// VaultSettled records a settlement call that changed state.
type VaultSettled struct {
	OpID           string
	Vault          common.Address
	Maturity       uint64
	Mode           string
	TokensRedeemed *big.Int
	PrimaryRaised  *big.Int
	AssetCash      *big.Int
	Shortfall      *big.Int
	Settled        bool
}

func (VaultSettled) EventType() string { return TypeVaultSettled }

func (e VaultSettled) Event() *types.Event {
	return &types.Event{
		Type: TypeVaultSettled,
		OpID: e.OpID,
		Attributes: map[string]string{
			"vault":          addressString(e.Vault),
			"maturity":       maturityString(e.Maturity),
			"mode":           e.Mode,
			"tokensRedeemed": amountString(e.TokensRedeemed),
			"primaryRaised":  amountString(e.PrimaryRaised),
			"assetCash":      amountString(e.AssetCash),
			"shortfall":      amountString(e.Shortfall),
			"settled":        strconv.FormatBool(e.Settled),
		},
	}
}

// VaultRewardsClaimed records one reward token harvested by the vault.
type VaultRewardsClaimed struct {
	OpID        string
	Vault       common.Address
	Token       common.Address
	Gross       *big.Int
	Fee         *big.Int
	FeeReceiver common.Address
}

func (VaultRewardsClaimed) EventType() string { return TypeVaultRewardsClaimed }

func (e VaultRewardsClaimed) Event() *types.Event {
	return &types.Event{
		Type: TypeVaultRewardsClaimed,
		OpID: e.OpID,
		Attributes: map[string]string{
			"vault":       addressString(e.Vault),
			"token":       addressString(e.Token),
			"gross":       amountString(e.Gross),
			"fee":         amountString(e.Fee),
			"feeReceiver": addressString(e.FeeReceiver),
		},
	}
}

// VaultRewardsReinvested records a reinvestment.
type VaultRewardsReinvested struct {
	OpID           string
	Vault          common.Address
	PrimaryJoined  *big.Int
	SecondaryJoin  *big.Int
	ClaimAdded     *big.Int
	TotalPoolClaim *big.Int
}

func (VaultRewardsReinvested) EventType() string { return TypeVaultRewardsReinvested }

func (e VaultRewardsReinvested) Event() *types.Event {
	return &types.Event{
		Type: TypeVaultRewardsReinvested,
		OpID: e.OpID,
		Attributes: map[string]string{
			"vault":          addressString(e.Vault),
			"primaryJoined":  amountString(e.PrimaryJoined),
			"secondaryJoin":  amountString(e.SecondaryJoin),
			"claimAdded":     amountString(e.ClaimAdded),
			"totalPoolClaim": amountString(e.TotalPoolClaim),
		},
	}
}

// VaultRoleUpdated records an owner role change.
type VaultRoleUpdated struct {
	OpID    string
	Vault   common.Address
	Role    string
	Account common.Address
	Granted bool
}

func (VaultRoleUpdated) EventType() string { return TypeVaultRoleUpdated }

func (e VaultRoleUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeVaultRoleUpdated,
		OpID: e.OpID,
		Attributes: map[string]string{
			"vault":   addressString(e.Vault),
			"role":    e.Role,
			"account": addressString(e.Account),
			"granted": strconv.FormatBool(e.Granted),
		},
	}
}

// VaultSettingsUpdated records an owner configuration change.
type VaultSettingsUpdated struct {
	OpID  string
	Vault common.Address
	Field string
	Value string
}

func (VaultSettingsUpdated) EventType() string { return TypeVaultSettingsUpdated }

func (e VaultSettingsUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeVaultSettingsUpdated,
		OpID: e.OpID,
		Attributes: map[string]string{
			"vault": addressString(e.Vault),
			"field": e.Field,
			"value": e.Value,
		},
	}
}
