package vault

import (
	"errors"

	"strategyvaults/core/state"
	nativecommon "strategyvaults/native/common"
	"strategyvaults/native/oracle"
	"strategyvaults/native/trade"
	"strategyvaults/native/venue"
)

// Kind classifies vault errors for callers that map them onto transport
// status codes.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindConfiguration
	KindPrecondition
	KindEconomic
	KindExternal
	KindAuthorization
	KindInvariant
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindPrecondition:
		return "precondition"
	case KindEconomic:
		return "economic"
	case KindExternal:
		return "external"
	case KindAuthorization:
		return "authorization"
	case KindInvariant:
		return "invariant"
	case KindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Error is a vault sentinel carrying its classification.
type Error struct {
	kind Kind
	msg  string
}

func newError(kind Kind, msg string) *Error { return &Error{kind: kind, msg: msg} }

func (e *Error) Error() string { return e.msg }

// Kind returns the error classification.
func (e *Error) Kind() Kind { return e.kind }

var (
	ErrVaultNotFound              = newError(KindConfiguration, "vault: not registered")
	ErrVaultExists                = newError(KindConfiguration, "vault: already registered")
	ErrVaultDisabled              = newError(KindConfiguration, "vault: disabled")
	ErrExitOnly                   = newError(KindConfiguration, "vault: exit only")
	ErrRollNotAllowed             = newError(KindConfiguration, "vault: roll position not allowed")
	ErrUnknownParamsTag           = newError(KindMalformed, "vault: unknown params tag")
	ErrMalformedParams            = newError(KindMalformed, "vault: malformed params")
	ErrTradeRequired              = newError(KindMalformed, "vault: secondary proceeds need a trade spec")
	ErrInvalidAmount              = newError(KindMalformed, "vault: invalid amount")
	ErrMaturityNotActive          = newError(KindPrecondition, "vault: maturity not active")
	ErrInSettlementWindow         = newError(KindPrecondition, "vault: maturity in settlement window")
	ErrMaturitySettling           = newError(KindPrecondition, "vault: maturity is settling")
	ErrMaturitySettled            = newError(KindPrecondition, "vault: maturity already settled")
	ErrMaturityNotFound           = newError(KindPrecondition, "vault: maturity has no positions")
	ErrNotInSettlementWindow      = newError(KindPrecondition, "vault: not in settlement window")
	ErrMaturityNotReached         = newError(KindPrecondition, "vault: maturity not reached")
	ErrAccountNotFound            = newError(KindPrecondition, "vault: account has no position")
	ErrAccountMaturityMismatch    = newError(KindPrecondition, "vault: account holds a position in another maturity")
	ErrEntryCoolDown              = newError(KindPrecondition, "vault: entry cool down not elapsed")
	ErrSettlementCoolDown         = newError(KindPrecondition, "vault: settlement cool down not elapsed")
	ErrEmergencySettlementPending = newError(KindPrecondition, "vault: emergency settlement pending")
	ErrPoolShareNotExceeded       = newError(KindPrecondition, "vault: pool share within limit")
	ErrNoActivePositions          = newError(KindPrecondition, "vault: no active positions")
	ErrSufficientlyCollateralized = newError(KindPrecondition, "vault: account sufficiently collateralized")
	ErrInsufficientShares         = newError(KindPrecondition, "vault: insufficient vault shares")
	ErrExcessRepayment            = newError(KindPrecondition, "vault: repayment exceeds account debt")
	ErrInsufficientCollateral     = newError(KindEconomic, "vault: insufficient collateral")
	ErrCollateralRatioTooHigh     = newError(KindEconomic, "vault: collateral ratio above maximum")
	ErrBorrowCapacityExceeded     = newError(KindEconomic, "vault: borrow capacity exceeded")
	ErrMinBorrowSize              = newError(KindEconomic, "vault: debt below minimum borrow size")
	ErrPoolShareExceeded          = newError(KindEconomic, "vault: pool share limit exceeded")
	ErrSlippageExceeded           = newError(KindEconomic, "vault: slippage exceeded")
	ErrInsufficientProceeds       = newError(KindEconomic, "vault: proceeds do not cover repayment")
	ErrSurplusExceeded            = newError(KindEconomic, "vault: settlement surplus above maximum")
	ErrDeleverageAmount           = newError(KindEconomic, "vault: deleverage deposit outside allowed range")
	ErrDeleverageOutOfBounds      = newError(KindEconomic, "vault: post-deleverage ratio outside bounds")
	ErrTransferSharesRequired     = newError(KindConfiguration, "vault: deleverage must transfer shares")
	ErrUnauthorized               = newError(KindAuthorization, "vault: unauthorized")
	ErrNotHost                    = newError(KindAuthorization, "vault: caller is not the host")
	ErrOnlyVaultEntry             = newError(KindAuthorization, "vault: entry restricted to the vault")
	ErrOnlyVaultExit              = newError(KindAuthorization, "vault: exit restricted to the vault")
	ErrOnlyVaultRoll              = newError(KindAuthorization, "vault: roll restricted to the vault")
	ErrOnlyVaultDeleverage        = newError(KindAuthorization, "vault: deleverage restricted to the vault")
	ErrReentrancy                 = newError(KindAuthorization, "vault: reentrant call")
	ErrInvariant                  = newError(KindInvariant, "vault: invariant violated")
)

var externalErrors = []struct {
	err  error
	kind Kind
}{
	{oracle.ErrOracleStale, KindExternal},
	{oracle.ErrOracleDeviation, KindExternal},
	{oracle.ErrNoFeed, KindExternal},
	{oracle.ErrInvalidRound, KindExternal},
	{venue.ErrInsufficientOutput, KindEconomic},
	{venue.ErrInsufficientStake, KindInvariant},
	{venue.ErrEmptyPool, KindExternal},
	{venue.ErrUnknownToken, KindConfiguration},
	{venue.ErrInvalidAmount, KindMalformed},
	{trade.ErrSlippageExceeded, KindEconomic},
	{trade.ErrSlippageLimitTooHigh, KindMalformed},
	{trade.ErrTradeNotPermitted, KindConfiguration},
	{trade.ErrDexNotAllowed, KindConfiguration},
	{trade.ErrTradeTypeNotAllowed, KindConfiguration},
	{trade.ErrUnknownDex, KindMalformed},
	{trade.ErrUnknownTradeType, KindMalformed},
	{trade.ErrTradeExpired, KindPrecondition},
	{trade.ErrSameToken, KindMalformed},
	{trade.ErrNoAdapter, KindConfiguration},
	{trade.ErrInvalidAmount, KindMalformed},
	{trade.ErrReservesExhausted, KindExternal},
	{state.ErrInsufficientBalance, KindEconomic},
	{nativecommon.ErrModulePaused, KindPrecondition},
}

// KindOf classifies err. Vault sentinels report their own kind; errors from
// the oracle, venue, trade and state packages are mapped onto the closest
// vault kind.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var vaultErr *Error
	if errors.As(err, &vaultErr) {
		return vaultErr.kind
	}
	for _, entry := range externalErrors {
		if errors.Is(err, entry.err) {
			return entry.kind
		}
	}
	return KindUnknown
}
