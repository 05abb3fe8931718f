package trade

import "errors"

var (
	ErrTradeNotPermitted    = errors.New("trade: sell token not enabled for vault")
	ErrDexNotAllowed        = errors.New("trade: dex not allowed")
	ErrTradeTypeNotAllowed  = errors.New("trade: trade type not allowed")
	ErrUnknownDex           = errors.New("trade: unknown dex id")
	ErrUnknownTradeType     = errors.New("trade: unknown trade type")
	ErrTradeExpired         = errors.New("trade: deadline passed")
	ErrSlippageLimitTooHigh = errors.New("trade: oracle slippage above phase cap")
	ErrSlippageExceeded     = errors.New("trade: slippage exceeded")
	ErrSameToken            = errors.New("trade: sell and buy token identical")
	ErrNoAdapter            = errors.New("trade: adapter not registered")
	ErrInvalidAmount        = errors.New("trade: invalid amount")
	ErrReservesExhausted    = errors.New("trade: adapter reserves exhausted")
)
