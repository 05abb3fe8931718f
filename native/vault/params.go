package vault

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"strategyvaults/native/fixedpoint"
	"strategyvaults/native/trade"
)

// Params blob tags.
const (
	TagDepositParams  uint8 = 0x01
	TagRedeemParams   uint8 = 0x02
	TagReinvestParams uint8 = 0x03
)

// DepositParams tune the venue join performed on entry. SecondarySellAmount
// of primary is swapped to secondary before joining; Trade must be present
// when it is positive.
type DepositParams struct {
	MinPoolClaim        *big.Int
	SecondarySellAmount *big.Int
	Trade               *trade.Spec
}

// RedeemParams tune the venue exit. Trade converts any secondary received
// back into primary.
type RedeemParams struct {
	MinPrimaryOut   *big.Int
	MinSecondaryOut *big.Int
	Trade           *trade.Spec
}

// ReinvestTrade sells one reward token into a pool token.
type ReinvestTrade struct {
	Token        common.Address
	Amount       *big.Int
	BuySecondary bool
	Spec         trade.Spec
}

// ReinvestParams describe how harvested rewards are joined into the pool.
type ReinvestParams struct {
	MinPoolClaim *big.Int
	Trades       []ReinvestTrade
}

type tradeSpecRLP struct {
	DexID               uint8
	TradeType           uint8
	Limit               *big.Int
	OracleSlippage      bool
	UnwrapWrappedNative bool
	Payload             []byte
}

type depositParamsRLP struct {
	Tag                 uint8
	MinPoolClaim        *big.Int
	SecondarySellAmount *big.Int
	Trade               []tradeSpecRLP
}

type redeemParamsRLP struct {
	Tag             uint8
	MinPrimaryOut   *big.Int
	MinSecondaryOut *big.Int
	Trade           []tradeSpecRLP
}

type reinvestTradeRLP struct {
	Token        common.Address
	Amount       *big.Int
	BuySecondary bool
	Spec         tradeSpecRLP
}

type reinvestParamsRLP struct {
	Tag          uint8
	MinPoolClaim *big.Int
	Trades       []reinvestTradeRLP
}

func encodeSpec(spec trade.Spec) tradeSpecRLP {
	return tradeSpecRLP{
		DexID:               uint8(spec.DexID),
		TradeType:           uint8(spec.TradeType),
		Limit:               fixedpoint.Copy(spec.Limit),
		OracleSlippage:      spec.OracleSlippage,
		UnwrapWrappedNative: spec.UnwrapWrappedNative,
		Payload:             spec.Payload,
	}
}

func decodeSpec(raw tradeSpecRLP) (trade.Spec, error) {
	spec := trade.Spec{
		DexID:               trade.DexID(raw.DexID),
		TradeType:           trade.TradeType(raw.TradeType),
		Limit:               fixedpoint.Copy(raw.Limit),
		OracleSlippage:      raw.OracleSlippage,
		UnwrapWrappedNative: raw.UnwrapWrappedNative,
		Payload:             raw.Payload,
	}
	if err := spec.Validate(); err != nil {
		return trade.Spec{}, fmt.Errorf("%w: %v", ErrMalformedParams, err)
	}
	if spec.UnwrapWrappedNative {
		return trade.Spec{}, fmt.Errorf("%w: vault trades settle in the wrapped token", ErrMalformedParams)
	}
	if err := fixedpoint.CheckU256(spec.Limit); err != nil {
		return trade.Spec{}, fmt.Errorf("%w: trade limit out of range", ErrMalformedParams)
	}
	return spec, nil
}

func optionalSpec(spec *trade.Spec) []tradeSpecRLP {
	if spec == nil {
		return nil
	}
	return []tradeSpecRLP{encodeSpec(*spec)}
}

func decodeOptionalSpec(raw []tradeSpecRLP) (*trade.Spec, error) {
	switch len(raw) {
	case 0:
		return nil, nil
	case 1:
		spec, err := decodeSpec(raw[0])
		if err != nil {
			return nil, err
		}
		return &spec, nil
	default:
		return nil, fmt.Errorf("%w: at most one trade spec", ErrMalformedParams)
	}
}

func checkAmounts(values ...*big.Int) error {
	for _, v := range values {
		if err := fixedpoint.CheckU256(v); err != nil {
			return fmt.Errorf("%w: amount out of range", ErrMalformedParams)
		}
	}
	return nil
}

// peekTag decodes the leading tag of a params blob and checks it.
func peekTag(data []byte, want uint8) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty params", ErrMalformedParams)
	}
	var fields []rlp.RawValue
	if err := rlp.DecodeBytes(data, &fields); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedParams, err)
	}
	if len(fields) == 0 {
		return fmt.Errorf("%w: missing tag", ErrMalformedParams)
	}
	var tag uint8
	if err := rlp.DecodeBytes(fields[0], &tag); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedParams, err)
	}
	if tag != want {
		return fmt.Errorf("%w: got 0x%02x want 0x%02x", ErrUnknownParamsTag, tag, want)
	}
	return nil
}

// EncodeDepositParams serialises p as a tagged RLP list.
func EncodeDepositParams(p DepositParams) ([]byte, error) {
	if err := checkAmounts(p.MinPoolClaim, p.SecondarySellAmount); err != nil {
		return nil, err
	}
	return rlp.EncodeToBytes(depositParamsRLP{
		Tag:                 TagDepositParams,
		MinPoolClaim:        fixedpoint.Copy(p.MinPoolClaim),
		SecondarySellAmount: fixedpoint.Copy(p.SecondarySellAmount),
		Trade:               optionalSpec(p.Trade),
	})
}

// DecodeDepositParams parses a blob produced by EncodeDepositParams. An empty
// blob yields zero params.
func DecodeDepositParams(data []byte) (DepositParams, error) {
	if len(data) == 0 {
		return DepositParams{MinPoolClaim: new(big.Int), SecondarySellAmount: new(big.Int)}, nil
	}
	if err := peekTag(data, TagDepositParams); err != nil {
		return DepositParams{}, err
	}
	var raw depositParamsRLP
	if err := rlp.DecodeBytes(data, &raw); err != nil {
		return DepositParams{}, fmt.Errorf("%w: %v", ErrMalformedParams, err)
	}
	if err := checkAmounts(raw.MinPoolClaim, raw.SecondarySellAmount); err != nil {
		return DepositParams{}, err
	}
	spec, err := decodeOptionalSpec(raw.Trade)
	if err != nil {
		return DepositParams{}, err
	}
	return DepositParams{
		MinPoolClaim:        fixedpoint.Copy(raw.MinPoolClaim),
		SecondarySellAmount: fixedpoint.Copy(raw.SecondarySellAmount),
		Trade:               spec,
	}, nil
}

// EncodeRedeemParams serialises p as a tagged RLP list.
func EncodeRedeemParams(p RedeemParams) ([]byte, error) {
	if err := checkAmounts(p.MinPrimaryOut, p.MinSecondaryOut); err != nil {
		return nil, err
	}
	return rlp.EncodeToBytes(redeemParamsRLP{
		Tag:             TagRedeemParams,
		MinPrimaryOut:   fixedpoint.Copy(p.MinPrimaryOut),
		MinSecondaryOut: fixedpoint.Copy(p.MinSecondaryOut),
		Trade:           optionalSpec(p.Trade),
	})
}

// DecodeRedeemParams parses a blob produced by EncodeRedeemParams.
func DecodeRedeemParams(data []byte) (RedeemParams, error) {
	if len(data) == 0 {
		return RedeemParams{MinPrimaryOut: new(big.Int), MinSecondaryOut: new(big.Int)}, nil
	}
	if err := peekTag(data, TagRedeemParams); err != nil {
		return RedeemParams{}, err
	}
	var raw redeemParamsRLP
	if err := rlp.DecodeBytes(data, &raw); err != nil {
		return RedeemParams{}, fmt.Errorf("%w: %v", ErrMalformedParams, err)
	}
	if err := checkAmounts(raw.MinPrimaryOut, raw.MinSecondaryOut); err != nil {
		return RedeemParams{}, err
	}
	spec, err := decodeOptionalSpec(raw.Trade)
	if err != nil {
		return RedeemParams{}, err
	}
	return RedeemParams{
		MinPrimaryOut:   fixedpoint.Copy(raw.MinPrimaryOut),
		MinSecondaryOut: fixedpoint.Copy(raw.MinSecondaryOut),
		Trade:           spec,
	}, nil
}

// EncodeReinvestParams serialises p as a tagged RLP list.
func EncodeReinvestParams(p ReinvestParams) ([]byte, error) {
	if err := checkAmounts(p.MinPoolClaim); err != nil {
		return nil, err
	}
	raw := reinvestParamsRLP{Tag: TagReinvestParams, MinPoolClaim: fixedpoint.Copy(p.MinPoolClaim)}
	for _, t := range p.Trades {
		if err := checkAmounts(t.Amount); err != nil {
			return nil, err
		}
		raw.Trades = append(raw.Trades, reinvestTradeRLP{
			Token:        t.Token,
			Amount:       fixedpoint.Copy(t.Amount),
			BuySecondary: t.BuySecondary,
			Spec:         encodeSpec(t.Spec),
		})
	}
	return rlp.EncodeToBytes(raw)
}

// DecodeReinvestParams parses a blob produced by EncodeReinvestParams.
func DecodeReinvestParams(data []byte) (ReinvestParams, error) {
	if err := peekTag(data, TagReinvestParams); err != nil {
		return ReinvestParams{}, err
	}
	var raw reinvestParamsRLP
	if err := rlp.DecodeBytes(data, &raw); err != nil {
		return ReinvestParams{}, fmt.Errorf("%w: %v", ErrMalformedParams, err)
	}
	if err := checkAmounts(raw.MinPoolClaim); err != nil {
		return ReinvestParams{}, err
	}
	out := ReinvestParams{MinPoolClaim: fixedpoint.Copy(raw.MinPoolClaim)}
	for _, t := range raw.Trades {
		if err := checkAmounts(t.Amount); err != nil {
			return ReinvestParams{}, err
		}
		spec, err := decodeSpec(t.Spec)
		if err != nil {
			return ReinvestParams{}, err
		}
		out.Trades = append(out.Trades, ReinvestTrade{
			Token:        t.Token,
			Amount:       fixedpoint.Copy(t.Amount),
			BuySecondary: t.BuySecondary,
			Spec:         spec,
		})
	}
	return out, nil
}
