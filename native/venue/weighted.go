package venue

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"strategyvaults/core/state"
	"strategyvaults/native/fixedpoint"
	"strategyvaults/native/oracle"
)

// RateSource prices one token in terms of another.
type RateSource interface {
	Rate(base, quote common.Address, opts oracle.ReadOptions) (oracle.Quote, error)
}

// PoolConfig describes a simulated two-token pool.
type PoolConfig struct {
	Address   common.Address
	Primary   common.Address
	Secondary common.Address
	// SwapFeeBps is charged on swaps and on the non-proportional part of a
	// join.
	SwapFeeBps uint64
}

// WeightedPool simulates a 50/50 weighted pool with a staking gauge. The pool
// address doubles as the claim token, reserves are the pool's ledger balances
// and staked claim sits at the gauge address, so every movement is journaled
// with the rest of the state.
type WeightedPool struct {
	cfg          PoolConfig
	st           *state.StateDB
	rates        RateSource
	primaryDec   uint8
	secondaryDec uint8
	gauge        common.Address
	escrow       common.Address
	logger       *slog.Logger
}

// DeriveAddress returns a deterministic auxiliary address for pool.
func DeriveAddress(pool common.Address, label string) common.Address {
	return common.BytesToAddress(ethcrypto.Keccak256(pool.Bytes(), []byte(label))[12:])
}

// NewWeightedPool constructs a pool over st. Both tokens must be registered.
func NewWeightedPool(st *state.StateDB, rates RateSource, cfg PoolConfig) (*WeightedPool, error) {
	if st == nil {
		return nil, fmt.Errorf("venue: state required")
	}
	if cfg.Address == (common.Address{}) || cfg.Primary == (common.Address{}) || cfg.Secondary == (common.Address{}) {
		return nil, fmt.Errorf("venue: pool and token addresses required")
	}
	if cfg.Primary == cfg.Secondary {
		return nil, fmt.Errorf("venue: pool tokens must differ")
	}
	if cfg.SwapFeeBps >= 10_000 {
		return nil, fmt.Errorf("venue: swap fee %d bps invalid", cfg.SwapFeeBps)
	}
	pd, err := st.Decimals(cfg.Primary)
	if err != nil {
		return nil, err
	}
	sd, err := st.Decimals(cfg.Secondary)
	if err != nil {
		return nil, err
	}
	return &WeightedPool{
		cfg:          cfg,
		st:           st,
		rates:        rates,
		primaryDec:   pd,
		secondaryDec: sd,
		gauge:        DeriveAddress(cfg.Address, "gauge"),
		escrow:       DeriveAddress(cfg.Address, "reward-escrow"),
		logger:       slog.Default(),
	}, nil
}

// SetLogger overrides the logger.
func (p *WeightedPool) SetLogger(logger *slog.Logger) {
	if p == nil || logger == nil {
		return
	}
	p.logger = logger
}

// Address returns the pool address.
func (p *WeightedPool) Address() common.Address { return p.cfg.Address }

// Tokens implements Gateway.
func (p *WeightedPool) Tokens() (common.Address, common.Address) {
	return p.cfg.Primary, p.cfg.Secondary
}

// ClaimToken implements Gateway.
func (p *WeightedPool) ClaimToken() common.Address { return p.cfg.Address }

// Reserves returns the pool balances of primary and secondary.
func (p *WeightedPool) Reserves() (*big.Int, *big.Int, error) {
	rp, err := p.st.Balance(p.cfg.Primary, p.cfg.Address)
	if err != nil {
		return nil, nil, err
	}
	rs, err := p.st.Balance(p.cfg.Secondary, p.cfg.Address)
	if err != nil {
		return nil, nil, err
	}
	return rp, rs, nil
}

// TotalSupply implements Gateway.
func (p *WeightedPool) TotalSupply() (*big.Int, error) {
	return p.st.TotalSupply(p.cfg.Address)
}

// StakedBalance implements Gateway. Staked claim is tracked as a gauge
// receipt balance held by the vault.
func (p *WeightedPool) StakedBalance(vault common.Address) (*big.Int, error) {
	return p.st.Balance(p.gauge, vault)
}

// TotalStaked returns the claim held by the gauge.
func (p *WeightedPool) TotalStaked() (*big.Int, error) {
	return p.st.Balance(p.cfg.Address, p.gauge)
}

// SpotPrice implements Gateway: whole primary tokens per whole secondary.
func (p *WeightedPool) SpotPrice() (*big.Rat, error) {
	rp, rs, err := p.Reserves()
	if err != nil {
		return nil, err
	}
	if rp.Sign() == 0 || rs.Sign() == 0 {
		return nil, ErrEmptyPool
	}
	num := new(big.Int).Mul(rp, fixedpoint.Pow10(p.secondaryDec))
	den := new(big.Int).Mul(rs, fixedpoint.Pow10(p.primaryDec))
	return new(big.Rat).SetFrac(num, den), nil
}

// Seed provides initial liquidity from lp and mints the opening claim to lp
// unstaked.
func (p *WeightedPool) Seed(lp common.Address, primaryIn, secondaryIn *big.Int) (*big.Int, error) {
	supply, err := p.TotalSupply()
	if err != nil {
		return nil, err
	}
	if supply.Sign() != 0 {
		return nil, fmt.Errorf("venue: pool already seeded")
	}
	if fixedpoint.IsZero(primaryIn) || fixedpoint.IsZero(secondaryIn) {
		return nil, fmt.Errorf("%w: seed requires both tokens", ErrInvalidAmount)
	}
	if err := p.st.Transfer(p.cfg.Primary, lp, p.cfg.Address, primaryIn); err != nil {
		return nil, err
	}
	if err := p.st.Transfer(p.cfg.Secondary, lp, p.cfg.Address, secondaryIn); err != nil {
		return nil, err
	}
	p18 := fixedpoint.Rescale(primaryIn, p.primaryDec, fixedpoint.ClaimDecimals, fixedpoint.RoundDown)
	s18 := fixedpoint.Rescale(secondaryIn, p.secondaryDec, fixedpoint.ClaimDecimals, fixedpoint.RoundDown)
	claim := fixedpoint.Sqrt(new(big.Int).Mul(p18, s18))
	if err := p.st.Mint(p.cfg.Address, lp, claim); err != nil {
		return nil, err
	}
	return claim, nil
}

// QuoteJoin returns the claim minted for a join without changing state.
func (p *WeightedPool) QuoteJoin(primaryIn, secondaryIn *big.Int) (*big.Int, error) {
	primaryIn, secondaryIn = fixedpoint.Copy(primaryIn), fixedpoint.Copy(secondaryIn)
	if primaryIn.Sign() < 0 || secondaryIn.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	rp, rs, err := p.Reserves()
	if err != nil {
		return nil, err
	}
	supply, err := p.TotalSupply()
	if err != nil {
		return nil, err
	}
	if supply.Sign() == 0 || rp.Sign() == 0 || rs.Sign() == 0 {
		return nil, ErrEmptyPool
	}
	// Split the deposit into its proportional part and the excess that
	// behaves like a swap and pays the fee.
	effP, effS := new(big.Int).Set(primaryIn), new(big.Int).Set(secondaryIn)
	lhs := new(big.Int).Mul(primaryIn, rs)
	rhs := new(big.Int).Mul(secondaryIn, rp)
	switch lhs.Cmp(rhs) {
	case 1:
		prop := fixedpoint.MulDiv(secondaryIn, rp, rs)
		excess := new(big.Int).Sub(primaryIn, prop)
		effP = prop.Add(prop, fixedpoint.LessBps(excess, p.cfg.SwapFeeBps))
	case -1:
		prop := fixedpoint.MulDiv(primaryIn, rs, rp)
		excess := new(big.Int).Sub(secondaryIn, prop)
		effS = prop.Add(prop, fixedpoint.LessBps(excess, p.cfg.SwapFeeBps))
	}
	before := fixedpoint.Sqrt(new(big.Int).Mul(rp, rs))
	after := fixedpoint.Sqrt(new(big.Int).Mul(new(big.Int).Add(rp, effP), new(big.Int).Add(rs, effS)))
	if after.Cmp(before) <= 0 || before.Sign() == 0 {
		return new(big.Int), nil
	}
	return fixedpoint.MulDiv(supply, new(big.Int).Sub(after, before), before), nil
}

// Join implements Gateway. The minted claim is staked immediately.
func (p *WeightedPool) Join(_ context.Context, vault common.Address, primaryIn, secondaryIn, minClaimOut *big.Int) (*big.Int, error) {
	claim, err := p.QuoteJoin(primaryIn, secondaryIn)
	if err != nil {
		return nil, err
	}
	if minClaimOut != nil && claim.Cmp(minClaimOut) < 0 {
		return nil, fmt.Errorf("%w: claim %s below minimum %s", ErrInsufficientOutput, claim, minClaimOut)
	}
	if claim.Sign() == 0 {
		return nil, fmt.Errorf("%w: join mints no claim", ErrInsufficientOutput)
	}
	if err := p.st.Transfer(p.cfg.Primary, vault, p.cfg.Address, fixedpoint.Copy(primaryIn)); err != nil {
		return nil, err
	}
	if err := p.st.Transfer(p.cfg.Secondary, vault, p.cfg.Address, fixedpoint.Copy(secondaryIn)); err != nil {
		return nil, err
	}
	if err := p.st.Mint(p.cfg.Address, p.gauge, claim); err != nil {
		return nil, err
	}
	if err := p.st.Mint(p.gauge, vault, claim); err != nil {
		return nil, err
	}
	if err := p.st.AddressListAdd(p.stakersKey(), vault); err != nil {
		return nil, err
	}
	p.logger.Debug("pool join",
		slog.String("component", "venue"),
		slog.String("pool", p.cfg.Address.Hex()),
		slog.String("vault", vault.Hex()),
		slog.String("claim", claim.String()))
	return claim, nil
}

// QuoteExit returns the proportional amounts released for claimIn.
func (p *WeightedPool) QuoteExit(claimIn *big.Int) (*big.Int, *big.Int, error) {
	if claimIn == nil || claimIn.Sign() < 0 {
		return nil, nil, ErrInvalidAmount
	}
	rp, rs, err := p.Reserves()
	if err != nil {
		return nil, nil, err
	}
	supply, err := p.TotalSupply()
	if err != nil {
		return nil, nil, err
	}
	if supply.Sign() == 0 {
		return nil, nil, ErrEmptyPool
	}
	return fixedpoint.MulDiv(rp, claimIn, supply), fixedpoint.MulDiv(rs, claimIn, supply), nil
}

func (p *WeightedPool) exit(vault common.Address, claimIn, minPrimary, minSecondary *big.Int, checked bool) (*big.Int, *big.Int, error) {
	if claimIn == nil || claimIn.Sign() < 0 {
		return nil, nil, ErrInvalidAmount
	}
	if claimIn.Sign() == 0 {
		return new(big.Int), new(big.Int), nil
	}
	staked, err := p.StakedBalance(vault)
	if err != nil {
		return nil, nil, err
	}
	if staked.Cmp(claimIn) < 0 {
		return nil, nil, fmt.Errorf("%w: staked %s requested %s", ErrInsufficientStake, staked, claimIn)
	}
	primaryOut, secondaryOut, err := p.QuoteExit(claimIn)
	if err != nil {
		return nil, nil, err
	}
	if checked {
		if minPrimary != nil && primaryOut.Cmp(minPrimary) < 0 {
			return nil, nil, fmt.Errorf("%w: primary %s below minimum %s", ErrInsufficientOutput, primaryOut, minPrimary)
		}
		if minSecondary != nil && secondaryOut.Cmp(minSecondary) < 0 {
			return nil, nil, fmt.Errorf("%w: secondary %s below minimum %s", ErrInsufficientOutput, secondaryOut, minSecondary)
		}
	}
	if err := p.st.Burn(p.gauge, vault, claimIn); err != nil {
		return nil, nil, err
	}
	if err := p.st.Burn(p.cfg.Address, p.gauge, claimIn); err != nil {
		return nil, nil, err
	}
	if err := p.st.Transfer(p.cfg.Primary, p.cfg.Address, vault, primaryOut); err != nil {
		return nil, nil, err
	}
	if err := p.st.Transfer(p.cfg.Secondary, p.cfg.Address, vault, secondaryOut); err != nil {
		return nil, nil, err
	}
	return primaryOut, secondaryOut, nil
}

// Exit implements Gateway.
func (p *WeightedPool) Exit(_ context.Context, vault common.Address, claimIn, minPrimaryOut, minSecondaryOut *big.Int) (*big.Int, *big.Int, error) {
	return p.exit(vault, claimIn, minPrimaryOut, minSecondaryOut, true)
}

// EmergencyExit implements Gateway. No slippage bound is applied; the caller
// enforces its own cap on the proceeds.
func (p *WeightedPool) EmergencyExit(_ context.Context, vault common.Address, claimIn *big.Int) (*big.Int, *big.Int, error) {
	return p.exit(vault, claimIn, nil, nil, false)
}

// ValueInPrimary implements Gateway using the manipulation resistant fair
// value 2*sqrt(Rp*Rs*P)*claim/supply, after checking pool spot against the
// oracle.
func (p *WeightedPool) ValueInPrimary(_ context.Context, claim *big.Int, opts ValueOptions) (Valuation, error) {
	source := SourceOracle
	if opts.SkipFreshness {
		source = SourceUncheckedOracle
	}
	if fixedpoint.IsZero(claim) {
		return Valuation{Value: new(big.Int), Source: source}, nil
	}
	if p.rates == nil {
		return Valuation{}, fmt.Errorf("venue: oracle not configured")
	}
	quote, err := p.rates.Rate(p.cfg.Secondary, p.cfg.Primary, oracle.ReadOptions{Now: opts.Now, SkipFreshness: opts.SkipFreshness})
	if err != nil {
		return Valuation{}, err
	}
	spot, err := p.SpotPrice()
	if err != nil {
		return Valuation{}, err
	}
	if err := oracle.CheckDeviation(spot, quote.Rate, opts.DeviationLimitBps); err != nil {
		return Valuation{}, err
	}
	rp, rs, err := p.Reserves()
	if err != nil {
		return Valuation{}, err
	}
	supply, err := p.TotalSupply()
	if err != nil {
		return Valuation{}, err
	}
	secondaryInPrimary := fixedpoint.ConvertRat(rs, quote.Rate, p.secondaryDec, p.primaryDec, fixedpoint.RoundDown)
	poolValue := new(big.Int).Mul(fixedpoint.Sqrt(new(big.Int).Mul(rp, secondaryInPrimary)), big.NewInt(2))
	return Valuation{Value: fixedpoint.MulDiv(poolValue, claim, supply), Source: source}, nil
}

// Arbitrage moves reserves along the constant product curve until the pool
// spot equals price (whole primary per whole secondary). It stands in for
// external arbitrageurs when the oracle moves.
func (p *WeightedPool) Arbitrage(price *big.Rat) error {
	if price == nil || price.Sign() <= 0 {
		return fmt.Errorf("%w: price must be positive", ErrInvalidAmount)
	}
	rp, rs, err := p.Reserves()
	if err != nil {
		return err
	}
	if rp.Sign() == 0 || rs.Sign() == 0 {
		return ErrEmptyPool
	}
	k := new(big.Int).Mul(rp, rs)
	// rs'^2 = k * 10^ds / (price * 10^dp)
	num := new(big.Int).Mul(k, fixedpoint.Pow10(p.secondaryDec))
	num.Mul(num, price.Denom())
	den := new(big.Int).Mul(price.Num(), fixedpoint.Pow10(p.primaryDec))
	newRs := fixedpoint.Sqrt(new(big.Int).Quo(num, den))
	if newRs.Sign() == 0 {
		return ErrEmptyPool
	}
	newRp := new(big.Int).Quo(k, newRs)
	if err := p.adjust(p.cfg.Primary, rp, newRp); err != nil {
		return err
	}
	return p.adjust(p.cfg.Secondary, rs, newRs)
}

func (p *WeightedPool) adjust(token common.Address, from, to *big.Int) error {
	switch from.Cmp(to) {
	case -1:
		return p.st.Mint(token, p.cfg.Address, new(big.Int).Sub(to, from))
	case 1:
		return p.st.Burn(token, p.cfg.Address, new(big.Int).Sub(from, to))
	}
	return nil
}
