package vault

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"strategyvaults/core/events"
	"strategyvaults/core/state"
	"strategyvaults/native/fixedpoint"
	"strategyvaults/native/oracle"
	"strategyvaults/native/trade"
	"strategyvaults/native/venue"
)

var (
	weth        = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	wsteth      = common.HexToAddress("0x00000000000000000000000000000000000000e3")
	bal         = common.HexToAddress("0x00000000000000000000000000000000000000e4")
	poolAddr    = common.HexToAddress("0x00000000000000000000000000000000000000a7")
	vaultAddr   = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	hostAddr    = common.HexToAddress("0x00000000000000000000000000000000000000f2")
	ownerAddr   = common.HexToAddress("0x00000000000000000000000000000000000000f3")
	settlerAddr = common.HexToAddress("0x00000000000000000000000000000000000000f4")
	feeAddr     = common.HexToAddress("0x00000000000000000000000000000000000000f5")
	dexReserve  = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	lpAddr      = common.HexToAddress("0x00000000000000000000000000000000000000f9")
	alice       = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	bob         = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	carol       = common.HexToAddress("0x0000000000000000000000000000000000000ca1")
	liquidator  = common.HexToAddress("0x0000000000000000000000000000000000000119")
)

const (
	startUnix = 1_700_000_000
	day       = 24 * 60 * 60
)

var (
	maturity1 = uint64(startUnix + 90*day)
	maturity2 = uint64(startUnix + 180*day)
)

func ether(n int64) *big.Int { return new(big.Int).Mul(big.NewInt(n), fixedpoint.Pow10(18)) }

func milliEther(n int64) *big.Int { return new(big.Int).Mul(big.NewInt(n), fixedpoint.Pow10(15)) }

// debt returns n whole primary units of debt in 1e8 precision.
func debt(n int64) *big.Int { return new(big.Int).Mul(big.NewInt(n), fixedpoint.InternalPrecision) }

type manualClock struct {
	mu    sync.Mutex
	now   time.Time
	block uint64
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) BlockNumber() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.block
}

type harness struct {
	t        *testing.T
	ctx      context.Context
	st       *state.StateDB
	feed     *oracle.ManualFeed
	agg      *oracle.Aggregator
	pool     *venue.WeightedPool
	exec     *trade.Executor
	perms    *trade.StatePermissions
	market   *FixedRateMarket
	clock    *manualClock
	recorder *events.Recorder
	engine   *Engine
}

func testConfig() *Config {
	return &Config{
		Vault:                             vaultAddr,
		Host:                              hostAddr,
		Owner:                             ownerAddr,
		PrimaryToken:                      weth,
		SecondaryToken:                    wsteth,
		Flags:                             FlagEnabled | FlagAllowRollPosition,
		MaxPrimaryBorrowCapacity:          debt(100),
		MinAccountBorrowSize:              debt(1),
		MinCollateralRatio:                1_200_000,
		MaxDeleverageCollateralRatio:      1_300_000,
		MaxRequiredAccountCollateralRatio: 2_000_000,
		LiquidationDiscount:               40_000,
		ReserveFeeShare:                   500_000,
		MaxDebtMarketIndex:                2,
		SettlementWindow:                  7 * day,
		MinEntryBlocks:                    5,
		ActiveMarkets:                     []uint64{maturity1, maturity2},
	}
}

func testSettings() *Settings {
	return &Settings{
		MaxUnderlyingSurplus:                   ether(100),
		SettlementSlippageLimitBps:             500,
		PostMaturitySettlementSlippageLimitBps: 1_000,
		EmergencySettlementSlippageLimitBps:    2_000,
		MaxPoolShareBps:                        5_000,
		SettlementCoolDown:                     3_600,
		OraclePriceDeviationLimitBps:           200,
		PoolSlippageLimitBps:                   500,
		FeeBps:                                 1_000,
		FeeReceiver:                            feeAddr,
	}
}

type harnessOption func(cfg *Config, settings *Settings, deps *Dependencies)

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	now := time.Unix(startUnix, 0)
	st := state.NewMemory()
	for _, tok := range []struct {
		addr   common.Address
		symbol string
	}{{weth, "WETH"}, {wsteth, "WSTETH"}, {bal, "BAL"}} {
		if err := st.RegisterToken(tok.addr, tok.symbol, 18); err != nil {
			t.Fatalf("register %s: %v", tok.symbol, err)
		}
	}
	feed := oracle.NewManualFeed()
	feed.Set(weth, big.NewRat(2000, 1), now)
	feed.Set(wsteth, big.NewRat(2000, 1), now)
	feed.Set(bal, big.NewRat(5, 1), now)
	agg := oracle.NewAggregator([]string{"manual"}, time.Hour)
	agg.Register("manual", feed)

	pool, err := venue.NewWeightedPool(st, agg, venue.PoolConfig{Address: poolAddr, Primary: weth, Secondary: wsteth, SwapFeeBps: 10})
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	mustMint(t, st, weth, lpAddr, ether(1000))
	mustMint(t, st, wsteth, lpAddr, ether(1000))
	if _, err := pool.Seed(lpAddr, ether(1000), ether(1000)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	mustMint(t, st, weth, dexReserve, ether(500))
	mustMint(t, st, wsteth, dexReserve, ether(500))
	mustMint(t, st, weth, hostAddr, ether(200))
	for _, acct := range []common.Address{alice, bob, carol, liquidator} {
		mustMint(t, st, weth, acct, ether(20))
	}

	perms := trade.NewStatePermissions(st)
	exec := trade.NewExecutor(st, perms, agg, weth)
	if err := exec.Register(trade.DexUniswapV2, trade.NewOracleDex(dexReserve, st, agg, 30)); err != nil {
		t.Fatalf("register dex: %v", err)
	}
	allow := trade.Permission{Enabled: true, DexMask: 1 << trade.DexUniswapV2, TradeTypeMask: 1<<trade.ExactInSingle | 1<<trade.ExactOutSingle}
	for _, token := range []common.Address{weth, wsteth, bal} {
		if err := perms.SetTradePermission(vaultAddr, token, allow); err != nil {
			t.Fatalf("permission: %v", err)
		}
	}

	market := NewFixedRateMarket(18, 50_000)
	clock := &manualClock{now: now, block: 100}
	recorder := events.NewRecorder(0)
	cfg, settings := testConfig(), testSettings()
	deps := Dependencies{
		State:           st,
		Gateway:         pool,
		Trades:          exec,
		Permissions:     perms,
		Oracle:          agg,
		Market:          market,
		Clock:           clock,
		Emitter:         recorder,
		CheckInvariants: true,
	}
	for _, opt := range opts {
		opt(cfg, settings, &deps)
	}
	if err := Register(st, hostAddr, cfg, settings); err != nil {
		t.Fatalf("register vault: %v", err)
	}
	engine, err := NewEngine(vaultAddr, deps)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	h := &harness{
		t:        t,
		ctx:      context.Background(),
		st:       st,
		feed:     feed,
		agg:      agg,
		pool:     pool,
		exec:     exec,
		perms:    perms,
		market:   market,
		clock:    clock,
		recorder: recorder,
		engine:   engine,
	}
	h.grant(RoleNormalSettlement, settlerAddr)
	h.grant(RolePostMaturitySettlement, settlerAddr)
	h.grant(RoleEmergencySettlement, settlerAddr)
	h.grant(RoleRewardReinvestment, settlerAddr)
	return h
}

func mustMint(t *testing.T, st *state.StateDB, token, to common.Address, amount *big.Int) {
	t.Helper()
	if err := st.Mint(token, to, amount); err != nil {
		t.Fatalf("mint: %v", err)
	}
}

func (h *harness) grant(role string, account common.Address) {
	h.t.Helper()
	if err := h.engine.GrantRole(h.ctx, ownerAddr, role, account); err != nil {
		h.t.Fatalf("grant %s: %v", role, err)
	}
}

// advance moves the clock and block height forward and refreshes the oracle
// so that reads stay fresh.
func (h *harness) advance(d time.Duration, blocks uint64) {
	h.clock.mu.Lock()
	h.clock.now = h.clock.now.Add(d)
	h.clock.block += blocks
	now := h.clock.now
	h.clock.mu.Unlock()
	h.feed.Touch(now)
}

// advanceTo moves the clock to unix and mines one block.
func (h *harness) advanceTo(unix uint64) {
	h.advance(time.Unix(int64(unix), 0).Sub(h.clock.Now()), 1)
}

// setSecondaryPrice moves the secondary oracle price and arbitrages the pool
// to it.
func (h *harness) setSecondaryPrice(usd int64) {
	h.t.Helper()
	h.feed.Set(wsteth, big.NewRat(usd, 1), h.clock.Now())
	if err := h.pool.Arbitrage(big.NewRat(usd, 2000)); err != nil {
		h.t.Fatalf("arbitrage: %v", err)
	}
}

func (h *harness) balance(token, holder common.Address) *big.Int {
	h.t.Helper()
	amount, err := h.st.Balance(token, holder)
	if err != nil {
		h.t.Fatalf("balance: %v", err)
	}
	return amount
}

func (h *harness) account(owner common.Address) *Account {
	h.t.Helper()
	acct, _, err := h.engine.Store().Account(owner)
	if err != nil {
		h.t.Fatalf("account: %v", err)
	}
	return acct
}

func (h *harness) maturity(m uint64) *MaturityState {
	h.t.Helper()
	ms, _, err := h.engine.Store().Maturity(m)
	if err != nil {
		h.t.Fatalf("maturity: %v", err)
	}
	return ms
}

func (h *harness) totals() *VaultState {
	h.t.Helper()
	totals, err := h.engine.Store().Totals()
	if err != nil {
		h.t.Fatalf("totals: %v", err)
	}
	return totals
}

// deposit enters owner into maturity with a single sided join.
func (h *harness) deposit(owner common.Address, amount *big.Int, maturity uint64, borrow *big.Int) *big.Int {
	h.t.Helper()
	shares, err := h.engine.Deposit(h.ctx, hostAddr, owner, amount, maturity, borrow, nil)
	if err != nil {
		h.t.Fatalf("deposit %s: %v", owner.Hex(), err)
	}
	return shares
}

func swapSpec() *trade.Spec {
	return &trade.Spec{DexID: trade.DexUniswapV2, TradeType: trade.ExactInSingle, Limit: big.NewInt(100), OracleSlippage: true}
}

func redeemParams(t *testing.T) []byte {
	t.Helper()
	data, err := EncodeRedeemParams(RedeemParams{Trade: swapSpec()})
	if err != nil {
		t.Fatalf("encode redeem params: %v", err)
	}
	return data
}

func (h *harness) checkInvariants() {
	h.t.Helper()
	staked, err := h.pool.StakedBalance(vaultAddr)
	if err != nil {
		h.t.Fatalf("staked: %v", err)
	}
	if err := h.engine.Store().CheckInvariants(staked); err != nil {
		h.t.Fatalf("invariants: %v", err)
	}
}

func (h *harness) eventsOf(typ string) int {
	count := 0
	for _, evt := range h.recorder.Events() {
		if evt.Type == typ {
			count++
		}
	}
	return count
}

func expectErr(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}

// within reports whether got lies within bps of want.
func within(got, want *big.Int, bps uint64) bool {
	tol := fixedpoint.ApplyBps(want, bps, fixedpoint.RoundUp)
	diff := new(big.Int).Sub(got, want)
	return diff.Abs(diff).Cmp(tol) <= 0
}
