// Package sandbox assembles a self-contained vault world from a registry: a
// journaled state over memory or LevelDB, a manual oracle, venue pools, DEX
// adapters, a flash lender and one engine per vault. Every call runs under
// one mutex and commits on success.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"strategyvaults/config"
	"strategyvaults/core/events"
	"strategyvaults/core/state"
	"strategyvaults/core/types"
	"strategyvaults/native/liquidator"
	"strategyvaults/native/oracle"
	"strategyvaults/native/trade"
	"strategyvaults/native/vault"
	"strategyvaults/native/venue"
	"strategyvaults/observability/metrics"
	"strategyvaults/storage"
)

var (
	// ErrUnknownVault is returned for vault addresses the registry does not
	// define.
	ErrUnknownVault = errors.New("sandbox: unknown vault")
	// ErrUnknownToken is returned for symbols or addresses that are not
	// registered.
	ErrUnknownToken = errors.New("sandbox: unknown token")
	// ErrUnknownPool is returned for pool names that are not registered.
	ErrUnknownPool = errors.New("sandbox: unknown pool")
	// ErrNoFlashLender is returned when liquidations are requested without a
	// configured lender.
	ErrNoFlashLender = errors.New("sandbox: flash lender not configured")
)

var (
	seededKey = []byte("sandbox/seeded")
	clockKey  = []byte("sandbox/clock")
)

const manualSource = "manual"

// Options tune a sandbox.
type Options struct {
	// DB backs the state. Nil uses a fresh in-memory database.
	DB storage.Database
	// EventHistory bounds the in-memory event log.
	EventHistory int
	// Emitter receives every committed event in addition to the log.
	Emitter         events.Emitter
	Metrics         *metrics.VaultMetrics
	Logger          *slog.Logger
	CheckInvariants bool
}

// Vault is one registered vault and its collaborators.
type Vault struct {
	Name    string
	Address common.Address
	Host    common.Address
	Engine  *vault.Engine
	Market  *vault.FixedRateMarket
	Pool    *venue.WeightedPool
}

type tokenInfo struct {
	symbol   string
	address  common.Address
	decimals uint8
}

// Sandbox is the assembled world.
type Sandbox struct {
	mu       sync.Mutex
	db       storage.Database
	st       *state.StateDB
	clock    *Clock
	feed     *oracle.ManualFeed
	agg      *oracle.Aggregator
	exec     *trade.Executor
	perms    *trade.StatePermissions
	pauses   *PauseSet
	recorder *events.Recorder
	lender   *liquidator.LedgerFlashLender
	metrics  *metrics.VaultMetrics
	logger   *slog.Logger

	tokens      map[string]tokenInfo
	tokenByAddr map[common.Address]tokenInfo
	pools       map[string]*venue.WeightedPool
	vaults      map[common.Address]*Vault
	order       []common.Address
}

// heldLock stands in for the engines' lock; the sandbox mutex is held around
// every engine call.
type heldLock struct{}

func (heldLock) Lock()   {}
func (heldLock) Unlock() {}

type clockRecord struct {
	Unix  uint64
	Block uint64
}

// New builds the world described by reg. A database that was seeded before
// keeps its balances and positions; only in-process collaborators are
// rebuilt.
func New(reg *config.Registry, opts Options) (*Sandbox, error) {
	if reg == nil {
		return nil, fmt.Errorf("sandbox: registry required")
	}
	if err := config.ValidateConfig(reg); err != nil {
		return nil, fmt.Errorf("sandbox: %w", err)
	}
	db := opts.DB
	if db == nil {
		db = storage.NewMemDB()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	st := state.New(db)
	if err := state.EnsureStateVersion(st, false); err != nil {
		return nil, err
	}
	var seeded bool
	if _, err := st.KVGet(seededKey, &seeded); err != nil {
		return nil, fmt.Errorf("sandbox: read seed marker: %w", err)
	}

	start := clockRecord{Unix: uint64(reg.Clock.StartUnix), Block: reg.Clock.StartBlock}
	if reg.Clock.StartUnix == 0 {
		start.Unix = uint64(time.Now().Unix())
	}
	if seeded {
		if _, err := st.KVGet(clockKey, &start); err != nil {
			return nil, fmt.Errorf("sandbox: read clock: %w", err)
		}
	}
	s := &Sandbox{
		db:          db,
		st:          st,
		clock:       newClock(time.Unix(int64(start.Unix), 0), start.Block, reg.Clock.BlockSeconds),
		feed:        oracle.NewManualFeed(),
		pauses:      NewPauseSet(),
		recorder:    events.NewRecorder(opts.EventHistory),
		metrics:     opts.Metrics,
		logger:      logger,
		tokens:      make(map[string]tokenInfo),
		tokenByAddr: make(map[common.Address]tokenInfo),
		pools:       make(map[string]*venue.WeightedPool),
		vaults:      make(map[common.Address]*Vault),
	}
	s.agg = oracle.NewAggregator(reg.Oracle.Priority, time.Duration(reg.Oracle.MaxFreshnessSeconds)*time.Second)
	s.agg.Register(manualSource, s.feed)

	if err := s.build(reg, opts, seeded); err != nil {
		st.Discard()
		return nil, err
	}
	if err := st.Commit(); err != nil {
		return nil, err
	}
	logger.Info("sandbox ready",
		slog.String("component", "sandbox"),
		slog.Int("vaults", len(s.order)),
		slog.Bool("restored", seeded))
	return s, nil
}

func (s *Sandbox) build(reg *config.Registry, opts Options, seeded bool) error {
	now := s.clock.Now()
	for _, tok := range reg.Tokens {
		addr, _ := config.ParseAddress(tok.Address)
		info := tokenInfo{symbol: strings.ToUpper(tok.Symbol), address: addr, decimals: tok.Decimals}
		if !seeded {
			if err := s.st.RegisterToken(addr, info.symbol, tok.Decimals); err != nil {
				return fmt.Errorf("sandbox: register %s: %w", info.symbol, err)
			}
		}
		if err := s.feed.SetDecimal(addr, tok.PriceUSD, now); err != nil {
			return fmt.Errorf("sandbox: price %s: %w", info.symbol, err)
		}
		s.tokens[info.symbol] = info
		s.tokenByAddr[addr] = info
	}

	var wrapped common.Address
	if reg.WrappedNative != "" {
		wrapped = s.tokens[strings.ToUpper(reg.WrappedNative)].address
	}
	s.perms = trade.NewStatePermissions(s.st)
	s.exec = trade.NewExecutor(s.st, s.perms, s.agg, wrapped)
	s.exec.SetLogger(s.logger)

	for _, pc := range reg.Pools {
		addr, _ := config.ParseAddress(pc.Address)
		primary, secondary := s.tokens[strings.ToUpper(pc.Primary)], s.tokens[strings.ToUpper(pc.Secondary)]
		pool, err := venue.NewWeightedPool(s.st, s.agg, venue.PoolConfig{
			Address:    addr,
			Primary:    primary.address,
			Secondary:  secondary.address,
			SwapFeeBps: pc.SwapFeeBps,
		})
		if err != nil {
			return fmt.Errorf("sandbox: pool %s: %w", pc.Name, err)
		}
		pool.SetLogger(s.logger)
		s.pools[pc.Name] = pool
		if seeded || pc.SeedPrimary == "" {
			continue
		}
		lp, _ := config.ParseAddress(pc.LiquidityProvider)
		amountP, _ := config.ParseAmount(pc.SeedPrimary, primary.decimals)
		amountS, _ := config.ParseAmount(pc.SeedSecondary, secondary.decimals)
		if err := s.st.Mint(primary.address, lp, amountP); err != nil {
			return err
		}
		if err := s.st.Mint(secondary.address, lp, amountS); err != nil {
			return err
		}
		if _, err := pool.Seed(lp, amountP, amountS); err != nil {
			return fmt.Errorf("sandbox: seed %s: %w", pc.Name, err)
		}
	}

	for _, dc := range reg.Dexes {
		id, _ := trade.ParseDexID(dc.Name)
		var adapter trade.Adapter
		if dc.Pool != "" {
			adapter = venue.NewSwapAdapter(s.pools[dc.Pool])
		} else {
			reserve, _ := config.ParseAddress(dc.Reserve)
			adapter = trade.NewOracleDex(reserve, s.st, s.agg, dc.SpreadBps)
			if !seeded {
				if err := s.mintAll(reserve, dc.Liquidity); err != nil {
					return fmt.Errorf("sandbox: dex %s: %w", dc.Name, err)
				}
			}
		}
		if err := s.exec.Register(id, adapter); err != nil {
			return err
		}
	}

	if fl := reg.FlashLender; fl.Reserve != "" {
		reserve, _ := config.ParseAddress(fl.Reserve)
		s.lender = liquidator.NewLedgerFlashLender(s.st, reserve, fl.FeeBps)
		if !seeded && fl.Liquidity != "" {
			if err := s.mintAll(reserve, map[string]string{fl.Token: fl.Liquidity}); err != nil {
				return fmt.Errorf("sandbox: flash lender: %w", err)
			}
		}
	}

	emitter := events.Emitter(s.recorder)
	if opts.Emitter != nil {
		emitter = events.Multi{s.recorder, opts.Emitter}
	}
	for _, vc := range reg.Vaults {
		v, err := s.buildVault(vc, emitter, opts, seeded)
		if err != nil {
			return fmt.Errorf("sandbox: vault %s: %w", vc.Name, err)
		}
		s.vaults[v.Address] = v
		s.order = append(s.order, v.Address)
	}

	if !seeded {
		if err := s.st.KVPut(seededKey, true); err != nil {
			return err
		}
		return s.persistClock()
	}
	return nil
}

func (s *Sandbox) mintAll(to common.Address, amounts map[string]string) error {
	symbols := make([]string, 0, len(amounts))
	for symbol := range amounts {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	for _, symbol := range symbols {
		tok := s.tokens[strings.ToUpper(symbol)]
		amount, err := config.ParseAmount(amounts[symbol], tok.decimals)
		if err != nil {
			return err
		}
		if err := s.st.Mint(tok.address, to, amount); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sandbox) buildVault(vc config.Vault, emitter events.Emitter, opts Options, seeded bool) (*Vault, error) {
	addr, _ := config.ParseAddress(vc.Address)
	host, _ := config.ParseAddress(vc.Host)
	owner, _ := config.ParseAddress(vc.Owner)
	pool := s.pools[vc.Pool]
	primaryAddr, secondaryAddr := pool.Tokens()
	primary := s.tokenByAddr[primaryAddr]

	market := vault.NewFixedRateMarket(primary.decimals, vc.DebtRate)
	if !seeded {
		cfg, settings, err := vaultRecords(vc, addr, host, owner, primary, s.tokenByAddr[secondaryAddr])
		if err != nil {
			return nil, err
		}
		if vc.HostLiquidity != "" {
			amount, _ := config.ParseAmount(vc.HostLiquidity, primary.decimals)
			if err := s.st.Mint(primary.address, host, amount); err != nil {
				return nil, err
			}
		}
		if err := vault.Register(s.st, host, cfg, settings); err != nil {
			return nil, err
		}
		for _, tp := range vc.TradePermissions {
			perm, err := trade.ParsePermission(tp.Dexes, tp.TradeTypes)
			if err != nil {
				return nil, err
			}
			if err := s.perms.SetTradePermission(addr, s.tokens[strings.ToUpper(tp.Token)].address, perm); err != nil {
				return nil, err
			}
		}
	}

	engine, err := vault.NewEngine(addr, vault.Dependencies{
		State:           s.st,
		Gateway:         pool,
		Trades:          s.exec,
		Permissions:     s.perms,
		Oracle:          s.agg,
		Market:          market,
		Clock:           s.clock,
		Emitter:         emitter,
		Pauses:          s.pauses,
		Lock:            heldLock{},
		Metrics:         opts.Metrics,
		Logger:          s.logger,
		CheckInvariants: opts.CheckInvariants,
	})
	if err != nil {
		return nil, err
	}
	if !seeded {
		roles := make([]string, 0, len(vc.Roles))
		for role := range vc.Roles {
			roles = append(roles, role)
		}
		sort.Strings(roles)
		for _, role := range roles {
			for _, member := range vc.Roles[role] {
				account, _ := config.ParseAddress(member)
				if err := engine.GrantRole(context.Background(), owner, role, account); err != nil {
					return nil, err
				}
			}
		}
	}
	return &Vault{Name: vc.Name, Address: addr, Host: host, Engine: engine, Market: market, Pool: pool}, nil
}

func vaultRecords(vc config.Vault, addr, host, owner common.Address, primary, secondary tokenInfo) (*vault.Config, *vault.Settings, error) {
	flags, err := vault.ParseFlags(vc.Flags)
	if err != nil {
		return nil, nil, err
	}
	capacity, err := config.ParseAmount(vc.MaxBorrowCapacity, config.DebtDecimals)
	if err != nil {
		return nil, nil, err
	}
	minBorrow, err := config.ParseAmount(vc.MinBorrowSize, config.DebtDecimals)
	if err != nil {
		return nil, nil, err
	}
	surplus, err := config.ParseAmount(vc.Settings.MaxUnderlyingSurplus, primary.decimals)
	if err != nil {
		return nil, nil, err
	}
	var feeReceiver common.Address
	if vc.Settings.FeeReceiver != "" {
		feeReceiver, _ = config.ParseAddress(vc.Settings.FeeReceiver)
	}
	cfg := &vault.Config{
		Vault:                             addr,
		Host:                              host,
		Owner:                             owner,
		PrimaryToken:                      primary.address,
		PrimaryDecimals:                   primary.decimals,
		SecondaryToken:                    secondary.address,
		SecondaryDecimals:                 secondary.decimals,
		Flags:                             flags,
		MaxPrimaryBorrowCapacity:          capacity,
		MinAccountBorrowSize:              minBorrow,
		MinCollateralRatio:                vc.MinCollateralRatio,
		MaxDeleverageCollateralRatio:      vc.MaxDeleverageCollateralRatio,
		MaxRequiredAccountCollateralRatio: vc.MaxRequiredAccountCollateralRatio,
		LiquidationDiscount:               vc.LiquidationDiscount,
		ReserveFeeShare:                   vc.ReserveFeeShare,
		MaxDebtMarketIndex:                vc.MaxDebtMarketIndex,
		SettlementWindow:                  vc.SettlementWindowSeconds,
		MinEntryBlocks:                    vc.MinEntryBlocks,
		ActiveMarkets:                     append([]uint64(nil), vc.ActiveMarkets...),
	}
	settings := &vault.Settings{
		MaxUnderlyingSurplus:                   surplus,
		SettlementSlippageLimitBps:             vc.Settings.SettlementSlippageLimitBps,
		PostMaturitySettlementSlippageLimitBps: vc.Settings.PostMaturitySettlementSlippageLimitBps,
		EmergencySettlementSlippageLimitBps:    vc.Settings.EmergencySettlementSlippageLimitBps,
		MaxPoolShareBps:                        vc.Settings.MaxPoolShareBps,
		SettlementCoolDown:                     vc.Settings.SettlementCoolDownSeconds,
		OraclePriceDeviationLimitBps:           vc.Settings.OraclePriceDeviationLimitBps,
		PoolSlippageLimitBps:                   vc.Settings.PoolSlippageLimitBps,
		FeeBps:                                 vc.Settings.FeeBps,
		FeeReceiver:                            feeReceiver,
	}
	return cfg, settings, nil
}

// Close releases the backing database.
func (s *Sandbox) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.db.Close()
}

// Do runs fn with the world locked. The state is committed when fn succeeds
// and rolled back to its entry point otherwise.
func (s *Sandbox) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.st.Snapshot()
	if err := fn(ctx); err != nil {
		if rerr := s.st.RevertToSnapshot(snapshot); rerr != nil {
			return errors.Join(err, rerr)
		}
		return err
	}
	return s.st.Commit()
}

// Read runs fn with the world locked. fn must not mutate state.
func (s *Sandbox) Read(ctx context.Context, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(ctx)
}

// Vault returns the vault registered at addr.
func (s *Sandbox) Vault(addr common.Address) (*Vault, error) {
	v, ok := s.vaults[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVault, addr.Hex())
	}
	return v, nil
}

// Vaults lists the vaults in registry order.
func (s *Sandbox) Vaults() []*Vault {
	out := make([]*Vault, 0, len(s.order))
	for _, addr := range s.order {
		out = append(out, s.vaults[addr])
	}
	return out
}

// Liquidator returns a liquidator for v acting as keeper.
func (s *Sandbox) Liquidator(v *Vault, keeper common.Address) (*liquidator.Liquidator, error) {
	if s.lender == nil {
		return nil, ErrNoFlashLender
	}
	l := liquidator.New(v.Engine, s.lender, s.st, v.Host, keeper)
	l.SetLogger(s.logger)
	l.SetMetrics(s.metrics)
	return l, nil
}

// Token resolves a symbol or hex address to a registered token.
func (s *Sandbox) Token(ref string) (common.Address, uint8, error) {
	trimmed := strings.TrimSpace(ref)
	if info, ok := s.tokens[strings.ToUpper(trimmed)]; ok {
		return info.address, info.decimals, nil
	}
	if common.IsHexAddress(trimmed) {
		if info, ok := s.tokenByAddr[common.HexToAddress(trimmed)]; ok {
			return info.address, info.decimals, nil
		}
	}
	return common.Address{}, 0, fmt.Errorf("%w: %q", ErrUnknownToken, ref)
}

// Balance returns the ledger balance of holder. Callers hold the lock.
func (s *Sandbox) Balance(token, holder common.Address) (*big.Int, error) {
	return s.st.Balance(token, holder)
}

// Mint credits amount of token to holder. Callers hold the lock.
func (s *Sandbox) Mint(token, holder common.Address, amount *big.Int) error {
	return s.st.Mint(token, holder, amount)
}

// Events returns the committed event log, oldest first.
func (s *Sandbox) Events() []*types.Event { return s.recorder.Events() }

// Pauses exposes the module pause switches.
func (s *Sandbox) Pauses() *PauseSet { return s.pauses }

// Clock exposes the sandbox block clock.
func (s *Sandbox) Clock() *Clock { return s.clock }

// Advance moves the clock forward by seconds and blocks. With refresh the
// oracle rounds are re-stamped so reads stay fresh. Callers hold the lock.
func (s *Sandbox) Advance(seconds, blocks uint64, refresh bool) error {
	if blocks == 0 && seconds > 0 {
		blocks = (seconds + s.clock.blockSeconds - 1) / s.clock.blockSeconds
	}
	now := s.clock.advance(time.Duration(seconds)*time.Second, blocks)
	if refresh {
		s.feed.Touch(now)
	}
	return s.persistClock()
}

func (s *Sandbox) persistClock() error {
	return s.st.KVPut(clockKey, clockRecord{Unix: uint64(s.clock.Now().Unix()), Block: s.clock.BlockNumber()})
}

// SetPrice moves the USD price of token. With arbitrage every pool holding
// the token is moved to the new oracle ratio. Callers hold the lock.
func (s *Sandbox) SetPrice(token common.Address, price string, arbitrage bool) error {
	if err := s.feed.SetDecimal(token, price, s.clock.Now()); err != nil {
		return err
	}
	if !arbitrage {
		return nil
	}
	names := make([]string, 0, len(s.pools))
	for name := range s.pools {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		pool := s.pools[name]
		primary, secondary := pool.Tokens()
		if token != primary && token != secondary {
			continue
		}
		ratio, err := s.priceRatio(secondary, primary)
		if err != nil {
			return err
		}
		if err := pool.Arbitrage(ratio); err != nil {
			return fmt.Errorf("sandbox: arbitrage %s: %w", name, err)
		}
	}
	return nil
}

// priceRatio returns the USD price of base divided by that of quote.
func (s *Sandbox) priceRatio(base, quote common.Address) (*big.Rat, error) {
	b, err := s.feed.LatestRound(base)
	if err != nil {
		return nil, err
	}
	q, err := s.feed.LatestRound(quote)
	if err != nil {
		return nil, err
	}
	return new(big.Rat).Quo(b.Price(), q.Price()), nil
}

// AccrueRewards emits amount of token to the stakers of pool. Callers hold
// the lock.
func (s *Sandbox) AccrueRewards(poolName string, token common.Address, amount *big.Int) error {
	pool, ok := s.pools[poolName]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownPool, poolName)
	}
	return pool.AccrueRewards(token, amount)
}

// PoolName returns the registry name of p.
func (s *Sandbox) PoolName(p *venue.WeightedPool) string {
	for name, pool := range s.pools {
		if pool == p {
			return name
		}
	}
	return ""
}
