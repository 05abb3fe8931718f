// Package vault implements the strategy vault ledger: leveraged positions in
// fixed-maturity debt markets backed by pool claims staked at an external
// venue, and the settlement of each maturity.
package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"strategyvaults/core/events"
	"strategyvaults/core/state"
	nativecommon "strategyvaults/native/common"
	"strategyvaults/native/fixedpoint"
	"strategyvaults/native/trade"
	"strategyvaults/native/venue"
	"strategyvaults/observability/metrics"
)

const tracerName = "strategyvaults/native/vault"

// Clock supplies the block context of an operation.
type Clock interface {
	Now() time.Time
	BlockNumber() uint64
}

// TradeExecutor runs swaps for the vault.
type TradeExecutor interface {
	Execute(ctx context.Context, vault common.Address, t trade.Trade, opts trade.Options) (trade.Result, error)
}

// PermissionStore is the owner-managed trade allowlist.
type PermissionStore interface {
	TradePermission(vault, token common.Address) (trade.Permission, error)
	SetTradePermission(vault, token common.Address, perm trade.Permission) error
}

// FreshnessControl adjusts the oracle staleness bound.
type FreshnessControl interface {
	SetMaxFreshness(d time.Duration)
	MaxFreshness() time.Duration
}

// Dependencies wires an engine to its collaborators. Engines sharing one
// StateDB must share Lock as well.
type Dependencies struct {
	State       *state.StateDB
	Gateway     venue.Gateway
	Trades      TradeExecutor
	Permissions PermissionStore
	Oracle      FreshnessControl
	Market      DebtMarket
	Clock       Clock
	Emitter     events.Emitter
	Pauses      nativecommon.PauseView
	Lock        sync.Locker
	Metrics     *metrics.VaultMetrics
	Tracer      trace.Tracer
	Logger      *slog.Logger
	// AutoCommit flushes the StateDB after every successful top-level
	// operation.
	AutoCommit bool
	// CheckInvariants runs Store.CheckInvariants after every operation and
	// reverts on failure.
	CheckInvariants bool
}

// Engine runs the lifecycle, reward and owner operations of one vault.
type Engine struct {
	vault  common.Address
	deps   Dependencies
	store  *Store
	lock   sync.Locker
	logger *slog.Logger
	tracer trace.Tracer
}

// NewEngine binds an engine to a registered vault.
func NewEngine(vault common.Address, deps Dependencies) (*Engine, error) {
	if deps.State == nil {
		return nil, fmt.Errorf("vault engine: state not configured")
	}
	if deps.Gateway == nil || deps.Trades == nil || deps.Market == nil || deps.Clock == nil {
		return nil, fmt.Errorf("vault engine: gateway, trades, market and clock are required")
	}
	store := NewStore(deps.State, vault)
	cfg, err := store.Config()
	if err != nil {
		return nil, err
	}
	primary, secondary := deps.Gateway.Tokens()
	if primary != cfg.PrimaryToken || secondary != cfg.SecondaryToken {
		return nil, fmt.Errorf("%w: venue tokens do not match vault config", ErrVaultNotFound)
	}
	e := &Engine{vault: vault, deps: deps, store: store}
	e.lock = deps.Lock
	if e.lock == nil {
		e.lock = &sync.Mutex{}
	}
	if e.deps.Emitter == nil {
		e.deps.Emitter = events.NoopEmitter{}
	}
	e.tracer = deps.Tracer
	if e.tracer == nil {
		e.tracer = otel.Tracer(tracerName)
	}
	e.logger = deps.Logger
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e, nil
}

// Register records a new vault. Only the configured host may register.
func Register(st *state.StateDB, caller common.Address, cfg *Config, settings *Settings) error {
	if st == nil {
		return fmt.Errorf("vault: state not configured")
	}
	if cfg == nil {
		return newError(KindConfiguration, "vault: config required")
	}
	cfg = cfg.Clone()
	if caller != cfg.Host {
		return ErrNotHost
	}
	if cfg.MinEntryBlocks == 0 {
		cfg.MinEntryBlocks = DefaultMinEntryBlocks
	}
	pd, err := st.Decimals(cfg.PrimaryToken)
	if err != nil {
		return err
	}
	sd, err := st.Decimals(cfg.SecondaryToken)
	if err != nil {
		return err
	}
	cfg.PrimaryDecimals, cfg.SecondaryDecimals = pd, sd
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := settings.Validate(); err != nil {
		return err
	}
	store := NewStore(st, cfg.Vault)
	if _, err := store.Config(); err == nil {
		return ErrVaultExists
	} else if !errors.Is(err, ErrVaultNotFound) {
		return err
	}
	if err := store.putConfig(cfg); err != nil {
		return err
	}
	if err := store.putSettings(settings.Clone()); err != nil {
		return err
	}
	return st.AddressListAdd(state.VaultListKey(), cfg.Vault)
}

// Vaults lists every registered vault.
func Vaults(st *state.StateDB) ([]common.Address, error) {
	return st.AddressList(state.VaultListKey())
}

// Address returns the vault address.
func (e *Engine) Address() common.Address { return e.vault }

// Store exposes the typed records. Callers outside an operation must hold
// the engine lock through View.
func (e *Engine) Store() *Store { return e.store }

// SetLogger overrides the logger.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if e == nil || logger == nil {
		return
	}
	e.logger = logger
}

// SetPauses wires the pause view consulted before every operation.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.deps.Pauses = p
}

// SetEmitter replaces the event sink.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil || emitter == nil {
		return
	}
	e.deps.Emitter = emitter
}

type opKey struct{}

type opContext struct {
	ctx      context.Context
	id       string
	name     string
	cfg      *Config
	settings *Settings
	now      time.Time
	block    uint64
	events   *events.Buffer
}

func (op *opContext) emit(evt events.Event) { op.events.Emit(evt) }

func (op *opContext) nowUnix() uint64 {
	if op.now.Unix() < 0 {
		return 0
	}
	return uint64(op.now.Unix())
}

func currentOp(ctx context.Context) *opContext {
	op, _ := ctx.Value(opKey{}).(*opContext)
	return op
}

// View runs fn with the engine lock held unless ctx already carries an
// operation frame.
func (e *Engine) View(ctx context.Context, fn func(*Store) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if nativecommon.CurrentFrame(ctx) == nil {
		e.lock.Lock()
		defer e.lock.Unlock()
	}
	return fn(e.store)
}

// run executes fn as one atomic operation. Top-level calls take the engine
// lock; calls made from inside another operation (through a collaborator
// that received the operation's context) reuse it. Every state change and
// buffered event is dropped when fn fails.
func (e *Engine) run(ctx context.Context, name string, account common.Address, fn func(op *opContext) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := nativecommon.Guard(e.deps.Pauses, nativecommon.ModuleVaults); err != nil {
		return err
	}
	if nativecommon.CurrentFrame(ctx) == nil {
		e.lock.Lock()
		defer e.lock.Unlock()
	}
	start := time.Now()
	parent := currentOp(ctx)
	opID := uuid.NewString()

	cfg, err := e.store.Config()
	if err != nil {
		return err
	}
	ctx, frame, err := nativecommon.Enter(ctx, e.vault, account, opID, cfg.Flags.Has(FlagAllowReentrancy))
	if err != nil {
		e.logger.Warn("vault reentrancy rejected",
			slog.String("component", "vault"),
			slog.String("vault", e.vault.Hex()),
			slog.String("op", name),
			slog.String("account", account.Hex()))
		return fmt.Errorf("%w: %v", ErrReentrancy, err)
	}
	settings, err := e.store.Settings()
	if err != nil {
		return err
	}

	ctx, span := e.tracer.Start(ctx, "vault."+name, trace.WithAttributes(
		attribute.String("vault", e.vault.Hex()),
		attribute.String("op_id", opID),
		attribute.Int("depth", frame.Depth),
	))
	defer span.End()

	op := &opContext{
		id:       opID,
		name:     name,
		cfg:      cfg,
		settings: settings,
		now:      e.deps.Clock.Now(),
		block:    e.deps.Clock.BlockNumber(),
	}
	if parent != nil {
		op.events = parent.events
	} else {
		op.events = &events.Buffer{}
	}
	op.ctx = context.WithValue(ctx, opKey{}, op)
	mark := op.events.Len()
	snapshot := e.deps.State.Snapshot()

	err = fn(op)
	if err == nil && e.deps.CheckInvariants {
		err = e.checkInvariants()
	}
	if err == nil && parent == nil && e.deps.AutoCommit {
		if cerr := e.deps.State.Commit(); cerr != nil {
			err = cerr
		}
	}
	if err != nil {
		if rerr := e.deps.State.RevertToSnapshot(snapshot); rerr != nil {
			err = errors.Join(err, rerr)
		}
		op.events.Truncate(mark)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.deps.Metrics.ObserveOperation(e.vault.Hex(), name, KindOf(err).String(), time.Since(start))
		e.logger.Warn("vault operation reverted",
			slog.String("component", "vault"),
			slog.String("vault", e.vault.Hex()),
			slog.String("op", name),
			slog.String("op_id", opID),
			slog.String("kind", KindOf(err).String()),
			slog.Any("error", err))
		return err
	}
	if parent == nil {
		op.events.Flush(e.deps.Emitter)
	}
	e.deps.Metrics.ObserveOperation(e.vault.Hex(), name, "ok", time.Since(start))
	if totals, terr := e.store.Totals(); terr == nil {
		e.deps.Metrics.SetPoolClaim(e.vault.Hex(), claimFloat(totals.TotalPoolClaim))
	}
	e.logger.Info("vault operation",
		slog.String("component", "vault"),
		slog.String("vault", e.vault.Hex()),
		slog.String("op", name),
		slog.String("op_id", opID),
		slog.Duration("elapsed", time.Since(start)))
	return nil
}

func (e *Engine) checkInvariants() error {
	staked, err := e.deps.Gateway.StakedBalance(e.vault)
	if err != nil {
		return err
	}
	return e.store.CheckInvariants(staked)
}

// checkClaimMirror asserts the vault's claim total equals the venue stake.
func (e *Engine) checkClaimMirror() error {
	totals, err := e.store.Totals()
	if err != nil {
		return err
	}
	staked, err := e.deps.Gateway.StakedBalance(e.vault)
	if err != nil {
		return err
	}
	if staked.Cmp(totals.TotalPoolClaim) != 0 {
		return fmt.Errorf("%w: staked %s recorded %s", ErrInvariant, staked, totals.TotalPoolClaim)
	}
	return nil
}

func claimFloat(claim *big.Int) float64 {
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(fixedpoint.Copy(claim)), new(big.Float).SetInt(fixedpoint.ClaimPrecision)).Float64()
	return f
}

// authorizeHost admits the host and the vault itself.
func authorizeHost(op *opContext, caller common.Address) error {
	if caller != op.cfg.Host && caller != op.cfg.Vault {
		return ErrNotHost
	}
	return nil
}

// requireVaultCaller enforces an ONLY_VAULT_* flag.
func requireVaultCaller(op *opContext, caller common.Address, flag Flags, sentinel error) error {
	if op.cfg.Flags.Has(flag) && caller != op.cfg.Vault {
		return sentinel
	}
	return nil
}
