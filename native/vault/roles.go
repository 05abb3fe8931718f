package vault

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"strategyvaults/core/events"
	"strategyvaults/native/fixedpoint"
	"strategyvaults/native/trade"
)

// Role names held in the vault's role scope.
const (
	RoleNormalSettlement       = "normal_settlement"
	RolePostMaturitySettlement = "post_maturity_settlement"
	RoleEmergencySettlement    = "emergency_settlement"
	RoleRewardReinvestment     = "reward_reinvestment"
)

// Roles lists every grantable role.
var Roles = []string{
	RoleNormalSettlement,
	RolePostMaturitySettlement,
	RoleEmergencySettlement,
	RoleRewardReinvestment,
}

func knownRole(role string) bool {
	for _, r := range Roles {
		if r == role {
			return true
		}
	}
	return false
}

func requireOwner(op *opContext, caller common.Address) error {
	if caller != op.cfg.Owner {
		return fmt.Errorf("%w: %s is owner only", ErrUnauthorized, op.name)
	}
	return nil
}

// owned runs fn as an owner-only operation.
func (e *Engine) owned(ctx context.Context, name string, caller common.Address, fn func(op *opContext) error) error {
	return e.run(ctx, name, common.Address{}, func(op *opContext) error {
		if err := requireOwner(op, caller); err != nil {
			return err
		}
		return fn(op)
	})
}

// updateConfig applies mutate to a copy of the config and stores it once it
// validates.
func (e *Engine) updateConfig(op *opContext, field, value string, mutate func(cfg *Config)) error {
	cfg := op.cfg.Clone()
	mutate(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := e.store.putConfig(cfg); err != nil {
		return err
	}
	op.cfg = cfg
	op.emit(events.VaultSettingsUpdated{OpID: op.id, Vault: e.vault, Field: field, Value: value})
	return nil
}

func (e *Engine) setRole(ctx context.Context, caller common.Address, role string, account common.Address, grant bool) error {
	name := "revoke_role"
	if grant {
		name = "grant_role"
	}
	return e.owned(ctx, name, caller, func(op *opContext) error {
		if !knownRole(role) {
			return fmt.Errorf("%w: unknown role %q", ErrMalformedParams, role)
		}
		var err error
		if grant {
			err = e.deps.State.GrantRole(e.vault, role, account)
		} else {
			err = e.deps.State.RevokeRole(e.vault, role, account)
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedParams, err)
		}
		op.emit(events.VaultRoleUpdated{OpID: op.id, Vault: e.vault, Role: role, Account: account, Granted: grant})
		return nil
	})
}

// GrantRole gives account role within this vault.
func (e *Engine) GrantRole(ctx context.Context, caller common.Address, role string, account common.Address) error {
	return e.setRole(ctx, caller, role, account, true)
}

// RevokeRole removes role from account.
func (e *Engine) RevokeRole(ctx context.Context, caller common.Address, role string, account common.Address) error {
	return e.setRole(ctx, caller, role, account, false)
}

// HasRole reports whether account holds role within this vault.
func (e *Engine) HasRole(ctx context.Context, role string, account common.Address) (bool, error) {
	var held bool
	err := e.View(ctx, func(*Store) error {
		held = e.deps.State.HasRole(e.vault, role, account)
		return nil
	})
	return held, err
}

// TransferOwnership hands the owner role to next.
func (e *Engine) TransferOwnership(ctx context.Context, caller, next common.Address) error {
	return e.owned(ctx, "transfer_ownership", caller, func(op *opContext) error {
		return e.updateConfig(op, "owner", next.Hex(), func(cfg *Config) { cfg.Owner = next })
	})
}

// UpdateSettings replaces the operating limits.
func (e *Engine) UpdateSettings(ctx context.Context, caller common.Address, settings *Settings) error {
	return e.owned(ctx, "update_settings", caller, func(op *opContext) error {
		if err := settings.Validate(); err != nil {
			return err
		}
		if err := e.store.putSettings(settings.Clone()); err != nil {
			return err
		}
		op.emit(events.VaultSettingsUpdated{
			OpID:  op.id,
			Vault: e.vault,
			Field: "settings",
			Value: fmt.Sprintf("max_pool_share_bps=%d fee_bps=%d", settings.MaxPoolShareBps, settings.FeeBps),
		})
		return nil
	})
}

// SetFlags replaces the feature mask.
func (e *Engine) SetFlags(ctx context.Context, caller common.Address, flags Flags) error {
	return e.owned(ctx, "set_flags", caller, func(op *opContext) error {
		return e.updateConfig(op, "flags", strings.Join(flags.Names(), ","), func(cfg *Config) { cfg.Flags = flags })
	})
}

// SetBorrowCapacity changes the vault-wide debt ceiling.
func (e *Engine) SetBorrowCapacity(ctx context.Context, caller common.Address, capacity *big.Int) error {
	return e.owned(ctx, "set_borrow_capacity", caller, func(op *opContext) error {
		return e.updateConfig(op, "max_primary_borrow_capacity", fixedpoint.Copy(capacity).String(), func(cfg *Config) {
			cfg.MaxPrimaryBorrowCapacity = fixedpoint.Copy(capacity)
		})
	})
}

// SetCollateralRatios changes the collateral bounds.
func (e *Engine) SetCollateralRatios(ctx context.Context, caller common.Address, minRatio, maxDeleverage, maxRequired uint64) error {
	return e.owned(ctx, "set_collateral_ratios", caller, func(op *opContext) error {
		value := fmt.Sprintf("%d/%d/%d", minRatio, maxDeleverage, maxRequired)
		return e.updateConfig(op, "collateral_ratios", value, func(cfg *Config) {
			cfg.MinCollateralRatio = minRatio
			cfg.MaxDeleverageCollateralRatio = maxDeleverage
			cfg.MaxRequiredAccountCollateralRatio = maxRequired
		})
	})
}

// SetLiquidationParams changes the liquidation discount and the host's share
// of it.
func (e *Engine) SetLiquidationParams(ctx context.Context, caller common.Address, discount, reserveShare uint64) error {
	return e.owned(ctx, "set_liquidation_params", caller, func(op *opContext) error {
		value := fmt.Sprintf("%d/%d", discount, reserveShare)
		return e.updateConfig(op, "liquidation", value, func(cfg *Config) {
			cfg.LiquidationDiscount = discount
			cfg.ReserveFeeShare = reserveShare
		})
	})
}

// SetTradePermission updates the allowlist entry of the vault selling token.
func (e *Engine) SetTradePermission(ctx context.Context, caller, token common.Address, perm trade.Permission) error {
	if e.deps.Permissions == nil {
		return newError(KindConfiguration, "vault: trade permissions not configured")
	}
	return e.owned(ctx, "set_trade_permission", caller, func(op *opContext) error {
		if err := e.deps.Permissions.SetTradePermission(e.vault, token, perm); err != nil {
			return err
		}
		op.emit(events.VaultSettingsUpdated{
			OpID:  op.id,
			Vault: e.vault,
			Field: "trade_permission:" + token.Hex(),
			Value: fmt.Sprintf("enabled=%t dex=%#x types=%#x", perm.Enabled, perm.DexMask, perm.TradeTypeMask),
		})
		return nil
	})
}

// SetOracleFreshness changes the oracle staleness bound. Post-maturity and
// emergency settlements ignore it regardless.
func (e *Engine) SetOracleFreshness(ctx context.Context, caller common.Address, d time.Duration) error {
	if e.deps.Oracle == nil {
		return newError(KindConfiguration, "vault: oracle freshness control not configured")
	}
	return e.owned(ctx, "set_oracle_freshness", caller, func(op *opContext) error {
		e.deps.Oracle.SetMaxFreshness(d)
		op.emit(events.VaultSettingsUpdated{OpID: op.id, Vault: e.vault, Field: "oracle_freshness", Value: d.String()})
		return nil
	})
}

// SetActiveMarkets publishes the maturities currently offered by the host.
func (e *Engine) SetActiveMarkets(ctx context.Context, caller common.Address, markets []uint64, maxIndex uint64) error {
	return e.run(ctx, "set_active_markets", common.Address{}, func(op *opContext) error {
		if err := authorizeHost(op, caller); err != nil {
			return err
		}
		parts := make([]string, len(markets))
		for i, m := range markets {
			parts[i] = strconv.FormatUint(m, 10)
		}
		return e.updateConfig(op, "active_markets", strings.Join(parts, ","), func(cfg *Config) {
			cfg.ActiveMarkets = append([]uint64(nil), markets...)
			if maxIndex > 0 {
				cfg.MaxDebtMarketIndex = maxIndex
			}
		})
	})
}
