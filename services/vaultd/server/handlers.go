package server

import (
	"context"
	"fmt"
	"math/big"
	"net/http"

	"github.com/go-chi/chi/v5"

	"strategyvaults/native/fixedpoint"
	"strategyvaults/native/liquidator"
	"strategyvaults/native/trade"
	"strategyvaults/native/vault"
	"strategyvaults/services/vaultd/sandbox"
)

func (s *Server) handleListVaults(w http.ResponseWriter, r *http.Request) {
	vaults := s.sb.Vaults()
	out := make([]vaultSummary, 0, len(vaults))
	for _, v := range vaults {
		out = append(out, s.summary(v))
	}
	writeJSON(w, http.StatusOK, map[string]any{"vaults": out})
}

func (s *Server) summary(v *sandbox.Vault) vaultSummary {
	return vaultSummary{
		Name:    v.Name,
		Address: v.Address.Hex(),
		Host:    v.Host.Hex(),
		Pool:    s.sb.PoolName(v.Pool),
	}
}

func (s *Server) handleGetVault(w http.ResponseWriter, r *http.Request) {
	v, err := s.vaultParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	view := vaultView{vaultSummary: s.summary(v)}
	err = s.sb.Read(r.Context(), func(ctx context.Context) error {
		return v.Engine.View(ctx, func(store *vault.Store) error {
			cfg, err := store.Config()
			if err != nil {
				return err
			}
			settings, err := store.Settings()
			if err != nil {
				return err
			}
			totals, err := store.Totals()
			if err != nil {
				return err
			}
			view.Config = newConfigView(cfg)
			view.Settings = newSettingsView(settings)
			view.Totals = totalsView{
				TotalPoolClaim:      amount(totals.TotalPoolClaim),
				TotalStrategyTokens: amount(totals.TotalStrategyTokens),
				TotalDebt:           amount(totals.TotalDebt),
			}
			return nil
		})
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleGetMaturity(w http.ResponseWriter, r *http.Request) {
	v, err := s.vaultParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	maturity, err := parseUint("maturity", chi.URLParam(r, "maturity"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var view maturityView
	err = s.sb.Read(r.Context(), func(ctx context.Context) error {
		var (
			m  *vault.MaturityState
			ok bool
		)
		if err := v.Engine.View(ctx, func(store *vault.Store) error {
			var err error
			m, ok, err = store.Maturity(maturity)
			return err
		}); err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %d", vault.ErrMaturityNotFound, maturity)
		}
		status, err := v.Engine.Status(ctx, maturity)
		if err != nil {
			return err
		}
		view = newMaturityView(m, status)
		return nil
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	v, err := s.vaultParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	owner, err := parseAddress("account", chi.URLParam(r, "account"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var view accountView
	err = s.sb.Read(r.Context(), func(ctx context.Context) error {
		var (
			acct *vault.Account
			ok   bool
		)
		if err := v.Engine.View(ctx, func(store *vault.Store) error {
			var err error
			acct, ok, err = store.Account(owner)
			return err
		}); err != nil {
			return err
		}
		if !ok {
			return vault.ErrAccountNotFound
		}
		value, err := v.Engine.ConvertStrategyToUnderlying(ctx, owner, acct.VaultShares, acct.Maturity)
		if err != nil {
			return err
		}
		ratio, err := v.Engine.CollateralRatio(ctx, owner)
		if err != nil {
			return err
		}
		view = accountView{
			Owner:           owner.Hex(),
			Maturity:        acct.Maturity,
			VaultShares:     amount(acct.VaultShares),
			Debt:            amount(acct.Debt),
			LastEntryBlock:  acct.LastEntryBlock,
			Value:           amount(value),
			CollateralRatio: amount(ratio),
		}
		return nil
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleGetLiquidation(w http.ResponseWriter, r *http.Request) {
	v, err := s.vaultParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	account, err := parseAddress("account", chi.URLParam(r, "account"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var snap *liquidator.Snapshot
	err = s.sb.Read(r.Context(), func(ctx context.Context) error {
		var err error
		snap, err = liquidator.Inspect(ctx, v.Engine, account)
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, liquidationView{
		Account:                 snap.Account.Hex(),
		Maturity:                snap.Maturity,
		VaultShares:             amount(snap.VaultShares),
		Debt:                    amount(snap.Debt),
		Value:                   amount(snap.Value),
		DebtValue:               amount(snap.DebtValue),
		CollateralRatio:         amount(snap.CollateralRatio),
		MinDepositCash:          amount(snap.MinDepositCash),
		MaxDepositCash:          amount(snap.MaxDepositCash),
		VaultSharesToLiquidator: amount(snap.VaultSharesToLiquidator),
		Liquidatable:            snap.Liquidatable,
	})
}

// handleDeposit enters a position for the calling principal. The server acts
// as the vault's host.
func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	v, err := s.vaultParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req depositRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	deposit, err := parseAmount("amount", req.Amount, true)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	borrow, err := parseAmount("borrow", req.Borrow, true)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	data, err := req.joinParamsJSON.encode()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	account := caller(r).Address
	var shares *big.Int
	err = s.sb.Do(r.Context(), func(ctx context.Context) error {
		var err error
		shares, err = v.Engine.Deposit(ctx, v.Host, account, deposit, req.Maturity, borrow, data)
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"account": account.Hex(), "shares": amount(shares)})
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	v, err := s.vaultParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req redeemRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	shares, err := parseAmount("shares", req.Shares, false)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	repay, err := parseAmount("repay", req.Repay, false)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	account := caller(r).Address
	receiver := account
	if req.Receiver != "" {
		if receiver, err = parseAddress("receiver", req.Receiver); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	data, err := req.exitParamsJSON.encode()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var paid *big.Int
	err = s.sb.Do(r.Context(), func(ctx context.Context) error {
		var err error
		paid, err = v.Engine.Redeem(ctx, v.Host, account, receiver, fixedpoint.Copy(shares), fixedpoint.Copy(repay), data)
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"receiver": receiver.Hex(), "primary": amount(paid)})
}

func (s *Server) handleRoll(w http.ResponseWriter, r *http.Request) {
	v, err := s.vaultParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req rollRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	borrow, err := parseAmount("borrow", req.Borrow, true)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	minShares, err := parseAmount("min_shares", req.MinShares, false)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	data, err := req.joinParamsJSON.encode()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	account := caller(r).Address
	var shares *big.Int
	err = s.sb.Do(r.Context(), func(ctx context.Context) error {
		var err error
		shares, err = v.Engine.Roll(ctx, v.Host, account, borrow, req.Maturity, minShares, data)
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": account.Hex(), "maturity": req.Maturity, "shares": amount(shares)})
}

// handleDeleverage deposits the principal's own primary into an
// undercollateralized account.
func (s *Server) handleDeleverage(w http.ResponseWriter, r *http.Request) {
	v, err := s.vaultParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	account, err := parseAddress("account", chi.URLParam(r, "account"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req deleverageRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	deposit, err := parseAmount("deposit", req.Deposit, false)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	data, err := req.exitParamsJSON.encode()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var res *vault.DeleverageResult
	err = s.sb.Do(r.Context(), func(ctx context.Context) error {
		var err error
		res, err = v.Engine.Deleverage(ctx, v.Host, caller(r).Address, account, deposit, req.TransferShares, data)
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newDeleverageView(res))
}

// handleLiquidate runs a flash-loan funded liquidation for the principal.
func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	v, err := s.vaultParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	account, err := parseAddress("account", chi.URLParam(r, "account"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req liquidateRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	deposit, err := parseAmount("deposit", req.Deposit, false)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	minProfit, err := parseAmount("min_profit", req.MinProfit, false)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	data, err := req.exitParamsJSON.encode()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	l, err := s.sb.Liquidator(v, caller(r).Address)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var res *liquidator.Result
	err = s.sb.Do(r.Context(), func(ctx context.Context) error {
		var err error
		res, err = l.Liquidate(ctx, account, liquidator.Options{
			DepositAmount:  deposit,
			TransferShares: req.TransferShares,
			RedeemData:     data,
			MinProfit:      minProfit,
		})
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, liquidateView{
		Account:         res.Account.Hex(),
		Deposit:         amount(res.Deposit),
		FlashFee:        amount(res.FlashFee),
		PrimaryReceived: amount(res.PrimaryReceived),
		Profit:          amount(res.Profit),
		Deleverage:      newDeleverageView(res.Deleverage),
	})
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	v, err := s.vaultParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	maturity, err := parseUint("maturity", chi.URLParam(r, "maturity"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req settleRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	tokens, err := parseAmount("tokens", req.Tokens, false)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	data, err := req.exitParamsJSON.encode()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	settler := caller(r).Address
	var res *vault.SettlementResult
	err = s.sb.Do(r.Context(), func(ctx context.Context) error {
		var err error
		switch req.Mode {
		case vault.SettlementNormal, "":
			res, err = v.Engine.SettleNormal(ctx, settler, maturity, tokens, data)
		case vault.SettlementPostMaturity:
			res, err = v.Engine.SettlePostMaturity(ctx, settler, maturity, tokens, data)
		case vault.SettlementEmergency:
			res, err = v.Engine.SettleEmergency(ctx, settler, maturity, data)
		default:
			err = fmt.Errorf("%w: unknown settlement mode %q", errBadRequest, req.Mode)
		}
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSettlementView(res))
}

func (s *Server) handleClaimRewards(w http.ResponseWriter, r *http.Request) {
	v, err := s.vaultParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := []rewardView{}
	err = s.sb.Do(r.Context(), func(ctx context.Context) error {
		rewards, err := v.Engine.ClaimRewards(ctx, caller(r).Address)
		if err != nil {
			return err
		}
		for _, reward := range rewards {
			out = append(out, rewardView{Token: reward.Token.Hex(), Amount: amount(reward.Amount)})
		}
		return nil
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rewards": out})
}

func (s *Server) handleReinvest(w http.ResponseWriter, r *http.Request) {
	v, err := s.vaultParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req reinvestRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	minClaim, err := parseAmount("min_pool_claim", req.MinPoolClaim, false)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	params := vault.ReinvestParams{MinPoolClaim: minClaim}
	for i, t := range req.Trades {
		token, _, err := s.sb.Token(t.Token)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		sell, err := parseAmount(fmt.Sprintf("trades[%d].amount", i), t.Amount, true)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		spec, err := t.Trade.spec()
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		params.Trades = append(params.Trades, vault.ReinvestTrade{Token: token, Amount: sell, BuySecondary: t.BuySecondary, Spec: *spec})
	}
	data, err := vault.EncodeReinvestParams(params)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var claim *big.Int
	err = s.sb.Do(r.Context(), func(ctx context.Context) error {
		var err error
		claim, err = v.Engine.Reinvest(ctx, caller(r).Address, data)
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"pool_claim": amount(claim)})
}

func (s *Server) handleRole(w http.ResponseWriter, r *http.Request) {
	v, err := s.vaultParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req roleRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	account, err := parseAddress("account", req.Account)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	err = s.sb.Do(r.Context(), func(ctx context.Context) error {
		if req.Grant {
			return v.Engine.GrantRole(ctx, caller(r).Address, req.Role, account)
		}
		return v.Engine.RevokeRole(ctx, caller(r).Address, req.Role, account)
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"role": req.Role, "account": account.Hex(), "granted": req.Grant})
}

func (s *Server) handleFlags(w http.ResponseWriter, r *http.Request) {
	v, err := s.vaultParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req flagsRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	flags, err := vault.ParseFlags(req.Flags)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	err = s.sb.Do(r.Context(), func(ctx context.Context) error {
		return v.Engine.SetFlags(ctx, caller(r).Address, flags)
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"flags": flags.Names()})
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	v, err := s.vaultParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req settingsRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	var updated *vault.Settings
	err = s.sb.Do(r.Context(), func(ctx context.Context) error {
		var current *vault.Settings
		if err := v.Engine.View(ctx, func(store *vault.Store) error {
			var err error
			current, err = store.Settings()
			return err
		}); err != nil {
			return err
		}
		next, err := req.apply(current)
		if err != nil {
			return err
		}
		if err := v.Engine.UpdateSettings(ctx, caller(r).Address, next); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSettingsView(updated))
}

func (s *Server) handleOwner(w http.ResponseWriter, r *http.Request) {
	v, err := s.vaultParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req ownerRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	next, err := parseAddress("owner", req.Owner)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	err = s.sb.Do(r.Context(), func(ctx context.Context) error {
		return v.Engine.TransferOwnership(ctx, caller(r).Address, next)
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"owner": next.Hex()})
}

func (s *Server) handleTradePermission(w http.ResponseWriter, r *http.Request) {
	v, err := s.vaultParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req tradePermissionRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	token, _, err := s.sb.Token(req.Token)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	perm, err := trade.ParsePermission(req.Dexes, req.TradeTypes)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if !req.Enabled {
		perm = trade.Permission{}
	}
	err = s.sb.Do(r.Context(), func(ctx context.Context) error {
		return v.Engine.SetTradePermission(ctx, caller(r).Address, token, perm)
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":           token.Hex(),
		"enabled":         perm.Enabled,
		"dex_mask":        perm.DexMask,
		"trade_type_mask": perm.TradeTypeMask,
	})
}
