package vault

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"strategyvaults/core/state"
	"strategyvaults/native/fixedpoint"
)

// Store is the typed view of one vault's records in the shared StateDB. The
// exported mutators are the only paths that change share, debt, token or
// claim totals; each refuses to drive a total negative.
type Store struct {
	st    *state.StateDB
	vault common.Address
}

// NewStore returns the store for vault.
func NewStore(st *state.StateDB, vault common.Address) *Store {
	return &Store{st: st, vault: vault}
}

// Vault returns the vault address the store is bound to.
func (s *Store) Vault() common.Address { return s.vault }

// Config loads the registration record.
func (s *Store) Config() (*Config, error) {
	var cfg Config
	ok, err := s.st.KVGet(state.VaultConfigKey(s.vault), &cfg)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrVaultNotFound
	}
	cfg.MaxPrimaryBorrowCapacity = fixedpoint.Copy(cfg.MaxPrimaryBorrowCapacity)
	cfg.MinAccountBorrowSize = fixedpoint.Copy(cfg.MinAccountBorrowSize)
	return &cfg, nil
}

func (s *Store) putConfig(cfg *Config) error {
	return s.st.KVPut(state.VaultConfigKey(s.vault), cfg)
}

// Settings loads the owner-tuned limits.
func (s *Store) Settings() (*Settings, error) {
	var settings Settings
	ok, err := s.st.KVGet(state.VaultSettingsKey(s.vault), &settings)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrVaultNotFound
	}
	settings.MaxUnderlyingSurplus = fixedpoint.Copy(settings.MaxUnderlyingSurplus)
	return &settings, nil
}

func (s *Store) putSettings(settings *Settings) error {
	return s.st.KVPut(state.VaultSettingsKey(s.vault), settings)
}

// Totals loads the vault-wide totals.
func (s *Store) Totals() (*VaultState, error) {
	var totals VaultState
	if _, err := s.st.KVGet(state.VaultTotalsKey(s.vault), &totals); err != nil {
		return nil, err
	}
	totals.normalize()
	return &totals, nil
}

func (s *Store) putTotals(totals *VaultState) error {
	if totals.TotalPoolClaim.Sign() < 0 || totals.TotalStrategyTokens.Sign() < 0 || totals.TotalDebt.Sign() < 0 {
		return fmt.Errorf("%w: negative vault totals", ErrInvariant)
	}
	return s.st.KVPut(state.VaultTotalsKey(s.vault), totals)
}

// Maturity loads maturity. A maturity nobody entered yet is returned zeroed
// with exists false.
func (s *Store) Maturity(maturity uint64) (*MaturityState, bool, error) {
	m := &MaturityState{Maturity: maturity}
	ok, err := s.st.KVGet(state.MaturityKey(s.vault, maturity), m)
	if err != nil {
		return nil, false, err
	}
	m.Maturity = maturity
	m.normalize()
	return m, ok, nil
}

func (s *Store) putMaturity(m *MaturityState) error {
	if m.TotalDebt.Sign() < 0 || m.TotalVaultShares.Sign() < 0 || m.TotalStrategyTokens.Sign() < 0 || m.TotalAssetCash.Sign() < 0 {
		return fmt.Errorf("%w: negative totals in maturity %d", ErrInvariant, m.Maturity)
	}
	if err := s.st.Uint64ListAdd(state.MaturityIndexKey(s.vault), m.Maturity); err != nil {
		return err
	}
	return s.st.KVPut(state.MaturityKey(s.vault, m.Maturity), m)
}

// Maturities lists every maturity ever entered, ascending.
func (s *Store) Maturities() ([]uint64, error) {
	return s.st.Uint64List(state.MaturityIndexKey(s.vault))
}

// Account loads the position of owner.
func (s *Store) Account(owner common.Address) (*Account, bool, error) {
	acct := &Account{Owner: owner}
	ok, err := s.st.KVGet(state.AccountKey(s.vault, owner), acct)
	if err != nil {
		return nil, false, err
	}
	acct.Owner = owner
	acct.normalize()
	return acct, ok, nil
}

func (s *Store) putAccount(acct *Account) error {
	if acct.VaultShares.Sign() < 0 || acct.Debt.Sign() < 0 {
		return fmt.Errorf("%w: negative account balances", ErrInvariant)
	}
	key := state.AccountKey(s.vault, acct.Owner)
	if acct.Empty() {
		if err := s.st.KVDelete(key); err != nil {
			return err
		}
		return s.st.AddressListRemove(state.AccountIndexKey(s.vault), acct.Owner)
	}
	if err := s.st.AddressListAdd(state.AccountIndexKey(s.vault), acct.Owner); err != nil {
		return err
	}
	return s.st.KVPut(key, acct)
}

// Accounts lists every account with an open position.
func (s *Store) Accounts() ([]common.Address, error) {
	return s.st.AddressList(state.AccountIndexKey(s.vault))
}

// MaturityClaim returns the pool claim attributable to m.
func MaturityClaim(m *MaturityState, totals *VaultState) *big.Int {
	return fixedpoint.MulDiv(m.TotalStrategyTokens, totals.TotalPoolClaim, totals.TotalStrategyTokens)
}

func nonNegative(values ...*big.Int) error {
	for _, v := range values {
		if v != nil && v.Sign() < 0 {
			return ErrInvalidAmount
		}
	}
	return nil
}

// CreditAccount adds shares, debt and strategy tokens to owner's position in
// maturity. With entry set, block is stamped as the entry block used by the
// redeem cool down; shares credited by a deleverage leave it untouched.
func (s *Store) CreditAccount(owner common.Address, maturity uint64, shares, debt, tokens *big.Int, block uint64, entry bool) error {
	if err := nonNegative(shares, debt, tokens); err != nil {
		return err
	}
	acct, _, err := s.Account(owner)
	if err != nil {
		return err
	}
	if !acct.Empty() && acct.Maturity != maturity {
		return fmt.Errorf("%w: account in %d, entering %d", ErrAccountMaturityMismatch, acct.Maturity, maturity)
	}
	m, _, err := s.Maturity(maturity)
	if err != nil {
		return err
	}
	if m.IsSettled {
		return ErrMaturitySettled
	}
	totals, err := s.Totals()
	if err != nil {
		return err
	}
	acct.Maturity = maturity
	acct.VaultShares.Add(acct.VaultShares, fixedpoint.Copy(shares))
	acct.Debt.Add(acct.Debt, fixedpoint.Copy(debt))
	if entry {
		acct.LastEntryBlock = block
		acct.Entered = true
	}
	m.TotalVaultShares.Add(m.TotalVaultShares, fixedpoint.Copy(shares))
	m.TotalDebt.Add(m.TotalDebt, fixedpoint.Copy(debt))
	m.TotalStrategyTokens.Add(m.TotalStrategyTokens, fixedpoint.Copy(tokens))
	totals.TotalStrategyTokens.Add(totals.TotalStrategyTokens, fixedpoint.Copy(tokens))
	totals.TotalDebt.Add(totals.TotalDebt, fixedpoint.Copy(debt))
	if err := s.putAccount(acct); err != nil {
		return err
	}
	if err := s.putMaturity(m); err != nil {
		return err
	}
	return s.putTotals(totals)
}

// DebitAccount removes shares and debt from owner together with the strategy
// tokens and asset cash backing them. Debt of a settled maturity is already
// retired from the vault total and only leaves the maturity record.
func (s *Store) DebitAccount(owner common.Address, shares, debt, tokens, assetCash *big.Int) error {
	if err := nonNegative(shares, debt, tokens, assetCash); err != nil {
		return err
	}
	acct, ok, err := s.Account(owner)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAccountNotFound
	}
	if acct.VaultShares.Cmp(fixedpoint.Copy(shares)) < 0 || acct.Debt.Cmp(fixedpoint.Copy(debt)) < 0 {
		return fmt.Errorf("%w: debit exceeds account position", ErrInvariant)
	}
	m, _, err := s.Maturity(acct.Maturity)
	if err != nil {
		return err
	}
	totals, err := s.Totals()
	if err != nil {
		return err
	}
	acct.VaultShares.Sub(acct.VaultShares, fixedpoint.Copy(shares))
	acct.Debt.Sub(acct.Debt, fixedpoint.Copy(debt))
	m.TotalVaultShares.Sub(m.TotalVaultShares, fixedpoint.Copy(shares))
	m.TotalDebt.Sub(m.TotalDebt, fixedpoint.Copy(debt))
	m.TotalStrategyTokens.Sub(m.TotalStrategyTokens, fixedpoint.Copy(tokens))
	m.TotalAssetCash.Sub(m.TotalAssetCash, fixedpoint.Copy(assetCash))
	totals.TotalStrategyTokens.Sub(totals.TotalStrategyTokens, fixedpoint.Copy(tokens))
	if !m.IsSettled {
		totals.TotalDebt.Sub(totals.TotalDebt, fixedpoint.Copy(debt))
	}
	if err := s.putAccount(acct); err != nil {
		return err
	}
	if err := s.putMaturity(m); err != nil {
		return err
	}
	return s.putTotals(totals)
}

// SettleMaturityShares converts tokens of maturity into cash raised by a
// settlement and stamps the settlement time.
func (s *Store) SettleMaturityShares(maturity uint64, tokens, cash *big.Int, now uint64) error {
	if err := nonNegative(tokens, cash); err != nil {
		return err
	}
	m, ok, err := s.Maturity(maturity)
	if err != nil {
		return err
	}
	if !ok {
		return ErrMaturityNotFound
	}
	totals, err := s.Totals()
	if err != nil {
		return err
	}
	m.TotalStrategyTokens.Sub(m.TotalStrategyTokens, fixedpoint.Copy(tokens))
	m.TotalAssetCash.Add(m.TotalAssetCash, fixedpoint.Copy(cash))
	m.LastSettlement = now
	totals.TotalStrategyTokens.Sub(totals.TotalStrategyTokens, fixedpoint.Copy(tokens))
	if err := s.putMaturity(m); err != nil {
		return err
	}
	return s.putTotals(totals)
}

// AdjustTotalClaim applies delta to the vault's staked claim total.
func (s *Store) AdjustTotalClaim(delta *big.Int) error {
	totals, err := s.Totals()
	if err != nil {
		return err
	}
	totals.TotalPoolClaim.Add(totals.TotalPoolClaim, fixedpoint.Copy(delta))
	return s.putTotals(totals)
}

// SetAssetCash overwrites the settled cash held for maturity.
func (s *Store) SetAssetCash(maturity uint64, cash *big.Int) error {
	if err := nonNegative(cash); err != nil {
		return err
	}
	m, ok, err := s.Maturity(maturity)
	if err != nil {
		return err
	}
	if !ok {
		return ErrMaturityNotFound
	}
	m.TotalAssetCash = fixedpoint.Copy(cash)
	return s.putMaturity(m)
}

// MarkSettled finalises maturity, retiring its debt from the vault total.
func (s *Store) MarkSettled(maturity uint64, shortfall *big.Int) error {
	if err := nonNegative(shortfall); err != nil {
		return err
	}
	m, ok, err := s.Maturity(maturity)
	if err != nil {
		return err
	}
	if !ok {
		return ErrMaturityNotFound
	}
	if m.IsSettled {
		return ErrMaturitySettled
	}
	totals, err := s.Totals()
	if err != nil {
		return err
	}
	m.IsSettled = true
	m.Shortfall = fixedpoint.Copy(shortfall)
	totals.TotalDebt.Sub(totals.TotalDebt, m.TotalDebt)
	if err := s.putMaturity(m); err != nil {
		return err
	}
	return s.putTotals(totals)
}

// CheckInvariants verifies that account balances sum to their maturity
// totals, that maturity tokens sum to the vault total and that the vault's
// claim total matches staked, the claim held at the venue.
func (s *Store) CheckInvariants(staked *big.Int) error {
	accounts, err := s.Accounts()
	if err != nil {
		return err
	}
	shares := make(map[uint64]*big.Int)
	debt := make(map[uint64]*big.Int)
	for _, owner := range accounts {
		acct, ok, err := s.Account(owner)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: indexed account %s missing", ErrInvariant, owner.Hex())
		}
		if shares[acct.Maturity] == nil {
			shares[acct.Maturity] = new(big.Int)
			debt[acct.Maturity] = new(big.Int)
		}
		shares[acct.Maturity].Add(shares[acct.Maturity], acct.VaultShares)
		debt[acct.Maturity].Add(debt[acct.Maturity], acct.Debt)
	}
	maturities, err := s.Maturities()
	if err != nil {
		return err
	}
	totals, err := s.Totals()
	if err != nil {
		return err
	}
	tokenSum := new(big.Int)
	claimSum := new(big.Int)
	openDebt := new(big.Int)
	for _, maturity := range maturities {
		m, _, err := s.Maturity(maturity)
		if err != nil {
			return err
		}
		if m.TotalVaultShares.Cmp(fixedpoint.Copy(shares[maturity])) != 0 {
			return fmt.Errorf("%w: maturity %d shares %s accounts %s", ErrInvariant, maturity, m.TotalVaultShares, fixedpoint.Copy(shares[maturity]))
		}
		if m.TotalDebt.Cmp(fixedpoint.Copy(debt[maturity])) != 0 {
			return fmt.Errorf("%w: maturity %d debt %s accounts %s", ErrInvariant, maturity, m.TotalDebt, fixedpoint.Copy(debt[maturity]))
		}
		tokenSum.Add(tokenSum, m.TotalStrategyTokens)
		claimSum.Add(claimSum, MaturityClaim(m, totals))
		if !m.IsSettled {
			openDebt.Add(openDebt, m.TotalDebt)
		}
	}
	if tokenSum.Cmp(totals.TotalStrategyTokens) != 0 {
		return fmt.Errorf("%w: strategy tokens %s maturities %s", ErrInvariant, totals.TotalStrategyTokens, tokenSum)
	}
	if openDebt.Cmp(totals.TotalDebt) != 0 {
		return fmt.Errorf("%w: vault debt %s maturities %s", ErrInvariant, totals.TotalDebt, openDebt)
	}
	if staked != nil && totals.TotalPoolClaim.Cmp(staked) != 0 {
		return fmt.Errorf("%w: pool claim %s staked %s", ErrInvariant, totals.TotalPoolClaim, staked)
	}
	if totals.TotalStrategyTokens.Sign() > 0 {
		slack := new(big.Int).Sub(totals.TotalPoolClaim, claimSum)
		if slack.Sign() < 0 || slack.Cmp(big.NewInt(int64(len(maturities)))) > 0 {
			return fmt.Errorf("%w: maturity claims %s pool claim %s", ErrInvariant, claimSum, totals.TotalPoolClaim)
		}
	}
	return nil
}
