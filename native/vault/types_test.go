package vault

import (
	"errors"
	"math/big"
	"reflect"
	"strings"
	"testing"
)

func TestFlagsRoundTripNames(t *testing.T) {
	flags := FlagEnabled | FlagOnlyVaultSettle | FlagAllowReentrancy
	names := flags.Names()
	if want := []string{"enabled", "only_vault_settle", "allow_reentrancy"}; !reflect.DeepEqual(names, want) {
		t.Fatalf("names %v, want %v", names, want)
	}
	parsed, err := ParseFlags(names)
	if err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if parsed != flags {
		t.Fatalf("parsed %v, want %v", parsed.Names(), names)
	}
	if !parsed.Has(FlagEnabled | FlagOnlyVaultSettle) {
		t.Fatalf("missing enabled|only_vault_settle")
	}
	if parsed.Has(FlagEnabled | FlagOnlyVaultEntry) {
		t.Fatalf("Has requires every bit")
	}

	if _, err := ParseFlags([]string{"enabled", "bogus"}); err == nil {
		t.Fatalf("unknown flag accepted")
	}
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing owner", func(c *Config) { c.Owner = [20]byte{} }, "owner"},
		{"same tokens", func(c *Config) { c.SecondaryToken = c.PrimaryToken }, "must differ"},
		{"zero discount", func(c *Config) { c.LiquidationDiscount = 0 }, "liquidation discount"},
		{"min ratio below discount", func(c *Config) { c.MinCollateralRatio = 1_040_000 }, "min collateral ratio"},
		{"deleverage below min", func(c *Config) { c.MaxDeleverageCollateralRatio = c.MinCollateralRatio }, "max deleverage"},
		{"max required below deleverage", func(c *Config) { c.MaxRequiredAccountCollateralRatio = 1_250_000 }, "max required"},
		{"reserve share", func(c *Config) { c.ReserveFeeShare = 1_000_001 }, "reserve fee share"},
		{"no capacity", func(c *Config) { c.MaxPrimaryBorrowCapacity = new(big.Int) }, "borrow capacity"},
		{"no window", func(c *Config) { c.SettlementWindow = 0 }, "settlement window"},
		{"no market index", func(c *Config) { c.MaxDebtMarketIndex = 0 }, "market index"},
		{"unsorted markets", func(c *Config) { c.ActiveMarkets = []uint64{maturity2, maturity1} }, "strictly increasing"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.want == "" {
				if err != nil {
					t.Fatalf("valid config rejected: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
			if kind := KindOf(err); kind != KindConfiguration {
				t.Fatalf("kind %s, want configuration", kind)
			}
		})
	}
}

func TestConfigCloneIsDeep(t *testing.T) {
	cfg := testConfig()
	clone := cfg.Clone()
	clone.MaxPrimaryBorrowCapacity.SetInt64(1)
	clone.ActiveMarkets[0] = 1
	if cfg.MaxPrimaryBorrowCapacity.Cmp(debt(100)) != 0 {
		t.Fatalf("clone shares borrow capacity")
	}
	if cfg.ActiveMarkets[0] != maturity1 {
		t.Fatalf("clone shares active markets")
	}
}

func TestConfigEnterable(t *testing.T) {
	cfg := testConfig()
	cases := []struct {
		index    uint64
		maturity uint64
		want     bool
	}{
		{cfg.MaxDebtMarketIndex, maturity1, true},
		{cfg.MaxDebtMarketIndex, maturity2, true},
		{cfg.MaxDebtMarketIndex, maturity2 + 1, false},
		{1, maturity1, true},
		{1, maturity2, false},
	}
	for _, tc := range cases {
		cfg.MaxDebtMarketIndex = tc.index
		if got := cfg.Enterable(tc.maturity); got != tc.want {
			t.Fatalf("index %d maturity %d: enterable %v, want %v", tc.index, tc.maturity, got, tc.want)
		}
	}
}

func TestSettingsValidate(t *testing.T) {
	s := testSettings()
	if err := s.Validate(); err != nil {
		t.Fatalf("valid settings rejected: %v", err)
	}

	s.FeeBps = 10_001
	if err := s.Validate(); err == nil || !strings.Contains(err.Error(), "fee") {
		t.Fatalf("expected fee error, got %v", err)
	}

	s = testSettings()
	s.FeeReceiver = [20]byte{}
	if err := s.Validate(); err == nil {
		t.Fatalf("fee without receiver accepted")
	}
	s.FeeBps = 0
	if err := s.Validate(); err != nil {
		t.Fatalf("zero fee without receiver rejected: %v", err)
	}

	s.MaxUnderlyingSurplus = big.NewInt(-1)
	if err := s.Validate(); err == nil {
		t.Fatalf("negative surplus accepted")
	}
}

func TestStatusOf(t *testing.T) {
	m := &MaturityState{Maturity: maturity1}
	m.normalize()
	steps := []struct {
		mutate func()
		exists bool
		want   Status
	}{
		{func() {}, false, StatusPreActive},
		{func() {}, true, StatusPreActive},
		{func() { m.TotalVaultShares = big.NewInt(5) }, true, StatusActive},
		{func() { m.LastSettlement = 1 }, true, StatusSettling},
		{func() { m.IsSettled = true }, true, StatusSettled},
	}
	for i, step := range steps {
		step.mutate()
		if got := statusOf(m, step.exists); got != step.want {
			t.Fatalf("step %d: status %s, want %s", i, got, step.want)
		}
	}
	if got := StatusSettled.String(); got != "settled" {
		t.Fatalf("settled renders as %q", got)
	}
}

func TestKindOfWrappedSentinels(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{errors.Join(errors.New("context"), ErrSlippageExceeded), KindEconomic},
		{ErrReentrancy, KindAuthorization},
		{errors.New("plain"), KindUnknown},
		{nil, KindUnknown},
	}
	for _, tc := range cases {
		if got := KindOf(tc.err); got != tc.want {
			t.Fatalf("KindOf(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}
