package common

import (
	"context"
	"errors"
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

type pauses map[string]bool

func (p pauses) IsPaused(module string) bool { return p[module] }

func TestGuard(t *testing.T) {
	if err := Guard(nil, ModuleVaults); err != nil {
		t.Fatalf("nil view should pass: %v", err)
	}
	if err := Guard(pauses{ModuleVaults: true}, ModuleVaults); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected paused, got %v", err)
	}
	err := Guard(pauses{"trade": true}, "", ModuleVaults, "trade")
	if !errors.Is(err, ErrModulePaused) || err.Error() != "module paused: trade" {
		t.Fatalf("expected trade pause, got %v", err)
	}
	if err := Guard(pauses{"trade": true}, ModuleVaults); err != nil {
		t.Fatalf("unrelated pause blocked: %v", err)
	}
}

func TestEnterRejectsReentry(t *testing.T) {
	vault := ethcommon.HexToAddress("0x01")
	other := ethcommon.HexToAddress("0x02")
	alice := ethcommon.HexToAddress("0xa1")
	bob := ethcommon.HexToAddress("0xb1")

	ctx, frame, err := Enter(context.Background(), vault, alice, "op", false)
	if err != nil || frame.Nested() {
		t.Fatalf("top-level enter failed: %v", err)
	}
	if CurrentFrame(ctx) != frame {
		t.Fatalf("frame not carried by context")
	}
	if _, _, err := Enter(ctx, vault, bob, "op", false); !errors.Is(err, ErrReentrancy) {
		t.Fatalf("expected ErrReentrancy, got %v", err)
	}
	if _, f, err := Enter(ctx, other, alice, "op", false); err != nil || f.Nested() {
		t.Fatalf("different scope should be independent: %v", err)
	}
	if _, _, err := Enter(ctx, vault, alice, "op", true); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked, got %v", err)
	}
	_, nested, err := Enter(ctx, vault, bob, "op", true)
	if err != nil || !nested.Nested() {
		t.Fatalf("allowed re-entry for another account failed: %v", err)
	}
}
