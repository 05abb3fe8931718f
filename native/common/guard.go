// Package common holds the pause and reentrancy guards shared by the vault
// engine and its collaborators.
package common

import (
	"errors"
	"fmt"
	"strings"
)

// ErrModulePaused is wrapped by Guard when any of the checked modules is
// paused.
var ErrModulePaused = errors.New("module paused")

// ModuleVaults is the pause key consulted by every vault entry point.
const ModuleVaults = "vaults"

// PauseView reports pause switches by module name.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard fails with ErrModulePaused naming the first paused module. Blank
// module names and a nil view never block.
func Guard(p PauseView, modules ...string) error {
	if p == nil {
		return nil
	}
	for _, module := range modules {
		module = strings.TrimSpace(module)
		if module != "" && p.IsPaused(module) {
			return fmt.Errorf("%w: %s", ErrModulePaused, module)
		}
	}
	return nil
}
