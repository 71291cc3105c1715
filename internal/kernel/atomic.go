// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package kernel

import (
	"os"
	"os/exec"
	"strings"

	"forwardkit.dev/smartforward/internal/errors"
)

// applyScript feeds script to `nft -f -`, applying every statement in one
// atomic transaction.
func applyScript(script string) error {
	cmd := exec.Command("nft", "-f", "-")
	cmd.Stdin = strings.NewReader(script)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, errors.KindKernelApply, "kernel: nft apply failed: %s", string(output))
	}
	return nil
}

// validateScript checks script without applying it (`nft -c`).
func validateScript(script string) error {
	cmd := exec.Command("nft", "-c", "-f", "-")
	cmd.Stdin = strings.NewReader(script)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, errors.KindKernelApply, "kernel: nft validate failed: %s", string(output))
	}
	return nil
}

// backupRuleset saves the full current ruleset to path, for rollback.
func backupRuleset(path string) error {
	output, err := exec.Command("nft", "list", "ruleset").Output()
	if err != nil {
		return errors.Wrapf(err, errors.KindKernelApply, "kernel: list ruleset failed")
	}
	return os.WriteFile(path, output, 0o644)
}

// restoreRuleset replaces the live ruleset with the one saved at path.
func restoreRuleset(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, errors.KindKernelApply, "kernel: read backup failed")
	}
	if err := exec.Command("nft", "flush", "ruleset").Run(); err != nil {
		return errors.Wrapf(err, errors.KindKernelApply, "kernel: flush ruleset failed")
	}
	cmd := exec.Command("nft", "-f", "-")
	cmd.Stdin = strings.NewReader(string(data))
	if output, err := cmd.CombinedOutput(); err != nil {
		return errors.Wrapf(err, errors.KindKernelApply, "kernel: restore ruleset failed: %s", string(output))
	}
	return nil
}

// rollbackManager snapshots the ruleset before a risky apply and restores it
// if the apply fails, so a malformed reconciliation never leaves the host
// mid-transition.
type rollbackManager struct {
	backupPath string
	hasBackup  bool
}

func newRollbackManager(backupPath string) *rollbackManager {
	return &rollbackManager{backupPath: backupPath}
}

func (r *rollbackManager) saveCheckpoint() error {
	if err := backupRuleset(r.backupPath); err != nil {
		return err
	}
	r.hasBackup = true
	return nil
}

func (r *rollbackManager) rollback() error {
	if !r.hasBackup {
		return errors.New(errors.KindKernelApply, "kernel: no checkpoint saved")
	}
	return restoreRuleset(r.backupPath)
}

func (r *rollbackManager) cleanup() {
	if r.hasBackup {
		os.Remove(r.backupPath)
		r.hasBackup = false
	}
}

// safeApply runs applyFn, rolling the ruleset back to the last checkpoint if
// it fails.
func (r *rollbackManager) safeApply(applyFn func() error) error {
	if err := r.saveCheckpoint(); err != nil {
		return errors.Wrap(err, errors.KindKernelApply, "kernel: save checkpoint failed")
	}
	if err := applyFn(); err != nil {
		if rbErr := r.rollback(); rbErr != nil {
			return errors.Wrapf(rbErr, errors.KindKernelApply, "kernel: apply failed (%v) and rollback also failed", err)
		}
		return errors.Wrapf(err, errors.KindKernelApply, "kernel: apply failed, rolled back")
	}
	r.cleanup()
	return nil
}
