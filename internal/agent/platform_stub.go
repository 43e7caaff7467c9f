//go:build !windows && !darwin

package agent

import (
	"log/slog"
	"os/exec"
)

// LinuxPlatform implements Platform using loginctl when available
type LinuxPlatform struct {
	logger *slog.Logger
}

// NewLinuxPlatform creates a new Linux platform implementation
func NewLinuxPlatform(logger *slog.Logger) *LinuxPlatform {
	return &LinuxPlatform{
		logger: logger.With("component", "platform-linux"),
	}
}

// LockWorkstation locks the active session via loginctl
func (p *LinuxPlatform) LockWorkstation() error {
	cmd := exec.Command("loginctl", "lock-session")
	if err := cmd.Run(); err != nil {
		p.logger.Error("failed to lock session", "error", err)
		return err
	}
	p.logger.Info("workstation locked")
	return nil
}

// ShowWarningNotification shows a desktop notification via notify-send
func (p *LinuxPlatform) ShowWarningNotification(title, message string) error {
	cmd := exec.Command("notify-send", "--urgency=critical", title, message)
	if err := cmd.Run(); err != nil {
		p.logger.Error("failed to show notification", "error", err)
		return err
	}
	return nil
}

// NewPlatform creates a new platform implementation for the current OS
func NewPlatform(logger *slog.Logger) Platform {
	return NewLinuxPlatform(logger)
}

// Ensure LinuxPlatform implements Platform
var _ Platform = (*LinuxPlatform)(nil)
