//go:build darwin

package agent

import (
	"log/slog"
	"os/exec"
)

// DarwinPlatform implements Platform for macOS
type DarwinPlatform struct {
	logger *slog.Logger
}

// NewDarwinPlatform creates a new macOS platform implementation
func NewDarwinPlatform(logger *slog.Logger) *DarwinPlatform {
	return &DarwinPlatform{
		logger: logger.With("component", "platform-darwin"),
	}
}

// LockWorkstation locks the macOS session via the screensaver engine
func (p *DarwinPlatform) LockWorkstation() error {
	cmd := exec.Command("open", "-a", "ScreenSaverEngine")
	if err := cmd.Run(); err != nil {
		p.logger.Error("failed to start screensaver", "error", err)
		return err
	}
	p.logger.Info("workstation locked")
	return nil
}

// ShowWarningNotification shows a macOS notification via osascript
func (p *DarwinPlatform) ShowWarningNotification(title, message string) error {
	script := `display notification "` + message + `" with title "` + title + `"`
	cmd := exec.Command("osascript", "-e", script)
	if err := cmd.Run(); err != nil {
		p.logger.Error("failed to show notification", "error", err)
		return err
	}
	return nil
}

// NewPlatform creates a new platform implementation for the current OS
func NewPlatform(logger *slog.Logger) Platform {
	return NewDarwinPlatform(logger)
}

// Ensure DarwinPlatform implements Platform
var _ Platform = (*DarwinPlatform)(nil)
