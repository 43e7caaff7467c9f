//go:build windows

package agent

import (
	"errors"
	"log/slog"
	"syscall"
)

// WindowsPlatform implements Platform for Windows
type WindowsPlatform struct {
	logger *slog.Logger
}

// NewWindowsPlatform creates a new Windows platform implementation
func NewWindowsPlatform(logger *slog.Logger) *WindowsPlatform {
	return &WindowsPlatform{
		logger: logger.With("component", "platform"),
	}
}

var ErrLockFailed = errors.New("LockWorkStation failed")

// LockWorkstation locks the Windows workstation using user32.dll
func (p *WindowsPlatform) LockWorkstation() error {
	user32 := syscall.NewLazyDLL("user32.dll")
	lockWorkStation := user32.NewProc("LockWorkStation")

	ret, _, err := lockWorkStation.Call()
	if ret == 0 {
		// LockWorkStation returns 0 on failure
		p.logger.Error("failed to lock workstation", "error", err)
		return ErrLockFailed
	}

	p.logger.Info("workstation locked")
	return nil
}

// ShowWarningNotification logs the announcement. A native toast would
// need PowerShell or a toast library; the lock itself is the real signal.
func (p *WindowsPlatform) ShowWarningNotification(title, message string) error {
	p.logger.Warn("prayer announcement",
		"title", title,
		"message", message,
	)
	return nil
}

// NewPlatform creates a new platform implementation for the current OS
func NewPlatform(logger *slog.Logger) Platform {
	return NewWindowsPlatform(logger)
}

// Ensure WindowsPlatform implements Platform
var _ Platform = (*WindowsPlatform)(nil)
