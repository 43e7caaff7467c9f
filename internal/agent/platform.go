package agent

// Platform abstracts OS-specific operations for workstation control.
// This allows testing on other platforms with mock implementations.
type Platform interface {
	// LockWorkstation locks the workstation
	LockWorkstation() error

	// ShowWarningNotification displays a notification to the user
	ShowWarningNotification(title, message string) error
}
