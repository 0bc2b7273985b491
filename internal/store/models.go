package store

import "time"

// Settings sections and keys used by the launcher.
const (
	SectionGame = "game"
	SectionUser = "user"
	SectionAuth = "auth"

	KeyFirstStart        = "first_start"
	KeyAutoJoin          = "autojoin"
	KeyRAMJVMArgs        = "ram_jvm_args"
	KeyAdditionalJVMArgs = "additional_jvm_args"
	KeyEnvironment       = "environment"
	KeyEmail             = "email"
)

// Install run statuses.
const (
	RunRunning   = "running"
	RunSuccess   = "success"
	RunFailed    = "failed"
	RunCancelled = "cancelled"
)

// InstallRun records one orchestration run.
type InstallRun struct {
	ID           string
	StartedAt    time.Time
	EndedAt      time.Time
	State        string // last orchestrator state reached
	Status       string
	Variant      string
	VersionID    string
	FilesSynced  int
	ErrorMessage string
}

// SyncedFile is a local file written by content sync.
type SyncedFile struct {
	Path     string // relative to the work dir
	SyncPath string // remote prefix that produced it
	Size     int64
	RunID    string
	SyncedAt time.Time
}

// Setting is one stored key with its raw JSON value.
type Setting struct {
	Section   string
	Key       string
	Value     string
	UpdatedAt time.Time
}
