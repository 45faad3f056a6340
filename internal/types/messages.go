package types

import "time"

// CrashMessage describes a unique crash that has already been written to disk.
type CrashMessage struct {
	CampaignID string
	Ordinal    uint32    // n in crash/tc-<n>
	CrashFile  string    // path to the crash file on local filesystem
	Signature  Signature // coverage signature that made it unique
	Size       int
	FoundAt    time.Time
}

type SeedMessage struct {
	CampaignID string
	SeedFile   string
}
