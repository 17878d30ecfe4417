package version

// Build metadata, set with -ldflags "-X github.com/downlinkdev/downlink/internal/version.Version=...".
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String returns the one-line version banner for a binary.
func String(binary string) string {
	return binary + " " + Version + " (commit " + Commit + ", built " + Date + ")"
}
