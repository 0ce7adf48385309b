package relay

// Message classes. A target receives a message when its mask covers the
// message's class.
const (
	FlagEstimate = 1
	FlagWarning  = 2
	FlagSummary  = 4
	FlagReset    = 8

	FlagAll = FlagEstimate | FlagWarning | FlagSummary | FlagReset
)

// tagLen is the width of the message tag ("display:", "warning:", ...).
// The three bytes after it carry the decimal message length.
const tagLen = 8
