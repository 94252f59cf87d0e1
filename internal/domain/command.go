package domain

// CommandKind distinguishes the two bounty commands.
type CommandKind string

const (
	CommandAllocate CommandKind = "ALLOCATE"
	CommandRequest  CommandKind = "REQUEST"
)

// Command is a parsed bounty command. Amount is the decimal text exactly as
// written in the comment; it is normalised only when the command is applied.
type Command struct {
	Kind     CommandKind
	Amount   string
	Currency Currency
}
