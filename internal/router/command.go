package router

// Command is the closed set of mutations accepted by the executor. Touch
// displays and the voice processor both build these; there is no other
// mutation path. The sealed interface keeps the executor switch exhaustive.
type Command interface {
	Action() string
	sealed()
}

// Start moves one routing record from new to preparing.
type Start struct {
	RoutingID uint
}

// Bump marks one routing record ready.
type Bump struct {
	RoutingID uint
}

// Recall reverts one ready routing record to preparing.
type Recall struct {
	RoutingID uint
}

// StartOrder starts every new routing record of an order.
type StartOrder struct {
	OrderNumber int
}

// BumpOrder bumps every outstanding routing record of an order.
type BumpOrder struct {
	OrderNumber int
}

// RecallOrder recalls every ready routing record of an order.
type RecallOrder struct {
	OrderNumber int
}

// BumpTable bumps every non-terminal routing record for a table.
type BumpTable struct {
	TableNumber string
}

// BumpAll bumps every outstanding routing record in the kitchen. Issued by
// expo at close-out; resolved from the voice target "all".
type BumpAll struct{}

// SetPriority changes one routing record's priority level.
type SetPriority struct {
	RoutingID uint
	Level     int
}

// SetOrderPriority changes priority on an order and all its routing records.
type SetOrderPriority struct {
	OrderNumber int
	Level       int
}

// Archive moves a fully-ready order to the archived terminal state. Issued
// by expo after pickup confirmation.
type Archive struct {
	OrderNumber int
}

func (Start) Action() string            { return "start" }
func (Bump) Action() string             { return "bump" }
func (Recall) Action() string           { return "recall" }
func (StartOrder) Action() string       { return "start" }
func (BumpOrder) Action() string        { return "bump" }
func (RecallOrder) Action() string      { return "recall" }
func (BumpTable) Action() string        { return "bump_table" }
func (BumpAll) Action() string          { return "bump_all" }
func (SetPriority) Action() string      { return "set_priority" }
func (SetOrderPriority) Action() string { return "set_priority" }
func (Archive) Action() string          { return "archive" }

func (Start) sealed()            {}
func (Bump) sealed()             {}
func (Recall) sealed()           {}
func (StartOrder) sealed()       {}
func (BumpOrder) sealed()        {}
func (RecallOrder) sealed()      {}
func (BumpTable) sealed()        {}
func (BumpAll) sealed()          {}
func (SetPriority) sealed()      {}
func (SetOrderPriority) sealed() {}
func (Archive) sealed()          {}

// ItemError reports one failed id inside a batch command.
type ItemError struct {
	ID     uint   `json:"id"`
	Reason string `json:"reason"`
}

// Result is what every command execution returns, success or not.
type Result struct {
	Success       bool        `json:"success"`
	AffectedCount int         `json:"affected_count"`
	Errors        []ItemError `json:"errors,omitempty"`
	Feedback      string      `json:"feedback"`
}

// Actor identifies who issued a command and through which surface.
type Actor struct {
	ID         string
	Role       string
	Source     string
	Transcript string
	Confidence float64
}
