package types

// Event represents a structured state change emitted by the escrow engine for
// external consumers (indexers, webhooks, notification layers).
type Event struct {
	Type       string
	Attributes map[string]string
}
