package domain

// UserMapping binds a wallet address to an external identity, for
// example a Telegram user ID. Corresponds to the user_mappings table.
type UserMapping struct {
	Address    Address // wallet address, normalized
	ExternalID string  // external identity the address is bound to
	Banned     bool    // banned mappings refuse re-binding
	CreatedAt  int64   // record creation timestamp (ms)
}
