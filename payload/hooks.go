package payload

// Self-heal reasons passed to Hooks.SelfHeal.
const (
	HealCorrupt     = "corrupt"
	HealGenMismatch = "gen_mismatch"
	HealExpired     = "expired"
	HealDecode      = "value_decode"
)

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
type Hooks interface {
	// An entry was deleted by the cache on read. reason is one of the Heal* constants.
	SelfHeal(storageKey, reason string)
	// Provider returned ok=false on Set (backpressure/eviction).
	ProviderSetRejected(storageKey string)
	GenSnapshotError(storageKey string, err error)
	GenBumpError(storageKey string, err error)
	// Both gen bump and delete failed during Invalidate (likely backend outage).
	InvalidateOutage(key string, bumpErr, delErr error)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) SelfHeal(string, string)               {}
func (NopHooks) ProviderSetRejected(string)            {}
func (NopHooks) GenSnapshotError(string, error)        {}
func (NopHooks) GenBumpError(string, error)            {}
func (NopHooks) InvalidateOutage(string, error, error) {}
