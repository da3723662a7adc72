package entcache

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// They are called on read paths and from deferred units.
type Hooks interface {
	// A stored entry was deleted on read.
	// reason ∈ {"corrupt", "decode", "gen_mismatch"}
	SelfHeal(storageKey, reason string)

	// Provider returned ok=false on Set (backpressure/eviction).
	ProviderSetRejected(storageKey string)

	// GenStore errors (snapshot or bump) for a subject hash.
	GenSnapshotError(subject string, err error)
	GenBumpError(subject string, err error)

	// A deferred write was dropped because the subject generation moved
	// between compute and persist.
	StaleWriteSkipped(storageKey string)

	// Invalidate could not delete some associated keys or the record itself.
	InvalidateOutage(subject string, err error)

	// A deferred unit was collapsed into an already queued unit with the same fingerprint.
	DuplicateDropped(fingerprint, origin string)

	// A deferred unit returned an error or panicked. It is not retried.
	DeferredFailed(origin string, err error)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) SelfHeal(string, string)         {}
func (NopHooks) ProviderSetRejected(string)      {}
func (NopHooks) GenSnapshotError(string, error)  {}
func (NopHooks) GenBumpError(string, error)      {}
func (NopHooks) StaleWriteSkipped(string)        {}
func (NopHooks) InvalidateOutage(string, error)  {}
func (NopHooks) DuplicateDropped(string, string) {}
func (NopHooks) DeferredFailed(string, error)    {}
