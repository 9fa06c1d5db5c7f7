package core

// SaveOption configures Save operations using the functional options
// pattern.
type SaveOption func(*SaveOptions)

// SaveOptions contains configuration options for Save operations.
type SaveOptions struct {
	// Kind is the memory kind. Default: KindInteraction.
	Kind string

	// Owner is the logical partition key. Default: the engine's
	// configured default owner.
	Owner string

	// Metadata is the open key/value document stored with the record.
	Metadata map[string]interface{}

	// Importance overrides the computed importance score when set.
	Importance *float64

	// TTLDays sets an expiry deadline of now + TTLDays. Zero means the
	// record never expires.
	TTLDays int
}

// WithKind sets the memory kind for Save operations.
//
// Example:
//
//	id, _ := engine.Save(ctx, "likes dark mode", core.WithKind(core.KindUser))
func WithKind(kind string) SaveOption {
	return func(opts *SaveOptions) {
		opts.Kind = kind
	}
}

// WithOwner sets the owner for Save operations.
func WithOwner(owner string) SaveOption {
	return func(opts *SaveOptions) {
		opts.Owner = owner
	}
}

// WithMetadata sets metadata for Save operations.
//
// The metadata "type" field participates in importance scoring
// (preference, goal, relationship, error_pattern, security_critical).
//
// Example:
//
//	id, _ := engine.Save(ctx, "theme=dark",
//	    core.WithKind(core.KindUser),
//	    core.WithMetadata(map[string]interface{}{
//	        "type": "preference",
//	        "key":  "theme",
//	    }),
//	)
func WithMetadata(metadata map[string]interface{}) SaveOption {
	return func(opts *SaveOptions) {
		opts.Metadata = metadata
	}
}

// WithImportance overrides the computed importance score.
// The value is clamped to [0.0, 1.0].
func WithImportance(importance float64) SaveOption {
	return func(opts *SaveOptions) {
		opts.Importance = &importance
	}
}

// WithTTLDays sets the record to expire after the given number of days.
func WithTTLDays(days int) SaveOption {
	return func(opts *SaveOptions) {
		opts.TTLDays = days
	}
}

// SearchOption configures Search operations.
type SearchOption func(*SearchOptions)

// SearchOptions contains configuration options for Search operations.
type SearchOptions struct {
	// Kind filters results to one memory kind. Default: KindAll.
	Kind string

	// Owner scopes the search. Default: the engine's default owner.
	Owner string

	// Limit caps the number of results. Default: 10.
	Limit int

	// Semantic enables the delegate and vector sources. Default: true.
	Semantic bool
}

// WithKindFilter restricts Search to one memory kind.
//
// Example:
//
//	results, _ := engine.Search(ctx, "coffee", core.WithKindFilter(core.KindUser))
func WithKindFilter(kind string) SearchOption {
	return func(opts *SearchOptions) {
		opts.Kind = kind
	}
}

// WithOwnerForSearch scopes Search to one owner.
func WithOwnerForSearch(owner string) SearchOption {
	return func(opts *SearchOptions) {
		opts.Owner = owner
	}
}

// WithLimit caps the number of Search results.
func WithLimit(limit int) SearchOption {
	return func(opts *SearchOptions) {
		opts.Limit = limit
	}
}

// WithSemantic enables or disables the semantic sources (delegate query
// and vector scan). Keyword and cache sources always run.
func WithSemantic(semantic bool) SearchOption {
	return func(opts *SearchOptions) {
		opts.Semantic = semantic
	}
}

// applySaveOptions applies Save options over the defaults.
func (e *Engine) applySaveOptions(opts []SaveOption) *SaveOptions {
	options := &SaveOptions{
		Kind:  KindInteraction,
		Owner: e.cfg.Engine.DefaultOwner,
	}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// applySearchOptions applies Search options over the defaults.
func (e *Engine) applySearchOptions(opts []SearchOption) *SearchOptions {
	options := &SearchOptions{
		Kind:     KindAll,
		Owner:    e.cfg.Engine.DefaultOwner,
		Limit:    defaultSearchLimit,
		Semantic: true,
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.Limit <= 0 {
		options.Limit = defaultSearchLimit
	}
	return options
}
