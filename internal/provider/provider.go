package provider

import "context"

// Interface is the contract a provider implements for the resource types
// it owns. Calls are blocking; implementations must honor ctx
// cancellation and are expected to be safe for concurrent use, since the
// apply scheduler runs independent resources in parallel.
type Interface interface {
	// Name returns the provider's registry name.
	Name() string

	// Schema describes one resource type: which attributes force
	// replacement and how replacements are ordered.
	Schema(typ string) (TypeSchema, error)

	// Create provisions a new resource and returns its identifier plus
	// the full provider-side attribute set.
	Create(ctx context.Context, typ string, attrs map[string]any) (string, map[string]any, error)

	// Read fetches the current attributes of an existing resource.
	// A vanished resource yields a NotFoundError.
	Read(ctx context.Context, typ, id string) (map[string]any, error)

	// Update mutates an existing resource in place and returns the
	// refreshed attribute set.
	Update(ctx context.Context, typ, id string, attrs map[string]any) (map[string]any, error)

	// Delete destroys a resource. Deleting an already-absent resource
	// is not an error.
	Delete(ctx context.Context, typ, id string) error
}

// TypeSchema declares the planning-relevant properties of a resource type.
type TypeSchema struct {
	Type string
	// Immutable lists attributes that cannot change in place; a diff in
	// any of them upgrades an update to a replacement.
	Immutable []string
	// CreateBeforeDestroy orders replacements create-first by default.
	// Declarations can override it per resource.
	CreateBeforeDestroy bool
}

// ForcesReplacement reports whether a change to attr requires replacing
// the resource.
func (s TypeSchema) ForcesReplacement(attr string) bool {
	for _, name := range s.Immutable {
		if name == attr {
			return true
		}
	}
	return false
}
