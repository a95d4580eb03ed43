// Package masking redacts credentials from engine-supplied text before it
// reaches the session timeline, the live feed or crawl history.
package masking

// Masker is the interface for code-based maskers that need structural
// awareness beyond regex pattern matching.
type Masker interface {
	// Name returns the unique identifier for this masker.
	Name() string

	// AppliesTo performs a lightweight check on whether this masker
	// should process the data. Should be fast (string contains, not parsing).
	AppliesTo(data string) bool

	// Mask applies masking logic and returns the masked result.
	// Returns the original data when nothing matched.
	Mask(data string) string
}
