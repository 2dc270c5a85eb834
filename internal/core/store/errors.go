package store

import "errors"

var (
	// ErrEntityCapacity is returned when creating an entity would exceed the
	// store's fixed entity ceiling.
	ErrEntityCapacity = errors.New("entity capacity reached")

	// ErrComponentCapacity is returned when declaring a component would exceed
	// the store's fixed component-type ceiling.
	ErrComponentCapacity = errors.New("component capacity reached")

	// ErrEntityNotFound is returned by writes that name an entity the store
	// does not hold. Reads never return it; they return the null sentinel.
	ErrEntityNotFound = errors.New("entity not found")

	// ErrLengthMismatch is returned by batch operations whose component and
	// value slices differ in length. Nothing is written.
	ErrLengthMismatch = errors.New("component and value counts differ")

	// ErrExplicitCreate is returned when an attach names an unknown entity and
	// the store was built with ExplicitCreate. The entity factory is then the
	// only creation path.
	ErrExplicitCreate = errors.New("implicit entity creation disabled")
)
