package store

import "github.com/atlas-desktop/sector-deliberation-engine/internal/errs"

// Identifiable is implemented by every entity kept in a named
// collection, so the repository helpers below can find/replace/delete
// by id without per-entity boilerplate.
type Identifiable interface {
	GetID() string
}

// List returns every item currently in the named collection.
func List[T Identifiable](s *KeyedStore, name string) ([]T, error) {
	return ReadCollection[[]T](s, name)
}

// FindByID returns the item with the given id, or ok=false.
func FindByID[T Identifiable](s *KeyedStore, name, id string) (T, bool, error) {
	items, err := List[T](s, name)
	var zero T
	if err != nil {
		return zero, false, err
	}
	for _, item := range items {
		if item.GetID() == id {
			return item, true, nil
		}
	}
	return zero, false, nil
}

// Upsert atomically replaces the item with the same id, or appends it
// if none exists, inside a single writeCollection.
func Upsert[T Identifiable](s *KeyedStore, name string, item T) (T, error) {
	_, err := WriteCollection(s, name, func(items []T) ([]T, error) {
		for i, existing := range items {
			if existing.GetID() == item.GetID() {
				items[i] = item
				return items, nil
			}
		}
		return append(items, item), nil
	})
	return item, err
}

// Append adds item unconditionally (used for append-only collections
// like executionLogs), capping the collection at maxLen newest entries
// when maxLen > 0.
func Append[T Identifiable](s *KeyedStore, name string, item T, maxLen int) error {
	_, err := WriteCollection(s, name, func(items []T) ([]T, error) {
		items = append(items, item)
		if maxLen > 0 && len(items) > maxLen {
			items = items[len(items)-maxLen:]
		}
		return items, nil
	})
	return err
}

// Mutate atomically loads the item with id, applies fn, and persists
// the result. Returns errs.NotFound if no such item exists.
func Mutate[T Identifiable](s *KeyedStore, name, id string, fn func(T) (T, error)) (T, error) {
	var zero T
	result, err := WriteCollection(s, name, func(items []T) ([]T, error) {
		for i, existing := range items {
			if existing.GetID() == id {
				updated, err := fn(existing)
				if err != nil {
					return nil, err
				}
				items[i] = updated
				return items, nil
			}
		}
		return nil, errs.NotFound("entity_not_found")
	})
	if err != nil {
		return zero, err
	}
	for _, item := range result {
		if item.GetID() == id {
			return item, nil
		}
	}
	return zero, errs.NotFound("entity_not_found")
}

// DeleteByID removes the item with id, no-op if absent.
func DeleteByID[T Identifiable](s *KeyedStore, name, id string) error {
	_, err := WriteCollection(s, name, func(items []T) ([]T, error) {
		out := make([]T, 0, len(items))
		for _, item := range items {
			if item.GetID() != id {
				out = append(out, item)
			}
		}
		return out, nil
	})
	return err
}
