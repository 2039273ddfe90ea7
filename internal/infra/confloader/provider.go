package confloader

import (
	"errors"

	"github.com/knadh/koanf/maps"
)

// mapProvider is a koanf provider over a map whose keys may be dotted
// paths.
type mapProvider map[string]any

func (m mapProvider) ReadBytes() ([]byte, error) {
	return nil, errors.New("confloader: map provider has no byte form")
}

func (m mapProvider) Read() (map[string]any, error) {
	return maps.Unflatten(m, "."), nil
}
