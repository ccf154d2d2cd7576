package storage

import (
	"fmt"

	"clanhall/src/models"
)

// counterColumn maps a counter to its column. Counter names double as column
// names, so only the known counters pass.
func counterColumn(counter models.Counter) (string, error) {
	if !counter.Valid() {
		return "", fmt.Errorf("unknown counter %q", counter)
	}
	return string(counter), nil
}
