package event

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// SchemaVersion is stamped on every produced envelope.
const SchemaVersion = "1.0.0"

// compiledMajor is the MAJOR version this build understands. Envelopes with
// any MINOR or PATCH under the same MAJOR are accepted; other MAJORs are
// rejected and the message is not processed.
const compiledMajor = 1

// ErrIncompatibleSchema marks an envelope from an incompatible MAJOR version.
var ErrIncompatibleSchema = errors.New("incompatible schema version")

// CheckVersion validates an envelope's schema_version against the compiled
// MAJOR. Malformed versions are treated as incompatible.
func CheckVersion(v string) error {
	major, err := majorOf(v)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrIncompatibleSchema, v)
	}
	if major != compiledMajor {
		return fmt.Errorf("%w: %q (compiled for %d.x)", ErrIncompatibleSchema, v, compiledMajor)
	}
	return nil
}

func majorOf(v string) (int, error) {
	parts := strings.SplitN(v, ".", 3)
	if len(parts) != 3 {
		return 0, fmt.Errorf("not a semver: %q", v)
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil || major < 0 {
		return 0, fmt.Errorf("bad major in %q", v)
	}
	return major, nil
}
