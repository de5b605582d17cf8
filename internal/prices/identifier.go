package prices

import (
	"fmt"
	"strconv"
	"strings"

	"goflare.io/pricekeeper/internal/models"
)

// Kind distinguishes store applications from packages.
type Kind int

const (
	KindApp Kind = iota
	KindPackage
)

const packagePrefix = "sub_"

func (k Kind) String() string {
	if k == KindPackage {
		return "package"
	}
	return "app"
}

// Identifier is a validated store item identifier.
type Identifier struct {
	Kind Kind
	ID   uint64
}

// ParseIdentifier accepts "<n>" for applications and "sub_<n>" for packages,
// where n is a positive decimal integer.
func ParseIdentifier(raw string) (Identifier, error) {
	s := strings.TrimSpace(raw)
	kind := KindApp
	if rest, ok := strings.CutPrefix(s, packagePrefix); ok {
		kind = KindPackage
		s = rest
	}

	if s == "" || strings.TrimLeft(s, "0123456789") != "" {
		return Identifier{}, fmt.Errorf("%w: %q", models.ErrInvalidIdentifier, raw)
	}
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return Identifier{}, fmt.Errorf("%w: %q", models.ErrInvalidIdentifier, raw)
	}
	return Identifier{Kind: kind, ID: id}, nil
}

// String returns the canonical form.
func (id Identifier) String() string {
	if id.Kind == KindPackage {
		return packagePrefix + strconv.FormatUint(id.ID, 10)
	}
	return strconv.FormatUint(id.ID, 10)
}
