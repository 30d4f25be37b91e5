package oauth

import (
	"fmt"
	"slices"
	"strings"

	"github.com/bobmcallan/passage/internal/models"
)

// ParseScope splits a raw scope parameter on spaces and commas and validates it.
func ParseScope(raw string) ([]models.Scope, error) {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ' ' || r == ','
	})
	return ValidateScopes(fields)
}

// ValidateScopes checks every requested scope against models.KnownScopes.
// The result keeps request order with duplicates removed. An empty request
// or an unknown entry fails with KindInvalidScope naming the first bad token.
func ValidateScopes(requested []string) ([]models.Scope, error) {
	if len(requested) == 0 {
		return nil, newError(KindInvalidScope, "validate_scope", "at least one scope is required")
	}

	scopes := make([]models.Scope, 0, len(requested))
	for _, raw := range requested {
		s := models.Scope(raw)
		if !slices.Contains(models.KnownScopes, s) {
			return nil, newError(KindInvalidScope, "validate_scope", fmt.Sprintf("unknown scope %q", raw))
		}
		if !slices.Contains(scopes, s) {
			scopes = append(scopes, s)
		}
	}
	return scopes, nil
}
