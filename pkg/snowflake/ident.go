package snowflake

import (
	"regexp"
	"strings"
)

// identPattern matches names safe to embed as SQL object identifiers.
// Object names cannot be bound as query parameters, so this is the sole
// injection defense for generated SQL.
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*$`)

// ValidateIdentifier validates a raw database/schema/table name and
// returns it uppercased so cache keys and lookups are case-insensitive.
// The label names the object class in the error message.
func ValidateIdentifier(label, name string) (string, error) {
	if !identPattern.MatchString(name) {
		return "", invalidIdentifierError(label, name)
	}
	return strings.ToUpper(name), nil
}
