package app

import "github.com/google/uuid"

func newID() string {
	return uuid.NewString()
}

// canonicalIDs rewrites well-formed UUIDs in their lower-case hyphenated
// form, the way the database renders them. Anything else is kept verbatim
// and later reported as missing. A nil slice stays nil.
func canonicalIDs(ids []string) []string {
	if ids == nil {
		return nil
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		if parsed, err := uuid.Parse(id); err == nil {
			out[i] = parsed.String()
			continue
		}
		out[i] = id
	}
	return out
}
