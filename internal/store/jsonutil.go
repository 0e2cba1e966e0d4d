package store

import (
	"encoding/json"
	"log"
)

// decodeJSONDefault parses src into dst. Malformed JSON never surfaces as an
// error to the caller — it logs a warning and leaves dst at the provided
// default instead, since a single corrupted metadata blob should not block
// an otherwise valid row from loading.
func decodeJSONDefault(field, src string, dst interface{}) {
	if src == "" {
		return
	}
	if err := json.Unmarshal([]byte(src), dst); err != nil {
		log.Printf("[STORE] warning: malformed JSON in field %q, using default: %v", field, err)
	}
}

func encodeJSON(v interface{}) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		log.Printf("[STORE] warning: failed to encode JSON: %v", err)
		return ""
	}
	return string(b)
}

// likeEscape escapes LIKE metacharacters so substring search never lets a
// caller-supplied "%" or "_" change the query's matching semantics.
// Callers must pair this with `ESCAPE '\'` in the query.
func likeEscape(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\\' || c == '%' || c == '_' {
			out = append(out, '\\')
		}
		out = append(out, c)
	}
	return string(out)
}
