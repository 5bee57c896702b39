package report

import (
	"encoding/json"
	"strconv"
	"strings"
)

// resolvePointer resolves an RFC 6901 JSON pointer against doc, returning
// its value as a plain string for CSV rendering. A missing token at any
// level (absent object key, out-of-range array index, or a token applied
// to a non-container value) resolves to "", not an error, per the report
// column law.
func resolvePointer(doc json.RawMessage, pointer string) string {
	if pointer == "" || pointer == "/" {
		return rawToString(doc)
	}
	if !strings.HasPrefix(pointer, "/") {
		return ""
	}

	tokens := strings.Split(pointer[1:], "/")
	current := doc
	for _, tok := range tokens {
		tok = unescapeToken(tok)
		next, ok := step(current, tok)
		if !ok {
			return ""
		}
		current = next
	}
	return rawToString(current)
}

func step(current json.RawMessage, token string) (json.RawMessage, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(current, &obj); err == nil {
		v, ok := obj[token]
		return v, ok
	}

	var arr []json.RawMessage
	if err := json.Unmarshal(current, &arr); err == nil {
		idx, err := strconv.Atoi(token)
		if err != nil || idx < 0 || idx >= len(arr) {
			return nil, false
		}
		return arr[idx], true
	}

	return nil, false
}

func unescapeToken(tok string) string {
	tok = strings.ReplaceAll(tok, "~1", "/")
	tok = strings.ReplaceAll(tok, "~0", "~")
	return tok
}

// rawToString renders a resolved JSON value as the string a CSV cell
// holds: unquoted for JSON strings, the literal text otherwise.
func rawToString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}
