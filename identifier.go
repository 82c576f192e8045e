package authguard

import (
	"bytes"
	"encoding/json"
	"io"
	"maps"
	"mime"
	"net/http"
	"net/url"
	"slices"
	"strings"
)

// identifierFields are the body fields checked for a login identifier, in order
var identifierFields = []string{"email", "username", "identifier", "login"}

// readCloser restores a partially read body in front of the unread remainder
type readCloser struct {
	io.Reader
	io.Closer
}

// BodyIdentifierExtractor returns an extractor that reads the login identifier
// from a JSON or form-encoded body. At most maxBytes are inspected; larger
// bodies yield no identifier. The body is always restored for the next handler.
//
// Field names match case-insensitively, the way encoding/json binds struct
// fields. A missing or unrecognized Content-Type is tried as JSON and then
// as a form, since login handlers often decode the body regardless of it.
func BodyIdentifierExtractor(maxBytes int64) IdentifierExtractor {
	return func(r *http.Request) string {
		if r.Body == nil || r.Body == http.NoBody || maxBytes <= 0 {
			return ""
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxBytes+1))
		r.Body = readCloser{
			Reader: io.MultiReader(bytes.NewReader(body), r.Body),
			Closer: r.Body,
		}
		if err != nil || int64(len(body)) > maxBytes {
			return ""
		}

		mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
		switch mediaType {
		case "application/json":
			return identifierFromJSON(body)
		case "application/x-www-form-urlencoded":
			return identifierFromForm(body)
		default:
			if id := identifierFromJSON(body); id != "" {
				return id
			}
			return identifierFromForm(body)
		}
	}
}

func identifierFromJSON(body []byte) string {
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return ""
	}
	return lookupIdentifier(slices.Sorted(maps.Keys(fields)), func(key string) string {
		v, _ := fields[key].(string)
		return v
	})
}

func identifierFromForm(body []byte) string {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return ""
	}
	return lookupIdentifier(slices.Sorted(maps.Keys(values)), values.Get)
}

// lookupIdentifier walks identifierFields in priority order. An exact key
// wins over a case variant; keys must be sorted so case variants resolve
// the same way on every call.
func lookupIdentifier(keys []string, get func(string) string) string {
	for _, name := range identifierFields {
		if v := get(name); v != "" {
			return v
		}
		for _, key := range keys {
			if key != name && strings.EqualFold(key, name) {
				if v := get(key); v != "" {
					return v
				}
			}
		}
	}
	return ""
}
