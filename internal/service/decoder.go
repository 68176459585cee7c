package service

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/golang/gddo/httputil/header"
)

const (
	mediaJSON     = "application/json"
	mediaTextJSON = "text/json"
	mediaForm     = "application/x-www-form-urlencoded"
)

// DecodeBody turns a request payload into a structured value when contentType
// names a recognized format: JSON objects/arrays and url-encoded forms. Any
// other content type, an empty payload or a parse failure yields (nil, false).
// It never returns an error.
func DecodeBody(contentType string, raw []byte) (any, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, false
	}
	switch mt := mediaType(contentType); {
	case isJSON(mt):
		return decodeJSON(raw)
	case mt == mediaForm:
		return decodeForm(raw)
	default:
		return nil, false
	}
}

// mediaType returns the lower-cased media type without parameters.
func mediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	h := http.Header{"Content-Type": []string{contentType}}
	value, _ := header.ParseValueAndParams(h, "Content-Type")
	return strings.ToLower(value)
}

func isJSON(mt string) bool {
	return mt == mediaJSON || mt == mediaTextJSON || strings.HasSuffix(mt, "+json")
}

func decodeJSON(raw []byte) (any, bool) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	switch v.(type) {
	case map[string]any, []any:
		return v, true
	default:
		// scalars carry no structure worth showing
		return nil, false
	}
}

func decodeForm(raw []byte) (any, bool) {
	values, err := url.ParseQuery(string(raw))
	if err != nil || len(values) == 0 {
		return nil, false
	}
	out := make(map[string]any, len(values))
	for k, vs := range values {
		if len(vs) == 1 {
			out[k] = vs[0]
			continue
		}
		out[k] = vs
	}
	return out, true
}
