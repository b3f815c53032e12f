package webhooks

import (
	"bytes"
	"encoding/json"
	"mime"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/goliatone/go-connectors/core"
)

var binaryMediaTypes = map[string]struct{}{
	"application/octet-stream": {},
	"application/binary":       {},
	"application/pdf":          {},
	"application/zip":          {},
	"application/gzip":         {},
	"application/x-tar":        {},
	"application/x-protobuf":   {},
	"application/protobuf":     {},
	"application/msgpack":      {},
}

var binaryMediaPrefixes = []string{"image/", "audio/", "video/", "font/", "multipart/"}

var textMediaTypes = map[string]struct{}{
	"application/xml":        {},
	"application/javascript": {},
	"application/graphql":    {},
	"application/yaml":       {},
	"application/x-yaml":     {},
	"application/x-ndjson":   {},
}

// DecodeBody dispatches on the content type. JSON types decode to a tree,
// form bodies to a flat map and other text types to JSON when possible or
// the raw string otherwise. Binary and unknown application types are
// rejected whatever the payload bytes are.
func DecodeBody(contentType string, raw []byte) (any, error) {
	mediaType := mediaTypeOf(contentType)
	switch {
	case isBinaryMediaType(mediaType):
		return nil, core.NewUnsupportedBodyError(mediaType)
	case len(bytes.TrimSpace(raw)) == 0:
		return map[string]any{}, nil
	case isJSONMediaType(mediaType):
		var body any
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, core.NewBadBodyError(err)
		}
		return body, nil
	case mediaType == "application/x-www-form-urlencoded":
		values, err := url.ParseQuery(string(raw))
		if err != nil {
			return nil, core.NewBadBodyError(err)
		}
		return flattenValues(values), nil
	case isTextMediaType(mediaType):
		return bestEffort(raw), nil
	case mediaType == "" && utf8.Valid(raw):
		return bestEffort(raw), nil
	default:
		return nil, core.NewUnsupportedBodyError(mediaType)
	}
}

func mediaTypeOf(contentType string) string {
	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType, _, _ = strings.Cut(contentType, ";")
	}
	return strings.ToLower(strings.TrimSpace(mediaType))
}

func isJSONMediaType(mediaType string) bool {
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

func isTextMediaType(mediaType string) bool {
	if strings.HasPrefix(mediaType, "text/") || strings.HasSuffix(mediaType, "+xml") {
		return true
	}
	_, ok := textMediaTypes[mediaType]
	return ok
}

func isBinaryMediaType(mediaType string) bool {
	if _, ok := binaryMediaTypes[mediaType]; ok {
		return true
	}
	for _, prefix := range binaryMediaPrefixes {
		if strings.HasPrefix(mediaType, prefix) {
			return true
		}
	}
	return false
}

func bestEffort(raw []byte) any {
	var body any
	if err := json.Unmarshal(raw, &body); err == nil {
		return body
	}
	return string(raw)
}

func flattenValues(values url.Values) map[string]any {
	out := make(map[string]any, len(values))
	for key, entries := range values {
		switch len(entries) {
		case 0:
			out[key] = ""
		case 1:
			out[key] = entries[0]
		default:
			list := make([]any, 0, len(entries))
			for _, entry := range entries {
				list = append(list, entry)
			}
			out[key] = list
		}
	}
	return out
}
