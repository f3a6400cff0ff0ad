// Package normalize turns fetched content bodies into plain text for matching.
package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
)

// Format describes how a content body is encoded.
type Format int

const (
	// Raw is a byte body such as a repository file or an attachment.
	Raw Format = iota
	// Document is a JSON body: either a plain string or a rich document tree.
	Document
)

// ErrNotText marks content that cannot be matched as text.
var ErrNotText = errors.New("content is not text")

// NotTextError carries the detected media type of rejected content.
type NotTextError struct {
	MIME   string
	Reason string
}

// Error implements the error interface for NotTextError.
func (e *NotTextError) Error() string {
	return fmt.Sprintf("%s (%s, detected %s)", ErrNotText, e.Reason, e.MIME)
}

// Unwrap makes NotTextError match ErrNotText.
func (e *NotTextError) Unwrap() error { return ErrNotText }

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Normalize converts data in the given format to text.
func Normalize(data []byte, format Format) (string, error) {
	switch format {
	case Document:
		return DocumentText(data)
	default:
		return Bytes(data)
	}
}

// Bytes decodes data as UTF-8. Invalid UTF-8 or embedded NUL bytes yield a NotTextError.
func Bytes(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		return "", &NotTextError{MIME: mimetype.Detect(data).String(), Reason: "invalid UTF-8"}
	}
	if bytes.IndexByte(data, 0) >= 0 {
		return "", &NotTextError{MIME: mimetype.Detect(data).String(), Reason: "NUL bytes"}
	}
	return string(data), nil
}

// DocumentText extracts text from a JSON body. A JSON string is returned as is;
// an object or array is flattened by concatenating every "text" leaf depth-first
// with no separator.
func DocumentText(raw []byte) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}

	var node interface{}
	if err := json.Unmarshal(raw, &node); err != nil {
		return "", &NotTextError{MIME: "application/json", Reason: "malformed document: " + err.Error()}
	}
	if s, ok := node.(string); ok {
		return s, nil
	}

	var sb strings.Builder
	extract(node, &sb)
	return sb.String(), nil
}

// extract appends the text of node to sb. A node holding "text" contributes it
// and its children are not visited.
func extract(node interface{}, sb *strings.Builder) {
	switch n := node.(type) {
	case map[string]interface{}:
		if text, ok := n["text"]; ok {
			if s, ok := text.(string); ok {
				sb.WriteString(s)
			}
			return
		}
		if children, ok := n["content"]; ok {
			extract(children, sb)
		}
	case []interface{}:
		for _, child := range n {
			extract(child, sb)
		}
	}
}
