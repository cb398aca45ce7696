package codec

import (
	"encoding/xml"
	"errors"
	"fmt"
	"mime"
	"strings"

	"github.com/goccy/go-json"
)

// Content types produced by the serializers in this package.
const (
	ContentTypeJSON = "application/json"
	ContentTypeXML  = "application/xml"
)

// ErrUnsupportedContentType is returned by Deserialize when the content type
// has no decoder.
var ErrUnsupportedContentType = errors.New("codec: unsupported content type")

// Serializer encodes request bodies and decodes response bodies.
type Serializer interface {
	// Serialize encodes v and returns the content type of the encoding.
	Serialize(v any) ([]byte, string, error)

	// Deserialize decodes data into target. contentType is the value of the
	// response Content-Type header and may carry parameters.
	Deserialize(data []byte, contentType string, target any) error
}

var (
	// JSON encodes with goccy/go-json.
	JSON Serializer = jsonSerializer{}

	// XML encodes with encoding/xml.
	XML Serializer = xmlSerializer{}

	// Default serializes as JSON and dispatches decoding on the content type.
	Default Serializer = defaultSerializer{}
)

type jsonSerializer struct{}

func (jsonSerializer) Serialize(v any) ([]byte, string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, "", fmt.Errorf("codec: encode json: %w", err)
	}
	return data, ContentTypeJSON, nil
}

func (jsonSerializer) Deserialize(data []byte, _ string, target any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("codec: decode json: %w", err)
	}
	return nil
}

type xmlSerializer struct{}

func (xmlSerializer) Serialize(v any) ([]byte, string, error) {
	data, err := xml.Marshal(v)
	if err != nil {
		return nil, "", fmt.Errorf("codec: encode xml: %w", err)
	}
	return data, ContentTypeXML, nil
}

func (xmlSerializer) Deserialize(data []byte, _ string, target any) error {
	if len(data) == 0 {
		return nil
	}
	if err := xml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("codec: decode xml: %w", err)
	}
	return nil
}

type defaultSerializer struct{}

func (defaultSerializer) Serialize(v any) ([]byte, string, error) {
	return JSON.Serialize(v)
}

func (defaultSerializer) Deserialize(data []byte, contentType string, target any) error {
	switch Kind(contentType) {
	case "xml":
		return XML.Deserialize(data, contentType, target)
	case "json", "":
		// Servers that omit Content-Type are assumed to speak JSON.
		return JSON.Deserialize(data, contentType, target)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedContentType, contentType)
	}
}

// Kind classifies a content type as "json", "xml", "" (absent) or the bare
// media type for anything else. Structured syntax suffixes are honored, so
// "application/problem+json" is "json" and "application/atom+xml" is "xml".
func Kind(contentType string) string {
	if strings.TrimSpace(contentType) == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	}

	switch {
	case mediaType == "application/json", mediaType == "text/json", strings.HasSuffix(mediaType, "+json"):
		return "json"
	case mediaType == "application/xml", mediaType == "text/xml", strings.HasSuffix(mediaType, "+xml"):
		return "xml"
	default:
		return mediaType
	}
}
