package export

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/timmy/catalogsync/internal/payload"
	"golang.org/x/net/html/charset"
)

// document is a parsed export. declared is -1 when the export carries no count.
type document struct {
	declared int
	items    []json.RawMessage
}

func parseJSON(body []byte, countField, itemsField string) (*document, error) {
	doc := &document{declared: -1}

	raw, ok := payload.RawLookup(body, itemsField)
	if !ok {
		return nil, fmt.Errorf("item list %q not found", itemsField)
	}
	if err := json.Unmarshal(raw, &doc.items); err != nil {
		return nil, fmt.Errorf("item list %q: %w", itemsField, err)
	}

	if countField != "" {
		if rawCount, ok := payload.RawLookup(body, countField); ok {
			n, err := parseCount(strings.Trim(string(rawCount), `"`))
			if err != nil {
				return nil, fmt.Errorf("declared count %q: %w", countField, err)
			}
			doc.declared = n
		}
	}
	return doc, nil
}

// parseXML reads the direct children of the root named itemElement and turns
// each into a JSON object. The declared count is read from a root attribute
// or a root child element named countField. Non UTF-8 encodings declared in
// the prolog (EUC-KR exports are common) are transcoded.
func parseXML(body []byte, countField, itemElement string) (*document, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	dec.CharsetReader = charset.NewReaderLabel

	root, err := nextStart(dec)
	if err != nil {
		return nil, err
	}

	doc := &document{declared: -1}
	for _, attr := range root.Attr {
		if attr.Name.Local == countField {
			if doc.declared, err = parseCount(attr.Value); err != nil {
				return nil, fmt.Errorf("declared count attribute %q: %w", countField, err)
			}
		}
	}

	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("unterminated root element: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			value, err := decodeElement(dec, t)
			if err != nil {
				return nil, err
			}
			switch t.Name.Local {
			case itemElement:
				raw, err := json.Marshal(value)
				if err != nil {
					return nil, err
				}
				doc.items = append(doc.items, raw)
			case countField:
				text, _ := value.(string)
				if doc.declared, err = parseCount(text); err != nil {
					return nil, fmt.Errorf("declared count element %q: %w", countField, err)
				}
			}
		case xml.EndElement:
			return doc, nil
		}
	}
}

func nextStart(dec *xml.Decoder) (xml.StartElement, error) {
	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return xml.StartElement{}, errors.New("empty document")
			}
			return xml.StartElement{}, err
		}
		if start, ok := tok.(xml.StartElement); ok {
			return start, nil
		}
	}
}

// decodeElement converts an element into a JSON-friendly value. A leaf
// without attributes becomes its trimmed text. Otherwise the result is an
// object holding attributes as "@name", children by name (repeated names
// collect into an array) and any text as "#text".
func decodeElement(dec *xml.Decoder, start xml.StartElement) (interface{}, error) {
	obj := make(map[string]interface{})
	for _, attr := range start.Attr {
		obj["@"+attr.Name.Local] = attr.Value
	}

	var text strings.Builder
	hasChildren := false
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("element %s: %w", start.Name.Local, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			hasChildren = true
			child, err := decodeElement(dec, t)
			if err != nil {
				return nil, err
			}
			name := t.Name.Local
			switch existing := obj[name].(type) {
			case nil:
				obj[name] = child
			case []interface{}:
				obj[name] = append(existing, child)
			default:
				obj[name] = []interface{}{existing, child}
			}
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			s := strings.TrimSpace(text.String())
			if !hasChildren && len(start.Attr) == 0 {
				return s, nil
			}
			if s != "" {
				obj["#text"] = s
			}
			return obj, nil
		}
	}
}

func parseCount(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("negative count %d", n)
	}
	return n, nil
}
