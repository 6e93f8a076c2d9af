package xapi

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

// xmlRoots are the document elements a device may answer with.
var xmlRoots = map[string]bool{
	"Status":        true,
	"Configuration": true,
	"Command":       true,
	"Event":         true,
	"Valuespace":    true,
}

// xmlFrame tracks one open element during decoding.
type xmlFrame struct {
	node *Node
	text strings.Builder
}

// DecodeXML decodes an XAPI XML document into a Node tree.
//
// Repeated sibling elements with the same tag become one ordered sequence
// under that tag; a single occurrence is a one-element sequence. Elements
// without child elements become scalars holding their trimmed text.
// Attributes are kept on the node.
//
// Malformed XML, an empty document, or an unexpected root element returns
// ErrProtocol.
func DecodeXML(r io.Reader) (*Node, error) {
	decoder := xml.NewDecoder(io.LimitReader(r, maxResponseSize))
	doc := NewObject("")
	var stack []*xmlFrame

	for {
		token, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: decoding xml: %w", ErrProtocol, err)
		}

		switch t := token.(type) {
		case xml.StartElement:
			node := NewObject(t.Name.Local)
			for _, a := range t.Attr {
				node.SetAttr(a.Name.Local, a.Value)
			}

			if len(stack) == 0 {
				if len(doc.order) > 0 {
					return nil, fmt.Errorf("%w: multiple root elements", ErrProtocol)
				}
				if !xmlRoots[node.name] {
					return nil, fmt.Errorf("%w: unexpected root element <%s>", ErrProtocol, node.name)
				}
				doc.Append(node)
			} else {
				stack[len(stack)-1].node.Append(node)
			}
			stack = append(stack, &xmlFrame{node: node})

		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text.Write(t)
			}

		case xml.EndElement:
			if len(stack) == 0 {
				return nil, fmt.Errorf("%w: unbalanced end element </%s>", ErrProtocol, t.Name.Local)
			}
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if len(top.node.fields) == 0 {
				top.node.scalar = true
				top.node.value = strings.TrimSpace(top.text.String())
			}
		}
	}

	if len(stack) > 0 {
		return nil, fmt.Errorf("%w: truncated document", ErrProtocol)
	}
	if len(doc.order) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrProtocol)
	}
	return doc, nil
}

// EncodeConfigurationXML builds the putxml body for a configuration write:
//
//	<Configuration><Seg1><Seg2>value</Seg2></Seg1></Configuration>
//
// A leading "Configuration" segment in path is accepted and ignored.
func EncodeConfigurationXML(path, value string) ([]byte, error) {
	segs := trimRoot(splitPath(path), "Configuration")
	if len(segs) == 0 {
		return nil, fmt.Errorf("%w: empty configuration path", ErrProtocol)
	}
	if err := validateSegments(segs); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString("<Configuration>")
	for _, s := range segs {
		buf.WriteString("<" + s + ">")
	}
	if err := xml.EscapeText(&buf, []byte(value)); err != nil {
		return nil, fmt.Errorf("escaping value: %w", err)
	}
	for i := len(segs) - 1; i >= 0; i-- {
		buf.WriteString("</" + segs[i] + ">")
	}
	buf.WriteString("</Configuration>")
	return buf.Bytes(), nil
}

// EncodeCommandXML builds the putxml body for a command:
//
//	<Command><Bookings><List><Days>1</Days></List></Bookings></Command>
//
// name may be space or slash separated ("Bookings List"). Parameters are
// written in key order so the body is deterministic.
func EncodeCommandXML(name string, params map[string]string) ([]byte, error) {
	segs := trimRoot(splitPath(name), "Command")
	if len(segs) == 0 {
		return nil, fmt.Errorf("%w: empty command name", ErrProtocol)
	}
	if err := validateSegments(segs); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if err := validateSegments(keys); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString("<Command>")
	for _, s := range segs {
		buf.WriteString("<" + s + ">")
	}
	for _, k := range keys {
		buf.WriteString("<" + k + ">")
		if err := xml.EscapeText(&buf, []byte(params[k])); err != nil {
			return nil, fmt.Errorf("escaping parameter %s: %w", k, err)
		}
		buf.WriteString("</" + k + ">")
	}
	for i := len(segs) - 1; i >= 0; i-- {
		buf.WriteString("</" + segs[i] + ">")
	}
	buf.WriteString("</Command>")
	return buf.Bytes(), nil
}

// commandResultName returns the element a device wraps command results in:
// "Bookings List" → "BookingsListResult".
func commandResultName(name string) string {
	return strings.Join(trimRoot(splitPath(name), "Command"), "") + "Result"
}

func trimRoot(segs []string, root string) []string {
	if len(segs) > 0 && segs[0] == root {
		return segs[1:]
	}
	return segs
}

// validateSegments rejects names that would produce invalid or injected XML.
func validateSegments(segs []string) error {
	for _, s := range segs {
		if s == "" {
			return fmt.Errorf("%w: empty path segment", ErrProtocol)
		}
		for i, r := range s {
			isLetter := (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || r == '_'
			isDigit := r >= '0' && r <= '9'
			if !isLetter && (i == 0 || (!isDigit && r != '-' && r != '.')) {
				return fmt.Errorf("%w: invalid path segment %q", ErrProtocol, s)
			}
		}
	}
	return nil
}
