package types

import (
	"encoding/json"
	"strings"
)

// DefaultDeliverableTitle is used when no heading can be extracted from
// generated content.
const DefaultDeliverableTitle = "Generated Content"

// Content is the opaque content blob exchanged with the engine and
// persisted as a deliverable version. The coordinator never interprets
// it beyond primary-text and title extraction.
type Content map[string]any

// PrimaryText returns the main text field of the content, if present.
func (c Content) PrimaryText() string {
	for _, key := range []string{"primaryText", "text", "content"} {
		if v, ok := c[key]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

// IsEmpty reports whether the content has no non-empty field.
func (c Content) IsEmpty() bool {
	for _, v := range c {
		switch t := v.(type) {
		case nil:
			continue
		case string:
			if strings.TrimSpace(t) != "" {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// Title derives a human-readable title: the first markdown heading line
// of the primary text, else the first line, else DefaultDeliverableTitle.
func (c Content) Title() string {
	text := c.PrimaryText()
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			return strings.TrimSpace(strings.TrimLeft(line, "# "))
		}
		// No heading: fall back to the first non-empty line, truncated.
		if len(line) > 120 {
			line = line[:120]
		}
		return line
	}
	return DefaultDeliverableTitle
}

// JSON serializes the content for storage.
func (c Content) JSON() (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ContentFromJSON deserializes stored version content.
func ContentFromJSON(data string) (Content, error) {
	if data == "" {
		return Content{}, nil
	}
	var c Content
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return nil, err
	}
	return c, nil
}
