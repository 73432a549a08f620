package vault

import (
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Meta holds the scalar front-matter fields of a document.
type Meta map[string]string

// Get returns the field value, or "" when absent.
func (m Meta) Get(key string) string {
	return m[key]
}

// Int returns the field parsed as an integer, or def when absent or invalid.
func (m Meta) Int(key string, def int) int {
	v, ok := m[key]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

// Field is one front-matter key/value pair to write.
type Field struct {
	Key   string
	Value string
}

var lineFieldRE = regexp.MustCompile(`^([A-Za-z0-9_\-]+)\s*:\s*(.*)$`)

// frontMatterBounds returns the line indexes of the opening and closing
// "---" fences, or -1, -1 when the document has no front-matter.
func frontMatterBounds(lines []string) (int, int) {
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return -1, -1
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			return 0, i
		}
	}
	return -1, -1
}

// ParseMeta extracts the front-matter fields from content. Well-formed YAML
// is decoded with yaml.v3; hand-edited front-matter that is not valid YAML
// (an unquoted colon in a value, say) falls back to a line-oriented read.
func ParseMeta(content string) Meta {
	meta := make(Meta)
	lines := strings.Split(content, "\n")
	start, end := frontMatterBounds(lines)
	if start < 0 {
		return meta
	}
	block := strings.Join(lines[start+1:end], "\n")

	var node yaml.Node
	if err := yaml.Unmarshal([]byte(block), &node); err == nil && len(node.Content) == 1 && node.Content[0].Kind == yaml.MappingNode {
		mapping := node.Content[0]
		for i := 0; i+1 < len(mapping.Content); i += 2 {
			meta[mapping.Content[i].Value] = nodeString(mapping.Content[i+1])
		}
		return meta
	}

	for _, ln := range lines[start+1 : end] {
		if m := lineFieldRE.FindStringSubmatch(ln); m != nil {
			meta[m[1]] = strings.Trim(strings.TrimSpace(m[2]), `"'`)
		}
	}
	return meta
}

func nodeString(n *yaml.Node) string {
	switch n.Kind {
	case yaml.ScalarNode:
		return n.Value
	case yaml.SequenceNode:
		parts := make([]string, 0, len(n.Content))
		for _, c := range n.Content {
			parts = append(parts, nodeString(c))
		}
		return strings.Join(parts, ",")
	default:
		return ""
	}
}

// SetFields updates or appends front-matter fields, preserving every other
// line of the document. A document without front-matter gets one.
func SetFields(content string, fields ...Field) string {
	lines := strings.Split(content, "\n")
	start, end := frontMatterBounds(lines)
	if start < 0 {
		header := []string{"---"}
		for _, f := range fields {
			header = append(header, FormatField(f))
		}
		header = append(header, "---")
		return strings.Join(append(header, lines...), "\n")
	}

	fm := append([]string(nil), lines[start+1:end]...)
	for _, f := range fields {
		replaced := false
		for i, ln := range fm {
			if m := lineFieldRE.FindStringSubmatch(ln); m != nil && m[1] == f.Key {
				fm[i] = FormatField(f)
				replaced = true
				break
			}
		}
		if !replaced {
			fm = append(fm, FormatField(f))
		}
	}

	out := make([]string, 0, len(lines)+len(fields))
	out = append(out, "---")
	out = append(out, fm...)
	out = append(out, "---")
	out = append(out, lines[end+1:]...)
	return strings.Join(out, "\n")
}

// FormatField renders f as a single front-matter line.
func FormatField(f Field) string {
	return f.Key + ": " + scalar(f.Value)
}

// scalar renders v as a single-line YAML scalar, quoting when required.
func scalar(v string) string {
	v = strings.ReplaceAll(v, "\n", " ")
	if _, err := strconv.Atoi(v); err == nil {
		return v
	}
	data, err := yaml.Marshal(v)
	if err != nil {
		return strconv.Quote(v)
	}
	return strings.TrimSpace(string(data))
}
