package control

import "strings"

// ServerPath is a server-side directory path. The zero value is the empty
// path. Paths are kept in a normalized form determined by the server type:
// unix-style paths use '/' and are absolute, DOS-style paths use '\' with a
// drive prefix such as "C:". UNC paths are not accepted.
type ServerPath struct {
	typ  ServerType
	path string
}

// NewServerPath parses raw according to typ. ok is false when raw is not a
// valid absolute path for that syntax.
func NewServerPath(typ ServerType, raw string) (p ServerPath, ok bool) {
	p = ServerPath{typ: typ}
	if raw == "" {
		return p, false
	}

	switch typ {
	case ServerTypeDOS:
		raw = strings.ReplaceAll(raw, "/", "\\")
		if len(raw) < 2 || raw[1] != ':' {
			return p, false
		}
		for len(raw) > 3 && strings.HasSuffix(raw, "\\") {
			raw = raw[:len(raw)-1]
		}
		if len(raw) == 2 {
			raw += "\\"
		}
	default:
		if !strings.HasPrefix(raw, "/") {
			return p, false
		}
		for len(raw) > 1 && strings.HasSuffix(raw, "/") {
			raw = raw[:len(raw)-1]
		}
	}

	p.path = raw
	return p, true
}

// Type returns the path syntax.
func (p ServerPath) Type() ServerType {
	return p.typ
}

// SetType switches the syntax used for later parsing. Only meaningful on an
// empty path.
func (p *ServerPath) SetType(typ ServerType) {
	p.typ = typ
}

// Empty reports whether the path is unset.
func (p ServerPath) Empty() bool {
	return p.path == ""
}

// Clear resets the path to empty, keeping the syntax.
func (p *ServerPath) Clear() {
	p.path = ""
}

// String returns the normalized path text.
func (p ServerPath) String() string {
	return p.path
}

// Equal compares normalized paths.
func (p ServerPath) Equal(o ServerPath) bool {
	return p.path == o.path
}

func (p ServerPath) separator() string {
	if p.typ == ServerTypeDOS {
		return "\\"
	}
	return "/"
}

// FormatFilename joins a file name onto the path for display and lookups.
func (p ServerPath) FormatFilename(name string) string {
	if p.Empty() {
		return name
	}
	sep := p.separator()
	if strings.HasSuffix(p.path, sep) {
		return p.path + name
	}
	return p.path + sep + name
}

// IsParentOf reports whether child lies strictly below p.
func (p ServerPath) IsParentOf(child ServerPath) bool {
	if p.Empty() || child.Empty() {
		return false
	}
	sep := p.separator()
	prefix := p.path
	if !strings.HasSuffix(prefix, sep) {
		prefix += sep
	}
	return len(child.path) > len(prefix) && strings.HasPrefix(child.path, prefix)
}
