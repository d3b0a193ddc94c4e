package manifest

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/blackwell-systems/craftbrew/internal/brew"
	errs "github.com/blackwell-systems/craftbrew/internal/errors"
)

// attrCheck validates and normalizes one attribute value.
type attrCheck func(value string) (string, error)

// schema lists the attributes each kind accepts.
var schema = map[brew.Kind]map[string]attrCheck{
	brew.Formula: {
		"version":         checkVersionConstraint,
		"link":            checkBool,
		"restart_service": checkRestartService,
		"args":            checkNonEmpty,
	},
	brew.Cask: {
		"version": checkNonEmpty,
		"greedy":  checkBool,
		"args":    checkNonEmpty,
	},
	brew.Tap: {
		"url":               checkNonEmpty,
		"force_auto_update": checkBool,
	},
	brew.StoreApp: {
		"id": checkStoreID,
	},
}

var required = map[brew.Kind][]string{
	brew.StoreApp: {"id"},
}

// ParseFile parses the manifest at path.
func ParseFile(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrapf(err, errs.ErrManifestParse, "failed to open manifest %s", path).
			WithHint("check the path passed to --manifests or the profile in your config")
	}
	defer f.Close()

	return Parse(path, f)
}

// Parse reads declarations from r. path is only used for error messages and
// conflict attribution.
func Parse(path string, r io.Reader) (*Manifest, error) {
	m := &Manifest{Path: path}

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		pkg, ok, err := parseLine(scanner.Text())
		if err != nil {
			return nil, errs.Newf(errs.ErrManifestParse, "%s:%d: %v", path, lineNo, err).
				WithHint(`declarations look like: brew "git" or cask "firefox", greedy: true`).
				WithDetail("manifest", path).
				WithDetail("line", lineNo)
		}
		if !ok {
			continue
		}
		pkg.Source = path
		m.Declarations = append(m.Declarations, Declaration{Package: pkg, Line: lineNo})
	}
	if err := scanner.Err(); err != nil {
		return nil, errs.Wrapf(err, errs.ErrManifestParse, "failed to read manifest %s", path)
	}

	return m, nil
}

// parseLine parses one declaration. ok is false for blank and comment lines.
func parseLine(raw string) (pkg brew.Package, ok bool, err error) {
	line := strings.TrimSpace(stripComment(raw))
	if line == "" {
		return brew.Package{}, false, nil
	}

	lx := &lexer{s: line}

	keyword := lx.word()
	if keyword == "" {
		return brew.Package{}, false, fmt.Errorf("expected a package kind, got %q", line)
	}
	kind, err := brew.ParseKind(keyword)
	if err != nil {
		return brew.Package{}, false, err
	}

	lx.skipSpace()
	name, err := lx.quoted()
	if err != nil {
		return brew.Package{}, false, fmt.Errorf("package name: %w", err)
	}
	if strings.TrimSpace(name) == "" {
		return brew.Package{}, false, fmt.Errorf("%s declaration has an empty name", keyword)
	}

	attrs := make(map[string]string)
	for {
		lx.skipSpace()
		if lx.done() {
			break
		}
		if !lx.consume(',') {
			return brew.Package{}, false, fmt.Errorf("expected ',' before %q", lx.rest())
		}
		lx.skipSpace()

		key := lx.word()
		if key == "" {
			return brew.Package{}, false, fmt.Errorf("expected an attribute name at %q", lx.rest())
		}
		lx.skipSpace()
		if !lx.consume(':') {
			return brew.Package{}, false, fmt.Errorf("expected ':' after attribute %q", key)
		}
		lx.skipSpace()

		value, err := lx.value()
		if err != nil {
			return brew.Package{}, false, fmt.Errorf("attribute %q: %w", key, err)
		}
		if _, dup := attrs[key]; dup {
			return brew.Package{}, false, fmt.Errorf("attribute %q given twice", key)
		}
		attrs[key] = value
	}

	if err := validateAttributes(kind, attrs); err != nil {
		return brew.Package{}, false, err
	}

	pkg = brew.NewPackage(kind, name)
	if len(attrs) > 0 {
		pkg.Attributes = attrs
	}
	return pkg, true, nil
}

func validateAttributes(kind brew.Kind, attrs map[string]string) error {
	allowed := schema[kind]
	for key, value := range attrs {
		check, ok := allowed[key]
		if !ok {
			return fmt.Errorf("attribute %q is not valid for %s declarations", key, kind)
		}
		normalized, err := check(value)
		if err != nil {
			return fmt.Errorf("attribute %q: %w", key, err)
		}
		attrs[key] = normalized
	}
	for _, key := range required[kind] {
		if _, ok := attrs[key]; !ok {
			return fmt.Errorf("%s declarations require the %q attribute", kind, key)
		}
	}
	return nil
}

func checkNonEmpty(v string) (string, error) {
	if v == "" {
		return "", fmt.Errorf("value must not be empty")
	}
	return v, nil
}

func checkBool(v string) (string, error) {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return "", fmt.Errorf("expected true or false, got %q", v)
	}
	return strconv.FormatBool(b), nil
}

func checkRestartService(v string) (string, error) {
	if v == "changed" {
		return v, nil
	}
	return checkBool(v)
}

func checkVersionConstraint(v string) (string, error) {
	if _, err := semver.NewConstraint(v); err != nil {
		return "", fmt.Errorf("invalid version constraint %q: %w", v, err)
	}
	return v, nil
}

func checkStoreID(v string) (string, error) {
	id, err := strconv.ParseUint(v, 10, 64)
	if err != nil || id == 0 {
		return "", fmt.Errorf("expected a positive numeric App Store id, got %q", v)
	}
	return strconv.FormatUint(id, 10), nil
}

// stripComment removes a trailing # comment that is not inside quotes.
func stripComment(s string) string {
	inQuote := false
	escaped := false
	for i, r := range s {
		switch {
		case escaped:
			escaped = false
		case r == '\\' && inQuote:
			escaped = true
		case r == '"':
			inQuote = !inQuote
		case r == '#' && !inQuote:
			return s[:i]
		}
	}
	return s
}

// lexer walks a single declaration line.
type lexer struct {
	s   string
	pos int
}

func (l *lexer) done() bool { return l.pos >= len(l.s) }

func (l *lexer) rest() string { return l.s[l.pos:] }

func (l *lexer) peek() byte {
	if l.done() {
		return 0
	}
	return l.s[l.pos]
}

func (l *lexer) skipSpace() {
	for !l.done() && (l.s[l.pos] == ' ' || l.s[l.pos] == '\t') {
		l.pos++
	}
}

func (l *lexer) consume(c byte) bool {
	if l.peek() == c {
		l.pos++
		return true
	}
	return false
}

func isWordByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// word reads an identifier such as a kind or an attribute name.
func (l *lexer) word() string {
	start := l.pos
	for !l.done() && isWordByte(l.s[l.pos]) {
		l.pos++
	}
	return l.s[start:l.pos]
}

// quoted reads a double-quoted string with \" and \\ escapes.
func (l *lexer) quoted() (string, error) {
	if !l.consume('"') {
		return "", fmt.Errorf("expected a double-quoted string at %q", l.rest())
	}
	var sb strings.Builder
	for !l.done() {
		c := l.s[l.pos]
		l.pos++
		switch c {
		case '\\':
			if l.done() {
				return "", fmt.Errorf("unterminated escape")
			}
			sb.WriteByte(l.s[l.pos])
			l.pos++
		case '"':
			return sb.String(), nil
		default:
			sb.WriteByte(c)
		}
	}
	return "", fmt.Errorf("unterminated quoted string")
}

// value reads a quoted string, a bracketed list of quoted strings, or a bare
// token. Ruby-style symbols (:changed) lose their leading colon.
func (l *lexer) value() (string, error) {
	switch l.peek() {
	case '"':
		return l.quoted()
	case '[':
		l.pos++
		var items []string
		for {
			l.skipSpace()
			if l.consume(']') {
				break
			}
			if len(items) > 0 {
				if !l.consume(',') {
					return "", fmt.Errorf("expected ',' or ']' in list at %q", l.rest())
				}
				l.skipSpace()
			}
			item, err := l.quoted()
			if err != nil {
				return "", err
			}
			items = append(items, item)
		}
		return strings.Join(items, ","), nil
	case 0:
		return "", fmt.Errorf("missing value")
	default:
		start := l.pos
		for !l.done() && l.s[l.pos] != ',' {
			l.pos++
		}
		token := strings.TrimSpace(l.s[start:l.pos])
		token = strings.TrimPrefix(token, ":")
		if token == "" || strings.ContainsAny(token, "\" ") {
			return "", fmt.Errorf("invalid value %q", token)
		}
		return token, nil
	}
}
