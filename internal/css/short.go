package css

import (
	"fmt"
	"strings"
)

// Short expands shorthand declarations:
//
//	size: 10px 20px;          -> width: 10px; height: 20px
//	position: absolute 0 *;   -> position: absolute; top: 0; bottom: 0
//	color: #fff #000;         -> color: #fff; background-color: #000
//	margin: * auto;           -> margin-right: auto; margin-left: auto
//	font-size: 1.25em / 2;    -> font-size: 1.25em; line-height: 2
//
// An asterisk leaves that side untouched.
type Short struct{}

// Name implements Plugin
func (Short) Name() string { return "short" }

// Process implements Plugin
func (Short) Process(_ string, src []byte) ([]byte, error) {
	tokens, err := lex(src)
	if err != nil {
		return nil, err
	}
	out, err := rewriteDeclarations(tokens, expandShort)
	if err != nil {
		return nil, err
	}
	return render(out), nil
}

var positionKeywords = map[string]bool{
	"static":   true,
	"relative": true,
	"absolute": true,
	"fixed":    true,
	"sticky":   true,
}

func expandShort(d declaration) (string, bool, error) {
	values, important := splitImportant(d.Values)
	if len(values) == 0 {
		return "", false, nil
	}

	switch strings.ToLower(d.Property) {
	case "size":
		if len(values) > 2 {
			return "", false, nil
		}
		w, h := values[0], values[0]
		if len(values) == 2 {
			h = values[1]
		}
		return joinDecls(d.Joiner, important,
			[2]string{"width", w},
			[2]string{"height", h},
		), true, nil

	case "position":
		if len(values) < 2 || !positionKeywords[strings.ToLower(values[0])] {
			return "", false, nil
		}
		sides, err := boxSides(values[1:])
		if err != nil {
			return "", false, err
		}
		decls := [][2]string{{"position", values[0]}}
		for i, side := range []string{"top", "right", "bottom", "left"} {
			decls = append(decls, [2]string{side, sides[i]})
		}
		return joinDecls(d.Joiner, important, decls...), true, nil

	case "color":
		if len(values) != 2 {
			return "", false, nil
		}
		return joinDecls(d.Joiner, important,
			[2]string{"color", values[0]},
			[2]string{"background-color", values[1]},
		), true, nil

	case "margin", "padding":
		if !contains(values, "*") {
			return "", false, nil
		}
		sides, err := boxSides(values)
		if err != nil {
			return "", false, err
		}
		prop := strings.ToLower(d.Property)
		var decls [][2]string
		for i, side := range []string{"top", "right", "bottom", "left"} {
			decls = append(decls, [2]string{prop + "-" + side, sides[i]})
		}
		return joinDecls(d.Joiner, important, decls...), true, nil

	case "font-size":
		slash := strings.Index(d.Value, "/")
		if slash < 0 || strings.Contains(d.Value, "(") {
			return "", false, nil
		}
		size := strings.TrimSpace(d.Value[:slash])
		lineHeight := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(d.Value[slash+1:]), "!important"))
		if size == "" || lineHeight == "" {
			return "", false, nil
		}
		return joinDecls(d.Joiner, important,
			[2]string{"font-size", size},
			[2]string{"line-height", strings.TrimSpace(lineHeight)},
		), true, nil
	}

	return "", false, nil
}

// boxSides expands 1-4 values with the usual top/right/bottom/left rules
func boxSides(values []string) ([4]string, error) {
	var sides [4]string
	switch len(values) {
	case 1:
		sides = [4]string{values[0], values[0], values[0], values[0]}
	case 2:
		sides = [4]string{values[0], values[1], values[0], values[1]}
	case 3:
		sides = [4]string{values[0], values[1], values[2], values[1]}
	case 4:
		sides = [4]string{values[0], values[1], values[2], values[3]}
	default:
		return sides, fmt.Errorf("short: expected 1 to 4 box values, got %d", len(values))
	}
	return sides, nil
}

func splitImportant(values []string) ([]string, bool) {
	n := len(values)
	if n > 0 && strings.EqualFold(values[n-1], "!important") {
		return values[:n-1], true
	}
	return values, false
}

// joinDecls renders declarations separated by joiner, skipping "*" values.
// The result omits the final semicolon which the caller's terminator supplies.
func joinDecls(joiner string, important bool, decls ...[2]string) string {
	var parts []string
	for _, d := range decls {
		if d[1] == "*" {
			continue
		}
		v := d[1]
		if important {
			v += " !important"
		}
		parts = append(parts, d[0]+": "+v)
	}
	return strings.Join(parts, ";"+joiner)
}

func contains(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}
