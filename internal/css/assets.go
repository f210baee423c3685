package css

import (
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tdewolff/parse/v2"
	tcss "github.com/tdewolff/parse/v2/css"
	"github.com/tdewolff/parse/v2/xml"

	"github.com/poltergeist/haunt/pkg/types"
)

// ErrAssetNotFound is returned when an asset function names a missing file
var ErrAssetNotFound = errors.New("asset not found")

// Assets resolves asset helper functions inside stylesheets:
//
//	resolve('logo.png')  -> url('../images/logo.png')
//	inline('icon.svg')   -> url('data:image/svg+xml;base64,...')
//	width('logo.png')    -> 120px
//	height('logo.png')   -> 40px
//	size('logo.png')     -> 120px 40px
//
// The dimension helpers accept an optional density divisor, e.g.
// width('logo@2x.png', 2).
type Assets struct {
	root       string
	loadPaths  []string
	relativeTo string
}

// NewAssets creates the plugin. root is the project directory against
// which loadPaths and relativeTo are interpreted.
func NewAssets(root string, cfg types.AssetsConfig) *Assets {
	return &Assets{
		root:       root,
		loadPaths:  cfg.LoadPaths,
		relativeTo: cfg.RelativeTo,
	}
}

// Name implements Plugin
func (a *Assets) Name() string { return "assets" }

// Process implements Plugin
func (a *Assets) Process(file string, src []byte) ([]byte, error) {
	tokens, err := lex(src)
	if err != nil {
		return nil, err
	}

	out := make([]token, 0, len(tokens))
	for i := 0; i < len(tokens); i++ {
		call, ok := findCall(tokens, i)
		if !ok || !isAssetFunction(call.Name) {
			out = append(out, tokens[i])
			continue
		}

		replacement, err := a.evaluate(file, call)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", file, lineOf(tokens, i), err)
		}
		out = append(out, token{tt: tcss.IdentToken, data: replacement})
		i = call.End
	}
	return render(out), nil
}

func isAssetFunction(name string) bool {
	switch name {
	case "resolve", "inline", "width", "height", "size":
		return true
	}
	return false
}

func (a *Assets) evaluate(file string, call functionCall) (string, error) {
	if len(call.Args) == 0 || call.Args[0] == "" {
		return "", fmt.Errorf("%s() requires a file argument", call.Name)
	}
	name := call.Args[0]

	// Query strings and fragments are kept on the URL but ignored for lookup
	lookup, suffix := name, ""
	if idx := strings.IndexAny(name, "?#"); idx >= 0 {
		lookup, suffix = name[:idx], name[idx:]
	}

	found, err := a.find(file, lookup)
	if err != nil {
		return "", err
	}

	switch call.Name {
	case "resolve":
		return fmt.Sprintf("url('%s%s')", a.relativeURL(file, found), suffix), nil

	case "inline":
		data, err := os.ReadFile(filepath.Join(a.root, found))
		if err != nil {
			return "", err
		}
		mimeType := mime.TypeByExtension(path.Ext(found))
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		if i := strings.Index(mimeType, ";"); i >= 0 {
			mimeType = mimeType[:i]
		}
		return fmt.Sprintf("url('data:%s;base64,%s')", mimeType, base64.StdEncoding.EncodeToString(data)), nil

	default:
		density := 1.0
		if len(call.Args) > 1 {
			d, err := strconv.ParseFloat(call.Args[1], 64)
			if err != nil || d <= 0 {
				return "", fmt.Errorf("%s(): invalid density %q", call.Name, call.Args[1])
			}
			density = d
		}

		w, h, err := a.dimensions(found)
		if err != nil {
			return "", err
		}
		width := formatPixels(w / density)
		height := formatPixels(h / density)

		switch call.Name {
		case "width":
			return width, nil
		case "height":
			return height, nil
		default:
			return width + " " + height, nil
		}
	}
}

// find searches loadPaths, then the stylesheet's own directory. It returns
// the asset path relative to the project root, slash separated.
func (a *Assets) find(file, name string) (string, error) {
	candidates := make([]string, 0, len(a.loadPaths)+1)
	for _, lp := range a.loadPaths {
		candidates = append(candidates, path.Join(filepath.ToSlash(lp), name))
	}
	candidates = append(candidates, path.Join(path.Dir(filepath.ToSlash(file)), name))

	for _, c := range candidates {
		info, err := os.Stat(filepath.Join(a.root, filepath.FromSlash(c)))
		if err == nil && !info.IsDir() {
			return c, nil
		}
	}

	searched := make([]string, len(candidates))
	for i, c := range candidates {
		searched[i] = path.Dir(c)
	}
	return "", fmt.Errorf("%w: %s (searched %s)", ErrAssetNotFound, name, strings.Join(searched, ", "))
}

func (a *Assets) relativeURL(file, asset string) string {
	from := a.relativeTo
	if from == "" {
		from = path.Dir(filepath.ToSlash(file))
	}
	rel, err := filepath.Rel(filepath.FromSlash(from), filepath.FromSlash(asset))
	if err != nil {
		return asset
	}
	return filepath.ToSlash(rel)
}

// dimensions reads an image's size from its header, or an SVG's from its
// root element
func (a *Assets) dimensions(asset string) (float64, float64, error) {
	full := filepath.Join(a.root, filepath.FromSlash(asset))
	if strings.EqualFold(path.Ext(asset), ".svg") {
		data, err := os.ReadFile(full)
		if err != nil {
			return 0, 0, err
		}
		w, h, err := svgDimensions(data)
		if err != nil {
			return 0, 0, fmt.Errorf("read dimensions of %s: %w", asset, err)
		}
		return w, h, nil
	}

	f, err := os.Open(full)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, fmt.Errorf("read dimensions of %s: %w", asset, err)
	}
	return float64(cfg.Width), float64(cfg.Height), nil
}

// svgDimensions uses the root element's width and height, falling back to
// the viewBox for whichever is missing or not in pixels
func svgDimensions(data []byte) (float64, float64, error) {
	attrs := make(map[string]string)
	l := xml.NewLexer(parse.NewInputBytes(data))
	inRoot := false
scan:
	for {
		tt, _ := l.Next()
		switch tt {
		case xml.ErrorToken:
			break scan
		case xml.StartTagToken:
			if inRoot {
				break scan
			}
			inRoot = strings.EqualFold(string(l.Text()), "svg")
		case xml.AttributeToken:
			if inRoot {
				attrs[strings.ToLower(string(l.Text()))] = unquote(string(l.AttrVal()))
			}
		case xml.StartTagCloseToken, xml.StartTagCloseVoidToken:
			if inRoot {
				break scan
			}
		}
	}
	if !inRoot {
		return 0, 0, errors.New("no svg element")
	}

	w, wok := svgLength(attrs["width"])
	h, hok := svgLength(attrs["height"])
	if wok && hok {
		return w, h, nil
	}

	box := strings.FieldsFunc(attrs["viewbox"], func(r rune) bool { return r == ' ' || r == ',' })
	if len(box) != 4 {
		return 0, 0, errors.New("svg has neither pixel width/height nor a viewBox")
	}
	vw, err1 := strconv.ParseFloat(box[2], 64)
	vh, err2 := strconv.ParseFloat(box[3], 64)
	if err1 != nil || err2 != nil || vw <= 0 || vh <= 0 {
		return 0, 0, fmt.Errorf("invalid viewBox %q", attrs["viewbox"])
	}

	switch {
	case wok:
		return w, w * vh / vw, nil
	case hok:
		return h * vw / vh, h, nil
	}
	return vw, vh, nil
}

// svgLength parses a unitless or px length
func svgLength(v string) (float64, bool) {
	v = strings.TrimSuffix(strings.TrimSpace(v), "px")
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return 0, false
	}
	return f, true
}

func formatPixels(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64) + "px"
}
