package css

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

// browserEngines maps browserslist names to esbuild engines
var browserEngines = map[string]api.EngineName{
	"chrome":  api.EngineChrome,
	"and_chr": api.EngineChrome,
	"edge":    api.EngineEdge,
	"firefox": api.EngineFirefox,
	"ff":      api.EngineFirefox,
	"safari":  api.EngineSafari,
	"ios":     api.EngineIOS,
	"ios_saf": api.EngineIOS,
	"opera":   api.EngineOpera,
	"ie":      api.EngineIE,
}

// latestVersions is the newest major version assumed for "last N versions"
var latestVersions = map[api.EngineName]int{
	api.EngineChrome:  130,
	api.EngineEdge:    130,
	api.EngineFirefox: 132,
	api.EngineSafari:  18,
	api.EngineIOS:     18,
	api.EngineOpera:   114,
}

// Engines converts browserslist-style queries into esbuild engine targets.
// Supported forms are "last N versions", "<browser> <version>" and
// "<browser> >= <version>". When several queries name the same engine the
// oldest version wins.
func Engines(queries []string) ([]api.Engine, error) {
	oldest := map[api.EngineName]string{}
	order := []api.EngineName{}

	add := func(name api.EngineName, version string) {
		prev, ok := oldest[name]
		if !ok {
			order = append(order, name)
			oldest[name] = version
			return
		}
		if compareVersions(version, prev) < 0 {
			oldest[name] = version
		}
	}

	for _, raw := range queries {
		q := strings.ToLower(strings.Join(strings.Fields(raw), " "))
		if q == "" || q == "defaults" {
			q = "last 2 versions"
		}

		if n, ok := parseLastVersions(q); ok {
			for _, name := range []api.EngineName{api.EngineChrome, api.EngineEdge, api.EngineFirefox, api.EngineSafari, api.EngineIOS, api.EngineOpera} {
				v := latestVersions[name] - (n - 1)
				if v < 1 {
					v = 1
				}
				add(name, strconv.Itoa(v))
			}
			continue
		}

		fields := strings.Fields(strings.ReplaceAll(q, ">=", " "))
		if len(fields) != 2 {
			return nil, fmt.Errorf("unsupported browser query %q", raw)
		}
		name, ok := browserEngines[fields[0]]
		if !ok {
			return nil, fmt.Errorf("unknown browser %q in query %q", fields[0], raw)
		}
		if _, err := strconv.ParseFloat(fields[1], 64); err != nil {
			return nil, fmt.Errorf("invalid version in browser query %q", raw)
		}
		add(name, fields[1])
	}

	engines := make([]api.Engine, 0, len(order))
	for _, name := range order {
		engines = append(engines, api.Engine{Name: name, Version: oldest[name]})
	}
	return engines, nil
}

func parseLastVersions(q string) (int, bool) {
	fields := strings.Fields(q)
	if len(fields) != 3 || fields[0] != "last" || (fields[2] != "versions" && fields[2] != "version") {
		return 0, false
	}
	n, err := strconv.Atoi(fields[1])
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

func compareVersions(a, b string) int {
	af, _ := strconv.ParseFloat(a, 64)
	bf, _ := strconv.ParseFloat(b, 64)
	switch {
	case af < bf:
		return -1
	case af > bf:
		return 1
	}
	return 0
}
