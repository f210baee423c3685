package tasks

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/poltergeist/haunt/internal/pipeline"
)

const vlqChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

type sourceMap struct {
	Version        int      `json:"version"`
	File           string   `json:"file,omitempty"`
	Sources        []string `json:"sources"`
	SourcesContent []string `json:"sourcesContent"`
	Names          []string `json:"names"`
	Mappings       string   `json:"mappings"`
}

// concatSourceMap maps each line of a concatenated bundle to the start of
// the source line it came from. originals holds each file's contents before
// per-file processing; a processed file with more lines than its original
// maps the surplus to the original's last line.
func concatSourceMap(name string, files []*pipeline.File, originals [][]byte, sep string) ([]byte, error) {
	sm := sourceMap{
		Version:        3,
		File:           name,
		Sources:        make([]string, len(files)),
		SourcesContent: make([]string, len(files)),
		Names:          []string{},
	}

	var mappings strings.Builder
	prevSource, prevLine := 0, 0
	sepLines := strings.Count(sep, "\n")
	for i, f := range files {
		sm.Sources[i] = f.Path
		sm.SourcesContent[i] = string(originals[i])

		lastLine := strings.Count(sm.SourcesContent[i], "\n")
		lines := strings.Count(string(f.Contents), "\n") + sepLines
		if i == len(files)-1 {
			lines = strings.Count(string(f.Contents), "\n") + 1
		}
		for j := 0; j < lines; j++ {
			if i > 0 || j > 0 {
				mappings.WriteByte(';')
			}
			line := min(j, lastLine)
			mappings.WriteByte(vlqChars[0])
			writeVLQ(&mappings, i-prevSource)
			writeVLQ(&mappings, line-prevLine)
			mappings.WriteByte(vlqChars[0])
			prevSource, prevLine = i, line
		}
	}
	sm.Mappings = mappings.String()

	return json.Marshal(sm)
}

// writeVLQ appends v as a base64 VLQ
func writeVLQ(sb *strings.Builder, v int) {
	n := v << 1
	if v < 0 {
		n = -v<<1 | 1
	}
	for {
		digit := n & 31
		n >>= 5
		if n > 0 {
			digit |= 32
		}
		sb.WriteByte(vlqChars[digit])
		if n == 0 {
			return
		}
	}
}

// withSourceMap appends an inline source map comment for the bundle, which
// esbuild picks up and chains into the map it writes
func withSourceMap(task string, bundle *pipeline.File, files []*pipeline.File, originals [][]byte) error {
	data, err := concatSourceMap(bundle.Rel, files, originals, bundleSeparator)
	if err != nil {
		return fmt.Errorf("%s: source map: %w", task, err)
	}
	url := "data:application/json;base64," + base64.StdEncoding.EncodeToString(data)

	var comment string
	if task == "css" {
		comment = "\n/*# sourceMappingURL=" + url + " */\n"
	} else {
		comment = "\n//# sourceMappingURL=" + url + "\n"
	}
	bundle.Contents = append(bundle.Contents, comment...)
	return nil
}
