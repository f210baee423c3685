package server

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"
)

const maxInjectSize = 2 << 20

// injectScript adds the live reload client to HTML pages
func injectScript(next http.Handler, tag string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := r.URL.Path
		if r.Method != http.MethodGet || !(p == "" || strings.HasSuffix(p, "/") || strings.HasSuffix(p, ".html") || strings.HasSuffix(p, ".htm")) {
			next.ServeHTTP(w, r)
			return
		}

		// conditional requests would answer 304 and skip injection
		r.Header.Del("If-Modified-Since")
		r.Header.Del("If-None-Match")

		in := &injector{ResponseWriter: w, status: http.StatusOK, tag: tag}
		next.ServeHTTP(in, r)
		in.finish()
	})
}

// injector buffers an HTML response to insert a script tag before </body>.
// Non-HTML and oversized responses pass through untouched.
type injector struct {
	http.ResponseWriter
	status      int
	buf         bytes.Buffer
	buffering   bool
	passthrough bool
	wroteHeader bool
	tag         string
}

func (in *injector) WriteHeader(code int) {
	in.status = code
	if in.passthrough {
		in.ResponseWriter.WriteHeader(code)
		in.wroteHeader = true
	}
}

func (in *injector) startPassthrough() {
	in.passthrough = true
	if !in.wroteHeader {
		in.ResponseWriter.WriteHeader(in.status)
		in.wroteHeader = true
	}
}

func (in *injector) Write(data []byte) (int, error) {
	if !in.buffering && !in.passthrough {
		ct := in.Header().Get("Content-Type")
		if in.status != http.StatusOK || (ct != "" && !strings.Contains(ct, "text/html")) {
			in.startPassthrough()
		} else {
			in.buffering = true
		}
	}
	if in.passthrough {
		return in.ResponseWriter.Write(data)
	}

	if in.buf.Len()+len(data) > maxInjectSize {
		in.Header().Del("Content-Length")
		in.startPassthrough()
		if _, err := in.ResponseWriter.Write(in.buf.Bytes()); err != nil {
			return 0, err
		}
		in.buf.Reset()
		return in.ResponseWriter.Write(data)
	}
	return in.buf.Write(data)
}

func (in *injector) finish() {
	if in.passthrough {
		return
	}
	if !in.buffering {
		if !in.wroteHeader {
			in.ResponseWriter.WriteHeader(in.status)
		}
		return
	}

	html := in.buf.Bytes()
	var out []byte
	if i := bytes.LastIndex(bytes.ToLower(html), []byte("</body>")); i >= 0 {
		out = make([]byte, 0, len(html)+len(in.tag))
		out = append(out, html[:i]...)
		out = append(out, in.tag...)
		out = append(out, html[i:]...)
	} else {
		out = append(html, in.tag...)
	}

	in.Header().Set("Content-Length", strconv.Itoa(len(out)))
	in.Header().Del("ETag")
	in.ResponseWriter.WriteHeader(in.status)
	_, _ = in.ResponseWriter.Write(out)
}
