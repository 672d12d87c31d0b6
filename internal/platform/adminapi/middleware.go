package adminapi

import (
	"bytes"
	"net/http"

	"github.com/labstack/echo/v4"
)

// nullToEmptyArray rewrites a JSON `null` response body to `[]`, adapted
// from packages/go-core/middleware/null_to_empty.go: Go's encoding/json
// marshals a nil slice as `null`, but /nodes and /flowbalance callers
// expect an array they can range over without a nil check. Only applies to
// successful (2xx) JSON responses whose body is exactly `null`.
func nullToEmptyArray() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			rec := &bodyInterceptor{ResponseWriter: c.Response().Writer, buf: &bytes.Buffer{}}
			c.Response().Writer = rec

			if err := next(c); err != nil {
				return err
			}

			body := rec.buf.Bytes()
			ct := c.Response().Header().Get(echo.HeaderContentType)
			isJSON := len(ct) >= 16 && ct[:16] == "application/json"
			statusOK := c.Response().Status >= 200 && c.Response().Status < 300

			if isJSON && statusOK && bytes.Equal(bytes.TrimSpace(body), []byte("null")) {
				body = []byte("[]")
				c.Response().Header().Set("Content-Length", "2")
			}

			rec.ResponseWriter.WriteHeader(c.Response().Status)
			_, writeErr := rec.ResponseWriter.Write(body)
			return writeErr
		}
	}
}

// bodyInterceptor captures the response body without writing to the
// client until nullToEmptyArray has had a chance to inspect it.
type bodyInterceptor struct {
	http.ResponseWriter
	buf *bytes.Buffer
}

func (b *bodyInterceptor) Write(data []byte) (int, error) {
	return b.buf.Write(data)
}

func (b *bodyInterceptor) WriteHeader(_ int) {
	// Suppressed — Register's middleware writes the real header once
	// it has decided whether to rewrite the body.
}
