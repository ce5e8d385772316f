package server

import (
	"net/http"
	"strings"

	"oidcrp/rp"
)

// webContext adapts an HTTP exchange to rp.WebContext. Form parsing must have
// happened before construction.
type webContext struct {
	r         *http.Request
	w         http.ResponseWriter
	publicURL string
}

var _ rp.WebContext = (*webContext)(nil)

func newWebContext(w http.ResponseWriter, r *http.Request, publicURL string) *webContext {
	return &webContext{r: r, w: w, publicURL: strings.TrimSuffix(publicURL, "/")}
}

func (c *webContext) RequestParameter(name string) (string, bool) {
	v, ok := c.r.Form[name]
	if !ok || len(v) == 0 {
		return "", false
	}
	return v[0], true
}

func (c *webContext) RequestParameters() map[string][]string {
	return c.r.Form
}

func (c *webContext) SetResponseHeader(name, value string) {
	c.w.Header().Set(name, value)
}

// RequestURL rebuilds the external URL from the configured public origin.
func (c *webContext) RequestURL() string {
	return c.publicURL + c.r.URL.RequestURI()
}
