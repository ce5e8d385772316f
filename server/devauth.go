package server

import (
	"html/template"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

const maxDebugCallbacks = 50

// Callback parameters shown masked on the debug page.
var secretParams = map[string]bool{
	"code":         true,
	"id_token":     true,
	"access_token": true,
	"logout_token": true,
}

// DebugCallback is one recorded hit on the callback endpoint.
type DebugCallback struct {
	At        time.Time `json:"at"`
	RequestID string    `json:"request_id,omitempty"`
	Method    string    `json:"method"`
	Params    []kv      `json:"params"`
	Outcome   string    `json:"outcome"`
	Code      string    `json:"code,omitempty"`
	Profile   string    `json:"profile,omitempty"`
}

type kv struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// DebugCallbackRecorder keeps the latest callback attempts for inspection in
// dev mode. A nil recorder ignores every call.
type DebugCallbackRecorder struct {
	mu      sync.RWMutex
	entries []DebugCallback
	now     func() time.Time
}

func NewDebugCallbackRecorder() *DebugCallbackRecorder {
	return &DebugCallbackRecorder{now: time.Now}
}

// Record stores an attempt, evicting the oldest once full.
func (m *DebugCallbackRecorder) Record(r *http.Request, outcome, code, profileID string) {
	if m == nil {
		return
	}
	entry := DebugCallback{
		At:        m.now(),
		RequestID: RequestIDFromContext(r.Context()),
		Method:    r.Method,
		Params:    valuesToPairs(r.Form),
		Outcome:   outcome,
		Code:      code,
		Profile:   profileID,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	if len(m.entries) > maxDebugCallbacks {
		m.entries = m.entries[len(m.entries)-maxDebugCallbacks:]
	}
}

// Recent returns the recorded attempts, newest first.
func (m *DebugCallbackRecorder) Recent() []DebugCallback {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]DebugCallback, len(m.entries))
	for i, e := range m.entries {
		out[len(m.entries)-1-i] = e
	}
	return out
}

func valuesToPairs(vals url.Values) []kv {
	if vals == nil {
		return nil
	}
	keys := make([]string, 0, len(vals))
	for k := range vals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]kv, 0, len(keys))
	for _, k := range keys {
		values := vals[k]
		if secretParams[k] {
			masked := make([]string, len(values))
			for i, v := range values {
				masked[i] = maskSecret(v)
			}
			values = masked
		}
		pairs = append(pairs, kv{Key: k, Value: strings.Join(values, ", ")})
	}
	return pairs
}

func maskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return strings.Repeat("*", len(secret))
	}
	return secret[:4] + strings.Repeat("*", len(secret)-8) + secret[len(secret)-4:]
}

var devCallbacksTemplate = template.Must(template.New("devCallbacks").Parse(`<!DOCTYPE html>
<html>
<head>
<title>Callback inspector</title>
<style>
body { font-family: sans-serif; max-width: 960px; margin: 2em auto; }
table { border-collapse: collapse; width: 100%; margin-bottom: 1.5em; }
td, th { border: 1px solid #ddd; padding: 4px 8px; text-align: left; font-family: monospace; }
.authenticated { color: #080; } .failed, .unauthenticated { color: #a00; } .logout { color: #06c; }
</style>
</head>
<body>
<h1>Callback inspector</h1>
<p>Client <code>{{.Client}}</code>, redirect URI <code>{{.CallbackURL}}</code>.</p>
{{range .Callbacks}}
<h3 class="{{.Outcome}}">{{.At.Format "15:04:05.000"}} {{.Method}} {{.Outcome}}{{if .Code}} ({{.Code}}){{end}}</h3>
{{if .Profile}}<p>Profile <code>{{.Profile}}</code></p>{{end}}
<table>
<tr><th>Parameter</th><th>Value</th></tr>
{{range .Params}}<tr><td>{{.Key}}</td><td>{{.Value}}</td></tr>{{end}}
</table>
{{else}}
<p>No callbacks recorded yet. <a href="/login">Start a login</a>.</p>
{{end}}
</body>
</html>`))

type devCallbacksView struct {
	Client      string
	CallbackURL string
	Callbacks   []DebugCallback
}

func (a *App) handleDevCallbacks(w http.ResponseWriter, r *http.Request) {
	callbacks := a.Debug.Recent()
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		writeJSON(w, callbacks)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := devCallbacksTemplate.Execute(w, devCallbacksView{
		Client:      a.rpConfig.ClientName,
		CallbackURL: a.rpConfig.CallbackURL,
		Callbacks:   callbacks,
	})
	if err != nil {
		a.Logger.Error("render callback inspector", "error", err)
	}
}
