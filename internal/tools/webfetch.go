package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const (
	webfetchTimeout   = 30 * time.Second
	webfetchMaxBody   = 5 << 20 // 5 MiB
	webfetchUserAgent = "openfork/1.0"
)

type webfetchArgs struct {
	URL    string `json:"url" jsonschema:"required,description=The URL to fetch (http or https)"`
	Format string `json:"format,omitempty" jsonschema:"description=text (default) strips HTML tags; raw returns the body as-is"`
}

// WebFetchTool downloads a URL and returns its body, optionally reduced
// to readable text.
type WebFetchTool struct {
	Client *http.Client
}

func NewWebFetchTool() *WebFetchTool {
	return &WebFetchTool{Client: &http.Client{Timeout: webfetchTimeout}}
}

func (*WebFetchTool) Name() string { return "webfetch" }
func (*WebFetchTool) Description() string {
	return "Fetch a URL over HTTP and return the response body as text."
}
func (*WebFetchTool) Schema() json.RawMessage { return schemaFor[webfetchArgs]() }

func (t *WebFetchTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	var args webfetchArgs
	if err := json.Unmarshal(params, &args); err != nil {
		return nil, err
	}

	u, err := url.Parse(args.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return Errorf("webfetch: invalid url %q", args.URL), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Errorf("webfetch: %v", err), nil
	}
	req.Header.Set("User-Agent", webfetchUserAgent)

	client := t.Client
	if client == nil {
		client = &http.Client{Timeout: webfetchTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return Errorf("webfetch %s: %v", args.URL, err), nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, webfetchMaxBody))
	if err != nil {
		return Errorf("webfetch %s: read body: %v", args.URL, err), nil
	}
	if resp.StatusCode >= 400 {
		return Errorf("webfetch %s: status %d\n%s", args.URL, resp.StatusCode, firstLine(string(body))), nil
	}

	content := string(body)
	if args.Format != "raw" && strings.Contains(resp.Header.Get("Content-Type"), "html") {
		content = htmlToText(content)
	}
	return &ToolResult{
		Content: content,
		Title:   u.Host,
		Metadata: map[string]string{
			"status":       fmt.Sprintf("%d", resp.StatusCode),
			"content_type": resp.Header.Get("Content-Type"),
		},
	}, nil
}

var (
	scriptRe = regexp.MustCompile(`(?is)<(script|style|head)\b.*?</(script|style|head)>`)
	tagRe    = regexp.MustCompile(`<[^>]+>`)
	blankRe  = regexp.MustCompile(`\n{3,}`)
)

// htmlToText strips markup to leave readable text. Good enough for
// documentation pages; not a browser.
func htmlToText(html string) string {
	s := scriptRe.ReplaceAllString(html, "")
	s = tagRe.ReplaceAllString(s, " ")
	s = strings.ReplaceAll(s, "&amp;", "&")
	s = strings.ReplaceAll(s, "&lt;", "<")
	s = strings.ReplaceAll(s, "&gt;", ">")
	s = strings.ReplaceAll(s, "&quot;", `"`)
	s = strings.ReplaceAll(s, "&#39;", "'")
	s = strings.ReplaceAll(s, "&nbsp;", " ")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	s = strings.Join(lines, "\n")
	return strings.TrimSpace(blankRe.ReplaceAllString(s, "\n\n"))
}
