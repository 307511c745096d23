// Package translator turns prompts into the language the image providers understand.
package translator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/html"
	"golang.org/x/text/language"
)

const (
	DefaultBaseURL = "https://translate.google.com"

	// maxTextLength mirrors the limit of the public mobile endpoint.
	maxTextLength    = 5000
	maxResponseBytes = 1 << 20
	userAgent        = "Mozilla/5.0 (Linux; Android 10) AppleWebKit/537.36 (KHTML, like Gecko) Mobile Safari/537.36"
)

var (
	ErrTextTooLong      = errors.New("translator: text exceeds 5000 characters")
	ErrEmptyTranslation = errors.New("translator: response contains no translation")
)

// Translator translates text between two language codes.
type Translator interface {
	Translate(ctx context.Context, text, source, target string) (string, error)
}

// Options configures GoogleTranslator.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// GoogleTranslator scrapes the result container of Google's mobile translate page.
type GoogleTranslator struct {
	baseURL    string
	httpClient *http.Client
}

// NewGoogleTranslator constructs a translator with sane defaults.
func NewGoogleTranslator(opts Options) *GoogleTranslator {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &GoogleTranslator{baseURL: baseURL, httpClient: httpClient}
}

// Translate returns the translated text or an error; callers that must not fail
// should go through BestEffort.
func (g *GoogleTranslator) Translate(ctx context.Context, text, source, target string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}
	if len([]rune(text)) > maxTextLength {
		return "", ErrTextTooLong
	}
	sl, err := normalizeLanguage(source, true)
	if err != nil {
		return "", err
	}
	tl, err := normalizeLanguage(target, false)
	if err != nil {
		return "", err
	}

	query := url.Values{}
	query.Set("sl", sl)
	query.Set("tl", tl)
	query.Set("q", text)
	endpoint := g.baseURL + "/m?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("translator: build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("translator: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return "", fmt.Errorf("translator: status %d", resp.StatusCode)
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("translator: parse response: %w", err)
	}
	result := strings.TrimSpace(resultText(doc))
	if result == "" {
		return "", ErrEmptyTranslation
	}
	return result, nil
}

func normalizeLanguage(code string, allowAuto bool) (string, error) {
	code = strings.TrimSpace(code)
	if allowAuto && strings.EqualFold(code, "auto") {
		return "auto", nil
	}
	tag, err := language.Parse(code)
	if err != nil {
		return "", fmt.Errorf("translator: language %q: %w", code, err)
	}
	return tag.String(), nil
}

func resultText(n *html.Node) string {
	if n.Type == html.ElementNode && n.Data == "div" && hasClass(n, "result-container") {
		var sb strings.Builder
		collectText(n, &sb)
		return sb.String()
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if text := resultText(child); text != "" {
			return text
		}
	}
	return ""
}

func collectText(n *html.Node, sb *strings.Builder) {
	if n.Type == html.TextNode {
		sb.WriteString(n.Data)
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		collectText(child, sb)
	}
}

func hasClass(n *html.Node, class string) bool {
	for _, attr := range n.Attr {
		if attr.Key != "class" {
			continue
		}
		for _, field := range strings.Fields(attr.Val) {
			if field == class {
				return true
			}
		}
	}
	return false
}

// BestEffort never fails: on any translation error it logs a warning and returns
// text unchanged. A nil translator or identical languages skip the remote call.
func BestEffort(ctx context.Context, t Translator, logger zerolog.Logger, text, source, target string) string {
	if t == nil || strings.TrimSpace(text) == "" || strings.EqualFold(source, target) {
		return text
	}
	translated, err := t.Translate(ctx, text, source, target)
	if err != nil {
		logger.Warn().Err(err).Str("source", source).Str("target", target).Msg("translation failed, using original prompt")
		return text
	}
	if strings.TrimSpace(translated) == "" {
		logger.Warn().Str("source", source).Str("target", target).Msg("translation came back empty, using original prompt")
		return text
	}
	return translated
}
