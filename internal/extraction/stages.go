package extraction

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// Default selectors for the editor's result affordances.
const (
	DownloadButtonXPath = `//button[contains(normalize-space(.), 'Download')] | //a[contains(normalize-space(.), 'Download')]`
	ResultModalXPath    = `//button[contains(normalize-space(.), 'View') or contains(normalize-space(.), 'Open') or contains(normalize-space(.), 'Preview')] | //img[contains(@class, 'result')]`
	ModalDownloadXPath  = `//*[@role='dialog' or contains(@class, 'modal')]//*[self::button or self::a][contains(normalize-space(.), 'Download') or @download]`
)

// minImageBytes filters icons and placeholders out of inline candidates.
const minImageBytes = 1024

// DirectDownload clicks the primary download affordance.
type DirectDownload struct {
	Selector string
}

func (s DirectDownload) Name() string { return "direct_download" }

func (s DirectDownload) Extract(ctx context.Context, page Page) ([]byte, error) {
	sel := s.Selector
	if sel == "" {
		sel = DownloadButtonXPath
	}
	ok, err := page.Visible(ctx, sel)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("download control not visible: %w", ErrNoMatch)
	}
	return page.Download(ctx, sel)
}

// ModalDownload opens the result through a secondary control, then uses the
// download control it reveals.
type ModalDownload struct {
	OpenSelector     string
	DownloadSelector string
	Settle           time.Duration
}

func (s ModalDownload) Name() string { return "modal_download" }

func (s ModalDownload) Extract(ctx context.Context, page Page) ([]byte, error) {
	openSel := s.OpenSelector
	if openSel == "" {
		openSel = ResultModalXPath
	}
	dlSel := s.DownloadSelector
	if dlSel == "" {
		dlSel = ModalDownloadXPath
	}

	ok, err := page.Visible(ctx, openSel)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("secondary control not visible: %w", ErrNoMatch)
	}
	if err := page.Click(ctx, openSel); err != nil {
		return nil, fmt.Errorf("open secondary control: %w", err)
	}
	if s.Settle > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.Settle):
		}
	}

	ok, err = page.Visible(ctx, dlSel)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("no download control after opening result: %w", ErrNoMatch)
	}
	return page.Download(ctx, dlSel)
}

// InlineData decodes the largest base64 data URI image found in the DOM.
type InlineData struct{}

func (InlineData) Name() string { return "inline_data" }

func (InlineData) Extract(ctx context.Context, page Page) ([]byte, error) {
	doc, err := page.HTML(ctx)
	if err != nil {
		return nil, err
	}
	var best []byte
	for _, ref := range imageRefs(doc) {
		if !strings.HasPrefix(ref, "data:image/") {
			continue
		}
		data, err := decodeDataURI(ref)
		if err != nil {
			continue
		}
		if len(data) > len(best) {
			best = data
		}
	}
	if len(best) < minImageBytes {
		return nil, fmt.Errorf("no inline image data: %w", ErrNoMatch)
	}
	return best, nil
}

// StaticReference scans static DOM references for a result resource and
// fetches the first that matches Pattern.
type StaticReference struct {
	Pattern *regexp.Regexp
}

func (StaticReference) Name() string { return "static_reference" }

func (s StaticReference) Extract(ctx context.Context, page Page) ([]byte, error) {
	if s.Pattern == nil {
		return nil, fmt.Errorf("no result pattern configured: %w", ErrNoMatch)
	}
	doc, err := page.HTML(ctx)
	if err != nil {
		return nil, err
	}
	base, _ := page.URL(ctx)

	var lastErr error
	seen := map[string]struct{}{}
	for _, ref := range imageRefs(doc) {
		if strings.HasPrefix(ref, "data:") || !s.Pattern.MatchString(ref) {
			continue
		}
		abs := resolveRef(base, ref)
		if _, dup := seen[abs]; dup {
			continue
		}
		seen[abs] = struct{}{}

		data, err := page.Fetch(ctx, abs)
		if err != nil {
			lastErr = err
			continue
		}
		if len(data) > 0 {
			return data, nil
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("fetch matching reference: %w", lastErr)
	}
	return nil, fmt.Errorf("no reference matches %s: %w", s.Pattern, ErrNoMatch)
}

// imageRefs collects img/source src and srcset values plus anchor hrefs in
// document order.
func imageRefs(doc string) []string {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return nil
	}
	var refs []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "img", "source":
				for _, a := range n.Attr {
					switch a.Key {
					case "src", "data-src":
						if v := strings.TrimSpace(a.Val); v != "" {
							refs = append(refs, v)
						}
					case "srcset":
						refs = append(refs, parseSrcset(a.Val)...)
					}
				}
			case "a":
				for _, a := range n.Attr {
					if a.Key == "href" {
						if v := strings.TrimSpace(a.Val); v != "" {
							refs = append(refs, v)
						}
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return refs
}

func parseSrcset(v string) []string {
	if strings.HasPrefix(strings.TrimSpace(v), "data:") {
		return []string{strings.TrimSpace(v)}
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		fields := strings.Fields(part)
		if len(fields) > 0 {
			out = append(out, fields[0])
		}
	}
	return out
}

func decodeDataURI(ref string) ([]byte, error) {
	comma := strings.IndexByte(ref, ',')
	if comma < 0 {
		return nil, fmt.Errorf("malformed data uri")
	}
	meta, payload := ref[:comma], ref[comma+1:]
	if !strings.HasSuffix(meta, ";base64") {
		return nil, fmt.Errorf("data uri is not base64")
	}
	payload = strings.Map(func(r rune) rune {
		if r == ' ' || r == '\n' || r == '\r' || r == '\t' {
			return -1
		}
		return r
	}, payload)
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if err != nil {
			return nil, err
		}
	}
	if !looksLikeImage(data) {
		return nil, fmt.Errorf("data uri payload is not an image")
	}
	return data, nil
}

var imageMagic = [][]byte{
	{0x89, 'P', 'N', 'G'},
	{0xFF, 0xD8, 0xFF},
	[]byte("GIF8"),
	[]byte("RIFF"),
}

func looksLikeImage(data []byte) bool {
	for _, m := range imageMagic {
		if bytes.HasPrefix(data, m) {
			return true
		}
	}
	return false
}

func resolveRef(base, ref string) string {
	u, err := url.Parse(ref)
	if err != nil || u.IsAbs() || base == "" {
		return ref
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	return b.ResolveReference(u).String()
}
