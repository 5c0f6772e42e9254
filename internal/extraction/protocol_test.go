package extraction

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/seedream-pipeline/internal/common"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

func fakePNG(size int) []byte {
	return append(append([]byte{}, pngHeader...), bytes.Repeat([]byte{0xAB}, size)...)
}

// fakePage answers Visible from a set of selectors and records calls.
type fakePage struct {
	visible   map[string]bool
	downloads map[string][]byte
	html      string
	url       string
	resources map[string][]byte
	shot      []byte
	clicks    []string
	fetched   []string
}

func (p *fakePage) Visible(_ context.Context, sel string) (bool, error) {
	return p.visible[sel], nil
}

func (p *fakePage) Click(_ context.Context, sel string) error {
	p.clicks = append(p.clicks, sel)
	if sel == ResultModalXPath {
		p.visible[ModalDownloadXPath] = p.downloads[ModalDownloadXPath] != nil
	}
	return nil
}

func (p *fakePage) Download(_ context.Context, sel string) ([]byte, error) {
	if data, ok := p.downloads[sel]; ok {
		return data, nil
	}
	return nil, fmt.Errorf("download did not start")
}

func (p *fakePage) HTML(context.Context) (string, error) { return p.html, nil }
func (p *fakePage) URL(context.Context) (string, error)  { return p.url, nil }

func (p *fakePage) Fetch(_ context.Context, u string) ([]byte, error) {
	p.fetched = append(p.fetched, u)
	if data, ok := p.resources[u]; ok {
		return data, nil
	}
	return nil, fmt.Errorf("404 %s", u)
}

func (p *fakePage) Screenshot(context.Context) ([]byte, error) {
	if p.shot == nil {
		return nil, errors.New("no screenshot")
	}
	return p.shot, nil
}

func newFakePage() *fakePage {
	return &fakePage{
		visible:   map[string]bool{},
		downloads: map[string][]byte{},
		resources: map[string][]byte{},
		url:       "https://seedream.example/ai-photo-editor",
		shot:      fakePNG(10),
	}
}

func newProtocol(t *testing.T) *Protocol {
	t.Helper()
	pattern := regexp.MustCompile(`/results/.*\.png$`)
	return NewProtocol(DefaultStages(pattern), t.TempDir(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestDirectDownloadWins(t *testing.T) {
	page := newFakePage()
	page.visible[DownloadButtonXPath] = true
	page.downloads[DownloadButtonXPath] = fakePNG(2048)

	res, err := newProtocol(t).Extract(context.Background(), page, "1")
	require.NoError(t, err)
	assert.Equal(t, "direct_download", res.Stage)
	assert.Empty(t, page.clicks)
}

func TestModalDownloadFallback(t *testing.T) {
	page := newFakePage()
	page.visible[ResultModalXPath] = true
	page.downloads[ModalDownloadXPath] = fakePNG(2048)

	res, err := newProtocol(t).Extract(context.Background(), page, "2")
	require.NoError(t, err)
	assert.Equal(t, "modal_download", res.Stage)
	assert.Equal(t, []string{ResultModalXPath}, page.clicks)
}

func TestInlineDataPicksLargest(t *testing.T) {
	small := base64.StdEncoding.EncodeToString(fakePNG(1500))
	large := base64.StdEncoding.EncodeToString(fakePNG(4000))
	page := newFakePage()
	page.html = `<html><body>
		<img src="data:image/png;base64,` + small + `">
		<img class="result" src="data:image/png;base64,` + large + `">
		<img src="data:image/svg+xml;base64,PHN2Zz48L3N2Zz4=">
	</body></html>`

	res, err := newProtocol(t).Extract(context.Background(), page, "3")
	require.NoError(t, err)
	assert.Equal(t, "inline_data", res.Stage)
	assert.Equal(t, fakePNG(4000), res.Data)
}

func TestStaticReferenceResolvesRelative(t *testing.T) {
	page := newFakePage()
	page.html = `<html><body>
		<img src="/static/logo.png">
		<picture><source srcset="/results/abc.png 1x, /results/abc@2x.png 2x"></picture>
	</body></html>`
	page.resources["https://seedream.example/results/abc.png"] = fakePNG(100)

	res, err := newProtocol(t).Extract(context.Background(), page, "4")
	require.NoError(t, err)
	assert.Equal(t, "static_reference", res.Stage)
	assert.Equal(t, []string{"https://seedream.example/results/abc.png"}, page.fetched)
}

func TestExhaustedListsEveryStageAndCapturesDebug(t *testing.T) {
	page := newFakePage()
	page.html = `<html><body><p>nothing here</p></body></html>`

	proto := newProtocol(t)
	_, err := proto.Extract(context.Background(), page, "55")
	require.Error(t, err)
	assert.True(t, common.IsKind(err, common.KindExtractionExhausted))

	var exhausted *ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	require.Len(t, exhausted.Attempts, 4)
	for i, name := range proto.Stages() {
		assert.Equal(t, name, exhausted.Attempts[i].Stage)
	}
	require.NotEmpty(t, exhausted.DebugPath)
	_, statErr := os.Stat(exhausted.DebugPath)
	assert.NoError(t, statErr)
	assert.Contains(t, err.Error(), "debug:")
}

func TestExtractStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newProtocol(t).Extract(ctx, newFakePage(), "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCaptureDebugFallsBackToHTML(t *testing.T) {
	page := newFakePage()
	page.shot = nil
	page.html = "<html></html>"

	path, err := CaptureDebug(context.Background(), page, t.TempDir(), "7 / timeout")
	require.NoError(t, err)
	assert.Regexp(t, `7___timeout_.*\.html$`, path)
}
