// File: internal/browser/auditor.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/decentraleyes/loadwatcher/internal/config"
	"github.com/decentraleyes/loadwatcher/internal/policy"
	"github.com/decentraleyes/loadwatcher/internal/taint"
)

// SourceBrowser tags events produced by the page auditor.
const SourceBrowser = "browser"

// EventSink receives the load events found on audited pages.
type EventSink interface {
	Deliver(ev policy.LoadEvent) error
}

// ScriptTag is a <script src> element found on a page.
type ScriptTag struct {
	Src            string `json:"src"`
	HasIntegrity   bool   `json:"integrity"`
	HasCrossOrigin bool   `json:"crossorigin"`
}

// Report summarises one audit.
type Report struct {
	PageURL   string      `json:"page_url"`
	Origin    string      `json:"origin"`
	Scripts   []ScriptTag `json:"scripts"`
	Delivered int         `json:"delivered"`
}

// Auditor loads pages in Chrome and reports their script elements as load
// events, catching integrity-bearing scripts a proxy cannot see through TLS.
type Auditor struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	sink        EventSink
	timeout     time.Duration
	logger      *zap.Logger
}

// NewAuditor prepares a browser allocator. Chrome starts on the first audit.
func NewAuditor(cfg config.BrowserConfig, sink EventSink, logger *zap.Logger) *Auditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), AllocatorOptions(cfg)...)
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &Auditor{
		allocCtx:    allocCtx,
		allocCancel: cancel,
		sink:        sink,
		timeout:     timeout,
		logger:      logger.Named("auditor"),
	}
}

// Audit navigates to pageURL and delivers one event per external script.
func (a *Auditor) Audit(ctx context.Context, pageURL string) (*Report, error) {
	tabCtx, tabCancel := chromedp.NewContext(a.allocCtx)
	defer tabCancel()
	runCtx, cancel := context.WithTimeout(tabCtx, a.timeout)
	defer cancel()

	// Propagate cancellation from the caller onto the tab.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var finalURL string
	var nodes []*cdp.Node
	err := chromedp.Run(runCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&finalURL),
		chromedp.Nodes("script[src]", &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0)),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("failed to audit %s: %w", pageURL, err)
	}

	report, events, err := buildReport(finalURL, nodes)
	if err != nil {
		return nil, err
	}
	for _, ev := range events {
		if err := a.sink.Deliver(ev); err != nil {
			a.logger.Warn("Load event not delivered", zap.String("page", finalURL), zap.Error(err))
			continue
		}
		report.Delivered++
	}
	a.logger.Info("Page audited.",
		zap.String("page", finalURL),
		zap.Int("scripts", len(report.Scripts)),
		zap.Int("delivered", report.Delivered),
	)
	return report, nil
}

// Close shuts the browser down.
func (a *Auditor) Close() {
	a.allocCancel()
}

// buildReport resolves script sources against the page and converts them to
// load events originating from the page's host.
func buildReport(pageURL string, nodes []*cdp.Node) (*Report, []policy.LoadEvent, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid page URL %q: %w", pageURL, err)
	}
	origin, ok := taint.NormalizeDomain(base.Host)
	if !ok {
		return nil, nil, errors.New("page has no host")
	}

	report := &Report{PageURL: pageURL, Origin: origin}
	events := make([]policy.LoadEvent, 0, len(nodes))
	for _, n := range nodes {
		tag := scriptTagFromNode(base, n)
		report.Scripts = append(report.Scripts, tag)
		events = append(events, eventFromScriptTag(origin, tag))
	}
	return report, events, nil
}

func scriptTagFromNode(base *url.URL, n *cdp.Node) ScriptTag {
	src := n.AttributeValue("src")
	if ref, err := url.Parse(src); err == nil {
		src = base.ResolveReference(ref).String()
	}
	_, integrity := n.Attribute("integrity")
	_, crossOrigin := n.Attribute("crossorigin")
	return ScriptTag{Src: src, HasIntegrity: integrity, HasCrossOrigin: crossOrigin}
}

func eventFromScriptTag(origin string, tag ScriptTag) policy.LoadEvent {
	attrs := map[string]string{"src": tag.Src}
	if tag.HasIntegrity {
		attrs["integrity"] = ""
	}
	if tag.HasCrossOrigin {
		attrs["crossorigin"] = ""
	}

	target := policy.Unresolved()
	if u, err := url.Parse(tag.Src); err == nil {
		if host, ok := taint.NormalizeDomain(u.Host); ok {
			target = policy.Resolved(host)
		}
	}
	return policy.LoadEvent{
		Source:      SourceBrowser,
		ContentType: policy.TypeScript,
		Target:      target,
		OriginHost:  origin,
		Node:        &policy.Element{Tag: "script", Attributes: attrs},
	}
}
