// File: internal/browser/options.go
package browser

import (
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/decentraleyes/loadwatcher/internal/config"
)

// flagArg is one command line switch from the browser.args setting.
type flagArg struct {
	name  string
	value interface{}
}

// parseArgs turns "--name" and "name=value" strings into chromedp flag pairs.
func parseArgs(args []string) []flagArg {
	out := make([]flagArg, 0, len(args))
	for _, arg := range args {
		arg = strings.TrimLeft(strings.TrimSpace(arg), "-")
		if arg == "" {
			continue
		}
		if name, value, ok := strings.Cut(arg, "="); ok {
			out = append(out, flagArg{name: name, value: value})
			continue
		}
		out = append(out, flagArg{name: arg, value: true})
	}
	return out
}

// AllocatorOptions translates the browser config into chromedp allocator options.
func AllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Headless)
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	for _, f := range parseArgs(cfg.Args) {
		opts = append(opts, chromedp.Flag(f.name, f.value))
	}
	return opts
}
