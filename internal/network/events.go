// File: internal/network/events.go
package network

import (
	"net/http"
	"strings"

	"github.com/decentraleyes/loadwatcher/internal/policy"
	"github.com/decentraleyes/loadwatcher/internal/taint"
)

// Fetch metadata request headers sent by browsers.
const (
	HeaderFetchDest = "Sec-Fetch-Dest"
	HeaderFetchMode = "Sec-Fetch-Mode"
)

// SourceProxy tags events produced by the proxy.
const SourceProxy = "proxy"

var destinations = map[string]policy.ContentType{
	"script":        policy.TypeScript,
	"audioworklet":  policy.TypeScript,
	"paintworklet":  policy.TypeScript,
	"serviceworker": policy.TypeScript,
	"sharedworker":  policy.TypeScript,
	"worker":        policy.TypeScript,
	"style":         policy.TypeStylesheet,
	"image":         policy.TypeImage,
	"font":          policy.TypeFont,
	"document":      policy.TypeDocument,
	"iframe":        policy.TypeSubframe,
	"frame":         policy.TypeSubframe,
	"embed":         policy.TypeSubframe,
	"object":        policy.TypeSubframe,
	"empty":         policy.TypeXHR,
	"audio":         policy.TypeMedia,
	"video":         policy.TypeMedia,
	"track":         policy.TypeMedia,
}

// ContentTypeFromDest maps a Sec-Fetch-Dest value to a content type.
func ContentTypeFromDest(dest string) policy.ContentType {
	if ct, ok := destinations[strings.ToLower(strings.TrimSpace(dest))]; ok {
		return ct
	}
	return policy.TypeOther
}

// EventFromRequest derives a load event from a proxied request using only its
// URL and fetch metadata. The request is not modified.
//
// Only a <script> element produces Sec-Fetch-Dest "script" with no worker
// destination, and such an element is fetched in cors mode exactly when it
// carries a crossorigin attribute. That is the signal reported as the
// element's crossorigin attribute. Module scripts are always fetched in cors
// mode, so their origins may be tainted without the attribute being present.
func EventFromRequest(r *http.Request) policy.LoadEvent {
	dest := strings.ToLower(r.Header.Get(HeaderFetchDest))
	ev := policy.LoadEvent{
		Source:      SourceProxy,
		ContentType: ContentTypeFromDest(dest),
		Target:      requestTarget(r),
		OriginHost:  requestOrigin(r),
	}

	if dest == "script" {
		el := &policy.Element{Tag: "script", Attributes: map[string]string{}}
		if strings.EqualFold(r.Header.Get(HeaderFetchMode), "cors") {
			el.Attributes["crossorigin"] = ""
		}
		ev.Node = el
	}
	return ev
}

func requestTarget(r *http.Request) policy.HostResolution {
	raw := ""
	if r.URL != nil {
		raw = r.URL.Host
	}
	if raw == "" {
		raw = r.Host
	}
	if host, ok := taint.NormalizeDomain(raw); ok {
		return policy.Resolved(host)
	}
	return policy.Unresolved()
}

// requestOrigin prefers the Origin header and falls back to the Referer.
func requestOrigin(r *http.Request) string {
	if origin := r.Header.Get("Origin"); origin != "" && origin != "null" {
		if host, ok := taint.NormalizeDomain(origin); ok {
			return host
		}
	}
	if referer := r.Referer(); referer != "" {
		if host, ok := taint.NormalizeDomain(referer); ok {
			return host
		}
	}
	return ""
}
