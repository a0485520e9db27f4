// File: internal/policy/event.go
package policy

import "context"

// ContentType is the category of the resource a load event fetches.
type ContentType string

const (
	TypeOther      ContentType = "other"
	TypeScript     ContentType = "script"
	TypeStylesheet ContentType = "stylesheet"
	TypeImage      ContentType = "image"
	TypeFont       ContentType = "font"
	TypeDocument   ContentType = "document"
	TypeSubframe   ContentType = "subdocument"
	TypeXHR        ContentType = "xmlhttprequest"
	TypeMedia      ContentType = "media"
)

// Verdict is the answer a content-policy handler gives for a load.
type Verdict int

const (
	// Allow lets the load proceed. It is the zero value.
	Allow Verdict = iota
	Deny
)

func (v Verdict) String() string {
	if v == Deny {
		return "deny"
	}
	return "allow"
}

// HostResolution is the outcome of resolving the host of a resource location.
// An unresolved location (opaque, data:, about:, malformed) has no host.
type HostResolution struct {
	host     string
	resolved bool
}

// Resolved wraps a host that was successfully extracted from a location.
func Resolved(host string) HostResolution {
	return HostResolution{host: host, resolved: true}
}

// Unresolved is the resolution of a location without a network host.
func Unresolved() HostResolution {
	return HostResolution{}
}

// Host returns the resolved host and whether resolution succeeded.
func (r HostResolution) Host() (string, bool) {
	return r.host, r.resolved
}

// Node is the DOM node that initiated a load. Only its element type and
// attribute presence are ever queried.
type Node interface {
	IsScriptElement() bool
	HasAttribute(name string) bool
}

// Element is a plain Node implementation used by event sources that learn the
// initiating element from metadata rather than from a live DOM.
type Element struct {
	Tag        string
	Attributes map[string]string
}

// IsScriptElement reports whether the element is a <script>.
func (e *Element) IsScriptElement() bool {
	return e != nil && (e.Tag == "script" || e.Tag == "SCRIPT")
}

// HasAttribute reports whether the attribute is present, whatever its value.
func (e *Element) HasAttribute(name string) bool {
	if e == nil {
		return false
	}
	_, ok := e.Attributes[name]
	return ok
}

// LoadEvent describes one outgoing resource load. It lives only for the
// duration of a single evaluation.
type LoadEvent struct {
	ID          string
	Source      string
	ContentType ContentType
	Target      HostResolution
	OriginHost  string
	Node        Node
}

// IsScriptElement reports whether the load was initiated by a <script> element.
func (e LoadEvent) IsScriptElement() bool {
	return e.Node != nil && e.Node.IsScriptElement()
}

// HasIntegrityOrCrossOrigin reports whether the initiating element declares an
// integrity or crossorigin attribute.
func (e LoadEvent) HasIntegrityOrCrossOrigin() bool {
	if e.Node == nil {
		return false
	}
	return e.Node.HasAttribute("crossorigin") || e.Node.HasAttribute("integrity")
}

// Handler evaluates load events. Handlers registered under the content-policy
// category are consulted for every load.
type Handler interface {
	ShouldLoad(ctx context.Context, ev LoadEvent) Verdict
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, ev LoadEvent) Verdict

// ShouldLoad calls f(ctx, ev).
func (f HandlerFunc) ShouldLoad(ctx context.Context, ev LoadEvent) Verdict {
	return f(ctx, ev)
}
