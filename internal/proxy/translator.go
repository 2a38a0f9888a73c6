package proxy

import (
	"context"
	"io"
	"net/http"
)

// buildOutbound constructs the request forwarded to origin: same method,
// path and raw query as the inbound request, only the authority changes.
// Headers are cloned minus Host (the transport regenerates it for the new
// authority; a stale Host risks upstream rejection) and X-Forwarded-Host is
// set to the inbound host so the origin still sees the public-facing name.
//
// GET and HEAD never carry a body regardless of what the caller sent. For
// other methods the given body is used as-is; it may be the inbound stream
// (single read) or a buffered copy for replay.
func buildOutbound(ctx context.Context, in *http.Request, origin string, body io.Reader) (*http.Request, error) {
	if in.Method == http.MethodGet || in.Method == http.MethodHead {
		body = nil
	}

	target := origin + in.URL.RequestURI()
	out, err := http.NewRequestWithContext(ctx, in.Method, target, body)
	if err != nil {
		return nil, err
	}

	out.Header = in.Header.Clone()
	out.Header.Del("Host")
	out.Header.Set("X-Forwarded-Host", in.Host)

	// When streaming the inbound body straight through, carry the declared
	// length so the transport does not have to chunk a sized request.
	if body != nil && body == in.Body {
		out.ContentLength = in.ContentLength
	}
	return out, nil
}
