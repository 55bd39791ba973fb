package propagation

import (
	"github.com/go-resty/resty/v2"
)

// Resty registers a before-request hook on client that sets the
// propagation header from each request's context.
func Resty(client *resty.Client) *resty.Client {
	return client.OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
		if p, ok := FromContext(r.Context()); ok && p.Header != "" && p.Value != "" {
			r.SetHeader(p.Header, p.Value)
		}
		return nil
	})
}
