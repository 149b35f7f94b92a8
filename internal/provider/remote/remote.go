// Package remote talks to the payment, tax and shipping collaborators over
// HTTP. Every client takes a Doer so callers can stack retries, rate
// limiting and a circuit breaker from pkg/httpclient in front of it.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	apperrors "github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/errors"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/httpclient"
)

// Doer executes HTTP requests.
// Both httpclient.Client and httpclient.CircuitBreakerClient satisfy this.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// endpoint is a collaborator base URL plus the name used in errors and logs.
type endpoint struct {
	doer    Doer
	baseURL string
	service string
}

func newEndpoint(doer Doer, baseURL, service string) endpoint {
	return endpoint{doer: doer, baseURL: strings.TrimRight(baseURL, "/"), service: service}
}

// call sends in as a JSON body (or no body when nil) and decodes a 2xx
// response into out. header may be nil.
func (e endpoint) call(ctx context.Context, method, path string, header http.Header, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", e.service, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, e.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create %s request: %w", e.service, err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.doer.Do(ctx, req)
	if err != nil {
		if errors.Is(err, httpclient.ErrCircuitOpen) {
			return apperrors.ServiceUnavailable(e.service + " is temporarily unavailable, please retry later")
		}
		return fmt.Errorf("call %s service: %w", e.service, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return httpclient.ParseResponseError(resp, e.service)
	}
	defer func() { _ = resp.Body.Close() }()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", e.service, err)
	}
	return nil
}
