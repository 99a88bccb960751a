package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/tangramdotdev/tangram/pkg/api"
	"github.com/tangramdotdev/tangram/pkg/checkout"
	"github.com/tangramdotdev/tangram/pkg/tgerror"
)

// The SessionHandle methods below round out api.Handle's session-level
// slice against the routes pkg/api/session.go mounts.

func (c *Client) Index(ctx context.Context) (<-chan api.ProgressEvent, error) {
	resp, err := c.do(ctx, http.MethodPost, "/index", nil, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return singleFrame(nil, decodeError(resp)), nil
	}
	resp.Body.Close()
	return singleFrame(nil, nil), nil
}

func (c *Client) Clean(ctx context.Context) (<-chan api.ProgressEvent, error) {
	resp, err := c.do(ctx, http.MethodPost, "/clean", nil, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return singleFrame(nil, decodeError(resp)), nil
	}
	var body struct {
		Current int64
	}
	if err := decodeJSON(resp, &body); err != nil {
		return singleFrame(nil, err), nil
	}
	return singleFrame(body.Current, nil), nil
}

func (c *Client) Checkout(ctx context.Context, arg api.CheckoutArg) (<-chan api.ProgressEvent, error) {
	body, err := json.Marshal(arg)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, http.MethodPost, "/checkout", nil, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return singleFrame(nil, decodeError(resp)), nil
	}
	var out checkout.Output
	if err := decodeJSON(resp, &out); err != nil {
		return singleFrame(nil, err), nil
	}
	return singleFrame(out, nil), nil
}

func (c *Client) Pull(ctx context.Context, arg api.TransferArg) (<-chan api.ProgressEvent, error) {
	body, err := json.Marshal(arg)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, http.MethodPost, "/pull", nil, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return singleFrame(nil, decodeError(resp)), nil
	}
	resp.Body.Close()
	return singleFrame(nil, nil), nil
}

func (c *Client) Push(ctx context.Context, arg api.TransferArg) (<-chan api.ProgressEvent, error) {
	body, err := json.Marshal(arg)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, http.MethodPost, "/push", nil, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return singleFrame(nil, decodeError(resp)), nil
	}
	resp.Body.Close()
	return singleFrame(nil, nil), nil
}

func (c *Client) TryReadBlobStream(ctx context.Context, id string, position, length int64) (<-chan []byte, bool, error) {
	query := url.Values{}
	if position != 0 {
		query.Set("position", strconv.FormatInt(position, 10))
	}
	if length != 0 {
		query.Set("length", strconv.FormatInt(length, 10))
	}
	resp, err := c.do(ctx, http.MethodGet, "/blobs/"+id, query, nil)
	if err != nil {
		return nil, false, err
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, false, nil
	}
	if resp.StatusCode >= 300 {
		return nil, true, decodeError(resp)
	}
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, true, err
	}
	ch := make(chan []byte, 1)
	ch <- data
	close(ch)
	return ch, true, nil
}

func (c *Client) Write(ctx context.Context, data []byte) (string, error) {
	resp, err := c.do(ctx, http.MethodPost, "/blobs", nil, newBodyReader(data))
	if err != nil {
		return "", err
	}
	var out idResponse
	if err := decodeJSON(resp, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// Module interpretation (resolve/load/checkin/check/document/format/
// lsp/sync) is out of scope per spec.md's Non-goals; Server reports
// these as CodeOther errors and mounts no routes for them, so Client
// sends no request and returns its own CodeOther error.

func (c *Client) ResolveModule(ctx context.Context) error { return errNotSupportedByRemote }
func (c *Client) LoadModule(ctx context.Context) error    { return errNotSupportedByRemote }
func (c *Client) Checkin(ctx context.Context) error       { return errNotSupportedByRemote }
func (c *Client) Check(ctx context.Context) error         { return errNotSupportedByRemote }
func (c *Client) Document(ctx context.Context) error      { return errNotSupportedByRemote }
func (c *Client) Format(ctx context.Context) error        { return errNotSupportedByRemote }
func (c *Client) LSP(ctx context.Context) error           { return errNotSupportedByRemote }
func (c *Client) Sync(ctx context.Context) error          { return errNotSupportedByRemote }

var errNotSupportedByRemote = tgerror.New(tgerror.CodeOther, "not implemented by remote")
