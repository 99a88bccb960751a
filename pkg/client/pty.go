package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/tangramdotdev/tangram/pkg/api"
)

// The PtyHandle methods below round out api.Handle's pty noun against
// the routes pkg/api/pty.go mounts, the same streaming pattern as
// pipe.go's TryReadPipe with the addition of GetPtySize.

func (c *Client) CreatePty(ctx context.Context, size api.PtySize) (string, error) {
	query := url.Values{
		"rows": {strconv.Itoa(int(size.Rows))},
		"cols": {strconv.Itoa(int(size.Cols))},
	}
	resp, err := c.do(ctx, http.MethodPost, "/ptys", query, nil)
	if err != nil {
		return "", err
	}
	var out idResponse
	if err := decodeJSON(resp, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *Client) ClosePty(ctx context.Context, id string) error {
	resp, err := c.do(ctx, http.MethodPost, "/ptys/"+id+"/close", nil, nil)
	if err != nil {
		return err
	}
	return decodeJSON(resp, nil)
}

func (c *Client) DeletePty(ctx context.Context, id string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/ptys/"+id, nil, nil)
	if err != nil {
		return err
	}
	return decodeJSON(resp, nil)
}

func (c *Client) GetPtySize(ctx context.Context, id string) (*api.PtySize, bool, error) {
	resp, err := c.do(ctx, http.MethodGet, "/ptys/"+id+"/size", nil, nil)
	if err != nil {
		return nil, false, err
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, false, nil
	}
	var out api.PtySize
	if err := decodeJSON(resp, &out); err != nil {
		return nil, true, err
	}
	return &out, true, nil
}

func (c *Client) TryReadPty(ctx context.Context, id string) (<-chan []byte, bool, error) {
	resp, err := c.do(ctx, http.MethodGet, "/ptys/"+id, nil, nil)
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
	ch := make(chan []byte, 16)
	go func() {
		defer close(ch)
		defer resp.Body.Close()
		buf := make([]byte, 4096)
		for {
			n, err := resp.Body.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				select {
				case ch <- chunk:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()
	return ch, true, nil
}

func (c *Client) WritePty(ctx context.Context, id string, data []byte) error {
	resp, err := c.do(ctx, http.MethodPut, "/ptys/"+id, nil, newBodyReader(data))
	if err != nil {
		return err
	}
	return decodeJSON(resp, nil)
}
