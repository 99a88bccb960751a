package client

import (
	"context"
	"io"
	"net/http"
)

// The PipeHandle methods below round out api.Handle's pipe noun
// against the routes pkg/api/pipe.go mounts.

func (c *Client) CreatePipe(ctx context.Context) (string, error) {
	resp, err := c.do(ctx, http.MethodPost, "/pipes", nil, nil)
	if err != nil {
		return "", err
	}
	var out idResponse
	if err := decodeJSON(resp, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *Client) ClosePipe(ctx context.Context, id string) error {
	resp, err := c.do(ctx, http.MethodPost, "/pipes/"+id+"/close", nil, nil)
	if err != nil {
		return err
	}
	return decodeJSON(resp, nil)
}

func (c *Client) DeletePipe(ctx context.Context, id string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/pipes/"+id, nil, nil)
	if err != nil {
		return err
	}
	return decodeJSON(resp, nil)
}

func (c *Client) TryReadPipe(ctx context.Context, id string) (<-chan []byte, bool, error) {
	resp, err := c.do(ctx, http.MethodGet, "/pipes/"+id, nil, nil)
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
				if err != io.EOF {
					return
				}
				return
			}
		}
	}()
	return ch, true, nil
}

func (c *Client) WritePipe(ctx context.Context, id string, data []byte) error {
	resp, err := c.do(ctx, http.MethodPut, "/pipes/"+id, nil, newBodyReader(data))
	if err != nil {
		return err
	}
	return decodeJSON(resp, nil)
}
