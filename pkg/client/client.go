package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tangramdotdev/tangram/pkg/api"
	"github.com/tangramdotdev/tangram/pkg/process"
	"github.com/tangramdotdev/tangram/pkg/tgerror"
	"github.com/tangramdotdev/tangram/pkg/transfer"
)

// Client wraps a remote tangram server's HTTP API for CLI and
// peer-to-peer use, one method per route (mirroring pkg/api's
// mount*Routes groups): a plain net/http.Client against pkg/api's
// chi router — see DESIGN.md for why grpc was dropped in favor of
// chi.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient constructs a Client against addr (e.g. "http://host:8080").
func NewClient(addr string) *Client {
	return &Client{
		baseURL: addr,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// NewClientWithAPIKey constructs a Client that sends apiKey on every
// request, matching Server's optional X-API-Key auth middleware.
func NewClientWithAPIKey(addr, apiKey string) *Client {
	c := NewClient(addr)
	c.apiKey = apiKey
	return c
}

func (c *Client) url(path string, query url.Values) string {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.url(path, query), body)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, tgerror.Wrap(tgerror.CodeIO, err, "request %s %s", method, path)
	}
	return resp, nil
}

// decodeJSON decodes resp's body into v and closes it, translating a
// non-2xx status into the tgerror.Code the server reported.
func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if v == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func decodeError(resp *http.Response) error {
	defer resp.Body.Close()
	var body struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return tgerror.New(tgerror.CodeOther, "request failed with status %d", resp.StatusCode)
	}
	return tgerror.New(tgerror.Code(body.Code), "%s", body.Message)
}

// Close releases the underlying transport's idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// Name identifies this client for process.Manager's Remote
// collaborator interface (spec.md §4.6's remote-forwarding boundary).
func (c *Client) Name() string {
	return c.baseURL
}

func (c *Client) Health(ctx context.Context) (*api.HealthOutput, error) {
	resp, err := c.do(ctx, http.MethodGet, "/health", nil, nil)
	if err != nil {
		return nil, err
	}
	var out api.HealthOutput
	if err := decodeJSON(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) TryGetObjectMetadata(ctx context.Context, id string) (*api.ObjectMetadata, bool, error) {
	resp, err := c.do(ctx, http.MethodHead, "/objects/"+id, nil, nil)
	if err != nil {
		return nil, false, err
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, false, nil
	}
	var out api.ObjectMetadata
	if err := decodeJSON(resp, &out); err != nil {
		return nil, true, err
	}
	return &out, true, nil
}

func (c *Client) TryGetObject(ctx context.Context, id string) ([]byte, bool, error) {
	resp, err := c.do(ctx, http.MethodGet, "/objects/"+id, nil, nil)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, false, nil
	}
	if resp.StatusCode >= 300 {
		return nil, true, decodeError(resp)
	}
	data, err := io.ReadAll(resp.Body)
	return data, true, err
}

func (c *Client) PutObject(ctx context.Context, id string, bytes []byte) error {
	resp, err := c.do(ctx, http.MethodPut, "/objects/"+id, nil, newBodyReader(bytes))
	if err != nil {
		return err
	}
	return decodeJSON(resp, nil)
}

func (c *Client) PostObjectBatch(ctx context.Context, items []api.ObjectBatchItem) error {
	for _, item := range items {
		if err := c.PutObject(ctx, item.ID, item.Bytes); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) TouchObject(ctx context.Context, id string) error {
	resp, err := c.do(ctx, http.MethodPost, "/objects/"+id+"/touch", nil, nil)
	if err != nil {
		return err
	}
	return decodeJSON(resp, nil)
}

func (c *Client) ListTags(ctx context.Context, pattern string) ([]api.TagEntry, error) {
	resp, err := c.do(ctx, http.MethodGet, "/tags", url.Values{"pattern": {pattern}}, nil)
	if err != nil {
		return nil, err
	}
	var out []api.TagEntry
	if err := decodeJSON(resp, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) TryGetTag(ctx context.Context, tag string) (*api.TagEntry, bool, error) {
	resp, err := c.do(ctx, http.MethodGet, "/tags/"+tag, nil, nil)
	if err != nil {
		return nil, false, err
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, false, nil
	}
	var out api.TagEntry
	if err := decodeJSON(resp, &out); err != nil {
		return nil, true, err
	}
	return &out, true, nil
}

func (c *Client) PutTag(ctx context.Context, tag, item string) error {
	body, err := json.Marshal(struct {
		Item string `json:"item"`
	}{Item: item})
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, http.MethodPut, "/tags/"+tag, nil, bytes.NewReader(body))
	if err != nil {
		return err
	}
	return decodeJSON(resp, nil)
}

func (c *Client) PostTagBatch(ctx context.Context, entries []api.TagEntry) error {
	body, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, http.MethodPost, "/tags/batch", nil, bytes.NewReader(body))
	if err != nil {
		return err
	}
	return decodeJSON(resp, nil)
}

func (c *Client) DeleteTag(ctx context.Context, tag string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/tags/"+tag, nil, nil)
	if err != nil {
		return err
	}
	return decodeJSON(resp, nil)
}

func (c *Client) ListRemotes(ctx context.Context) ([]api.RemoteEntry, error) {
	resp, err := c.do(ctx, http.MethodGet, "/remotes", nil, nil)
	if err != nil {
		return nil, err
	}
	var out []api.RemoteEntry
	if err := decodeJSON(resp, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) TryGetRemote(ctx context.Context, name string) (*api.RemoteEntry, bool, error) {
	resp, err := c.do(ctx, http.MethodGet, "/remotes/"+name, nil, nil)
	if err != nil {
		return nil, false, err
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, false, nil
	}
	var out api.RemoteEntry
	if err := decodeJSON(resp, &out); err != nil {
		return nil, true, err
	}
	return &out, true, nil
}

func (c *Client) PutRemote(ctx context.Context, name, remoteURL string) error {
	body, err := json.Marshal(struct {
		URL string `json:"url"`
	}{URL: remoteURL})
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, http.MethodPut, "/remotes/"+name, nil, bytes.NewReader(body))
	if err != nil {
		return err
	}
	return decodeJSON(resp, nil)
}

func (c *Client) DeleteRemote(ctx context.Context, name string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/remotes/"+name, nil, nil)
	if err != nil {
		return err
	}
	return decodeJSON(resp, nil)
}

// The ProcessHandle methods below round out api.Handle's
// process noun against the routes pkg/api/process.go mounts, with the
// api.Handle signatures; process.Remote's own method shapes are
// adapted separately by ProcessRemote in remote.go.

func (c *Client) ListProcesses(ctx context.Context, arg api.ProcessListArg) (*api.ProcessListOutput, error) {
	query := url.Values{}
	if arg.Limit > 0 {
		query.Set("limit", strconv.Itoa(arg.Limit))
	}
	resp, err := c.do(ctx, http.MethodGet, "/processes", query, nil)
	if err != nil {
		return nil, err
	}
	var out api.ProcessListOutput
	if err := decodeJSON(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) TryGetProcessMetadata(ctx context.Context, id string) (*api.ProcessMetadata, bool, error) {
	resp, err := c.do(ctx, http.MethodHead, "/processes/"+id, nil, nil)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, false, nil
	}
	if resp.StatusCode >= 300 {
		return nil, true, decodeError(resp)
	}
	return &api.ProcessMetadata{Status: resp.Header.Get("X-Tangram-Status")}, true, nil
}

func (c *Client) TryGetProcess(ctx context.Context, id string) (*api.ProcessOutput, bool, error) {
	resp, err := c.do(ctx, http.MethodGet, "/processes/"+id, nil, nil)
	if err != nil {
		return nil, false, err
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, false, nil
	}
	var out api.ProcessOutput
	if err := decodeJSON(resp, &out); err != nil {
		return nil, true, err
	}
	return &out, true, nil
}

// singleFrame wraps an already-resolved value as the one-frame
// ProgressEvent stream api.Handle's Try*Stream methods return, since
// the server itself only ever sends a single completion frame for
// these (see pkg/api/process.go).
func singleFrame(output any, err error) <-chan api.ProgressEvent {
	ch := make(chan api.ProgressEvent, 1)
	if err != nil {
		ch <- api.ProgressEvent{Err: err, Done: true}
	} else {
		ch <- api.ProgressEvent{Output: output, Done: true}
	}
	close(ch)
	return ch
}

func (c *Client) TryGetProcessChildrenStream(ctx context.Context, id string) (<-chan api.ProgressEvent, bool, error) {
	resp, err := c.do(ctx, http.MethodGet, "/processes/"+id+"/children", nil, nil)
	if err != nil {
		return nil, false, err
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, false, nil
	}
	var children []string
	if err := decodeJSON(resp, &children); err != nil {
		return nil, true, err
	}
	return singleFrame(children, nil), true, nil
}

func (c *Client) TryGetProcessLogStream(ctx context.Context, id string) (<-chan api.ProgressEvent, bool, error) {
	resp, err := c.do(ctx, http.MethodGet, "/processes/"+id+"/log", nil, nil)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, false, nil
	}
	if resp.StatusCode >= 300 {
		return nil, true, decodeError(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, err
	}
	return singleFrame(data, nil), true, nil
}

func (c *Client) TryGetProcessSignalStream(ctx context.Context, id string) (<-chan api.ProgressEvent, bool, error) {
	resp, err := c.do(ctx, http.MethodGet, "/processes/"+id+"/signal", nil, nil)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, false, nil
	}
	if resp.StatusCode >= 300 {
		return nil, true, decodeError(resp)
	}
	return singleFrame(nil, nil), true, nil
}

func (c *Client) TryGetProcessStatusStream(ctx context.Context, id string) (<-chan api.ProgressEvent, bool, error) {
	resp, err := c.do(ctx, http.MethodGet, "/processes/"+id+"/status", nil, nil)
	if err != nil {
		return nil, false, err
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, false, nil
	}
	var status string
	if err := decodeJSON(resp, &status); err != nil {
		return nil, true, err
	}
	return singleFrame(status, nil), true, nil
}

func (c *Client) TryDequeueProcess(ctx context.Context) (*api.ProcessDequeueOutput, bool, error) {
	resp, err := c.do(ctx, http.MethodPost, "/processes/dequeue", nil, nil)
	if err != nil {
		return nil, false, err
	}
	if resp.StatusCode == http.StatusNoContent {
		resp.Body.Close()
		return nil, false, nil
	}
	var out api.ProcessDequeueOutput
	if err := decodeJSON(resp, &out); err != nil {
		return nil, true, err
	}
	return &out, true, nil
}

func (c *Client) FinishProcess(ctx context.Context, id string, arg api.ProcessFinishArg) error {
	body, err := json.Marshal(arg)
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, http.MethodPost, "/processes/"+id+"/finish", nil, bytes.NewReader(body))
	if err != nil {
		return err
	}
	return decodeJSON(resp, nil)
}

func (c *Client) HeartbeatProcess(ctx context.Context, id string) error {
	resp, err := c.do(ctx, http.MethodPost, "/processes/"+id+"/heartbeat", nil, nil)
	if err != nil {
		return err
	}
	return decodeJSON(resp, nil)
}

func (c *Client) PostProcessLog(ctx context.Context, id string, data []byte) error {
	resp, err := c.do(ctx, http.MethodPost, "/processes/"+id+"/log", nil, newBodyReader(data))
	if err != nil {
		return err
	}
	return decodeJSON(resp, nil)
}

func (c *Client) SignalProcess(ctx context.Context, id, signal string) error {
	resp, err := c.do(ctx, http.MethodPost, "/processes/"+id+"/signal", url.Values{"signal": {signal}}, nil)
	if err != nil {
		return err
	}
	return decodeJSON(resp, nil)
}

func (c *Client) CancelProcess(ctx context.Context, id, token string) error {
	resp, err := c.do(ctx, http.MethodPost, "/processes/"+id+"/cancel", url.Values{"token": {token}}, nil)
	if err != nil {
		return err
	}
	return decodeJSON(resp, nil)
}

func (c *Client) TrySpawnProcess(ctx context.Context, arg api.ProcessSpawnArg) (<-chan api.ProgressEvent, error) {
	body, err := json.Marshal(arg)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, http.MethodPost, "/processes/spawn", nil, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return singleFrame(nil, decodeError(resp)), nil
	}
	var out process.SpawnOutput
	if err := decodeJSON(resp, &out); err != nil {
		return singleFrame(nil, err), nil
	}
	return singleFrame(out, nil), nil
}

func (c *Client) StartProcess(ctx context.Context, id string) error {
	resp, err := c.do(ctx, http.MethodPost, "/processes/"+id+"/start", nil, nil)
	if err != nil {
		return err
	}
	return decodeJSON(resp, nil)
}

func (c *Client) TouchProcess(ctx context.Context, id string) error {
	return c.HeartbeatProcess(ctx, id)
}

func (c *Client) TryWaitProcessFuture(ctx context.Context, id string) (<-chan api.ProcessWaitOutput, bool, error) {
	out := make(chan api.ProcessWaitOutput, 1)
	go func() {
		defer close(out)
		resp, err := c.do(ctx, http.MethodGet, "/processes/"+id+"/wait", nil, nil)
		if err != nil {
			out <- api.ProcessWaitOutput{Err: err}
			return
		}
		var finished api.ProcessOutput
		if err := decodeJSON(resp, &finished); err != nil {
			out <- api.ProcessWaitOutput{Err: err}
			return
		}
		out <- api.ProcessWaitOutput{Process: &finished}
	}()
	return out, true, nil
}

// Export satisfies transfer.Remote: it streams the remote's
// newline-delimited transfer.Event JSON frames for arg's roots,
// decoding each into the returned channel the same shape
// transfer.Exporter.Export produces locally.
func (c *Client) Export(ctx context.Context, arg transfer.ExportArg) (<-chan transfer.Event, error) {
	query := url.Values{}
	for _, id := range arg.Objects {
		query.Add("object", id)
	}
	for _, id := range arg.Processes {
		query.Add("process", id)
	}
	resp, err := c.do(ctx, http.MethodGet, "/transfer/export", query, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, decodeError(resp)
	}
	out := make(chan transfer.Event, 16)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		dec := json.NewDecoder(resp.Body)
		for dec.More() {
			var ev transfer.Event
			if err := dec.Decode(&ev); err != nil {
				return
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

var _ transfer.Remote = (*Client)(nil)

func newBodyReader(data []byte) io.Reader {
	return bytes.NewReader(data)
}

// idResponse mirrors pkg/api's unexported response shape for every
// create-style endpoint (blobs, pipes, ptys) that hands back just an id.
type idResponse struct {
	ID string `json:"id"`
}

var _ api.Handle = (*Client)(nil)
