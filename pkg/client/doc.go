/*
Package client provides a Go client library for a tangram node's HTTP API.

The client wraps pkg/api's chi-routed HTTP server with a convenient,
idiomatic Go interface: one method per Handle operation, context.Context
on every call, and plain Go structs in place of wire-format JSON bodies.

# Usage

Creating a client:

	import "github.com/tangramdotdev/tangram/pkg/client"

	c := client.NewClient("http://127.0.0.1:8476")
	defer c.Close()

Creating a client against a node that requires an API key:

	c := client.NewClientWithAPIKey("http://127.0.0.1:8476", "secret-key")
	defer c.Close()

# Object Operations

	if err := c.PutObject(ctx, id, bytes); err != nil {
		log.Fatal(err)
	}

	data, ok, err := c.TryGetObject(ctx, id)
	if err != nil {
		log.Fatal(err)
	}
	if !ok {
		fmt.Println("object not found")
	}

# Process Operations

	events, err := c.TrySpawnProcess(ctx, api.ProcessSpawnArg{Command: cmd})
	if err != nil {
		log.Fatal(err)
	}
	for ev := range events {
		if ev.Done {
			fmt.Println(ev.Output)
		}
	}

# Tag and Remote Operations

	if err := c.PutTag(ctx, "hello/1.0.0", objectID); err != nil {
		log.Fatal(err)
	}

	if err := c.PutRemote(ctx, "origin", "http://peer:8476"); err != nil {
		log.Fatal(err)
	}

# Session Operations

	events, err := c.Pull(ctx, api.TransferArg{Remote: "origin", Objects: []string{id}})
	if err != nil {
		log.Fatal(err)
	}
	for ev := range events {
		fmt.Println(ev.Message)
	}

# Process and Push Adapters

ProcessRemote and PushRemote (remote.go) adapt a *Client to the
process.Remote and api.Pusher interfaces respectively, so the same
HTTP client pkg/server dials a peer with also serves as that peer's
process-forwarding and push collaborator — no separate wire protocol
for those two roles.

# Thread Safety

A *Client is safe for concurrent use: it wraps a single *http.Client,
which is itself safe for concurrent use, and holds no other mutable
state.

# See Also

  - pkg/api for the server-side implementation this client calls
  - cmd/tangram for CLI usage examples built on this package
  - pkg/server for the composition root that wires a *Client per
    configured remote
*/
package client
