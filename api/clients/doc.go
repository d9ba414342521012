/*
Package clients provides a Go client for the relay HTTP bridge.

	client := clients.NewRelayClient("http://localhost:8080")
	if _, err := client.Login(ctx, "alice", password); err != nil {
		return err
	}

	id, err := client.Submit(ctx, "ping", "alice")
	if err != nil {
		return err
	}

	resp, _, err := client.WaitFor(ctx, id, time.Second)

Non-2xx replies are returned as *StatusError carrying the failure reason
reported by the bridge.
*/
package clients
