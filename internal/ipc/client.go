package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Start requests the daemon to start processing.
func (c *Client) Start() (*StartResponse, error) {
	var resp StartResponse
	if err := c.client.Call("Tower.Start", StartRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stop requests the daemon to stop processing.
func (c *Client) Stop() (*StopResponse, error) {
	var resp StopResponse
	if err := c.client.Call("Tower.Stop", StopRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.client.Call("Tower.Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Submit enqueues a new generation job.
func (c *Client) Submit(req SubmitRequest) (*SubmitResponse, error) {
	var resp SubmitResponse
	if err := c.client.Call("Tower.Submit", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// JobList returns jobs optionally filtered by statuses or character.
func (c *Client) JobList(req JobListRequest) (*JobListResponse, error) {
	var resp JobListResponse
	if err := c.client.Call("Tower.JobList", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// JobDescribe returns details for a single job.
func (c *Client) JobDescribe(id int64) (*JobDescribeResponse, error) {
	var resp JobDescribeResponse
	req := JobDescribeRequest{ID: id}
	if err := c.client.Call("Tower.JobDescribe", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Cancel requests cancellation of a job.
func (c *Client) Cancel(id int64) (*CancelResponse, error) {
	var resp CancelResponse
	req := CancelRequest{ID: id}
	if err := c.client.Call("Tower.Cancel", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Reproduce resubmits a job's stored recipe as a new job.
func (c *Client) Reproduce(id int64, freshSeed bool) (*ReproduceResponse, error) {
	var resp ReproduceResponse
	req := ReproduceRequest{ID: id, FreshSeed: freshSeed}
	if err := c.client.Call("Tower.Reproduce", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Gate retrieves gate decisions for a project.
func (c *Client) Gate(projectID string) (*GateResponse, error) {
	var resp GateResponse
	req := GateRequest{ProjectID: projectID}
	if err := c.client.Call("Tower.Gate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// References retrieves a character's reference set.
func (c *Client) References(characterID, modality string) (*ReferencesResponse, error) {
	var resp ReferencesResponse
	req := ReferencesRequest{CharacterID: characterID, Modality: modality}
	if err := c.client.Call("Tower.References", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Characters lists characters with stored references.
func (c *Client) Characters() (*CharactersResponse, error) {
	var resp CharactersResponse
	if err := c.client.Call("Tower.Characters", CharactersRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Events returns broadcast events from the daemon.
func (c *Client) Events(req EventsRequest) (*EventsResponse, error) {
	var resp EventsResponse
	if err := c.client.Call("Tower.Events", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TestNotification triggers a notification test via the daemon.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	var resp TestNotificationResponse
	if err := c.client.Call("Tower.TestNotification", TestNotificationRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
