package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"
)

// ClientConfig is the socket path jobctl dials, mirroring the teacher's
// internal/client.Config shape (Addr + Flags) minus the TLS fields the
// control socket has no use for (it is a filesystem-permission protected
// unix socket, not a network listener).
type ClientConfig struct {
	SocketPath string
	Timeout    time.Duration
}

func (c *ClientConfig) Flags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&c.SocketPath, "socket", "/var/run/jobd.sock", "path of jobd's unix control socket")
	cmd.PersistentFlags().DurationVar(&c.Timeout, "timeout", 5*time.Second, "time to wait for jobd's response")
}

// Client issues one JSON-RPC request per Call, dialing a fresh connection
// each time (the server side closes the connection after replying to
// exactly one request, per the Open Question decision recorded in
// DESIGN.md).
type Client struct {
	cfg *ClientConfig
}

func NewClient(cfg *ClientConfig) *Client {
	return &Client{cfg: cfg}
}

// Call sends method with params (marshaled to JSON; pass nil for a
// parameterless method) and decodes the result into out (pass nil to
// discard it). A JSON-RPC error response is returned as *Error.
func (c *Client) Call(id int, method string, params any, out any) error {
	conn, err := net.DialTimeout("unix", c.cfg.SocketPath, c.cfg.Timeout)
	if err != nil {
		return fmt.Errorf("jobctl: dial %s: %w", c.cfg.SocketPath, err)
	}
	defer conn.Close()

	var paramsRaw json.RawMessage
	if params != nil {
		paramsRaw, err = json.Marshal(params)
		if err != nil {
			return fmt.Errorf("jobctl: encoding params: %w", err)
		}
	}

	req := Request{
		JSONRPC: Version,
		ID:      json.RawMessage(fmt.Sprintf("%d", id)),
		Method:  method,
		Params:  paramsRaw,
	}

	_ = conn.SetDeadline(time.Now().Add(c.cfg.Timeout))

	if err := json.NewEncoder(conn).Encode(&req); err != nil {
		return fmt.Errorf("jobctl: writing request: %w", err)
	}
	if uc, ok := conn.(*net.UnixConn); ok {
		_ = uc.CloseWrite()
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return fmt.Errorf("jobctl: reading response: %w", err)
	}

	if resp.Error != nil {
		return &Error{Kind: kindFromCode(resp.Error.Code), Detail: resp.Error.Message}
	}

	if out == nil || resp.Result == nil {
		return nil
	}
	raw, err := json.Marshal(resp.Result)
	if err != nil {
		return fmt.Errorf("jobctl: re-encoding result: %w", err)
	}
	return json.Unmarshal(raw, out)
}

// Watch dials the control socket, issues the `watch` request, and calls fn
// with every Notification received afterward until fn returns an error, the
// connection drops, or ctx is done. Unlike Call, the connection is held open
// for the lifetime of the watch rather than closed after one exchange.
func (c *Client) Watch(ctx context.Context, fn func(Notification) error) error {
	conn, err := net.Dial("unix", c.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("jobctl: dial %s: %w", c.cfg.SocketPath, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	req := Request{JSONRPC: Version, ID: json.RawMessage("1"), Method: MethodWatch}
	if err := json.NewEncoder(conn).Encode(&req); err != nil {
		return fmt.Errorf("jobctl: writing request: %w", err)
	}
	if uc, ok := conn.(*net.UnixConn); ok {
		_ = uc.CloseWrite()
	}

	dec := json.NewDecoder(conn)

	var ack Response
	if err := dec.Decode(&ack); err != nil {
		return fmt.Errorf("jobctl: reading watch ack: %w", err)
	}
	if ack.Error != nil {
		return &Error{Kind: kindFromCode(ack.Error.Code), Detail: ack.Error.Message}
	}

	for {
		var resp Response
		if err := dec.Decode(&resp); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("jobctl: reading notification: %w", err)
		}
		if resp.Error != nil {
			return &Error{Kind: kindFromCode(resp.Error.Code), Detail: resp.Error.Message}
		}

		raw, err := json.Marshal(resp.Result)
		if err != nil {
			return fmt.Errorf("jobctl: re-encoding notification: %w", err)
		}
		var note Notification
		if err := json.Unmarshal(raw, &note); err != nil {
			return fmt.Errorf("jobctl: decoding notification: %w", err)
		}
		if err := fn(note); err != nil {
			return err
		}
	}
}
