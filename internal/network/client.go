package network

import (
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/sethvargo/go-retry"

	"SigLedger/internal/engine"
	"SigLedger/internal/ledger"
	"SigLedger/internal/sigcodec"
)

const (
	// defaultRequestTimeout bounds a request when the caller's context
	// carries no deadline.
	defaultRequestTimeout = 30 * time.Second

	// dialBaseDelay is the initial delay between dial attempts.
	dialBaseDelay = 200 * time.Millisecond

	// dialMaxDelay caps the backoff between dial attempts.
	dialMaxDelay = 5 * time.Second

	// dialMaxRetries bounds dial attempts within one connect call.
	dialMaxRetries = 6
)

// Client talks the step protocol to one node. It redials lazily: a
// transport failure drops the connection and the next request
// reconnects with capped exponential backoff.
type Client struct {
	addr       string
	serverKey  ed25519.PublicKey // nil when the server key is not pinned
	tlsConfig  *tls.Config
	quicConfig *quic.Config

	mu   sync.Mutex
	conn *quic.Conn
}

// Dial connects to a node. The server's certificate is self-signed
// and not checked; correctness rests on step signatures, not
// transport identity.
func Dial(ctx context.Context, addr string) (*Client, error) {
	return dial(ctx, addr, nil)
}

// DialPinned connects to a node and requires its certificate to carry
// the given ed25519 key.
func DialPinned(ctx context.Context, addr string, serverKey ed25519.PublicKey) (*Client, error) {
	return dial(ctx, addr, serverKey)
}

func dial(ctx context.Context, addr string, serverKey ed25519.PublicKey) (*Client, error) {
	c := &Client{
		addr:      addr,
		serverKey: serverKey,
		tlsConfig: &tls.Config{
			InsecureSkipVerify: true, // Self-signed; the key pin is checked after the handshake
			NextProtos:         []string{alpnProtocol},
		},
		quicConfig: &quic.Config{
			MaxIdleTimeout:  30 * time.Second,
			KeepAlivePeriod: 10 * time.Second,
		},
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}

	c.conn = conn

	return c, nil
}

// connect dials with capped exponential backoff. Caller holds mu.
func (c *Client) connect(ctx context.Context) (*quic.Conn, error) {
	backoff := retry.WithCappedDuration(dialMaxDelay, retry.NewExponential(dialBaseDelay))
	backoff = retry.WithMaxRetries(dialMaxRetries, backoff)

	var conn *quic.Conn

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		dialed, err := quic.DialAddr(ctx, c.addr, c.tlsConfig, c.quicConfig)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("dial %s: %w", c.addr, err))
		}

		if c.serverKey != nil {
			pub, err := extractPublicKey(dialed.ConnectionState().TLS)
			if err != nil || !pub.Equal(c.serverKey) {
				dialed.CloseWithError(1, "server key mismatch")
				// A wrong key will not heal on retry
				return fmt.Errorf("server at %s does not hold the pinned key", c.addr)
			}
		}

		conn = dialed

		return nil
	})
	if err != nil {
		return nil, err
	}

	return conn, nil
}

// Close closes the connection. The client can be reused; the next
// request redials.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}

	err := c.conn.CloseWithError(0, "closed")
	c.conn = nil

	return err
}

// connection returns the live connection, dialing if needed.
func (c *Client) connection(ctx context.Context) (*quic.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return c.conn, nil
	}

	conn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}

	c.conn = conn

	return conn, nil
}

// drop discards a connection after a transport failure so the next
// request redials.
func (c *Client) drop(conn *quic.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()

	conn.CloseWithError(0, "reset")
}

// request performs one request/response exchange on a fresh
// bidirectional stream.
func (c *Client) request(ctx context.Context, msgType uint8, body []byte) ([]byte, error) {
	conn, err := c.connection(ctx)
	if err != nil {
		return nil, err
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		c.drop(conn)
		return nil, fmt.Errorf("open stream:\n%w", err)
	}
	defer stream.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultRequestTimeout)
	}
	stream.SetDeadline(deadline)

	if err := writeMessage(stream, encodeRequest(msgType, body)); err != nil {
		c.drop(conn)
		return nil, fmt.Errorf("write request:\n%w", err)
	}

	response, err := readMessage(stream)
	if err != nil {
		c.drop(conn)
		return nil, fmt.Errorf("read response:\n%w", err)
	}

	return decodeResponse(response)
}

// SubmitStep submits a signed step envelope and returns the node's
// receipt. The receipt's own code reports protocol failures; an error
// here means the submission outcome is unknown and the caller should
// resubmit or query the receipt.
func (c *Client) SubmitStep(ctx context.Context, stepData []byte) (engine.Receipt, error) {
	body, err := c.request(ctx, MsgSubmitStep, stepData)
	if err != nil {
		return engine.Receipt{}, err
	}

	return engine.DecodeReceipt(body)
}

// GetParams fetches the node's step limits.
func (c *Client) GetParams(ctx context.Context) (engine.Params, error) {
	body, err := c.request(ctx, MsgGetParams, nil)
	if err != nil {
		return engine.Params{}, err
	}

	return decodeParams(body)
}

// GetHeader fetches a record's header. Works on open records.
func (c *Client) GetHeader(ctx context.Context, addr ledger.Address) (engine.Header, error) {
	body, err := c.request(ctx, MsgGetHeader, addr[:])
	if err != nil {
		return engine.Header{}, err
	}

	return decodeHeader(body)
}

// GetCount fetches a record's authoritative entry count.
func (c *Client) GetCount(ctx context.Context, addr ledger.Address) (uint32, error) {
	body, err := c.request(ctx, MsgGetCount, addr[:])
	if err != nil {
		return 0, err
	}

	if len(body) != 4 {
		return 0, fmt.Errorf("count is %d bytes, want 4", len(body))
	}

	return binary.LittleEndian.Uint32(body), nil
}

// GetEntry fetches the outcome stored at index in a finalized record.
func (c *Client) GetEntry(ctx context.Context, addr ledger.Address, index uint32) (sigcodec.Entry, error) {
	body := make([]byte, 36)
	copy(body[:32], addr[:])
	binary.LittleEndian.PutUint32(body[32:36], index)

	response, err := c.request(ctx, MsgGetEntry, body)
	if err != nil {
		return sigcodec.Entry{}, err
	}

	return decodeEntry(response)
}

// GetReceipt fetches the receipt retained for a step hash, reporting
// whether the node still has one.
func (c *Client) GetReceipt(ctx context.Context, hash [32]byte) (engine.Receipt, bool, error) {
	body, err := c.request(ctx, MsgGetReceipt, hash[:])
	if err != nil {
		return engine.Receipt{}, false, err
	}

	if len(body) == 0 {
		return engine.Receipt{}, false, fmt.Errorf("empty receipt response")
	}

	if body[0] == 0 {
		return engine.Receipt{}, false, nil
	}

	r, err := engine.DecodeReceipt(body[1:])
	if err != nil {
		return engine.Receipt{}, false, err
	}

	return r, true, nil
}

// Find locates the first entry matching pubkey and digest in a
// finalized record.
func (c *Client) Find(ctx context.Context, addr ledger.Address, pubkey, digest [32]byte) (uint32, sigcodec.Entry, error) {
	body := make([]byte, 96)
	copy(body[:32], addr[:])
	copy(body[32:64], pubkey[:])
	copy(body[64:96], digest[:])

	response, err := c.request(ctx, MsgFind, body)
	if err != nil {
		return 0, sigcodec.Entry{}, err
	}

	if len(response) != 4+entryWireSize {
		return 0, sigcodec.Entry{}, fmt.Errorf("find response is %d bytes, want %d", len(response), 4+entryWireSize)
	}

	index := binary.LittleEndian.Uint32(response[:4])

	e, err := decodeEntry(response[4:])
	if err != nil {
		return 0, sigcodec.Entry{}, err
	}

	return index, e, nil
}

// Export fetches a finalized record's compressed archive form,
// openable with the archive package.
func (c *Client) Export(ctx context.Context, addr ledger.Address) ([]byte, error) {
	return c.request(ctx, MsgExport, addr[:])
}
