// Package rpcpeer implements the peer RPC layer of spec.md §4.7: a
// length-prefixed JSON-RPC 2.0 client and server, one request per TCP
// connection. The background-task lifecycle (server Serve loop,
// graceful Close) follows the teacher's threadgroup-based shutdown
// idiom (gitlab.com/NebulousLabs/threadgroup, as used throughout
// NebulousLabs-Sia's modules/gateway); outgoing and accepted
// connections are wrapped in a gitlab.com/NebulousLabs/ratelimit
// reader/writer pair so one chunk transfer cannot starve the rest of
// the scheduler, and the server attempts a best-effort
// gitlab.com/NebulousLabs/go-upnp port mapping on startup.
package rpcpeer

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"gitlab.com/NebulousLabs/go-upnp"
	"gitlab.com/NebulousLabs/ratelimit"
	"gitlab.com/NebulousLabs/threadgroup"

	"go.decentralis.dev/core/internal/derrors"
)

// SetBandwidthLimits configures the package-wide ratelimit applied to
// every connection NewClient/NewServer wrap, per spec.md §4.7's note
// that a single chunk transfer must not starve the scheduler's other
// connections. A packetSize of 0 disables limiting (ratelimit.NewRLReadWriter
// degrades to a thin passthrough wrapper in that case).
func SetBandwidthLimits(readBPS, writeBPS int64, packetSize uint64) {
	ratelimit.SetLimits(readBPS, writeBPS, packetSize)
}

// DefaultTimeout is the client-side RPC deadline, per spec.md §4.7.
const DefaultTimeout = 30 * time.Second

const maxFrameSize = 64 << 20 // 64 MiB; generous headroom over the largest expected chunk

// Request is the JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// RPCError is the JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string { return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message) }

// Response is the JSON-RPC 2.0 response envelope.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// Application error codes, per spec.md §6.
const (
	CodeChunkNotFound  = -32000
	CodeSHAMismatch    = -32001
	CodeStorageFull    = -32002
	CodeMalformed      = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
)

// Handler dispatches one already-decoded Request to a method
// implementation, returning either a JSON-marshalable result or an
// *RPCError.
type Handler func(ctx context.Context, req Request) (interface{}, *RPCError)

func writeFrame(w io.Writer, body []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds maximum of %d", n, maxFrameSize)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

func rateLimited(conn net.Conn) io.ReadWriter {
	return ratelimit.NewRLReadWriter(conn)
}

// Client issues outgoing RPCs, one TCP connection per call, per
// spec.md §4.7.
type Client struct {
	Timeout time.Duration
}

// NewClient returns a Client with the default 30s timeout and no rate
// limiting.
func NewClient() *Client {
	return &Client{Timeout: DefaultTimeout}
}

var nextRequestID int64

// Call dials addr, sends method/params as one JSON-RPC request, and
// decodes the response's result into out (if non-nil). Any dial,
// framing, timeout, or application-level failure is reported as
// derrors.ErrPeerCommunication, except that an application *RPCError
// is returned unwrapped so callers can branch on its Code.
func (c *Client) Call(ctx context.Context, addr string, method string, params interface{}, out interface{}) error {
	timeout := c.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", derrors.ErrPeerCommunication, addr, err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(timeout))

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("%w: encoding params: %v", derrors.ErrPeerCommunication, err)
	}
	id := int(atomicIncr())
	req := Request{JSONRPC: "2.0", ID: id, Method: method, Params: paramsJSON}
	reqJSON, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("%w: encoding request: %v", derrors.ErrPeerCommunication, err)
	}

	rw := rateLimited(conn)
	if err := writeFrame(rw, reqJSON); err != nil {
		return fmt.Errorf("%w: writing request: %v", derrors.ErrPeerCommunication, err)
	}

	respBody, err := readFrame(rw)
	if err != nil {
		return fmt.Errorf("%w: reading response: %v", derrors.ErrPeerCommunication, err)
	}
	var resp Response
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return fmt.Errorf("%w: decoding response: %v", derrors.ErrPeerCommunication, err)
	}
	if resp.Error != nil {
		return resp.Error
	}
	if out != nil && resp.Result != nil {
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("%w: decoding result: %v", derrors.ErrPeerCommunication, err)
		}
	}
	return nil
}

func atomicIncr() int64 {
	return atomic.AddInt64(&nextRequestID, 1)
}

// Server accepts peer RPC connections, one request per connection, and
// dispatches to registered Handlers by method name.
type Server struct {
	Addr string
	Log  *logrus.Entry

	handlers map[string]Handler
	listener net.Listener
	threads  threadgroup.ThreadGroup
}

// NewServer returns a Server listening on addr once Serve is called.
func NewServer(addr string, log *logrus.Entry) *Server {
	return &Server{Addr: addr, Log: log, handlers: make(map[string]Handler)}
}

// Register associates method with a Handler. Call before Serve.
func (s *Server) Register(method string, h Handler) {
	s.handlers[method] = h
}

// Listen binds Addr and returns the resolved listener, without
// accepting connections yet. Exposed separately from Serve so callers
// (and tests binding to "127.0.0.1:0") can learn the actual address
// before the accept loop starts.
func (s *Server) Listen() (net.Addr, error) {
	l, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return nil, fmt.Errorf("%w: listen on %s: %v", derrors.ErrConfiguration, s.Addr, err)
	}
	s.listener = l
	return l.Addr(), nil
}

// Serve attempts a best-effort UPnP port mapping and accepts
// connections on the listener established by Listen until Close is
// called. It calls Listen itself if that has not already happened. It
// blocks until the listener closes.
func (s *Server) Serve() error {
	if s.listener == nil {
		if _, err := s.Listen(); err != nil {
			return err
		}
	}
	go s.forwardPort()
	return s.acceptLoop()
}

func (s *Server) acceptLoop() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.threads.StopChan():
				return nil
			default:
				return fmt.Errorf("%w: accept: %v", derrors.ErrPeerCommunication, err)
			}
		}
		if err := s.threads.Add(); err != nil {
			conn.Close()
			continue
		}
		go func() {
			defer s.threads.Done()
			s.handleConn(conn)
		}()
	}
}

// forwardPort attempts to map Addr's port via UPnP. Failure is logged,
// never fatal — matches §6/§7's "configuration is fatal only for
// things that must succeed" split.
func (s *Server) forwardPort() {
	_, portStr, err := net.SplitHostPort(s.Addr)
	if err != nil {
		return
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	d, err := upnp.DiscoverCtx(ctx)
	if err != nil {
		if s.Log != nil {
			s.Log.WithError(err).Warn("no UPnP-enabled router found, skipping port mapping")
		}
		return
	}
	if err := d.Forward(uint16(port), "decentralis RPC"); err != nil {
		if s.Log != nil {
			s.Log.WithError(err).Warn("UPnP port mapping failed")
		}
		return
	}
	if s.Log != nil {
		s.Log.WithField("port", port).Info("UPnP port mapping established")
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(DefaultTimeout))
	rw := rateLimited(conn)

	reqBody, err := readFrame(rw)
	if err != nil {
		return // malformed/disconnected; nothing to respond to
	}
	var req Request
	resp := Response{JSONRPC: "2.0"}
	if err := json.Unmarshal(reqBody, &req); err != nil {
		resp.Error = &RPCError{Code: CodeMalformed, Message: "malformed request: " + err.Error()}
	} else {
		resp.ID = req.ID
		h, ok := s.handlers[req.Method]
		if !ok {
			resp.Error = &RPCError{Code: CodeMethodNotFound, Message: "method not found: " + req.Method}
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
			result, rpcErr := h(ctx, req)
			cancel()
			if rpcErr != nil {
				resp.Error = rpcErr
			} else {
				resultJSON, err := json.Marshal(result)
				if err != nil {
					resp.Error = &RPCError{Code: CodeInvalidParams, Message: "encoding result: " + err.Error()}
				} else {
					resp.Result = resultJSON
				}
			}
		}
	}

	respJSON, err := json.Marshal(resp)
	if err != nil {
		return
	}
	writeFrame(rw, respJSON)
}

// Close stops accepting new connections and waits (up to 5s, per
// spec.md §4.8's shutdown grace period) for in-flight handlers to
// finish.
func (s *Server) Close() error {
	if s.listener != nil {
		s.listener.Close()
	}
	done := make(chan error, 1)
	go func() { done <- s.threads.Stop() }()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%w: %v", derrors.ErrPeerCommunication, err)
		}
		return nil
	case <-time.After(5 * time.Second):
		return nil
	}
}
