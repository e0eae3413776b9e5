// Package trackerclient implements spec.md §4.6: a single-shot
// TCP/JSON client for the announce/getpeers protocol, plus a
// background keepalive worker with exponential backoff. The worker's
// stop-flag-plus-done-channel shutdown discipline mirrors the
// teacher's threadgroup usage elsewhere in this module; here the
// worker is small enough that a plain stop channel is clearer than
// pulling in threadgroup for a single goroutine.
package trackerclient

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"go.decentralis.dev/core/internal/derrors"
)

// PeerRecord is one entry of a getpeers response.
type PeerRecord struct {
	IP   string `json:"ip"`
	Port int    `json:"port"`
	UUID string `json:"uuid"`
}

// Callback receives each freshly fetched peer list, per spec.md §9's
// "channel/stream of PeerSet snapshots" design note.
type Callback func(peers []PeerRecord)

// Client talks to a single tracker server.
type Client struct {
	Addr               string
	KeepaliveInterval  time.Duration
	Log                *logrus.Entry

	uuid   string
	stopCh chan struct{}
	doneCh chan struct{}
}

// New returns a Client targeting addr with the default 15s keepalive
// interval, per spec.md §4.6.
func New(addr string, log *logrus.Entry) *Client {
	return &Client{
		Addr:              addr,
		KeepaliveInterval: 15 * time.Second,
		Log:               log,
	}
}

func dialJSON(addr string, req, resp interface{}) error {
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return fmt.Errorf("%w: dial tracker %s: %v", derrors.ErrPeerCommunication, addr, err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(10 * time.Second))

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("%w: encoding request: %v", derrors.ErrPeerCommunication, err)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := conn.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("%w: writing request: %v", derrors.ErrPeerCommunication, err)
	}
	if _, err := conn.Write(body); err != nil {
		return fmt.Errorf("%w: writing request: %v", derrors.ErrPeerCommunication, err)
	}

	var respLenBuf [4]byte
	if _, err := io.ReadFull(conn, respLenBuf[:]); err != nil {
		return fmt.Errorf("%w: reading response length: %v", derrors.ErrPeerCommunication, err)
	}
	n := binary.BigEndian.Uint32(respLenBuf[:])
	respBody := make([]byte, n)
	if _, err := io.ReadFull(conn, respBody); err != nil {
		return fmt.Errorf("%w: reading response body: %v", derrors.ErrPeerCommunication, err)
	}
	if err := json.Unmarshal(respBody, resp); err != nil {
		return fmt.Errorf("%w: decoding response: %v", derrors.ErrPeerCommunication, err)
	}
	return nil
}

// SetUUID preloads the peer identity this Client announces as, so a
// restarted daemon keeps the same peer_uuid (and, since owner_uuid
// shares the same namespace, the same file ownership) instead of the
// tracker minting a fresh one on every restart.
func (c *Client) SetUUID(uuid string) {
	c.uuid = uuid
}

// UUID returns the identity most recently confirmed by Announce (or
// preloaded via SetUUID), or "" if neither has happened yet.
func (c *Client) UUID() string {
	return c.uuid
}

// Announce registers (or re-registers) this peer with the tracker, per
// spec.md §4.6. On the first successful call the returned UUID is
// cached and reused by subsequent calls and by the keepalive worker.
func (c *Client) Announce(ip string, port int) (string, error) {
	req := map[string]interface{}{"action": "announce", "ip": ip, "port": port}
	if c.uuid != "" {
		req["uuid"] = c.uuid
	}
	var resp struct {
		UUID   string `json:"uuid"`
		Status string `json:"status"`
	}
	if err := dialJSON(c.Addr, req, &resp); err != nil {
		return "", err
	}
	if resp.Status != "ok" {
		return "", fmt.Errorf("%w: tracker announce returned status %q", derrors.ErrPeerCommunication, resp.Status)
	}
	c.uuid = resp.UUID
	return resp.UUID, nil
}

// GetPeers fetches the current peer list for this peer's UUID, per
// spec.md §4.6.
func (c *Client) GetPeers() ([]PeerRecord, error) {
	req := map[string]interface{}{"action": "getpeers", "uuid": c.uuid}
	var resp struct {
		Peers []PeerRecord `json:"peers"`
	}
	if err := dialJSON(c.Addr, req, &resp); err != nil {
		return nil, err
	}
	return resp.Peers, nil
}

// StartKeepalive launches the background worker: every
// KeepaliveInterval it re-announces and fetches the peer list,
// invoking cb with the result. Announce failures back off (1s, 2s,
// 4s, ... capped at KeepaliveInterval); success resets the backoff.
// Close stops the worker; it exits within one interval.
func (c *Client) StartKeepalive(ip string, port int, cb Callback) {
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	go c.keepaliveLoop(ip, port, cb)
}

func (c *Client) keepaliveLoop(ip string, port int, cb Callback) {
	defer close(c.doneCh)

	backoff := time.Second
	for {
		if _, err := c.Announce(ip, port); err != nil {
			if c.Log != nil {
				c.Log.WithError(err).Warn("tracker announce failed, backing off")
			}
			if !c.sleep(backoff) {
				return
			}
			backoff *= 2
			if backoff > c.KeepaliveInterval {
				backoff = c.KeepaliveInterval
			}
			continue
		}
		backoff = time.Second

		peers, err := c.GetPeers()
		if err != nil {
			if c.Log != nil {
				c.Log.WithError(err).Warn("tracker getpeers failed")
			}
		} else if cb != nil {
			cb(peers)
		}

		if !c.sleep(c.KeepaliveInterval) {
			return
		}
	}
}

// sleep waits for d or the stop signal, returning false if stopped.
func (c *Client) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-c.stopCh:
		return false
	}
}

// Close signals the keepalive worker to stop and waits for it to
// exit.
func (c *Client) Close() {
	if c.stopCh == nil {
		return
	}
	close(c.stopCh)
	<-c.doneCh
}
