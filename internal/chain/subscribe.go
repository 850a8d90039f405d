package chain

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gorilla/websocket"
)

const (
	websocketReadLimitBytes = 1 << 20
	websocketWriteTimeout   = 5 * time.Second
	websocketPingInterval   = 30 * time.Second
)

// AccountHandler receives every account update pushed by the node.
type AccountHandler func(slot uint64, data []byte)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcMessage struct {
	ID     *uint64         `json:"id"`
	Method string          `json:"method"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Params *struct {
		Subscription uint64 `json:"subscription"`
		Result       struct {
			Context struct {
				Slot uint64 `json:"slot"`
			} `json:"context"`
			Value *struct {
				Data []string `json:"data"`
			} `json:"value"`
		} `json:"result"`
	} `json:"params"`
}

// SubscribeAccount streams base64 account updates for key until ctx ends or
// the connection fails. It always returns a non-nil error.
func SubscribeAccount(
	ctx context.Context,
	endpoint string,
	key solana.PublicKey,
	commitment rpc.CommitmentType,
	handler AccountHandler,
) error {
	conn, _, err := dialWebsocket(ctx, endpoint)
	if err != nil {
		return fmt.Errorf("dial %s: %w", endpoint, err)
	}
	defer conn.Close()
	stopClose := closeConnOnContextDone(ctx, conn)
	defer stopClose()

	request := rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "accountSubscribe",
		Params: []any{
			key.String(),
			map[string]string{"encoding": string(solana.EncodingBase64), "commitment": string(commitment)},
		},
	}
	if err := writeWebsocketJSON(conn, request); err != nil {
		return fmt.Errorf("send accountSubscribe: %w", err)
	}

	stopPing := keepAlive(conn)
	defer stopPing()

	var subscription uint64
	subscribed := false
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		var message rpcMessage
		if err := json.Unmarshal(payload, &message); err != nil {
			continue
		}
		if message.Error != nil {
			return fmt.Errorf("accountSubscribe %s: %s (code %d)", key, message.Error.Message, message.Error.Code)
		}
		if message.ID != nil && *message.ID == request.ID {
			if err := json.Unmarshal(message.Result, &subscription); err != nil {
				return fmt.Errorf("accountSubscribe %s: bad subscription id: %w", key, err)
			}
			subscribed = true
			continue
		}
		if message.Method != "accountNotification" || message.Params == nil {
			continue
		}
		if subscribed && message.Params.Subscription != subscription {
			continue
		}

		value := message.Params.Result.Value
		if value == nil || len(value.Data) == 0 {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(value.Data[0])
		if err != nil {
			return fmt.Errorf("decode notification for %s: %w", key, err)
		}
		handler(message.Params.Result.Context.Slot, data)
	}
}

// WebsocketURL derives the pubsub endpoint of an RPC URL. An explicit port
// moves up by one, the solana-test-validator convention.
func WebsocketURL(rpcURL string) (string, error) {
	parsed, err := url.Parse(rpcURL)
	if err != nil {
		return "", fmt.Errorf("parse rpc url %q: %w", rpcURL, err)
	}
	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	case "ws", "wss":
		return parsed.String(), nil
	default:
		return "", fmt.Errorf("unsupported rpc url scheme %q", parsed.Scheme)
	}

	if port := parsed.Port(); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil {
			return "", fmt.Errorf("invalid rpc url port %q: %w", port, err)
		}
		parsed.Host = net.JoinHostPort(parsed.Hostname(), strconv.Itoa(n+1))
	}
	return parsed.String(), nil
}

func dialWebsocket(ctx context.Context, endpoint string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{
		Proxy:             http.ProxyFromEnvironment,
		HandshakeTimeout:  10 * time.Second,
		EnableCompression: true,
	}

	conn, resp, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, resp, err
	}
	conn.SetReadLimit(websocketReadLimitBytes)
	return conn, resp, nil
}

func writeWebsocketJSON(conn *websocket.Conn, value any) error {
	if err := conn.SetWriteDeadline(time.Now().Add(websocketWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(value)
}

func closeConnOnContextDone(ctx context.Context, conn *websocket.Conn) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	return func() {
		close(done)
	}
}

// keepAlive pings the node so idle subscriptions are not dropped.
func keepAlive(conn *websocket.Conn) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(websocketPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				deadline := time.Now().Add(websocketWriteTimeout)
				if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					return
				}
			}
		}
	}()
	return func() {
		close(done)
	}
}
