// Package gameapi talks to the CybORG game server: it starts a game, mints
// or re-reads steps, and ends the game. Every call either returns a value or
// an *Error; nothing is retried.
package gameapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/csai/cyborg-arviz-agent/internal/graph"
)

const (
	OpStart           = "start"
	OpAdvance         = "advance"
	OpFetchHistorical = "fetch_historical"
	OpEnd             = "end"
)

const (
	gamesPath       = "/api/games"
	maxResponseSize = 32 << 20
)

// codec is the single decoding policy for every response: field names are
// matched as the server emits them (snake_case).
var codec = sonic.ConfigStd

type StartRequest struct {
	RedAgent  string `json:"red_agent"`
	MaxSteps  int    `json:"step"`
	BlueAgent string `json:"blue_agent"`
}

type startResponse struct {
	GameID string `json:"game_id"`
}

type endResponse struct {
	Message *string `json:"message"`
}

type Config struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Observer receives one call per request; kind is empty on success.
type Observer interface {
	ObserveGameCall(op, kind string, d time.Duration)
}

type Client struct {
	baseURL   string
	timeout   time.Duration
	userAgent string
	http      *http.Client
	obs       Observer
}

// New returns a client for cfg. A nil hc uses a plain http.Client; obs may be
// nil.
func New(cfg Config, hc *http.Client, obs Observer) *Client {
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		timeout:   cfg.Timeout,
		userAgent: cfg.UserAgent,
		http:      hc,
		obs:       obs,
	}
}

func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) Start(ctx context.Context, req StartRequest) (string, error) {
	body, err := codec.Marshal(req)
	if err != nil {
		return "", &Error{Op: OpStart, Kind: KindTransport, Err: fmt.Errorf("encode request: %w", err)}
	}
	var gameID string
	err = c.call(ctx, OpStart, http.MethodPost, gamesPath+"/start", body, func(b []byte) error {
		var resp startResponse
		if err := codec.Unmarshal(b, &resp); err != nil {
			return err
		}
		if resp.GameID == "" {
			return errors.New("response has no game_id")
		}
		gameID = resp.GameID
		return nil
	})
	return gameID, err
}

// Advance asks the server to play the next step and returns its graph.
func (c *Client) Advance(ctx context.Context, gameID string) (*graph.Snapshot, error) {
	if gameID == "" {
		return nil, ErrNoGame
	}
	var snap *graph.Snapshot
	err := c.call(ctx, OpAdvance, http.MethodPost, gamePath(gameID), nil, func(b []byte) error {
		s, err := graph.Decode(b, codec.Unmarshal)
		snap = s
		return err
	})
	return snap, err
}

// FetchHistorical re-reads a step the server already produced.
func (c *Client) FetchHistorical(ctx context.Context, gameID string, step int) (*graph.Snapshot, error) {
	if gameID == "" {
		return nil, ErrNoGame
	}
	if step < 0 {
		return nil, &Error{Op: OpFetchHistorical, Kind: KindTransport, Err: fmt.Errorf("invalid step %d", step)}
	}
	var snap *graph.Snapshot
	path := gamePath(gameID) + "/step/" + strconv.Itoa(step)
	err := c.call(ctx, OpFetchHistorical, http.MethodGet, path, nil, func(b []byte) error {
		s, err := graph.Decode(b, codec.Unmarshal)
		snap = s
		return err
	})
	return snap, err
}

// End deletes the game and returns the server's closing message.
func (c *Client) End(ctx context.Context, gameID string) (string, error) {
	if gameID == "" {
		return "", ErrNoGame
	}
	var message string
	err := c.call(ctx, OpEnd, http.MethodDelete, gamePath(gameID), nil, func(b []byte) error {
		var resp endResponse
		if err := codec.Unmarshal(b, &resp); err != nil {
			return err
		}
		if resp.Message == nil {
			return errors.New("response has no message")
		}
		message = *resp.Message
		return nil
	})
	return message, err
}

func gamePath(gameID string) string {
	return gamesPath + "/" + url.PathEscape(gameID)
}

func (c *Client) call(ctx context.Context, op, method, path string, body []byte, decode func([]byte) error) error {
	start := time.Now()
	err := c.roundTrip(ctx, op, method, path, body, decode)
	if c.obs != nil {
		c.obs.ObserveGameCall(op, string(KindOf(err)), time.Since(start))
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, op, method, path string, body []byte, decode func([]byte) error) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	target, err := url.Parse(c.baseURL + path)
	if err != nil || target.Scheme == "" || target.Host == "" {
		if err == nil {
			err = fmt.Errorf("invalid url %q", c.baseURL+path)
		}
		return &Error{Op: op, Kind: KindTransport, Err: err}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return &Error{Op: op, Kind: KindTransport, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Op: op, Kind: KindTransport, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
		return &Error{Op: op, Kind: KindProtocol, Status: resp.StatusCode}
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return &Error{Op: op, Kind: KindTransport, Status: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	if err := decode(b); err != nil {
		return &Error{Op: op, Kind: KindDecode, Status: resp.StatusCode, Err: err}
	}
	return nil
}
