// Package calling wraps the remote calling API's HTTP surface.
//
// Every call action is a single POST against the calls endpoint; the
// result is derived strictly from the response's success flag. Failed
// actions are not retried, the orchestrator treats them as terminal
// for the current session.
package calling

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/wavecall/callbridge/pkg/api"
	"github.com/wavecall/callbridge/pkg/config"
	"github.com/wavecall/callbridge/pkg/logger"
)

var ErrActionFailed = fmt.Errorf("call action failed")

type Client struct {
	endpoint string
	token    string
	product  string
	http     *http.Client
	log      *logger.Logger
}

func New(conf config.Calling, log *logger.Logger) *Client {
	return &Client{
		endpoint: fmt.Sprintf("%s/%s/calls", conf.Endpoint, conf.PhoneNumberID),
		token:    conf.AccessToken,
		product:  conf.MessagingProduct,
		http:     &http.Client{Timeout: 10 * time.Second},
		log:      log.Extend(log.With().Str("m", "calling")),
	}
}

// PreAccept prepares the remote leg's transport without opening the
// media path; the sdp param carries the bridge's answer.
func (c *Client) PreAccept(ctx context.Context, callId string, sdp string) error {
	return c.action(ctx, api.ActionPreAccept, callId, sdp)
}

// Accept declares the media path live.
func (c *Client) Accept(ctx context.Context, callId string, sdp string) error {
	return c.action(ctx, api.ActionAccept, callId, sdp)
}

func (c *Client) Reject(ctx context.Context, callId string) error {
	return c.action(ctx, api.ActionReject, callId, "")
}

func (c *Client) Terminate(ctx context.Context, callId string) error {
	return c.action(ctx, api.ActionTerminate, callId, "")
}

func (c *Client) action(ctx context.Context, action string, callId string, sdp string) error {
	rq := api.CallActionRequest{
		MessagingProduct: c.product,
		CallId:           callId,
		Action:           action,
	}
	if sdp != "" {
		rq.Session = &api.SdpSession{SdpType: "answer", Sdp: sdp}
	}
	if action == api.ActionAccept {
		rq.CallbackData = fmt.Sprintf("callbridge_%d", time.Now().Unix())
	}
	data, err := json.Marshal(rq)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	c.log.Debug().Str(logger.DirectionField, "→").Str("call", callId).Msg(action)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s: %w: %s %s", action, ErrActionFailed, resp.Status, body)
	}
	var out api.CallActionResponse
	if err = json.Unmarshal(body, &out); err != nil {
		return fmt.Errorf("%s: malformed response: %w", action, err)
	}
	if !out.Success {
		return fmt.Errorf("%s: %w", action, ErrActionFailed)
	}
	c.log.Debug().Str(logger.DirectionField, "←").Str("call", callId).Msgf("%s ok", action)
	return nil
}
