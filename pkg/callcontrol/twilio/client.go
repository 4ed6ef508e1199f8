package twilio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/harunnryd/callscribe/pkg/callcontrol"
	"github.com/harunnryd/callscribe/pkg/logging"
	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"
)

const providerName = "twilio"

type Config struct {
	AccountSID            string `mapstructure:"account_sid"`
	AuthToken             string `mapstructure:"auth_token"`
	PublicURL             string `mapstructure:"public_url"`
	StatusCallbackPath    string `mapstructure:"status_callback_path"`
	RecordingCallbackPath string `mapstructure:"recording_callback_path"`
	HoldSeconds           int    `mapstructure:"hold_seconds"`
	ListenSeconds         int    `mapstructure:"listen_seconds"`
	RecordingFormat       string `mapstructure:"recording_format"`
	APIBaseURL            string `mapstructure:"api_base_url"`
}

func (c Config) withDefaults() Config {
	if c.StatusCallbackPath == "" {
		c.StatusCallbackPath = "/twilio/status"
	}
	if c.RecordingCallbackPath == "" {
		c.RecordingCallbackPath = "/twilio/recording"
	}
	if c.HoldSeconds <= 0 {
		c.HoldSeconds = 60
	}
	if c.ListenSeconds <= 0 {
		c.ListenSeconds = 30
	}
	if c.RecordingFormat == "" {
		c.RecordingFormat = "mp3"
	}
	if c.APIBaseURL == "" {
		c.APIBaseURL = "https://api.twilio.com/2010-04-01"
	}
	return c
}

type callAPI interface {
	CreateCall(params *api.CreateCallParams) (*api.ApiV2010Call, error)
	UpdateCall(sid string, params *api.UpdateCallParams) (*api.ApiV2010Call, error)
	CreateCallRecording(callSid string, params *api.CreateCallRecordingParams) (*api.ApiV2010CallRecording, error)
	ListCallRecording(callSid string, params *api.ListCallRecordingParams) ([]api.ApiV2010CallRecording, error)
}

// Client implements callcontrol.Client over the Twilio REST API.
type Client struct {
	cfg    Config
	api    callAPI
	http   *http.Client
	logger *slog.Logger
}

func New(cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, errors.New("missing twilio credentials")
	}
	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return newWithAPI(cfg, rest.Api), nil
}

func newWithAPI(cfg Config, a callAPI) *Client {
	return &Client{
		cfg:    cfg.withDefaults(),
		api:    a,
		http:   &http.Client{Timeout: 60 * time.Second},
		logger: logging.NewComponentLogger(slog.Default(), "twilio_callcontrol"),
	}
}

func (c *Client) fail(op, callID string, err error) error {
	return &callcontrol.ProviderError{Provider: providerName, Op: op, CallID: callID, Err: err}
}

// Originate places a call that holds the line until the orchestrator
// starts playback.
func (c *Client) Originate(ctx context.Context, from, to string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", c.fail(callcontrol.OpOriginate, "", err)
	}
	if to == "" || from == "" {
		return "", c.fail(callcontrol.OpOriginate, "", errors.New("to/from required"))
	}
	params := &api.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(from)
	params.SetTwiml(holdTwiml(c.cfg.HoldSeconds))
	if cb := c.callbackURL(c.cfg.StatusCallbackPath); cb != "" {
		params.SetStatusCallback(cb)
		params.SetStatusCallbackMethod(http.MethodPost)
		params.SetStatusCallbackEvent([]string{"initiated", "ringing", "answered", "completed"})
	}
	resp, err := c.api.CreateCall(params)
	if err != nil {
		return "", c.fail(callcontrol.OpOriginate, "", err)
	}
	if resp == nil || resp.Sid == nil {
		return "", c.fail(callcontrol.OpOriginate, "", fmt.Errorf("missing call sid"))
	}
	return *resp.Sid, nil
}

func (c *Client) StartPlayback(ctx context.Context, callID, audioURL string) error {
	if err := ctx.Err(); err != nil {
		return c.fail(callcontrol.OpPlayback, callID, err)
	}
	if strings.TrimSpace(audioURL) == "" {
		return c.fail(callcontrol.OpPlayback, callID, errors.New("audio url required"))
	}
	params := &api.UpdateCallParams{}
	params.SetTwiml(playTwiml(audioURL, c.cfg.ListenSeconds))
	if _, err := c.api.UpdateCall(callID, params); err != nil {
		return c.fail(callcontrol.OpPlayback, callID, err)
	}
	return nil
}

// StartRecording starts a call recording. Twilio always stores both wav and
// mp3; format only selects which one RecordingURL returns.
func (c *Client) StartRecording(ctx context.Context, callID, format, channels string) error {
	if err := ctx.Err(); err != nil {
		return c.fail(callcontrol.OpRecord, callID, err)
	}
	params := &api.CreateCallRecordingParams{}
	params.SetRecordingChannels(recordingChannels(channels))
	if cb := c.callbackURL(c.cfg.RecordingCallbackPath); cb != "" {
		params.SetRecordingStatusCallback(cb)
		params.SetRecordingStatusCallbackMethod(http.MethodPost)
		params.SetRecordingStatusCallbackEvent([]string{"completed"})
	}
	if _, err := c.api.CreateCallRecording(callID, params); err != nil {
		return c.fail(callcontrol.OpRecord, callID, err)
	}
	if format != "" {
		c.logger.Debug("recording_started", "call_id", callID, "format", format)
	}
	return nil
}

func (c *Client) RecordingURL(ctx context.Context, callID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", c.fail(callcontrol.OpRecordingURL, callID, err)
	}
	params := &api.ListCallRecordingParams{}
	params.SetLimit(20)
	recs, err := c.api.ListCallRecording(callID, params)
	if err != nil {
		return "", c.fail(callcontrol.OpRecordingURL, callID, err)
	}
	for _, rec := range recs {
		if rec.Sid == nil || rec.Status == nil || *rec.Status != "completed" {
			continue
		}
		return fmt.Sprintf("%s/Accounts/%s/Recordings/%s%s",
			strings.TrimRight(c.cfg.APIBaseURL, "/"), c.cfg.AccountSID, *rec.Sid, recordingExtension(c.cfg.RecordingFormat)), nil
	}
	return "", nil
}

func (c *Client) DownloadRecording(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, c.fail(callcontrol.OpDownload, "", err)
	}
	if strings.HasPrefix(url, strings.TrimRight(c.cfg.APIBaseURL, "/")) {
		req.SetBasicAuth(c.cfg.AccountSID, c.cfg.AuthToken)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.fail(callcontrol.OpDownload, "", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, c.fail(callcontrol.OpDownload, "", fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.fail(callcontrol.OpDownload, "", err)
	}
	return data, nil
}

// SigningToken is the secret Twilio signs its webhook callbacks with.
func (c *Client) SigningToken() string { return c.cfg.AuthToken }

func (c *Client) callbackURL(path string) string {
	if c.cfg.PublicURL == "" || path == "" {
		return ""
	}
	return "https://" + normalizePublicURL(c.cfg.PublicURL) + path
}

var _ callcontrol.Client = (*Client)(nil)
