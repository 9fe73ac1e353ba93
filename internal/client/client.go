// Package client talks to the Alias API over HTTP and the realtime websocket.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/alias/backend/internal/chatcache"
	"go.uber.org/zap"
)

const defaultRequestTimeout = 15 * time.Second

var errMissingBaseURL = errors.New("client: base url is required")

// APIError is a non-2xx answer from the API.
type APIError struct {
	Status int
	Kind   string `json:"error"`
	Code   string `json:"code"`
	Field  string `json:"field"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api %d: %s", e.Status, e.Code)
	}
	return fmt.Sprintf("api %d: %s", e.Status, e.Kind)
}

// Config configures a Client.
type Config struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client is an authenticated API client. It implements
// chatcache.MessageAPI and chatcache.AttachmentUploader.
type Client struct {
	baseURL *url.URL
	token   string
	http    *http.Client
	logger  *zap.Logger
}

// New validates cfg and returns a Client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errMissingBaseURL
	}
	baseURL, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("client: parse base url: %w", err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{baseURL: baseURL, token: cfg.Token, http: httpClient, logger: logger}, nil
}

// Token returns the session token used for requests.
func (c *Client) Token() string {
	return c.token
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SessionResponse is returned by sign-in and sign-up.
type SessionResponse struct {
	Token     string            `json:"token"`
	ExpiresAt time.Time         `json:"expiresAt"`
	Profile   chatcache.Profile `json:"profile"`
}

// SignIn exchanges credentials for a session token and keeps it.
func (c *Client) SignIn(ctx context.Context, email, password string) (SessionResponse, error) {
	var session SessionResponse
	if err := c.do(ctx, http.MethodPost, "/auth/signin", nil, signInRequest{Email: email, Password: password}, &session); err != nil {
		return SessionResponse{}, err
	}
	c.token = session.Token
	return session, nil
}

// Me returns the signed-in profile.
func (c *Client) Me(ctx context.Context) (chatcache.Profile, error) {
	var profile chatcache.Profile
	err := c.do(ctx, http.MethodGet, "/api/profiles/me", nil, nil, &profile)
	return profile, err
}

type channelResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ServerID string `json:"serverId"`
}

// ChannelMembers lists the members of the server owning channelID.
func (c *Client) ChannelMembers(ctx context.Context, channelID string) ([]chatcache.Profile, error) {
	var channel channelResponse
	if err := c.do(ctx, http.MethodGet, "/api/channels/"+url.PathEscape(channelID), nil, nil, &channel); err != nil {
		return nil, err
	}
	var members []chatcache.Profile
	err := c.do(ctx, http.MethodGet, "/api/servers/"+url.PathEscape(channel.ServerID)+"/members", nil, nil, &members)
	return members, err
}

type sendMessageRequest struct {
	ID            string  `json:"id"`
	Content       string  `json:"content"`
	ChannelID     string  `json:"channelId"`
	AttachmentURL *string `json:"attachmentUrl"`
}

// SendMessage implements chatcache.MessageAPI.
func (c *Client) SendMessage(ctx context.Context, draft chatcache.DraftMessage) (chatcache.Message, error) {
	var message chatcache.Message
	err := c.do(ctx, http.MethodPost, "/api/messages", nil, sendMessageRequest{
		ID:            draft.ID,
		Content:       draft.Content,
		ChannelID:     draft.ChannelID,
		AttachmentURL: draft.AttachmentURL,
	}, &message)
	return message, err
}

type addReactionRequest struct {
	ID        string `json:"id"`
	ChannelID string `json:"channelId"`
	Emoji     string `json:"emoji"`
}

// AddReaction implements chatcache.MessageAPI.
func (c *Client) AddReaction(ctx context.Context, channelID, messageID, reactionID, emoji string) (chatcache.Reaction, error) {
	var reaction chatcache.Reaction
	err := c.do(ctx, http.MethodPost, "/api/messages/"+url.PathEscape(messageID)+"/reactions", nil,
		addReactionRequest{ID: reactionID, ChannelID: channelID, Emoji: emoji}, &reaction)
	return reaction, err
}

// RemoveReaction implements chatcache.MessageAPI.
func (c *Client) RemoveReaction(ctx context.Context, channelID, messageID, emoji string) error {
	query := url.Values{"channelId": {channelID}, "emoji": {emoji}}
	return c.do(ctx, http.MethodDelete, "/api/messages/"+url.PathEscape(messageID)+"/reactions", query, nil, nil)
}

// ListMessages implements chatcache.MessageAPI.
func (c *Client) ListMessages(ctx context.Context, channelID string, cursor int) (chatcache.Page, error) {
	var page chatcache.Page
	query := url.Values{"cursor": {strconv.Itoa(cursor)}}
	err := c.do(ctx, http.MethodGet, "/api/channels/"+url.PathEscape(channelID)+"/messages", query, nil, &page)
	return page, err
}

type uploadResponse struct {
	URL string `json:"url"`
}

// UploadAttachment implements chatcache.AttachmentUploader.
func (c *Client) UploadAttachment(ctx context.Context, objectPath string, attachment chatcache.Attachment) (string, error) {
	contentType := attachment.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	query := url.Values{"path": {objectPath}}
	request, err := c.newRequest(ctx, http.MethodPost, "/api/storage/attachments", query, bytes.NewReader(attachment.Data))
	if err != nil {
		return "", err
	}
	request.Header.Set("Content-Type", contentType)
	var uploaded uploadResponse
	if err := c.send(request, &uploaded); err != nil {
		return "", err
	}
	return uploaded.URL, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request, err := c.newRequest(ctx, method, endpoint, query, reader)
	if err != nil {
		return err
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	return c.send(request, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	target := c.baseURL.JoinPath(endpoint)
	if len(query) > 0 {
		target.RawQuery = query.Encode()
	}
	request, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("client: build request: %w", err)
	}
	request.Header.Set("Accept", "application/json")
	if c.token != "" {
		request.Header.Set("Authorization", "Bearer "+c.token)
	}
	return request, nil
}

func (c *Client) send(request *http.Request, out any) error {
	response, err := c.http.Do(request)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", request.Method, request.URL.Path, err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		apiErr := &APIError{Status: response.StatusCode}
		_ = json.NewDecoder(io.LimitReader(response.Body, 64<<10)).Decode(apiErr)
		c.logger.Debug("api request rejected",
			zap.String("method", request.Method),
			zap.String("path", request.URL.Path),
			zap.Int("status", response.StatusCode),
			zap.String("code", apiErr.Code))
		return apiErr
	}
	if out == nil || response.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return fmt.Errorf("client: decode %s: %w", request.URL.Path, err)
	}
	return nil
}
