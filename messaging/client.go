// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/gmtsync/gmtsync/lib/chat"
	"github.com/gmtsync/gmtsync/lib/netutil"
)

const (
	// DefaultPageSize is the per_page value for listings.
	DefaultPageSize = 100

	// maxPages stops a listing whose pages never run short.
	maxPages = 50
)

// errNotModified reports a 304, which the messages endpoints return
// when nothing is newer than after_id.
var errNotModified = errors.New("messaging: not modified")

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// BaseURL is the REST root including the version, e.g.
	// "https://api.groupme.com/v3".
	BaseURL string

	// ImageURL is the image upload endpoint.
	ImageURL string

	AccessToken string

	// HTTPClient is used for all requests. If nil, http.DefaultClient
	// is used.
	HTTPClient *http.Client

	// Logger is used for structured logging. If nil, slog.Default() is
	// used.
	Logger *slog.Logger

	// RequestsPerSecond and Burst configure the client-side limiter.
	// Zero RequestsPerSecond disables limiting.
	RequestsPerSecond float64
	Burst             int

	// PageSize is the per_page value for listings. Zero means
	// DefaultPageSize.
	PageSize int
}

// Client is an authenticated REST client. It is safe for concurrent
// use.
type Client struct {
	baseURL     string
	imageURL    string
	accessToken string
	httpClient  *http.Client
	logger      *slog.Logger
	limiter     *rate.Limiter
	pageSize    int

	mu     sync.Mutex
	selfID string
}

// NewClient validates config and returns a Client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("messaging: BaseURL is required")
	}
	if config.AccessToken == "" {
		return nil, fmt.Errorf("messaging: AccessToken is required")
	}
	for name, raw := range map[string]string{"BaseURL": config.BaseURL, "ImageURL": config.ImageURL} {
		if raw == "" {
			continue
		}
		if parsed, err := url.Parse(raw); err != nil || parsed.Host == "" {
			return nil, fmt.Errorf("messaging: invalid %s %q", name, raw)
		}
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if config.RequestsPerSecond > 0 {
		burst := config.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), burst)
	}
	pageSize := config.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	return &Client{
		baseURL:     strings.TrimRight(config.BaseURL, "/"),
		imageURL:    config.ImageURL,
		accessToken: config.AccessToken,
		httpClient:  httpClient,
		logger:      logger.With("component", "messaging"),
		limiter:     limiter,
		pageSize:    pageSize,
	}, nil
}

// SelfID returns the signed-in user's ID once FetchProfile has
// succeeded, or "".
func (c *Client) SelfID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selfID
}

// FetchProfile returns the signed-in user's profile.
func (c *Client) FetchProfile(ctx context.Context) (chat.PersonPayload, error) {
	var profile chat.PersonPayload
	if err := c.do(ctx, http.MethodGet, "/users/me", nil, nil, &profile); err != nil {
		return chat.PersonPayload{}, fmt.Errorf("messaging: fetching profile: %w", err)
	}
	if profile.ID != "" {
		c.mu.Lock()
		c.selfID = profile.ID
		c.mu.Unlock()
	}
	return profile, nil
}

// FetchMemberships lists every group and direct conversation the user
// belongs to. Direct conversations are returned as GroupPayloads with
// Type "direct".
func (c *Client) FetchMemberships(ctx context.Context) ([]chat.GroupPayload, error) {
	groups, err := listPages(ctx, c, "/groups", func(group chat.GroupPayload) string { return group.ID })
	if err != nil {
		return nil, fmt.Errorf("messaging: listing groups: %w", err)
	}

	selfID, err := c.ensureSelfID(ctx)
	if err != nil {
		return nil, err
	}
	chats, err := listPages(ctx, c, "/chats", func(direct chat.DirectPayload) string { return direct.OtherUser.ID })
	if err != nil {
		return nil, fmt.Errorf("messaging: listing direct conversations: %w", err)
	}
	for _, payload := range chats {
		conversation, err := chat.ConversationFromDirectPayload(selfID, payload)
		if err != nil {
			c.logger.Warn("skipping direct conversation", "error", err)
			continue
		}
		groups = append(groups, conversation.Payload())
	}
	return groups, nil
}

// FetchMessagesAfter returns messages newer than afterID, newest first.
// An empty afterID returns the most recent page.
func (c *Client) FetchMessagesAfter(ctx context.Context, conversationID, afterID string) ([]chat.MessagePayload, error) {
	query := url.Values{}
	if afterID != "" {
		query.Set("after_id", afterID)
	}

	var (
		messages []chat.MessagePayload
		err      error
	)
	if isDirect(conversationID) {
		var otherID string
		otherID, err = c.otherUserID(ctx, conversationID)
		if err != nil {
			return nil, err
		}
		query.Set("other_user_id", otherID)
		var page directMessagesPage
		err = c.do(ctx, http.MethodGet, "/direct_messages", query, nil, &page)
		messages = page.DirectMessages
	} else {
		var page messagesPage
		err = c.do(ctx, http.MethodGet, "/groups/"+url.PathEscape(conversationID)+"/messages", query, nil, &page)
		messages = page.Messages
	}
	if errors.Is(err, errNotModified) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("messaging: fetching messages for %s: %w", conversationID, err)
	}
	return messages, nil
}

// SendMessage posts message to the conversation and returns the
// server's copy.
func (c *Client) SendMessage(ctx context.Context, conversationID string, message chat.OutgoingMessage) (chat.MessagePayload, error) {
	if !isDirect(conversationID) {
		var sent sentMessage
		if err := c.do(ctx, http.MethodPost, "/groups/"+url.PathEscape(conversationID)+"/messages", nil, message, &sent); err != nil {
			return chat.MessagePayload{}, fmt.Errorf("messaging: sending to %s: %w", conversationID, err)
		}
		return sent.Message, nil
	}

	recipientID, err := c.otherUserID(ctx, conversationID)
	if err != nil {
		return chat.MessagePayload{}, err
	}
	request := directMessageRequest{DirectMessage: directMessageBody{
		SourceGUID:  message.Message.SourceGUID,
		RecipientID: recipientID,
		Text:        message.Message.Text,
		Attachments: message.Message.Attachments,
	}}
	var sent sentDirectMessage
	if err := c.do(ctx, http.MethodPost, "/direct_messages", nil, request, &sent); err != nil {
		return chat.MessagePayload{}, fmt.Errorf("messaging: sending to %s: %w", conversationID, err)
	}
	return sent.DirectMessage, nil
}

// UploadImage stores image with the image service and returns its URL.
func (c *Client) UploadImage(ctx context.Context, image []byte) (string, error) {
	if c.imageURL == "" {
		return "", fmt.Errorf("messaging: no ImageURL configured")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("messaging: uploading image: %w", err)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.imageURL, bytes.NewReader(image))
	if err != nil {
		return "", fmt.Errorf("messaging: failed to create request: %w", err)
	}
	request.Header.Set("X-Access-Token", c.accessToken)
	request.Header.Set("Content-Type", http.DetectContentType(image))

	response, err := c.httpClient.Do(request)
	if err != nil {
		return "", fmt.Errorf("messaging: uploading image: %w", err)
	}
	defer response.Body.Close()
	body, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return "", fmt.Errorf("messaging: failed to read upload response: %w", err)
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return "", &APIError{
			StatusCode: response.StatusCode,
			Messages:   []string{netutil.ErrorSnippet(body)},
			Method:     http.MethodPost,
			Path:       request.URL.Path,
		}
	}

	var upload imageUpload
	if err := json.Unmarshal(body, &upload); err != nil {
		return "", fmt.Errorf("messaging: failed to parse upload response: %w", err)
	}
	switch {
	case upload.Payload.URL != "":
		return upload.Payload.URL, nil
	case upload.Payload.PictureURL != "":
		return upload.Payload.PictureURL, nil
	}
	return "", fmt.Errorf("messaging: upload response has no image URL: %s", netutil.ErrorSnippet(body))
}

func (c *Client) ensureSelfID(ctx context.Context) (string, error) {
	if selfID := c.SelfID(); selfID != "" {
		return selfID, nil
	}
	profile, err := c.FetchProfile(ctx)
	if err != nil {
		return "", err
	}
	if profile.ID == "" {
		return "", fmt.Errorf("messaging: profile has no user ID")
	}
	return profile.ID, nil
}

func (c *Client) otherUserID(ctx context.Context, conversationID string) (string, error) {
	selfID, err := c.ensureSelfID(ctx)
	if err != nil {
		return "", err
	}
	direct := chat.NewConversation(conversationID, chat.KindDirect)
	otherID := direct.OtherUserID(selfID)
	if otherID == "" || otherID == conversationID {
		return "", fmt.Errorf("messaging: cannot find the other user of direct conversation %q", conversationID)
	}
	return otherID, nil
}

func isDirect(conversationID string) bool {
	return strings.Contains(conversationID, "+")
}

// listPages fetches page after page of a listing until one comes back
// short. Items are de-duplicated by key, and a full page that adds
// nothing new ends the walk, since some endpoints ignore the page
// parameter and return the first page forever.
func listPages[T any](ctx context.Context, c *Client, path string, key func(T) string) ([]T, error) {
	var all []T
	seen := make(map[string]bool)
	for page := 1; page <= maxPages; page++ {
		query := url.Values{}
		query.Set("page", strconv.Itoa(page))
		query.Set("per_page", strconv.Itoa(c.pageSize))
		var items []T
		if err := c.do(ctx, http.MethodGet, path, query, nil, &items); err != nil {
			return nil, err
		}
		added := 0
		for _, item := range items {
			id := key(item)
			if seen[id] {
				continue
			}
			seen[id] = true
			all = append(all, item)
			added++
		}
		if len(items) < c.pageSize {
			return all, nil
		}
		if added == 0 {
			c.logger.Warn("listing repeated a page, stopping", "path", path, "page", page)
			return all, nil
		}
	}
	c.logger.Warn("listing truncated", "path", path, "pages", maxPages)
	return all, nil
}

// do performs one REST call. requestBody, when non-nil, is sent as
// JSON; the envelope's response field is decoded into out.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, requestBody, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	if query == nil {
		query = url.Values{}
	}
	query.Set("token", c.accessToken)
	requestURL := c.baseURL + path + "?" + query.Encode()

	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return fmt.Errorf("messaging: failed to encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}
	request, err := http.NewRequestWithContext(ctx, method, requestURL, bodyReader)
	if err != nil {
		return fmt.Errorf("messaging: failed to create request: %w", err)
	}
	request.Header.Set("Accept", "application/json")
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		// The URL carries the token; report the path only.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return fmt.Errorf("messaging: request to %s %s failed: %w", method, path, err)
	}
	defer response.Body.Close()

	if response.StatusCode == http.StatusNotModified {
		return errNotModified
	}
	responseBody, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return fmt.Errorf("messaging: failed to read response body: %w", err)
	}

	var reply envelope
	decodeErr := json.Unmarshal(responseBody, &reply)
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: response.StatusCode, Method: method, Path: path}
		if decodeErr == nil {
			apiErr.Code = reply.Meta.Code
			apiErr.Messages = reply.Meta.Errors
		} else if snippet := netutil.ErrorSnippet(responseBody); snippet != "" {
			apiErr.Messages = []string{snippet}
		}
		return apiErr
	}
	if decodeErr != nil {
		return fmt.Errorf("messaging: unexpected response from %s %s: %w", method, path, decodeErr)
	}
	if out == nil {
		return nil
	}
	if len(reply.Response) == 0 || string(reply.Response) == "null" {
		return fmt.Errorf("messaging: empty response from %s %s", method, path)
	}
	if err := json.Unmarshal(reply.Response, out); err != nil {
		return fmt.Errorf("messaging: failed to parse response from %s %s: %w", method, path, err)
	}
	return nil
}
