package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mahaj/msgbridge/pkg/shape"
)

func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil, nil)
}

func (c *Client) ListChats(ctx context.Context, limit, offset int) ([]shape.Record, error) {
	var out any
	if err := c.do(ctx, http.MethodGet, "/chats", pageQuery(limit, offset), nil, &out); err != nil {
		return nil, err
	}
	return records(out, "chats"), nil
}

func (c *Client) GetChat(ctx context.Context, id string) (shape.Record, error) {
	var out any
	if err := c.do(ctx, http.MethodGet, "/chats/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return record(out, "chat"), nil
}

type createChatRequest struct {
	Addresses []string `json:"addresses"`
	Service   string   `json:"service,omitempty"`
}

// CreateChat finds or creates the conversation with exactly these addresses.
func (c *Client) CreateChat(ctx context.Context, addresses []string, service string) (shape.Record, error) {
	var out any
	body := createChatRequest{Addresses: addresses, Service: service}
	if err := c.do(ctx, http.MethodPost, "/chats", nil, body, &out); err != nil {
		return nil, err
	}
	return record(out, "chat"), nil
}

func (c *Client) SearchChats(ctx context.Context, query string, limit, offset int) ([]shape.Record, error) {
	q := pageQuery(limit, offset)
	q.Set("q", query)
	var out any
	if err := c.do(ctx, http.MethodGet, "/chats/search", q, nil, &out); err != nil {
		return nil, err
	}
	return records(out, "chats"), nil
}

// ListMessages returns up to limit messages older than before, newest first.
// before is in daemon units; zero means no cursor.
func (c *Client) ListMessages(ctx context.Context, chatID string, limit int, before int64) ([]shape.Record, error) {
	q := pageQuery(limit, 0)
	if before > 0 {
		q.Set("before", strconv.FormatInt(before, 10))
	}
	var out any
	if err := c.do(ctx, http.MethodGet, "/chats/"+url.PathEscape(chatID)+"/messages", q, nil, &out); err != nil {
		return nil, err
	}
	return records(out, "messages"), nil
}

type SendRequest struct {
	ChatID         string   `json:"chat_id"`
	Text           string   `json:"text"`
	Attachments    []string `json:"attachments"`
	IdempotencyKey string   `json:"idempotency_key"`
}

// SendResult is the daemon's acknowledgement of an accepted send.
type SendResult struct {
	ID        string
	CreatedAt any
	Record    shape.Record
}

func (c *Client) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	if req.Attachments == nil {
		req.Attachments = []string{}
	}
	var out any
	if err := c.do(ctx, http.MethodPost, "/messages", nil, req, &out); err != nil {
		return SendResult{}, err
	}
	rec := record(out, "message")
	res := SendResult{
		ID:     shape.String(rec["id"]),
		Record: rec,
	}
	if res.ID == "" {
		res.ID = shape.String(rec["guid"])
	}
	res.CreatedAt = rec["created_at"]
	if res.CreatedAt == nil {
		res.CreatedAt = rec["date"]
	}
	return res, nil
}

func (c *Client) SetTyping(ctx context.Context, chatID string, typing bool) error {
	method := http.MethodPost
	if !typing {
		method = http.MethodDelete
	}
	return c.do(ctx, method, "/chats/"+url.PathEscape(chatID)+"/typing", nil, nil, nil)
}

func (c *Client) MarkRead(ctx context.Context, chatID string) error {
	return c.do(ctx, http.MethodPost, "/chats/"+url.PathEscape(chatID)+"/read", nil, nil, nil)
}

func (c *Client) ListContacts(ctx context.Context, limit, offset int) ([]shape.Record, error) {
	var out any
	if err := c.do(ctx, http.MethodGet, "/contacts", pageQuery(limit, offset), nil, &out); err != nil {
		return nil, err
	}
	return records(out, "contacts"), nil
}

func (c *Client) QueryContacts(ctx context.Context, addresses []string) ([]shape.Record, error) {
	var out any
	body := map[string][]string{"addresses": addresses}
	if err := c.do(ctx, http.MethodPost, "/contacts/query", nil, body, &out); err != nil {
		return nil, err
	}
	return records(out, "contacts"), nil
}

func (c *Client) Attachment(ctx context.Context, id string) (shape.Record, error) {
	var out any
	if err := c.do(ctx, http.MethodGet, "/attachments/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return record(out, "attachment"), nil
}

// DataResponse is a streamed attachment body. Callers must close Body.
type DataResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// AttachmentData streams attachment bytes, forwarding rangeHeader verbatim.
// The timeout bounds the wait for response headers only, so long downloads
// are not cut off.
func (c *Client) AttachmentData(ctx context.Context, id, rangeHeader string) (*DataResponse, error) {
	ctx, cancel := context.WithCancel(ctx)
	timer := time.AfterFunc(c.timeout, cancel)

	req, err := c.newRequest(ctx, http.MethodGet, "/attachments/"+url.PathEscape(id)+"/data", nil, nil)
	if err != nil {
		timer.Stop()
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "*/*")
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	resp, err := c.httpClient.Do(req)
	fired := !timer.Stop()
	if err != nil {
		cancel()
		if fired {
			return nil, classifyTransport(ctx, fmt.Errorf("%w: %v", context.DeadlineExceeded, err))
		}
		return nil, classifyTransport(ctx, err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		defer cancel()
		defer resp.Body.Close()
		return nil, classifyStatus(req.URL.String(), resp)
	}
	return &DataResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       &cancelOnClose{ReadCloser: resp.Body, cancel: cancel},
	}, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// Updates polls for changes since the given daemon-unit timestamp.
func (c *Client) Updates(ctx context.Context, since int64) (Updates, error) {
	q := url.Values{}
	q.Set("since", strconv.FormatInt(since, 10))
	var out map[string]any
	if err := c.do(ctx, http.MethodGet, "/updates", q, nil, &out); err != nil {
		return Updates{}, err
	}
	return ParseUpdates(out)
}
