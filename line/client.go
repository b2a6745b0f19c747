package line

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
)

// MulticastLimit is the platform's per-call recipient cap.
const MulticastLimit = 500

const (
	defaultAPIBase  = "https://api.line.me/v2/bot"
	defaultDataBase = "https://api-data.line.me/v2/bot"
)

// Gateway is the capability the engines require from the messaging platform.
type Gateway interface {
	GetProfile(ctx context.Context, userID string) (*Profile, error)
	Push(ctx context.Context, to string, messages []Message) error
	Multicast(ctx context.Context, to []string, messages []Message) error
	CreateRichMenu(ctx context.Context, def RichMenuDefinition) (string, error)
	UploadRichMenuImage(ctx context.Context, menuID string, image []byte, contentType string) error
	DeleteRichMenu(ctx context.Context, menuID string) error
	LinkMenuToUser(ctx context.Context, userID, menuID string) error
	UnlinkMenuFromUser(ctx context.Context, userID string) error
	SetDefaultMenu(ctx context.Context, menuID string) error
	ClearDefaultMenu(ctx context.Context) error
}

// APIError is a non-2xx platform response, kept with its full body so
// delivery failures can be logged with the platform's own detail.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("line api responded with status %d: %s", e.StatusCode, e.Body)
}

// Client is the real Gateway. Base URLs are overridable for tests.
type Client struct {
	accessToken string
	apiBase     string
	dataBase    string
	httpClient  *http.Client
}

func NewClient(accessToken string) *Client {
	return &Client{
		accessToken: accessToken,
		apiBase:     defaultAPIBase,
		dataBase:    defaultDataBase,
		httpClient:  http.DefaultClient,
	}
}

// NewGateway is the ClientFactory signature used by the engines.
func NewGateway(accessToken string) Gateway {
	return NewClient(accessToken)
}

func NewClientWithBase(accessToken, apiBase, dataBase string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{accessToken: accessToken, apiBase: apiBase, dataBase: dataBase, httpClient: httpClient}
}

func (c *Client) do(ctx context.Context, method, url string, body []byte, contentType string, extraHeaders map[string]string, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range extraHeaders {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to line api failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode line api response: %w", err)
		}
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, url string, payload any, extraHeaders map[string]string, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	return c.do(ctx, http.MethodPost, url, body, "application/json", extraHeaders, out)
}

func (c *Client) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	var profile Profile
	if err := c.do(ctx, http.MethodGet, c.apiBase+"/profile/"+userID, nil, "", nil, &profile); err != nil {
		return nil, fmt.Errorf("GetProfile: %w", err)
	}
	return &profile, nil
}

func (c *Client) Push(ctx context.Context, to string, messages []Message) error {
	payload := map[string]any{"to": to, "messages": messages}
	if err := c.postJSON(ctx, c.apiBase+"/message/push", payload, nil, nil); err != nil {
		return fmt.Errorf("Push: %w", err)
	}
	return nil
}

// Multicast sends one payload to up to MulticastLimit recipients. The retry
// key makes a redelivered call idempotent on the platform side.
func (c *Client) Multicast(ctx context.Context, to []string, messages []Message) error {
	if len(to) > MulticastLimit {
		return fmt.Errorf("Multicast: %d recipients exceeds the cap of %d", len(to), MulticastLimit)
	}
	payload := map[string]any{"to": to, "messages": messages}
	headers := map[string]string{"X-Line-Retry-Key": uuid.NewString()}
	if err := c.postJSON(ctx, c.apiBase+"/message/multicast", payload, headers, nil); err != nil {
		return fmt.Errorf("Multicast: %w", err)
	}
	return nil
}

func (c *Client) CreateRichMenu(ctx context.Context, def RichMenuDefinition) (string, error) {
	var out struct {
		RichMenuID string `json:"richMenuId"`
	}
	if err := c.postJSON(ctx, c.apiBase+"/richmenu", def, nil, &out); err != nil {
		return "", fmt.Errorf("CreateRichMenu: %w", err)
	}
	return out.RichMenuID, nil
}

func (c *Client) UploadRichMenuImage(ctx context.Context, menuID string, image []byte, contentType string) error {
	url := c.dataBase + "/richmenu/" + menuID + "/content"
	if err := c.do(ctx, http.MethodPost, url, image, contentType, nil, nil); err != nil {
		return fmt.Errorf("UploadRichMenuImage: %w", err)
	}
	return nil
}

func (c *Client) DeleteRichMenu(ctx context.Context, menuID string) error {
	if err := c.do(ctx, http.MethodDelete, c.apiBase+"/richmenu/"+menuID, nil, "", nil, nil); err != nil {
		return fmt.Errorf("DeleteRichMenu: %w", err)
	}
	return nil
}

func (c *Client) LinkMenuToUser(ctx context.Context, userID, menuID string) error {
	url := c.apiBase + "/user/" + userID + "/richmenu/" + menuID
	if err := c.do(ctx, http.MethodPost, url, nil, "", nil, nil); err != nil {
		return fmt.Errorf("LinkMenuToUser: %w", err)
	}
	return nil
}

func (c *Client) UnlinkMenuFromUser(ctx context.Context, userID string) error {
	url := c.apiBase + "/user/" + userID + "/richmenu"
	if err := c.do(ctx, http.MethodDelete, url, nil, "", nil, nil); err != nil {
		return fmt.Errorf("UnlinkMenuFromUser: %w", err)
	}
	return nil
}

func (c *Client) SetDefaultMenu(ctx context.Context, menuID string) error {
	url := c.apiBase + "/user/all/richmenu/" + menuID
	if err := c.do(ctx, http.MethodPost, url, nil, "", nil, nil); err != nil {
		return fmt.Errorf("SetDefaultMenu: %w", err)
	}
	return nil
}

func (c *Client) ClearDefaultMenu(ctx context.Context) error {
	if err := c.do(ctx, http.MethodDelete, c.apiBase+"/user/all/richmenu", nil, "", nil, nil); err != nil {
		return fmt.Errorf("ClearDefaultMenu: %w", err)
	}
	return nil
}
