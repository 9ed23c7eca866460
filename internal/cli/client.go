package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// RequestResponse — request из API.
type RequestResponse struct {
	ID             string       `json:"id"`
	ClientID       string       `json:"client_id"`
	Portal         string       `json:"portal"`
	CaseNumbers    []string     `json:"case_numbers"`
	Status         string       `json:"status"`
	ItemsTotal     int          `json:"items_total"`
	ItemsProcessed int          `json:"items_processed"`
	ItemsSucceeded int          `json:"items_succeeded"`
	ItemsFailed    int          `json:"items_failed"`
	Results        []ItemResult `json:"results,omitempty"`
	StartedAt      string       `json:"started_at,omitempty"`
	CompletedAt    string       `json:"completed_at,omitempty"`
	CreatedAt      string       `json:"created_at"`
}

// ItemResult — результат позиции из API.
type ItemResult struct {
	CaseNumber  string        `json:"case_number"`
	Outcome     string        `json:"outcome"`
	Artifacts   []ArtifactRef `json:"artifacts,omitempty"`
	Error       string        `json:"error,omitempty"`
	ProcessedAt string        `json:"processed_at"`
}

// ArtifactRef — ссылка на артефакт из API.
type ArtifactRef struct {
	Key      string `json:"key"`
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
	Size     int64  `json:"size,omitempty"`
	URL      string `json:"url,omitempty"`
}

// TaskResponse — task из API.
type TaskResponse struct {
	ID            string `json:"id"`
	RequestID     string `json:"request_id"`
	CaseNumber    string `json:"case_number"`
	Portal        string `json:"portal"`
	Status        string `json:"status"`
	Attempt       int    `json:"attempt"`
	ArtifactCount int    `json:"artifact_count"`
	Error         string `json:"error,omitempty"`
	StartedAt     string `json:"started_at,omitempty"`
	FinishedAt    string `json:"finished_at,omitempty"`
	CreatedAt     string `json:"created_at"`
}

// EventResponse — событие журнала из API.
type EventResponse struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	RequestID string         `json:"request_id"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Processed bool           `json:"processed"`
	Success   bool           `json:"success"`
	Error     string         `json:"error,omitempty"`
	CreatedAt string         `json:"created_at"`
}

// --- Request types ---

// CreateRequestRequest — создание пакетной заявки.
type CreateRequestRequest struct {
	ClientID    string   `json:"client_id"`
	Portal      string   `json:"portal"`
	CaseNumbers []string `json:"case_numbers"`
}

// ListRequestsOpts — параметры фильтрации requests.
type ListRequestsOpts struct {
	ClientID string
	Status   string
	Limit    int
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для Caseflow API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Requests ---

// CreateRequest создаёт пакетную заявку.
func (c *Client) CreateRequest(req CreateRequestRequest) (*RequestResponse, error) {
	var result RequestResponse
	err := c.post("/api/v1/requests", req, &result)
	return &result, err
}

// ListRequests возвращает список requests с фильтрацией.
func (c *Client) ListRequests(opts ListRequestsOpts) ([]RequestResponse, error) {
	params := url.Values{}
	if opts.ClientID != "" {
		params.Set("client_id", opts.ClientID)
	}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", opts.Limit))
	}

	var requests []RequestResponse
	err := c.list("/api/v1/requests", params, &requests)
	return requests, err
}

// GetRequest возвращает request по ID.
func (c *Client) GetRequest(id string) (*RequestResponse, error) {
	var result RequestResponse
	err := c.get("/api/v1/requests/"+id, &result)
	return &result, err
}

// CancelRequest отменяет request.
func (c *Client) CancelRequest(id string) (*RequestResponse, error) {
	var result RequestResponse
	err := c.post("/api/v1/requests/"+id+"/cancel", nil, &result)
	return &result, err
}

// ListTasks возвращает tasks для request.
func (c *Client) ListTasks(requestID string) ([]TaskResponse, error) {
	var tasks []TaskResponse
	err := c.list("/api/v1/requests/"+requestID+"/tasks", nil, &tasks)
	return tasks, err
}

// ListEvents возвращает журнал событий request.
func (c *Client) ListEvents(requestID string) ([]EventResponse, error) {
	var events []EventResponse
	err := c.list("/api/v1/requests/"+requestID+"/events", nil, &events)
	return events, err
}

// ListArtifacts возвращает артефакты request с временными ссылками.
func (c *Client) ListArtifacts(requestID string) ([]ArtifactRef, error) {
	var artifacts []ArtifactRef
	err := c.list("/api/v1/requests/"+requestID+"/artifacts", nil, &artifacts)
	return artifacts, err
}

// ListPortals возвращает поддерживаемые порталы.
func (c *Client) ListPortals() ([]string, error) {
	var portals []string
	err := c.list("/api/v1/portals", nil, &portals)
	return portals, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}
