package servicenow

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sop-forge/backend/internal/storage/models"
	"github.com/sop-forge/backend/pkg/logger"
	"github.com/sop-forge/backend/pkg/retry"
)

const fetchBatchSize = 1000

// stateValues maps friendly state names to ServiceNow numeric state codes.
var stateValues = map[string]string{
	"new":         "1",
	"in_progress": "2",
	"on_hold":     "3",
	"resolved":    "6",
	"closed":      "7",
	"canceled":    "8",
}

// incidentFields is the field set requested from the incident table.
var incidentFields = []string{
	"number",
	"short_description",
	"description",
	"close_notes",
	"category",
	"subcategory",
	"priority",
	"state",
	"assignment_group",
	"assigned_to",
	"sys_created_on",
	"resolved_at",
}

// incidentRow is the wire shape of one ServiceNow incident record.
type incidentRow struct {
	Number           string `json:"number"`
	ShortDescription string `json:"short_description"`
	Description      string `json:"description"`
	CloseNotes       string `json:"close_notes"`
	Category         string `json:"category"`
	Subcategory      string `json:"subcategory"`
	Priority         string `json:"priority"`
	State            string `json:"state"`
	AssignmentGroup  string `json:"assignment_group"`
	AssignedTo       string `json:"assigned_to"`
	SysCreatedOn     string `json:"sys_created_on"`
	ResolvedAt       string `json:"resolved_at"`
}

// Client pulls incident history from a ServiceNow instance over its table
// REST API with basic auth.
type Client struct {
	baseURL    string
	username   string
	password   string
	pageSize   int
	httpClient *http.Client

	retryConfig retry.Config
}

func NewClient(instance, username, password string, pageSize int) *Client {
	if pageSize <= 0 {
		pageSize = fetchBatchSize
	}

	return &Client{
		baseURL:  fmt.Sprintf("https://%s.service-now.com/api/now", instance),
		username: username,
		password: password,
		pageSize: pageSize,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		retryConfig: retry.Config{
			MaxAttempts:    3,
			InitialDelay:   time.Second,
			MaxDelay:       10 * time.Second,
			Multiplier:     2.0,
			JitterFraction: 0.1,
			Logger:         logger.GetLogger(),
		},
	}
}

// TestConnection checks reachability and credentials with a single-record
// probe.
func (c *Client) TestConnection(ctx context.Context) error {
	params := url.Values{}
	params.Set("sysparm_limit", "1")

	_, err := c.get(ctx, "/table/incident", params)
	if err != nil {
		return fmt.Errorf("servicenow connection test failed: %w", err)
	}

	logger.Info("ServiceNow connection verified")
	return nil
}

// FetchIncidents pages through incidents in the given state created within
// the last daysBack days. limit of 0 means unbounded.
func (c *Client) FetchIncidents(ctx context.Context, state string, daysBack, limit int) ([]models.Incident, error) {
	stateValue, ok := stateValues[state]
	if !ok {
		stateValue = stateValues["closed"]
	}

	startDate := time.Now().AddDate(0, 0, -daysBack).Format("2006-01-02")
	query := fmt.Sprintf("state=%s^sys_created_on>=%s", stateValue, startDate)

	logger.Info("Fetching incidents from ServiceNow",
		zap.String("state", state),
		zap.Int("days_back", daysBack),
	)

	var incidents []models.Incident
	offset := 0

	for {
		params := url.Values{}
		params.Set("sysparm_query", query)
		params.Set("sysparm_fields", strings.Join(incidentFields, ","))
		params.Set("sysparm_display_value", "true")
		params.Set("sysparm_offset", fmt.Sprintf("%d", offset))
		params.Set("sysparm_limit", fmt.Sprintf("%d", c.pageSize))

		body, err := c.get(ctx, "/table/incident", params)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch incidents: %w", err)
		}

		var page struct {
			Result []incidentRow `json:"result"`
		}
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("failed to parse incident page: %w", err)
		}

		if len(page.Result) == 0 {
			break
		}

		for _, row := range page.Result {
			incidents = append(incidents, row.toIncident())
		}

		logger.Debug("Incident page fetched",
			zap.Int("offset", offset),
			zap.Int("total", len(incidents)),
		)

		if limit > 0 && len(incidents) >= limit {
			incidents = incidents[:limit]
			break
		}

		offset += c.pageSize
	}

	logger.Info("ServiceNow fetch complete", zap.Int("incidents", len(incidents)))
	return incidents, nil
}

// GetIncident fetches a single record by number.
func (c *Client) GetIncident(ctx context.Context, number string) (*models.Incident, error) {
	params := url.Values{}
	params.Set("sysparm_query", "number="+number)
	params.Set("sysparm_limit", "1")
	params.Set("sysparm_display_value", "true")

	body, err := c.get(ctx, "/table/incident", params)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch incident %s: %w", number, err)
	}

	var page struct {
		Result []incidentRow `json:"result"`
	}
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("failed to parse incident: %w", err)
	}

	if len(page.Result) == 0 {
		return nil, fmt.Errorf("incident %s not found", number)
	}

	inc := page.Result[0].toIncident()
	return &inc, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	var body []byte

	err := retry.Do(ctx, c.retryConfig, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
		if err != nil {
			return err
		}
		req.SetBasicAuth(c.username, c.password)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("servicenow returned status %d", resp.StatusCode)
		}

		body, err = io.ReadAll(resp.Body)
		return err
	})

	if err != nil {
		return nil, err
	}
	return body, nil
}

func (r incidentRow) toIncident() models.Incident {
	return models.Incident{
		Number:           r.Number,
		ShortDescription: r.ShortDescription,
		Description:      r.Description,
		CloseNotes:       r.CloseNotes,
		Category:         r.Category,
		Subcategory:      r.Subcategory,
		Priority:         r.Priority,
		State:            r.State,
		AssignmentGroup:  r.AssignmentGroup,
		AssignedTo:       r.AssignedTo,
		CreatedAt:        r.SysCreatedOn,
		ResolvedAt:       r.ResolvedAt,
		Source:           "ServiceNow",
		ImportedAt:       time.Now().UTC().Format(time.RFC3339),
	}
}
