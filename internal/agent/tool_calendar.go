package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
)

const calendarBaseURL = "https://www.googleapis.com/calendar/v3/calendars/primary/events"

const calendarNotConnected = "Google Calendar is not connected for this user. Ask them to connect their Google account first."

type createEventParams struct {
	Summary     string `json:"summary"`
	Description string `json:"description,omitempty"`
	Start       string `json:"start"`
	End         string `json:"end"`
}

func (ts *toolset) createCalendarEventTool() tool.InvokableTool {
	info := &schema.ToolInfo{
		Name: "create_calendar_event",
		Desc: "Create an event on the user's primary Google Calendar.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"summary": {
				Desc:     "Event title.",
				Type:     schema.String,
				Required: true,
			},
			"description": {
				Desc:     "Optional longer description.",
				Type:     schema.String,
				Required: false,
			},
			"start": {
				Desc:     "Start time in RFC3339, e.g. 2026-09-01T14:00:00Z.",
				Type:     schema.String,
				Required: true,
			},
			"end": {
				Desc:     "End time in RFC3339.",
				Type:     schema.String,
				Required: true,
			},
		}),
	}
	return utils.NewTool(info, ts.runCreateCalendarEvent)
}

func (ts *toolset) runCreateCalendarEvent(ctx context.Context, params *createEventParams) (string, error) {
	tc, ok := TurnFromContext(ctx)
	if !ok {
		return "", errors.New("no active turn")
	}
	if tc.GoogleToken == "" {
		return calendarNotConnected, nil
	}
	if params == nil || strings.TrimSpace(params.Summary) == "" {
		return "", errors.New("summary is required")
	}
	start, err := time.Parse(time.RFC3339, params.Start)
	if err != nil {
		return "", fmt.Errorf("invalid start time: %w", err)
	}
	end, err := time.Parse(time.RFC3339, params.End)
	if err != nil {
		return "", fmt.Errorf("invalid end time: %w", err)
	}
	if !end.After(start) {
		return "", errors.New("end must be after start")
	}

	body := map[string]interface{}{
		"summary":     params.Summary,
		"description": params.Description,
		"start":       map[string]string{"dateTime": start.Format(time.RFC3339)},
		"end":         map[string]string{"dateTime": end.Format(time.RFC3339)},
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, calendarBaseURL, bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+tc.GoogleToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := ts.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("calendar request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return calendarNotConnected, nil
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("calendar create failed: %s", resp.Status)
	}

	var created struct {
		HTMLLink string `json:"htmlLink"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&created); err != nil {
		return "Event created.", nil
	}
	if created.HTMLLink != "" {
		return "Event created: " + created.HTMLLink, nil
	}
	return "Event created.", nil
}

type listEventsParams struct {
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
	Max  int    `json:"max,omitempty"`
}

func (ts *toolset) listCalendarEventsTool() tool.InvokableTool {
	info := &schema.ToolInfo{
		Name: "list_calendar_events",
		Desc: "List upcoming events from the user's primary Google Calendar.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"from": {
				Desc:     "Window start in RFC3339. Defaults to now.",
				Type:     schema.String,
				Required: false,
			},
			"to": {
				Desc:     "Window end in RFC3339. Defaults to seven days from now.",
				Type:     schema.String,
				Required: false,
			},
			"max": {
				Desc:     "Maximum number of events, default 10.",
				Type:     schema.Integer,
				Required: false,
			},
		}),
	}
	return utils.NewTool(info, ts.runListCalendarEvents)
}

func (ts *toolset) runListCalendarEvents(ctx context.Context, params *listEventsParams) (string, error) {
	tc, ok := TurnFromContext(ctx)
	if !ok {
		return "", errors.New("no active turn")
	}
	if tc.GoogleToken == "" {
		return calendarNotConnected, nil
	}

	from := time.Now().UTC()
	to := from.Add(7 * 24 * time.Hour)
	max := 10
	if params != nil {
		if params.From != "" {
			parsed, err := time.Parse(time.RFC3339, params.From)
			if err != nil {
				return "", fmt.Errorf("invalid from time: %w", err)
			}
			from = parsed
		}
		if params.To != "" {
			parsed, err := time.Parse(time.RFC3339, params.To)
			if err != nil {
				return "", fmt.Errorf("invalid to time: %w", err)
			}
			to = parsed
		}
		if params.Max > 0 && params.Max <= 50 {
			max = params.Max
		}
	}

	query := url.Values{}
	query.Set("timeMin", from.Format(time.RFC3339))
	query.Set("timeMax", to.Format(time.RFC3339))
	query.Set("maxResults", fmt.Sprintf("%d", max))
	query.Set("singleEvents", "true")
	query.Set("orderBy", "startTime")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, calendarBaseURL+"?"+query.Encode(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+tc.GoogleToken)

	resp, err := ts.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("calendar request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return calendarNotConnected, nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("calendar list failed: %s", resp.Status)
	}

	var listing struct {
		Items []struct {
			Summary string `json:"summary"`
			Start   struct {
				DateTime string `json:"dateTime"`
				Date     string `json:"date"`
			} `json:"start"`
		} `json:"items"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&listing); err != nil {
		return "", fmt.Errorf("decode calendar response: %w", err)
	}
	if len(listing.Items) == 0 {
		return "No events in that window.", nil
	}

	var b strings.Builder
	for _, item := range listing.Items {
		when := item.Start.DateTime
		if when == "" {
			when = item.Start.Date
		}
		fmt.Fprintf(&b, "- %s (%s)\n", item.Summary, when)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
