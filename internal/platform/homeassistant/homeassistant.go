// Package homeassistant implements platform.Platform over the Home Assistant REST API.
//
// Entities come from GET /api/states; room assignments are not part of the
// state objects, so they are fetched in one template render through
// POST /api/template. Service calls go to POST /api/services/<domain>/<service>.
package homeassistant

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/nadzzz/hearth/internal/config"
	"github.com/nadzzz/hearth/internal/inventory"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// areaTemplate renders [[entity_id, area_name], ...] for every state.
const areaTemplate = `{%- set ns = namespace(items=[]) -%}
{%- for s in states -%}{%- set ns.items = ns.items + [[s.entity_id, area_name(s.entity_id) or '']] -%}{%- endfor -%}
{{ ns.items | tojson }}`

// safeID limits what can be interpolated into a template.
var safeID = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)

// Client talks to one Home Assistant instance.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// New creates a client from config.
func New(cfg config.HomeAssistantConfig) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		token:   cfg.Token,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

// Name returns the backend identifier.
func (c *Client) Name() string { return "homeassistant" }

type stateObject struct {
	EntityID   string         `json:"entity_id"`
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes"`
}

// ListEntities returns all entities exposed to conversation agents, with their areas.
func (c *Client) ListEntities(ctx context.Context) ([]inventory.Entity, error) {
	var states []stateObject
	if err := c.do(ctx, http.MethodGet, "/api/states", nil, &states); err != nil {
		return nil, fmt.Errorf("listing states: %w", err)
	}

	areas, err := c.entityAreas(ctx)
	if err != nil {
		// Entities without rooms are still controllable by name.
		slog.Warn("fetching entity areas failed", "error", err)
	}

	entities := make([]inventory.Entity, 0, len(states))
	for _, s := range states {
		if exposed, ok := s.Attributes["conversation_exposed"].(bool); ok && !exposed {
			continue
		}
		name, _ := s.Attributes["friendly_name"].(string)
		entities = append(entities, inventory.Entity{
			ID:         s.EntityID,
			Name:       name,
			Area:       areas[s.EntityID],
			Domain:     inventory.DomainOf(s.EntityID),
			State:      s.State,
			Attributes: s.Attributes,
		})
	}
	slog.Debug("home assistant states loaded", "states", len(states), "entities", len(entities))
	return entities, nil
}

func (c *Client) entityAreas(ctx context.Context) (map[string]string, error) {
	out, err := c.renderTemplate(ctx, areaTemplate)
	if err != nil {
		return nil, err
	}
	var pairs [][2]string
	if err := json.Unmarshal([]byte(out), &pairs); err != nil {
		return nil, fmt.Errorf("decoding area template: %w", err)
	}
	areas := make(map[string]string, len(pairs))
	for _, p := range pairs {
		if p[1] != "" {
			areas[p[0]] = p[1]
		}
	}
	return areas, nil
}

// SourceArea returns the area of a device or entity id as Home Assistant knows it.
func (c *Client) SourceArea(ctx context.Context, sourceDeviceID string) (string, error) {
	if !safeID.MatchString(sourceDeviceID) {
		return "", fmt.Errorf("unsupported source id %q", sourceDeviceID)
	}
	out, err := c.renderTemplate(ctx, fmt.Sprintf("{{ area_name('%s') or '' }}", sourceDeviceID))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (c *Client) renderTemplate(ctx context.Context, tmpl string) (string, error) {
	body, err := json.Marshal(map[string]string{"template": tmpl})
	if err != nil {
		return "", err
	}
	var raw []byte
	if err := c.do(ctx, http.MethodPost, "/api/template", body, &raw); err != nil {
		return "", fmt.Errorf("rendering template: %w", err)
	}
	return string(raw), nil
}

// CallService invokes <domain>.<action> for entityID. The domain is taken
// from the entity id prefix.
func (c *Client) CallService(ctx context.Context, entityID, action string, params map[string]any) error {
	domain := inventory.DomainOf(entityID)
	if domain == "" {
		return fmt.Errorf("entity id %q has no domain", entityID)
	}
	if action == "" {
		return fmt.Errorf("no service given for %s", entityID)
	}

	data := make(map[string]any, len(params)+1)
	for k, v := range params {
		data[k] = v
	}
	data["entity_id"] = entityID

	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshalling service data: %w", err)
	}
	path := fmt.Sprintf("/api/services/%s/%s", domain, action)
	if err := c.do(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("calling %s.%s: %w", domain, action, err)
	}
	slog.Debug("home assistant service called", "service", domain+"."+action, "entity_id", entityID)
	return nil
}

// do sends a request and decodes the response. A *[]byte out receives the
// raw body (template responses are plain text).
func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(respBody))
	}

	switch dst := out.(type) {
	case nil:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	case *[]byte:
		data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		if err != nil {
			return err
		}
		*dst = data
		return nil
	default:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
		return nil
	}
}
