package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"whatsapp-platform/internal/config"
	"whatsapp-platform/internal/models"
	wire "whatsapp-platform/pkg/models"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Client talks to the Meta Graph API. All calls run through a circuit
// breaker so a provider outage fails fast instead of stacking up requests.
type Client struct {
	cfg     *config.Config
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

func NewClient(cfg *config.Config, logger *zap.Logger) *Client {
	settings := gobreaker.Settings{
		Name:    "graph-api",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state change",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}

	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: 30 * time.Second},
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
	}
}

// --- Message Structures ---

type GenericMessage struct {
	MessagingProduct string       `json:"messaging_product"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	RecipientType    string       `json:"recipient_type,omitempty"`
	Text             *TextObj     `json:"text,omitempty"`
	Image            *MediaObj    `json:"image,omitempty"`
	Video            *MediaObj    `json:"video,omitempty"`
	Audio            *MediaObj    `json:"audio,omitempty"`
	Document         *MediaObj    `json:"document,omitempty"`
	Template         *TemplateObj `json:"template,omitempty"`
}

type TextObj struct {
	Body       string `json:"body"`
	PreviewUrl bool   `json:"preview_url,omitempty"`
}

type MediaObj struct {
	ID       string `json:"id,omitempty"`
	Link     string `json:"link,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"` // For documents
}

type TemplateObj struct {
	Name       string         `json:"name"`
	Language   LanguageObj    `json:"language"`
	Components []ComponentObj `json:"components,omitempty"`
}

type LanguageObj struct {
	Code string `json:"code"`
}

type ComponentObj struct {
	Type       string         `json:"type"`
	SubType    string         `json:"sub_type,omitempty"`
	Parameters []ParameterObj `json:"parameters"`
	Index      string         `json:"index,omitempty"` // For buttons
}

type ParameterObj struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	Payload  string    `json:"payload,omitempty"`
	Image    *MediaObj `json:"image,omitempty"`
	Video    *MediaObj `json:"video,omitempty"`
	Document *MediaObj `json:"document,omitempty"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// --- Helper Functions ---

func (c *Client) sendRequest(ctx context.Context, method, url string, body interface{}) ([]byte, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		var bodyReader io.Reader
		if body != nil {
			jsonData, err := json.Marshal(body)
			if err != nil {
				return nil, err
			}
			bodyReader = bytes.NewBuffer(jsonData)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.cfg.WhatsAppToken)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("API error: %s - %s", resp.Status, string(respBody))
		}
		return respBody, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

func (c *Client) sendMessage(ctx context.Context, tenant *models.Tenant, msg GenericMessage) (string, error) {
	url := fmt.Sprintf("%s/%s/messages", c.cfg.GraphBaseURL, tenant.PhoneNumberID)
	respBody, err := c.sendRequest(ctx, http.MethodPost, url, msg)
	if err != nil {
		return "", err
	}

	var parsed sendResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse send response: %w", err)
	}
	if len(parsed.Messages) == 0 {
		return "", fmt.Errorf("send response carried no message id: %s", string(respBody))
	}
	return parsed.Messages[0].ID, nil
}

// --- Messaging Methods ---

// SendText dispatches a freeform text message and returns the provider
// message id.
func (c *Client) SendText(ctx context.Context, tenant *models.Tenant, to, body string) (string, error) {
	msg := GenericMessage{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "text",
		Text:             &TextObj{Body: body},
	}
	return c.sendMessage(ctx, tenant, msg)
}

// SendMedia dispatches an image or document by public link.
func (c *Client) SendMedia(ctx context.Context, tenant *models.Tenant, to, mediaType, link, caption, filename string) (string, error) {
	msg := GenericMessage{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             mediaType,
	}
	switch mediaType {
	case "image":
		msg.Image = &MediaObj{Link: link, Caption: caption}
	case "video":
		msg.Video = &MediaObj{Link: link, Caption: caption}
	case "document":
		msg.Document = &MediaObj{Link: link, Caption: caption, Filename: filename}
	default:
		return "", fmt.Errorf("unsupported media type %q", mediaType)
	}
	return c.sendMessage(ctx, tenant, msg)
}

// SendTemplate dispatches a prepared broadcast payload and returns the
// provider message id used to correlate delivery receipts.
func (c *Client) SendTemplate(ctx context.Context, tenant *models.Tenant, p wire.SendPayload) (string, error) {
	msg := GenericMessage{
		MessagingProduct: "whatsapp",
		To:               p.MobileNo,
		Type:             "template",
		Template: &TemplateObj{
			Name:       p.Template,
			Language:   LanguageObj{Code: p.Language},
			Components: buildComponents(p),
		},
	}
	return c.sendMessage(ctx, tenant, msg)
}

func buildComponents(p wire.SendPayload) []ComponentObj {
	var components []ComponentObj

	if h := p.HeaderVariables; h != nil {
		var param ParameterObj
		switch h.Type {
		case "text":
			param = ParameterObj{Type: "text", Text: h.Data.Text}
		case "video":
			param = ParameterObj{Type: "video", Video: &MediaObj{ID: h.Data.MediaID}}
		case "document":
			param = ParameterObj{Type: "document", Document: &MediaObj{ID: h.Data.MediaID}}
		default:
			param = ParameterObj{Type: "image", Image: &MediaObj{ID: h.Data.MediaID}}
		}
		components = append(components, ComponentObj{
			Type:       "header",
			Parameters: []ParameterObj{param},
		})
	}

	if len(p.BodyVariables) > 0 {
		params := make([]ParameterObj, 0, len(p.BodyVariables))
		for _, v := range p.BodyVariables {
			params = append(params, ParameterObj{Type: "text", Text: v})
		}
		components = append(components, ComponentObj{
			Type:       "body",
			Parameters: params,
		})
	}

	for i, b := range p.ButtonVariables {
		components = append(components, ComponentObj{
			Type:       "button",
			SubType:    "quick_reply",
			Index:      strconv.Itoa(i),
			Parameters: []ParameterObj{{Type: "payload", Payload: b.Payload}},
		})
	}

	return components
}

// --- Media Methods ---

// MediaURL fetches the short-lived signed download URL for an inbound media id.
func (c *Client) MediaURL(ctx context.Context, mediaID string) (string, error) {
	url := fmt.Sprintf("%s/%s", c.cfg.GraphBaseURL, mediaID)
	respBody, err := c.sendRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	var parsed struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse media response: %w", err)
	}
	if parsed.URL == "" {
		return "", fmt.Errorf("no signed URL in response: %s", string(respBody))
	}
	return parsed.URL, nil
}

// Fetch downloads media content from a signed URL. The token header is
// required even for signed URLs.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	return c.sendRequest(ctx, http.MethodGet, url, nil)
}
