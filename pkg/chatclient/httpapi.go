package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/chatline/internal/apperr"
)

// HTTPSender sends through the REST API using session-header auth. Network
// failures surface as net.Error values, which the client classifies as
// connectivity loss.
type HTTPSender struct {
	baseURL      string
	sessionID    string
	sessionToken string
	httpClient   *http.Client
}

func NewHTTPSender(baseURL, sessionID, sessionToken string) *HTTPSender {
	return &HTTPSender{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		sessionID:    sessionID,
		sessionToken: sessionToken,
		httpClient:   &http.Client{Timeout: 15 * time.Second},
	}
}

type sendBody struct {
	Text    string  `json:"text,omitempty"`
	Image   string  `json:"image,omitempty"`
	ReplyTo *string `json:"replyTo,omitempty"`
}

// serverMessage is the wire shape of a persisted message; only the fields
// the reconciler needs are decoded.
type serverMessage struct {
	ID        string    `json:"_id"`
	Text      string    `json:"text"`
	Image     string    `json:"image"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

func (s *HTTPSender) SendDirect(ctx context.Context, peerID, text, image string) (Message, error) {
	m, err := s.post(ctx, "/api/messages/"+peerID, sendBody{Text: text, Image: image})
	if err != nil {
		return Message{}, err
	}
	m.Kind = KindDirect
	m.Target = peerID
	return m, nil
}

func (s *HTTPSender) SendGroup(ctx context.Context, groupID, text, image string, replyTo *string) (Message, error) {
	m, err := s.post(ctx, "/api/groups/"+groupID+"/messages", sendBody{Text: text, Image: image, ReplyTo: replyTo})
	if err != nil {
		return Message{}, err
	}
	m.Kind = KindGroup
	m.Target = groupID
	return m, nil
}

func (s *HTTPSender) post(ctx context.Context, path string, body sendBody) (Message, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return Message{}, fmt.Errorf("chatclient: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return Message{}, fmt.Errorf("chatclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Session-Id", s.sessionID)
	req.Header.Set("X-Session-Token", s.sessionToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		// *url.Error implements net.Error; apperr.IsConnectivity matches it.
		return Message{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return Message{}, statusError(resp.StatusCode)
	}
	var sm serverMessage
	if err := json.NewDecoder(resp.Body).Decode(&sm); err != nil {
		return Message{}, fmt.Errorf("chatclient: decode response: %w", err)
	}
	return Message{
		ID:        sm.ID,
		Text:      sm.Text,
		Image:     sm.Image,
		Status:    sm.Status,
		CreatedAt: sm.CreatedAt,
	}, nil
}

func statusError(code int) error {
	switch code {
	case http.StatusBadRequest:
		return fmt.Errorf("chatclient: server rejected request: %w", apperr.ErrValidation)
	case http.StatusUnauthorized:
		return fmt.Errorf("chatclient: session expired: %w", apperr.ErrUnauthorized)
	case http.StatusForbidden:
		return fmt.Errorf("chatclient: not allowed: %w", apperr.ErrForbidden)
	case http.StatusNotFound:
		return fmt.Errorf("chatclient: target not found: %w", apperr.ErrNotFound)
	default:
		return fmt.Errorf("chatclient: server error %d: %w", code, apperr.ErrTransient)
	}
}
