package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"konnekt-chat/domain"
	chaterrors "konnekt-chat/errors"
	"konnekt-chat/observability"
	"konnekt-chat/transport"
)

const getMessagesOp = "get messages"

// HistoryClient reads the persisted history of a conversation over REST.
type HistoryClient struct {
	log         *slog.Logger
	httpClient  *http.Client
	baseURL     string
	credentials domain.Credentials
}

func NewHistoryClient(log *slog.Logger, baseURL string, tr *transport.Transport, credentials domain.Credentials) *HistoryClient {
	return &HistoryClient{
		log:         log,
		httpClient:  tr.HTTPClient(),
		baseURL:     strings.TrimRight(baseURL, "/"),
		credentials: credentials,
	}
}

// GetMessages calls GET {base}/messages/{chatID}. Every failure, transport or
// status, comes back as an *errors.ApplicationError.
func (h *HistoryClient) GetMessages(ctx context.Context, chatID string) ([]domain.Message, error) {
	start := time.Now()
	status := "error"
	defer func() {
		observability.HistoryLoadDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	}()

	endpoint := fmt.Sprintf("%s/messages/%s", h.baseURL, url.PathEscape(chatID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &chaterrors.ApplicationError{Op: getMessagesOp, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if auth := h.credentials.AuthorizationHeader(); auth != "" {
		req.Header.Set("Authorization", auth)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		h.log.Error("History request failed", "chat_id", chatID, "error", err)
		return nil, &chaterrors.ApplicationError{Op: getMessagesOp, Err: err}
	}
	defer resp.Body.Close()

	status = strconv.Itoa(resp.StatusCode)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		h.log.Warn("History request rejected", "chat_id", chatID, "status", resp.StatusCode)
		appErr := &chaterrors.ApplicationError{Op: getMessagesOp, StatusCode: resp.StatusCode}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			appErr.Err = chaterrors.ErrUnauthorized
		}
		return nil, appErr
	}

	var messages []domain.Message
	if err := json.NewDecoder(resp.Body).Decode(&messages); err != nil {
		return nil, &chaterrors.ApplicationError{Op: getMessagesOp, Err: fmt.Errorf("decode body: %w", err)}
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	h.log.Debug("History loaded", "chat_id", chatID, "count", len(messages))
	return messages, nil
}
