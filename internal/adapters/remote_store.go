package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fusionchat/internal/models"
)

// RemoteStore is a client for the hosted data service's REST surface. It
// exposes CRUD over the messaging tables with PostgREST-style equality
// filters and implements every remote repository port.
type RemoteStore struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewRemoteStore(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *RemoteStore {
	return &RemoteStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

func (c *RemoteStore) doRequest(ctx context.Context, method, endpoint string, body any, prefer string) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/rest/v1/"+endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if prefer == "" {
		prefer = "return=representation"
	}
	req.Header.Set("Prefer", prefer)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("data service error (status %d): %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

// pairFilter matches messages in either direction between two users.
func pairFilter(a, b string) string {
	return url.QueryEscape(fmt.Sprintf("(and(sender_id.eq.%s,receiver_id.eq.%s),and(sender_id.eq.%s,receiver_id.eq.%s))", a, b, b, a))
}

func (c *RemoteStore) GetConversation(ctx context.Context, userID, peerID string) ([]models.Message, error) {
	endpoint := fmt.Sprintf("messages?or=%s&order=created_at.asc&select=*", pairFilter(userID, peerID))
	respBody, err := c.doRequest(ctx, http.MethodGet, endpoint, nil, "")
	if err != nil {
		return nil, err
	}

	var messages []models.Message
	if err := json.Unmarshal(respBody, &messages); err != nil {
		return nil, fmt.Errorf("failed to parse messages: %w", err)
	}
	return messages, nil
}

func (c *RemoteStore) CreateMessage(ctx context.Context, message models.Message) (models.Message, error) {
	row := map[string]any{
		"sender_id":   message.SenderID,
		"receiver_id": message.ReceiverID,
		"content":     message.Content,
		"delivered":   false,
		"read":        false,
	}
	if message.MediaURL != "" {
		row["media_url"] = message.MediaURL
		row["media_type"] = message.MediaType
		row["voice_duration"] = message.VoiceDuration
		row["play_once"] = message.PlayOnce
	}

	respBody, err := c.doRequest(ctx, http.MethodPost, "messages", row, "")
	if err != nil {
		return models.Message{}, err
	}

	var created []models.Message
	if err := json.Unmarshal(respBody, &created); err != nil {
		return models.Message{}, fmt.Errorf("failed to parse created message: %w", err)
	}
	if len(created) == 0 {
		return models.Message{}, fmt.Errorf("data service returned no row for created message")
	}
	return created[0], nil
}

func (c *RemoteStore) UpdateStatus(ctx context.Context, messageID string, update models.StatusUpdate) error {
	endpoint := fmt.Sprintf("messages?id=eq.%s", messageID)
	_, err := c.doRequest(ctx, http.MethodPatch, endpoint, update, "return=minimal")
	return err
}

func (c *RemoteStore) MarkRead(ctx context.Context, userID, peerID string) error {
	endpoint := fmt.Sprintf("messages?sender_id=eq.%s&receiver_id=eq.%s&read=eq.false", peerID, userID)
	body := map[string]any{"read": true, "delivered": true}
	_, err := c.doRequest(ctx, http.MethodPatch, endpoint, body, "return=minimal")
	return err
}

func (c *RemoteStore) DeleteMessage(ctx context.Context, messageID string) error {
	endpoint := fmt.Sprintf("messages?id=eq.%s", messageID)
	_, err := c.doRequest(ctx, http.MethodDelete, endpoint, nil, "return=minimal")
	return err
}

func (c *RemoteStore) ListPeers(ctx context.Context, userID string) ([]string, error) {
	filter := url.QueryEscape(fmt.Sprintf("(sender_id.eq.%s,receiver_id.eq.%s)", userID, userID))
	endpoint := fmt.Sprintf("messages?or=%s&select=sender_id,receiver_id,created_at&order=created_at.desc", filter)
	respBody, err := c.doRequest(ctx, http.MethodGet, endpoint, nil, "")
	if err != nil {
		return nil, err
	}

	var rows []models.Message
	if err := json.Unmarshal(respBody, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse messages: %w", err)
	}

	seen := make(map[string]bool)
	var peers []string
	for _, row := range rows {
		peer := row.PeerOf(userID)
		if peer == "" || seen[peer] {
			continue
		}
		seen[peer] = true
		peers = append(peers, peer)
	}
	return peers, nil
}

func (c *RemoteStore) MarkDeleted(ctx context.Context, messageID, userID string) error {
	row := map[string]any{"message_id": messageID, "user_id": userID}
	_, err := c.doRequest(ctx, http.MethodPost, "deleted_messages", row, "return=minimal")
	return err
}

func (c *RemoteStore) ListDeleted(ctx context.Context, userID string) (map[string]bool, error) {
	endpoint := fmt.Sprintf("deleted_messages?user_id=eq.%s&select=message_id", userID)
	respBody, err := c.doRequest(ctx, http.MethodGet, endpoint, nil, "")
	if err != nil {
		return nil, err
	}

	var rows []struct {
		MessageID string `json:"message_id"`
	}
	if err := json.Unmarshal(respBody, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse deleted markers: %w", err)
	}

	deleted := make(map[string]bool, len(rows))
	for _, row := range rows {
		deleted[row.MessageID] = true
	}
	return deleted, nil
}

func (c *RemoteStore) ListForMessages(ctx context.Context, messageIDs []string) ([]models.Reaction, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}
	endpoint := fmt.Sprintf("message_reactions?message_id=in.(%s)&select=*", strings.Join(messageIDs, ","))
	respBody, err := c.doRequest(ctx, http.MethodGet, endpoint, nil, "")
	if err != nil {
		return nil, err
	}

	var reactions []models.Reaction
	if err := json.Unmarshal(respBody, &reactions); err != nil {
		return nil, fmt.Errorf("failed to parse reactions: %w", err)
	}
	return reactions, nil
}

func (c *RemoteStore) Upsert(ctx context.Context, messageID, userID, emoji string) error {
	row := map[string]any{"message_id": messageID, "user_id": userID, "emoji": emoji}
	endpoint := "message_reactions?on_conflict=message_id,user_id"
	_, err := c.doRequest(ctx, http.MethodPost, endpoint, row, "resolution=merge-duplicates,return=minimal")
	return err
}

func (c *RemoteStore) Remove(ctx context.Context, messageID, userID string) error {
	endpoint := fmt.Sprintf("message_reactions?message_id=eq.%s&user_id=eq.%s", messageID, userID)
	_, err := c.doRequest(ctx, http.MethodDelete, endpoint, nil, "return=minimal")
	return err
}

func (c *RemoteStore) List(ctx context.Context, channel string) ([]models.PinnedMessage, error) {
	endpoint := fmt.Sprintf("pinned_messages?channel=eq.%s&select=*", url.QueryEscape(channel))
	respBody, err := c.doRequest(ctx, http.MethodGet, endpoint, nil, "")
	if err != nil {
		return nil, err
	}

	var pins []models.PinnedMessage
	if err := json.Unmarshal(respBody, &pins); err != nil {
		return nil, fmt.Errorf("failed to parse pins: %w", err)
	}
	return pins, nil
}

func (c *RemoteStore) Pin(ctx context.Context, pin models.PinnedMessage) error {
	_, err := c.doRequest(ctx, http.MethodPost, "pinned_messages", pin, "return=minimal")
	return err
}

func (c *RemoteStore) Unpin(ctx context.Context, channel, messageID string) error {
	endpoint := fmt.Sprintf("pinned_messages?channel=eq.%s&message_id=eq.%s", url.QueryEscape(channel), messageID)
	_, err := c.doRequest(ctx, http.MethodDelete, endpoint, nil, "return=minimal")
	return err
}

func (c *RemoteStore) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	endpoint := fmt.Sprintf("profiles?id=eq.%s&select=*", userID)
	respBody, err := c.doRequest(ctx, http.MethodGet, endpoint, nil, "")
	if err != nil {
		return nil, err
	}

	var profiles []models.Profile
	if err := json.Unmarshal(respBody, &profiles); err != nil {
		return nil, fmt.Errorf("failed to parse profile: %w", err)
	}
	if len(profiles) == 0 {
		return nil, nil
	}
	return &profiles[0], nil
}

func (c *RemoteStore) ListProfiles(ctx context.Context, userIDs []string) ([]models.Profile, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	endpoint := fmt.Sprintf("profiles?id=in.(%s)&select=*", strings.Join(userIDs, ","))
	respBody, err := c.doRequest(ctx, http.MethodGet, endpoint, nil, "")
	if err != nil {
		return nil, err
	}

	var profiles []models.Profile
	if err := json.Unmarshal(respBody, &profiles); err != nil {
		return nil, fmt.Errorf("failed to parse profiles: %w", err)
	}
	return profiles, nil
}

func (c *RemoteStore) UpdatePresence(ctx context.Context, userID string, online bool, lastSeen time.Time) error {
	endpoint := fmt.Sprintf("profiles?id=eq.%s", userID)
	body := map[string]any{"is_online": online, "last_seen": lastSeen.UTC()}
	_, err := c.doRequest(ctx, http.MethodPatch, endpoint, body, "return=minimal")
	return err
}

func (c *RemoteStore) CreateCall(ctx context.Context, call models.Call) (models.Call, error) {
	respBody, err := c.doRequest(ctx, http.MethodPost, "calls", call, "")
	if err != nil {
		return models.Call{}, err
	}

	var created []models.Call
	if err := json.Unmarshal(respBody, &created); err != nil {
		return models.Call{}, fmt.Errorf("failed to parse created call: %w", err)
	}
	if len(created) == 0 {
		return models.Call{}, fmt.Errorf("data service returned no row for created call")
	}
	return created[0], nil
}

func (c *RemoteStore) UpdateCallStatus(ctx context.Context, callID string, status models.CallStatus) error {
	endpoint := fmt.Sprintf("calls?id=eq.%s", callID)
	body := map[string]any{"status": status}
	_, err := c.doRequest(ctx, http.MethodPatch, endpoint, body, "return=minimal")
	return err
}

func (c *RemoteStore) GetActiveCall(ctx context.Context, userID string) (*models.Call, error) {
	filter := url.QueryEscape(fmt.Sprintf("(caller_id.eq.%s,receiver_id.eq.%s)", userID, userID))
	endpoint := fmt.Sprintf("calls?or=%s&status=in.(ringing,ongoing)&select=*&limit=1", filter)
	respBody, err := c.doRequest(ctx, http.MethodGet, endpoint, nil, "")
	if err != nil {
		return nil, err
	}

	var calls []models.Call
	if err := json.Unmarshal(respBody, &calls); err != nil {
		return nil, fmt.Errorf("failed to parse calls: %w", err)
	}
	if len(calls) == 0 {
		return nil, nil
	}
	return &calls[0], nil
}
