package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/nhle/storefront-notify/internal/model"
)

const notificationsPath = "/api/notifications/"

type listResponse struct {
	Results []model.Notification `json:"results"`
}

type unreadCountResponse struct {
	UnreadCount int `json:"unread_count"`
}

// ListNotifications returns the most recent notifications, newest first.
// The endpoint may answer with a paginated {"results": [...]} object or a
// bare array; both are accepted. Entries without an id are dropped.
func (c *Client) ListNotifications(ctx context.Context, limit int) ([]model.Notification, error) {
	path := notificationsPath
	if limit > 0 {
		path += "?" + url.Values{"limit": {strconv.Itoa(limit)}}.Encode()
	}

	var raw json.RawMessage
	if err := c.get(ctx, path, &raw); err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}

	var list []model.Notification
	if len(raw) > 0 && raw[0] == '[' {
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("decoding notification list: %w", err)
		}
	} else {
		var page listResponse
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, fmt.Errorf("decoding notification page: %w", err)
		}
		list = page.Results
	}

	out := list[:0]
	for _, n := range list {
		if n.ID == "" {
			c.logger.Warn().Str("title", n.Title).Msg("dropping notification without id")
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

// UnreadCount returns the server's unread count.
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var resp unreadCountResponse
	if err := c.get(ctx, notificationsPath+"unread-count/", &resp); err != nil {
		return 0, fmt.Errorf("fetching unread count: %w", err)
	}
	return resp.UnreadCount, nil
}

// MarkRead marks one notification read.
func (c *Client) MarkRead(ctx context.Context, id string) error {
	if err := c.post(ctx, notificationsPath+url.PathEscape(id)+"/mark-read/", nil, nil); err != nil {
		return fmt.Errorf("marking %s read: %w", id, err)
	}
	return nil
}

// MarkAllRead marks every notification read.
func (c *Client) MarkAllRead(ctx context.Context) error {
	if err := c.post(ctx, notificationsPath+"mark-all-read/", nil, nil); err != nil {
		return fmt.Errorf("marking all read: %w", err)
	}
	return nil
}

// Delete removes one notification.
func (c *Client) Delete(ctx context.Context, id string) error {
	if err := c.delete(ctx, notificationsPath+url.PathEscape(id)+"/"); err != nil {
		return fmt.Errorf("deleting %s: %w", id, err)
	}
	return nil
}

// DeleteAll removes every notification.
func (c *Client) DeleteAll(ctx context.Context) error {
	if err := c.delete(ctx, notificationsPath+"delete-all/"); err != nil {
		return fmt.Errorf("deleting all notifications: %w", err)
	}
	return nil
}
