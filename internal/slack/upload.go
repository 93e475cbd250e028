package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

// UploadFile attaches content as a file in the thread using the external
// upload flow: reserve an upload URL, PUT the bytes, then complete.
func (c *Client) UploadFile(ctx context.Context, channel, threadTS, filename, title string, content []byte) error {
	uploadURL, fileID, err := c.getUploadURL(ctx, filename, len(content))
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, bytes.NewReader(content))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("slack file upload: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack file upload: http %d", resp.StatusCode)
	}

	complete := map[string]any{
		"files":      []map[string]string{{"id": fileID, "title": title}},
		"channel_id": channel,
	}
	if threadTS != "" {
		complete["thread_ts"] = threadTS
	}
	_, err = c.doJSON(ctx, "files.completeUploadExternal", complete)
	return err
}

func (c *Client) getUploadURL(ctx context.Context, filename string, length int) (uploadURL, fileID string, err error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", "", err
	}

	q := url.Values{}
	q.Set("filename", filename)
	q.Set("length", strconv.Itoa(length))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/files.getUploadURLExternal?"+q.Encode(), nil)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.botToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("slack getUploadURLExternal: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		OK        bool   `json:"ok"`
		Error     string `json:"error,omitempty"`
		UploadURL string `json:"upload_url"`
		FileID    string `json:"file_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", "", fmt.Errorf("slack getUploadURLExternal: decode: %w", err)
	}
	if !result.OK {
		return "", "", fmt.Errorf("slack getUploadURLExternal: %s", result.Error)
	}
	return result.UploadURL, result.FileID, nil
}
