package featurestore

import (
	"context"
	"errors"
)

// Upload stages the CSV artifact at path and returns the new item id.
func (c *Client) Upload(ctx context.Context, path string, token Token) (string, error) {
	body, err := c.postMultipart(ctx, c.UploadURL(), []formField{
		{"f", "json"},
		{"token", token.AccessToken},
	}, &formFile{field: "csv_file", path: path})
	if err != nil {
		return "", &UploadError{Err: err}
	}
	var resp struct {
		envelope
		Success bool `json:"success"`
		Item    struct {
			ItemID   string `json:"itemID"`
			ItemName string `json:"itemName"`
		} `json:"item"`
	}
	if err := decode(body, &resp); err != nil {
		return "", &UploadError{Err: err}
	}
	if !resp.Success {
		msg := "upload rejected"
		if resp.Error != nil {
			msg = resp.Error.Message
		}
		return "", &UploadError{Message: msg}
	}
	if resp.Item.ItemID == "" {
		return "", &UploadError{Err: errors.New("response carried no item id")}
	}
	return resp.Item.ItemID, nil
}
