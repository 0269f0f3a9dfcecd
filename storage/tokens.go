package storage

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// InvalidPageTokenError is returned when a supplied continuation token is
// malformed. Callers can match it with errors.As.
type InvalidPageTokenError struct {
	Token string
}

func (e InvalidPageTokenError) Error() string {
	return fmt.Sprintf("invalid page token %q", e.Token)
}

// InvalidPageToken marks the error for interface-based matching.
func (InvalidPageTokenError) InvalidPageToken() {}

type pageToken struct {
	NextPartitionKey string `json:"npk"`
	NextRowKey       string `json:"nrk"`
}

func encodePageToken(npk, nrk string) string {
	data, _ := json.Marshal(pageToken{NextPartitionKey: npk, NextRowKey: nrk})
	return base64.RawURLEncoding.EncodeToString(data)
}

func decodePageToken(token string) (string, string, error) {
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", "", InvalidPageTokenError{Token: token}
	}
	var t pageToken
	if err := json.Unmarshal(data, &t); err != nil {
		return "", "", InvalidPageTokenError{Token: token}
	}
	if t.NextPartitionKey == "" {
		return "", "", InvalidPageTokenError{Token: token}
	}
	return t.NextPartitionKey, t.NextRowKey, nil
}
