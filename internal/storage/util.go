package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// sqliteTimeLayout is fixed width so that text ordering matches time ordering
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// generateID generates a new UUID
func generateID() string {
	return uuid.New().String()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

// encodeArgs serializes bound constructor arguments for a text column
func encodeArgs(args []string) (string, error) {
	if len(args) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("serializing args: %w", err)
	}
	return string(data), nil
}

func decodeArgs(data string) ([]string, error) {
	if data == "" || data == "[]" {
		return nil, nil
	}
	var args []string
	if err := json.Unmarshal([]byte(data), &args); err != nil {
		return nil, fmt.Errorf("deserializing args: %w", err)
	}
	return args, nil
}

// normalizeLimit clamps a page size to [1, 100], defaulting to 20
func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return 20
	case limit > 100:
		return 100
	default:
		return limit
	}
}
