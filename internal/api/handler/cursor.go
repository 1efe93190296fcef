package handler

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/mnboos/job-graph/internal/storage"
)

// DecodeRecordCursor parses an opaque page cursor; an empty string means the first page
func DecodeRecordCursor(cursorStr string) (*storage.RecordCursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	decoded, err := base64.RawURLEncoding.DecodeString(cursorStr)
	if err != nil {
		return nil, err
	}

	parts := strings.Split(string(decoded), "|")
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid cursor format")
	}

	var seenAt, id int64
	if _, err := fmt.Sscanf(parts[0], "%d", &seenAt); err != nil {
		return nil, fmt.Errorf("invalid first_seen_at in cursor: %w", err)
	}
	if _, err := fmt.Sscanf(parts[1], "%d", &id); err != nil {
		return nil, fmt.Errorf("invalid id in cursor: %w", err)
	}

	return &storage.RecordCursor{
		FirstSeenAt: time.Unix(0, seenAt).UTC(),
		ID:          id,
	}, nil
}

// EncodeRecordCursor builds the cursor pointing after cursor's record
func EncodeRecordCursor(cursor *storage.RecordCursor) string {
	cs := fmt.Sprintf("%d|%d", cursor.FirstSeenAt.UnixNano(), cursor.ID)
	return base64.RawURLEncoding.EncodeToString([]byte(cs))
}
