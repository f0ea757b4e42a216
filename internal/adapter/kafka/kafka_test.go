package kafka

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/open-data-etl/internal/config"
	"github.com/couchcryptid/open-data-etl/internal/domain"
)

func TestSerializeToMessage(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := domain.TableManifest{
		RunID:         "run-1",
		SourceKey:     "visitors",
		Identifier:    "visitors_f24d2cc0",
		NamingVersion: domain.NamingVersion,
		FillAxis:      domain.FillByColumn,
		Rows:          3,
		WrittenAt:     now,
	}

	msg, err := serializeToMessage(m)
	require.NoError(t, err)

	assert.Equal(t, []byte("visitors_f24d2cc0"), msg.Key)
	assert.Contains(t, string(msg.Value), `"identifier":"visitors_f24d2cc0"`)
	assert.Contains(t, string(msg.Value), `"fill_axis":"column"`)

	var decoded domain.TableManifest
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, m.Rows, decoded.Rows)

	require.Len(t, msg.Headers, 3)
	assert.Equal(t, "identifier", msg.Headers[0].Key)
	assert.Equal(t, []byte("visitors_f24d2cc0"), msg.Headers[0].Value)
	assert.Equal(t, "naming_version", msg.Headers[1].Key)
	assert.Equal(t, []byte("1"), msg.Headers[1].Value)
	assert.Equal(t, "written_at", msg.Headers[2].Key)
	assert.Equal(t, []byte(now.Format(time.RFC3339)), msg.Headers[2].Value)
}

func TestPublisher_EmptyBatchIsNoop(t *testing.T) {
	p := NewPublisher(&config.Config{KafkaBrokers: []string{"localhost:1"}, KafkaTopic: "t"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer p.Close()

	require.NoError(t, p.RecordTables(context.Background(), nil))
}
