package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/emberworks/ember/internal/proto"
)

// Turn starts a turn on the server and streams its events. The channel is
// closed when the turn ends or the context is cancelled.
func (c *Client) Turn(ctx context.Context, req proto.TurnRequest) (<-chan proto.TurnEvent, error) {
	rsp, err := c.post(ctx, "/turns", nil, jsonBody(req), http.Header{
		"Content-Type":  []string{"application/json"},
		"Accept":        []string{"text/event-stream"},
		"Cache-Control": []string{"no-cache"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start turn: %w", err)
	}

	if rsp.StatusCode != http.StatusOK {
		defer rsp.Body.Close()
		var e proto.Error
		if err := json.NewDecoder(rsp.Body).Decode(&e); err == nil && e.Message != "" {
			return nil, fmt.Errorf("failed to start turn: %s", e.Message)
		}
		return nil, fmt.Errorf("failed to start turn: status code %d", rsp.StatusCode)
	}

	events := make(chan proto.TurnEvent, 100)
	go func() {
		defer close(events)
		defer rsp.Body.Close()

		scr := bufio.NewReader(rsp.Body)
		for {
			line, err := scr.ReadBytes('\n')
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				if ctx.Err() == nil {
					slog.Error("reading from turn stream", "error", err)
				}
				return
			}
			line = bytes.TrimSpace(line)
			if len(line) == 0 {
				// End of an event
				continue
			}

			data, ok := bytes.CutPrefix(line, []byte("data:"))
			if !ok {
				slog.Warn("invalid event format", "line", string(line))
				continue
			}

			var ev proto.TurnEvent
			if err := json.Unmarshal(bytes.TrimSpace(data), &ev); err != nil {
				slog.Error("unmarshaling turn event", "error", err)
				continue
			}

			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}

// Ledger lists a user's billing deduction rows.
func (c *Client) Ledger(ctx context.Context, userID string) ([]proto.LedgerEntry, error) {
	rsp, err := c.get(ctx, fmt.Sprintf("/users/%s/ledger", userID), nil, nil)
	if err != nil {
		return nil, err
	}
	defer rsp.Body.Close()
	if rsp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to list ledger: status code %d", rsp.StatusCode)
	}

	var entries []proto.LedgerEntry
	if err := json.NewDecoder(rsp.Body).Decode(&entries); err != nil {
		return nil, err
	}
	return entries, nil
}
