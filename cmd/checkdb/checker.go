package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/zendbit/StringDB/internal/client"
	"github.com/zendbit/StringDB/internal/stringdbserver"
)

// checker inserts pairs through the client and periodically verifies that a
// full scan returns everything it sent, in the order it sent it.
type checker struct {
	c *client.StringDBClient

	mu       sync.Mutex
	expected []stringdbserver.KeyValue

	verified int
	failed   int

	sugar *zap.SugaredLogger
}

func newChecker(c *client.StringDBClient, logger *zap.Logger) *checker {
	return &checker{
		c:     c,
		sugar: logger.Sugar(),
	}
}

func (ch *checker) insert(ctx context.Context, pair stringdbserver.KeyValue) error {
	if err := ch.c.Insert(ctx, pair.Key, pair.Value); err != nil {
		return err
	}
	ch.mu.Lock()
	ch.expected = append(ch.expected, pair)
	ch.mu.Unlock()
	ch.sugar.Debugw("inserted", "key", string(pair.Key))
	return nil
}

func (ch *checker) verify(ctx context.Context) error {
	ch.mu.Lock()
	expected := make([]stringdbserver.KeyValue, len(ch.expected))
	copy(expected, ch.expected)
	ch.mu.Unlock()

	scanner, err := ch.c.Scan(ctx, true)
	if err != nil {
		return err
	}

	var got []stringdbserver.KeyValue
	for {
		rec, err := scanner.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		got = append(got, stringdbserver.KeyValue{Key: rec.Key, Value: rec.Value})
	}

	// The scan may include pairs inserted after the snapshot; the snapshot
	// itself must be a prefix.
	if len(got) < len(expected) {
		ch.fail("short scan", "got", len(got), "expected", len(expected))
		return nil
	}
	for i, want := range expected {
		if !bytes.Equal(got[i].Key, want.Key) || !bytes.Equal(got[i].Value, want.Value) {
			out, _ := json.Marshal(map[string]any{"at": i, "want": want, "got": got[i]})
			ch.fail("mismatch", "record", string(out))
			return nil
		}
	}

	ch.mu.Lock()
	ch.verified++
	ch.mu.Unlock()
	ch.sugar.Infow("verified", "records", len(expected))
	return nil
}

func (ch *checker) fail(msg string, keysAndValues ...any) {
	ch.mu.Lock()
	ch.failed++
	ch.mu.Unlock()
	ch.sugar.Errorw("FAIL "+msg, keysAndValues...)
}

func (ch *checker) report() {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	out, _ := json.Marshal(map[string]int{
		"inserted": len(ch.expected),
		"verified": ch.verified,
		"failed":   ch.failed,
	})
	ch.sugar.Infow("report", "summary", string(out))
}
