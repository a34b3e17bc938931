// Package diagnostics keeps raw pages and screenshots from recent fetches
// for a limited time so broken extractions can be inspected after the fact.
package diagnostics

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"net/url"
	"time"

	"upgradewatch/internal/components/assert"
	"upgradewatch/internal/components/chrono"
	"upgradewatch/internal/components/telemetry"

	"github.com/PuerkitoBio/purell"
	"github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("upgradewatch/internal/components/diagnostics")

var ErrNotFound = errors.New("capture not found")

const report_capture = "diagnostics.capture"

type Kind string

const (
	KindPage       Kind = "page"
	KindScreenshot Kind = "screenshot"
)

// Capture is one stored artifact.
type Capture struct {
	Kind       Kind
	URL        string
	Label      string
	Data       []byte
	CapturedAt time.Time
	ExpiresAt  int64
}

// Sink accepts captures, implementations must not block for long.
type Sink interface {
	Capture(ctx context.Context, capture Capture)
}

// Discard drops every capture.
type Discard struct{}

func (Discard) Capture(context.Context, Capture) {}

// Key normalizes rawUrl so the same page always maps to the same key
// regardless of query order, default ports or fragments.
func Key(kind Kind, rawUrl, label string) (string, error) {
	parsed, err := url.Parse(rawUrl)
	if err != nil {
		return "", err
	}
	normalized := purell.NormalizeURL(
		parsed,
		purell.FlagsSafe|
			purell.FlagsUsuallySafeGreedy|
			purell.FlagRemoveDirectoryIndex|
			purell.FlagRemoveFragment|
			purell.FlagSortQuery,
	)
	key := fmt.Sprintf("%s:%s", kind, normalized)
	if label != "" {
		key += "@" + label
	}
	return key, nil
}

// Store is a badger backed Sink with a ttl on every capture.
type Store struct {
	db   *badger.DB
	ttl  time.Duration
	time chrono.TimeAPI
	tel  telemetry.API
}

// Open opens the store at dir, an empty dir keeps everything in memory.
func Open(dir string, ttl time.Duration, clock chrono.TimeAPI, tel telemetry.API) (*Store, error) {
	assert.NotNil(clock)
	assert.NotNil(tel)

	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open diagnostics store: %w", err)
	}
	return &Store{
		db:   db,
		ttl:  ttl,
		time: clock,
		tel:  telemetry.NewScopedAPI("diagnostics", tel),
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Capture writes capture, failures are reported and otherwise ignored.
func (s *Store) Capture(ctx context.Context, capture Capture) {
	err := s.Put(ctx, capture)
	if err != nil {
		s.tel.ReportWarning(report_capture, err, capture.Kind, capture.URL)
	}
}

func (s *Store) Put(ctx context.Context, capture Capture) error {
	_, span := tracer.Start(ctx, "put")
	defer span.End()

	key, err := Key(capture.Kind, capture.URL, capture.Label)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create key")
		return err
	}
	span.SetAttributes(attribute.String("key", key))

	if capture.CapturedAt.IsZero() {
		capture.CapturedAt = s.time.Now()
	}
	capture.ExpiresAt = capture.CapturedAt.Add(s.ttl).Unix()

	buff := bytes.NewBuffer(nil)
	err = gob.NewEncoder(buff).Encode(capture)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to serialize capture")
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry([]byte(key), buff.Bytes()).WithTTL(s.ttl))
	})
}

// Get returns the capture stored for (kind, url, label) or ErrNotFound.
func (s *Store) Get(ctx context.Context, kind Kind, rawUrl, label string) (Capture, error) {
	_, span := tracer.Start(ctx, "get")
	defer span.End()

	key, err := Key(kind, rawUrl, label)
	if err != nil {
		return Capture{}, err
	}

	var serialized []byte
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		serialized, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Capture{}, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read capture")
		return Capture{}, err
	}

	var capture Capture
	err = gob.NewDecoder(bytes.NewBuffer(serialized)).Decode(&capture)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to deserialize capture")
		return Capture{}, err
	}

	// badger expires by wall clock, the injected clock decides here.
	if s.time.Now().Unix() >= capture.ExpiresAt {
		return Capture{}, ErrNotFound
	}
	return capture, nil
}

// List returns the keys of every live capture of kind.
func (s *Store) List(ctx context.Context, kind Kind) ([]string, error) {
	prefix := []byte(string(kind) + ":")
	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	return keys, err
}
