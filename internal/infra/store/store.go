// Package store persists threads and messages in a single bbolt file. The
// record is append-only: the one mutation path is UpsertMessage, used by the
// orchestrator to attach late annotations to a pre-allocated assistant turn.
package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"mcpgate/internal/domain"
)

const (
	threadsBucketName  = "threads"
	messagesBucketName = "messages"
	indexBucketName    = "__index"
)

var ErrClosed = errors.New("conversation store is closed")

// Store is safe for concurrent use; bbolt serializes writers, which gives
// per-thread append ordering by arrival for free.
type Store struct {
	mu     sync.RWMutex
	db     *bolt.DB
	closed bool
}

func Open(path string) (*Store, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(trimmed), 0o755); err != nil {
		return nil, fmt.Errorf("ensure store dir: %w", err)
	}
	db, err := bolt.Open(trimmed, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open store db: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(threadsBucketName)); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists([]byte(messagesBucketName))
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure store schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// CreateThread persists a new thread. A caller-supplied threadID is honored;
// creating an ID that already exists fails.
func (s *Store) CreateThread(identity, title, projectRef, threadID string) (domain.Thread, error) {
	const op = "store.CreateThread"
	if identity == "" {
		return domain.Thread{}, domain.E(domain.CodeInvalidArgument, op, "identity is required", nil)
	}
	if threadID == "" {
		threadID = uuid.NewString()
	}
	now := time.Now().UTC()
	thread := domain.Thread{
		ThreadID:      threadID,
		Owner:         identity,
		Title:         title,
		ProjectRef:    projectRef,
		CreatedAt:     now,
		LastMessageAt: now,
	}

	err := s.update(func(tx *bolt.Tx) error {
		threads := tx.Bucket([]byte(threadsBucketName))
		if threads.Get([]byte(threadID)) != nil {
			return domain.E(domain.CodeInvalidArgument, op,
				fmt.Sprintf("thread %q already exists", threadID), nil)
		}
		return putThread(threads, thread)
	})
	if err != nil {
		return domain.Thread{}, err
	}
	return thread, nil
}

// GetThread loads a thread and its messages in append order.
func (s *Store) GetThread(threadID string) (domain.Thread, []domain.Message, error) {
	const op = "store.GetThread"
	var thread domain.Thread
	var messages []domain.Message

	err := s.view(func(tx *bolt.Tx) error {
		loaded, err := readThread(tx, threadID, op)
		if err != nil {
			return err
		}
		thread = loaded

		bucket := tx.Bucket([]byte(messagesBucketName)).Bucket([]byte(threadID))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(key, value []byte) error {
			if value == nil {
				// Nested index bucket.
				return nil
			}
			var msg domain.Message
			if err := json.Unmarshal(value, &msg); err != nil {
				return fmt.Errorf("decode message: %w", err)
			}
			messages = append(messages, msg)
			return nil
		})
	})
	if err != nil {
		return domain.Thread{}, nil, err
	}
	return thread, messages, nil
}

// ListThreads returns the identity's threads, most recent activity first.
func (s *Store) ListThreads(identity string) ([]domain.Thread, error) {
	var threads []domain.Thread
	err := s.view(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(threadsBucketName)).ForEach(func(_, value []byte) error {
			var thread domain.Thread
			if err := json.Unmarshal(value, &thread); err != nil {
				return fmt.Errorf("decode thread: %w", err)
			}
			if thread.Owner == identity {
				threads = append(threads, thread)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(threads, func(i, j int) bool {
		return threads[i].LastMessageAt.After(threads[j].LastMessageAt)
	})
	return threads, nil
}

// UpdateThread mutates title and project ref. Ownership checks belong to the
// caller; the store only requires the thread to exist.
func (s *Store) UpdateThread(threadID, title, projectRef string) (domain.Thread, error) {
	const op = "store.UpdateThread"
	var updated domain.Thread
	err := s.update(func(tx *bolt.Tx) error {
		threads := tx.Bucket([]byte(threadsBucketName))
		thread, err := readThread(tx, threadID, op)
		if err != nil {
			return err
		}
		if title != "" {
			thread.Title = title
		}
		if projectRef != "" {
			thread.ProjectRef = projectRef
		}
		updated = thread
		return putThread(threads, thread)
	})
	if err != nil {
		return domain.Thread{}, err
	}
	return updated, nil
}

// AppendMessage appends to an existing thread and bumps its activity stamp.
func (s *Store) AppendMessage(threadID string, msg domain.Message) (domain.Message, error) {
	const op = "store.AppendMessage"
	if msg.MessageID == "" {
		msg.MessageID = uuid.NewString()
	}
	msg.ThreadID = threadID
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	err := s.update(func(tx *bolt.Tx) error {
		threads := tx.Bucket([]byte(threadsBucketName))
		thread, err := readThread(tx, threadID, op)
		if err != nil {
			return err
		}

		bucket, index, err := messageBuckets(tx, threadID)
		if err != nil {
			return err
		}
		if index.Get([]byte(msg.MessageID)) != nil {
			return domain.E(domain.CodeInvalidArgument, op,
				fmt.Sprintf("message %q already exists", msg.MessageID), nil)
		}
		if err := writeMessage(bucket, index, msg, nil); err != nil {
			return err
		}

		thread.LastMessageAt = msg.CreatedAt
		return putThread(threads, thread)
	})
	if err != nil {
		return domain.Message{}, err
	}
	return msg, nil
}

// UpsertMessage inserts the message, or replaces it in place when its ID is
// already present. Replacement keeps the original append position.
func (s *Store) UpsertMessage(threadID string, msg domain.Message) (domain.Message, error) {
	const op = "store.UpsertMessage"
	if msg.MessageID == "" {
		msg.MessageID = uuid.NewString()
	}
	msg.ThreadID = threadID
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	err := s.update(func(tx *bolt.Tx) error {
		threads := tx.Bucket([]byte(threadsBucketName))
		thread, err := readThread(tx, threadID, op)
		if err != nil {
			return err
		}

		bucket, index, err := messageBuckets(tx, threadID)
		if err != nil {
			return err
		}
		existingKey := index.Get([]byte(msg.MessageID))
		if err := writeMessage(bucket, index, msg, existingKey); err != nil {
			return err
		}

		if msg.CreatedAt.After(thread.LastMessageAt) {
			thread.LastMessageAt = msg.CreatedAt
		}
		return putThread(threads, thread)
	})
	if err != nil {
		return domain.Message{}, err
	}
	return msg, nil
}

// DeleteThread removes the thread and every message in it.
func (s *Store) DeleteThread(threadID string) error {
	const op = "store.DeleteThread"
	return s.update(func(tx *bolt.Tx) error {
		threads := tx.Bucket([]byte(threadsBucketName))
		if threads.Get([]byte(threadID)) == nil {
			return domain.Wrap(domain.CodeNotFound, op, domain.ErrThreadNotFound)
		}
		if err := threads.Delete([]byte(threadID)); err != nil {
			return err
		}
		messages := tx.Bucket([]byte(messagesBucketName))
		if messages.Bucket([]byte(threadID)) == nil {
			return nil
		}
		return messages.DeleteBucket([]byte(threadID))
	})
}

func (s *Store) view(fn func(*bolt.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return s.db.View(fn)
}

func (s *Store) update(fn func(*bolt.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return s.db.Update(fn)
}

func readThread(tx *bolt.Tx, threadID, op string) (domain.Thread, error) {
	raw := tx.Bucket([]byte(threadsBucketName)).Get([]byte(threadID))
	if raw == nil {
		return domain.Thread{}, domain.Wrap(domain.CodeNotFound, op, domain.ErrThreadNotFound)
	}
	var thread domain.Thread
	if err := json.Unmarshal(raw, &thread); err != nil {
		return domain.Thread{}, fmt.Errorf("decode thread: %w", err)
	}
	return thread, nil
}

func putThread(bucket *bolt.Bucket, thread domain.Thread) error {
	raw, err := json.Marshal(thread)
	if err != nil {
		return fmt.Errorf("encode thread: %w", err)
	}
	return bucket.Put([]byte(thread.ThreadID), raw)
}

// messageBuckets returns the per-thread message bucket (keys are big-endian
// sequence numbers, so iteration order is append order) and its id index.
func messageBuckets(tx *bolt.Tx, threadID string) (*bolt.Bucket, *bolt.Bucket, error) {
	bucket, err := tx.Bucket([]byte(messagesBucketName)).CreateBucketIfNotExists([]byte(threadID))
	if err != nil {
		return nil, nil, fmt.Errorf("create thread message bucket: %w", err)
	}
	index, err := bucket.CreateBucketIfNotExists([]byte(indexBucketName))
	if err != nil {
		return nil, nil, fmt.Errorf("create message index bucket: %w", err)
	}
	return bucket, index, nil
}

func writeMessage(bucket, index *bolt.Bucket, msg domain.Message, existingKey []byte) error {
	key := existingKey
	if key == nil {
		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("next message sequence: %w", err)
		}
		key = make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := bucket.Put(key, raw); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if existingKey == nil {
		if err := index.Put([]byte(msg.MessageID), key); err != nil {
			return fmt.Errorf("index message: %w", err)
		}
	}
	return nil
}
