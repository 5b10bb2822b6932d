// Package cache implements the incremental, file-based cache each source
// adapter and sync stage uses to resume from where the previous run left
// off, grounded on common/cache.py's Cache class: every write lands in a
// temp file in the same directory and is then renamed into place, so a
// crash mid-write never leaves a torn file behind, and every read of a
// missing or corrupted file is treated as "nothing cached yet" rather than
// a fatal error.
package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/model"
	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/pipelineerr"
	"go.uber.org/zap"
)

// Cache is a directory of small files, one per cached key, each written
// atomically.
type Cache struct {
	dir string
	log *zap.Logger
}

// New returns a Cache rooted at dir, creating dir if it does not exist.
func New(dir string, log *zap.Logger) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, pipelineerr.New(pipelineerr.KindConfiguration, "cache.New", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{dir: dir, log: log}, nil
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, key)
}

// writeAtomic writes data to key via a temp file in the same directory
// followed by a rename, so a reader never observes a partially written
// file.
func (c *Cache) writeAtomic(key string, data []byte) error {
	tmp, err := os.CreateTemp(c.dir, "."+key+".tmp-*")
	if err != nil {
		return pipelineerr.New(pipelineerr.KindTransientBackend, "cache.writeAtomic", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return pipelineerr.New(pipelineerr.KindTransientBackend, "cache.writeAtomic", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return pipelineerr.New(pipelineerr.KindTransientBackend, "cache.writeAtomic", err)
	}
	if err := os.Rename(tmpName, c.path(key)); err != nil {
		os.Remove(tmpName)
		return pipelineerr.New(pipelineerr.KindTransientBackend, "cache.writeAtomic", err)
	}
	return nil
}

func (c *Cache) readRaw(key string) ([]byte, bool) {
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetString writes a raw string value under key.
func (c *Cache) SetString(key, value string) error {
	return c.writeAtomic(key, []byte(value))
}

// GetString reads a raw string value, returning ok=false if absent.
func (c *Cache) GetString(key string) (string, bool) {
	data, ok := c.readRaw(key)
	if !ok {
		return "", false
	}
	return string(data), true
}

// SetTimestamp writes an RFC3339 timestamp under key, the watermark used to
// resume incremental fetches.
func (c *Cache) SetTimestamp(key string, t time.Time) error {
	return c.SetString(key, t.UTC().Format(time.RFC3339Nano))
}

// GetTimestamp reads a timestamp previously stored by SetTimestamp. A
// missing or unparseable value is reported as absent (ok=false) rather
// than an error, per spec: a corrupted cache entry degrades to "treat as
// absent", it never aborts the run.
func (c *Cache) GetTimestamp(key string) (time.Time, bool) {
	raw, ok := c.GetString(key)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		c.log.Warn("corrupted cache timestamp, treating as absent",
			zap.String("key", key), zap.Error(err))
		return time.Time{}, false
	}
	return t, true
}

// ClearTimestamp removes a previously stored watermark, so the next run
// performs a full re-fetch of that source. Mirrors Cache.clear_timestamp.
func (c *Cache) ClearTimestamp(key string) error {
	err := os.Remove(c.path(key))
	if err != nil && !os.IsNotExist(err) {
		return pipelineerr.New(pipelineerr.KindTransientBackend, "cache.ClearTimestamp", err)
	}
	return nil
}

// SetMessage caches a single upstream record, keyed by its origin id, so a
// later run can recover the original payload without re-fetching it.
func (c *Cache) SetMessage(key string, msg model.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("cache.SetMessage: marshal: %w", err)
	}
	return c.writeAtomic(key, data)
}

// GetMessage reads back a message cached by SetMessage. A corrupted entry
// is treated as absent, logged, and the file is left in place for
// inspection.
func (c *Cache) GetMessage(key string) (model.Message, bool) {
	data, ok := c.readRaw(key)
	if !ok {
		return model.Message{}, false
	}
	var msg model.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.log.Warn("corrupted cached message, treating as absent",
			zap.String("key", key), zap.Error(err))
		return model.Message{}, false
	}
	return msg, true
}

// SetMessages caches a batch of messages as JSON Lines under key, mirroring
// set_messages' newline-delimited-JSON format.
func (c *Cache) SetMessages(key string, msgs []model.Message) error {
	var buf []byte
	for _, m := range msgs {
		line, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("cache.SetMessages: marshal: %w", err)
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	return c.writeAtomic(key, buf)
}

// GetMessages reads back a batch cached by SetMessages. Lines that fail to
// parse are skipped and logged rather than aborting the whole read.
func (c *Cache) GetMessages(key string) ([]model.Message, bool) {
	data, ok := c.readRaw(key)
	if !ok {
		return nil, false
	}
	var msgs []model.Message
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var m model.Message
		if err := json.Unmarshal(line, &m); err != nil {
			c.log.Warn("corrupted line in cached message batch, skipping",
				zap.String("key", key), zap.Error(err))
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, true
}
