// Package persist writes per-sounding text artifacts and the run archive to a
// blob store.
package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/uwyo-soundings/internal/metrics"
	"github.com/JakeFAU/uwyo-soundings/internal/sounding"
)

// DefaultArchiveName is the archive file name used when none is configured.
const DefaultArchiveName = "dwl_data.pkl"

// ArchiveVersion is the current archive schema version.
const ArchiveVersion = 1

const (
	textContentType    = "text/plain; charset=utf-8"
	archiveContentType = "application/json"
)

// Persister writes artifacts through a sounding.BlobStore.
type Persister struct {
	store       sounding.BlobStore
	archiveName string
	logger      *zap.Logger
}

// New returns a Persister. An empty archiveName selects DefaultArchiveName.
func New(store sounding.BlobStore, archiveName string, logger *zap.Logger) (*Persister, error) {
	if store == nil {
		return nil, sounding.Configurationf("persister requires a blob store")
	}
	if strings.TrimSpace(archiveName) == "" {
		archiveName = DefaultArchiveName
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Persister{store: store, archiveName: archiveName, logger: logger}, nil
}

// ArchiveName returns the object name of the archive.
func (p *Persister) ArchiveName() string {
	return p.archiveName
}

// WriteArtifact writes one text file named after r.Filename, replacing any
// previous content.
func (p *Persister) WriteArtifact(ctx context.Context, r sounding.Result) (string, error) {
	uri, err := p.store.PutObject(ctx, r.Filename, textContentType, strings.NewReader(r.Data))
	if err != nil {
		return "", ioError(fmt.Errorf("write artifact %s: %w", r.Filename, err))
	}
	metrics.ObserveArtifact("ascii")
	p.logger.Debug("artifact written", zap.String("uri", uri))
	return uri, nil
}

// WriteArtifacts writes every successful result of col in order and stops at
// the first failure.
func (p *Persister) WriteArtifacts(ctx context.Context, col sounding.Collection) ([]string, error) {
	uris := make([]string, 0, col.Len())
	for _, r := range col.Results() {
		uri, err := p.WriteArtifact(ctx, r)
		if err != nil {
			return uris, err
		}
		uris = append(uris, uri)
	}
	return uris, nil
}

// WriteArchive serializes col to the archive object, overwriting it.
func (p *Persister) WriteArchive(ctx context.Context, col sounding.Collection) (string, error) {
	var buf bytes.Buffer
	if err := EncodeArchive(&buf, col); err != nil {
		return "", err
	}
	uri, err := p.store.PutObject(ctx, p.archiveName, archiveContentType, &buf)
	if err != nil {
		return "", ioError(fmt.Errorf("write archive: %w", err))
	}
	metrics.ObserveArtifact("archive")
	p.logger.Debug("archive written", zap.String("uri", uri), zap.Int("entries", col.Len()))
	return uri, nil
}

// LoadArchive reads the archive object back.
func (p *Persister) LoadArchive(ctx context.Context) (Archive, error) {
	data, err := p.store.GetObject(ctx, p.archiveName)
	if err != nil {
		return Archive{}, ioError(fmt.Errorf("read archive: %w", err))
	}
	return ReadArchive(bytes.NewReader(data))
}

// Archive is the serialized form of a sounding.Collection.
type Archive struct {
	Version int     `json:"version"`
	Entries []Entry `json:"entries"`
}

// Entry is one collection slot. Error is set instead of Data for failed slots.
type Entry struct {
	Filename string `json:"filename"`
	Data     string `json:"data"`
	Error    string `json:"error,omitempty"`
}

// Results returns the successful entries in order.
func (a Archive) Results() []sounding.Result {
	out := make([]sounding.Result, 0, len(a.Entries))
	for _, e := range a.Entries {
		if e.Error == "" {
			out = append(out, sounding.Result{Filename: e.Filename, Data: e.Data})
		}
	}
	return out
}

// NewArchive converts col to its archive form.
func NewArchive(col sounding.Collection) Archive {
	a := Archive{Version: ArchiveVersion, Entries: make([]Entry, 0, col.Len())}
	for _, item := range col.Items {
		e := Entry{Filename: item.Request.Filename()}
		switch {
		case item.Err != nil:
			e.Error = item.Err.Error()
		case item.Result != nil:
			e.Filename = item.Result.Filename
			e.Data = item.Result.Data
		}
		a.Entries = append(a.Entries, e)
	}
	return a
}

// EncodeArchive writes col to w as indented JSON.
func EncodeArchive(w io.Writer, col sounding.Collection) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(NewArchive(col)); err != nil {
		return ioError(fmt.Errorf("encode archive: %w", err))
	}
	return nil
}

// ReadArchive decodes an archive produced by EncodeArchive.
func ReadArchive(r io.Reader) (Archive, error) {
	var a Archive
	if err := json.NewDecoder(r).Decode(&a); err != nil {
		return Archive{}, fmt.Errorf("%w: decode archive: %w", sounding.ErrParse, err)
	}
	if a.Version != ArchiveVersion {
		return Archive{}, fmt.Errorf("%w: unsupported archive version %d", sounding.ErrParse, a.Version)
	}
	return a, nil
}

func ioError(err error) error {
	if errors.Is(err, sounding.ErrIO) {
		return err
	}
	return fmt.Errorf("%w: %w", sounding.ErrIO, err)
}
