// Package export implements providers that deliver the whole catalog as a
// single document with a declared item count.
package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"iter"
	"path"
	"time"

	"github.com/timmy/catalogsync/internal/logger"
	"github.com/timmy/catalogsync/internal/source"
	"github.com/timmy/catalogsync/internal/storage"
)

// Document formats.
const (
	FormatJSON = "json"
	FormatXML  = "xml"
)

// Config describes where the export lives and how to read it.
type Config struct {
	Path        string
	Format      string
	CountField  string // JSON path, or XML root attribute / child element
	ItemsField  string // JSON path of the item array
	ItemElement string // XML element name of one item
	// ReplayKey, when set, parses an archived document instead of
	// requesting a new one.
	ReplayKey string
	// KeepArchives bounds the archived documents kept per supplier; older
	// ones are deleted after each upload. 0 keeps everything.
	KeepArchives int
	Items        source.ItemBuilder
}

// Adapter fetches one export document and yields it as a single page.
type Adapter struct {
	cfg     Config
	client  *source.Client
	archive storage.ObjectStorage
	now     func() time.Time
}

// NewAdapter creates a new export adapter. archive may be nil.
func NewAdapter(cfg Config, client *source.Client, archive storage.ObjectStorage) *Adapter {
	if cfg.Format == "" {
		cfg.Format = FormatJSON
	}
	return &Adapter{cfg: cfg, client: client, archive: archive, now: time.Now}
}

// SupplierID returns the supplier code.
func (a *Adapter) SupplierID() string {
	return a.cfg.Items.SupplierID
}

// Transport returns source.TransportExport.
func (a *Adapter) Transport() source.Transport {
	return source.TransportExport
}

// Pages yields exactly one page. A parsed count that differs from the
// declared count is logged as a warning and does not fail the run.
func (a *Adapter) Pages(ctx context.Context, filter source.Filter) iter.Seq2[source.Page, error] {
	return func(yield func(source.Page, error) bool) {
		fetchedAt := a.now()
		body, err := a.fetch(ctx, filter, fetchedAt)
		if err != nil {
			yield(source.Page{}, err)
			return
		}

		var doc *document
		switch a.cfg.Format {
		case FormatXML:
			doc, err = parseXML(body, a.cfg.CountField, a.cfg.ItemElement)
		default:
			doc, err = parseJSON(body, a.cfg.CountField, a.cfg.ItemsField)
		}
		if err != nil {
			yield(source.Page{}, &source.MalformedResponseError{Op: a.cfg.Path, Err: err})
			return
		}

		if doc.declared >= 0 && doc.declared != len(doc.items) {
			logger.CtxWarn(ctx, "Export count mismatch: supplier=%s, declared=%d, parsed=%d",
				a.SupplierID(), doc.declared, len(doc.items))
		}

		declared := doc.declared
		if declared < 0 {
			declared = 0
		}
		page := a.cfg.Items.Build(ctx, doc.items, fetchedAt)
		page.Declared = declared
		yield(page, nil)
	}
}

func (a *Adapter) fetch(ctx context.Context, filter source.Filter, fetchedAt time.Time) ([]byte, error) {
	if a.cfg.ReplayKey != "" {
		if a.archive == nil {
			return nil, fmt.Errorf("replay of %s requested without an archive", a.cfg.ReplayKey)
		}
		ok, err := a.archive.Exists(ctx, a.cfg.ReplayKey)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("replay %s: %w", a.cfg.ReplayKey, storage.ErrNotFound)
		}
		rc, err := a.archive.Download(ctx, a.cfg.ReplayKey)
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}

	body, err := a.client.Get(ctx, a.cfg.Path, filter.Params())
	if err != nil {
		return nil, err
	}

	if a.archive != nil {
		key := a.ArchiveKey(fetchedAt)
		err := a.archive.Upload(ctx, key, bytes.NewReader(body), int64(len(body)), a.contentType())
		if err != nil {
			logger.CtxWarn(ctx, "Failed to archive export: supplier=%s, key=%s, error=%v", a.SupplierID(), key, err)
		} else {
			logger.CtxInfo(ctx, "Archived export: supplier=%s, key=%s, size=%d", a.SupplierID(), key, len(body))
			a.prune(ctx)
		}
	}
	return body, nil
}

// prune deletes the oldest archived documents beyond KeepArchives. Archive
// keys sort by fetch time. Failures only cost disk space and are logged.
func (a *Adapter) prune(ctx context.Context) {
	if a.cfg.KeepArchives <= 0 {
		return
	}
	keys, err := a.archive.List(ctx, a.archivePrefix())
	if err != nil {
		logger.CtxWarn(ctx, "Failed to list archived exports: supplier=%s, error=%v", a.SupplierID(), err)
		return
	}
	if len(keys) <= a.cfg.KeepArchives {
		return
	}
	stale := keys[:len(keys)-a.cfg.KeepArchives]
	for _, key := range stale {
		if err := a.archive.Delete(ctx, key); err != nil {
			logger.CtxWarn(ctx, "Failed to delete archived export: key=%s, error=%v", key, err)
			return
		}
	}
	logger.CtxInfo(ctx, "Pruned archived exports: supplier=%s, deleted=%d, kept=%d", a.SupplierID(), len(stale), a.cfg.KeepArchives)
}

func (a *Adapter) archivePrefix() string {
	return path.Join("exports", a.SupplierID()) + "/"
}

// ArchiveKey returns the object key an export fetched at t is stored under.
func (a *Adapter) ArchiveKey(t time.Time) string {
	t = t.UTC()
	return a.archivePrefix() + path.Join(t.Format("2006/01/02"), fmt.Sprintf("%d.%s", t.Unix(), a.cfg.Format))
}

func (a *Adapter) contentType() string {
	if a.cfg.Format == FormatXML {
		return "application/xml"
	}
	return "application/json"
}
