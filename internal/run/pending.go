package run

import (
	"context"
	"errors"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"
	"mvdan.cc/sh/v3/syntax"

	"github.com/dagucloud/herd/internal/cmn/logger"
	"github.com/dagucloud/herd/internal/cmn/logger/tag"
	"github.com/dagucloud/herd/internal/shell"
)

type download struct {
	path        string
	destination string
	maxSize     int64
}

// pending collects file operations queued during a stage, keyed by host.
type pending struct {
	mu        sync.Mutex
	downloads map[string][]download
	deletes   map[string][]string
}

func newPending() *pending {
	return &pending{downloads: map[string][]download{}, deletes: map[string][]string{}}
}

func (p *pending) addDownload(host string, d download) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.downloads[host] = append(p.downloads[host], d)
}

func (p *pending) addDelete(host, path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deletes[host] = append(p.deletes[host], path)
}

// take returns and clears everything queued for the hosts seen so far.
func (p *pending) take() (map[string][]download, map[string][]string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	downloads, deletes := p.downloads, p.deletes
	p.downloads, p.deletes = map[string][]download{}, map[string][]string{}
	return downloads, deletes
}

// AddPendingDownload queues remote path on host for download at the end of
// the stage.
func (r *Run) AddPendingDownload(host, path, destination string, maxSize int64) {
	r.pending.addDownload(host, download{path: path, destination: destination, maxSize: maxSize})
}

// AddPendingDelete queues remote path on host for removal at the end of the
// stage, after downloads.
func (r *Run) AddPendingDelete(host, path string) {
	r.pending.addDelete(host, path)
}

// flush performs the queued downloads then deletes, hosts in parallel.
// Failures are logged and never abort the run.
func (r *Run) flush(ctx context.Context) {
	downloads, deletes := r.pending.take()
	hosts := map[string]struct{}{}
	for h := range downloads {
		hosts[h] = struct{}{}
	}
	for h := range deletes {
		hosts[h] = struct{}{}
	}
	if len(hosts) == 0 {
		return
	}

	var g errgroup.Group
	for host := range hosts {
		sess, ok := r.sessions[host]
		if !ok || !sess.IsOpen() {
			logger.Warn(ctx, "Dropping pending file operations for unavailable host", tag.Host(host))
			continue
		}
		g.Go(func() error {
			hctx := logger.WithValues(ctx, tag.Host(host))
			for _, d := range downloads[host] {
				r.download(hctx, sess, host, d)
			}
			for _, path := range deletes[host] {
				r.delete(hctx, sess, path)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (r *Run) download(ctx context.Context, sess shell.Session, host string, d download) {
	dest := d.destination
	if !filepath.IsAbs(dest) {
		dest = filepath.Join(r.opts.DownloadDir, host, dest)
	}
	n, err := sess.Download(ctx, d.path, dest, d.maxSize)
	switch {
	case errors.Is(err, shell.ErrTooLarge):
		logger.Warn(ctx, "Skipped download over size limit", tag.Path(d.path), tag.Size(d.maxSize))
	case err != nil:
		logger.Warn(ctx, "Download failed", tag.Path(d.path), tag.Error(err))
	default:
		logger.Info(ctx, "Downloaded", tag.Path(d.path), tag.Destination(dest), tag.Size(n))
	}
}

func (r *Run) delete(ctx context.Context, sess shell.Session, path string) {
	quoted, err := syntax.Quote(path, syntax.LangBash)
	if err != nil {
		logger.Warn(ctx, "Cannot quote path for removal", tag.Path(path), tag.Error(err))
		return
	}
	res, err := sess.Run(ctx, "rm -rf "+quoted, nil)
	switch {
	case err != nil:
		logger.Warn(ctx, "Delete failed", tag.Path(path), tag.Error(err))
	case res.ExitCode != 0:
		logger.Warn(ctx, "Delete failed", tag.Path(path), tag.ExitCode(res.ExitCode))
	default:
		logger.Debug(ctx, "Deleted", tag.Path(path))
	}
}
