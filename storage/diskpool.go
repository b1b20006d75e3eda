package storage

import (
	"errors"
	"io"
	"os"

	"github.com/nodb-engine/nodb/enginerr"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// PagePool is a bounded free queue of reusable *Page buffers. Acquire
// pops a recycled page or allocates a fresh zeroed one when the queue is
// empty; Release pushes a page back, dropping it if the queue is already
// full. The fast path never blocks.
type PagePool struct {
	free chan *Page
}

// NewPagePool builds a pool that recycles up to cap pages.
func NewPagePool(capacity int) *PagePool {
	if capacity < 0 {
		capacity = 0
	}
	return &PagePool{free: make(chan *Page, capacity)}
}

func (p *PagePool) Acquire() *Page {
	select {
	case pg := <-p.free:
		return pg
	default:
		return &Page{}
	}
}

func (p *PagePool) Release(pg *Page) {
	select {
	case p.free <- pg:
	default:
		// queue full, let pg be collected
	}
}

// diskRequest is one unit of work submitted to the controller's worker
// pool and answered through a one-shot reply channel, mirroring the
// send_await pattern the engine this was distilled from uses for every
// cross-thread disk operation.
type diskRequest struct {
	kind  diskOp
	index uint32
	page  *Page
	reply chan diskReply
}

type diskOp int

const (
	opRead diskOp = iota
	opWrite
	opSync
)

type diskReply struct {
	page *Page
	err  error
}

// DiskController owns one underlying file and a fixed pool of worker
// goroutines that serve positional reads/writes/fsyncs off a shared work
// queue. Concurrent reads of distinct indices are safe; the WAL and
// buffer pool are responsible for ensuring single-writer per index.
type DiskController struct {
	file   StorageFile
	pageSz int
	queue  chan diskRequest
	done   chan struct{}
	log    zerolog.Logger
	closed chan struct{}
	eg     errgroup.Group
}

// NewDiskController starts threadCount worker goroutines over file, each
// reading/writing pageSz-sized pages.
func NewDiskController(file StorageFile, pageSz, threadCount int, log zerolog.Logger) *DiskController {
	if threadCount <= 0 {
		threadCount = 1
	}
	dc := &DiskController{
		file:   file,
		pageSz: pageSz,
		queue:  make(chan diskRequest, threadCount*4),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
		log:    log,
	}
	for i := 0; i < threadCount; i++ {
		dc.eg.Go(dc.worker)
	}
	return dc
}

func (dc *DiskController) worker() error {
	for {
		select {
		case req, ok := <-dc.queue:
			if !ok {
				return nil
			}
			dc.serve(req)
		case <-dc.done:
			return nil
		}
	}
}

func (dc *DiskController) serve(req diskRequest) {
	defer func() {
		if r := recover(); r != nil {
			dc.log.Error().Interface("panic", r).Msg("disk worker panic")
			req.reply <- diskReply{err: enginerr.New("disk: worker", enginerr.Panic)}
		}
	}()
	switch req.kind {
	case opRead:
		buf := make([]byte, dc.pageSz)
		_, err := dc.file.ReadAt(buf, int64(req.index)*int64(dc.pageSz))
		pg := &Page{}
		if err == nil {
			copy(pg.Data[:], buf)
		} else if !isEOFLike(err) {
			req.reply <- diskReply{err: enginerr.Wrap("disk: read", enginerr.IO, err)}
			return
		}
		// Reading beyond EOF yields a zero-filled page, not an error: this
		// is the contract the buffer pool relies on for cold pages.
		req.reply <- diskReply{page: pg}
	case opWrite:
		_, err := dc.file.WriteAt(req.page.Data[:], int64(req.index)*int64(dc.pageSz))
		if err != nil {
			req.reply <- diskReply{err: enginerr.Wrap("disk: write", enginerr.IO, err)}
			return
		}
		req.reply <- diskReply{}
	case opSync:
		if err := dc.file.Sync(); err != nil {
			dc.log.Error().Err(err).Msg("fsync failed")
			req.reply <- diskReply{err: enginerr.Wrap("disk: fsync", enginerr.IO, err)}
			return
		}
		req.reply <- diskReply{}
	}
}

func isEOFLike(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

func (dc *DiskController) submit(req diskRequest) diskReply {
	req.reply = make(chan diskReply, 1)
	select {
	case dc.queue <- req:
	case <-dc.done:
		return diskReply{err: enginerr.New("disk: submit", enginerr.WorkerClosed)}
	}
	return <-req.reply
}

// Read performs a positional read of exactly pageSz bytes at index*pageSz.
// Reading past the end of the file returns a zero-filled page, not an
// error.
func (dc *DiskController) Read(index uint32) (*Page, error) {
	r := dc.submit(diskRequest{kind: opRead, index: index})
	return r.page, r.err
}

// Write performs a positional write at index*pageSz.
func (dc *DiskController) Write(index uint32, page *Page) error {
	r := dc.submit(diskRequest{kind: opWrite, index: index, page: page})
	return r.err
}

// Fsync flushes the underlying file to stable storage.
func (dc *DiskController) Fsync() error {
	r := dc.submit(diskRequest{kind: opSync})
	return r.err
}

// Len returns the page count implied by the current file size.
func (dc *DiskController) Len() (uint32, error) {
	fi, err := dc.file.Stat()
	if err != nil {
		return 0, enginerr.Wrap("disk: stat", enginerr.IO, err)
	}
	return uint32(fi.Size() / int64(dc.pageSz)), nil
}

// Unlink removes the underlying file. The controller must be closed first.
func (dc *DiskController) Unlink(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return enginerr.Wrap("disk: unlink", enginerr.IO, err)
	}
	return nil
}

// Close stops accepting new work and joins the worker pool. In-flight
// requests already read off the queue are allowed to complete.
func (dc *DiskController) Close() error {
	select {
	case <-dc.closed:
		return nil
	default:
		close(dc.closed)
		close(dc.done)
	}
	dc.eg.Wait()
	return dc.file.Close()
}
