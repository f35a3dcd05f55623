// Package mount exposes the catalog as a read-only FUSE file system.
package mount

import (
	"context"
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"go.uber.org/zap"

	"github.com/solwind/snipsync/internal/catalog"
	"github.com/solwind/snipsync/internal/records"
)

// Navigator is the part of the catalog tree the mount reads. Listings use
// whatever snapshot is current, so directories follow refreshes.
type Navigator interface {
	RootNodes() []catalog.Node
	Children(key string) []catalog.Node
	Open(ctx context.Context, key string) (records.Snippet, error)
}

type Options struct {
	// EntryTimeout is how long the kernel may cache names and attributes.
	EntryTimeout time.Duration
	Debug        bool
	Logger       *zap.Logger
}

// Mount serves nav at dir until the returned server is unmounted.
func Mount(dir string, nav Navigator, opts Options) (*fuse.Server, error) {
	if opts.EntryTimeout <= 0 {
		opts.EntryTimeout = time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	root := &dirNode{nav: nav, logger: logger}
	timeout := opts.EntryTimeout
	server, err := fs.Mount(dir, root, &fs.Options{
		EntryTimeout: &timeout,
		AttrTimeout:  &timeout,
		MountOptions: fuse.MountOptions{
			FsName:  "snipsync",
			Name:    "snipsync",
			Options: []string{"ro"},
			Debug:   opts.Debug,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mount %s: %w", dir, err)
	}
	logger.Info("catalog mounted", zap.String("dir", dir))
	return server, nil
}

type dirNode struct {
	fs.Inode
	nav    Navigator
	logger *zap.Logger
	// key is empty for the mount root.
	key string
}

var (
	_ fs.NodeReaddirer = (*dirNode)(nil)
	_ fs.NodeLookuper  = (*dirNode)(nil)
	_ fs.NodeGetattrer = (*dirNode)(nil)
)

func (n *dirNode) entries() []Entry {
	if n.key == "" {
		return Entries(n.nav.RootNodes())
	}
	return Entries(n.nav.Children(n.key))
}

func (n *dirNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	entries := n.entries()
	list := make([]fuse.DirEntry, 0, len(entries))
	for _, e := range entries {
		mode := uint32(fuse.S_IFREG)
		if e.Dir {
			mode = fuse.S_IFDIR
		}
		list = append(list, fuse.DirEntry{Name: e.Name, Mode: mode, Ino: inode(e.Key)})
	}
	return fs.NewListDirStream(list), fs.OK
}

func (n *dirNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	e, ok := Find(n.entries(), name)
	if !ok {
		return nil, syscall.ENOENT
	}
	if e.Dir {
		out.Mode = fuse.S_IFDIR | 0o555
		child := &dirNode{nav: n.nav, logger: n.logger, key: e.Key}
		return n.NewInode(ctx, child, fs.StableAttr{Mode: fuse.S_IFDIR, Ino: inode(e.Key)}), fs.OK
	}
	out.Mode = fuse.S_IFREG | 0o444
	child := &fileNode{nav: n.nav, logger: n.logger, key: e.Key}
	return n.NewInode(ctx, child, fs.StableAttr{Mode: fuse.S_IFREG, Ino: inode(e.Key)}), fs.OK
}

func (n *dirNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = fuse.S_IFDIR | 0o555
	return fs.OK
}

type fileNode struct {
	fs.Inode
	nav    Navigator
	logger *zap.Logger
	key    string

	mu   sync.Mutex
	size uint64
}

var (
	_ fs.NodeOpener    = (*fileNode)(nil)
	_ fs.NodeGetattrer = (*fileNode)(nil)
)

// Open fetches the insert text. Contents are read directly so every open
// sees the store's current text.
func (n *fileNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		return nil, 0, syscall.EROFS
	}
	snippet, err := n.nav.Open(ctx, n.key)
	if err != nil {
		n.logger.Warn("open snippet failed", zap.String("key", n.key), zap.Error(err))
		return nil, 0, errno(err)
	}
	data := []byte(snippet.InsertText)
	n.mu.Lock()
	n.size = uint64(len(data))
	n.mu.Unlock()
	return &fileHandle{data: data}, fuse.FOPEN_DIRECT_IO, fs.OK
}

func (n *fileNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = fuse.S_IFREG | 0o444
	if h, ok := f.(*fileHandle); ok {
		out.Size = uint64(len(h.data))
		return fs.OK
	}
	n.mu.Lock()
	out.Size = n.size
	n.mu.Unlock()
	return fs.OK
}

type fileHandle struct {
	data []byte
}

var _ fs.FileReader = (*fileHandle)(nil)

func (h *fileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	return fuse.ReadResultData(readAt(h.data, dest, off)), fs.OK
}

func readAt(data, dest []byte, off int64) []byte {
	if off < 0 || off >= int64(len(data)) {
		return nil
	}
	end := off + int64(len(dest))
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	return data[off:end]
}
