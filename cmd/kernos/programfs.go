package main

import (
	"bytes"
	"errors"
	"io/fs"
	"sort"
	"time"
)

// programFS serves built-in program images on top of an optional directory.
type programFS struct {
	images map[string][]byte
	base   fs.FS
}

func newProgramFS(base fs.FS) *programFS {
	return &programFS{images: make(map[string][]byte), base: base}
}

func (p *programFS) add(name string, image []byte) {
	p.images[name] = image
}

// Open implements fs.FS.
func (p *programFS) Open(name string) (fs.File, error) {
	if data, ok := p.images[name]; ok {
		return &imageFile{Reader: bytes.NewReader(data), info: imageInfo{name: name, size: int64(len(data))}}, nil
	}

	if p.base == nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return p.base.Open(name)
}

// ReadDir implements fs.ReadDirFS. Built-in programs appear in the root.
func (p *programFS) ReadDir(name string) ([]fs.DirEntry, error) {
	var entries []fs.DirEntry
	if p.base != nil {
		baseEntries, err := fs.ReadDir(p.base, name)
		if err != nil && (name != "." || !errors.Is(err, fs.ErrNotExist)) {
			return nil, err
		}
		entries = append(entries, baseEntries...)
	}

	if name == "." {
		for imgName, data := range p.images {
			entries = append(entries, fs.FileInfoToDirEntry(imageInfo{name: imgName, size: int64(len(data))}))
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	return entries, nil
}

type imageFile struct {
	*bytes.Reader
	info imageInfo
}

func (f *imageFile) Stat() (fs.FileInfo, error) { return f.info, nil }
func (f *imageFile) Close() error               { return nil }

type imageInfo struct {
	name string
	size int64
}

func (i imageInfo) Name() string       { return i.name }
func (i imageInfo) Size() int64        { return i.size }
func (i imageInfo) Mode() fs.FileMode  { return 0555 }
func (i imageInfo) ModTime() time.Time { return time.Time{} }
func (i imageInfo) IsDir() bool        { return false }
func (i imageInfo) Sys() interface{}   { return nil }
