package bot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"

	"github.com/sealdice/sealbridge/storage"
	"github.com/sealdice/sealbridge/types"
)

const (
	// 单次分片读取的上限
	maxFragmentSize = 16 << 20
	// 分片上传的文件大小上限
	maxUploadSize = 256 << 20
)

func newID() string { return uuid.NewString() }

func kindOf(name string) storage.MediaKind {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp":
		return storage.KindImage
	case ".amr", ".silk", ".mp3", ".wav", ".ogg", ".m4a":
		return storage.KindVoice
	}
	return storage.KindFile
}

func (s *Session) mediaParam(p types.Params) (*storage.MediaObject, error) {
	id, err := p.String("file_id")
	if err != nil {
		return nil, err
	}
	obj, err := s.media.Get(id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, types.ImageNotExist(id)
	}
	if err != nil {
		return nil, types.InternalHandler("load file %s: %v", id, err)
	}
	return obj, nil
}

// localPath 确保记录有本地缓存，必要时下载
func (s *Session) localPath(ctx context.Context, obj *storage.MediaObject) (string, error) {
	if obj.Path != "" {
		if _, err := os.Stat(obj.Path); err == nil {
			return obj.Path, nil
		}
	}
	if _, err := s.tr.Data(ctx, obj); err != nil {
		return "", types.Network(err)
	}
	updated, err := s.media.Get(obj.ID)
	if err != nil || updated.Path == "" {
		return "", types.ImagePath(obj.ID)
	}
	return updated.Path, nil
}

func (s *Session) uploadFile(ctx context.Context, p types.Params) (any, error) {
	typ, err := p.String("type")
	if err != nil {
		return nil, err
	}
	name, err := p.OptString("name", "")
	if err != nil {
		return nil, err
	}

	var (
		data []byte
		url  string
	)
	switch typ {
	case "url":
		if url, err = p.String("url"); err != nil {
			return nil, err
		}
		if data, err = s.tr.Fetch(ctx, url); err != nil {
			return nil, types.Network(err)
		}
		if name == "" {
			name = filepath.Base(url)
		}
	case "path":
		path, err := p.String("path")
		if err != nil {
			return nil, err
		}
		if data, err = os.ReadFile(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, types.FileOpen(err)
			}
			return nil, types.FileRead(err)
		}
		if name == "" {
			name = filepath.Base(path)
		}
	case "data":
		if data, err = p.Bytes("data"); err != nil {
			return nil, err
		}
	default:
		return nil, types.UnsupportedParam("type %s", typ)
	}

	obj, err := s.media.SaveData(kindOf(name), name, data)
	if err != nil {
		return nil, types.FileWrite(err)
	}
	if url != "" {
		if _, err := s.media.Upsert(&storage.MediaObject{ID: obj.ID, URL: url}); err != nil {
			s.log.Warnf("记录文件 %s 的 url 失败: %v", obj.ID, err)
		}
	}
	return map[string]any{"file_id": obj.ID}, nil
}

func (s *Session) getFile(ctx context.Context, p types.Params) (any, error) {
	obj, err := s.mediaParam(p)
	if err != nil {
		return nil, err
	}
	typ, err := p.String("type")
	if err != nil {
		return nil, err
	}
	resp := map[string]any{"name": obj.Name}
	switch typ {
	case "url":
		if obj.URL == "" {
			return nil, types.ImageURL(obj.ID)
		}
		resp["url"] = obj.URL
	case "path":
		if obj.Path == "" {
			return nil, types.ImagePath(obj.ID)
		}
		resp["path"] = obj.Path
	case "data":
		data, err := s.media.ReadData(obj)
		if err != nil {
			if data, err = s.tr.Data(ctx, obj); err != nil {
				return nil, types.ImageData(obj.ID)
			}
		}
		sum := sha256.Sum256(data)
		resp["data"] = data
		resp["sha256"] = hex.EncodeToString(sum[:])
	default:
		return nil, types.UnsupportedParam("type %s", typ)
	}
	return resp, nil
}

// fragment 分片上传中的文件，数据写入临时文件
type fragment struct {
	mu    sync.Mutex
	name  string
	total int64
	path  string
}

func (s *Session) onFragmentEvicted(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *fragment]) {
	if reason == ttlcache.EvictionReasonExpired {
		s.log.Debugf("分片上传 %s 已过期", item.Key())
	}
	_ = os.Remove(item.Value().path)
}

func (s *Session) lookupFragment(p types.Params) (string, *fragment, error) {
	id, err := p.String("file_id")
	if err != nil {
		return "", nil, err
	}
	item := s.fragments.Get(id)
	if item == nil {
		return "", nil, types.FragmentNotExist(id)
	}
	return id, item.Value(), nil
}

func (s *Session) uploadFileFragmented(_ context.Context, p types.Params) (any, error) {
	stage, err := p.String("stage")
	if err != nil {
		return nil, err
	}
	switch stage {
	case "prepare":
		name, err := p.String("name")
		if err != nil {
			return nil, err
		}
		total, err := p.Int64("total_size")
		if err != nil {
			return nil, err
		}
		if total <= 0 || total > maxUploadSize {
			return nil, types.BadParam("total_size must be in (0, %d]", maxUploadSize)
		}
		id := newID()
		path := filepath.Join(s.media.Dir(), id+".part")
		f, err := os.Create(path)
		if err != nil {
			return nil, types.FileCreate(err)
		}
		err = f.Truncate(total)
		_ = f.Close()
		if err != nil {
			return nil, types.FileWrite(err)
		}
		s.fragments.Set(id, &fragment{name: name, total: total, path: path}, ttlcache.DefaultTTL)
		return map[string]any{"file_id": id}, nil

	case "transfer":
		_, frag, err := s.lookupFragment(p)
		if err != nil {
			return nil, err
		}
		offset, err := p.Int64("offset")
		if err != nil {
			return nil, err
		}
		data, err := p.Bytes("data")
		if err != nil {
			return nil, err
		}
		if offset < 0 || offset > frag.total-int64(len(data)) {
			return nil, types.BadParam("fragment out of range")
		}
		frag.mu.Lock()
		defer frag.mu.Unlock()
		f, err := os.OpenFile(frag.path, os.O_WRONLY, 0)
		if err != nil {
			return nil, types.FileOpen(err)
		}
		defer f.Close()
		if _, err := f.WriteAt(data, offset); err != nil {
			return nil, types.FileWrite(err)
		}
		return nil, nil

	case "finish":
		id, frag, err := s.lookupFragment(p)
		if err != nil {
			return nil, err
		}
		expect, err := p.OptString("sha256", "")
		if err != nil {
			return nil, err
		}
		frag.mu.Lock()
		defer frag.mu.Unlock()
		if expect != "" {
			sum, _, err := sha256File(frag.path)
			if err != nil {
				return nil, types.FileRead(err)
			}
			if !strings.EqualFold(sum, expect) {
				return nil, types.BadParam("sha256 mismatch")
			}
		}
		obj, err := s.media.SaveFile(kindOf(frag.name), frag.name, frag.path)
		if err != nil {
			return nil, types.FileWrite(err)
		}
		s.fragments.Delete(id)
		return map[string]any{"file_id": obj.ID}, nil
	}
	return nil, types.UnsupportedParam("stage %s", stage)
}

func (s *Session) getFileFragmented(ctx context.Context, p types.Params) (any, error) {
	stage, err := p.String("stage")
	if err != nil {
		return nil, err
	}
	obj, err := s.mediaParam(p)
	if err != nil {
		return nil, err
	}
	path, err := s.localPath(ctx, obj)
	if err != nil {
		return nil, err
	}

	switch stage {
	case "prepare":
		sum, size, err := sha256File(path)
		if err != nil {
			return nil, types.FileRead(err)
		}
		return map[string]any{
			"name":       obj.Name,
			"total_size": size,
			"sha256":     sum,
		}, nil
	case "transfer":
		offset, err := p.Int64("offset")
		if err != nil {
			return nil, err
		}
		size, err := p.Int64("size")
		if err != nil {
			return nil, err
		}
		if offset < 0 || size <= 0 || size > maxFragmentSize {
			return nil, types.BadParam("invalid offset or size")
		}
		f, err := os.Open(path)
		if err != nil {
			return nil, types.FileOpen(err)
		}
		defer f.Close()
		buf := make([]byte, size)
		n, err := f.ReadAt(buf, offset)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, types.FileRead(err)
		}
		return map[string]any{"data": buf[:n]}, nil
	}
	return nil, types.UnsupportedParam("stage %s", stage)
}

func sha256File(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
