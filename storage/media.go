package storage

import (
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"
)

type MediaKind string

const (
	KindImage MediaKind = "image"
	KindVoice MediaKind = "voice"
	KindFile  MediaKind = "file"
)

// MediaObject 媒体记录，同一内容的不同来源合并在一条记录里
type MediaObject struct {
	ID   string    `json:"id"`
	Kind MediaKind `json:"kind"`
	Size uint32    `json:"size"`
	Name string    `json:"name,omitempty"`

	// 平台侧引用，私聊和群聊各一份
	FriendRef string `json:"friend_ref,omitempty"`
	GroupRef  string `json:"group_ref,omitempty"`
	// 本地缓存文件
	Path string `json:"path,omitempty"`
	URL  string `json:"url,omitempty"`
}

// MediaID 由内容摘要和长度得到的文件ID
func MediaID(sum [md5.Size]byte, size uint32) string {
	var buf [md5.Size + 4]byte
	copy(buf[:], sum[:])
	binary.BigEndian.PutUint32(buf[md5.Size:], size)
	return hex.EncodeToString(buf[:])
}

// MediaIDOf 计算数据的文件ID
func MediaIDOf(data []byte) string {
	return MediaID(md5.Sum(data), uint32(len(data)))
}

// ParseMediaID 拆出摘要与长度
func ParseMediaID(id string) (sum [md5.Size]byte, size uint32, err error) {
	raw, err := hex.DecodeString(id)
	if err != nil || len(raw) != md5.Size+4 {
		return sum, 0, fmt.Errorf("invalid file id %q", id)
	}
	copy(sum[:], raw[:md5.Size])
	return sum, binary.BigEndian.Uint32(raw[md5.Size:]), nil
}

func mediaKey(id string) string {
	return "media:" + id
}

// Media 媒体记录存储，记录只增不删
type Media struct {
	kv  *Store
	dir string
	mu  sync.Mutex
}

func NewMedia(kv *Store, dataDir string) (*Media, error) {
	dir := filepath.Join(dataDir, "media")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Media{kv: kv, dir: dir}, nil
}

func (m *Media) Get(id string) (*MediaObject, error) {
	raw, err := m.kv.Get(mediaKey(id))
	if err != nil {
		return nil, err
	}
	obj := &MediaObject{}
	if err := json.Unmarshal(raw, obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// Upsert 合并写入，新记录中非空的字段覆盖旧值
func (m *Media) Upsert(obj *MediaObject) (*MediaObject, error) {
	if obj == nil || obj.ID == "" {
		return nil, errors.New("media object without id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	merged := *obj
	old, err := m.Get(obj.ID)
	switch {
	case err == nil:
		merged = *old
		merge(&merged, obj)
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}
	if merged.Size == 0 {
		if _, size, err := ParseMediaID(merged.ID); err == nil {
			merged.Size = size
		}
	}

	raw, err := json.Marshal(&merged)
	if err != nil {
		return nil, err
	}
	if err := m.kv.Put(mediaKey(merged.ID), raw); err != nil {
		return nil, err
	}
	return &merged, nil
}

func merge(dst, src *MediaObject) {
	if src.Kind != "" {
		dst.Kind = src.Kind
	}
	if src.Size != 0 {
		dst.Size = src.Size
	}
	if src.Name != "" {
		dst.Name = src.Name
	}
	if src.FriendRef != "" {
		dst.FriendRef = src.FriendRef
	}
	if src.GroupRef != "" {
		dst.GroupRef = src.GroupRef
	}
	if src.Path != "" {
		dst.Path = src.Path
	}
	if src.URL != "" {
		dst.URL = src.URL
	}
}

// SaveData 缓存数据到本地并登记，相同内容得到相同记录
func (m *Media) SaveData(kind MediaKind, name string, data []byte) (*MediaObject, error) {
	id := MediaIDOf(data)
	path, err := m.writeFile(id, data)
	if err != nil {
		return nil, err
	}
	return m.Upsert(&MediaObject{
		ID:   id,
		Kind: kind,
		Size: uint32(len(data)),
		Name: name,
		Path: path,
	})
}

// SaveFile 将本地文件移入缓存目录并登记，摘要按流计算
func (m *Media) SaveFile(kind MediaKind, name, src string) (*MediaObject, error) {
	f, err := os.Open(src)
	if err != nil {
		return nil, err
	}
	h := md5.New()
	n, err := io.Copy(h, f)
	_ = f.Close()
	if err != nil {
		return nil, err
	}
	if n > math.MaxUint32 {
		return nil, fmt.Errorf("file %s too large", src)
	}
	var sum [md5.Size]byte
	copy(sum[:], h.Sum(nil))
	id := MediaID(sum, uint32(n))

	path := filepath.Join(m.dir, id)
	if _, err := os.Stat(path); err == nil {
		_ = os.Remove(src)
	} else if err := os.Rename(src, path); err != nil {
		return nil, err
	}
	return m.Upsert(&MediaObject{
		ID:   id,
		Kind: kind,
		Size: uint32(n),
		Name: name,
		Path: path,
	})
}

// AttachData 为已登记的记录补充本地缓存。
// 协议端给出的摘要不一定是内容的 md5，因此不校验数据与ID是否一致
func (m *Media) AttachData(id string, data []byte) (*MediaObject, error) {
	path, err := m.writeFile(id, data)
	if err != nil {
		return nil, err
	}
	return m.Upsert(&MediaObject{ID: id, Path: path})
}

func (m *Media) writeFile(id string, data []byte) (string, error) {
	path := filepath.Join(m.dir, id)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, data, 0o644); err != nil {
			return "", err
		}
		if err := os.Rename(tmp, path); err != nil {
			return "", err
		}
	}
	return path, nil
}

// ReadData 读取本地缓存的数据
func (m *Media) ReadData(obj *MediaObject) ([]byte, error) {
	if obj.Path == "" {
		return nil, os.ErrNotExist
	}
	return os.ReadFile(obj.Path)
}

// Dir 本地缓存目录
func (m *Media) Dir() string { return m.dir }
