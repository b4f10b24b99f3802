package testutil

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/yeisme/treevault/pkg/internal/storage/s3"
	"github.com/yeisme/treevault/pkg/internal/storage/sandbox"
)

// ErrInjected 注入的对象存储故障.
var ErrInjected = errors.New("testutil: injected failure")

// ObjectStore 内存对象存储，按组织隔离，可按操作和 key 注入失败.
type ObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	fail    map[string]bool
	calls   []string
}

// NewObjectStore 创建空的内存对象存储.
func NewObjectStore() *ObjectStore {
	return &ObjectStore{objects: make(map[string][]byte), fail: make(map[string]bool)}
}

func objectID(org, key string) string { return org + "|" + key }

// Put 直接写入对象，不记录调用.
func (m *ObjectStore) Put(org, key string, body []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.objects[objectID(org, key)] = body
}

// Has 对象是否存在.
func (m *ObjectStore) Has(org, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.objects[objectID(org, key)]

	return ok
}

// Keys 返回组织下排序后的全部 key.
func (m *ObjectStore) Keys(org string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var keys []string

	for id := range m.objects {
		if k, ok := strings.CutPrefix(id, org+"|"); ok {
			keys = append(keys, k)
		}
	}

	slices.Sort(keys)

	return keys
}

// FailOn 让 op 作用于 key 时返回 ErrInjected，op 为方法名，如 "RenameObject".
func (m *ObjectStore) FailOn(op, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.fail[op+"|"+key] = true
}

// Calls 返回调用记录，格式为 "op key".
func (m *ObjectStore) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return slices.Clone(m.calls)
}

func (m *ObjectStore) enter(op, key string) error {
	m.calls = append(m.calls, op+" "+key)
	if m.fail[op+"|"+key] {
		return ErrInjected
	}

	return nil
}

func (m *ObjectStore) CreateFolder(_ context.Context, org, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter("CreateFolder", key); err != nil {
		return err
	}

	m.objects[objectID(org, key)] = nil

	return nil
}

func (m *ObjectStore) CreateObject(_ context.Context, org, key string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter("CreateObject", key); err != nil {
		return err
	}

	m.objects[objectID(org, key)] = slices.Clone(body)

	return nil
}

func (m *ObjectStore) HeadObject(_ context.Context, org, key string) (*s3.ObjectStat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter("HeadObject", key); err != nil {
		return nil, err
	}

	b, ok := m.objects[objectID(org, key)]
	if !ok {
		return nil, s3.ErrObjectNotFound
	}

	return &s3.ObjectStat{Key: key, Size: int64(len(b)), LastModified: time.Now()}, nil
}

func (m *ObjectStore) CopyObject(_ context.Context, srcOrg, srcKey, dstOrg, dstKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter("CopyObject", srcKey); err != nil {
		return err
	}

	b, ok := m.objects[objectID(srcOrg, srcKey)]
	if !ok {
		return s3.ErrObjectNotFound
	}

	m.objects[objectID(dstOrg, dstKey)] = slices.Clone(b)

	return nil
}

func (m *ObjectStore) RenameObject(_ context.Context, org, srcKey, dstKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter("RenameObject", srcKey); err != nil {
		return err
	}

	b, ok := m.objects[objectID(org, srcKey)]
	if !ok {
		return s3.ErrObjectNotFound
	}

	delete(m.objects, objectID(org, srcKey))
	m.objects[objectID(org, dstKey)] = b

	return nil
}

func (m *ObjectStore) DeleteObject(_ context.Context, org, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter("DeleteObject", key); err != nil {
		return err
	}

	delete(m.objects, objectID(org, key))

	return nil
}

// Sandbox 以内存对象存储实现沙箱跨组织复制.
type Sandbox struct {
	Store *ObjectStore

	mu       sync.Mutex
	requests []sandbox.CopyRequest
}

func (s *Sandbox) CopyObject(ctx context.Context, req sandbox.CopyRequest) error {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	return s.Store.CopyObject(ctx, req.SourceOrg, req.SourceKey, req.TargetOrg, req.TargetKey)
}

// Requests 返回收到的复制请求.
func (s *Sandbox) Requests() []sandbox.CopyRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.requests)
}
