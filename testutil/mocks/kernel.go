package mocks

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BaSui01/cadflow/mesh"
)

// MockKernel 是 kernel.Kernel 的模拟实现
type MockKernel struct {
	mu      sync.Mutex
	tris    []mesh.Triangle
	err     error
	delay   time.Duration
	block   <-chan struct{}
	sources []string
	calls   atomic.Int32
}

// NewMockKernel 创建返回 20mm 立方体的 MockKernel
func NewMockKernel() *MockKernel {
	return &MockKernel{tris: mesh.Cube(20)}
}

// WithTriangles 设置返回的网格
func (m *MockKernel) WithTriangles(tris []mesh.Triangle) *MockKernel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tris = tris
	return m
}

// WithError 设置返回的错误
func (m *MockKernel) WithError(err error) *MockKernel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithDelay 设置执行延迟
func (m *MockKernel) WithDelay(d time.Duration) *MockKernel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithBlock 让每次执行等待 ch 关闭
func (m *MockKernel) WithBlock(ch <-chan struct{}) *MockKernel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.block = ch
	return m
}

func (m *MockKernel) Name() string { return "mock" }

// Execute 实现 kernel.Kernel
func (m *MockKernel) Execute(ctx context.Context, source string) ([]mesh.Triangle, error) {
	m.calls.Add(1)
	m.mu.Lock()
	m.sources = append(m.sources, source)
	tris, err, delay, block := m.tris, m.err, m.delay, m.block
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return tris, nil
}

// CallCount 返回执行次数
func (m *MockKernel) CallCount() int {
	return int(m.calls.Load())
}

// Sources 返回记录的脚本
func (m *MockKernel) Sources() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sources))
	copy(out, m.sources)
	return out
}
