// Package mocks 提供脚本生成器与几何内核的测试模拟实现。
//
// 支持固定响应、延迟、阻塞与错误注入场景。
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/cadflow/script"
)

// MockGenerator 是 scriptgen.Generator 的模拟实现
type MockGenerator struct {
	mu       sync.Mutex
	name     string
	source   string
	err      error
	delay    time.Duration
	fn       func(ctx context.Context, req script.PromptRequest) (*script.GeneratedScript, error)
	requests []script.PromptRequest
}

// NewMockGenerator 创建新的 MockGenerator
func NewMockGenerator() *MockGenerator {
	return &MockGenerator{name: "mock", source: "cube(20);"}
}

// WithScript 设置返回的脚本
func (m *MockGenerator) WithScript(source string) *MockGenerator {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.source = source
	return m
}

// WithError 设置返回的错误
func (m *MockGenerator) WithError(err error) *MockGenerator {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithDelay 设置响应延迟
func (m *MockGenerator) WithDelay(d time.Duration) *MockGenerator {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithGenerateFunc 设置自定义生成函数
func (m *MockGenerator) WithGenerateFunc(fn func(ctx context.Context, req script.PromptRequest) (*script.GeneratedScript, error)) *MockGenerator {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fn = fn
	return m
}

func (m *MockGenerator) Name() string { return m.name }

// Generate 实现 scriptgen.Generator
func (m *MockGenerator) Generate(ctx context.Context, req script.PromptRequest) (*script.GeneratedScript, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	fn, source, err, delay := m.fn, m.source, m.err, m.delay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	return script.New(source), nil
}

// Requests 返回记录的请求
func (m *MockGenerator) Requests() []script.PromptRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]script.PromptRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// CallCount 返回调用次数
func (m *MockGenerator) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}
