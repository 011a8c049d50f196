// =============================================================================
// 🧪 测试辅助函数
// =============================================================================
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/cadflow/mesh"
)

const pollInterval = 5 * time.Millisecond

// TestContext 返回 30 秒后超时的上下文，测试结束时自动取消
func TestContext(t testing.TB) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// AssertEventuallyTrue 轮询直到条件满足；超时记为失败但不中止测试
func AssertEventuallyTrue(t testing.TB, condition func() bool, timeout time.Duration) bool {
	t.Helper()
	return assert.Eventually(t, condition, timeout, pollInterval)
}

// Receive 从通道读取一个值；超时或通道关闭时中止测试
func Receive[T any](t testing.TB, ch <-chan T, timeout time.Duration) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "channel closed")
		return v
	case <-time.After(timeout):
		require.FailNowf(t, "timed out", "nothing received within %v", timeout)
	}
	panic("unreachable")
}

// Closed 等待通道关闭，常用于确认 goroutine 已退出
func Closed(t testing.TB, done <-chan struct{}, timeout time.Duration, what string) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(timeout):
		require.FailNowf(t, "timed out", "%s did not finish within %v", what, timeout)
	}
}

// DecodeMesh 解码二进制 STL 并断言三角形数量
func DecodeMesh(t testing.TB, stl []byte, wantTriangles int) []mesh.Triangle {
	t.Helper()
	tris, err := mesh.Decode(stl)
	require.NoError(t, err)
	require.Len(t, tris, wantTriangles)
	return tris
}
