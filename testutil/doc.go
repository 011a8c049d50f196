// Copyright (c) CADFlow Authors.
// Licensed under the MIT License.

/*
Package testutil 提供 CADFlow 测试的共享工具和辅助函数。

# 核心能力

  - 上下文: TestContext，测试结束自动取消
  - 异步断言: AssertEventuallyTrue / Receive / Closed
  - 网格: DecodeMesh 解码 STL 并校验三角形数量

# 子包

  - testutil/mocks: MockGenerator（脚本生成器）、MockKernel（几何内核），
    均支持 Builder 模式、延迟与错误注入，并记录调用次数
  - testutil/fixtures: 预置网格与脚本样例（立方体 STL、脚本文本）

# 使用示例

	ctx := testutil.TestContext(t)
	gen := mocks.NewMockGenerator().WithScript(fixtures.CubeScript)
	k := mocks.NewMockKernel().WithTriangles(fixtures.Cube())
*/
package testutil
