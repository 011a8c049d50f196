// Package api 定义 cadflow HTTP 接口的请求/响应类型与公共请求头。
//
// 服务端（api/handlers）与客户端（viewer）共享这些类型：
//
//	GET  /ping               存活消息
//	POST /generate-models    {prompt} -> {script, fingerprint, artifact?}
//	POST /generate           {size, fillet}（旧版）-> {script}
//	POST /convert            {code} -> model/stl，X-Mesh-Fingerprint / X-Triangle-Count
//	GET  /render-model       [?key=] -> model/stl
//	GET  /artifacts/events   WebSocket 发布事件
//
// JSON 响应统一使用 {success, data, error, timestamp, request_id} 信封。
package api
