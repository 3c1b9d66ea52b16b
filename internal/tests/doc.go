// Package tests 是 flowstate 的内部测试模块。
//
// ⚠️ 重要提示：此包位于 internal/ 目录下，受 Go 编译器保护，
// 外部项目无法导入（会得到编译错误）。
//
// 📋 测试内容
//
// 此模块包含以下测试：
//   - 定义/实例生命周期的集成测试
//   - 条件路由和进度计算测试
//   - 审计历史完整性测试（包括被拒绝的流转）
//   - 多租户隔离测试
//   - 并发流转测试（实例锁 + 乐观锁）
//   - AI标注读写测试
//
// 🚀 运行测试
//
// 在项目根目录：
//
//	cd internal/tests
//	go test ./...
//
// 查看覆盖率：
//
//	go test -coverprofile=coverage.out -coverpkg=github.com/blingmoon/flowstate/workflow ./...
//	go tool cover -html=coverage.out
package tests
