// Package factory 根据配置构建 llm.Registry：将后端 id 映射到适配器构造函数
// 与静态能力声明，打破 llm 包与各 provider 子包之间的循环依赖。
//
// 构造是惰性的，凭证在首次 Resolve 时才读取，所以缺少凭证只会让
// 对应后端在被尝试时失败，不影响其他后端。
package factory
