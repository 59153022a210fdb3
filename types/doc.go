// Copyright (c) CookGraph Authors.
// Licensed under the MIT License.

/*
Package types 提供 CookGraph 检索引擎的全局共享类型定义。

# 概述

types 是引擎最底层的公共包，不依赖任何内部包，为 graph、rag、llm 等
上层模块提供统一的错误契约，避免循环依赖。

# 错误语义

  - Error      — 结构化错误（Code + Message + Retryable + Cause），
    支持 errors.Is / errors.As 解包。
  - ErrorCode  — 统一错误码：CONNECTION（后端不可达，降级检索路径）、
    NOT_FOUND（跳过并继续）、CONFIGURATION（初始化致命）、
    GENERATION（重试耗尽后的生成失败）、NOT_READY、TIMEOUT。

索引期的单条坏记录只记警告不中断构建；初始化期缺少必需依赖
（API Key、向量维度）必须以 CONFIGURATION 错误向上传播并终止启动。
*/
package types
