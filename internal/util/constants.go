package util

const (
	DateFormat = "2006-01-02"
	TimeFormat = "2006-01-02 15:04:05"
)

const (
	StorageLocal = "local"
	StorageMinio = "minio"
	StorageOSS   = "oss"
)

const (
	MimeHTML = "text/html; charset=utf-8"
)

// 评测报告在对象存储中的前缀
const EvaluationReportPrefix = "evaluations"
