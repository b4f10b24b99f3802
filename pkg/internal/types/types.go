// Package types 定义 HTTP 接口的请求与响应结构，校验规则使用 rule 标签.
package types

// ErrorResponse 统一错误响应.
type ErrorResponse struct {
	Error  string `json:"error"`
	Code   string `json:"code,omitempty"`
	// Fields 参数校验失败的字段明细
	Fields map[string]string `json:"fields,omitempty"`
}

// PageQuery 分页参数.
type PageQuery struct {
	Page int `form:"page" rule:"omitempty,min=1"`
	Size int `form:"size" rule:"omitempty,min=1,max=200"`
}

// Normalize 补全默认分页.
func (q *PageQuery) Normalize() {
	if q.Page <= 0 {
		q.Page = 1
	}

	if q.Size <= 0 {
		q.Size = 50
	}
}
