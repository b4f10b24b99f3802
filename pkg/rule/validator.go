// Package rule 封装 go-playground/validator，tag 名为 "rule".
// 与 gin 共用同一个引擎，额外注册文件树相关的校验规则:
//
//	nodename  单段文件名，不含 "/"，不能是 "." 或 ".."
//	filekey   可被 pathkey.Clean 接受的对象 key
package rule

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/yeisme/treevault/pkg/pathkey"
)

const tagName = "rule"

var (
	inst *validator.Validate
	once sync.Once
)

func initValidator() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok && v != nil {
		inst = v
	} else {
		inst = validator.New()
	}

	inst.SetTagName(tagName)
	inst.RegisterTagNameFunc(fieldName)

	_ = inst.RegisterValidation("nodename", validNodeName)
	_ = inst.RegisterValidation("filekey", validFileKey)
}

// fieldName 错误信息里优先用 json / mapstructure 名.
func fieldName(f reflect.StructField) string {
	for _, tag := range []string{"json", "form", "mapstructure"} {
		name, _, _ := strings.Cut(f.Tag.Get(tag), ",")
		if name != "" && name != "-" {
			return name
		}
	}

	return f.Name
}

func validNodeName(fl validator.FieldLevel) bool {
	name := fl.Field().String()
	if name == "" || name == "." || name == ".." {
		return false
	}

	return !strings.ContainsAny(name, "/\x00")
}

func validFileKey(fl validator.FieldLevel) bool {
	_, err := pathkey.Clean(fl.Field().String())
	return err == nil
}

// Engine 返回全局 *validator.Validate.
func Engine() *validator.Validate {
	once.Do(initValidator)
	return inst
}

// RegisterValidation 注册自定义规则.
func RegisterValidation(tag string, fn validator.Func, opts ...bool) error {
	return Engine().RegisterValidation(tag, fn, opts...)
}

// ValidateStruct 校验结构体，错误可用 Errors 展开.
func ValidateStruct(s any) error {
	return Engine().Struct(s)
}

// ValidateVar 按规则校验单个值，例如 ValidateVar(name, "required,nodename").
func ValidateVar(field any, tag string) error {
	return Engine().Var(field, tag)
}

// ValidationErrors 字段名到错误描述.
type ValidationErrors map[string]string

// Errors 把 validator 的错误展开成字段级描述；不是校验错误时返回 nil.
func Errors(err error) ValidationErrors {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return nil
	}

	out := make(ValidationErrors, len(ve))
	for _, fe := range ve {
		msg := fe.Tag()
		if fe.Param() != "" {
			msg = fmt.Sprintf("%s=%s", fe.Tag(), fe.Param())
		}

		// 去掉最外层结构体名
		_, field, ok := strings.Cut(fe.Namespace(), ".")
		if !ok {
			field = fe.Field()
		}

		out[field] = msg
	}

	return out
}

// Error 把字段错误按固定顺序拼成一行.
func (v ValidationErrors) Error() string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}

	slices.Sort(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+v[k])
	}

	return strings.Join(parts, "; ")
}
