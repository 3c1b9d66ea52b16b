package workflow

import "github.com/go-playground/validator/v10"

// validatorUtil 请求参数校验,所有入口方法先过一遍struct tag校验
var validatorUtil = validator.New()
