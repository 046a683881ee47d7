package httpservice

import (
	"github.com/gin-gonic/gin"

	"github.com/yourorg/go-blob-kit/pkg/config"
	"github.com/yourorg/go-blob-kit/pkg/errors"
)

// BindJSON decodes the request body into req and checks its validate tags.
func BindJSON(c *gin.Context, req interface{}) error {
	if err := c.ShouldBindJSON(req); err != nil {
		return errors.Wrap(errors.ErrorCodeInvalidArgument, "invalid JSON body", err)
	}
	return config.ValidateStruct(req)
}

// BindQuery decodes query parameters into req and checks its validate tags.
func BindQuery(c *gin.Context, req interface{}) error {
	if err := c.ShouldBindQuery(req); err != nil {
		return errors.Wrap(errors.ErrorCodeInvalidArgument, "invalid query parameters", err)
	}
	return config.ValidateStruct(req)
}

// BindURI decodes path parameters into req and checks its validate tags.
func BindURI(c *gin.Context, req interface{}) error {
	if err := c.ShouldBindUri(req); err != nil {
		return errors.Wrap(errors.ErrorCodeInvalidArgument, "invalid path parameters", err)
	}
	return config.ValidateStruct(req)
}
