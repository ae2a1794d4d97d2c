package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Success is the body of every 2xx response.
type Success struct {
	Data interface{} `json:"data"`
}

// Failure is the body of every 4xx/5xx response.
type Failure struct {
	Error string `json:"error"`
}

func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Success{Data: data})
}

func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Success{Data: data})
}

func Error(c *gin.Context, status int, message string) {
	c.JSON(status, Failure{Error: message})
}

// Abort writes the failure and stops the handler chain.
func Abort(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, Failure{Error: message})
}

func ParamError(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, message)
}

func Unauthorized(c *gin.Context, message string) {
	Abort(c, http.StatusUnauthorized, message)
}

func Forbidden(c *gin.Context, message string) {
	Abort(c, http.StatusForbidden, message)
}

func ServerError(c *gin.Context) {
	Error(c, http.StatusInternalServerError, "internal server error")
}
