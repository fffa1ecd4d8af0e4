package pondstest

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/farmops/pondsync/pkg/farmapi"
)

// FakeToken is the bearer token issued by Handler.
const FakeToken = "fake-token"

// Handler serves the account over the FarmBot HTTP API so that a real
// farmapi.Client can be pointed at it. Any email and password are accepted.
func (f *FakeRemote) Handler() http.Handler {
	r := gin.New()
	r.POST("/api/tokens", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"token": gin.H{
				"encoded":   FakeToken,
				"unencoded": gin.H{"bot": "device_1"},
			},
		})
	})

	api := r.Group("/api", func(c *gin.Context) {
		if c.GetHeader("Authorization") != "Bearer "+FakeToken {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"auth": "bad token"})
		}
	})

	api.GET("/points", func(c *gin.Context) {
		respond(c, http.StatusOK)(f.ListPoints(c.Request.Context()))
	})
	api.GET("/points/:id", withID(func(c *gin.Context, id int64) {
		respond(c, http.StatusOK)(f.GetPoint(c.Request.Context(), id))
	}))
	api.POST("/points", func(c *gin.Context) {
		var p farmapi.Point
		if !bind(c, &p) {
			return
		}
		respond(c, http.StatusOK)(f.CreatePoint(c.Request.Context(), p))
	})
	api.PATCH("/points/:id", withID(func(c *gin.Context, id int64) {
		var patch farmapi.PointPatch
		if !bind(c, &patch) {
			return
		}
		respond(c, http.StatusOK)(f.PatchPoint(c.Request.Context(), id, patch))
	}))
	api.DELETE("/points/:id", withID(func(c *gin.Context, id int64) {
		respond(c, http.StatusOK)(gin.H{}, f.DeletePoint(c.Request.Context(), id))
	}))

	api.GET("/sequences", func(c *gin.Context) {
		respond(c, http.StatusOK)(f.ListSequences(c.Request.Context()))
	})
	api.GET("/sequences/:id", withID(func(c *gin.Context, id int64) {
		respond(c, http.StatusOK)(f.GetSequence(c.Request.Context(), id))
	}))
	api.POST("/sequences", func(c *gin.Context) {
		var s farmapi.Sequence
		if !bind(c, &s) {
			return
		}
		respond(c, http.StatusOK)(f.CreateSequence(c.Request.Context(), s))
	})
	api.PATCH("/sequences/:id", withID(func(c *gin.Context, id int64) {
		var patch farmapi.SequencePatch
		if !bind(c, &patch) {
			return
		}
		respond(c, http.StatusOK)(f.PatchSequence(c.Request.Context(), id, patch))
	}))
	api.DELETE("/sequences/:id", withID(func(c *gin.Context, id int64) {
		respond(c, http.StatusOK)(gin.H{}, f.DeleteSequence(c.Request.Context(), id))
	}))

	return r
}

func withID(h func(c *gin.Context, id int64)) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		h(c, id)
	}
}

func bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return false
	}
	return true
}

// respond writes the result of a FakeRemote call, mapping an APIError to
// its status and body.
func respond(c *gin.Context, status int) func(v any, err error) {
	return func(v any, err error) {
		if err == nil {
			c.JSON(status, v)
			return
		}
		var apiErr *farmapi.APIError
		if errors.As(err, &apiErr) {
			body := strings.TrimSpace(apiErr.Body)
			if body == "" {
				body = `{"error":"failed"}`
			}
			c.Data(apiErr.StatusCode, "application/json", []byte(body))
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
