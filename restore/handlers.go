package restore

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/restore_backend/utils"
)

type restoreRequest struct {
	Username string `json:"username"`
}

type statusRequest struct {
	ClientId string `json:"client_id"`
}

// Looker resolves a username synchronously.
type Looker interface {
	Lookup(ctx context.Context, username string) (Account, error)
}

// bindBody answers 400 for a body that is not JSON. An empty body binds to
// the zero value so the missing-field message applies.
func bindBody(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "msg": "Invalid request body"})
		return false
	}
	return true
}

func RestoreHandler(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.Ready() {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "msg": "API not initialized. Check server logs."})
			return
		}
		var req restoreRequest
		if !bindBody(c, &req) {
			return
		}
		if strings.TrimSpace(req.Username) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "msg": "Username is required"})
			return
		}

		st, err := m.Submit(req.Username, utils.ClientIP(c.Request, c.ClientIP()))
		if err != nil {
			if errors.Is(err, utils.ErrValidation) {
				c.JSON(http.StatusBadRequest, gin.H{"success": false, "msg": err.Error()})
				return
			}
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "msg": "An error occurred: " + err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success":        true,
			"client_id":      st.Request.ID,
			"position":       st.Position,
			"total_queue":    st.TotalQueue,
			"estimated_time": st.EstimatedTime,
		})
	}
}

func QueueStatusHandler(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req statusRequest
		if !bindBody(c, &req) {
			return
		}
		if strings.TrimSpace(req.ClientId) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "msg": "client_id is required"})
			return
		}

		st, err := m.Status(strings.TrimSpace(req.ClientId))
		if err != nil {
			if errors.Is(err, utils.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"success": false, "msg": "Client ID not found"})
				return
			}
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "msg": "An error occurred: " + err.Error()})
			return
		}

		resp := gin.H{
			"success":        true,
			"status":         st.Request.Status,
			"position":       st.Position,
			"total_queue":    st.TotalQueue,
			"estimated_time": st.EstimatedTime,
		}
		if st.Request.Result != nil {
			resp["result"] = st.Request.Result
		}
		if st.Request.Error != "" {
			resp["error"] = st.Request.Error
		}
		c.JSON(http.StatusOK, resp)
	}
}

func UserInfoHandler(m *Manager, looker Looker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.Ready() {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "msg": "API not initialized. Check server logs."})
			return
		}
		var req restoreRequest
		if !bindBody(c, &req) {
			return
		}
		username := strings.TrimSpace(req.Username)
		if username == "" {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "msg": "Username is required"})
			return
		}

		account, err := looker.Lookup(c.Request.Context(), username)
		if err != nil {
			if errors.Is(err, utils.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"success": false, "msg": "User data not found"})
				return
			}
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "msg": "An error occurred: " + err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"data": gin.H{
				"uid":                 account.Uid,
				"username":            account.Username,
				"first_name":          account.FirstName,
				"last_name":           account.LastName,
				"profile_picture_url": account.ProfilePictureURL,
			},
		})
	}
}

func SummaryHandler(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"service": "restore_backend",
			"queue":   m.Summary(),
		})
	}
}
