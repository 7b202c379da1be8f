package tests

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/zedops/warden/internal/api/http/dto"
)

// TestServerValidation exercises the pre-side-effect rejections: bad names,
// bad ports and offline agents never leave a record behind.
func TestServerValidation(t *testing.T, router *gin.Engine, adminToken, agentID string) {
	t.Run("invalid name rejected", func(t *testing.T) {
		body := dto.CreateServerRequest{
			AgentID:  agentID,
			Name:     "Bad_Name!",
			GamePort: 28015,
			UDPPort:  28016,
			RCONPort: 28017,
		}
		rr := doJSONWithAuth(router, "POST", "/api/v1/servers", body, adminToken)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("offline agent rejected before any side effect", func(t *testing.T) {
		body := dto.CreateServerRequest{
			AgentID:  agentID,
			Name:     "zed1",
			GamePort: 28015,
			UDPPort:  28016,
			RCONPort: 28017,
		}
		rr := doJSONWithAuth(router, "POST", "/api/v1/servers", body, adminToken)
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

		// No record was persisted for the refused creation.
		rr = doJSONWithAuth(router, "GET", "/api/v1/servers?agent_id="+agentID, nil, adminToken)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"servers": null}`, rr.Body.String())
	})

	t.Run("list requires agent_id", func(t *testing.T) {
		rr := doJSONWithAuth(router, "GET", "/api/v1/servers", nil, adminToken)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("unauthenticated request rejected", func(t *testing.T) {
		rr := doJSON(router, "GET", "/api/v1/servers?agent_id="+agentID, nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}
