package tests

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zedops/warden/internal/api/http/dto"
)

// TestAgentEnrollment walks the install flow: admin mints a key, the agent
// installer redeems it, the key is single-use, the pending placeholder can be
// cancelled by an admin.
func TestAgentEnrollment(t *testing.T, router *gin.Engine, adminToken string) {
	var keyResp dto.CreateEnrollKeyResponse

	t.Run("admin creates enroll key", func(t *testing.T) {
		body := dto.CreateEnrollKeyRequest{AgentName: "host-alpha"}
		rr := doJSONWithAuth(router, "POST", "/api/v1/agents/enroll-keys", body, adminToken)
		require.Equal(t, http.StatusCreated, rr.Code)

		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &keyResp))
		assert.NotEmpty(t, keyResp.Key)
		assert.Equal(t, "host-alpha", keyResp.AgentName)
	})

	t.Run("non-admin cannot create enroll key", func(t *testing.T) {
		regBody := dto.RegisterRequest{Username: "plainuser", Password: "password123"}
		rr := doJSON(router, "POST", "/api/v1/auth/register", regBody)
		require.Equal(t, http.StatusCreated, rr.Code)
		token := Login(t, router, "plainuser", "password123")

		body := dto.CreateEnrollKeyRequest{AgentName: "host-beta"}
		rr = doJSONWithAuth(router, "POST", "/api/v1/agents/enroll-keys", body, token)
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	var enrolled dto.EnrollResponse

	t.Run("installer redeems key", func(t *testing.T) {
		rr := doJSON(router, "POST", "/agent/enroll", dto.EnrollRequest{Key: keyResp.Key})
		require.Equal(t, http.StatusOK, rr.Code)

		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &enrolled))
		assert.NotEmpty(t, enrolled.AgentID)
		assert.NotEmpty(t, enrolled.AgentKey)
	})

	t.Run("key is single use", func(t *testing.T) {
		rr := doJSON(router, "POST", "/agent/enroll", dto.EnrollRequest{Key: keyResp.Key})
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("unknown key rejected", func(t *testing.T) {
		rr := doJSON(router, "POST", "/agent/enroll", dto.EnrollRequest{Key: "ek_bogus"})
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("pending agent listed", func(t *testing.T) {
		rr := doJSONWithAuth(router, "GET", "/api/v1/agents", nil, adminToken)
		require.Equal(t, http.StatusOK, rr.Code)

		var resp struct {
			Agents []dto.AgentResponse `json:"agents"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))

		found := false
		for _, a := range resp.Agents {
			if a.ID == enrolled.AgentID {
				found = true
				assert.Equal(t, "pending", a.Status)
			}
		}
		assert.True(t, found, "enrolled agent must appear as pending")
	})

	t.Run("admin cancels pending install", func(t *testing.T) {
		rr := doJSONWithAuth(router, "DELETE", "/api/v1/agents/"+enrolled.AgentID+"/pending", nil, adminToken)
		assert.Equal(t, http.StatusNoContent, rr.Code)

		rr = doJSONWithAuth(router, "GET", "/api/v1/agents/"+enrolled.AgentID, nil, adminToken)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}
