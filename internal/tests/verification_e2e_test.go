package tests

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walletgate/server/internal/config"
	"github.com/walletgate/server/internal/interaction"
	"github.com/walletgate/server/internal/model"
)

type initiateResponse struct {
	Success   bool   `json:"success"`
	Challenge string `json:"challenge"`
	ExpiresAt string `json:"expiresAt"`
	Error     string `json:"error"`
}

type completeResponse struct {
	Success      bool   `json:"success"`
	RoleAssigned bool   `json:"roleAssigned"`
	Message      string `json:"message"`
	Error        string `json:"error"`
	Receipt      string `json:"receipt"`
}

func postJSON(t *testing.T, client *http.Client, url string, body interface{}, out interface{}) int {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := client.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()
	text := readBody(resp)
	if out != nil {
		require.NoError(t, json.Unmarshal([]byte(text), out), "body: %s", text)
	}
	return resp.StatusCode
}

func getJSON(t *testing.T, client *http.Client, req *http.Request, out interface{}) int {
	t.Helper()
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	text := readBody(resp)
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.Unmarshal([]byte(text), out), "body: %s", text)
	}
	return resp.StatusCode
}

// TestVerificationE2E runs the initiate/complete flow over HTTP against every store backend.
func TestVerificationE2E(t *testing.T) {
	for _, driver := range []string{config.StoreMemory, config.StoreBolt, config.StorePostgres} {
		t.Run(driver, func(t *testing.T) {
			ts := newTestServer(t, driver)
			baseURL := ts.BaseURL()
			client := ts.Client()

			t.Run("A_Health", func(t *testing.T) {
				resp, err := client.Get(baseURL + "/health")
				require.NoError(t, err)
				defer resp.Body.Close()
				assert.Equal(t, http.StatusOK, resp.StatusCode)
				var body map[string]bool
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
				assert.True(t, body["ok"])
			})

			t.Run("B_FullFlow", func(t *testing.T) {
				ts.AddMember("alice")
				ts.Interactions.Register("alice", interaction.Ref{AppID: "app", Token: "tok"})

				var ini initiateResponse
				code := postJSON(t, client, baseURL+"/api/verify/initiate", map[string]string{"discordId": "alice"}, &ini)
				require.Equal(t, http.StatusOK, code, ini.Error)
				assert.True(t, ini.Success)
				assert.Len(t, ini.Challenge, 64)
				assert.NotEmpty(t, ini.ExpiresAt)

				var done completeResponse
				code = postJSON(t, client, baseURL+"/api/verify/complete",
					map[string]string{"discordId": "alice", "walletAddress": "addr_test1qalice"}, &done)
				require.Equal(t, http.StatusOK, code, done.Error)
				assert.True(t, done.Success)
				assert.True(t, done.RoleAssigned)
				assert.Equal(t, "Verification successful and role assigned!", done.Message)
				require.NotEmpty(t, done.Receipt)
				assert.Equal(t, 1, ts.Notices())

				var rec model.Verification
				req, _ := http.NewRequest(http.MethodGet, baseURL+"/verify/alice", nil)
				require.Equal(t, http.StatusOK, getJSON(t, client, req, &rec))
				assert.True(t, rec.Verified)
				assert.True(t, rec.PrivilegeGranted)
				assert.Equal(t, "addr_test1qalice", rec.WalletAddress)
				require.NotNil(t, rec.VerifiedAt)

				req, _ = http.NewRequest(http.MethodGet, baseURL+"/verify/receipt", nil)
				req.Header.Set("Authorization", "Bearer "+done.Receipt)
				var fromReceipt model.Verification
				require.Equal(t, http.StatusOK, getJSON(t, client, req, &fromReceipt))
				assert.Equal(t, rec.ID, fromReceipt.ID)
			})

			t.Run("C_RoleNotAssigned", func(t *testing.T) {
				var done completeResponse
				postJSON(t, client, baseURL+"/verify/initiate", map[string]string{"externalIdentity": "bob"}, nil)
				code := postJSON(t, client, baseURL+"/verify/complete",
					map[string]string{"externalIdentity": "bob", "walletAddress": "addr_test1qbob"}, &done)
				require.Equal(t, http.StatusOK, code)
				assert.True(t, done.Success)
				assert.False(t, done.RoleAssigned)

				var rec model.Verification
				req, _ := http.NewRequest(http.MethodGet, baseURL+"/verify/bob", nil)
				require.Equal(t, http.StatusOK, getJSON(t, client, req, &rec))
				assert.True(t, rec.Verified)
				assert.False(t, rec.PrivilegeGranted)
			})

			t.Run("D_Reinitiate", func(t *testing.T) {
				var first, second initiateResponse
				postJSON(t, client, baseURL+"/verify/initiate", map[string]string{"externalIdentity": "carol"}, &first)
				postJSON(t, client, baseURL+"/verify/initiate", map[string]string{"externalIdentity": "carol"}, &second)
				assert.NotEqual(t, first.Challenge, second.Challenge)

				var rec model.Verification
				req, _ := http.NewRequest(http.MethodGet, baseURL+"/verify/carol", nil)
				require.Equal(t, http.StatusOK, getJSON(t, client, req, &rec))
				assert.Equal(t, second.Challenge, rec.Challenge)
				assert.False(t, rec.Verified)
			})

			t.Run("E_Errors", func(t *testing.T) {
				var done completeResponse
				code := postJSON(t, client, baseURL+"/verify/complete",
					map[string]string{"externalIdentity": "nobody", "walletAddress": "addr"}, &done)
				assert.Equal(t, http.StatusBadRequest, code)
				assert.Equal(t, "No pending verification found", done.Error)

				req, _ := http.NewRequest(http.MethodGet, baseURL+"/verify/nobody", nil)
				assert.Equal(t, http.StatusNotFound, getJSON(t, client, req, nil))

				code = postJSON(t, client, baseURL+"/verify", map[string]string{"discordId": "alice"}, nil)
				assert.Equal(t, http.StatusBadRequest, code)
			})

			t.Run("F_ConcurrentIdentities", func(t *testing.T) {
				var wg sync.WaitGroup
				for i := 0; i < 10; i++ {
					wg.Add(1)
					go func(i int) {
						defer wg.Done()
						id := fmt.Sprintf("parallel-%d", i)
						raw, _ := json.Marshal(map[string]string{"externalIdentity": id})
						resp, err := client.Post(baseURL+"/verify/initiate", "application/json", bytes.NewReader(raw))
						if err == nil {
							resp.Body.Close()
						}
					}(i)
				}
				wg.Wait()

				for i := 0; i < 10; i++ {
					req, _ := http.NewRequest(http.MethodGet, fmt.Sprintf("%s/verify/parallel-%d", baseURL, i), nil)
					assert.Equal(t, http.StatusOK, getJSON(t, client, req, nil))
				}
			})
		})
	}
}
