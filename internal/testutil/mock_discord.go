package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
)

const (
	// MockBotToken is the bot token the mock server accepts.
	MockBotToken = "mock_bot_token"
	// MockAccessToken is issued by the client-credentials endpoint.
	MockAccessToken = "mock_access_token_123"
	// MockClientID and MockClientSecret authenticate the token endpoint.
	MockClientID     = "mock_client_id"
	MockClientSecret = "mock_client_secret"
)

// MockDiscordServer represents a mock Discord API server for testing.
type MockDiscordServer struct {
	Server *httptest.Server

	// GatewayURL and Shards are returned by /gateway/bot. Set them with
	// SetGatewayBot once the server is serving.
	GatewayURL     string
	Shards         int
	MaxConcurrency int

	mu          sync.Mutex
	users       map[string]map[string]any
	members     map[string]map[string]any // guild/user -> member
	guilds      []map[string]any
	dms         []map[string]any
	rateLimited map[string]int // path -> remaining 429 replies
	calls       map[string]int
	queries     map[string]string
}

// DiscordTokenResponse represents the OAuth token response from Discord.
type DiscordTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Scope       string `json:"scope"`
}

// DiscordErrorResponse is Discord's JSON error body.
type DiscordErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// NewMockDiscordServer creates a new mock Discord API server serving the
// read-only endpoints under /api/v10 and the token endpoint under /api/oauth2.
func NewMockDiscordServer() *MockDiscordServer {
	mds := &MockDiscordServer{
		GatewayURL:     "wss://gateway.example",
		Shards:         1,
		MaxConcurrency: 1,
		users:          make(map[string]map[string]any),
		members:        make(map[string]map[string]any),
		rateLimited:    make(map[string]int),
		calls:          make(map[string]int),
		queries:        make(map[string]string),
	}
	mds.AddUser(map[string]any{"id": "1", "username": "gateway-bot", "bot": true})

	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		mds.record("/oauth2/token")
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		id, secret, ok := r.BasicAuth()
		if !ok {
			id, secret = r.FormValue("client_id"), r.FormValue("client_secret")
		}
		if r.FormValue("grant_type") != "client_credentials" || id != MockClientID || secret != MockClientSecret {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
			return
		}
		writeJSON(w, http.StatusOK, DiscordTokenResponse{
			AccessToken: MockAccessToken,
			TokenType:   "Bearer",
			ExpiresIn:   604800,
			Scope:       r.FormValue("scope"),
		})
	})

	api := http.NewServeMux()
	api.HandleFunc("GET /gateway/bot", func(w http.ResponseWriter, _ *http.Request) {
		mds.mu.Lock()
		defer mds.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{
			"url":    mds.GatewayURL,
			"shards": mds.Shards,
			"session_start_limit": map[string]int{
				"total":           1000,
				"remaining":       999,
				"reset_after":     14400000,
				"max_concurrency": mds.MaxConcurrency,
			},
		})
	})
	api.HandleFunc("GET /users/@me", func(w http.ResponseWriter, _ *http.Request) {
		mds.mu.Lock()
		defer mds.mu.Unlock()
		writeJSON(w, http.StatusOK, mds.users["1"])
	})
	api.HandleFunc("GET /users/@me/guilds", func(w http.ResponseWriter, _ *http.Request) {
		mds.mu.Lock()
		defer mds.mu.Unlock()
		guilds := mds.guilds
		if guilds == nil {
			guilds = []map[string]any{}
		}
		writeJSON(w, http.StatusOK, guilds)
	})
	api.HandleFunc("GET /users/@me/channels", func(w http.ResponseWriter, _ *http.Request) {
		mds.mu.Lock()
		defer mds.mu.Unlock()
		dms := mds.dms
		if dms == nil {
			dms = []map[string]any{}
		}
		writeJSON(w, http.StatusOK, dms)
	})
	api.HandleFunc("GET /users/{id}", func(w http.ResponseWriter, r *http.Request) {
		mds.mu.Lock()
		defer mds.mu.Unlock()
		user, ok := mds.users[r.PathValue("id")]
		if !ok {
			writeJSON(w, http.StatusNotFound, DiscordErrorResponse{Code: 10013, Message: "Unknown User"})
			return
		}
		writeJSON(w, http.StatusOK, user)
	})
	api.HandleFunc("GET /guilds/{guild}/members/{user}", func(w http.ResponseWriter, r *http.Request) {
		mds.mu.Lock()
		defer mds.mu.Unlock()
		member, ok := mds.members[r.PathValue("guild")+"/"+r.PathValue("user")]
		if !ok {
			writeJSON(w, http.StatusNotFound, DiscordErrorResponse{Code: 10007, Message: "Unknown Member"})
			return
		}
		writeJSON(w, http.StatusOK, member)
	})

	mux.Handle("/api/v10/", http.StripPrefix("/api/v10", mds.authenticate(api)))

	mds.Server = httptest.NewServer(mux)
	return mds
}

// authenticate checks the Authorization header, counts the call and serves
// any configured 429s before the real handler.
func (mds *MockDiscordServer) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if auth != "Bot "+MockBotToken && auth != "Bearer "+MockAccessToken {
			writeJSON(w, http.StatusUnauthorized, DiscordErrorResponse{Code: 0, Message: "401: Unauthorized"})
			return
		}
		mds.record(r.URL.Path)
		mds.mu.Lock()
		mds.queries[r.URL.Path] = r.URL.RawQuery
		remaining := mds.rateLimited[r.URL.Path]
		if remaining > 0 {
			mds.rateLimited[r.URL.Path] = remaining - 1
		}
		mds.mu.Unlock()
		if remaining > 0 {
			w.Header().Set("Retry-After", "0.01")
			w.Header().Set("X-RateLimit-Global", "false")
			writeJSON(w, http.StatusTooManyRequests, map[string]any{"message": "You are being rate limited.", "retry_after": 0.01, "global": false})
			return
		}

		w.Header().Set("X-RateLimit-Limit", "5")
		w.Header().Set("X-RateLimit-Remaining", "4")
		w.Header().Set("X-RateLimit-Reset-After", "1")
		next.ServeHTTP(w, r)
	})
}

func (mds *MockDiscordServer) record(path string) {
	mds.mu.Lock()
	mds.calls[path]++
	mds.mu.Unlock()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// AddUser makes a user available to GET /users/{id}. The user map must hold
// an "id" string.
func (mds *MockDiscordServer) AddUser(user map[string]any) {
	mds.mu.Lock()
	defer mds.mu.Unlock()
	mds.users[fmt.Sprint(user["id"])] = user
}

// AddMember makes a member available to GET /guilds/{guild}/members/{user}.
func (mds *MockDiscordServer) AddMember(guildID string, member map[string]any) {
	mds.mu.Lock()
	defer mds.mu.Unlock()
	user, _ := member["user"].(map[string]any)
	mds.members[guildID+"/"+fmt.Sprint(user["id"])] = member
}

// SetGuilds sets the GET /users/@me/guilds response.
func (mds *MockDiscordServer) SetGuilds(guilds ...map[string]any) {
	mds.mu.Lock()
	defer mds.mu.Unlock()
	mds.guilds = guilds
}

// SetDMs sets the GET /users/@me/channels response.
func (mds *MockDiscordServer) SetDMs(channels ...map[string]any) {
	mds.mu.Lock()
	defer mds.mu.Unlock()
	mds.dms = channels
}

// SetGatewayBot sets the GET /gateway/bot response.
func (mds *MockDiscordServer) SetGatewayBot(url string, shards, maxConcurrency int) {
	mds.mu.Lock()
	defer mds.mu.Unlock()
	mds.GatewayURL = url
	mds.Shards = shards
	mds.MaxConcurrency = maxConcurrency
}

// RateLimit answers the next n requests to path with 429.
func (mds *MockDiscordServer) RateLimit(path string, n int) {
	mds.mu.Lock()
	defer mds.mu.Unlock()
	mds.rateLimited[path] = n
}

// Calls returns how often path was requested. API paths are given without
// the /api/v10 prefix.
func (mds *MockDiscordServer) Calls(path string) int {
	mds.mu.Lock()
	defer mds.mu.Unlock()
	return mds.calls[path]
}

// LastQuery returns the raw query of the latest request to path.
func (mds *MockDiscordServer) LastQuery(path string) string {
	mds.mu.Lock()
	defer mds.mu.Unlock()
	return mds.queries[path]
}

// Close closes the mock server.
func (mds *MockDiscordServer) Close() {
	if mds.Server != nil {
		mds.Server.Close()
	}
}

// APIBaseURL is the base URL REST clients should use.
func (mds *MockDiscordServer) APIBaseURL() string {
	return mds.Server.URL + "/api/v10"
}

// GetTokenURL returns the token endpoint URL.
func (mds *MockDiscordServer) GetTokenURL() string {
	return fmt.Sprintf("%s/api/oauth2/token", mds.Server.URL)
}

// ResetCallCounts resets the call counters.
func (mds *MockDiscordServer) ResetCallCounts() {
	mds.mu.Lock()
	defer mds.mu.Unlock()
	mds.calls = make(map[string]int)
}
