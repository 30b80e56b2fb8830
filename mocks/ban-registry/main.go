package main

import (
	"crypto/sha256"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultPort      = "8082"
	defaultAPIKey    = "ban-registry-secret-key"
	defaultLatencyMs = "20"
)

type CheckItem struct {
	CredentialSubject struct {
		Hash     string `json:"hash"`
		Provider string `json:"provider"`
		ID       string `json:"id"`
	} `json:"credentialSubject"`
}

type Ban struct {
	Hash     string `json:"hash"`
	IsBanned bool   `json:"is_banned"`
	EndTime  string `json:"end_time,omitempty"`
	BanType  string `json:"ban_type,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

var (
	apiKey    = getEnv("API_KEY", defaultAPIKey)
	latencyMs = getEnvInt("LATENCY_MS", defaultLatencyMs)
	// DROP_HASHES=1 omits verdicts so the service's integrity check can be exercised.
	dropHashes = getEnv("DROP_HASHES", "") == "1"
)

// bannedProviders are banned for every holder. Lets local runs exercise the
// ban path without knowing credential hashes up front.
var bannedProviders = map[string]Ban{
	"BannedProvider": {BanType: "single_stamp", Reason: "Mock ban"},
	"TimedBan":       {BanType: "single_stamp", EndTime: "2999-01-01T00:00:00Z"},
}

// bannedAddressMarker bans every credential of addresses ending in it.
const bannedAddressMarker = "dead"

func main() {
	port := getEnv("PORT", defaultPort)

	http.HandleFunc("/health", handleHealth)
	http.HandleFunc("/internal/check-bans", handleCheckBans)

	log.Printf("Mock ban registry starting on port %s", port)
	log.Printf("Simulated latency: %dms", latencyMs)

	if err := http.ListenAndServe(":"+port, nil); err != nil {
		log.Fatal(err)
	}
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "ban-registry",
	})
}

func handleCheckBans(w http.ResponseWriter, r *http.Request) {
	time.Sleep(time.Duration(latencyMs) * time.Millisecond)

	if r.Method != http.MethodPost {
		sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// The scorer expects the raw key, not a bearer token.
	if r.Header.Get("Authorization") != apiKey {
		sendError(w, "Invalid API key", http.StatusUnauthorized)
		return
	}

	var items []CheckItem
	if err := json.NewDecoder(r.Body).Decode(&items); err != nil {
		sendError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	out := make([]Ban, 0, len(items))
	for i, item := range items {
		if dropHashes && i == len(items)-1 {
			continue
		}
		out = append(out, verdict(item))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(out)
	log.Printf("Checked %d credential keys", len(items))
}

func verdict(item CheckItem) Ban {
	s := item.CredentialSubject
	if b, ok := bannedProviders[s.Provider]; ok {
		b.Hash = s.Hash
		b.IsBanned = true
		return b
	}
	if strings.HasSuffix(strings.ToLower(s.ID), bannedAddressMarker) {
		return Ban{Hash: s.Hash, IsBanned: true, BanType: "account", Reason: "Mock account ban"}
	}
	// A small deterministic share of hashes is banned so load tests see both paths.
	sum := sha256.Sum256([]byte(s.Hash))
	if sum[0] == 0 {
		return Ban{Hash: s.Hash, IsBanned: true, BanType: "hash"}
	}
	return Ban{Hash: s.Hash}
}

func sendError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(code),
		Message: message,
		Code:    code,
	})
	log.Printf("Error response: %d - %s", code, message)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key, defaultValue string) int {
	value := getEnv(key, defaultValue)
	intValue, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Invalid integer value for %s, using default: %s", key, defaultValue)
		intValue, _ = strconv.Atoi(defaultValue)
	}
	return intValue
}
