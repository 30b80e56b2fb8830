package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultPort      = "9100"
	defaultLatencyMs = "50"
	defaultSlowMs    = "15000"
)

type CheckRequest struct {
	Address string            `json:"address"`
	Type    string            `json:"type"`
	Proofs  map[string]string `json:"proofs,omitempty"`
}

type CheckResponse struct {
	Valid            bool              `json:"valid"`
	Record           map[string]string `json:"record,omitempty"`
	Errors           []string          `json:"errors,omitempty"`
	ExpiresInSeconds int               `json:"expiresInSeconds,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

var (
	apiKey    = getEnv("API_KEY", "")
	latencyMs = getEnvInt("LATENCY_MS", defaultLatencyMs)
	slowMs    = getEnvInt("SLOW_MS", defaultSlowMs)
)

// Address suffixes that let local runs steer the verdict. Any other address
// passes every check with a record derived from the address and type.
const (
	suffixUnlinked = "0000"
	suffixSlow     = "5105"
	suffixOutage   = "5000"
)

// shortLived types return a credential lifetime override.
var shortLived = map[string]int{
	"Ens":        7 * 24 * 3600,
	"GuestList":  3600,
	"Discord":    14 * 24 * 3600,
	"TwitterBio": 24 * 3600,
}

func main() {
	port := getEnv("PORT", defaultPort)

	// One process serves every platform: /<platform>/verify.
	http.HandleFunc("/health", handleHealth)
	http.HandleFunc("/", handleCheck)

	log.Printf("Mock provider checks starting on port %s", port)
	log.Printf("Simulated latency: %dms, slow addresses: %dms", latencyMs, slowMs)

	if err := http.ListenAndServe(":"+port, nil); err != nil {
		log.Fatal(err)
	}
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "provider-checks",
	})
}

func handleCheck(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(r.URL.Path, "/verify") {
		sendError(w, "Not found", http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPost {
		sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if apiKey != "" && r.Header.Get("X-API-Key") != apiKey {
		sendError(w, "Invalid API key", http.StatusUnauthorized)
		return
	}

	var req CheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Address == "" || req.Type == "" {
		sendError(w, "address and type are required", http.StatusBadRequest)
		return
	}

	addr := strings.ToLower(req.Address)
	delay := latencyMs
	if strings.HasSuffix(addr, suffixSlow) {
		delay = slowMs
	}
	select {
	case <-time.After(time.Duration(delay) * time.Millisecond):
	case <-r.Context().Done():
		return
	}

	if strings.HasSuffix(addr, suffixOutage) {
		sendError(w, "Upstream platform unavailable", http.StatusServiceUnavailable)
		return
	}

	resp := check(addr, req.Type)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
	log.Printf("%s %s -> valid=%v", req.Type, req.Address, resp.Valid)
}

func check(addr, providerType string) CheckResponse {
	if strings.HasSuffix(addr, suffixUnlinked) {
		return CheckResponse{Errors: []string{"No " + providerType + " account linked to this address"}}
	}
	sum := sha256.Sum256([]byte(addr + "|" + providerType))
	return CheckResponse{
		Valid: true,
		Record: map[string]string{
			"username": "user-" + hex.EncodeToString(sum[:6]),
			"id":       strconv.Itoa(int(sum[6])<<16 | int(sum[7])<<8 | int(sum[8])),
		},
		ExpiresInSeconds: shortLived[providerType],
	}
}

func sendError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(code),
		Message: message,
		Code:    code,
	})
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key, defaultValue string) int {
	value := getEnv(key, defaultValue)
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Fatalf("invalid %s: %v", key, err)
	}
	return n
}
