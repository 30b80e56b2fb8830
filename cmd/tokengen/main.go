// Package main provides a CLI tool for local development: it mints scorer
// access tokens, generates the Ed25519 JWKs the service is configured with and
// signs challenge texts with a throwaway wallet.
// Tokens use whatever secret is passed and are only as good as that secret.
package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"iam/internal/credential/signer"
	"iam/internal/credential/wallet"
	jwttoken "iam/internal/jwt_token"
)

const (
	// Dev secret - use the same value for SCORER_JWT_SECRET locally.
	devSecret = "dev-scorer-secret-change-in-production"

	defaultTokenTTL = 15 * time.Minute
)

type tokenOutput struct {
	Token     string            `json:"token"`
	Address   string            `json:"address"`
	ExpiresIn string            `json:"expires_in"`
	Usage     map[string]string `json:"usage"`
}

func main() {
	tokenCmd := flag.NewFlagSet("token", flag.ExitOnError)
	address := tokenCmd.String("address", "", "Wallet address (0x...)")
	secret := tokenCmd.String("secret", devSecret, "HS256 secret shared with the service (SCORER_JWT_SECRET)")
	issuer := tokenCmd.String("issuer", "", "iss claim (SCORER_JWT_ISSUER)")
	ttl := tokenCmd.Duration("ttl", defaultTokenTTL, "Token time-to-live")
	asJSON := tokenCmd.Bool("json", false, "Output as JSON")

	keyCmd := flag.NewFlagSet("jwk", flag.ExitOnError)

	walletCmd := flag.NewFlagSet("wallet", flag.ExitOnError)

	signCmd := flag.NewFlagSet("sign", flag.ExitOnError)
	signKey := signCmd.String("key", "", "Hex wallet private key (from tokengen wallet)")
	message := signCmd.String("message", "", "Challenge text (credentialSubject.challenge)")

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "token":
		_ = tokenCmd.Parse(os.Args[2:]) //nolint:errcheck // ExitOnError
		if *address == "" {
			fmt.Fprintln(os.Stderr, "-address is required")
			os.Exit(1)
		}
		svc := jwttoken.NewJWTService(*secret, *ttl, jwttoken.WithIssuer(*issuer))
		token, err := svc.GenerateAccessToken(*address)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to generate token: %v\n", err)
			os.Exit(1)
		}
		if !*asJSON {
			fmt.Println(token)
			return
		}
		printJSON(tokenOutput{
			Token:     token,
			Address:   *address,
			ExpiresIn: ttl.String(),
			Usage: map[string]string{
				"curl": fmt.Sprintf("curl -H 'Authorization: Bearer %s' -d '{\"payload\":{...}}' http://localhost:8080/api/v0.0.0/verify", token),
			},
		})
	case "jwk":
		_ = keyCmd.Parse(os.Args[2:]) //nolint:errcheck // ExitOnError
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to generate key: %v\n", err)
			os.Exit(1)
		}
		jwk := signer.EncodeEd25519JWK(priv)
		printJSON(map[string]string{
			"jwk": jwk,
			"did": signer.DIDFromPublicKey(priv.Public().(ed25519.PublicKey)),
		})
	case "wallet":
		_ = walletCmd.Parse(os.Args[2:]) //nolint:errcheck // ExitOnError
		key, err := wallet.GenerateKey()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to generate wallet: %v\n", err)
			os.Exit(1)
		}
		printJSON(map[string]string{
			"key":     wallet.EncodeKey(key),
			"address": wallet.Address(&key.PublicKey),
		})
	case "sign":
		_ = signCmd.Parse(os.Args[2:]) //nolint:errcheck // ExitOnError
		if *signKey == "" || *message == "" {
			fmt.Fprintln(os.Stderr, "-key and -message are required")
			os.Exit(1)
		}
		key, err := wallet.ParseKey(*signKey)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		sig, err := wallet.Sign(key, *message)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(sig)
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: tokengen <token|jwk|wallet|sign> [flags]")
	fmt.Fprintln(os.Stderr, "  token -address 0x... [-secret s] [-issuer i] [-ttl 15m] [-json]")
	fmt.Fprintln(os.Stderr, "  jwk   generate an Ed25519 JWK for IAM_JWK or OPRF_CLIENT_KEY")
	fmt.Fprintln(os.Stderr, "  wallet  generate a throwaway wallet key and address")
	fmt.Fprintln(os.Stderr, "  sign  -key 0x... -message '...'  personal_sign a challenge text for signedChallenge")
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode output: %v\n", err)
		os.Exit(1)
	}
}
