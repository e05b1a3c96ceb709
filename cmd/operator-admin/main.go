package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"dex-trading-bot/config"
	"dex-trading-bot/internal/auth"
	"dex-trading-bot/internal/vault"
	"dex-trading-bot/internal/venue"
)

func main() {
	configPath := flag.String("config", os.Getenv("BOT_CONFIG_FILE"), "path to the bot config file")
	flag.Parse()

	cfg, err := config.Read(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read configuration: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("========================================")
	fmt.Println(" Trading Bot Operator Administration")
	fmt.Println("========================================")

	reader := bufio.NewReader(os.Stdin)

	for {
		fmt.Println("\nOptions:")
		fmt.Println("  1. Issue operator token")
		fmt.Println("  2. Validate operator token")
		fmt.Println("  3. Generate signer seed")
		fmt.Println("  4. Show signer address")
		fmt.Println("  5. Exit")
		fmt.Print("\nSelect option: ")

		input, _ := reader.ReadString('\n')

		switch strings.TrimSpace(input) {
		case "1":
			issueToken(reader, cfg)
		case "2":
			validateToken(reader, cfg)
		case "3":
			generateSeed(reader, cfg)
		case "4":
			showAddress(cfg)
		case "5":
			fmt.Println("Goodbye!")
			return
		default:
			fmt.Println("Invalid option")
		}
	}
}

func jwtManager(cfg *config.Config) (*auth.JWTManager, bool) {
	m, err := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.TokenDuration)
	if err != nil {
		fmt.Printf("Cannot use auth.jwt_secret: %v\n", err)
		return nil, false
	}
	return m, true
}

func issueToken(reader *bufio.Reader, cfg *config.Config) {
	m, ok := jwtManager(cfg)
	if !ok {
		return
	}

	fmt.Println("\n--- Issue Operator Token ---")
	fmt.Print("Operator name: ")
	name, _ := reader.ReadString('\n')
	name = strings.TrimSpace(name)
	if name == "" {
		fmt.Println("Operator name is required")
		return
	}

	fmt.Println("Roles:")
	fmt.Println("  1. Viewer (read-only)")
	fmt.Println("  2. Admin  (can stop, reset and exit)")
	fmt.Print("Select role (1-2): ")
	input, _ := reader.ReadString('\n')

	role := auth.RoleViewer
	if strings.TrimSpace(input) == "2" {
		role = auth.RoleAdmin
	}

	token, err := m.GenerateToken(name, role)
	if err != nil {
		fmt.Printf("Failed to issue token: %v\n", err)
		return
	}

	fmt.Println("\n========================================")
	fmt.Printf("  Operator: %s\n", name)
	fmt.Printf("  Role:     %s\n", role)
	fmt.Printf("  Expires:  %s\n", time.Now().Add(cfg.Auth.TokenDuration).Format(time.RFC3339))
	fmt.Printf("  Token:    %s\n", token)
	fmt.Println("========================================")
}

func validateToken(reader *bufio.Reader, cfg *config.Config) {
	m, ok := jwtManager(cfg)
	if !ok {
		return
	}

	fmt.Print("\nToken: ")
	token, _ := reader.ReadString('\n')

	claims, err := m.ValidateToken(strings.TrimSpace(token))
	if err != nil {
		fmt.Printf("  INVALID: %v\n", err)
		return
	}
	fmt.Printf("  VALID: operator=%s role=%s admin=%t\n", claims.Operator, claims.Role, claims.IsAdmin())
}

func generateSeed(reader *bufio.Reader, cfg *config.Config) {
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		fmt.Printf("Failed to read random bytes: %v\n", err)
		return
	}
	signer, err := venue.NewSigner(seed)
	if err != nil {
		fmt.Printf("Failed to derive signer: %v\n", err)
		return
	}
	encoded := hex.EncodeToString(seed)

	fmt.Printf("\n  Address: %s\n", signer.Address())

	if !cfg.Vault.Enabled {
		fmt.Printf("  Seed:    %s\n", encoded)
		fmt.Println("  Vault is disabled; set BOT_SIGNER_SEED to use this seed.")
		return
	}

	fmt.Printf("Store seed in vault at %s/%s? (y/N): ", cfg.Vault.MountPath, cfg.Vault.SecretPath)
	input, _ := reader.ReadString('\n')
	if !strings.EqualFold(strings.TrimSpace(input), "y") {
		fmt.Println("  Not stored.")
		return
	}

	client, err := vault.NewClient(cfg.Vault)
	if err != nil {
		fmt.Printf("Failed to create vault client: %v\n", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.StoreSignerSeed(ctx, encoded); err != nil {
		fmt.Printf("Failed to store seed: %v\n", err)
		return
	}
	fmt.Println("  Stored.")
}

func showAddress(cfg *config.Config) {
	seed := cfg.Signer.Seed
	if seed == "" && cfg.Vault.Enabled {
		client, err := vault.NewClient(cfg.Vault)
		if err != nil {
			fmt.Printf("Failed to create vault client: %v\n", err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if seed, err = client.LoadSignerSeed(ctx); err != nil {
			fmt.Printf("Failed to load seed: %v\n", err)
			return
		}
	}
	if seed == "" {
		fmt.Println("No signer configured")
		return
	}

	raw, err := venue.ParseSeed(seed)
	if err != nil {
		fmt.Printf("Invalid seed: %v\n", err)
		return
	}
	signer, err := venue.NewSigner(raw)
	if err != nil {
		fmt.Printf("Failed to derive signer: %v\n", err)
		return
	}
	fmt.Printf("\n  Address: %s\n", signer.Address())
}
