package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/pairchat/backend/internal/auth"
	"github.com/zhouzirui/pairchat/backend/internal/config"
)

func main() {
	user := flag.String("user", "", "identity to embed in the token")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	if *user == "" {
		log.Fatal("-user is required")
	}

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load configuration: %v", err)
	}
	if cfg.Auth.Mode != config.AuthModeJWT {
		log.Fatalf("AUTH_MODE is %q, tokens are only used in %q mode", cfg.Auth.Mode, config.AuthModeJWT)
	}

	provider, err := auth.NewJWTProvider(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)
	if err != nil {
		log.Fatal(err)
	}
	token, err := provider.GenerateToken(*user, *ttl)
	if err != nil {
		log.Fatalf("sign token: %v", err)
	}
	fmt.Println(token)
}
