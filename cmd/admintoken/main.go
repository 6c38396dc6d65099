// Command admintoken prints a bearer token for the admin API signed with the configured secret.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/Proton-105/lesson-notifier/internal/middleware"
	"github.com/Proton-105/lesson-notifier/pkg/config"
)

func main() {
	subject := flag.String("subject", "operator", "token subject, used as the rate limit key")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	cfg, _, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	token, err := middleware.NewAuthenticator(cfg.Admin.JWTSecret, middleware.RoleAdmin).Issue(*subject, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sign token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
}
